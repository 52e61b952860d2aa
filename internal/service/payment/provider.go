// Package payment создаёт редирект-сессии у платёжных провайдеров магазина.
package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// LineItem: строка, передаваемая провайдеру для отображения на странице оплаты.
type LineItem struct {
	Name        string
	Description string
	ImageURL    string
	Quantity    int64
	UnitPrice   decimal.Decimal
}

// SessionRequest: всё, что нужно провайдеру для создания сессии.
type SessionRequest struct {
	Order         domain.Order
	Items         []LineItem
	ShippingLabel string
	// Customer: авторизованный покупатель; nil для гостя.
	Customer *domain.Customer
}

// Provider создаёт платёжную сессию у конкретного провайдера.
type Provider interface {
	Name() domain.PaymentProvider
	CreateSession(ctx context.Context, req SessionRequest) (domain.PaymentSession, error)
}

// SessionReuser реализуется провайдерами, которые умеют вернуть ещё открытую сессию.
type SessionReuser interface {
	// ReuseSession возвращает сессию и true, если она ещё открыта и имеет URL.
	ReuseSession(ctx context.Context, sessionID string) (domain.PaymentSession, bool, error)
}

// Settings: платёжные настройки магазина, прочитанные один раз на запрос.
type Settings struct {
	Provider domain.PaymentProvider
}

// SettingsSource отдаёт актуальные платёжные настройки.
type SettingsSource interface {
	Current(ctx context.Context) (Settings, error)
}

// StaticSettings: настройки, заданные конфигурацией процесса.
type StaticSettings struct {
	Provider string
}

// Current разбирает настроенный провайдер.
func (s StaticSettings) Current(context.Context) (Settings, error) {
	provider, err := domain.ParsePaymentProvider(s.Provider)
	if err != nil {
		return Settings{}, fmt.Errorf("paywall %q: %w", s.Provider, err)
	}
	return Settings{Provider: provider}, nil
}

// MinorUnits переводит сумму в минимальные единицы валюты (центы, геллеры).
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits: обратное преобразование для сумм из вебхуков.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// OrderURL строит ссылку на страницу заказа с секретом доступа.
func OrderURL(serverURL, locale, orderID, secret string) string {
	base := fmt.Sprintf("%s/%s/order/%s", strings.TrimRight(serverURL, "/"), url.PathEscape(locale), url.PathEscape(orderID))
	if secret == "" {
		return base
	}
	return base + "?x=" + url.QueryEscape(secret)
}
