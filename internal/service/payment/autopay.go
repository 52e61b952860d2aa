package payment

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultAutopayEndpoint = "https://pay.autopay.eu/payment"

// AutopayConfig: учётные данные сервиса Autopay.
type AutopayConfig struct {
	ServiceID string
	HashKey   string
	Endpoint  string
}

// AutopayProvider строит подписанную ссылку на платёжный шлюз Autopay.
// Сессия у провайдера не хранится, поэтому повторная оплата всегда строит новую ссылку.
type AutopayProvider struct {
	serviceID string
	hashKey   string
	endpoint  string
}

var _ Provider = (*AutopayProvider)(nil)

// NewAutopayProvider проверяет конфигурацию и создаёт провайдера.
func NewAutopayProvider(cfg AutopayConfig) (*AutopayProvider, error) {
	if strings.TrimSpace(cfg.ServiceID) == "" || strings.TrimSpace(cfg.HashKey) == "" {
		return nil, fmt.Errorf("autopay: %w", domain.ErrPaymentProviderNotConfigured)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		endpoint = defaultAutopayEndpoint
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("autopay: endpoint: %w", err)
	}

	return &AutopayProvider{
		serviceID: strings.TrimSpace(cfg.ServiceID),
		hashKey:   cfg.HashKey,
		endpoint:  endpoint,
	}, nil
}

// Name возвращает идентификатор провайдера.
func (p *AutopayProvider) Name() domain.PaymentProvider {
	return domain.PaymentProviderAutopay
}

// CreateSession возвращает ссылку с суммой к оплате (товары + доставка).
func (p *AutopayProvider) CreateSession(_ context.Context, req SessionRequest) (domain.PaymentSession, error) {
	order := req.Order
	amount := order.Details.TotalWithShipping.StringFixed(2)
	currency := strings.ToUpper(order.Details.Currency)
	email := order.ShippingAddress.Email

	// Порядок полей хеша фиксирован протоколом шлюза.
	fields := []string{p.serviceID, order.ID, amount, currency}
	if email != "" {
		fields = append(fields, email)
	}

	q := url.Values{}
	q.Set("ServiceID", p.serviceID)
	q.Set("OrderID", order.ID)
	q.Set("Amount", amount)
	q.Set("Currency", currency)
	if email != "" {
		q.Set("CustomerEmail", email)
	}
	q.Set("Hash", p.hash(fields))

	return domain.PaymentSession{
		Provider: domain.PaymentProviderAutopay,
		URL:      p.endpoint + "?" + q.Encode(),
	}, nil
}

func (p *AutopayProvider) hash(fields []string) string {
	sum := sha256.Sum256([]byte(strings.Join(append(fields, p.hashKey), "|")))
	return hex.EncodeToString(sum[:])
}
