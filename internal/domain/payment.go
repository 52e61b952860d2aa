package domain

import "strings"

// PaymentProvider: платёжный провайдер магазина.
type PaymentProvider string

const (
	PaymentProviderStripe  PaymentProvider = "stripe"
	PaymentProviderAutopay PaymentProvider = "autopay"
	PaymentProviderP24     PaymentProvider = "p24"
)

// ParsePaymentProvider нормализует строковое значение настройки paywall.
func ParsePaymentProvider(raw string) (PaymentProvider, error) {
	p := PaymentProvider(strings.ToLower(strings.TrimSpace(raw)))
	if !p.Valid() {
		return "", ErrPaymentProviderUnknown
	}
	return p, nil
}

// Valid проверяет, что провайдер поддерживается.
func (p PaymentProvider) Valid() bool {
	switch p {
	case PaymentProviderStripe, PaymentProviderAutopay, PaymentProviderP24:
		return true
	default:
		return false
	}
}

// PaymentSession: результат создания редирект-сессии у провайдера.
type PaymentSession struct {
	Provider PaymentProvider
	URL      string
	// SessionID заполняется только провайдерами, поддерживающими переиспользование сессии.
	SessionID string
	// ProviderCustomerID: клиент, созданный у провайдера для авторизованного покупателя.
	ProviderCustomerID string
}

// Validate проверяет, что сессия пригодна для редиректа.
func (s *PaymentSession) Validate() []error {
	var errs []error

	if !s.Provider.Valid() {
		errs = append(errs, ErrPaymentProviderUnknown)
	}
	if s.URL == "" {
		errs = append(errs, ErrPaymentSession)
	}

	return errs
}
