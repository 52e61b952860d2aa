package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// MockProvider: конфигурируемая заглушка Provider для тестов и локального запуска.
type MockProvider struct {
	mu sync.Mutex

	ProviderName domain.PaymentProvider
	// BaseURL: адрес, к которому добавляется ID заказа.
	BaseURL   string
	SessionID string
	Err       error
	// Open управляет результатом ReuseSession.
	Open     bool
	ReuseErr error

	Requests    []SessionRequest
	CreateCalls int
	ReuseCalls  int
}

// NewMockProvider возвращает mock с успешным сценарием по умолчанию.
func NewMockProvider(name domain.PaymentProvider) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		BaseURL:      "https://pay.example.test/" + string(name),
	}
}

// Name возвращает настроенный идентификатор провайдера.
func (m *MockProvider) Name() domain.PaymentProvider {
	return m.ProviderName
}

// CreateSession запоминает запрос и возвращает заранее настроенный результат.
func (m *MockProvider) CreateSession(_ context.Context, req SessionRequest) (domain.PaymentSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls++
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return domain.PaymentSession{}, m.Err
	}

	session := domain.PaymentSession{
		Provider: m.ProviderName,
		URL:      fmt.Sprintf("%s/%s", m.BaseURL, req.Order.ID),
	}
	if m.SessionID != "" {
		session.SessionID = fmt.Sprintf("%s_%d", m.SessionID, m.CreateCalls)
	}
	return session, nil
}

// ReuseSession возвращает сохранённую сессию, если Open установлен.
func (m *MockProvider) ReuseSession(_ context.Context, sessionID string) (domain.PaymentSession, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ReuseCalls++
	if m.ReuseErr != nil {
		return domain.PaymentSession{}, false, m.ReuseErr
	}
	if !m.Open {
		return domain.PaymentSession{}, false, nil
	}
	return domain.PaymentSession{
		Provider:  m.ProviderName,
		URL:       fmt.Sprintf("%s/reuse/%s", m.BaseURL, sessionID),
		SessionID: sessionID,
	}, true, nil
}

var (
	_ Provider      = (*MockProvider)(nil)
	_ SessionReuser = (*MockProvider)(nil)
)
