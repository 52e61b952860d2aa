package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Broker выбирает провайдера по настройкам запроса и сохраняет результат сессии в заказе.
type Broker struct {
	providers map[domain.PaymentProvider]Provider
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	timeline  domain.TimelineRepository
	metrics   *metrics.CheckoutMetrics
	logger    *log.Entry
	now       func() time.Time
}

// NewBroker создаёт брокер. Провайдеры без учётных данных просто не передаются.
func NewBroker(
	orders domain.OrderRepository,
	customers domain.CustomerRepository,
	timeline domain.TimelineRepository,
	m *metrics.CheckoutMetrics,
	logger *log.Entry,
	providers ...Provider,
) *Broker {
	if logger == nil {
		logger = log.WithField("component", "payment-broker")
	}

	registry := make(map[domain.PaymentProvider]Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		registry[p.Name()] = p
	}

	return &Broker{
		providers: registry,
		orders:    orders,
		customers: customers,
		timeline:  timeline,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateSession создаёт новую сессию у выбранного провайдера.
func (b *Broker) CreateSession(ctx context.Context, settings Settings, req SessionRequest) (domain.PaymentSession, error) {
	provider, err := b.provider(settings)
	if err != nil {
		b.metrics.RecordPaymentSession(string(settings.Provider), "not_configured")
		return domain.PaymentSession{}, err
	}

	session, err := provider.CreateSession(ctx, req)
	if err != nil {
		b.metrics.RecordPaymentSession(string(provider.Name()), "error")
		b.logger.WithError(err).WithFields(log.Fields{
			"order_id": req.Order.ID,
			"provider": provider.Name(),
		}).Error("payment session failed")
		return domain.PaymentSession{}, fmt.Errorf("%w: %v", domain.ErrPaymentSession, err)
	}
	if errs := session.Validate(); len(errs) > 0 {
		b.metrics.RecordPaymentSession(string(provider.Name()), "error")
		return domain.PaymentSession{}, errors.Join(errs...)
	}

	if err := b.persist(ctx, req, session); err != nil {
		b.metrics.RecordPaymentSession(string(provider.Name()), "error")
		return domain.PaymentSession{}, err
	}

	b.metrics.RecordPaymentSession(string(provider.Name()), "created")
	b.logger.WithFields(log.Fields{
		"order_id":   req.Order.ID,
		"provider":   provider.Name(),
		"session_id": session.SessionID,
	}).Info("payment session created")

	return session, nil
}

// Retry возвращает открытую сессию, если провайдер это умеет, иначе создаёт новую.
func (b *Broker) Retry(ctx context.Context, settings Settings, req SessionRequest) (domain.PaymentSession, error) {
	provider, err := b.provider(settings)
	if err != nil {
		b.metrics.RecordPaymentSession(string(settings.Provider), "not_configured")
		return domain.PaymentSession{}, err
	}

	if reuser, ok := provider.(SessionReuser); ok && req.Order.Details.StripeSessionID != "" {
		session, open, err := reuser.ReuseSession(ctx, req.Order.Details.StripeSessionID)
		switch {
		case err != nil:
			b.logger.WithError(err).WithField("order_id", req.Order.ID).Warn("stored session lookup failed, creating a new one")
		case open:
			b.metrics.RecordPaymentSession(string(provider.Name()), "reused")
			return session, nil
		}
	}

	return b.CreateSession(ctx, settings, req)
}

func (b *Broker) provider(settings Settings) (Provider, error) {
	if !settings.Provider.Valid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrPaymentProviderUnknown, settings.Provider)
	}
	provider, ok := b.providers[settings.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrPaymentProviderNotConfigured, settings.Provider)
	}
	return provider, nil
}

func (b *Broker) persist(ctx context.Context, req SessionRequest, session domain.PaymentSession) error {
	if session.SessionID != "" && session.SessionID != req.Order.Details.StripeSessionID {
		sessionID := session.SessionID
		if _, _, err := b.orders.Update(ctx, req.Order.ID, domain.OrderDetailsPatch{StripeSessionID: &sessionID}); err != nil {
			return fmt.Errorf("store session id: %w", err)
		}
	}

	// Ссылка на клиента провайдера вторична: ошибка только логируется.
	if req.Customer != nil && session.ProviderCustomerID != "" && session.ProviderCustomerID != req.Customer.StripeCustomerID {
		if err := b.customers.SetStripeCustomerID(ctx, req.Customer.ID, session.ProviderCustomerID); err != nil {
			b.logger.WithError(err).WithField("customer_id", req.Customer.ID).Warn("failed to store provider customer id")
		}
	}

	if b.timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  req.Order.ID,
			Type:     domain.TimelinePaymentSession,
			Status:   req.Order.Details.Status,
			Reason:   string(session.Provider),
			Occurred: b.now().UTC(),
		}
		if err := b.timeline.Append(ctx, event); err != nil {
			b.logger.WithError(err).WithField("order_id", req.Order.ID).Warn("failed to append timeline event")
		} else {
			b.metrics.RecordTimelineEvent()
		}
	}

	return nil
}
