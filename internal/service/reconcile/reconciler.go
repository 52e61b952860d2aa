// Package reconcile применяет асинхронные события платёжного провайдера и
// административные изменения к статусу заказа.
package reconcile

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
)

// Reconciler переводит заказ между статусами. Обновление просто перезаписывает поля,
// поэтому повторная доставка одного события даёт тот же результат.
type Reconciler struct {
	orders        domain.OrderRepository
	customers     domain.CustomerRepository
	timeline      domain.TimelineRepository
	outbox        domain.OutboxRepository
	metrics       *metrics.CheckoutMetrics
	logger        *log.Entry
	webhookSecret string
	now           func() time.Time
}

// Option настраивает Reconciler.
type Option func(*Reconciler)

// WithWebhookSecret задаёт секрет подписи вебхуков Stripe.
func WithWebhookSecret(secret string) Option {
	return func(r *Reconciler) {
		r.webhookSecret = secret
	}
}

// WithOutbox включает публикацию order.status_changed.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(r *Reconciler) {
		r.outbox = outbox
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) {
		if now != nil {
			r.now = now
		}
	}
}

// New создаёт Reconciler.
func New(
	orders domain.OrderRepository,
	customers domain.CustomerRepository,
	timeline domain.TimelineRepository,
	m *metrics.CheckoutMetrics,
	logger *log.Entry,
	opts ...Option,
) *Reconciler {
	if logger == nil {
		logger = log.WithField("component", "reconciler")
	}
	r := &Reconciler{
		orders:    orders,
		customers: customers,
		timeline:  timeline,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Transition применяет патч к заказу. При смене статуса пишет событие в таймлайн
// и ставит order.status_changed в outbox.
func (r *Reconciler) Transition(ctx context.Context, orderID string, patch domain.OrderDetailsPatch, reason string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return domain.Order{}, fmt.Errorf("%w: %q", domain.ErrOrderStatusInvalid, *patch.Status)
	}

	before, after, err := r.orders.Update(ctx, orderID, patch)
	if err != nil {
		return domain.Order{}, err
	}

	if before.Details.Status == after.Details.Status {
		return after, nil
	}

	r.metrics.RecordStatusTransition(string(after.Details.Status))
	r.logger.WithFields(log.Fields{
		"order_id": orderID,
		"from":     before.Details.Status,
		"to":       after.Details.Status,
		"reason":   reason,
	}).Info("order status changed")

	occurred := r.now().UTC()
	r.appendTimeline(ctx, domain.TimelineEvent{
		OrderID:  orderID,
		Type:     domain.TimelineStatusChanged,
		Status:   after.Details.Status,
		Reason:   reason,
		Occurred: occurred,
	})
	r.enqueueStatusChanged(ctx, domain.OrderStatusChanged{
		OrderID:    orderID,
		From:       before.Details.Status,
		To:         after.Details.Status,
		Reason:     reason,
		OccurredAt: occurred,
	})

	return after, nil
}

func (r *Reconciler) appendTimeline(ctx context.Context, event domain.TimelineEvent) {
	if r.timeline == nil {
		return
	}
	if err := r.timeline.Append(ctx, event); err != nil {
		r.logger.WithError(err).WithField("order_id", event.OrderID).Warn("failed to append timeline event")
		return
	}
	r.metrics.RecordTimelineEvent()
}

func (r *Reconciler) enqueueStatusChanged(ctx context.Context, change domain.OrderStatusChanged) {
	if r.outbox == nil {
		return
	}
	msg, err := domain.NewOrderMessage(domain.OutboxEventOrderStatusChange, change.OrderID, change)
	if err != nil {
		r.logger.WithError(err).WithField("order_id", change.OrderID).Error("failed to encode status event")
		return
	}
	if _, err := r.outbox.Enqueue(ctx, msg); err != nil {
		r.logger.WithError(err).WithField("order_id", change.OrderID).Error("failed to enqueue status event")
		return
	}
	r.metrics.RecordOutboxEvent()
}
