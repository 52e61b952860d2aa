package domain

import (
	"fmt"
	"time"
)

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated   = "order_created"
	TimelineStatusChanged  = "status_changed"
	TimelineStockExtracted = "stock_extracted"
	TimelineStockRestored  = "stock_restored"
	TimelinePaymentSession = "payment_session"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	OrderID  string      `json:"orderId"`
	Type     string      `json:"type"`
	Status   OrderStatus `json:"status,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	Occurred time.Time   `json:"occurred"`
}

// KnownTimelineType сообщает, что тип события входит в список выше.
func KnownTimelineType(t string) bool {
	switch t {
	case TimelineOrderCreated, TimelineStatusChanged, TimelineStockExtracted, TimelineStockRestored, TimelinePaymentSession:
		return true
	default:
		return false
	}
}

// Normalize проверяет событие перед записью и проставляет время, если его нет.
// Для status_changed статус обязателен.
func (e TimelineEvent) Normalize(now time.Time) (TimelineEvent, error) {
	if e.OrderID == "" {
		return e, fmt.Errorf("%w: order id is empty", ErrTimelineEventInvalid)
	}
	if !KnownTimelineType(e.Type) {
		return e, fmt.Errorf("%w: unknown type %q", ErrTimelineEventInvalid, e.Type)
	}
	if e.Type == TimelineStatusChanged && !e.Status.Valid() {
		return e, fmt.Errorf("%w: status %q", ErrTimelineEventInvalid, e.Status)
	}
	if e.Occurred.IsZero() {
		e.Occurred = now
	}
	e.Occurred = e.Occurred.UTC()
	return e, nil
}
