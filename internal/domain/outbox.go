package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Типы событий outbox.
const (
	OutboxAggregateOrder         = "order"
	OutboxEventOrderCreated      = "order.created"
	OutboxEventOrderStatusChange = "order.status_changed"
)

// OutboxStatus: состояние записи outbox.
type OutboxStatus string

const (
	OutboxStatusPending OutboxStatus = "pending"
	OutboxStatusSent    OutboxStatus = "sent"
	// OutboxStatusFailed: попытки исчерпаны, событие ушло в DLQ.
	OutboxStatusFailed OutboxStatus = "failed"
)

// OutboxMessage хранит данные для публикуемого события.
// Пустой ID заполняется хранилищем при Enqueue.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}

// OrderStatusChanged: полезная нагрузка события смены статуса заказа.
type OrderStatusChanged struct {
	OrderID    string      `json:"orderId"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurredAt"`
}

// NewOrderMessage кодирует payload в JSON и оборачивает его в событие заказа.
func NewOrderMessage(eventType, orderID string, payload any) (OutboxMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("encode %s for order %s: %w", eventType, orderID, err)
	}
	return OutboxMessage{
		AggregateType: OutboxAggregateOrder,
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}, nil
}

// StatusChange разбирает событие смены статуса. ok == false для прочих типов событий.
func (m OutboxMessage) StatusChange() (change OrderStatusChanged, ok bool, err error) {
	if m.EventType != OutboxEventOrderStatusChange {
		return OrderStatusChanged{}, false, nil
	}
	if err := json.Unmarshal(m.Payload, &change); err != nil {
		return OrderStatusChanged{}, true, fmt.Errorf("decode %s: %w", m.EventType, err)
	}
	if change.OrderID == "" {
		change.OrderID = m.AggregateID
	}
	return change, true, nil
}
