// Package kafka публикует события заказов магазина в Kafka и потребляет их обратно.
package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Топики по умолчанию.
const (
	TopicOrderEvents     = "storefront.order.events"
	TopicDeadLetterQueue = "storefront.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
)

// Envelope: формат сообщения в топике событий заказов.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"publishedAt"`
}

// NewEnvelope оборачивает сообщение outbox.
func NewEnvelope(msg domain.OutboxMessage, now time.Time) Envelope {
	return Envelope{
		ID:            msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		PublishedAt:   now.UTC(),
	}
}

// Message возвращает исходное сообщение outbox.
func (e Envelope) Message() domain.OutboxMessage {
	return domain.OutboxMessage{
		ID:            e.ID,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		EventType:     e.EventType,
		Payload:       []byte(e.Payload),
	}
}

// ParseEnvelope разбирает сообщение из топика событий заказов.
func ParseEnvelope(message *sarama.ConsumerMessage) (domain.OutboxMessage, error) {
	var env Envelope
	if err := json.Unmarshal(message.Value, &env); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("decode envelope: %w", err)
	}
	if env.EventType == "" {
		return domain.OutboxMessage{}, fmt.Errorf("decode envelope: event type is empty")
	}
	return env.Message(), nil
}

func header(message *sarama.ConsumerMessage, key string) string {
	for _, h := range message.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}
