package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Дополнительные заголовки событий outbox.
const (
	HeaderMessageID     = "x-message-id"
	HeaderAggregateType = "x-aggregate-type"
)

var errPublisherNotReady = errors.New("kafka outbox publisher is not initialized")

// Sender отправляет одно сообщение в топик. *Producer реализует его.
type Sender interface {
	Send(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// OutboxPublisher публикует события outbox в топик с ID заказа в качестве ключа,
// чтобы события одного заказа попадали в одну партицию.
type OutboxPublisher struct {
	sender Sender
	topic  string
	now    func() time.Time
}

// NewOutboxPublisher создаёт publisher для topic (по умолчанию TopicOrderEvents).
func NewOutboxPublisher(sender Sender, topic string) *OutboxPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxPublisher{sender: sender, topic: topic, now: time.Now}
}

// Topic возвращает топик назначения.
func (p *OutboxPublisher) Topic() string { return p.topic }

func (p *OutboxPublisher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	if p == nil || p.sender == nil {
		return errPublisherNotReady
	}

	value, err := json.Marshal(NewEnvelope(msg, p.now()))
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", msg.EventType, err)
	}
	if err := p.sender.Send(ctx, p.topic, partitionKey(msg), value, outboxHeaders(msg)); err != nil {
		return fmt.Errorf("publish %s to %s: %w", msg.ID, p.topic, err)
	}
	return nil
}

func partitionKey(msg domain.OutboxMessage) string {
	if msg.AggregateID != "" {
		return msg.AggregateID
	}
	return msg.ID
}

func outboxHeaders(msg domain.OutboxMessage) map[string]string {
	headers := map[string]string{HeaderEventType: msg.EventType}
	if msg.ID != "" {
		headers[HeaderMessageID] = msg.ID
	}
	if msg.AggregateType != "" {
		headers[HeaderAggregateType] = msg.AggregateType
	}
	return headers
}

var _ domain.OutboxPublisher = (*OutboxPublisher)(nil)
