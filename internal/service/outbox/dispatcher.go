package outbox

import (
	"context"
	"errors"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Handler обрабатывает событие outbox.
type Handler interface {
	Handle(ctx context.Context, msg domain.OutboxMessage) error
}

// HandlerFunc позволяет использовать функцию как Handler.
type HandlerFunc func(ctx context.Context, msg domain.OutboxMessage) error

// Handle вызывает f.
func (f HandlerFunc) Handle(ctx context.Context, msg domain.OutboxMessage) error {
	return f(ctx, msg)
}

// Dispatcher доставляет события подписчикам внутри процесса.
// Используется, когда Kafka не настроена.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

// NewDispatcher создаёт пустой диспетчер.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string][]Handler)}
}

// Subscribe регистрирует обработчик для типа события.
func (d *Dispatcher) Subscribe(eventType string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventType] = append(d.handlers[eventType], h)
}

// Publish вызывает всех подписчиков; ошибки объединяются, и worker повторит доставку.
func (d *Dispatcher) Publish(ctx context.Context, msg domain.OutboxMessage) error {
	d.mu.RLock()
	handlers := append([]Handler(nil), d.handlers[msg.EventType]...)
	d.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = (*Dispatcher)(nil)
