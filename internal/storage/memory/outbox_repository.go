package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultOutboxBatch = 100

type outboxEntry struct {
	msg       domain.OutboxMessage
	status    domain.OutboxStatus
	attempts  int
	createdAt time.Time
}

// OutboxRepository хранит outbox в памяти. Порядок выдачи совпадает с порядком Enqueue,
// поэтому события одного заказа не переставляются даже при одинаковом времени записи.
type OutboxRepository struct {
	mu      sync.RWMutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{byID: make(map[string]*outboxEntry)}
}

func (r *OutboxRepository) Enqueue(_ context.Context, msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	msg.Payload = append([]byte(nil), msg.Payload...)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[msg.ID]; exists {
		return domain.OutboxMessage{}, fmt.Errorf("outbox message %s already enqueued", msg.ID)
	}
	entry := &outboxEntry{msg: msg, status: domain.OutboxStatusPending, createdAt: time.Now().UTC()}
	r.entries = append(r.entries, entry)
	r.byID[msg.ID] = entry
	return msg, nil
}

// PullPending возвращает до limit pending-сообщений; limit <= 0 означает пачку по умолчанию.
func (r *OutboxRepository) PullPending(_ context.Context, limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = defaultOutboxBatch
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	batch := make([]domain.OutboxMessage, 0, min(limit, len(r.entries)))
	for _, entry := range r.entries {
		if len(batch) == limit {
			break
		}
		if entry.status == domain.OutboxStatusPending {
			batch = append(batch, entry.msg)
		}
	}
	return batch, nil
}

func (r *OutboxRepository) Stats(_ context.Context) (domain.OutboxStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stats domain.OutboxStats
	for _, entry := range r.entries {
		if entry.status != domain.OutboxStatusPending {
			continue
		}
		if stats.PendingCount == 0 {
			stats.OldestPendingAt = entry.createdAt
		}
		stats.PendingCount++
	}
	return stats, nil
}

func (r *OutboxRepository) MarkSent(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusSent)
}

func (r *OutboxRepository) MarkFailed(_ context.Context, id string) error {
	return r.settle(id, domain.OutboxStatusFailed)
}

// Status возвращает состояние сообщения и число попыток.
func (r *OutboxRepository) Status(id string) (domain.OutboxStatus, int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.byID[id]
	if !ok {
		return "", 0, false
	}
	return entry.status, entry.attempts, true
}

// AllPending возвращает все pending-сообщения в порядке записи.
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var pending []domain.OutboxMessage
	for _, entry := range r.entries {
		if entry.status == domain.OutboxStatusPending {
			pending = append(pending, entry.msg)
		}
	}
	return pending
}

func (r *OutboxRepository) settle(id string, status domain.OutboxStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: outbox message %s not found", domain.ErrOutboxPublish, id)
	}
	entry.status = status
	entry.attempts++
	return nil
}

var _ domain.OutboxRepository = (*OutboxRepository)(nil)
