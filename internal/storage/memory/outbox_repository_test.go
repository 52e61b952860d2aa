package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func statusChange(t *testing.T, orderID string, to domain.OrderStatus) domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewOrderMessage(domain.OutboxEventOrderStatusChange, orderID, domain.OrderStatusChanged{OrderID: orderID, To: to})
	require.NoError(t, err)
	return msg
}

func TestOutboxKeepsEnqueueOrder(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	var ids []string
	for _, to := range []domain.OrderStatus{domain.OrderStatusPaid, domain.OrderStatusShipped, domain.OrderStatusCompleted} {
		saved, err := repo.Enqueue(ctx, statusChange(t, "order-1", to))
		require.NoError(t, err)
		require.NotEmpty(t, saved.ID)
		ids = append(ids, saved.ID)
	}

	batch, err := repo.PullPending(ctx, 2)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, ids[:2], []string{batch[0].ID, batch[1].ID})

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PendingCount)
	assert.False(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxSettle(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	sent, err := repo.Enqueue(ctx, statusChange(t, "order-2", domain.OrderStatusPaid))
	require.NoError(t, err)
	failed, err := repo.Enqueue(ctx, statusChange(t, "order-3", domain.OrderStatusCancelled))
	require.NoError(t, err)

	require.NoError(t, repo.MarkSent(ctx, sent.ID))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID))
	require.ErrorIs(t, repo.MarkSent(ctx, "missing"), domain.ErrOutboxPublish)

	status, attempts, ok := repo.Status(failed.ID)
	require.True(t, ok)
	assert.Equal(t, domain.OutboxStatusFailed, status)
	assert.Equal(t, 1, attempts)

	assert.Empty(t, repo.AllPending())
	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.PendingCount)
	assert.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	msg := statusChange(t, "order-4", domain.OrderStatusPaid)
	msg.ID = "fixed"
	_, err := repo.Enqueue(ctx, msg)
	require.NoError(t, err)
	_, err = repo.Enqueue(ctx, msg)
	require.Error(t, err)
}

func TestOutboxDefaultBatch(t *testing.T) {
	ctx := context.Background()
	repo := NewOutboxRepository()

	for i := range defaultOutboxBatch + 5 {
		_, err := repo.Enqueue(ctx, statusChange(t, fmt.Sprintf("order-%d", i), domain.OrderStatusPaid))
		require.NoError(t, err)
	}

	batch, err := repo.PullPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, batch, defaultOutboxBatch)
}
