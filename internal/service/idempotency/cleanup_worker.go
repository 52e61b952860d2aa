// Package idempotency чистит просроченные ключи идемпотентности чекаута.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultBatchSize = 500
)

var (
	cleanupRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_idempotency_cleanup_runs_total",
		Help: "Idempotency key cleanup runs grouped by result.",
	}, []string{"result"})
	cleanupDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "storefront_idempotency_keys_purged_total",
		Help: "Expired idempotency keys removed by the cleanup worker.",
	})
)

// Cleaner периодически удаляет просроченные ключи.
type Cleaner struct {
	repo      domain.IdempotencyRepository
	logger    *log.Entry
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

// Option настраивает Cleaner.
type Option func(*Cleaner)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(c *Cleaner) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInterval задаёт период между запусками.
func WithInterval(interval time.Duration) Option {
	return func(c *Cleaner) {
		if interval > 0 {
			c.interval = interval
		}
	}
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(size int) Option {
	return func(c *Cleaner) {
		if size > 0 {
			c.batchSize = size
		}
	}
}

// NewCleaner создаёт воркер очистки.
func NewCleaner(repo domain.IdempotencyRepository, opts ...Option) *Cleaner {
	c := &Cleaner{
		repo:      repo,
		logger:    log.WithField("component", "idempotency-cleaner"),
		interval:  defaultInterval,
		batchSize: defaultBatchSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run чистит ключи до отмены ctx.
func (c *Cleaner) Run(ctx context.Context) {
	if c.repo == nil {
		c.logger.Warn("idempotency cleaner disabled: repository missing")
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		c.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Cleaner) runOnce(ctx context.Context) {
	purged, err := c.Purge(ctx, c.now().UTC())
	switch {
	case errors.Is(err, context.Canceled):
	case err != nil:
		cleanupRuns.WithLabelValues("error").Inc()
		c.logger.WithError(err).Warn("idempotency cleanup failed")
	default:
		cleanupRuns.WithLabelValues("ok").Inc()
		if purged > 0 {
			c.logger.WithField("purged", purged).Info("expired idempotency keys purged")
		}
	}
}

// Purge удаляет ключи с TTL <= before, пока очередная пачка заполнена целиком.
func (c *Cleaner) Purge(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := c.repo.Purge(ctx, before, c.batchSize)
		if err != nil {
			return total, err
		}
		total += n
		cleanupDeleted.Add(float64(n))
		if n < c.batchSize {
			return total, nil
		}
	}
}
