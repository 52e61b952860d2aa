// Package outbox доставляет события заказов из transactional outbox в брокер
// или во внутренний диспетчер.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultPollInterval = time.Second
	defaultBatchSize    = 100
	defaultMaxAttempts  = 3
	defaultBaseDelay    = 50 * time.Millisecond
)

var (
	deliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_outbox_delivery_attempts_total",
		Help: "Outbox delivery attempts grouped by result.",
	}, []string{"result"})
	backlogSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_backlog",
		Help: "Pending records in the order outbox.",
	})
	backlogAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_outbox_backlog_age_seconds",
		Help: "Age of the oldest pending outbox record.",
	})
)

type settings struct {
	logger       *log.Entry
	deadLetters  domain.OutboxPublisher
	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
}

// Option настраивает Worker.
type Option func(*settings)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(s *settings) { s.logger = logger }
}

// WithDeadLetters задаёт publisher для событий, которые не удалось доставить.
func WithDeadLetters(publisher domain.OutboxPublisher) Option {
	return func(s *settings) { s.deadLetters = publisher }
}

// WithPollInterval задаёт период опроса.
func WithPollInterval(interval time.Duration) Option {
	return func(s *settings) { s.pollInterval = interval }
}

// WithBatchSize задаёт размер пачки за один цикл.
func WithBatchSize(size int) Option {
	return func(s *settings) { s.batchSize = size }
}

// WithRetry задаёт число попыток и базовую задержку экспоненциального backoff.
func WithRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(s *settings) {
		s.maxAttempts = maxAttempts
		s.baseDelay = baseDelay
	}
}

// Worker забирает pending-события и публикует их.
type Worker struct {
	repo      domain.OutboxRepository
	publisher domain.OutboxPublisher
	settings
}

// NewWorker создаёт воркер outbox.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, opts ...Option) *Worker {
	s := settings{
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		maxAttempts:  defaultMaxAttempts,
		baseDelay:    defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "outbox-worker")
	}
	if s.pollInterval <= 0 {
		s.pollInterval = defaultPollInterval
	}
	if s.batchSize <= 0 {
		s.batchSize = defaultBatchSize
	}
	if s.maxAttempts <= 0 {
		s.maxAttempts = defaultMaxAttempts
	}
	if s.baseDelay < 0 {
		s.baseDelay = 0
	}

	return &Worker{repo: repo, publisher: publisher, settings: s}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox worker disabled: repository or publisher missing")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce доставляет одну пачку и возвращает число отправленных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog(ctx)

	batch, err := w.repo.PullPending(ctx, w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("pull pending outbox records")
		return 0
	}

	sent := 0
	for _, msg := range batch {
		if ctx.Err() != nil {
			break
		}
		entry := w.logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"event_type": msg.EventType,
			"order_id":   msg.AggregateID,
		})

		if err := w.deliver(ctx, msg); err != nil {
			deliveryAttempts.WithLabelValues("failed").Inc()
			entry.WithError(err).Error("outbox delivery failed")
			w.deadLetter(ctx, msg, err, entry)
			if err := w.repo.MarkFailed(ctx, msg.ID); err != nil {
				entry.WithError(err).Warn("mark outbox record failed")
			}
			continue
		}

		if err := w.repo.MarkSent(ctx, msg.ID); err != nil {
			entry.WithError(err).Warn("mark outbox record sent")
			continue
		}
		sent++
	}
	return sent
}

func (w *Worker) deliver(ctx context.Context, msg domain.OutboxMessage) error {
	var err error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err = w.publisher.Publish(ctx, msg); err == nil {
			deliveryAttempts.WithLabelValues("sent").Inc()
			return nil
		}
		deliveryAttempts.WithLabelValues("retry").Inc()

		if attempt == w.maxAttempts {
			break
		}
		if delay := backoff(w.baseDelay, attempt); delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", domain.ErrOutboxPublish, w.maxAttempts, err)
}

// deadLetter: конверт события, отправляемого в DLQ.
type deadLetter struct {
	OutboxID      string          `json:"outboxId"`
	AggregateType string          `json:"aggregateType"`
	AggregateID   string          `json:"aggregateId"`
	EventType     string          `json:"eventType"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failedAt"`
}

func (w *Worker) deadLetter(ctx context.Context, msg domain.OutboxMessage, cause error, entry *log.Entry) {
	if w.deadLetters == nil {
		return
	}

	payload := json.RawMessage(msg.Payload)
	if !json.Valid(payload) {
		payload, _ = json.Marshal(string(msg.Payload))
	}
	body, err := json.Marshal(deadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       payload,
		Error:         cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err != nil {
		entry.WithError(err).Warn("encode dead letter")
		return
	}

	dead := msg
	dead.Payload = body
	if err := w.deadLetters.Publish(ctx, dead); err != nil {
		deliveryAttempts.WithLabelValues("dlq_failed").Inc()
		entry.WithError(err).Warn("publish dead letter")
	}
}

func (w *Worker) observeBacklog(ctx context.Context) {
	stats, err := w.repo.Stats(ctx)
	if err != nil {
		w.logger.WithError(err).Debug("outbox stats unavailable")
		return
	}
	backlogSize.Set(float64(stats.PendingCount))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		backlogAge.Set(0)
		return
	}
	backlogAge.Set(max(time.Since(stats.OldestPendingAt).Seconds(), 0))
}

// backoff удваивает base на каждую следующую попытку, не переполняясь.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > time.Duration(1<<62) {
			return delay
		}
		delay *= 2
	}
	return delay
}
