package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultMaxRetries = 3

// Handler обрабатывает событие заказа из Kafka.
type Handler interface {
	Handle(ctx context.Context, msg domain.OutboxMessage) error
}

// ConsumerConfig: параметры consumer group.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topics     []string
	MaxRetries int
	// RetryDelay: пауза между попытками; 0 повторяет сразу.
	RetryDelay time.Duration
	// DeadLetters получает сообщения, которые не удалось обработать; nil отключает DLQ.
	DeadLetters *Producer
	Logger      *log.Entry
}

// Consumer читает события заказов и передаёт их Handler.
type Consumer struct {
	group       sarama.ConsumerGroup
	topics      []string
	handler     Handler
	deadLetters *Producer
	maxRetries  int
	retryDelay  time.Duration
	logger      *log.Entry
	wg          sync.WaitGroup
}

// NewConsumer подключает consumer group.
func NewConsumer(cfg ConsumerConfig, handler Handler) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, cfg, handler), nil
}

func newConsumer(group sarama.ConsumerGroup, cfg ConsumerConfig, handler Handler) *Consumer {
	c := &Consumer{
		group:       group,
		topics:      cfg.Topics,
		handler:     handler,
		deadLetters: cfg.DeadLetters,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  cfg.RetryDelay,
		logger:      cfg.Logger,
	}
	if len(c.topics) == 0 {
		c.topics = []string{TopicOrderEvents}
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.retryDelay < 0 {
		c.retryDelay = 0
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "kafka-consumer")
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при каждом rebalance.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("consumer group error")
		}
	}()
	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
}

// Stop закрывает группу и ждёт завершения горутин.
func (c *Consumer) Stop() error {
	err := c.group.Close()
	c.wg.Wait()
	if err != nil {
		return fmt.Errorf("close kafka consumer: %w", err)
	}
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции. Сообщение коммитится после
// успешной обработки или после отправки в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			entry := c.logger.WithFields(log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			})
			if err := c.process(session.Context(), message); err != nil {
				entry.WithError(err).Error("message left uncommitted")
				continue
			}
			session.MarkMessage(message, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	msg, err := ParseEnvelope(message)
	if err != nil {
		// Нечитаемое сообщение повторять бессмысленно.
		return c.deadLetter(ctx, message, err)
	}

	for attempt := retryCount(message); attempt < c.maxRetries; attempt++ {
		if err = c.handler.Handle(ctx, msg); err == nil {
			return nil
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"event_type": msg.EventType,
			"order_id":   msg.AggregateID,
			"attempt":    attempt + 1,
		}).Warn("event handling failed")

		if c.retryDelay > 0 && attempt+1 < c.maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
	}
	if err == nil {
		err = fmt.Errorf("retry budget exhausted")
	}
	return c.deadLetter(ctx, message, err)
}

type deadLetter struct {
	Topic     string    `json:"topic"`
	Partition int32     `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	Error     string    `json:"error"`
	FailedAt  time.Time `json:"failedAt"`
}

func (c *Consumer) deadLetter(ctx context.Context, message *sarama.ConsumerMessage, cause error) error {
	if c.deadLetters == nil {
		return cause
	}
	value, err := json.Marshal(deadLetter{
		Topic:     message.Topic,
		Partition: message.Partition,
		Offset:    message.Offset,
		Key:       string(message.Key),
		Value:     string(message.Value),
		Error:     cause.Error(),
		FailedAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode dead letter: %w", err)
	}
	if err := c.deadLetters.Send(ctx, TopicDeadLetterQueue, string(message.Key), value, map[string]string{
		HeaderOriginalTopic: message.Topic,
		HeaderErrorMessage:  cause.Error(),
		HeaderRetryCount:    strconv.Itoa(c.maxRetries),
	}); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	c.logger.WithField("topic", message.Topic).Info("message moved to dlq")
	return nil
}

func retryCount(message *sarama.ConsumerMessage) int {
	n, err := strconv.Atoi(header(message, HeaderRetryCount))
	if err != nil || n < 0 {
		return 0
	}
	return n
}
