package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/messaging/kafka"
)

// initKafkaProducer подключает producer, если брокеры заданы.
// Пустой список возвращает nil, nil: события тогда идут во внутренний диспетчер.
func initKafkaProducer(brokerList []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokerList) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokerList, logger.WithField("component", "kafka-producer"))
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokerList).Info("kafka producer initialized")
	return producer, nil
}

// initRestockConsumer подписывает обработчик возврата на склад на топик событий заказов.
func initRestockConsumer(cfg Config, deadLetters *kafka.Producer, handler kafka.Handler, logger *log.Entry) (*kafka.Consumer, error) {
	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers:     cfg.Brokers(),
		GroupID:     cfg.KafkaConsumerGroup,
		Topics:      []string{cfg.KafkaTopic},
		DeadLetters: deadLetters,
		Logger:      logger.WithField("component", "kafka-consumer"),
	}, handler)
	if err != nil {
		return nil, err
	}
	return consumer, nil
}

// closeKafkaProducer закрывает producer если он не nil.
func closeKafkaProducer(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}
	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
		return
	}
	logger.Info("kafka producer closed")
}

func stopKafkaConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}
	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
