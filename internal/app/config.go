package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Config описывает настройки запуска витрины.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// KafkaBrokers: список брокеров через запятую; пустое значение отключает Kafka.
	KafkaBrokers       string
	KafkaTopic         string
	KafkaConsumerGroup string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// OutboxMaxPending: порог backlog, после которого health отдаёт degraded; 0 отключает проверку.
	OutboxMaxPending int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	ServerURL    string
	CatalogPath  string
	CouriersPath string

	Paywall             string
	StripeSecretKey     string
	StripeWebhookSecret string
	AutopayServiceID    string
	AutopayHashKey      string
	AutopayEndpoint     string
	P24PosID            int
	P24MerchantID       int
	P24SecretID         string
	P24CRC              string
	P24Endpoint         string
	// AllowMockIntegrations подставляет mock-провайдера оплаты, если настроенный не сконфигурирован.
	AllowMockIntegrations bool

	ARESURL string
	ORSRURL string

	JWTSecret         string
	AdminToken        string
	OrderSecretLength int
}

// DefaultConfig возвращает настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		KafkaTopic:                  "storefront.order.events",
		KafkaConsumerGroup:          "storefront-restock",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            200 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyTTL:              domain.DefaultIdempotencyTTL,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
		ServerURL:                   "http://localhost:8080",
		Paywall:                     "stripe",
		OrderSecretLength:           24,
	}
}

// MinOrderSecretLength: минимальная длина секрета заказа для ссылки без входа.
const MinOrderSecretLength = 16

// Brokers разбирает KafkaBrokers; пустые элементы отбрасываются.
func (c Config) Brokers() []string {
	var list []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			list = append(list, b)
		}
	}
	return list
}

// KafkaEnabled сообщает, что события доставляются через Kafka, а не внутрипроцессно.
func (c Config) KafkaEnabled() bool {
	return len(c.Brokers()) > 0
}

// Validate проверяет сочетания настроек, которые нельзя исправить значением по умолчанию.
// Ошибки собираются все сразу.
func (c Config) Validate() error {
	var errs []error

	switch strings.ToLower(strings.TrimSpace(c.StorageDriver)) {
	case "", StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres storage requires STOREFRONT_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	if _, err := domain.ParsePaymentProvider(c.Paywall); err != nil {
		errs = append(errs, fmt.Errorf("paywall %q: %w", c.Paywall, err))
	}
	if c.OrderSecretLength < MinOrderSecretLength {
		errs = append(errs, fmt.Errorf("order secret length must be at least %d, got %d", MinOrderSecretLength, c.OrderSecretLength))
	}
	if c.KafkaEnabled() && strings.TrimSpace(c.KafkaTopic) == "" {
		errs = append(errs, errors.New("kafka topic is required when brokers are set"))
	}
	if c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox batch size and max attempts must be positive"))
	}

	return errors.Join(errs...)
}
