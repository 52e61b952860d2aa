package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/app"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const (
	envHTTPAddr                    = "STOREFRONT_HTTP_ADDR"
	envGRPCAddr                    = "STOREFRONT_GRPC_ADDR"
	envMetricsAddr                 = "STOREFRONT_METRICS_ADDR"
	envLogLevel                    = "STOREFRONT_LOG_LEVEL"
	envStorageDriver               = "STOREFRONT_STORAGE_DRIVER"
	envPostgresDSN                 = "STOREFRONT_POSTGRES_DSN"
	envPostgresAutoMigrate         = "STOREFRONT_POSTGRES_AUTO_MIGRATE"
	envKafkaBrokers                = "STOREFRONT_KAFKA_BROKERS"
	envKafkaTopic                  = "STOREFRONT_KAFKA_TOPIC"
	envKafkaConsumerGroup          = "STOREFRONT_KAFKA_CONSUMER_GROUP"
	envOutboxPollInterval          = "STOREFRONT_OUTBOX_POLL_INTERVAL"
	envOutboxBatchSize             = "STOREFRONT_OUTBOX_BATCH_SIZE"
	envOutboxMaxAttempts           = "STOREFRONT_OUTBOX_MAX_ATTEMPTS"
	envOutboxRetryDelay            = "STOREFRONT_OUTBOX_RETRY_DELAY"
	envOutboxMaxPending            = "STOREFRONT_OUTBOX_MAX_PENDING"
	envIdempotencyTTL              = "STOREFRONT_IDEMPOTENCY_TTL"
	envIdempotencyCleanupInterval  = "STOREFRONT_IDEMPOTENCY_CLEANUP_INTERVAL"
	envIdempotencyCleanupBatchSize = "STOREFRONT_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	envServerURL                   = "STOREFRONT_SERVER_URL"
	envCatalogPath                 = "STOREFRONT_CATALOG_PATH"
	envCouriersPath                = "STOREFRONT_COURIERS_PATH"
	envPaywall                     = "STOREFRONT_PAYWALL"
	envStripeSecretKey             = "STOREFRONT_STRIPE_SECRET_KEY"
	envStripeWebhookSecret         = "STOREFRONT_STRIPE_WEBHOOK_SECRET"
	envAutopayServiceID            = "STOREFRONT_AUTOPAY_SERVICE_ID"
	envAutopayHashKey              = "STOREFRONT_AUTOPAY_HASH_KEY"
	envAutopayEndpoint             = "STOREFRONT_AUTOPAY_ENDPOINT"
	envP24PosID                    = "STOREFRONT_P24_POS_ID"
	envP24MerchantID               = "STOREFRONT_P24_MERCHANT_ID"
	envP24SecretID                 = "STOREFRONT_P24_SECRET_ID"
	envP24CRC                      = "STOREFRONT_P24_CRC"
	envP24Endpoint                 = "STOREFRONT_P24_ENDPOINT"
	envAllowMockIntegrations       = "STOREFRONT_ALLOW_MOCK_INTEGRATIONS"
	envARESURL                     = "STOREFRONT_ARES_URL"
	envORSRURL                     = "STOREFRONT_ORSR_URL"
	envJWTSecret                   = "STOREFRONT_AUTH_JWT_SECRET"
	envAdminToken                  = "STOREFRONT_ADMIN_TOKEN"
	envOrderSecretLength           = "STOREFRONT_ORDER_SECRET_LENGTH"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(level string) error {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
	if strings.TrimSpace(level) == "" {
		return nil
	}
	parsed, err := log.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return err
	}
	log.SetLevel(parsed)
	return nil
}

// readConfigFromEnv собирает конфигурацию поверх app.DefaultConfig.
// Некорректные значения не останавливают запуск: остаётся значение по умолчанию и пишется предупреждение.
func readConfigFromEnv(lookup envLookup) (app.Config, []string) {
	cfg := app.DefaultConfig()
	var warnings []string
	warn := func(key, raw string, err error) {
		warnings = append(warnings, fmt.Sprintf("%s=%q ignored: %v", key, raw, err))
	}

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseBool(v)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	integer := func(key string, dst *int, valid func(int) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseInt(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}
	duration := func(key string, dst *time.Duration, valid func(time.Duration) bool, rule string) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return
		}
		parsed, err := parseDuration(v, valid, rule)
		if err != nil {
			warn(key, v, err)
			return
		}
		*dst = parsed
	}

	positive := func(v int) bool { return v > 0 }
	nonNegative := func(v int) bool { return v >= 0 }
	positiveDur := func(v time.Duration) bool { return v > 0 }
	nonNegativeDur := func(v time.Duration) bool { return v >= 0 }

	str(envHTTPAddr, &cfg.HTTPAddr)
	str(envGRPCAddr, &cfg.GRPCAddr)
	str(envMetricsAddr, &cfg.MetricsAddr)

	str(envStorageDriver, &cfg.StorageDriver)
	cfg.StorageDriver = strings.ToLower(cfg.StorageDriver)
	str(envPostgresDSN, &cfg.PostgresDSN)
	boolean(envPostgresAutoMigrate, &cfg.PostgresAutoMigrate)

	str(envKafkaBrokers, &cfg.KafkaBrokers)
	str(envKafkaTopic, &cfg.KafkaTopic)
	str(envKafkaConsumerGroup, &cfg.KafkaConsumerGroup)

	duration(envOutboxPollInterval, &cfg.OutboxPollInterval, positiveDur, "must be > 0")
	integer(envOutboxBatchSize, &cfg.OutboxBatchSize, positive, "must be > 0")
	integer(envOutboxMaxAttempts, &cfg.OutboxMaxAttempts, positive, "must be > 0")
	duration(envOutboxRetryDelay, &cfg.OutboxRetryDelay, nonNegativeDur, "must be >= 0")
	integer(envOutboxMaxPending, &cfg.OutboxMaxPending, nonNegative, "must be >= 0")

	duration(envIdempotencyTTL, &cfg.IdempotencyTTL, positiveDur, "must be > 0")
	duration(envIdempotencyCleanupInterval, &cfg.IdempotencyCleanupInterval, positiveDur, "must be > 0")
	integer(envIdempotencyCleanupBatchSize, &cfg.IdempotencyCleanupBatchSize, positive, "must be > 0")

	str(envServerURL, &cfg.ServerURL)
	str(envCatalogPath, &cfg.CatalogPath)
	str(envCouriersPath, &cfg.CouriersPath)

	str(envPaywall, &cfg.Paywall)
	cfg.Paywall = strings.ToLower(cfg.Paywall)
	str(envStripeSecretKey, &cfg.StripeSecretKey)
	str(envStripeWebhookSecret, &cfg.StripeWebhookSecret)
	str(envAutopayServiceID, &cfg.AutopayServiceID)
	str(envAutopayHashKey, &cfg.AutopayHashKey)
	str(envAutopayEndpoint, &cfg.AutopayEndpoint)
	integer(envP24PosID, &cfg.P24PosID, positive, "must be > 0")
	integer(envP24MerchantID, &cfg.P24MerchantID, positive, "must be > 0")
	str(envP24SecretID, &cfg.P24SecretID)
	str(envP24CRC, &cfg.P24CRC)
	str(envP24Endpoint, &cfg.P24Endpoint)
	boolean(envAllowMockIntegrations, &cfg.AllowMockIntegrations)

	str(envARESURL, &cfg.ARESURL)
	str(envORSRURL, &cfg.ORSRURL)

	str(envJWTSecret, &cfg.JWTSecret)
	str(envAdminToken, &cfg.AdminToken)
	integer(envOrderSecretLength, &cfg.OrderSecretLength, func(v int) bool { return v >= 16 }, "must be >= 16")

	return cfg, warnings
}

func parseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, nil
	case "0", "false", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid bool %q", raw)
	}
}

func parseInt(raw string, valid func(int) bool, rule string) (int, error) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func parseDuration(raw string, valid func(time.Duration) bool, rule string) (time.Duration, error) {
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if valid != nil && !valid(value) {
		return 0, errors.New(rule)
	}
	return value, nil
}

func main() {
	if err := setupLogger(os.Getenv(envLogLevel)); err != nil {
		log.WithError(err).Warn("invalid log level, using info")
	}

	cfg, warnings := readConfigFromEnv(os.LookupEnv)
	for _, w := range warnings {
		log.Warn(w)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(version.Current().Fields()).WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"paywall":      cfg.Paywall,
	}).Info("запускаем storefront")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("storefront остановлен")
}
