package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, StorageDriverMemory, cfg.StorageDriver)
	assert.Equal(t, domain.DefaultIdempotencyTTL, cfg.IdempotencyTTL)
	assert.Equal(t, string(domain.PaymentProviderStripe), cfg.Paywall)
	assert.GreaterOrEqual(t, cfg.OrderSecretLength, MinOrderSecretLength)
	assert.False(t, cfg.KafkaEnabled(), "kafka must be disabled by default")
	assert.Positive(t, cfg.OutboxPollInterval)
	assert.Equal(t, 10*time.Minute, cfg.IdempotencyCleanupInterval)
}

func TestConfigBrokers(t *testing.T) {
	cfg := DefaultConfig()

	cfg.KafkaBrokers = " , "
	assert.Empty(t, cfg.Brokers())
	assert.False(t, cfg.KafkaEnabled())

	cfg.KafkaBrokers = " kafka-1:9092, ,kafka-2:9092 "
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers())
	assert.True(t, cfg.KafkaEnabled())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty driver means memory", mutate: func(c *Config) { c.StorageDriver = "" }},
		{name: "postgres with dsn", mutate: func(c *Config) {
			c.StorageDriver = "Postgres"
			c.PostgresDSN = "postgres://localhost/storefront"
		}},
		{name: "unknown driver", mutate: func(c *Config) { c.StorageDriver = "mongo" }, wantErr: `unsupported storage driver "mongo"`},
		{name: "postgres without dsn", mutate: func(c *Config) { c.StorageDriver = StorageDriverPostgres }, wantErr: "STOREFRONT_POSTGRES_DSN"},
		{name: "unknown paywall", mutate: func(c *Config) { c.Paywall = "paypal" }, wantErr: `paywall "paypal"`},
		{name: "short order secret", mutate: func(c *Config) { c.OrderSecretLength = 8 }, wantErr: "order secret length must be at least 16"},
		{name: "kafka without topic", mutate: func(c *Config) {
			c.KafkaBrokers = "kafka:9092"
			c.KafkaTopic = " "
		}, wantErr: "kafka topic is required"},
		{name: "zero outbox batch", mutate: func(c *Config) { c.OutboxBatchSize = 0 }, wantErr: "outbox batch size"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)

			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestConfigValidateJoinsErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Paywall = ""
	cfg.OrderSecretLength = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "paywall")
	assert.Contains(t, err.Error(), "order secret length")
}
