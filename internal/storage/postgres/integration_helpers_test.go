package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testDSNEnv = "STOREFRONT_POSTGRES_TEST_DSN"

// storefrontTables перечислены в порядке, безопасном для TRUNCATE ... CASCADE.
var storefrontTables = []string{
	"idempotency_keys",
	"outbox_messages",
	"timeline_events",
	"customers",
	"orders",
	"products",
}

// connectTestStore открывает базу из STOREFRONT_POSTGRES_TEST_DSN без миграций.
// Без переменной или при недоступной базе тест пропускается.
func connectTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(testDSNEnv))
	if dsn == "" {
		t.Skipf("%s is not set", testDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("postgres is not available: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// migratedTestStore накатывает схему и очищает все таблицы витрины.
func migratedTestStore(t *testing.T) *Store {
	t.Helper()

	store := connectTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, store.MigrateUp(ctx, 0))
	_, err := store.DB().ExecContext(ctx,
		"TRUNCATE TABLE "+strings.Join(storefrontTables, ", ")+" RESTART IDENTITY CASCADE")
	require.NoError(t, err)
	return store
}
