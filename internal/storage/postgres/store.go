// Package postgres хранит заказы, каталог и служебные записи магазина в PostgreSQL.
// Заказы, товары и покупатели лежат JSONB-документами; поля для поиска вынесены в колонки.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	opTimeout              = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errStoreNotReady = errors.New("postgres store is not initialized")

// Store оборачивает пул подключений.
type Store struct {
	db *sql.DB
}

// PoolConfig: параметры пула database/sql.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Option меняет PoolConfig перед подключением.
type Option func(*PoolConfig)

// WithMaxConns ограничивает число открытых и простаивающих подключений.
func WithMaxConns(open, idle int) Option {
	return func(c *PoolConfig) {
		if open > 0 {
			c.MaxOpenConns = open
		}
		if idle >= 0 && idle <= c.MaxOpenConns {
			c.MaxIdleConns = idle
		}
	}
}

// WithConnLifetime задаёт время жизни подключения.
func WithConnLifetime(lifetime, idle time.Duration) Option {
	return func(c *PoolConfig) {
		if lifetime > 0 {
			c.ConnMaxLifetime = lifetime
		}
		if idle > 0 {
			c.ConnMaxIdleTime = idle
		}
	}
}

func defaultPoolConfig(opts ...Option) PoolConfig {
	cfg := PoolConfig{
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Open подключается к базе через драйвер pgx и проверяет её доступность.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	pool := defaultPoolConfig(opts...)
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	store := &Store{db: db}
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// DB возвращает пул для низкоуровневого доступа.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы; используется health-проверкой.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotReady
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

// RegisterMetrics публикует статистику пула как go_sql_* с меткой db_name="storefront".
// Повторная регистрация не считается ошибкой.
func (s *Store) RegisterMetrics(registerer prometheus.Registerer) error {
	if s == nil || s.db == nil {
		return errStoreNotReady
	}
	err := registerer.Register(collectors.NewDBStatsCollector(s.db, "storefront"))
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		return fmt.Errorf("register postgres pool metrics: %w", err)
	}
	return nil
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, opTimeout)
}

// inTx выполняет fn в транзакции и откатывает её при ошибке.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
