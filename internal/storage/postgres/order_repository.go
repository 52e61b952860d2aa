package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now

	doc, err := json.Marshal(order)
	if err != nil {
		return fmt.Errorf("encode order: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO orders (id, customer_id, order_secret, status, document, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, order.ID, order.CustomerID, order.Details.OrderSecret, string(order.Details.Status), doc, order.CreatedAt, order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *orderRepository) Get(ctx context.Context, id string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return scanOrder(r.db.QueryRowContext(ctx, `SELECT document FROM orders WHERE id = $1`, id))
}

func (r *orderRepository) SecretExists(ctx context.Context, secret string) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE order_secret = $1)`, secret).Scan(&exists); err != nil {
		return false, fmt.Errorf("check order secret: %w", err)
	}
	return exists, nil
}

func (r *orderRepository) ListByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT document FROM orders
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC`
	args := []any{customerID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}

// Update блокирует строку, применяет патч к документу и записывает его обратно.
func (r *orderRepository) Update(ctx context.Context, id string, patch domain.OrderDetailsPatch) (domain.Order, domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var before, after domain.Order
	err := inTx(ctx, r.db, func(tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx, `SELECT document FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		// Оба снимка декодируются из одного документа и не делят срезы.
		if before, err = decodeOrder(doc); err != nil {
			return err
		}
		if after, err = decodeOrder(doc); err != nil {
			return err
		}
		patch.Apply(&after)
		after.UpdatedAt = time.Now().UTC()

		if doc, err = json.Marshal(after); err != nil {
			return fmt.Errorf("encode order: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, document = $3, updated_at = $4 WHERE id = $1
		`, id, string(after.Details.Status), doc, after.UpdatedAt); err != nil {
			return fmt.Errorf("update order: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.Order{}, domain.Order{}, err
	}
	return before, after, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	return decodeOrder(doc)
}

func decodeOrder(doc []byte) (domain.Order, error) {
	var order domain.Order
	if err := json.Unmarshal(doc, &order); err != nil {
		return domain.Order{}, fmt.Errorf("decode order: %w", err)
	}
	return order, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)
