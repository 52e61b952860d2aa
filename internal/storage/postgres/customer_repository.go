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

type customerRepository struct {
	db *sql.DB
}

// NewCustomerRepository создаёт PostgreSQL-реализацию CustomerRepository.
func NewCustomerRepository(store *Store) domain.CustomerRepository {
	return &customerRepository{db: store.DB()}
}

func (r *customerRepository) Get(ctx context.Context, id string) (domain.Customer, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return scanCustomer(r.db.QueryRowContext(ctx, `SELECT document FROM customers WHERE id = $1`, id))
}

func (r *customerRepository) Upsert(ctx context.Context, customer domain.Customer) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	now := time.Now().UTC()
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now

	doc, err := json.Marshal(customer)
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}
	// created_at первой записи сохраняется, в документе тоже.
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO customers (id, stripe_customer_id, document, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET
			stripe_customer_id = EXCLUDED.stripe_customer_id,
			document = jsonb_set(EXCLUDED.document, '{createdAt}', customers.document->'createdAt'),
			updated_at = EXCLUDED.updated_at
	`, customer.ID, customer.StripeCustomerID, doc, customer.CreatedAt, customer.UpdatedAt); err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

func (r *customerRepository) SetStripeCustomerID(ctx context.Context, id, stripeCustomerID string) error {
	return r.mutate(ctx, id, func(c *domain.Customer) { c.StripeCustomerID = stripeCustomerID })
}

func (r *customerRepository) UpdateLastBuyerType(ctx context.Context, id string, buyerType domain.BuyerType) error {
	return r.mutate(ctx, id, func(c *domain.Customer) { c.LastBuyerType = buyerType })
}

func (r *customerRepository) ClearStripeCustomerID(ctx context.Context, stripeCustomerID string) (int, error) {
	if stripeCustomerID == "" {
		return 0, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE customers SET
			stripe_customer_id = '',
			document = document - 'stripeCustomerId',
			updated_at = $2
		WHERE stripe_customer_id = $1
	`, stripeCustomerID, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("clear stripe customer: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear stripe customer rows: %w", err)
	}
	return int(n), nil
}

func (r *customerRepository) mutate(ctx context.Context, id string, fn func(*domain.Customer)) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		c, err := scanCustomer(tx.QueryRowContext(ctx, `SELECT document FROM customers WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		fn(&c)
		c.UpdatedAt = time.Now().UTC()

		doc, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("encode customer: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE customers SET stripe_customer_id = $2, document = $3, updated_at = $4 WHERE id = $1
		`, id, c.StripeCustomerID, doc, c.UpdatedAt); err != nil {
			return fmt.Errorf("update customer: %w", err)
		}
		return nil
	})
}

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	var c domain.Customer
	if err := json.Unmarshal(doc, &c); err != nil {
		return domain.Customer{}, fmt.Errorf("decode customer: %w", err)
	}
	return c, nil
}

var _ domain.CustomerRepository = (*customerRepository)(nil)
