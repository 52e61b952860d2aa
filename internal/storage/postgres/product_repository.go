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

type productRepository struct {
	db *sql.DB
}

// NewProductRepository создаёт PostgreSQL-реализацию ProductRepository.
func NewProductRepository(store *Store) domain.ProductRepository {
	return &productRepository{db: store.DB()}
}

func (r *productRepository) FindByIDs(ctx context.Context, ids []string) ([]domain.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT id, document FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("find products: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]domain.Product, len(ids))
	for rows.Next() {
		var (
			id  string
			doc []byte
		)
		if err := rows.Scan(&id, &doc); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		var p domain.Product
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode product %s: %w", id, err)
		}
		byID[id] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}

	// Порядок результата повторяет порядок запроса, как у in-memory реализации.
	result := make([]domain.Product, 0, len(byID))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			result = append(result, p)
			delete(byID, id)
		}
	}
	return result, nil
}

func (r *productRepository) Upsert(ctx context.Context, product domain.Product) error {
	if product.ID == "" {
		return domain.ErrStockProductRequired
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	doc, err := json.Marshal(product)
	if err != nil {
		return fmt.Errorf("encode product: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO products (id, document, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET document = EXCLUDED.document, updated_at = EXCLUDED.updated_at
	`, product.ID, doc, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

// AdjustStock меняет сток под блокировкой строки товара. Пол в ноль не применяется.
func (r *productRepository) AdjustStock(ctx context.Context, adj domain.StockAdjustment) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	return inTx(ctx, r.db, func(tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx, `SELECT document FROM products WHERE id = $1 FOR UPDATE`, adj.ProductID).Scan(&doc)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrProductNotFound
		}
		if err != nil {
			return fmt.Errorf("lock product: %w", err)
		}

		var p domain.Product
		if err := json.Unmarshal(doc, &p); err != nil {
			return fmt.Errorf("decode product %s: %w", adj.ProductID, err)
		}

		stock := p.Stock
		if adj.VariantSlug != "" {
			v, ok := p.Variant(adj.VariantSlug)
			if !ok {
				return domain.ErrVariantNotFound
			}
			stock = v.Stock
		}
		if stock != nil {
			*stock += adj.StockDelta
		}
		p.Bought += adj.BoughtDelta

		if doc, err = json.Marshal(p); err != nil {
			return fmt.Errorf("encode product: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE products SET document = $2, updated_at = $3 WHERE id = $1`,
			p.ID, doc, time.Now().UTC()); err != nil {
			return fmt.Errorf("update product stock: %w", err)
		}
		return nil
	})
}

var _ domain.ProductRepository = (*productRepository)(nil)
