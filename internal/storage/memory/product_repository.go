package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// productRepositoryInMemory хранит каталог в памяти.
type productRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Product
}

// NewProductRepository создаёт in-memory реализацию ProductRepository.
func NewProductRepository() domain.ProductRepository {
	return &productRepositoryInMemory{items: make(map[string]domain.Product)}
}

func (r *productRepositoryInMemory) FindByIDs(_ context.Context, ids []string) ([]domain.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.Product, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if p, ok := r.items[id]; ok {
			result = append(result, cloneProduct(p))
		}
	}
	return result, nil
}

func (r *productRepositoryInMemory) Upsert(_ context.Context, product domain.Product) error {
	if product.ID == "" {
		return domain.ErrStockProductRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.items[product.ID] = cloneProduct(product)
	return nil
}

// AdjustStock применяет дельты под мьютексом. Неотслеживаемый сток (nil) не меняется.
func (r *productRepositoryInMemory) AdjustStock(_ context.Context, adj domain.StockAdjustment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.items[adj.ProductID]
	if !ok {
		return domain.ErrProductNotFound
	}

	if adj.VariantSlug != "" {
		v, found := p.Variant(adj.VariantSlug)
		if !found {
			return domain.ErrVariantNotFound
		}
		if v.Stock != nil {
			next := *v.Stock + adj.StockDelta
			v.Stock = &next
		}
	} else if p.Stock != nil {
		next := *p.Stock + adj.StockDelta
		p.Stock = &next
	}
	p.Bought += adj.BoughtDelta

	r.items[p.ID] = p
	return nil
}

func cloneProduct(src domain.Product) domain.Product {
	dst := src
	dst.Pricing = append(domain.Pricing(nil), src.Pricing...)
	dst.Stock = cloneInt(src.Stock)
	dst.Variants = make([]domain.ProductVariant, len(src.Variants))
	for i, v := range src.Variants {
		cp := v
		cp.Stock = cloneInt(v.Stock)
		cp.Weight = cloneInt(v.Weight)
		cp.Pricing = append(domain.Pricing(nil), v.Pricing...)
		dst.Variants[i] = cp
	}
	return dst
}

func cloneInt(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

var _ domain.ProductRepository = (*productRepositoryInMemory)(nil)
