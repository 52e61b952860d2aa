package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type customerRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Customer
}

// NewCustomerRepository создаёт in-memory реализацию CustomerRepository.
func NewCustomerRepository() domain.CustomerRepository {
	return &customerRepositoryInMemory{items: make(map[string]domain.Customer)}
}

func (r *customerRepositoryInMemory) Get(_ context.Context, id string) (domain.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[id]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return c, nil
}

func (r *customerRepositoryInMemory) Upsert(_ context.Context, customer domain.Customer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existing, ok := r.items[customer.ID]; ok {
		customer.CreatedAt = existing.CreatedAt
	} else if customer.CreatedAt.IsZero() {
		customer.CreatedAt = now
	}
	customer.UpdatedAt = now
	r.items[customer.ID] = customer
	return nil
}

func (r *customerRepositoryInMemory) SetStripeCustomerID(_ context.Context, id, stripeCustomerID string) error {
	return r.mutate(id, func(c *domain.Customer) {
		c.StripeCustomerID = stripeCustomerID
	})
}

func (r *customerRepositoryInMemory) ClearStripeCustomerID(_ context.Context, stripeCustomerID string) (int, error) {
	if stripeCustomerID == "" {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0
	for id, c := range r.items {
		if c.StripeCustomerID != stripeCustomerID {
			continue
		}
		c.StripeCustomerID = ""
		c.UpdatedAt = time.Now().UTC()
		r.items[id] = c
		cleared++
	}
	return cleared, nil
}

func (r *customerRepositoryInMemory) UpdateLastBuyerType(_ context.Context, id string, buyerType domain.BuyerType) error {
	return r.mutate(id, func(c *domain.Customer) {
		c.LastBuyerType = buyerType
	})
}

func (r *customerRepositoryInMemory) mutate(id string, fn func(*domain.Customer)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.items[id]
	if !ok {
		return domain.ErrCustomerNotFound
	}
	fn(&c)
	c.UpdatedAt = time.Now().UTC()
	r.items[id] = c
	return nil
}

var _ domain.CustomerRepository = (*customerRepositoryInMemory)(nil)
