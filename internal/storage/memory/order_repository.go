package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// orderStore держит заказы в памяти вместе с индексами по секрету и покупателю.
type orderStore struct {
	mu         sync.RWMutex
	now        func() time.Time
	orders     map[string]domain.Order
	bySecret   map[string]string
	byCustomer map[string][]string
}

// NewOrderRepository возвращает in-memory репозиторий заказов для локального запуска и тестов.
func NewOrderRepository() domain.OrderRepository {
	return newOrderStore(time.Now)
}

func newOrderStore(now func() time.Time) *orderStore {
	return &orderStore{
		now:        now,
		orders:     make(map[string]domain.Order),
		bySecret:   make(map[string]string),
		byCustomer: make(map[string][]string),
	}
}

func (s *orderStore) Create(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.orders[order.ID]; taken {
		return domain.ErrOrderAlreadyExists
	}

	stamp := s.now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = stamp
	}
	order.UpdatedAt = stamp

	s.orders[order.ID] = snapshotOrder(order)
	if secret := order.Details.OrderSecret; secret != "" {
		s.bySecret[secret] = order.ID
	}
	if order.CustomerID != "" {
		s.byCustomer[order.CustomerID] = append(s.byCustomer[order.CustomerID], order.ID)
	}
	return nil
}

func (s *orderStore) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if order, ok := s.orders[id]; ok {
		return snapshotOrder(order), nil
	}
	return domain.Order{}, domain.ErrOrderNotFound
}

func (s *orderStore) SecretExists(_ context.Context, secret string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, taken := s.bySecret[secret]
	return taken, nil
}

// ListByCustomer отдаёт заказы покупателя от новых к старым.
func (s *orderStore) ListByCustomer(_ context.Context, customerID string, limit int) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byCustomer[customerID]
	list := make([]domain.Order, 0, len(ids))
	for _, id := range ids {
		list = append(list, snapshotOrder(s.orders[id]))
	}

	slices.SortFunc(list, func(a, b domain.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if limit > 0 {
		list = list[:min(limit, len(list))]
	}
	return list, nil
}

// Update перезаписывает поля из патча; одновременные обновления не сравниваются по версии.
func (s *orderStore) Update(_ context.Context, id string, patch domain.OrderDetailsPatch) (domain.Order, domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.Order{}, domain.ErrOrderNotFound
	}

	next := snapshotOrder(stored)
	patch.Apply(&next)
	next.UpdatedAt = s.now().UTC()
	s.orders[id] = next

	return snapshotOrder(stored), snapshotOrder(next), nil
}

// snapshotOrder копирует срезы и указатели, чтобы вызывающий не менял сохранённый заказ.
func snapshotOrder(src domain.Order) domain.Order {
	dst := src
	dst.Products = slices.Clone(src.Products)
	if src.Details.ShippingDate != nil {
		date := *src.Details.ShippingDate
		dst.Details.ShippingDate = &date
	}
	return dst
}

var _ domain.OrderRepository = (*orderStore)(nil)
