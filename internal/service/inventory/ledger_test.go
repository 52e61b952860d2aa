package inventory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func ptr(v int64) *int64 { return &v }

type fixture struct {
	ledger   *Ledger
	products domain.ProductRepository
	orders   domain.OrderRepository
	timeline domain.TimelineRepository
	order    domain.Order
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()

	products := memory.NewProductRepository()
	orders := memory.NewOrderRepository()
	timeline := memory.NewTimelineRepository()

	if err := products.Upsert(ctx, domain.Product{ID: "P1", Stock: ptr(10), Bought: 1}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := products.Upsert(ctx, domain.Product{
		ID:             "P2",
		EnableVariants: true,
		Variants:       []domain.ProductVariant{{VariantSlug: "red-m", Stock: ptr(3)}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	order := domain.Order{
		ID: "order-1",
		Products: []domain.OrderProduct{
			{ID: "l1", ProductID: "P1", Quantity: 2, Price: decimal.NewFromInt(1), PriceTotal: decimal.NewFromInt(2)},
			{ID: "l2", ProductID: "P2", Quantity: 1, HasVariant: true, VariantSlug: "red-m", Price: decimal.NewFromInt(1), PriceTotal: decimal.NewFromInt(1)},
		},
		Details: domain.OrderDetails{Status: domain.OrderStatusPending, OrderSecret: "s"},
	}
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	return fixture{
		ledger:   NewLedger(products, orders, timeline, nil, nil),
		products: products,
		orders:   orders,
		timeline: timeline,
		order:    order,
	}
}

func (f fixture) stock(t *testing.T) (p1Stock, p1Bought, p2Stock, p2Bought int64) {
	t.Helper()
	items, err := f.products.FindByIDs(context.Background(), []string{"P1", "P2"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	return *items[0].Stock, items[0].Bought, *items[1].Variants[0].Stock, items[1].Bought
}

func TestLedger_ExtractAndRestore(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.ledger.Extract(ctx, f.order); err != nil {
		t.Fatalf("extract: %v", err)
	}

	p1, b1, p2, b2 := f.stock(t)
	if p1 != 8 || b1 != 3 || p2 != 2 || b2 != 1 {
		t.Fatalf("unexpected counters after extract: p1=%d b1=%d p2=%d b2=%d", p1, b1, p2, b2)
	}

	stored, _ := f.orders.Get(ctx, f.order.ID)
	if !stored.ExtractedFromStock {
		t.Fatal("expected extractedFromStock flag to be set")
	}

	restored, err := f.ledger.Restore(ctx, f.order.ID)
	if err != nil || !restored {
		t.Fatalf("restore: restored=%v err=%v", restored, err)
	}

	p1, b1, p2, b2 = f.stock(t)
	if p1 != 10 || b1 != 1 || p2 != 3 || b2 != 0 {
		t.Fatalf("unexpected counters after restore: p1=%d b1=%d p2=%d b2=%d", p1, b1, p2, b2)
	}

	events, _ := f.timeline.List(ctx, f.order.ID)
	if len(events) != 2 || events[0].Type != domain.TimelineStockExtracted || events[1].Type != domain.TimelineStockRestored {
		t.Fatalf("unexpected timeline %+v", events)
	}
}

func TestLedger_RestoreIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.ledger.Extract(ctx, f.order); err != nil {
		t.Fatalf("extract: %v", err)
	}
	if _, err := f.ledger.Restore(ctx, f.order.ID); err != nil {
		t.Fatalf("first restore: %v", err)
	}

	restored, err := f.ledger.Restore(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if restored {
		t.Fatal("second restore must be a no-op")
	}

	p1, _, p2, _ := f.stock(t)
	if p1 != 10 || p2 != 3 {
		t.Fatalf("stock restored twice: p1=%d p2=%d", p1, p2)
	}
}

func TestLedger_RestoreWithoutExtractIsNoop(t *testing.T) {
	f := newFixture(t)

	restored, err := f.ledger.Restore(context.Background(), f.order.ID)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored {
		t.Fatal("restore of never extracted order must be a no-op")
	}
}

func TestLedger_NoFloorAtZero(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.order.Products[0].Quantity = 12

	if err := f.ledger.Extract(ctx, f.order); err != nil {
		t.Fatalf("extract: %v", err)
	}
	p1, _, _, _ := f.stock(t)
	if p1 != -2 {
		t.Fatalf("expected oversold stock -2, got %d", p1)
	}
}

func TestLedger_ExtractPartialFailureLeavesFlagUnset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.order.Products = append(f.order.Products, domain.OrderProduct{ID: "l3", ProductID: "gone", Quantity: 1})

	if err := f.ledger.Extract(ctx, f.order); err == nil {
		t.Fatal("expected error for missing product")
	}

	stored, _ := f.orders.Get(ctx, f.order.ID)
	if stored.ExtractedFromStock {
		t.Fatal("flag must stay unset on partial failure")
	}
}

func TestLedger_RestoreRetriesAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if err := f.ledger.Extract(ctx, f.order); err != nil {
		t.Fatalf("extract: %v", err)
	}

	// Вариант временно пропал из каталога: строка P2 не применится.
	variantless := domain.Product{ID: "P2", EnableVariants: true, Bought: 1}
	if err := f.products.Upsert(ctx, variantless); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	restored, err := f.ledger.Restore(ctx, f.order.ID)
	if !errors.Is(err, domain.ErrVariantNotFound) || restored {
		t.Fatalf("expected variant failure, got restored=%v err=%v", restored, err)
	}
	items, _ := f.products.FindByIDs(ctx, []string{"P1"})
	if *items[0].Stock != 8 || items[0].Bought != 3 {
		t.Fatalf("applied lines must be rolled back: stock=%d bought=%d", *items[0].Stock, items[0].Bought)
	}
	stored, _ := f.orders.Get(ctx, f.order.ID)
	if !stored.ExtractedFromStock {
		t.Fatal("flag must be set again so the restore can be redelivered")
	}

	if err := f.products.Upsert(ctx, domain.Product{
		ID:             "P2",
		EnableVariants: true,
		Bought:         1,
		Variants:       []domain.ProductVariant{{VariantSlug: "red-m", Stock: ptr(2)}},
	}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	restored, err = f.ledger.Restore(ctx, f.order.ID)
	if err != nil || !restored {
		t.Fatalf("redelivered restore: restored=%v err=%v", restored, err)
	}
	p1, b1, p2, b2 := f.stock(t)
	if p1 != 10 || b1 != 1 || p2 != 3 || b2 != 0 {
		t.Fatalf("unexpected counters after retry: p1=%d b1=%d p2=%d b2=%d", p1, b1, p2, b2)
	}
}
