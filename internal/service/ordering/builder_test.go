package ordering

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

func testInput(form Form) Input {
	quote := pricing.Quote{
		Currency: "CZK",
		Total:    decimal.NewFromInt(1000),
		Lines: []pricing.Line{
			{
				FilledProduct: pricing.FilledProduct{
					Product:  domain.Product{ID: "P1", Title: "Mug", Weight: 300},
					Quantity: 2,
					Title:    "Mug",
				},
				UnitPrice: decimal.NewFromInt(500),
				LineTotal: decimal.NewFromInt(1000),
			},
		},
	}
	rate := shipping.Rate{
		Courier:     domain.Courier{Key: "standard", Enabled: true, Prepaid: true},
		WeightGrams: 600,
		Cost:        decimal.NewFromInt(99),
	}
	return Input{Form: form, Quote: quote, Rate: rate, Locale: "cs"}
}

func shippingAddress() domain.Address {
	return domain.Address{
		Name:       "Jana Nováková",
		Address:    "Dlouhá 1",
		City:       "Praha",
		Country:    "cz",
		PostalCode: "11000",
		Email:      "jana@example.com",
	}
}

func TestBuilderCreate_HappyPath(t *testing.T) {
	repo := memory.NewOrderRepository()
	builder := NewBuilder(repo, DefaultSecretLength, nil)

	order, err := builder.Create(context.Background(), testInput(Form{
		BuyerType:      domain.BuyerTypeIndividual,
		Shipping:       shippingAddress(),
		DeliveryMethod: "standard",
	}))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if order.Details.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending, got %s", order.Details.Status)
	}
	if !order.Details.Total.Equal(decimal.NewFromInt(1000)) ||
		!order.Details.ShippingCost.Equal(decimal.NewFromInt(99)) ||
		!order.Details.TotalWithShipping.Equal(decimal.NewFromInt(1099)) {
		t.Fatalf("unexpected totals %+v", order.Details)
	}
	if len(order.Details.OrderSecret) < DefaultSecretLength {
		t.Fatalf("secret too short: %q", order.Details.OrderSecret)
	}
	if order.Details.StripeSessionID != "" {
		t.Fatalf("session id must be empty on creation, got %q", order.Details.StripeSessionID)
	}
	if !order.PrintLabel.Weight.Equal(decimal.RequireFromString("0.6")) {
		t.Fatalf("expected label weight 0.6kg, got %s", order.PrintLabel.Weight)
	}
	if order.Invoice.Address != "Dlouhá 1" || order.Invoice.Country != "CZ" || order.Invoice.IsCompany {
		t.Fatalf("invoice must mirror shipping address, got %+v", order.Invoice)
	}

	stored, err := repo.Get(context.Background(), order.ID)
	if err != nil {
		t.Fatalf("stored order missing: %v", err)
	}
	if stored.Products[0].Quantity != 2 || !stored.Products[0].PriceTotal.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("unexpected product snapshot %+v", stored.Products[0])
	}
}

func TestBuilderCreate_CompanyWithoutTINIsStored(t *testing.T) {
	repo := memory.NewOrderRepository()
	builder := NewBuilder(repo, DefaultSecretLength, nil)

	order, err := builder.Create(context.Background(), testInput(Form{
		BuyerType: domain.BuyerTypeCompany,
		Shipping:  shippingAddress(),
		Invoice: &InvoiceInput{
			Name:       "ACME s.r.o.",
			Address:    "Průmyslová 5",
			City:       "Brno",
			Country:    "CZ",
			PostalCode: "60200",
		},
		DeliveryMethod: "standard",
	}))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if !order.Invoice.IsCompany || order.Invoice.Name != "ACME s.r.o." {
		t.Fatalf("expected company invoice, got %+v", order.Invoice)
	}
	if order.Invoice.TIN != "" {
		t.Fatalf("expected empty tin, got %q", order.Invoice.TIN)
	}
}

func TestBuilderCreate_IndividualInvoiceHasNoTIN(t *testing.T) {
	builder := NewBuilder(memory.NewOrderRepository(), DefaultSecretLength, nil)

	order, err := builder.Create(context.Background(), testInput(Form{
		BuyerType:         domain.BuyerTypeIndividual,
		IndividualInvoice: true,
		Shipping:          shippingAddress(),
		Invoice:           &InvoiceInput{Name: "Jan", TIN: "CZ123", Address: "Krátká 2", City: "Ostrava", Country: "cz", PostalCode: "70030"},
	}))
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if order.Invoice.Address != "Krátká 2" || order.Invoice.TIN != "" {
		t.Fatalf("unexpected invoice %+v", order.Invoice)
	}
}

func TestBuilderCreate_VariantSnapshot(t *testing.T) {
	builder := NewBuilder(memory.NewOrderRepository(), DefaultSecretLength, nil)

	in := testInput(Form{BuyerType: domain.BuyerTypeIndividual, Shipping: shippingAddress()})
	in.Quote.Lines[0].Product.EnableVariants = true
	in.Quote.Lines[0].Variant = &domain.ProductVariant{
		VariantSlug: "red-m",
		Color:       &domain.Option{Slug: "red", Label: "Red"},
		Size:        &domain.Option{Slug: "m", Label: "M"},
	}

	order, err := builder.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	line := order.Products[0]
	if !line.HasVariant || line.VariantSlug != "red-m" || line.Color != "red" || line.Size != "m" {
		t.Fatalf("unexpected variant snapshot %+v", line)
	}
}

type failingOrders struct {
	domain.OrderRepository
}

func (failingOrders) Create(context.Context, domain.Order) error {
	return errors.New("db down")
}

func (failingOrders) SecretExists(context.Context, string) (bool, error) {
	return false, nil
}

func TestBuilderCreate_PersistenceFailure(t *testing.T) {
	builder := NewBuilder(failingOrders{}, DefaultSecretLength, nil)

	if _, err := builder.Create(context.Background(), testInput(Form{Shipping: shippingAddress()})); err == nil {
		t.Fatal("expected persistence error")
	}
}

func TestNewOrderID_Unique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		id := NewOrderID()
		if len(id) != 26 {
			t.Fatalf("unexpected id length %d", len(id))
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
}
