package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func czk(v int64) domain.Pricing {
	return domain.Pricing{{Currency: "CZK", Value: decimal.NewFromInt(v)}}
}

func ptr(v int64) *int64 { return &v }

func testCatalog() []domain.Product {
	return []domain.Product{
		{ID: "P1", Title: "Mug", ImageURL: "https://cdn/mug.png", Pricing: czk(500), Weight: 300},
		{
			ID:                   "P2",
			Title:                "Shirt",
			Pricing:              czk(900),
			Weight:               200,
			EnableVariants:       true,
			EnableVariantPrices:  true,
			EnableVariantWeights: true,
			Variants: []domain.ProductVariant{
				{
					VariantSlug: "red-m",
					Color:       &domain.Option{Slug: "red", Label: "Red"},
					Size:        &domain.Option{Slug: "m", Label: "M"},
					Pricing: domain.Pricing{
						{Currency: "CZK", Value: decimal.NewFromInt(650)},
						{Currency: "EUR", Value: decimal.RequireFromString("26.5")},
					},
					Weight:   ptr(250),
					ImageURL: "https://cdn/shirt-red.png",
				},
			},
		},
	}
}

func TestQuote_HappyPath(t *testing.T) {
	engine := NewEngine()
	filled, err := engine.FillProducts([]domain.CartItem{{ProductID: "P1", Quantity: 2}}, testCatalog())
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	quote, err := engine.Quote(filled, "CZK")
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !quote.Total.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected total 1000, got %s", quote.Total)
	}
	if !quote.Lines[0].UnitPrice.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected unit 500, got %s", quote.Lines[0].UnitPrice)
	}
}

func TestQuote_VariantPricing(t *testing.T) {
	engine := NewEngine()
	filled, err := engine.FillProducts([]domain.CartItem{{ProductID: "P2", Quantity: 3, VariantSlug: "red-m"}}, testCatalog())
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	quote, err := engine.Quote(filled, "czk")
	if err != nil {
		t.Fatalf("quote failed: %v", err)
	}
	if !quote.Total.Equal(decimal.NewFromInt(1950)) {
		t.Fatalf("expected variant total 1950, got %s", quote.Total)
	}
	if got := filled[0].Description(); got != "Red, M" {
		t.Fatalf("unexpected description %q", got)
	}
	if got := filled[0].WeightGrams(); got != 250 {
		t.Fatalf("expected variant weight 250, got %d", got)
	}
	if filled[0].ImageURL != "https://cdn/shirt-red.png" {
		t.Fatalf("expected variant image, got %q", filled[0].ImageURL)
	}
}

func TestQuote_Errors(t *testing.T) {
	engine := NewEngine()
	catalog := testCatalog()

	tests := []struct {
		name     string
		cart     []domain.CartItem
		currency string
		want     error
	}{
		{name: "empty cart", cart: nil, currency: "CZK", want: domain.ErrCartEmpty},
		{name: "unknown product", cart: []domain.CartItem{{ProductID: "P9", Quantity: 1}}, currency: "CZK", want: domain.ErrProductNotFound},
		{name: "unknown variant", cart: []domain.CartItem{{ProductID: "P2", Quantity: 1, VariantSlug: "blue"}}, currency: "CZK", want: domain.ErrVariantNotFound},
		{name: "variant price without variant", cart: []domain.CartItem{{ProductID: "P2", Quantity: 1}}, currency: "CZK", want: domain.ErrVariantNotFound},
		{name: "missing currency price", cart: []domain.CartItem{{ProductID: "P1", Quantity: 1}}, currency: "EUR", want: domain.ErrPriceNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			filled, err := engine.FillProducts(tc.cart, catalog)
			if err == nil {
				_, err = engine.Quote(filled, tc.currency)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestQuote_DeterministicAcrossCartOrder(t *testing.T) {
	engine := NewEngine()
	catalog := testCatalog()
	cartA := []domain.CartItem{{ProductID: "P1", Quantity: 2}, {ProductID: "P2", Quantity: 1, VariantSlug: "red-m"}}
	cartB := []domain.CartItem{{ProductID: "P2", Quantity: 1, VariantSlug: "red-m"}, {ProductID: "P1", Quantity: 2}}

	lineTotals := func(cart []domain.CartItem) map[string]decimal.Decimal {
		filled, err := engine.FillProducts(cart, catalog)
		if err != nil {
			t.Fatalf("fill failed: %v", err)
		}
		quote, err := engine.Quote(filled, "CZK")
		if err != nil {
			t.Fatalf("quote failed: %v", err)
		}
		out := make(map[string]decimal.Decimal)
		for _, l := range quote.Lines {
			out[l.Product.ID] = l.LineTotal
		}
		out["total"] = quote.Total
		return out
	}

	for i := 0; i < 20; i++ {
		a, b := lineTotals(cartA), lineTotals(cartB)
		for key, v := range a {
			if !v.Equal(b[key]) {
				t.Fatalf("%s differs: %s vs %s", key, v, b[key])
			}
		}
	}
}

func TestTotal_OnlyCurrenciesPricedForAllLines(t *testing.T) {
	engine := NewEngine()
	filled, err := engine.FillProducts([]domain.CartItem{
		{ProductID: "P2", Quantity: 2, VariantSlug: "red-m"},
		{ProductID: "P1", Quantity: 1},
	}, testCatalog())
	if err != nil {
		t.Fatalf("fill failed: %v", err)
	}

	totals := engine.Total(filled)
	if len(totals) != 1 {
		t.Fatalf("expected only CZK total, got %+v", totals)
	}
	if v, ok := totals.Find("CZK"); !ok || !v.Equal(decimal.NewFromInt(1800)) {
		t.Fatalf("expected CZK 1800, got %s", v)
	}
}
