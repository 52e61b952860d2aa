package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Price: цена в конкретной валюте.
type Price struct {
	Currency string          `json:"currency" yaml:"currency"`
	Value    decimal.Decimal `json:"value" yaml:"value"`
}

// Pricing: таблица цен по валютам.
type Pricing []Price

// Find возвращает цену для валюты (регистр не важен).
func (p Pricing) Find(currency string) (decimal.Decimal, bool) {
	for _, price := range p {
		if strings.EqualFold(price.Currency, currency) {
			return price.Value, true
		}
	}
	return decimal.Zero, false
}

// Option: цвет или размер варианта.
type Option struct {
	Slug  string `json:"slug" yaml:"slug"`
	Label string `json:"label" yaml:"label"`
}

// ProductVariant: вариант товара со своим стоком и, опционально, ценой и весом.
type ProductVariant struct {
	VariantSlug string  `json:"variantSlug" yaml:"variantSlug"`
	Color       *Option `json:"color,omitempty" yaml:"color,omitempty"`
	Size        *Option `json:"size,omitempty" yaml:"size,omitempty"`
	// Stock == nil означает, что остаток не отслеживается.
	Stock    *int64  `json:"stock,omitempty" yaml:"stock,omitempty"`
	Pricing  Pricing `json:"pricing,omitempty" yaml:"pricing,omitempty"`
	Weight   *int64  `json:"weight,omitempty" yaml:"weight,omitempty"`
	ImageURL string  `json:"image,omitempty" yaml:"image,omitempty"`
}

// Product: товар каталога. Ядро чекаута читает его только для расчётов.
type Product struct {
	ID       string  `json:"id" yaml:"id"`
	Slug     string  `json:"slug" yaml:"slug"`
	Title    string  `json:"title" yaml:"title"`
	ImageURL string  `json:"image,omitempty" yaml:"image,omitempty"`
	Pricing  Pricing `json:"pricing,omitempty" yaml:"pricing,omitempty"`
	Stock    *int64  `json:"stock,omitempty" yaml:"stock,omitempty"`
	Bought   int64   `json:"bought" yaml:"bought"`
	// Weight в граммах.
	Weight               int64            `json:"weight" yaml:"weight"`
	EnableVariants       bool             `json:"enableVariants" yaml:"enableVariants"`
	EnableVariantPrices  bool             `json:"enableVariantPrices" yaml:"enableVariantPrices"`
	EnableVariantWeights bool             `json:"enableVariantWeights" yaml:"enableVariantWeights"`
	Variants             []ProductVariant `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// Variant ищет вариант по slug.
func (p *Product) Variant(slug string) (*ProductVariant, bool) {
	if slug == "" {
		return nil, false
	}
	for i := range p.Variants {
		if p.Variants[i].VariantSlug == slug {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// CartItem: строка корзины, пришедшая от клиента.
type CartItem struct {
	ProductID   string `json:"id" validate:"required"`
	Quantity    int64  `json:"quantity" validate:"required,min=1"`
	VariantSlug string `json:"variantSlug,omitempty"`
}
