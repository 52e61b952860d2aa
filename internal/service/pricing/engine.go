// Package pricing рассчитывает цены позиций корзины по данным каталога.
package pricing

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// FilledProduct: строка корзины, дополненная данными каталога.
type FilledProduct struct {
	Product  domain.Product
	Variant  *domain.ProductVariant
	Quantity int64
	Title    string
	ImageURL string
	// Pricing: действующая таблица цен (вариант или товар).
	Pricing domain.Pricing
}

// UnitPrice возвращает цену за единицу в валюте или ErrPriceNotFound.
func (f FilledProduct) UnitPrice(currency string) (decimal.Decimal, error) {
	price, ok := f.Pricing.Find(currency)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: product %s in %s", domain.ErrPriceNotFound, f.Product.ID, currency)
	}
	return price, nil
}

// LinePrice возвращает цену за единицу и сумму строки.
func (f FilledProduct) LinePrice(currency string) (unit decimal.Decimal, total decimal.Decimal, err error) {
	unit, err = f.UnitPrice(currency)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return unit, unit.Mul(decimal.NewFromInt(f.Quantity)), nil
}

// VariantSlug возвращает slug выбранного варианта или пустую строку.
func (f FilledProduct) VariantSlug() string {
	if f.Variant == nil {
		return ""
	}
	return f.Variant.VariantSlug
}

// Description собирает подписи цвета и размера варианта, иначе возвращает название товара.
func (f FilledProduct) Description() string {
	if f.Variant != nil {
		var parts []string
		if f.Variant.Color != nil && f.Variant.Color.Label != "" {
			parts = append(parts, f.Variant.Color.Label)
		}
		if f.Variant.Size != nil && f.Variant.Size.Label != "" {
			parts = append(parts, f.Variant.Size.Label)
		}
		if len(parts) > 0 {
			return strings.Join(parts, ", ")
		}
	}
	return f.Title
}

// WeightGrams возвращает вес единицы: вариант при enableVariantWeights, иначе товар.
func (f FilledProduct) WeightGrams() int64 {
	if f.Product.EnableVariantWeights && f.Variant != nil && f.Variant.Weight != nil {
		return *f.Variant.Weight
	}
	return f.Product.Weight
}

// Line: рассчитанная строка заказа.
type Line struct {
	FilledProduct
	UnitPrice decimal.Decimal
	LineTotal decimal.Decimal
}

// Quote: итог расчёта корзины в одной валюте.
type Quote struct {
	Currency string
	Lines    []Line
	Total    decimal.Decimal
}

// Engine: чистый расчёт цен без побочных эффектов.
type Engine struct{}

// NewEngine создаёт движок расчёта цен.
func NewEngine() *Engine {
	return &Engine{}
}

// FillProducts дополняет строки корзины данными каталога. Порядок строк сохраняется.
func (e *Engine) FillProducts(cart []domain.CartItem, products []domain.Product) ([]FilledProduct, error) {
	if len(cart) == 0 {
		return nil, domain.ErrCartEmpty
	}

	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	filled := make([]FilledProduct, 0, len(cart))
	for _, item := range cart {
		if item.Quantity <= 0 {
			return nil, fmt.Errorf("%w: quantity for %s", domain.ErrCartEmpty, item.ProductID)
		}
		product, ok := byID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, item.ProductID)
		}

		fp := FilledProduct{
			Product:  product,
			Quantity: item.Quantity,
			Title:    product.Title,
			ImageURL: product.ImageURL,
			Pricing:  product.Pricing,
		}

		if product.EnableVariants && item.VariantSlug != "" {
			variant, found := product.Variant(item.VariantSlug)
			if !found {
				return nil, fmt.Errorf("%w: %s/%s", domain.ErrVariantNotFound, item.ProductID, item.VariantSlug)
			}
			v := *variant
			fp.Variant = &v
			if v.ImageURL != "" {
				fp.ImageURL = v.ImageURL
			}
		}

		if product.EnableVariantPrices {
			if fp.Variant == nil {
				return nil, fmt.Errorf("%w: variant required for %s", domain.ErrVariantNotFound, item.ProductID)
			}
			fp.Pricing = fp.Variant.Pricing
		}

		filled = append(filled, fp)
	}

	return filled, nil
}

// Total считает сумму корзины по каждой валюте, в которой оценены все строки.
func (e *Engine) Total(filled []FilledProduct) domain.Pricing {
	if len(filled) == 0 {
		return nil
	}

	var totals domain.Pricing
	for _, candidate := range filled[0].Pricing {
		sum := decimal.Zero
		complete := true
		for _, fp := range filled {
			_, line, err := fp.LinePrice(candidate.Currency)
			if err != nil {
				complete = false
				break
			}
			sum = sum.Add(line)
		}
		if complete {
			totals = append(totals, domain.Price{Currency: strings.ToUpper(candidate.Currency), Value: sum})
		}
	}
	return totals
}

// Quote рассчитывает строки и итог в запрошенной валюте.
// Если хотя бы у одной строки нет цены, это ошибка, а не ноль.
func (e *Engine) Quote(filled []FilledProduct, currency string) (Quote, error) {
	if currency == "" {
		return Quote{}, domain.ErrCurrencyRequired
	}
	if len(filled) == 0 {
		return Quote{}, domain.ErrCartEmpty
	}

	quote := Quote{Currency: strings.ToUpper(currency), Lines: make([]Line, 0, len(filled)), Total: decimal.Zero}
	for _, fp := range filled {
		unit, total, err := fp.LinePrice(currency)
		if err != nil {
			return Quote{}, err
		}
		quote.Lines = append(quote.Lines, Line{FilledProduct: fp, UnitPrice: unit, LineTotal: total})
		quote.Total = quote.Total.Add(total)
	}
	return quote, nil
}
