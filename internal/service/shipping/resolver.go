// Package shipping выбирает курьера и рассчитывает стоимость доставки по весу и стране.
package shipping

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
)

// Rate: результат расчёта доставки.
type Rate struct {
	Courier      domain.Courier
	Zone         domain.DeliveryZone
	WeightGrams  int64
	Cost         decimal.Decimal
	FreeShipping bool
}

// Label возвращает отображаемое имя способа доставки.
func (r Rate) Label() string {
	if r.Courier.Settings.Label != "" {
		return r.Courier.Settings.Label
	}
	return r.Courier.Key
}

// Request: входные данные для расчёта доставки.
type Request struct {
	CourierKey string
	Country    string
	Currency   string
	// WeightGrams: общий вес посылки.
	WeightGrams int64
	// CartTotal используется для порога бесплатной доставки.
	CartTotal decimal.Decimal
}

// Resolver рассчитывает стоимость доставки по справочнику курьеров.
type Resolver struct {
	couriers *Directory
}

// NewResolver создаёт резолвер поверх справочника.
func NewResolver(couriers *Directory) *Resolver {
	return &Resolver{couriers: couriers}
}

// TotalWeight суммирует вес строк с учётом количества.
func TotalWeight(filled []pricing.FilledProduct) int64 {
	var total int64
	for _, fp := range filled {
		total += fp.WeightGrams() * fp.Quantity
	}
	return total
}

// Resolve находит курьера, зону, весовой диапазон и цену в валюте.
// Любой промах возвращает ErrCourierNotFound или ErrShippingCostNotFound.
func (r *Resolver) Resolve(req Request) (Rate, error) {
	courier, ok := r.couriers.Find(req.CourierKey)
	if !ok {
		return Rate{}, fmt.Errorf("%w: %q", domain.ErrCourierNotFound, req.CourierKey)
	}

	rate := Rate{Courier: courier, WeightGrams: req.WeightGrams}

	zoneIdx := -1
	for i, zone := range courier.DeliveryZones {
		if zone.Covers(req.Country) {
			zoneIdx = i
			break
		}
	}
	if zoneIdx < 0 {
		return Rate{}, fmt.Errorf("%w: no zone for %s", domain.ErrShippingCostNotFound, req.Country)
	}
	rate.Zone = courier.DeliveryZones[zoneIdx]

	if threshold, ok := rate.Zone.FreeShipping.Find(req.Currency); ok && req.CartTotal.GreaterThanOrEqual(threshold) {
		rate.Cost = decimal.Zero
		rate.FreeShipping = true
		return rate, nil
	}

	for _, weightRange := range rate.Zone.Range {
		if !weightRange.Contains(req.WeightGrams) {
			continue
		}
		cost, found := weightRange.Pricing.Find(req.Currency)
		if !found {
			return Rate{}, fmt.Errorf("%w: no %s price for %dg", domain.ErrShippingCostNotFound, req.Currency, req.WeightGrams)
		}
		rate.Cost = cost
		return rate, nil
	}

	return Rate{}, fmt.Errorf("%w: weight %dg is out of range", domain.ErrShippingCostNotFound, req.WeightGrams)
}

// Courier возвращает включённого курьера по ключу.
func (r *Resolver) Courier(key string) (domain.Courier, bool) {
	return r.couriers.Find(key)
}
