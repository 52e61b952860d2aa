package domain

import (
	"slices"
	"strings"
)

// WeightRange: весовой диапазон зоны доставки. Границы включительные, в граммах.
type WeightRange struct {
	WeightFrom int64   `json:"weightFrom" yaml:"weightFrom"`
	WeightTo   int64   `json:"weightTo" yaml:"weightTo"`
	Pricing    Pricing `json:"pricing" yaml:"pricing"`
}

// Contains сообщает, попадает ли вес в диапазон.
func (r WeightRange) Contains(weight int64) bool {
	return r.WeightFrom <= weight && weight <= r.WeightTo
}

// DeliveryZone: набор стран с общей весовой тарификацией.
type DeliveryZone struct {
	Name         string        `json:"name" yaml:"name"`
	Countries    []string      `json:"countries" yaml:"countries"`
	FreeShipping Pricing       `json:"freeShipping,omitempty" yaml:"freeShipping,omitempty"`
	Range        []WeightRange `json:"range" yaml:"range"`
}

// Covers сообщает, входит ли страна в зону.
func (z DeliveryZone) Covers(country string) bool {
	return slices.ContainsFunc(z.Countries, func(c string) bool {
		return strings.EqualFold(c, country)
	})
}

// CourierSettings: отображаемые настройки курьера.
type CourierSettings struct {
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Courier: способ доставки с зонами и правилами цены.
type Courier struct {
	Key     string `json:"key" yaml:"key"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
	// Prepaid: перед отправкой нужна оплата через платёжного провайдера.
	Prepaid       bool            `json:"prepaid" yaml:"prepaid"`
	Settings      CourierSettings `json:"settings" yaml:"settings"`
	DeliveryZones []DeliveryZone  `json:"deliveryZones" yaml:"deliveryZones"`
}
