package domain

// StockAdjustment описывает изменение остатка и счётчика покупок по одной позиции.
type StockAdjustment struct {
	OrderID     string
	ProductID   string
	VariantSlug string
	// StockDelta применяется к стоку варианта (если VariantSlug задан) или товара.
	// Отрицательное значение списывает товар, положительное возвращает.
	StockDelta  int64
	BoughtDelta int64
}

// Validate проверяет, корректно ли заполнены ключевые поля корректировки.
func (a *StockAdjustment) Validate() []error {
	var errs []error

	if a.ProductID == "" {
		errs = append(errs, ErrStockProductRequired)
	}
	if a.StockDelta == 0 && a.BoughtDelta == 0 {
		errs = append(errs, ErrStockQtyInvalid)
	}

	return errs
}
