package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа в магазине.
type OrderStatus string

const (
	// OrderStatusPending: заказ создан, оплата ещё не подтверждена.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid: оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusUnpaid: платёж отклонён или отменён, возможна повторная оплата.
	OrderStatusUnpaid OrderStatus = "unpaid"
	// OrderStatusProcessing: заказ собирается на складе.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped: заказ передан курьеру.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusCompleted: заказ доставлен.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusCancelled: заказ отменён (клиентом, провайдером или администратором).
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned: товар возвращён.
	OrderStatusReturned OrderStatus = "returned"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusUnpaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCancelled, OrderStatusReturned:
		return true
	default:
		return false
	}
}

// RetryEligible сообщает, можно ли повторно инициировать оплату.
func (s OrderStatus) RetryEligible() bool {
	return s == OrderStatusUnpaid || s == OrderStatusCancelled
}

// ReleasesStock сообщает, возвращает ли переход в этот статус товар на склад.
func (s OrderStatus) ReleasesStock() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// BuyerType: тип покупателя на чекауте.
type BuyerType string

const (
	BuyerTypeIndividual BuyerType = "individual"
	BuyerTypeCompany    BuyerType = "company"
)

// OrderProduct: неизменяемый снимок позиции заказа.
type OrderProduct struct {
	// ID позиции нужен для однозначной идентификации и аудита.
	ID          string          `json:"id"`
	ProductID   string          `json:"product"`
	ProductName string          `json:"productName"`
	Quantity    int64           `json:"quantity"`
	HasVariant  bool            `json:"hasVariant"`
	VariantSlug string          `json:"variantSlug,omitempty"`
	Color       string          `json:"color,omitempty"`
	Size        string          `json:"size,omitempty"`
	Price       decimal.Decimal `json:"price"`
	PriceTotal  decimal.Decimal `json:"priceTotal"`
}

// Address: адрес доставки, снятый на момент оформления.
type Address struct {
	Name                  string `json:"name"`
	Address               string `json:"address"`
	City                  string `json:"city"`
	Country               string `json:"country"`
	Region                string `json:"region,omitempty"`
	PostalCode            string `json:"postalCode"`
	Email                 string `json:"email"`
	Phone                 string `json:"phone,omitempty"`
	PickupPointID         string `json:"pickupPointID,omitempty"`
	PickupPointName       string `json:"pickupPointName,omitempty"`
	PickupPointAddress    string `json:"pickupPointAddress,omitempty"`
	PickupPointBranchCode string `json:"pickupPointBranchCode,omitempty"`
}

// Invoice: данные для счёта. Для компаний TIN обязателен на уровне формы.
type Invoice struct {
	IsCompany  bool   `json:"isCompany"`
	Name       string `json:"name"`
	TIN        string `json:"tin,omitempty"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
}

// OrderDetails агрегирует денежные и платёжные поля заказа.
type OrderDetails struct {
	Shipping          string          `json:"shipping"`
	ShippingCost      decimal.Decimal `json:"shippingCost"`
	Currency          string          `json:"currency"`
	Total             decimal.Decimal `json:"total"`
	TotalWithShipping decimal.Decimal `json:"totalWithShipping"`
	AmountPaid        decimal.Decimal `json:"amountPaid"`
	Status            OrderStatus     `json:"status"`
	TransactionID     string          `json:"transactionID,omitempty"`
	// StripeSessionID: текущая сессия провайдера; ретрай может её заменить.
	StripeSessionID string     `json:"stripeSessionId,omitempty"`
	OrderSecret     string     `json:"orderSecret"`
	TrackingNumber  string     `json:"trackingNumber,omitempty"`
	ShippingDate    *time.Time `json:"shippingDate,omitempty"`
}

// PrintLabel: параметры посылки для печати этикетки.
type PrintLabel struct {
	// Weight в килограммах.
	Weight decimal.Decimal `json:"weight"`
}

// Order: заказ магазина вместе со снимком товаров и адресов.
type Order struct {
	ID                 string         `json:"id"`
	CustomerID         string         `json:"customer,omitempty"`
	Date               time.Time      `json:"date"`
	Locale             string         `json:"locale"`
	ExtractedFromStock bool           `json:"extractedFromStock"`
	Products           []OrderProduct `json:"products"`
	Details            OrderDetails   `json:"orderDetails"`
	ShippingAddress    Address        `json:"shippingAddress"`
	Invoice            Invoice        `json:"invoice"`
	PrintLabel         PrintLabel     `json:"printLabel"`
	CreatedAt          time.Time      `json:"createdAt"`
	UpdatedAt          time.Time      `json:"updatedAt"`
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.ID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if o.Details.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(o.Products) == 0 {
		errs = append(errs, ErrItemsRequired)
	}
	if o.Details.OrderSecret == "" {
		errs = append(errs, ErrOrderSecretRequired)
	}
	if !o.Details.Status.Valid() {
		errs = append(errs, ErrOrderStatusInvalid)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	calc := decimal.Zero
	for _, item := range o.Products {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.Price.IsNegative() {
			errs = append(errs, ErrItemPriceInvalid)
		}
		if !item.PriceTotal.Equal(item.Price.Mul(decimal.NewFromInt(item.Quantity))) {
			errs = append(errs, ErrAmountMismatch)
		}
		calc = calc.Add(item.PriceTotal)
	}
	if !calc.Equal(o.Details.Total) {
		errs = append(errs, ErrAmountMismatch)
	}
	if !o.Details.Total.Add(o.Details.ShippingCost).Equal(o.Details.TotalWithShipping) {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// OwnedBy сообщает, принадлежит ли заказ авторизованному клиенту.
func (o *Order) OwnedBy(customerID string) bool {
	return customerID != "" && o.CustomerID == customerID
}

// SecretMatches сравнивает предъявленный секрет с секретом заказа.
func (o *Order) SecretMatches(secret string) bool {
	return secret != "" && o.Details.OrderSecret != "" && secret == o.Details.OrderSecret
}

// MaskEmail скрывает адрес: первые два символа, звёздочки и домен.
func MaskEmail(email string) string {
	local, domainPart, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	visible := local
	if len(visible) > 2 {
		visible = visible[:2]
	}
	hidden := len(local) - len(visible)
	if hidden < 1 {
		hidden = 1
	}
	return visible + strings.Repeat("*", hidden) + "@" + domainPart
}

// OrderDetailsPatch описывает точечное обновление полей orderDetails.
// Nil-поля не изменяются; непустые перезаписывают значение (last-write-wins).
type OrderDetailsPatch struct {
	Status             *OrderStatus
	TransactionID      *string
	AmountPaid         *decimal.Decimal
	StripeSessionID    *string
	TrackingNumber     *string
	ShippingDate       *time.Time
	ExtractedFromStock *bool
}

// Apply применяет патч к заказу.
func (p OrderDetailsPatch) Apply(order *Order) {
	if p.Status != nil {
		order.Details.Status = *p.Status
	}
	if p.TransactionID != nil {
		order.Details.TransactionID = *p.TransactionID
	}
	if p.AmountPaid != nil {
		order.Details.AmountPaid = *p.AmountPaid
	}
	if p.StripeSessionID != nil {
		order.Details.StripeSessionID = *p.StripeSessionID
	}
	if p.TrackingNumber != nil {
		order.Details.TrackingNumber = *p.TrackingNumber
	}
	if p.ShippingDate != nil {
		d := *p.ShippingDate
		order.Details.ShippingDate = &d
	}
	if p.ExtractedFromStock != nil {
		order.ExtractedFromStock = *p.ExtractedFromStock
	}
}
