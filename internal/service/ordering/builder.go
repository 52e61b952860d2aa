// Package ordering собирает снимок заказа из проверенных данных чекаута и сохраняет его.
package ordering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
)

// InvoiceInput: реквизиты счёта из формы.
type InvoiceInput struct {
	Name       string `json:"name"`
	TIN        string `json:"tin,omitempty"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode"`
}

// Form: проверенные данные формы оформления заказа.
type Form struct {
	BuyerType         domain.BuyerType
	IndividualInvoice bool
	Shipping          domain.Address
	Invoice           *InvoiceInput
	DeliveryMethod    string
}

// Input: всё, что нужно для сборки заказа.
type Input struct {
	Form     Form
	Quote    pricing.Quote
	Rate     shipping.Rate
	Locale   string
	Customer domain.Identity
}

// Builder собирает и сохраняет заказы.
type Builder struct {
	orders  domain.OrderRepository
	secrets *SecretGenerator
	logger  *log.Entry
	now     func() time.Time
}

// NewBuilder создаёт сборщик заказов. secretLength < 24 поднимается до 24.
func NewBuilder(orders domain.OrderRepository, secretLength int, logger *log.Entry) *Builder {
	if logger == nil {
		logger = log.WithField("component", "order-builder")
	}
	return &Builder{
		orders:  orders,
		secrets: NewSecretGenerator(secretLength, orders.SecretExists),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewOrderID выдаёт URL-safe идентификатор заказа.
func NewOrderID() string {
	return ulid.Make().String()
}

// Build собирает снимок заказа в статусе pending без сохранения.
func (b *Builder) Build(ctx context.Context, in Input) (domain.Order, error) {
	if len(in.Quote.Lines) == 0 {
		return domain.Order{}, domain.ErrCartEmpty
	}

	secret, err := b.secrets.Generate(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	now := b.now()
	order := domain.Order{
		ID:         NewOrderID(),
		CustomerID: in.Customer.CustomerID,
		Date:       now,
		Locale:     in.Locale,
		Products:   make([]domain.OrderProduct, 0, len(in.Quote.Lines)),
		Details: domain.OrderDetails{
			Shipping:          in.Rate.Courier.Key,
			ShippingCost:      in.Rate.Cost,
			Currency:          in.Quote.Currency,
			Total:             in.Quote.Total,
			TotalWithShipping: in.Quote.Total.Add(in.Rate.Cost),
			AmountPaid:        decimal.Zero,
			Status:            domain.OrderStatusPending,
			OrderSecret:       secret,
		},
		ShippingAddress: in.Form.Shipping,
		Invoice:         buildInvoice(in.Form),
		PrintLabel: domain.PrintLabel{
			Weight: decimal.NewFromInt(in.Rate.WeightGrams).Div(decimal.NewFromInt(1000)),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, line := range in.Quote.Lines {
		item := domain.OrderProduct{
			ID:          uuid.NewString(),
			ProductID:   line.Product.ID,
			ProductName: line.Title,
			Quantity:    line.Quantity,
			Price:       line.UnitPrice,
			PriceTotal:  line.LineTotal,
		}
		if line.Product.EnableVariants && line.Variant != nil {
			item.HasVariant = true
			item.VariantSlug = line.Variant.VariantSlug
			if line.Variant.Color != nil {
				item.Color = line.Variant.Color.Slug
			}
			if line.Variant.Size != nil {
				item.Size = line.Variant.Size.Slug
			}
		}
		order.Products = append(order.Products, item)
	}

	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, fmt.Errorf("build order: %v", errs)
	}

	return order, nil
}

// Create собирает заказ и сохраняет его. Ошибка хранилища означает, что заказа нет.
func (b *Builder) Create(ctx context.Context, in Input) (domain.Order, error) {
	order, err := b.Build(ctx, in)
	if err != nil {
		return domain.Order{}, err
	}

	if err := b.orders.Create(ctx, order); err != nil {
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	b.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"currency": order.Details.Currency,
		"total":    order.Details.TotalWithShipping.String(),
		"shipping": order.Details.Shipping,
	}).Info("order created")

	return order, nil
}

// buildInvoice берёт адрес счёта из формы для компаний и индивидуальных счетов, иначе копирует адрес доставки.
// TIN пишется как есть: пустой TIN компании не блокирует сохранение.
func buildInvoice(form Form) domain.Invoice {
	isCompany := form.BuyerType == domain.BuyerTypeCompany
	invoice := domain.Invoice{IsCompany: isCompany}

	if (isCompany || form.IndividualInvoice) && form.Invoice != nil {
		invoice.Name = form.Invoice.Name
		invoice.Address = form.Invoice.Address
		invoice.City = form.Invoice.City
		invoice.Country = strings.ToUpper(form.Invoice.Country)
		invoice.Region = form.Invoice.Region
		invoice.PostalCode = form.Invoice.PostalCode
	} else {
		invoice.Name = form.Shipping.Name
		invoice.Address = form.Shipping.Address
		invoice.City = form.Shipping.City
		invoice.Country = strings.ToUpper(form.Shipping.Country)
		invoice.Region = form.Shipping.Region
		invoice.PostalCode = form.Shipping.PostalCode
	}

	if isCompany && form.Invoice != nil {
		invoice.TIN = strings.TrimSpace(form.Invoice.TIN)
	}

	return invoice
}
