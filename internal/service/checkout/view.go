package checkout

import (
	"context"
	"errors"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// OrderView: данные страницы заказа. Секрет и платёжные идентификаторы не раскрываются.
// Без прав на заказ заполнены только ID, Status и маскированный ContactEmail.
type OrderView struct {
	ID                string                 `json:"id"`
	Authorized        bool                   `json:"authorized"`
	Status            domain.OrderStatus     `json:"status"`
	ContactEmail      string                 `json:"contactEmail,omitempty"`
	Date              time.Time              `json:"date"`
	Currency          string                 `json:"currency"`
	Products          []domain.OrderProduct  `json:"products"`
	Total             decimal.Decimal        `json:"total"`
	ShippingCost      decimal.Decimal        `json:"shippingCost"`
	TotalWithShipping decimal.Decimal        `json:"totalWithShipping"`
	AmountPaid        decimal.Decimal        `json:"amountPaid"`
	Shipping          string                 `json:"shipping"`
	ShippingAddress   domain.Address         `json:"shippingAddress"`
	TrackingNumber    string                 `json:"trackingNumber,omitempty"`
	ShippingDate      *time.Time             `json:"shippingDate,omitempty"`
	Timeline          []domain.TimelineEvent `json:"timeline"`
	CanRetry          bool                   `json:"canRetry"`
	// RetryPath: относительная ссылка на повторную оплату, если она доступна.
	RetryPath string `json:"retryPath,omitempty"`
}

// Restricted оставляет только поля, которые видны без прав на заказ.
func (v OrderView) Restricted() map[string]any {
	return map[string]any{
		"id":           v.ID,
		"authorized":   false,
		"status":       v.Status,
		"contactEmail": v.ContactEmail,
	}
}

// OrderView возвращает полный заказ владельцу или предъявителю секрета,
// остальным только статус и маскированную почту.
func (s *Service) OrderView(ctx context.Context, orderID, secret string, identity domain.Identity) (OrderView, error) {
	if orderID == "" {
		return OrderView{}, domain.ErrOrderNotFound
	}

	order, err := s.deps.Orders.Get(ctx, orderID)
	if err != nil {
		return OrderView{}, err
	}
	email := s.contactEmail(ctx, order)
	if !order.OwnedBy(identity.CustomerID) && !order.SecretMatches(secret) {
		return OrderView{
			ID:           order.ID,
			Status:       order.Details.Status,
			ContactEmail: domain.MaskEmail(email),
		}, nil
	}

	view := OrderView{
		ID:                order.ID,
		Authorized:        true,
		Status:            order.Details.Status,
		ContactEmail:      email,
		Date:              order.Date,
		Currency:          order.Details.Currency,
		Products:          order.Products,
		Total:             order.Details.Total,
		ShippingCost:      order.Details.ShippingCost,
		TotalWithShipping: order.Details.TotalWithShipping,
		AmountPaid:        order.Details.AmountPaid,
		Shipping:          order.Details.Shipping,
		ShippingAddress:   order.ShippingAddress,
		TrackingNumber:    order.Details.TrackingNumber,
		ShippingDate:      order.Details.ShippingDate,
		Timeline:          []domain.TimelineEvent{},
		CanRetry:          order.Details.Status.RetryEligible(),
	}

	if s.deps.Timeline != nil {
		events, err := s.deps.Timeline.List(ctx, order.ID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to load timeline")
		} else if len(events) > 0 {
			view.Timeline = events
		}
	}

	if view.CanRetry {
		q := url.Values{}
		q.Set("orderId", order.ID)
		q.Set("locale", order.Locale)
		if secret != "" {
			q.Set("x", secret)
		}
		view.RetryPath = "/next/retry-payment?" + q.Encode()
	}

	return view, nil
}

// contactEmail берёт почту покупателя, а для гостя или без записи покупателя почту доставки.
func (s *Service) contactEmail(ctx context.Context, order domain.Order) string {
	if order.CustomerID != "" && s.deps.Customers != nil {
		customer, err := s.deps.Customers.Get(ctx, order.CustomerID)
		switch {
		case err == nil && customer.Email != "":
			return customer.Email
		case err != nil && !errors.Is(err, domain.ErrCustomerNotFound):
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("customer lookup for order page failed")
		}
	}
	return order.ShippingAddress.Email
}
