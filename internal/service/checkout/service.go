// Package checkout связывает расчёт цен, доставку, создание заказа, склад и оплату
// в один сценарий оформления и повторной оплаты.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
)

// Request: отправленная корзина с формой оформления.
type Request struct {
	Cart     []domain.CartItem
	Country  string
	Locale   string
	Currency string
	Form     ordering.Form
	Customer domain.Identity
}

// Result: результат оформления. Пустой URL без заказа означает пустую корзину.
type Result struct {
	URL   string
	Order *domain.Order
}

// RetryRequest: запрос повторной оплаты.
type RetryRequest struct {
	OrderID  string
	Locale   string
	Secret   string
	Customer domain.Identity
}

// Deps: зависимости сервиса оформления.
type Deps struct {
	Products  domain.ProductRepository
	Orders    domain.OrderRepository
	Customers domain.CustomerRepository
	Timeline  domain.TimelineRepository
	Outbox    domain.OutboxRepository
	Pricing   *pricing.Engine
	Shipping  *shipping.Resolver
	Builder   *ordering.Builder
	Ledger    *inventory.Ledger
	Payments  *payment.Broker
	Settings  payment.SettingsSource
	Metrics   *metrics.CheckoutMetrics
	// ServerURL: публичный адрес магазина для ссылок на страницу заказа.
	ServerURL string
}

// Service реализует оформление заказа и повторную оплату.
type Service struct {
	deps   Deps
	logger *log.Entry
	now    func() time.Time
}

// NewService создаёт сервис оформления.
func NewService(deps Deps, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "checkout")
	}
	if deps.Pricing == nil {
		deps.Pricing = pricing.NewEngine()
	}
	return &Service{
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
}

// Checkout рассчитывает корзину, создаёт заказ, списывает склад и возвращает ссылку на оплату.
// Ошибки до создания заказа не оставляют следов; ошибки после него оставляют заказ в pending.
func (s *Service) Checkout(ctx context.Context, req Request) (result Result, err error) {
	started := s.now()
	s.deps.Metrics.CheckoutStarted()
	defer func() {
		s.deps.Metrics.CheckoutFinished(checkoutResult(err), s.now().Sub(started))
	}()

	if len(req.Cart) == 0 {
		return Result{}, nil
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		return Result{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, domain.ErrCurrencyRequired)
	}

	products, err := s.deps.Products.FindByIDs(ctx, cartProductIDs(req.Cart))
	if err != nil {
		return Result{}, fmt.Errorf("load products: %w", err)
	}

	filled, err := s.deps.Pricing.FillProducts(req.Cart, products)
	if err != nil {
		return Result{}, err
	}
	quote, err := s.deps.Pricing.Quote(filled, currency)
	if err != nil {
		return Result{}, err
	}

	rate, err := s.deps.Shipping.Resolve(shipping.Request{
		CourierKey:  req.Form.DeliveryMethod,
		Country:     req.Country,
		Currency:    currency,
		WeightGrams: shipping.TotalWeight(filled),
		CartTotal:   quote.Total,
	})
	if err != nil {
		return Result{}, err
	}

	order, err := s.deps.Builder.Create(ctx, ordering.Input{
		Form:     req.Form,
		Quote:    quote,
		Rate:     rate,
		Locale:   req.Locale,
		Customer: req.Customer,
	})
	if err != nil {
		return Result{}, err
	}
	result.Order = &order

	s.recordCreated(ctx, order)

	// Сбой списания не отменяет заказ: флаг extractedFromStock остаётся false.
	if err := s.deps.Ledger.Extract(ctx, order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Warn("stock extraction incomplete")
	}

	customer := s.customerFor(ctx, req.Customer, req.Form)
	if customer != nil {
		if err := s.deps.Customers.UpdateLastBuyerType(ctx, customer.ID, req.Form.BuyerType); err != nil {
			s.logger.WithError(err).WithField("customer_id", customer.ID).Warn("failed to update last buyer type")
		}
	}

	if !rate.Courier.Prepaid {
		result.URL = payment.OrderURL(s.deps.ServerURL, order.Locale, order.ID, order.Details.OrderSecret)
		return result, nil
	}

	settings, err := s.deps.Settings.Current(ctx)
	if err != nil {
		return result, err
	}

	session, err := s.deps.Payments.CreateSession(ctx, settings, payment.SessionRequest{
		Order:         order,
		Items:         lineItemsFromQuote(quote),
		ShippingLabel: rate.Label(),
		Customer:      customer,
	})
	if err != nil {
		return result, err
	}

	result.URL = session.URL
	return result, nil
}

// RetryPayment возвращает ссылку на оплату существующего заказа в статусе unpaid или cancelled.
// Доступ есть у владельца заказа и у предъявителя секрета.
func (s *Service) RetryPayment(ctx context.Context, req RetryRequest) (string, error) {
	if strings.TrimSpace(req.OrderID) == "" || strings.TrimSpace(req.Locale) == "" {
		return "", fmt.Errorf("%w: missing orderId or locale", domain.ErrInvalidRequest)
	}

	order, err := s.deps.Orders.Get(ctx, req.OrderID)
	if err != nil {
		return "", err
	}

	// Сначала статус (400), затем права (403).
	if !order.Details.Status.RetryEligible() {
		return "", domain.ErrRetryNotAllowed
	}
	if !order.OwnedBy(req.Customer.CustomerID) && !order.SecretMatches(req.Secret) {
		return "", domain.ErrForbidden
	}

	settings, err := s.deps.Settings.Current(ctx)
	if err != nil {
		return "", err
	}

	items, err := s.lineItemsFromOrder(ctx, order)
	if err != nil {
		return "", err
	}

	label := order.Details.Shipping
	if s.deps.Shipping != nil {
		if courier, ok := s.deps.Shipping.Courier(order.Details.Shipping); ok && courier.Settings.Label != "" {
			label = courier.Settings.Label
		}
	}

	// Локаль запроса определяет язык ссылок возврата, в заказе она не меняется.
	sessionOrder := order
	sessionOrder.Locale = req.Locale

	var customer *domain.Customer
	if order.OwnedBy(req.Customer.CustomerID) {
		customer = s.customerFor(ctx, req.Customer, ordering.Form{Shipping: order.ShippingAddress})
	}

	session, err := s.deps.Payments.Retry(ctx, settings, payment.SessionRequest{
		Order:         sessionOrder,
		Items:         items,
		ShippingLabel: label,
		Customer:      customer,
	})
	if err != nil {
		return "", err
	}

	s.logger.WithFields(log.Fields{
		"order_id": order.ID,
		"provider": session.Provider,
	}).Info("payment retry prepared")

	return session.URL, nil
}

func (s *Service) recordCreated(ctx context.Context, order domain.Order) {
	s.deps.Metrics.RecordStatusTransition(string(order.Details.Status))

	if s.deps.Timeline != nil {
		event := domain.TimelineEvent{
			OrderID:  order.ID,
			Type:     domain.TimelineOrderCreated,
			Status:   order.Details.Status,
			Occurred: order.CreatedAt,
		}
		if err := s.deps.Timeline.Append(ctx, event); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("failed to append timeline event")
		} else {
			s.deps.Metrics.RecordTimelineEvent()
		}
	}

	if s.deps.Outbox != nil {
		msg, err := domain.NewOrderMessage(domain.OutboxEventOrderCreated, order.ID, order)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to encode order event")
			return
		}
		if _, err := s.deps.Outbox.Enqueue(ctx, msg); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to enqueue order event")
			return
		}
		s.deps.Metrics.RecordOutboxEvent()
	}
}

// customerFor возвращает запись авторизованного покупателя, создавая её при первом заказе.
func (s *Service) customerFor(ctx context.Context, identity domain.Identity, form ordering.Form) *domain.Customer {
	if identity.Guest() || s.deps.Customers == nil {
		return nil
	}

	customer, err := s.deps.Customers.Get(ctx, identity.CustomerID)
	if err == nil {
		return &customer
	}
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		s.logger.WithError(err).WithField("customer_id", identity.CustomerID).Warn("customer lookup failed")
		return nil
	}

	now := s.now().UTC()
	customer = domain.Customer{
		ID:        identity.CustomerID,
		Email:     firstNonEmpty(identity.Email, form.Shipping.Email),
		Name:      form.Shipping.Name,
		Phone:     form.Shipping.Phone,
		Shipping:  form.Shipping,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.deps.Customers.Upsert(ctx, customer); err != nil {
		s.logger.WithError(err).WithField("customer_id", identity.CustomerID).Warn("failed to register customer")
		return nil
	}
	return &customer
}

// lineItemsFromOrder берёт цены из снимка заказа, а описание и изображения из каталога.
func (s *Service) lineItemsFromOrder(ctx context.Context, order domain.Order) ([]payment.LineItem, error) {
	ids := make([]string, 0, len(order.Products))
	for _, item := range order.Products {
		ids = append(ids, item.ProductID)
	}
	products, err := s.deps.Products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}

	items := make([]payment.LineItem, 0, len(order.Products))
	for _, snapshot := range order.Products {
		item := payment.LineItem{
			Name:        snapshot.ProductName,
			Description: snapshot.ProductName,
			Quantity:    snapshot.Quantity,
			UnitPrice:   snapshot.Price,
		}
		if product, ok := byID[snapshot.ProductID]; ok {
			fp := pricing.FilledProduct{Product: product, Title: product.Title, ImageURL: product.ImageURL}
			if snapshot.HasVariant {
				if variant, found := product.Variant(snapshot.VariantSlug); found {
					v := *variant
					fp.Variant = &v
					if v.ImageURL != "" {
						fp.ImageURL = v.ImageURL
					}
				}
			}
			item.Description = fp.Description()
			item.ImageURL = fp.ImageURL
			if item.Name == "" {
				item.Name = product.Title
			}
		}
		items = append(items, item)
	}
	return items, nil
}

func lineItemsFromQuote(quote pricing.Quote) []payment.LineItem {
	items := make([]payment.LineItem, 0, len(quote.Lines))
	for _, line := range quote.Lines {
		items = append(items, payment.LineItem{
			Name:        line.Title,
			Description: line.Description(),
			ImageURL:    line.ImageURL,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}
	return items
}

func cartProductIDs(cart []domain.CartItem) []string {
	seen := make(map[string]struct{}, len(cart))
	ids := make([]string, 0, len(cart))
	for _, item := range cart {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	return ids
}

func checkoutResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case domain.IsValidation(err):
		return "rejected"
	default:
		return "error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
