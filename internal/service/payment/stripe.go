package payment

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const defaultShippingLabel = "Doprava (Shipping)"

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	Get(id string, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

type stripeCustomerAPI interface {
	New(params *stripe.CustomerParams) (*stripe.Customer, error)
	Get(id string, params *stripe.CustomerParams) (*stripe.Customer, error)
}

type stripeClients struct {
	sessions  stripeSessionAPI
	customers stripeCustomerAPI
}

// StripeConfig настраивает StripeProvider.
type StripeConfig struct {
	SecretKey string
	// ServerURL: публичный адрес магазина для success/cancel ссылок.
	ServerURL string
	Backends  *stripe.Backends
	Logger    *log.Entry

	clients *stripeClients
}

// StripeProvider создаёт Stripe Checkout сессии.
type StripeProvider struct {
	api       stripeClients
	serverURL string
	logger    *log.Entry
}

var (
	_ Provider      = (*StripeProvider)(nil)
	_ SessionReuser = (*StripeProvider)(nil)
)

// NewStripeProvider создаёт провайдера. Без секретного ключа возвращает ErrPaymentProviderNotConfigured.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	key := strings.TrimSpace(cfg.SecretKey)
	if key == "" && cfg.clients == nil {
		return nil, fmt.Errorf("stripe: %w", domain.ErrPaymentProviderNotConfigured)
	}
	if strings.TrimSpace(cfg.ServerURL) == "" {
		return nil, errors.New("stripe: server url is required")
	}

	var clients stripeClients
	if cfg.clients != nil {
		clients = *cfg.clients
	} else {
		sc := client.New(key, cfg.Backends)
		clients = stripeClients{
			sessions:  sc.CheckoutSessions,
			customers: sc.Customers,
		}
	}
	if clients.sessions == nil || clients.customers == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.WithField("component", "payment-stripe")
	}

	return &StripeProvider{
		api:       clients,
		serverURL: strings.TrimRight(cfg.ServerURL, "/"),
		logger:    logger,
	}, nil
}

// Name возвращает идентификатор провайдера.
func (p *StripeProvider) Name() domain.PaymentProvider {
	return domain.PaymentProviderStripe
}

// CreateSession создаёт Checkout сессию с позициями заказа и фиксированной доставкой.
func (p *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (domain.PaymentSession, error) {
	order := req.Order
	currency := strings.ToLower(order.Details.Currency)
	orderURL := OrderURL(p.serverURL, order.Locale, order.ID, order.Details.OrderSecret)

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(orderURL),
		CancelURL:  stripe.String(withQuery(orderURL, "cancelled", "true")),
		LineItems:  p.lineItems(req.Items, currency),
		ShippingOptions: []*stripe.CheckoutSessionShippingOptionParams{
			{ShippingRateData: shippingRate(req, currency)},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"orderID": order.ID},
		},
		AutomaticTax:    &stripe.CheckoutSessionAutomaticTaxParams{Enabled: stripe.Bool(true)},
		TaxIDCollection: &stripe.CheckoutSessionTaxIDCollectionParams{Enabled: stripe.Bool(true)},
	}
	params.Context = ctx
	params.AddMetadata("orderID", order.ID)
	params.AddMetadata("locale", order.Locale)
	params.AddMetadata("currency", currency)

	var customerID string
	if req.Customer != nil {
		id, err := p.ensureCustomer(ctx, req.Customer, order.ShippingAddress)
		if err != nil {
			return domain.PaymentSession{}, err
		}
		customerID = id
		params.Customer = stripe.String(id)
		params.CustomerUpdate = &stripe.CheckoutSessionCustomerUpdateParams{
			Shipping: stripe.String("auto"),
			Address:  stripe.String("auto"),
			Name:     stripe.String("auto"),
		}
	} else if email := order.ShippingAddress.Email; email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	session, err := p.api.sessions.New(params)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"session_id": session.ID,
	}).Debug("stripe session created")

	return domain.PaymentSession{
		Provider:           domain.PaymentProviderStripe,
		URL:                session.URL,
		SessionID:          session.ID,
		ProviderCustomerID: customerID,
	}, nil
}

// ReuseSession возвращает сохранённую сессию, если она ещё открыта.
func (p *StripeProvider) ReuseSession(ctx context.Context, sessionID string) (domain.PaymentSession, bool, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	session, err := p.api.sessions.Get(sessionID, params)
	if err != nil {
		return domain.PaymentSession{}, false, fmt.Errorf("stripe: get checkout session: %w", err)
	}
	if session.Status != stripe.CheckoutSessionStatusOpen || session.URL == "" {
		return domain.PaymentSession{}, false, nil
	}

	return domain.PaymentSession{
		Provider:  domain.PaymentProviderStripe,
		URL:       session.URL,
		SessionID: session.ID,
	}, true, nil
}

// ensureCustomer переиспользует сохранённого клиента Stripe или создаёт нового.
func (p *StripeProvider) ensureCustomer(ctx context.Context, customer *domain.Customer, shipping domain.Address) (string, error) {
	if customer.StripeCustomerID != "" {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		existing, err := p.api.customers.Get(customer.StripeCustomerID, params)
		if err == nil && existing != nil && !existing.Deleted {
			return existing.ID, nil
		}
		if err != nil {
			p.logger.WithError(err).WithField("customer_id", customer.ID).Warn("stored stripe customer unavailable")
		}
	}

	name := firstNonEmpty(customer.Name, shipping.Name)
	phone := firstNonEmpty(customer.Phone, shipping.Phone)
	params := &stripe.CustomerParams{
		Email: stripe.String(firstNonEmpty(customer.Email, shipping.Email)),
		Name:  stripe.String(name),
		Phone: stripe.String(phone),
		Shipping: &stripe.CustomerShippingParams{
			Name:  stripe.String(name),
			Phone: stripe.String(phone),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(shipping.Address),
				City:       stripe.String(shipping.City),
				Country:    stripe.String(strings.ToUpper(shipping.Country)),
				PostalCode: stripe.String(shipping.PostalCode),
				State:      stripe.String(shipping.Region),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("customerID", customer.ID)

	created, err := p.api.customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create customer: %w", err)
	}
	return created.ID, nil
}

func (p *StripeProvider) lineItems(items []LineItem, currency string) []*stripe.CheckoutSessionLineItemParams {
	out := make([]*stripe.CheckoutSessionLineItemParams, 0, len(items))
	for _, item := range items {
		productData := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(item.Name),
		}
		if item.Description != "" {
			productData.Description = stripe.String(item.Description)
		}
		if img := p.absoluteURL(item.ImageURL); img != "" {
			productData.Images = stripe.StringSlice([]string{img})
		}

		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}

		out = append(out, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(currency),
				UnitAmount:  stripe.Int64(MinorUnits(item.UnitPrice)),
				TaxBehavior: stripe.String(string(stripe.PriceTaxBehaviorInclusive)),
				ProductData: productData,
			},
		})
	}
	return out
}

func (p *StripeProvider) absoluteURL(raw string) string {
	switch {
	case raw == "":
		return ""
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return raw
	default:
		return p.serverURL + "/" + strings.TrimLeft(raw, "/")
	}
}

func shippingRate(req SessionRequest, currency string) *stripe.CheckoutSessionShippingOptionShippingRateDataParams {
	addr := req.Order.ShippingAddress

	label := req.ShippingLabel
	if label != "" && addr.PickupPointID != "" {
		label = fmt.Sprintf("%s (%s)", label, addr.PickupPointID)
	}
	if label == "" {
		label = defaultShippingLabel
	}

	metadata := map[string]string{
		"orderID":  req.Order.ID,
		"locale":   req.Order.Locale,
		"currency": currency,
	}
	if addr.PickupPointID != "" {
		metadata["pickupPointID"] = addr.PickupPointID
		metadata["pickupPointName"] = addr.PickupPointName
		metadata["pickupPointBranchCode"] = addr.PickupPointBranchCode
	}

	return &stripe.CheckoutSessionShippingOptionShippingRateDataParams{
		Type:        stripe.String("fixed_amount"),
		DisplayName: stripe.String(label),
		TaxBehavior: stripe.String("inclusive"),
		FixedAmount: &stripe.CheckoutSessionShippingOptionShippingRateDataFixedAmountParams{
			Amount:   stripe.Int64(MinorUnits(req.Order.Details.ShippingCost)),
			Currency: stripe.String(currency),
		},
		DeliveryEstimate: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateParams{
			Minimum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMinimumParams{
				Unit:  stripe.String("day"),
				Value: stripe.Int64(2),
			},
			Maximum: &stripe.CheckoutSessionShippingOptionShippingRateDataDeliveryEstimateMaximumParams{
				Unit:  stripe.String("day"),
				Value: stripe.Int64(7),
			},
		},
		Metadata: metadata,
	}
}

func withQuery(raw, key, value string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set(key, value)
	u.RawQuery = q.Encode()
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
