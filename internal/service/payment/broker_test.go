package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type brokerFixture struct {
	broker    *Broker
	orders    domain.OrderRepository
	customers domain.CustomerRepository
	timeline  domain.TimelineRepository
	stripe    *MockProvider
	autopay   *MockProvider
	order     domain.Order
}

func newBrokerFixture(t *testing.T) brokerFixture {
	t.Helper()
	ctx := context.Background()

	orders := memory.NewOrderRepository()
	customers := memory.NewCustomerRepository()
	timeline := memory.NewTimelineRepository()

	order := testOrder()
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}

	stripeMock := NewMockProvider(domain.PaymentProviderStripe)
	stripeMock.SessionID = "cs_test"
	autopayMock := NewMockProvider(domain.PaymentProviderAutopay)

	return brokerFixture{
		broker:    NewBroker(orders, customers, timeline, nil, nil, stripeMock, autopayMock),
		orders:    orders,
		customers: customers,
		timeline:  timeline,
		stripe:    stripeMock,
		autopay:   autopayMock,
		order:     order,
	}
}

func testOrder() domain.Order {
	return domain.Order{
		ID:     "01J0ORDER",
		Locale: "cs",
		Products: []domain.OrderProduct{
			{ID: "l1", ProductID: "P1", ProductName: "Mug", Quantity: 2, Price: decimal.RequireFromString("12.50"), PriceTotal: decimal.RequireFromString("25.00")},
		},
		Details: domain.OrderDetails{
			Shipping:          "packeta",
			ShippingCost:      decimal.RequireFromString("4.99"),
			Currency:          "EUR",
			Total:             decimal.RequireFromString("25.00"),
			TotalWithShipping: decimal.RequireFromString("29.99"),
			Status:            domain.OrderStatusPending,
			OrderSecret:       "secret-secret-secret-1234",
		},
		ShippingAddress: domain.Address{Name: "Jana", Email: "jana@example.com", Country: "CZ", City: "Praha"},
	}
}

func TestBrokerCreateSessionStoresSessionID(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	session, err := f.broker.CreateSession(ctx, Settings{Provider: domain.PaymentProviderStripe}, SessionRequest{Order: f.order})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.URL == "" || session.SessionID != "cs_test_1" {
		t.Fatalf("unexpected session %+v", session)
	}

	stored, err := f.orders.Get(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Details.StripeSessionID != "cs_test_1" {
		t.Fatalf("expected session id stored, got %q", stored.Details.StripeSessionID)
	}

	events, err := f.timeline.List(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(events) != 1 || events[0].Type != domain.TimelinePaymentSession {
		t.Fatalf("expected payment session timeline event, got %+v", events)
	}
}

func TestBrokerRoutesBySettings(t *testing.T) {
	f := newBrokerFixture(t)

	session, err := f.broker.CreateSession(context.Background(), Settings{Provider: domain.PaymentProviderAutopay}, SessionRequest{Order: f.order})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != domain.PaymentProviderAutopay {
		t.Fatalf("expected autopay session, got %s", session.Provider)
	}
	if f.stripe.CreateCalls != 0 || f.autopay.CreateCalls != 1 {
		t.Fatalf("unexpected calls stripe=%d autopay=%d", f.stripe.CreateCalls, f.autopay.CreateCalls)
	}
}

func TestBrokerProviderErrors(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()

	_, err := f.broker.CreateSession(ctx, Settings{Provider: domain.PaymentProviderP24}, SessionRequest{Order: f.order})
	if !errors.Is(err, domain.ErrPaymentProviderNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}

	_, err = f.broker.CreateSession(ctx, Settings{Provider: "paypal"}, SessionRequest{Order: f.order})
	if !errors.Is(err, domain.ErrPaymentProviderUnknown) {
		t.Fatalf("expected unknown provider, got %v", err)
	}

	f.stripe.Err = errors.New("stripe down")
	_, err = f.broker.CreateSession(ctx, Settings{Provider: domain.PaymentProviderStripe}, SessionRequest{Order: f.order})
	if !errors.Is(err, domain.ErrPaymentSession) {
		t.Fatalf("expected payment session error, got %v", err)
	}
}

func TestBrokerRetryReusesOpenSession(t *testing.T) {
	f := newBrokerFixture(t)
	f.stripe.Open = true
	f.order.Details.StripeSessionID = "cs_open"

	session, err := f.broker.Retry(context.Background(), Settings{Provider: domain.PaymentProviderStripe}, SessionRequest{Order: f.order})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if session.SessionID != "cs_open" {
		t.Fatalf("expected reused session, got %+v", session)
	}
	if f.stripe.CreateCalls != 0 {
		t.Fatalf("expected no new session, got %d", f.stripe.CreateCalls)
	}
}

func TestBrokerRetryCreatesWhenSessionClosed(t *testing.T) {
	f := newBrokerFixture(t)
	ctx := context.Background()
	f.order.Details.StripeSessionID = "cs_expired"

	session, err := f.broker.Retry(ctx, Settings{Provider: domain.PaymentProviderStripe}, SessionRequest{Order: f.order})
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.stripe.ReuseCalls != 1 || f.stripe.CreateCalls != 1 {
		t.Fatalf("unexpected calls reuse=%d create=%d", f.stripe.ReuseCalls, f.stripe.CreateCalls)
	}

	stored, err := f.orders.Get(ctx, f.order.ID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if stored.Details.StripeSessionID != session.SessionID {
		t.Fatalf("expected session id overwritten with %q, got %q", session.SessionID, stored.Details.StripeSessionID)
	}
}

func TestBrokerRetryFallsBackOnLookupError(t *testing.T) {
	f := newBrokerFixture(t)
	f.stripe.ReuseErr = errors.New("lookup failed")
	f.order.Details.StripeSessionID = "cs_unknown"

	if _, err := f.broker.Retry(context.Background(), Settings{Provider: domain.PaymentProviderStripe}, SessionRequest{Order: f.order}); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if f.stripe.CreateCalls != 1 {
		t.Fatalf("expected a fresh session, got %d creates", f.stripe.CreateCalls)
	}
}

func TestBrokerStoresProviderCustomer(t *testing.T) {
	ctx := context.Background()
	orders := memory.NewOrderRepository()
	customers := memory.NewCustomerRepository()
	order := testOrder()
	if err := orders.Create(ctx, order); err != nil {
		t.Fatalf("create order: %v", err)
	}
	customer := domain.Customer{ID: "c-1", Email: "jana@example.com"}
	if err := customers.Upsert(ctx, customer); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	provider := &customerProvider{customerID: "cus_123"}
	broker := NewBroker(orders, customers, nil, nil, nil, provider)

	if _, err := broker.CreateSession(ctx, Settings{Provider: domain.PaymentProviderStripe}, SessionRequest{Order: order, Customer: &customer}); err != nil {
		t.Fatalf("create session: %v", err)
	}

	stored, err := customers.Get(ctx, "c-1")
	if err != nil {
		t.Fatalf("get customer: %v", err)
	}
	if stored.StripeCustomerID != "cus_123" {
		t.Fatalf("expected stripe customer stored, got %q", stored.StripeCustomerID)
	}
}

type customerProvider struct {
	customerID string
}

func (p *customerProvider) Name() domain.PaymentProvider { return domain.PaymentProviderStripe }

func (p *customerProvider) CreateSession(_ context.Context, req SessionRequest) (domain.PaymentSession, error) {
	return domain.PaymentSession{
		Provider:           domain.PaymentProviderStripe,
		URL:                "https://checkout.example/" + req.Order.ID,
		SessionID:          "cs_1",
		ProviderCustomerID: p.customerID,
	}, nil
}

func TestStaticSettings(t *testing.T) {
	settings, err := StaticSettings{Provider: " Stripe "}.Current(context.Background())
	if err != nil {
		t.Fatalf("current: %v", err)
	}
	if settings.Provider != domain.PaymentProviderStripe {
		t.Fatalf("unexpected provider %s", settings.Provider)
	}

	if _, err := (StaticSettings{Provider: "cash"}).Current(context.Background()); !errors.Is(err, domain.ErrPaymentProviderUnknown) {
		t.Fatalf("expected unknown provider, got %v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"12.50", 1250},
		{"0.1", 10},
		{"19.999", 2000},
		{"0", 0},
	}
	for _, tt := range tests {
		if got := MinorUnits(decimal.RequireFromString(tt.in)); got != tt.want {
			t.Errorf("MinorUnits(%s) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if !FromMinorUnits(2999).Equal(decimal.RequireFromString("29.99")) {
		t.Errorf("FromMinorUnits(2999) = %s", FromMinorUnits(2999))
	}
}

func TestOrderURL(t *testing.T) {
	got := OrderURL("https://shop.example/", "cs", "01J0ORDER", "abc")
	if got != "https://shop.example/cs/order/01J0ORDER?x=abc" {
		t.Fatalf("unexpected url %q", got)
	}
	if got := OrderURL("https://shop.example", "en", "01J0ORDER", ""); got != "https://shop.example/en/order/01J0ORDER" {
		t.Fatalf("unexpected url %q", got)
	}
}
