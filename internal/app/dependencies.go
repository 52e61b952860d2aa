package app

import (
	"errors"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/httpapi"
	"github.com/vladislavdragonenkov/storefront/internal/service/inventory"
	"github.com/vladislavdragonenkov/storefront/internal/service/ordering"
	"github.com/vladislavdragonenkov/storefront/internal/service/payment"
	"github.com/vladislavdragonenkov/storefront/internal/service/pricing"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/registry"
	"github.com/vladislavdragonenkov/storefront/internal/service/shipping"
)

// Dependencies содержит собранные сервисы витрины.
type Dependencies struct {
	Checkout   *checkout.Service
	Reconciler *reconcile.Reconciler
	Ledger     *inventory.Ledger
	Restock    *inventory.RestockHandler
	Handler    http.Handler
	Metrics    *metrics.CheckoutMetrics
	Logger     *log.Entry
}

// NewDependencies связывает доменные сервисы поверх выбранного хранилища.
func NewDependencies(cfg Config, rt *runtimeDependencies, m *metrics.CheckoutMetrics, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	if rt == nil {
		return nil, errors.New("storage dependencies are required")
	}

	couriers, err := loadCouriers(cfg.CouriersPath)
	if err != nil {
		return nil, err
	}

	providers, err := buildPaymentProviders(cfg, logger)
	if err != nil {
		return nil, err
	}

	ledger := inventory.NewLedger(rt.products, rt.orders, rt.timelineRepo, m, logger.WithField("component", "inventory"))
	broker := payment.NewBroker(rt.orders, rt.customers, rt.timelineRepo, m, logger.WithField("component", "payment-broker"), providers...)
	reconciler := reconcile.New(rt.orders, rt.customers, rt.timelineRepo, m,
		logger.WithField("component", "reconciler"),
		reconcile.WithWebhookSecret(cfg.StripeWebhookSecret),
		reconcile.WithOutbox(rt.outboxRepo),
	)

	checkoutSvc := checkout.NewService(checkout.Deps{
		Products:  rt.products,
		Orders:    rt.orders,
		Customers: rt.customers,
		Timeline:  rt.timelineRepo,
		Outbox:    rt.outboxRepo,
		Pricing:   pricing.NewEngine(),
		Shipping:  shipping.NewResolver(couriers),
		Builder:   ordering.NewBuilder(rt.orders, cfg.OrderSecretLength, logger.WithField("component", "order-builder")),
		Ledger:    ledger,
		Payments:  broker,
		Settings:  payment.StaticSettings{Provider: cfg.Paywall},
		Metrics:   m,
		ServerURL: cfg.ServerURL,
	}, logger.WithField("component", "checkout"))

	api := httpapi.New(httpapi.Config{
		JWTSecret:      cfg.JWTSecret,
		AdminToken:     cfg.AdminToken,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, httpapi.Deps{
		Checkout:    checkoutSvc,
		Reconciler:  reconciler,
		Idempotency: rt.idempotencyRepo,
		ARES:        registry.NewARES(cfg.ARESURL, nil),
		ORSR:        registry.NewORSR(cfg.ORSRURL, nil),
		Metrics:     m,
	}, logger.WithField("component", "http"))

	return &Dependencies{
		Checkout:   checkoutSvc,
		Reconciler: reconciler,
		Ledger:     ledger,
		Restock:    inventory.NewRestockHandler(ledger, logger.WithField("component", "restock")),
		Handler:    api.Routes(),
		Metrics:    m,
		Logger:     logger,
	}, nil
}

func loadCouriers(path string) (*shipping.Directory, error) {
	if path == "" {
		// Без справочника любой чекаут завершится ErrCourierNotFound.
		return shipping.NewDirectory(nil)
	}
	dir, err := shipping.LoadDirectory(path)
	if err != nil {
		return nil, fmt.Errorf("load couriers: %w", err)
	}
	return dir, nil
}

// buildPaymentProviders создаёт провайдеров, для которых заданы учётные данные.
// Провайдер без конфигурации пропускается: брокер ответит ErrPaymentProviderNotConfigured.
func buildPaymentProviders(cfg Config, logger *log.Entry) ([]payment.Provider, error) {
	var providers []payment.Provider
	skip := func(err error) error {
		if errors.Is(err, domain.ErrPaymentProviderNotConfigured) {
			logger.WithError(err).Debug("payment provider skipped")
			return nil
		}
		return err
	}

	if p, err := payment.NewStripeProvider(payment.StripeConfig{
		SecretKey: cfg.StripeSecretKey,
		ServerURL: cfg.ServerURL,
		Logger:    logger.WithField("component", "payment-stripe"),
	}); err == nil {
		providers = append(providers, p)
	} else if err := skip(err); err != nil {
		return nil, err
	}

	if p, err := payment.NewAutopayProvider(payment.AutopayConfig{
		ServiceID: cfg.AutopayServiceID,
		HashKey:   cfg.AutopayHashKey,
		Endpoint:  cfg.AutopayEndpoint,
	}); err == nil {
		providers = append(providers, p)
	} else if err := skip(err); err != nil {
		return nil, err
	}

	if p, err := payment.NewP24Provider(payment.P24Config{
		PosID:      cfg.P24PosID,
		MerchantID: cfg.P24MerchantID,
		SecretID:   cfg.P24SecretID,
		CRC:        cfg.P24CRC,
		Endpoint:   cfg.P24Endpoint,
		ServerURL:  cfg.ServerURL,
	}); err == nil {
		providers = append(providers, p)
	} else if err := skip(err); err != nil {
		return nil, err
	}

	if cfg.AllowMockIntegrations {
		paywall, err := domain.ParsePaymentProvider(cfg.Paywall)
		if err != nil {
			return nil, fmt.Errorf("paywall: %w", err)
		}
		if !hasProvider(providers, paywall) {
			logger.WithField("provider", paywall).Warn("using mock payment provider")
			providers = append(providers, payment.NewMockProvider(paywall))
		}
	}

	for _, p := range providers {
		logger.WithField("provider", p.Name()).Info("payment provider configured")
	}
	return providers, nil
}

func hasProvider(providers []payment.Provider, name domain.PaymentProvider) bool {
	for _, p := range providers {
		if p.Name() == name {
			return true
		}
	}
	return false
}
