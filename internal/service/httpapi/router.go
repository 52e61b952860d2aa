// Package httpapi публикует оформление заказа, повторную оплату, вебхук Stripe
// и служебные маршруты магазина по HTTP.
package httpapi

import (
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	validatorv10 "github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/service/reconcile"
	"github.com/vladislavdragonenkov/storefront/internal/service/registry"
)

const (
	defaultTimeout        = 30 * time.Second
	defaultRegistryLimit  = 3
	defaultRegistryWindow = 60 * time.Second
	maxBodyBytes          = 1 << 20
)

// Config: параметры HTTP-слоя.
type Config struct {
	JWTSecret      string
	AdminToken     string
	IdempotencyTTL time.Duration
	RegistryLimit  int
	RegistryWindow time.Duration
	RequestTimeout time.Duration
}

// Deps: сервисы, которые обслуживает HTTP-слой.
type Deps struct {
	Checkout    *checkout.Service
	Reconciler  *reconcile.Reconciler
	Idempotency domain.IdempotencyRepository
	ARES        registry.Lookup
	ORSR        registry.Lookup
	Metrics     *metrics.CheckoutMetrics
}

// API держит обработчики и общие зависимости.
type API struct {
	cfg         Config
	checkout    *checkout.Service
	reconciler  *reconcile.Reconciler
	idempotency domain.IdempotencyRepository
	ares        registry.Lookup
	orsr        registry.Lookup
	aresLimiter *rateLimiter
	orsrLimiter *rateLimiter
	metrics     *metrics.CheckoutMetrics
	validate    *validatorv10.Validate
	logger      *log.Entry
}

// New создаёт API.
func New(cfg Config, deps Deps, logger *log.Entry) *API {
	if logger == nil {
		logger = log.WithField("component", "http")
	}
	if cfg.RegistryLimit == 0 {
		cfg.RegistryLimit = defaultRegistryLimit
	}
	if cfg.RegistryWindow == 0 {
		cfg.RegistryWindow = defaultRegistryWindow
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}

	return &API{
		cfg:         cfg,
		checkout:    deps.Checkout,
		reconciler:  deps.Reconciler,
		idempotency: deps.Idempotency,
		ares:        deps.ARES,
		orsr:        deps.ORSR,
		aresLimiter: newRateLimiter(cfg.RegistryLimit, cfg.RegistryWindow, nil),
		orsrLimiter: newRateLimiter(cfg.RegistryLimit, cfg.RegistryWindow, nil),
		metrics:     deps.Metrics,
		validate:    newValidator(),
		logger:      logger,
	}
}

// Routes собирает chi-роутер со всеми маршрутами.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(a.cfg.RequestTimeout))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusNotFound, "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	// Вебхук аутентифицируется подписью, токен покупателя ему не нужен.
	r.Post("/next/stripe", a.handleStripeWebhook)

	r.Group(func(public chi.Router) {
		public.Use(authenticate([]byte(a.cfg.JWTSecret), a.logger))
		public.Post("/next/payment", a.handlePayment)
		public.Get("/next/retry-payment", a.handleRetryPayment)
		public.Get("/api/orders/{orderID}", a.handleOrder)
		public.Get("/next/services/ares", a.handleRegistry(a.ares, a.aresLimiter))
		public.Get("/next/services/orsr", a.handleRegistry(a.orsr, a.orsrLimiter))
	})

	r.Route("/admin", func(admin chi.Router) {
		admin.Use(requireAdmin(a.cfg.AdminToken))
		admin.Post("/orders/{orderID}/status", a.handleAdminStatus)
	})

	return r
}

func newValidator() *validatorv10.Validate {
	v := validatorv10.New()
	// В сообщениях об ошибках используем имена полей из JSON.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
