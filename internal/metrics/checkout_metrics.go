package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics содержит метрики чекаута, платёжных сессий и вебхуков.
// Nil-значение безопасно: все методы становятся no-op.
type CheckoutMetrics struct {
	// Счётчики чекаута
	checkouts        *prometheus.CounterVec
	checkoutDuration prometheus.Histogram

	// Платёжные сессии и вебхуки
	paymentSessions *prometheus.CounterVec
	webhookEvents   *prometheus.CounterVec

	// Склад и статусы
	stockAdjustments  *prometheus.CounterVec
	statusTransitions *prometheus.CounterVec

	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	registryLookups *prometheus.CounterVec

	// Gauge для чекаутов в обработке
	inFlight prometheus.Gauge
}

// NewCheckoutMetrics создаёт метрики в глобальном реестре.
func NewCheckoutMetrics() *CheckoutMetrics {
	return NewCheckoutMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCheckoutMetricsWithRegisterer создаёт метрики в заданном реестре (используется в тестах).
func NewCheckoutMetricsWithRegisterer(registerer prometheus.Registerer) *CheckoutMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &CheckoutMetrics{
		checkouts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_checkout_total",
			Help: "Total number of checkout submissions grouped by result",
		}, []string{"result"}),
		checkoutDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "storefront_checkout_duration_seconds",
			Help:    "Duration of checkout submissions in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		paymentSessions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_payment_sessions_total",
			Help: "Total number of payment session requests grouped by provider and result",
		}, []string{"provider", "result"}),
		webhookEvents: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_webhook_events_total",
			Help: "Total number of payment webhook events grouped by type and result",
		}, []string{"type", "result"}),
		stockAdjustments: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_stock_adjustments_total",
			Help: "Total number of stock adjustments grouped by direction and result",
		}, []string{"direction", "result"}),
		statusTransitions: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_order_status_transitions_total",
			Help: "Total number of order status transitions grouped by target status",
		}, []string{"status"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "storefront_outbox_events_total",
			Help: "Total number of outbox events enqueued",
		}),
		registryLookups: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "storefront_registry_lookups_total",
			Help: "Total number of company registry lookups grouped by registry and result",
		}, []string{"registry", "result"}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "storefront_checkout_in_flight",
			Help: "Number of checkout submissions currently processed",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

// CheckoutStarted отмечает начало обработки чекаута.
func (m *CheckoutMetrics) CheckoutStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// CheckoutFinished фиксирует результат и длительность чекаута.
func (m *CheckoutMetrics) CheckoutFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.checkouts.WithLabelValues(result).Inc()
	m.checkoutDuration.Observe(duration.Seconds())
}

// RecordCheckout увеличивает счётчик чекаутов без учёта длительности (replay, no-op).
func (m *CheckoutMetrics) RecordCheckout(result string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(result).Inc()
}

// RecordPaymentSession считает обращения к платёжному провайдеру.
func (m *CheckoutMetrics) RecordPaymentSession(provider, result string) {
	if m == nil {
		return
	}
	m.paymentSessions.WithLabelValues(provider, result).Inc()
}

// RecordWebhookEvent считает обработанные события вебхука.
func (m *CheckoutMetrics) RecordWebhookEvent(eventType, result string) {
	if m == nil {
		return
	}
	m.webhookEvents.WithLabelValues(eventType, result).Inc()
}

// RecordStockAdjustment считает корректировки склада.
func (m *CheckoutMetrics) RecordStockAdjustment(direction, result string) {
	if m == nil {
		return
	}
	m.stockAdjustments.WithLabelValues(direction, result).Inc()
}

// RecordStatusTransition считает переходы статусов заказа.
func (m *CheckoutMetrics) RecordStatusTransition(status string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(status).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *CheckoutMetrics) RecordTimelineEvent() {
	if m == nil {
		return
	}
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *CheckoutMetrics) RecordOutboxEvent() {
	if m == nil {
		return
	}
	m.outboxEvents.Inc()
}

// RecordRegistryLookup считает обращения к реестрам компаний.
func (m *CheckoutMetrics) RecordRegistryLookup(registry, result string) {
	if m == nil {
		return
	}
	m.registryLookups.WithLabelValues(registry, result).Inc()
}
