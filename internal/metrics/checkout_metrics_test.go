package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := vec.WithLabelValues(labels...).Write(metric); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewCheckoutMetrics(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	if m.checkouts == nil || m.checkoutDuration == nil {
		t.Fatal("checkout collectors should not be nil")
	}
	if m.paymentSessions == nil || m.webhookEvents == nil {
		t.Fatal("payment collectors should not be nil")
	}
	if m.stockAdjustments == nil || m.statusTransitions == nil {
		t.Fatal("stock/status collectors should not be nil")
	}
	if m.timelineEvents == nil || m.outboxEvents == nil || m.registryLookups == nil || m.inFlight == nil {
		t.Fatal("auxiliary collectors should not be nil")
	}
}

func TestNewCheckoutMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewCheckoutMetricsWithRegisterer(reg)
	second := NewCheckoutMetricsWithRegisterer(reg)

	first.RecordPaymentSession("stripe", "created")
	if got := counterValue(t, second.paymentSessions, "stripe", "created"); got != 1 {
		t.Fatalf("expected shared collector value 1, got %v", got)
	}
}

func TestCheckoutFinished(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.CheckoutStarted()
	m.CheckoutFinished("created", 20*time.Millisecond)

	if got := counterValue(t, m.checkouts, "created"); got != 1 {
		t.Fatalf("expected 1 created checkout, got %v", got)
	}

	gauge := &dto.Metric{}
	if err := m.inFlight.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 0 {
		t.Fatalf("expected in-flight 0, got %v", gauge.GetGauge().GetValue())
	}

	hist := &dto.Metric{}
	if err := m.checkoutDuration.Write(hist); err != nil {
		t.Fatalf("write histogram: %v", err)
	}
	if hist.GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one duration sample, got %d", hist.GetHistogram().GetSampleCount())
	}
}

func TestRecorders(t *testing.T) {
	m := NewCheckoutMetricsWithRegisterer(prometheus.NewRegistry())

	m.RecordWebhookEvent("checkout.session.completed", "applied")
	m.RecordWebhookEvent("checkout.session.completed", "applied")
	m.RecordStockAdjustment("extract", "ok")
	m.RecordStatusTransition("paid")
	m.RecordRegistryLookup("ares", "ok")

	if got := counterValue(t, m.webhookEvents, "checkout.session.completed", "applied"); got != 2 {
		t.Fatalf("expected 2 webhook events, got %v", got)
	}
	if got := counterValue(t, m.stockAdjustments, "extract", "ok"); got != 1 {
		t.Fatalf("expected 1 stock adjustment, got %v", got)
	}
	if got := counterValue(t, m.statusTransitions, "paid"); got != 1 {
		t.Fatalf("expected 1 transition, got %v", got)
	}
	if got := counterValue(t, m.registryLookups, "ares", "ok"); got != 1 {
		t.Fatalf("expected 1 lookup, got %v", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var m *CheckoutMetrics

	m.CheckoutStarted()
	m.CheckoutFinished("failed", time.Second)
	m.RecordCheckout("noop")
	m.RecordPaymentSession("stripe", "failed")
	m.RecordWebhookEvent("x", "ignored")
	m.RecordStockAdjustment("restore", "ok")
	m.RecordStatusTransition("paid")
	m.RecordTimelineEvent()
	m.RecordOutboxEvent()
	m.RecordRegistryLookup("orsr", "error")
}
