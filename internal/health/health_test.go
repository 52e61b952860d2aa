package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func ok(context.Context) error { return nil }

func TestHealthHandler(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.Register("postgres", ok)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != StatusHealthy || response.Version != "v1.0.0" || len(response.Checks) != 1 {
		t.Fatalf("unexpected response %+v", response)
	}
}

func TestHealthHandler_Unhealthy(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.Register("postgres", func(context.Context) error { return errors.New("connection refused") })

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}

	var response Response
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Checks["postgres"].Message != "connection refused" {
		t.Fatalf("unexpected check %+v", response.Checks["postgres"])
	}
}

func TestEvaluate_OptionalFailureDegrades(t *testing.T) {
	handler := NewHandler("dev")
	handler.Register("postgres", ok)
	handler.RegisterOptional("kafka", func(context.Context) error { return errors.New("no brokers") })

	response := handler.Evaluate(context.Background())
	if response.Status != StatusDegraded {
		t.Fatalf("expected degraded, got %s", response.Status)
	}
	if response.Checks["kafka"].Status != StatusDegraded {
		t.Fatalf("expected kafka degraded, got %+v", response.Checks["kafka"])
	}

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("degraded service must stay ready, got %d", w.Code)
	}
}

func TestEvaluate_ProbeSeesDeadline(t *testing.T) {
	handler := NewHandler("dev")
	handler.timeout = 20 * time.Millisecond
	handler.Register("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	response := handler.Evaluate(context.Background())
	if response.Checks["slow"].Status != StatusUnhealthy {
		t.Fatalf("expected unhealthy slow probe, got %+v", response.Checks["slow"])
	}
}

func TestRegister_IgnoresNilProbe(t *testing.T) {
	handler := NewHandler("dev")
	handler.Register("nothing", nil)

	if got := handler.Evaluate(context.Background()); len(got.Checks) != 0 {
		t.Fatalf("nil probe must be skipped, got %+v", got.Checks)
	}
}

func TestLivenessHandler(t *testing.T) {
	w := httptest.NewRecorder()
	LivenessHandler(w, httptest.NewRequest(http.MethodGet, "/livez", nil))

	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Fatalf("unexpected liveness response %d %q", w.Code, w.Body.String())
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	handler := NewHandler("v1.0.0")
	handler.Register("postgres", func(context.Context) error { return errors.New("not ready") })

	w := httptest.NewRecorder()
	handler.ReadinessHandler(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable || w.Body.String() != "not ready" {
		t.Fatalf("unexpected readiness response %d %q", w.Code, w.Body.String())
	}
}

func TestExportMetricsTracksProbeResults(t *testing.T) {
	reg := prometheus.NewRegistry()
	handler := NewHandler("dev")
	handler.Register("postgres", ok)
	handler.RegisterOptional("kafka", func(context.Context) error { return errors.New("no brokers") })

	if err := handler.ExportMetrics(reg); err != nil {
		t.Fatalf("export metrics: %v", err)
	}
	if err := NewHandler("dev").ExportMetrics(reg); err != nil {
		t.Fatalf("second handler must reuse the gauge: %v", err)
	}
	handler.Evaluate(context.Background())

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	values := map[string]float64{}
	for _, mf := range families {
		if mf.GetName() != "storefront_dependency_up" {
			continue
		}
		for _, m := range mf.GetMetric() {
			values[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	if values["postgres"] != 1 || values["kafka"] != 0 || len(values) != 2 {
		t.Fatalf("unexpected dependency gauges %v", values)
	}
}
