// Package health отдаёт liveness/readiness витрины и сводный отчёт по зависимостям.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Status представляет статус компонента
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

const defaultCheckTimeout = 2 * time.Second

// Check: результат проверки одной зависимости витрины.
type Check struct {
	Name       string `json:"name"`
	Status     Status `json:"status"`
	Message    string `json:"message,omitempty"`
	DurationMs int64  `json:"duration_ms"`
}

// Response представляет ответ health check
type Response struct {
	Status        Status           `json:"status"`
	Timestamp     time.Time        `json:"timestamp"`
	Checks        map[string]Check `json:"checks,omitempty"`
	Version       string           `json:"version,omitempty"`
	UptimeSeconds int64            `json:"uptime_seconds"`
}

// Probe проверяет зависимость и возвращает ошибку, если она недоступна.
type Probe func(ctx context.Context) error

type registration struct {
	probe Probe
	// Необязательные зависимости (Kafka, реестры) при сбое дают degraded, а не unhealthy.
	optional bool
}

// Handler обслуживает /healthz и /readyz.
type Handler struct {
	mu        sync.RWMutex
	probes    map[string]registration
	version   string
	startTime time.Time
	timeout   time.Duration
	// up заполняется после ExportMetrics.
	up *prometheus.GaugeVec
}

// NewHandler создаёт новый health handler
func NewHandler(version string) *Handler {
	return &Handler{
		probes:    make(map[string]registration),
		version:   version,
		startTime: time.Now(),
		timeout:   defaultCheckTimeout,
	}
}

// Register добавляет обязательную проверку: её сбой переводит сервис в unhealthy.
func (h *Handler) Register(name string, probe Probe) {
	h.register(name, registration{probe: probe})
}

// RegisterOptional добавляет проверку, сбой которой только понижает статус до degraded.
func (h *Handler) RegisterOptional(name string, probe Probe) {
	h.register(name, registration{probe: probe, optional: true})
}

func (h *Handler) register(name string, reg registration) {
	if reg.probe == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = reg
}

// ExportMetrics регистрирует storefront_dependency_up: 1, если последняя проверка прошла.
func (h *Handler) ExportMetrics(registerer prometheus.Registerer) error {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "storefront_dependency_up",
		Help: "Result of the last health probe per dependency (1 = up).",
	}, []string{"dependency"})

	if err := registerer.Register(gauge); err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return err
		}
		existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
		if !ok {
			return err
		}
		gauge = existing
	}

	h.mu.Lock()
	h.up = gauge
	h.mu.Unlock()
	return nil
}

// Evaluate выполняет все проверки параллельно и сводит общий статус.
func (h *Handler) Evaluate(ctx context.Context) Response {
	h.mu.RLock()
	probes := make(map[string]registration, len(h.probes))
	for name, reg := range h.probes {
		probes[name] = reg
	}
	up := h.up
	h.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]Check, len(probes))
	)
	for name, reg := range probes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			check := runProbe(ctx, name, reg)
			mu.Lock()
			checks[name] = check
			mu.Unlock()
		}()
	}
	wg.Wait()

	overall := StatusHealthy
	for name, check := range checks {
		if up != nil {
			value := 0.0
			if check.Status == StatusHealthy {
				value = 1
			}
			up.WithLabelValues(name).Set(value)
		}
		switch {
		case check.Status == StatusUnhealthy:
			overall = StatusUnhealthy
		case check.Status == StatusDegraded && overall == StatusHealthy:
			overall = StatusDegraded
		}
	}

	return Response{
		Status:        overall,
		Timestamp:     time.Now().UTC(),
		Checks:        checks,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
}

func runProbe(ctx context.Context, name string, reg registration) Check {
	start := time.Now()
	err := reg.probe(ctx)
	check := Check{Name: name, Status: StatusHealthy, DurationMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = StatusUnhealthy
		if reg.optional {
			check.Status = StatusDegraded
		}
		check.Message = err.Error()
	}
	return check
}

// ServeHTTP отдаёт подробный отчёт; 503 только при unhealthy.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	response := h.Evaluate(r.Context())

	statusCode := http.StatusOK
	if response.Status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// LivenessHandler простой liveness probe (всегда возвращает 200)
func LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler готов, пока нет ни одной упавшей обязательной зависимости.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if h.Evaluate(r.Context()).Status == StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
