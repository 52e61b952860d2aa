package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"sync"
	"time"
)

const scenarioStep = "scenario"

// latencySummary хранит перцентили в миллисекундах.
type latencySummary struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type stepReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	Replayed  int64            `json:"replayed,omitempty"`
	ErrorRate float64          `json:"errorRate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latencyMs"`
}

type report struct {
	StartedAt         time.Time             `json:"startedAt"`
	DurationSeconds   float64               `json:"durationSeconds"`
	TotalScenarios    int64                 `json:"totalScenarios"`
	SuccessScenarios  int64                 `json:"successScenarios"`
	FailedScenarios   int64                 `json:"failedScenarios"`
	ErrorRate         float64               `json:"errorRate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenarioLatencyMs"`
	OrdersCreated     int                   `json:"ordersCreated"`
	Steps             map[string]stepReport `json:"steps"`
}

// sample описывает один HTTP-вызов или целый сценарий. Status 0 у сценариев и транспортных ошибок.
type sample struct {
	step     string
	latency  time.Duration
	status   int
	ok       bool
	replayed bool
}

func (s sample) statusLabel() string {
	switch {
	case s.status > 0:
		return strconv.Itoa(s.status)
	case s.ok:
		return "ok"
	default:
		return "error"
	}
}

type stepStats struct {
	calls     int64
	failed    int64
	replayed  int64
	statuses  map[string]int64
	latencies []time.Duration
}

// collector копит результаты шагов сценария из всех воркеров.
type collector struct {
	mu     sync.Mutex
	steps  map[string]*stepStats
	orders map[string]struct{}
}

func newCollector() *collector {
	return &collector{steps: make(map[string]*stepStats), orders: make(map[string]struct{})}
}

func (c *collector) record(s sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, exists := c.steps[s.step]
	if !exists {
		stats = &stepStats{statuses: make(map[string]int64)}
		c.steps[s.step] = stats
	}

	stats.calls++
	if !s.ok {
		stats.failed++
	}
	if s.replayed {
		stats.replayed++
	}
	stats.statuses[s.statusLabel()]++
	stats.latencies = append(stats.latencies, s.latency)
}

// noteOrder запоминает заказ; повтор по тому же ключу идемпотентности не добавляет новый.
func (c *collector) noteOrder(orderID string) {
	if orderID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders[orderID] = struct{}{}
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		OrdersCreated:   len(c.orders),
		Steps:           make(map[string]stepReport, len(c.steps)),
	}

	for name, stats := range c.steps {
		statuses := make(map[string]int64, len(stats.statuses))
		for status, count := range stats.statuses {
			statuses[status] = count
		}
		step := stepReport{
			Calls:     stats.calls,
			Success:   stats.calls - stats.failed,
			Failed:    stats.failed,
			Replayed:  stats.replayed,
			ErrorRate: share(stats.failed, stats.calls),
			Statuses:  statuses,
			LatencyMs: summarize(stats.latencies),
		}
		result.Steps[name] = step

		if name == scenarioStep {
			result.TotalScenarios = step.Calls
			result.SuccessScenarios = step.Success
			result.FailedScenarios = step.Failed
			result.ErrorRate = step.ErrorRate
			result.ScenarioLatencyMs = step.LatencyMs
		}
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	return result
}

// writeJSONReport пишет отчёт только внутри текущего каталога.
func writeJSONReport(path string, result report) error {
	if !filepath.IsLocal(path) {
		return fmt.Errorf("report path %q must be a relative path inside the working directory", path)
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return fmt.Errorf("report path %q is a directory", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func printReport(w io.Writer, result report, cfg config) {
	_, _ = fmt.Fprintln(w, "Checkout load test summary")
	_, _ = fmt.Fprintf(w, "mode=%s run=%s total=%d success=%d failed=%d error_rate=%.4f\n",
		cfg.mode, runTarget(cfg), result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate)
	_, _ = fmt.Fprintf(w, "duration=%.2fs rps=%.2f orders=%d\n", result.DurationSeconds, result.RPS, result.OrdersCreated)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		result.ScenarioLatencyMs.Min,
		result.ScenarioLatencyMs.Avg,
		result.ScenarioLatencyMs.P50,
		result.ScenarioLatencyMs.P95,
		result.ScenarioLatencyMs.P99,
		result.ScenarioLatencyMs.Max,
	)

	names := make([]string, 0, len(result.Steps))
	for name := range result.Steps {
		if name != scenarioStep {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	for _, name := range names {
		step := result.Steps[name]
		_, _ = fmt.Fprintf(w, "%s: calls=%d success=%d failed=%d replayed=%d error_rate=%.4f p95=%.2fms statuses=%v\n",
			name, step.Calls, step.Success, step.Failed, step.Replayed, step.ErrorRate, step.LatencyMs.P95, step.Statuses)
	}
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return "count:" + strconv.Itoa(cfg.total)
	case cfg.totalSet:
		return "duration:" + cfg.duration.String() + ",max-total:" + strconv.Itoa(cfg.total)
	default:
		return "duration:" + cfg.duration.String()
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func summarize(latencies []time.Duration) latencySummary {
	if len(latencies) == 0 {
		return latencySummary{}
	}

	ordered := slices.Clone(latencies)
	slices.Sort(ordered)

	var total time.Duration
	for _, d := range ordered {
		total += d
	}

	return latencySummary{
		Min: millis(ordered[0]),
		Avg: millis(total / time.Duration(len(ordered))),
		P50: millis(nearestRank(ordered, 50)),
		P95: millis(nearestRank(ordered, 95)),
		P99: millis(nearestRank(ordered, 99)),
		Max: millis(ordered[len(ordered)-1]),
	}
}

// nearestRank возвращает наименьшее значение, не меньше которого p процентов выборки.
func nearestRank(ordered []time.Duration, p int) time.Duration {
	if len(ordered) == 0 {
		return 0
	}
	rank := (p*len(ordered) + 99) / 100
	rank = min(max(rank, 1), len(ordered))
	return ordered[rank-1]
}

func share(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
