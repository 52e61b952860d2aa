package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) string { return "" }

// fakeStorefront имитирует маршруты чекаута и админки.
type fakeStorefront struct {
	mu        sync.Mutex
	byKey     map[string]string
	checkouts int
	cancels   []string
	failAfter int
}

func newFakeStorefront() *fakeStorefront {
	return &fakeStorefront{byKey: map[string]string{}}
}

func (f *fakeStorefront) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/next/payment":
		var body checkoutRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Cart) == 0 {
			http.Error(w, `{"message":"Invalid request body"}`, http.StatusBadRequest)
			return
		}
		key := r.Header.Get(idempotencyHeader)
		url, ok := f.byKey[key]
		if !ok {
			f.checkouts++
			if f.failAfter > 0 && f.checkouts > f.failAfter {
				http.Error(w, `{"message":"Failed to create payment session"}`, http.StatusInternalServerError)
				return
			}
			url = "https://pay.example.test/stripe/order-" + key
			f.byKey[key] = url
		} else {
			w.Header().Set(replayedHeader, "true")
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"url": url})
	case r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/admin/orders/"):
		if r.Header.Get("Authorization") != "Bearer admin" {
			http.Error(w, `{"message":"Unauthorized"}`, http.StatusUnauthorized)
			return
		}
		f.cancels = append(f.cancels, strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/admin/orders/"), "/status"))
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "cancelled"})
	default:
		http.NotFound(w, r)
	}
}

func testConfig(baseURL string, mode loadMode) config {
	return config{
		baseURL:     baseURL,
		total:       10,
		concurrency: 3,
		timeout:     time.Second,
		mode:        mode,
		productID:   "P1",
		quantity:    1,
		country:     "CZ",
		currency:    "CZK",
		courier:     "standard",
		adminToken:  "admin",
	}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-addr=http://shop:8080/",
		"-total=5",
		"-mode=checkout-cancel",
		"-concurrency=2",
		"-timeout=2s",
		"-product=MUG",
	}, func(key string) string {
		if key == envAdminToken {
			return "from-env"
		}
		return ""
	})
	require.NoError(t, err)

	assert.Equal(t, "http://shop:8080", cfg.baseURL)
	assert.Equal(t, 5, cfg.total)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, modeCheckoutCancel, cfg.mode)
	assert.Equal(t, 2*time.Second, cfg.timeout)
	assert.Equal(t, "MUG", cfg.productID)
	assert.Equal(t, "from-env", cfg.adminToken)
}

func TestParseConfig_Errors(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"-mode=refund"}, want: "unsupported mode"},
		{args: []string{"-total=0"}, want: "total must be > 0"},
		{args: []string{"-duration=1m", "-total=0"}, want: "explicitly set"},
		{args: []string{"-concurrency=0"}, want: "concurrency"},
		{args: []string{"-timeout=0s"}, want: "timeout"},
		{args: []string{"-quantity=0"}, want: "quantity"},
		{args: []string{"-cancel-rate=101"}, want: "cancel-rate"},
		{args: []string{"-product= "}, want: "product is required"},
		{args: []string{"-mode=checkout-cancel"}, want: "admin token is required"},
		{args: []string{"-cancel-rate=10"}, want: "admin token is required"},
		{args: []string{"-addr= "}, want: "addr is required"},
	}

	for _, tc := range tests {
		_, err := parseConfig(tc.args, noEnv)
		require.Error(t, err, tc.args)
		assert.Contains(t, err.Error(), tc.want, tc.args)
	}
}

func TestParseMode(t *testing.T) {
	for _, mode := range []loadMode{modeCheckout, modeCheckoutReplay, modeCheckoutCancel} {
		got, err := parseMode(" " + string(mode) + " ")
		require.NoError(t, err)
		assert.Equal(t, mode, got)
	}
	_, err := parseMode("create-pay")
	require.Error(t, err)
}

func TestRunner_Modes(t *testing.T) {
	tests := []struct {
		mode        loadMode
		wantSteps   []string
		wantCancels int
	}{
		{mode: modeCheckout, wantSteps: []string{"checkout"}},
		{mode: modeCheckoutReplay, wantSteps: []string{"checkout", "checkout_replay"}},
		{mode: modeCheckoutCancel, wantSteps: []string{"checkout", "admin_cancel"}, wantCancels: 10},
	}

	for _, tc := range tests {
		t.Run(string(tc.mode), func(t *testing.T) {
			store := newFakeStorefront()
			server := httptest.NewServer(store)
			defer server.Close()

			result := newRunner(testConfig(server.URL, tc.mode), server.Client()).run(context.Background())

			assert.Equal(t, int64(10), result.TotalScenarios)
			assert.Zero(t, result.FailedScenarios)
			for _, step := range tc.wantSteps {
				require.Contains(t, result.Steps, step)
				assert.Equal(t, int64(10), result.Steps[step].Calls, step)
				assert.Equal(t, int64(10), result.Steps[step].Statuses["200"], step)
			}
			assert.Equal(t, 10, store.checkouts, "replays must not create new sessions")
			assert.Equal(t, 10, result.OrdersCreated)
			assert.Zero(t, result.Steps["checkout"].Replayed)
			if tc.mode == modeCheckoutReplay {
				assert.Equal(t, int64(10), result.Steps["checkout_replay"].Replayed)
			}
			assert.Len(t, store.cancels, tc.wantCancels)
			for _, id := range store.cancels {
				assert.True(t, strings.HasPrefix(id, "order-lt-"), id)
			}
		})
	}
}

func TestRunner_CountsFailures(t *testing.T) {
	store := newFakeStorefront()
	store.failAfter = 4
	server := httptest.NewServer(store)
	defer server.Close()

	cfg := testConfig(server.URL, modeCheckout)
	cfg.concurrency = 1
	result := newRunner(cfg, server.Client()).run(context.Background())

	assert.Equal(t, int64(10), result.TotalScenarios)
	assert.Equal(t, int64(6), result.FailedScenarios)
	assert.InDelta(t, 0.6, result.ErrorRate, 1e-9)
	assert.Equal(t, int64(6), result.Steps["checkout"].Statuses["500"])
	assert.Equal(t, int64(6), result.Steps[scenarioStep].Statuses["error"])
}

func TestRunner_ReplayMustBeMarked(t *testing.T) {
	store := newFakeStorefront()
	plain := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Витрина без идемпотентности: тот же URL, но без признака повтора.
		rec := httptest.NewRecorder()
		store.ServeHTTP(rec, r)
		w.WriteHeader(rec.Code)
		_, _ = w.Write(rec.Body.Bytes())
	})
	server := httptest.NewServer(plain)
	defer server.Close()

	cfg := testConfig(server.URL, modeCheckoutReplay)
	cfg.total = 2
	result := newRunner(cfg, server.Client()).run(context.Background())

	assert.Equal(t, int64(2), result.FailedScenarios)
	assert.Zero(t, result.Steps["checkout_replay"].Replayed)
	assert.Equal(t, int64(2), result.Steps["checkout_replay"].Success)
}

func TestRunner_TransportError(t *testing.T) {
	server := httptest.NewServer(newFakeStorefront())
	url := server.URL
	server.Close()

	cfg := testConfig(url, modeCheckout)
	cfg.total = 2
	result := newRunner(cfg, &http.Client{Timeout: time.Second}).run(context.Background())

	assert.Equal(t, int64(2), result.FailedScenarios)
	assert.Equal(t, int64(2), result.Steps["checkout"].Statuses["error"])
}

func TestDispatchJobs(t *testing.T) {
	jobs := make(chan int, 10)
	dispatchJobs(jobs, config{total: 3})
	var got []int
	for id := range jobs {
		got = append(got, id)
	}
	assert.Equal(t, []int{0, 1, 2}, got)

	jobs = make(chan int, 10)
	dispatchJobs(jobs, config{duration: time.Minute, total: 2, totalSet: true})
	got = got[:0]
	for id := range jobs {
		got = append(got, id)
	}
	assert.Equal(t, []int{0, 1}, got)

	jobs = make(chan int)
	done := make(chan struct{})
	go func() {
		dispatchJobs(jobs, config{duration: 20 * time.Millisecond})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("duration mode must stop when nobody reads jobs")
	}
}

func TestOrderIDFromURL(t *testing.T) {
	assert.Equal(t, "01HX", orderIDFromURL("https://pay.example.test/stripe/01HX"))
	assert.Equal(t, "01HX", orderIDFromURL("https://shop.example/cs/order/01HX/?x=secret"))
	assert.Equal(t, "", orderIDFromURL("no-slash"))
}

func TestShouldCancelScenario(t *testing.T) {
	assert.False(t, shouldCancelScenario(5, 0))
	assert.True(t, shouldCancelScenario(99, 100))
	assert.True(t, shouldCancelScenario(105, 10))
	assert.False(t, shouldCancelScenario(110, 10))
}

func TestSummarize(t *testing.T) {
	ms := time.Millisecond
	summary := summarize([]time.Duration{4 * ms, 1 * ms, 3 * ms, 2 * ms})
	assert.Equal(t, latencySummary{Min: 1, Avg: 2.5, P50: 2, P95: 4, P99: 4, Max: 4}, summary)
	assert.Equal(t, latencySummary{}, summarize(nil))

	hundred := make([]time.Duration, 100)
	for i := range hundred {
		hundred[i] = time.Duration(i+1) * ms
	}
	assert.Equal(t, 95*ms, nearestRank(hundred, 95))
	assert.Equal(t, 1*ms, nearestRank(hundred, 0))
	assert.Zero(t, nearestRank(nil, 50))

	assert.Zero(t, share(1, 0))
	assert.Equal(t, 0.25, share(1, 4))
}

func TestWriteJSONReport(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	dir := t.TempDir()
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	require.NoError(t, writeJSONReport("report.json", report{TotalScenarios: 3}))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"totalScenarios": 3`)

	require.ErrorContains(t, writeJSONReport(".", report{}), "directory")
	require.ErrorContains(t, writeJSONReport("../escape.json", report{}), "inside the working directory")
	require.Error(t, writeJSONReport("/tmp/abs.json", report{}))
}

func TestPrintReport(t *testing.T) {
	col := newCollector()
	col.record(sample{step: scenarioStep, latency: 10 * time.Millisecond, ok: true})
	col.record(sample{step: "checkout", latency: 8 * time.Millisecond, status: http.StatusOK, ok: true})
	col.record(sample{step: "checkout", latency: 3 * time.Millisecond, status: http.StatusOK, ok: true, replayed: true})
	col.record(sample{step: "admin_cancel", latency: 2 * time.Millisecond, status: http.StatusNotFound})
	col.noteOrder("01HX")
	col.noteOrder("01HX")
	col.noteOrder("")

	var out bytes.Buffer
	cfg := config{mode: modeCheckoutCancel, total: 1}
	printReport(&out, col.buildReport(time.Now(), time.Second), cfg)

	text := out.String()
	assert.Contains(t, text, "mode=checkout-cancel run=count:1 total=1 success=1 failed=0")
	assert.Contains(t, text, "orders=1")
	assert.Contains(t, text, "admin_cancel: calls=1 success=0 failed=1")
	assert.Contains(t, text, "checkout: calls=2 success=2 failed=0 replayed=1")
	assert.Less(t, strings.Index(text, "admin_cancel"), strings.Index(text, "checkout:"))
	assert.Equal(t, "duration:1m0s,max-total:5", runTarget(config{duration: time.Minute, total: 5, totalSet: true}))
}
