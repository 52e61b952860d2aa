package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	idempotencyHeader = "Idempotency-Key"
	replayedHeader    = "Idempotent-Replayed"
	envAdminToken     = "STOREFRONT_ADMIN_TOKEN"
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutReplay loadMode = "checkout-replay"
	modeCheckoutCancel loadMode = "checkout-cancel"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	cancelRate  int
	productID   string
	quantity    int
	country     string
	currency    string
	courier     string
	adminToken  string
	outputPath  string
}

func parseConfig(args []string, getenv func(string) string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.baseURL, "addr", "http://localhost:8080", "storefront HTTP base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-replay | checkout-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for checkout mode (0..100)")
	fs.StringVar(&cfg.productID, "product", "P1", "catalog product id to buy")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per checkout")
	fs.StringVar(&cfg.country, "country", "CZ", "delivery country")
	fs.StringVar(&cfg.currency, "currency", "CZK", "cart currency")
	fs.StringVar(&cfg.courier, "courier", "standard", "courier key")
	fs.StringVar(&cfg.adminToken, "admin-token", "", "admin token for cancel steps (fallback: "+envAdminToken+")")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})
	if strings.TrimSpace(cfg.adminToken) == "" {
		cfg.adminToken = strings.TrimSpace(getenv(envAdminToken))
	}
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("addr is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.productID) == "":
		return cfg, errors.New("product is required")
	case cfg.needsAdmin() && cfg.adminToken == "":
		return cfg, fmt.Errorf("admin token is required for cancel steps (-admin-token or %s)", envAdminToken)
	}

	return cfg, nil
}

func (c config) needsAdmin() bool {
	return c.mode == modeCheckoutCancel || (c.mode == modeCheckout && c.cancelRate > 0)
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeCheckout, modeCheckoutReplay, modeCheckoutCancel:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	result := newRunner(cfg, &http.Client{Timeout: cfg.timeout}).run(context.Background())

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}
	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runner прогоняет сценарии чекаута пулом воркеров против запущенного storefront.
type runner struct {
	cfg    config
	client *http.Client
	col    *collector
	runID  string
	now    func() time.Time
}

func newRunner(cfg config, client *http.Client) *runner {
	started := time.Now()
	return &runner{
		cfg:    cfg,
		client: client,
		col:    newCollector(),
		runID:  fmt.Sprintf("%d-%d", started.UnixNano(), os.Getpid()),
		now:    time.Now,
	}
}

func (r *runner) run(ctx context.Context) report {
	startedAt := r.now()
	jobs := make(chan int, r.cfg.concurrency*2)

	var wg sync.WaitGroup
	for range r.cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = r.scenario(ctx, id)
			}
		}()
	}

	dispatchJobs(jobs, r.cfg)
	wg.Wait()

	return r.col.buildReport(startedAt, r.now().Sub(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}
		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func (r *runner) scenario(ctx context.Context, index int) (err error) {
	start := time.Now()
	defer func() {
		r.col.record(sample{step: scenarioStep, latency: time.Since(start), ok: err == nil})
	}()

	key := fmt.Sprintf("lt-%s-%d", r.runID, index)
	url, _, err := r.checkout(ctx, "checkout", key)
	if err != nil {
		return err
	}
	r.col.noteOrder(orderIDFromURL(url))

	switch {
	case r.cfg.mode == modeCheckoutReplay:
		again, replayed, err := r.checkout(ctx, "checkout_replay", key)
		if err != nil {
			return err
		}
		if again != url {
			return fmt.Errorf("idempotent replay returned %q, want %q", again, url)
		}
		if !replayed {
			return fmt.Errorf("idempotent replay for key %s was processed again", key)
		}
	case r.cfg.mode == modeCheckoutCancel || (r.cfg.mode == modeCheckout && shouldCancelScenario(index, r.cfg.cancelRate)):
		return r.cancel(ctx, orderIDFromURL(url))
	}
	return nil
}

type cartItem struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type address struct {
	Name       string `json:"name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postalCode"`
	Email      string `json:"email"`
}

type checkoutRequest struct {
	Cart            []cartItem `json:"cart"`
	SelectedCountry string     `json:"selectedCountry"`
	Locale          string     `json:"locale"`
	Currency        string     `json:"currency"`
	CheckoutData    struct {
		BuyerType      string  `json:"buyerType"`
		DeliveryMethod string  `json:"deliveryMethod"`
		Shipping       address `json:"shipping"`
	} `json:"checkoutData"`
}

func (r *runner) checkoutBody() []byte {
	req := checkoutRequest{
		Cart:            []cartItem{{ID: r.cfg.productID, Quantity: r.cfg.quantity}},
		SelectedCountry: r.cfg.country,
		Locale:          "en",
		Currency:        r.cfg.currency,
	}
	req.CheckoutData.BuyerType = "individual"
	req.CheckoutData.DeliveryMethod = r.cfg.courier
	req.CheckoutData.Shipping = address{
		Name:       "Load Test",
		Address:    "Load street 1",
		City:       "Praha",
		Country:    r.cfg.country,
		PostalCode: "11000",
		Email:      "loadtest@example.com",
	}
	body, _ := json.Marshal(req)
	return body
}

// checkout возвращает платёжную ссылку и признак того, что ответ взят из хранилища идемпотентности.
func (r *runner) checkout(ctx context.Context, step, key string) (string, bool, error) {
	var resp struct {
		URL     string `json:"url"`
		Message string `json:"message"`
	}
	headers := map[string]string{idempotencyHeader: key}
	replayed, err := r.call(ctx, step, http.MethodPost, "/next/payment", r.checkoutBody(), headers, &resp)
	if err != nil {
		return "", replayed, err
	}
	if resp.URL == "" {
		return "", replayed, errors.New("checkout returned empty url")
	}
	return resp.URL, replayed, nil
}

func (r *runner) cancel(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("order id is not derivable from checkout url")
	}
	body := []byte(`{"status":"cancelled","reason":"load-cancel"}`)
	headers := map[string]string{"Authorization": "Bearer " + r.cfg.adminToken}
	_, err := r.call(ctx, "admin_cancel", http.MethodPost, "/admin/orders/"+orderID+"/status", body, headers, nil)
	return err
}

// call выполняет запрос и записывает шаг; ответ не-2xx считается ошибкой.
func (r *runner) call(ctx context.Context, step, method, path string, body []byte, headers map[string]string, out any) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, r.cfg.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := r.client.Do(req)
	if err != nil {
		r.col.record(sample{step: step, latency: time.Since(start)})
		return false, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	s := sample{
		step:     step,
		latency:  time.Since(start),
		status:   resp.StatusCode,
		ok:       err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300,
		replayed: resp.Header.Get(replayedHeader) == "true",
	}
	r.col.record(s)
	if err != nil {
		return s.replayed, err
	}
	if !s.ok {
		return s.replayed, fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return s.replayed, fmt.Errorf("decode %s response: %w", step, err)
		}
	}
	return s.replayed, nil
}

// orderIDFromURL берёт последний сегмент URL платёжной сессии.
// Это справедливо для mock-интеграций, у реальных провайдеров ID в URL нет.
func orderIDFromURL(raw string) string {
	raw = strings.TrimRight(strings.SplitN(raw, "?", 2)[0], "/")
	if i := strings.LastIndex(raw, "/"); i >= 0 {
		return raw[i+1:]
	}
	return ""
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
