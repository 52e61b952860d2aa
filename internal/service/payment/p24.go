package payment

import (
	"bytes"
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	defaultP24Endpoint = "https://secure.przelewy24.pl"
	p24RegisterPath    = "/api/v1/transaction/register"
)

// P24Config: учётные данные Przelewy24.
type P24Config struct {
	PosID int
	// MerchantID по умолчанию совпадает с PosID.
	MerchantID int
	SecretID   string
	CRC        string
	Endpoint   string
	ServerURL  string
	HTTPClient *http.Client
}

// P24Provider регистрирует транзакцию через REST API и возвращает ссылку на оплату.
type P24Provider struct {
	posID      int
	merchantID int
	secretID   string
	crc        string
	endpoint   string
	serverURL  string
	http       *http.Client
}

var _ Provider = (*P24Provider)(nil)

// NewP24Provider проверяет конфигурацию и создаёт провайдера.
func NewP24Provider(cfg P24Config) (*P24Provider, error) {
	if cfg.PosID <= 0 || strings.TrimSpace(cfg.SecretID) == "" || strings.TrimSpace(cfg.CRC) == "" {
		return nil, fmt.Errorf("p24: %w", domain.ErrPaymentProviderNotConfigured)
	}
	merchantID := cfg.MerchantID
	if merchantID <= 0 {
		merchantID = cfg.PosID
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultP24Endpoint
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &P24Provider{
		posID:      cfg.PosID,
		merchantID: merchantID,
		secretID:   cfg.SecretID,
		crc:        cfg.CRC,
		endpoint:   endpoint,
		serverURL:  strings.TrimRight(cfg.ServerURL, "/"),
		http:       httpClient,
	}, nil
}

// Name возвращает идентификатор провайдера.
func (p *P24Provider) Name() domain.PaymentProvider {
	return domain.PaymentProviderP24
}

type p24RegisterRequest struct {
	MerchantID  int    `json:"merchantId"`
	PosID       int    `json:"posId"`
	SessionID   string `json:"sessionId"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	Email       string `json:"email"`
	Country     string `json:"country,omitempty"`
	Language    string `json:"language,omitempty"`
	URLReturn   string `json:"urlReturn"`
	Sign        string `json:"sign"`
}

type p24RegisterResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
	ResponseCode int    `json:"responseCode"`
	Error        string `json:"error"`
}

// CreateSession регистрирует транзакцию; идентификатор сессии P24 равен ID заказа.
func (p *P24Provider) CreateSession(ctx context.Context, req SessionRequest) (domain.PaymentSession, error) {
	order := req.Order
	amount := MinorUnits(order.Details.TotalWithShipping)
	currency := strings.ToUpper(order.Details.Currency)

	sign, err := p.sign(order.ID, amount, currency)
	if err != nil {
		return domain.PaymentSession{}, err
	}

	body, err := json.Marshal(p24RegisterRequest{
		MerchantID:  p.merchantID,
		PosID:       p.posID,
		SessionID:   order.ID,
		Amount:      amount,
		Currency:    currency,
		Description: fmt.Sprintf("%s - %s", order.Locale, order.ID),
		Email:       order.ShippingAddress.Email,
		Country:     strings.ToUpper(order.ShippingAddress.Country),
		Language:    strings.ToLower(order.Locale),
		URLReturn:   OrderURL(p.serverURL, order.Locale, order.ID, order.Details.OrderSecret),
		Sign:        sign,
	})
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("p24: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+p24RegisterPath, bytes.NewReader(body))
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("p24: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(strconv.Itoa(p.posID), p.secretID)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("p24: register transaction: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.PaymentSession{}, fmt.Errorf("p24: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.PaymentSession{}, fmt.Errorf("p24: register transaction: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded p24RegisterResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.PaymentSession{}, fmt.Errorf("p24: decode response: %w", err)
	}
	if decoded.Data.Token == "" {
		return domain.PaymentSession{}, fmt.Errorf("p24: empty token (code %d): %s", decoded.ResponseCode, decoded.Error)
	}

	return domain.PaymentSession{
		Provider: domain.PaymentProviderP24,
		URL:      p.endpoint + "/trnRequest/" + decoded.Data.Token,
	}, nil
}

// sign: SHA-384 от JSON с полями сессии и CRC, как требует API регистрации.
func (p *P24Provider) sign(sessionID string, amount int64, currency string) (string, error) {
	payload, err := json.Marshal(struct {
		SessionID  string `json:"sessionId"`
		MerchantID int    `json:"merchantId"`
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
		CRC        string `json:"crc"`
	}{sessionID, p.merchantID, amount, currency, p.crc})
	if err != nil {
		return "", fmt.Errorf("p24: encode sign: %w", err)
	}
	sum := sha512.Sum384(payload)
	return hex.EncodeToString(sum[:]), nil
}
