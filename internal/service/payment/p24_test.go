package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func TestNewP24ProviderRequiresCredentials(t *testing.T) {
	if _, err := NewP24Provider(P24Config{PosID: 1}); !errors.Is(err, domain.ErrPaymentProviderNotConfigured) {
		t.Fatalf("expected not configured, got %v", err)
	}
}

func TestP24CreateSession(t *testing.T) {
	var got p24RegisterRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != p24RegisterPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "1234" || pass != "secret" {
			t.Errorf("unexpected basic auth %q %q", user, pass)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte(`{"data":{"token":"TOKEN-1"},"responseCode":0}`))
	}))
	defer server.Close()

	p, err := NewP24Provider(P24Config{PosID: 1234, SecretID: "secret", CRC: "crc", Endpoint: server.URL, ServerURL: "https://shop.example"})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	session, err := p.CreateSession(context.Background(), SessionRequest{Order: testOrder()})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.URL != server.URL+"/trnRequest/TOKEN-1" {
		t.Fatalf("unexpected url %q", session.URL)
	}
	if got.SessionID != "01J0ORDER" || got.Amount != 2999 || got.MerchantID != 1234 {
		t.Fatalf("unexpected register request %+v", got)
	}
	if got.Description != "cs - 01J0ORDER" {
		t.Fatalf("unexpected description %q", got.Description)
	}

	want, err := p.sign("01J0ORDER", 2999, "EUR")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if got.Sign != want || len(want) != 96 {
		t.Fatalf("unexpected sign %q", got.Sign)
	}
}

func TestP24CreateSessionRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"Incorrect CRC value","code":400}`))
	}))
	defer server.Close()

	p, err := NewP24Provider(P24Config{PosID: 1, SecretID: "s", CRC: "c", Endpoint: server.URL})
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	if _, err := p.CreateSession(context.Background(), SessionRequest{Order: testOrder()}); err == nil {
		t.Fatal("expected register error")
	}
}
