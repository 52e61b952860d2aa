package httpapi

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const idempotencyKeyHeader = "Idempotency-Key"

// handlerFunc возвращает код и тело ответа вместо прямой записи, чтобы ответ можно было сохранить.
type handlerFunc func(r *http.Request, body []byte) (int, envelope)

// withIdempotency повторяет сохранённый ответ для того же ключа и тела запроса.
// Без заголовка Idempotency-Key запрос обрабатывается как обычно.
func (a *API) withIdempotency(w http.ResponseWriter, r *http.Request, body []byte, handler handlerFunc) {
	key := strings.TrimSpace(r.Header.Get(idempotencyKeyHeader))
	if key == "" || a.idempotency == nil {
		status, payload := handler(r, body)
		writeJSON(w, status, payload)
		return
	}

	ctx := r.Context()
	record, err := a.idempotency.Claim(ctx, key, requestHash(r, body), a.cfg.IdempotencyTTL)
	if err != nil {
		a.replayIdempotency(w, err, record)
		return
	}

	status, payload := handler(r, body)
	encoded := encodeEnvelope(status, payload)

	if err := a.idempotency.Complete(ctx, key, status, encoded); err != nil {
		a.logger.WithError(err).WithField("idempotency_key", key).Warn("failed to store idempotent response")
	}

	writeRaw(w, status, encoded)
}

func (a *API) replayIdempotency(w http.ResponseWriter, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		writeMessage(w, http.StatusConflict, "Idempotency key is already used with a different request payload")
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch {
		case record.Replayable():
			w.Header().Set("Idempotent-Replayed", "true")
			writeRaw(w, record.HTTPStatus, record.ResponseBody)
		case record.Status == domain.IdempotencyStatusProcessing:
			writeMessage(w, http.StatusConflict, "Request with the same idempotency key is already processing")
		default:
			writeMessage(w, http.StatusInternalServerError, "Internal server error")
		}
	default:
		a.logger.WithError(createErr).Warn("failed to create idempotency record")
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}

func requestHash(r *http.Request, body []byte) string {
	h := sha256.New()
	h.Write([]byte(r.Method))
	h.Write([]byte(" "))
	h.Write([]byte(r.URL.Path))
	h.Write([]byte(":"))
	h.Write(body)
	// Ответ зависит от покупателя, поэтому он входит в хеш.
	h.Write([]byte(identityFrom(r.Context()).CustomerID))
	return hex.EncodeToString(h.Sum(nil))
}

func encodeEnvelope(status int, payload envelope) []byte {
	if payload == nil {
		payload = envelope{}
	}
	payload["status"] = status
	data, err := json.Marshal(payload)
	if err != nil {
		return []byte(`{"status":500,"message":"Internal server error"}`)
	}
	return data
}

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
