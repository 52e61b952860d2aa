package domain

import (
	"net/http"
	"time"
)

// DefaultIdempotencyTTL: срок жизни ключа, если вызывающий не задал свой.
const DefaultIdempotencyTTL = 24 * time.Hour

// IdempotencyStatus: стадия обработки запроса чекаута с заголовком Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	IdempotencyStatusDone       IdempotencyStatus = "done"
	// IdempotencyStatusFailed тоже воспроизводится: повтор получает тот же код ошибки.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// IdempotencyRecord: сохранённый ответ на запрос с ключом идемпотентности.
// RequestHash включает метод, путь, тело и покупателя.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// Final сообщает, что обработка завершена и ответ можно отдавать повторно.
func (s IdempotencyStatus) Final() bool {
	return s == IdempotencyStatusDone || s == IdempotencyStatusFailed
}

// IdempotencyStatusFor выбирает итоговый статус по HTTP-коду ответа.
func IdempotencyStatusFor(httpStatus int) IdempotencyStatus {
	if httpStatus >= http.StatusBadRequest {
		return IdempotencyStatusFailed
	}
	return IdempotencyStatusDone
}

// IdempotencyExpiry вычисляет момент истечения ключа; ttl <= 0 заменяется DefaultIdempotencyTTL.
func IdempotencyExpiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	return now.UTC().Add(ttl)
}

// Expired сообщает, что ключ можно занять заново, даже если запись ещё не удалена.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Replayable сообщает, что у записи есть готовый ответ.
func (r IdempotencyRecord) Replayable() bool {
	return r.Status.Final() && r.HTTPStatus != 0 && len(r.ResponseBody) > 0
}

// Clone копирует запись вместе с телом ответа.
func (r IdempotencyRecord) Clone() IdempotencyRecord {
	r.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return r
}
