package ordering

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const (
	// DefaultSecretLength: длина секрета заказа по умолчанию.
	DefaultSecretLength = 24
	secretAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	maxSecretAttempts   = 16
)

// SecretChecker сообщает, занят ли секрет другим заказом.
type SecretChecker func(ctx context.Context, secret string) (bool, error)

// SecretGenerator выдаёт уникальные секреты заказов.
type SecretGenerator struct {
	length      int
	source      io.Reader
	exists      SecretChecker
	maxAttempts int
}

// NewSecretGenerator создаёт генератор поверх crypto/rand.
func NewSecretGenerator(length int, exists SecretChecker) *SecretGenerator {
	if length < DefaultSecretLength {
		length = DefaultSecretLength
	}
	return &SecretGenerator{
		length:      length,
		source:      rand.Reader,
		exists:      exists,
		maxAttempts: maxSecretAttempts,
	}
}

// Generate выдаёт секрет, повторяя генерацию, пока он совпадает с существующим.
func (g *SecretGenerator) Generate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		secret, err := randomString(g.source, g.length)
		if err != nil {
			return "", err
		}
		if g.exists == nil {
			return secret, nil
		}

		taken, err := g.exists(ctx, secret)
		if err != nil {
			return "", fmt.Errorf("check order secret: %w", err)
		}
		if !taken {
			return secret, nil
		}
	}
	return "", domain.ErrOrderSecretExhausted
}

// randomString отображает каждый случайный байт в символ алфавита по модулю его длины.
func randomString(source io.Reader, length int) (string, error) {
	buf := make([]byte, length)
	if _, err := io.ReadFull(source, buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = secretAlphabet[int(b)%len(secretAlphabet)]
	}
	return string(buf), nil
}
