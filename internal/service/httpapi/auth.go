package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v4"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type identityKey struct{}

// customerClaims: claims токена покупателя: sub = ID клиента.
type customerClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// authenticate кладёт в контекст личность покупателя из HS256-токена.
// Отсутствующий или невалидный токен означает гостя.
func authenticate(secret []byte, logger *log.Entry) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := domain.Identity{}
			if raw := bearerToken(r); raw != "" && len(secret) > 0 {
				claims := &customerClaims{}
				_, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
					return secret, nil
				})
				if err != nil {
					logger.WithError(err).Debug("customer token rejected, continuing as guest")
				} else if claims.Subject != "" {
					identity = domain.Identity{CustomerID: claims.Subject, Email: claims.Email}
				}
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
		})
	}
}

// identityFrom возвращает личность, установленную authenticate.
func identityFrom(ctx context.Context) domain.Identity {
	identity, _ := ctx.Value(identityKey{}).(domain.Identity)
	return identity
}

// requireAdmin пропускает только запросы со статическим токеном администратора.
func requireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeMessage(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
