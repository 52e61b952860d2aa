package httpapi

import (
	"errors"
	"net"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/registry"
)

// handleRegistry: GET /next/services/{ares,orsr}?ico=
func (a *API) handleRegistry(lookup registry.Lookup, limiter *rateLimiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if lookup == nil {
			writeMessage(w, http.StatusServiceUnavailable, "Registry lookup is not configured")
			return
		}
		name := lookup.Name()

		if !limiter.Allow(clientKey(r)) {
			a.metrics.RecordRegistryLookup(name, "rate_limited")
			writeMessage(w, http.StatusTooManyRequests, domain.ErrRateLimited.Error())
			return
		}

		ico := strings.TrimSpace(r.URL.Query().Get("ico"))
		company, err := lookup.Lookup(r.Context(), ico)
		if err != nil {
			var upstream *registry.UpstreamError
			switch {
			case errors.Is(err, domain.ErrRegistryInvalidID):
				a.metrics.RecordRegistryLookup(name, "invalid")
				writeMessage(w, http.StatusBadRequest, "Invalid ICO format")
			case errors.Is(err, domain.ErrRegistryNotFound):
				a.metrics.RecordRegistryLookup(name, "not_found")
				writeMessage(w, http.StatusNotFound, "IČO not found")
			case errors.As(err, &upstream):
				a.metrics.RecordRegistryLookup(name, "upstream_error")
				writeMessage(w, upstream.StatusCode, "Registry request failed")
			default:
				a.metrics.RecordRegistryLookup(name, "error")
				a.logger.WithError(err).WithFields(log.Fields{"registry": name, "ico": ico}).Warn("registry lookup failed")
				writeMessage(w, http.StatusBadGateway, "Registry request failed")
			}
			return
		}

		a.metrics.RecordRegistryLookup(name, "found")
		writeJSON(w, http.StatusOK, envelope{"company": company})
	}
}

// clientKey: ключ лимитера: адрес клиента без порта.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
