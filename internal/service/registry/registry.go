// Package registry ищет компании по идентификационному номеру в государственных реестрах.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Company: данные компании для автозаполнения счёта.
type Company struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TIN        string `json:"tin,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country"`
}

// Lookup ищет компанию по номеру.
type Lookup interface {
	Name() string
	Lookup(ctx context.Context, id string) (Company, error)
}

// UpstreamError: реестр ответил неуспешным статусом.
type UpstreamError struct {
	Registry   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s responded with status %d", e.Registry, e.StatusCode)
}

const defaultTimeout = 5 * time.Second

func defaultHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: defaultTimeout}
}

func validateID(pattern *regexp.Regexp, id string) error {
	if !pattern.MatchString(id) {
		return fmt.Errorf("%w: %q", domain.ErrRegistryInvalidID, id)
	}
	return nil
}
