package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const defaultARESURL = "https://ares.gov.cz/ekonomicke-subjekty-v-be/rest/ekonomicke-subjekty"

var aresIDPattern = regexp.MustCompile(`^\d{8}$`)

// ARES: чешский реестр экономических субъектов (JSON REST).
type ARES struct {
	baseURL string
	http    *http.Client
}

var _ Lookup = (*ARES)(nil)

// NewARES создаёт клиента. Пустой baseURL означает публичный адрес реестра.
func NewARES(baseURL string, httpClient *http.Client) *ARES {
	if baseURL == "" {
		baseURL = defaultARESURL
	}
	return &ARES{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    defaultHTTPClient(httpClient),
	}
}

// Name возвращает имя реестра для метрик и логов.
func (a *ARES) Name() string {
	return "ares"
}

type aresSubject struct {
	ICO           string `json:"ico"`
	ObchodniJmeno string `json:"obchodniJmeno"`
	DIC           string `json:"dic"`
	Sidlo         struct {
		KodStatu        string      `json:"kodStatu"`
		NazevKraje      string      `json:"nazevKraje"`
		NazevObce       string      `json:"nazevObce"`
		NazevUlice      string      `json:"nazevUlice"`
		CisloDomovni    int         `json:"cisloDomovni"`
		CisloOrientacni int         `json:"cisloOrientacni"`
		PSC             json.Number `json:"psc"`
	} `json:"sidlo"`
}

// Lookup ищет компанию по восьмизначному IČO.
func (a *ARES) Lookup(ctx context.Context, id string) (Company, error) {
	if err := validateID(aresIDPattern, id); err != nil {
		return Company{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/"+id, nil)
	if err != nil {
		return Company{}, fmt.Errorf("ares: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := a.http.Do(req)
	if err != nil {
		return Company{}, fmt.Errorf("ares: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Company{}, fmt.Errorf("%w: %s", domain.ErrRegistryNotFound, id)
	case resp.StatusCode != http.StatusOK:
		return Company{}, &UpstreamError{Registry: a.Name(), StatusCode: resp.StatusCode}
	}

	var subject aresSubject
	if err := json.NewDecoder(resp.Body).Decode(&subject); err != nil {
		return Company{}, fmt.Errorf("ares: decode: %w", err)
	}
	if subject.ObchodniJmeno == "" {
		return Company{}, fmt.Errorf("%w: %s", domain.ErrRegistryNotFound, id)
	}

	street := subject.Sidlo.NazevUlice
	if street == "" {
		street = subject.Sidlo.NazevObce
	}
	if n := subject.Sidlo.CisloDomovni; n > 0 {
		street += " " + strconv.Itoa(n)
		if o := subject.Sidlo.CisloOrientacni; o > 0 {
			street += "/" + strconv.Itoa(o)
		}
	}

	country := subject.Sidlo.KodStatu
	if country == "" {
		country = "CZ"
	}

	return Company{
		ID:         subject.ICO,
		Name:       subject.ObchodniJmeno,
		TIN:        subject.DIC,
		Street:     strings.TrimSpace(street),
		City:       subject.Sidlo.NazevObce,
		PostalCode: subject.Sidlo.PSC.String(),
		Region:     subject.Sidlo.NazevKraje,
		Country:    country,
	}, nil
}
