package registry

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/version"
)

const defaultORSRURL = "https://www.orsr.sk/hladaj_ico.asp"

var orsrIDPattern = regexp.MustCompile(`^\d{10}$`)

// ORSR: словацкий торговый реестр. API нет, данные берутся из HTML.
type ORSR struct {
	baseURL string
	http    *http.Client
}

var _ Lookup = (*ORSR)(nil)

// NewORSR создаёт клиента. Пустой baseURL означает публичный адрес реестра.
func NewORSR(baseURL string, httpClient *http.Client) *ORSR {
	if baseURL == "" {
		baseURL = defaultORSRURL
	}
	return &ORSR{baseURL: baseURL, http: defaultHTTPClient(httpClient)}
}

// Name возвращает имя реестра для метрик и логов.
func (o *ORSR) Name() string {
	return "orsr"
}

// Lookup ищет компанию по десятизначному номеру.
func (o *ORSR) Lookup(ctx context.Context, id string) (Company, error) {
	if err := validateID(orsrIDPattern, id); err != nil {
		return Company{}, err
	}

	u, err := url.Parse(o.baseURL)
	if err != nil {
		return Company{}, fmt.Errorf("orsr: base url: %w", err)
	}
	q := u.Query()
	q.Set("ICO", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Company{}, fmt.Errorf("orsr: build request: %w", err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := o.http.Do(req)
	if err != nil {
		return Company{}, fmt.Errorf("orsr: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Company{}, &UpstreamError{Registry: o.Name(), StatusCode: resp.StatusCode}
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Company{}, fmt.Errorf("orsr: parse html: %w", err)
	}

	field := func(label string) string {
		return strings.TrimSpace(doc.Find(fmt.Sprintf("table tr:contains('%s') td:nth-child(2)", label)).First().Text())
	}

	company := Company{
		ID:         id,
		Name:       field("Obchodné meno"),
		Street:     field("Ulica"),
		City:       field("Obec"),
		PostalCode: field("PSČ"),
		Region:     field("Kraj"),
		TIN:        field("DIČ"),
		Country:    "SK",
	}
	if company.Name == "" {
		return Company{}, fmt.Errorf("%w: %s", domain.ErrRegistryNotFound, id)
	}
	return company, nil
}
