package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/engine"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
	"github.com/pricepilot/pricepilot/internal/resilience"
)

// ErrUnknownSource is returned when a product link does not belong to
// any configured retail source.
var ErrUnknownSource = errors.New("no configured source for link")

// sourceProduct is the wire shape the source backends return. History
// comes back raw; normalization happens in the engine.
type sourceProduct struct {
	Title        string                 `json:"title"`
	Price        string                 `json:"price"`
	Rating       float64                `json:"rating"`
	Availability string                 `json:"availability"`
	Seller       string                 `json:"seller"`
	URL          string                 `json:"url"`
	Image        string                 `json:"image"`
	History      []models.RawPricePoint `json:"history,omitempty"`
}

type source struct {
	name    string
	baseURL string
	client  *http.Client
	cb      *gobreaker.CircuitBreaker
}

// Client fans product queries out to the configured live retail sources.
// Each source gets its own HTTP client and circuit breaker so one slow
// backend cannot poison the rest.
type Client struct {
	sources  []*source
	byName   map[string]*source
	retryCfg resilience.RetryConfig
	timeout  time.Duration
	logger   *zap.Logger
}

func New(cfg config.CompareConfig, sources []config.SourceConfig, logger *zap.Logger) *Client {
	c := &Client{
		byName:  make(map[string]*source, len(sources)),
		timeout: cfg.FetchTimeout,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: cfg.Retry.MaxAttempts,
			InitialWait: cfg.Retry.InitialWait,
			MaxWait:     cfg.Retry.MaxWait,
			Multiplier:  cfg.Retry.Multiplier,
		},
		logger: logger,
	}

	max := cfg.MaxSources
	for _, sc := range sources {
		if max > 0 && len(c.sources) >= max {
			logger.Warn("source limit reached, skipping remaining sources",
				zap.Int("max_sources", max))
			break
		}
		s := &source{
			name:    sc.Name,
			baseURL: strings.TrimRight(sc.BaseURL, "/"),
			client:  &http.Client{Timeout: sc.Timeout},
			cb:      resilience.NewCircuitBreaker("source-"+strings.ToLower(sc.Name), cfg.CircuitBreaker, logger),
		}
		c.sources = append(c.sources, s)
		c.byName[strings.ToLower(sc.Name)] = s
	}
	return c
}

// SearchAll runs a name query against every source concurrently and
// merges the results in configured source order. Sources that fail are
// logged and skipped; an error is returned only when every source fails.
func (c *Client) SearchAll(ctx context.Context, name string) ([]models.PriceRecord, error) {
	ctx, span := observability.StartSpan(ctx, "fetcher.search_all",
		attribute.Int("sources", len(c.sources)),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	perSource := make([][]models.PriceRecord, len(c.sources))
	errs := make([]error, len(c.sources))

	var wg sync.WaitGroup
	for i, s := range c.sources {
		wg.Add(1)
		go func(i int, s *source) {
			defer wg.Done()
			records, err := c.searchSource(ctx, s, name)
			if err != nil {
				c.logger.Warn("live source search failed",
					zap.String("source", s.name),
					zap.Error(err),
				)
				errs[i] = err
				return
			}
			perSource[i] = records
		}(i, s)
	}
	wg.Wait()

	var merged []models.PriceRecord
	failed := 0
	for i := range c.sources {
		if errs[i] != nil {
			failed++
			continue
		}
		merged = append(merged, perSource[i]...)
	}

	if failed == len(c.sources) && len(c.sources) > 0 {
		return nil, fmt.Errorf("all %d live sources failed", len(c.sources))
	}
	return merged, nil
}

// FetchProduct fetches a single product by link, routed to the source
// the link belongs to.
func (c *Client) FetchProduct(ctx context.Context, link string) (*models.ProductDetail, error) {
	name := engine.ClassifySource(link)
	s, ok := c.byName[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	ctx, span := observability.StartSpan(ctx, "fetcher.fetch_product",
		attribute.String("source", s.name),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	var product sourceProduct
	endpoint := s.baseURL + "/product?url=" + url.QueryEscape(link)

	err := c.doWithBreaker(ctx, s, endpoint, &product)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.SourceFetchDuration.WithLabelValues(s.name, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	record := recordFromProduct(s.name, product)
	if record.URL == "" {
		record.URL = link
	}
	return &models.ProductDetail{Record: record, History: product.History}, nil
}

// Sources lists the configured source names in order.
func (c *Client) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.name
	}
	return names
}

func (c *Client) searchSource(ctx context.Context, s *source, name string) ([]models.PriceRecord, error) {
	start := time.Now()
	var products []sourceProduct
	endpoint := s.baseURL + "/search?q=" + url.QueryEscape(name)

	err := c.doWithBreaker(ctx, s, endpoint, &products)
	status := "success"
	if err != nil {
		status = "error"
	}
	observability.SourceFetchDuration.WithLabelValues(s.name, status).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	records := make([]models.PriceRecord, 0, len(products))
	for _, p := range products {
		records = append(records, recordFromProduct(s.name, p))
	}
	return records, nil
}

func (c *Client) doWithBreaker(ctx context.Context, s *source, endpoint string, out any) error {
	_, err := s.cb.Execute(func() (any, error) {
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			return c.doRequest(ctx, s, endpoint, out)
		})
		return nil, retryErr
	})
	return err
}

func (c *Client) doRequest(ctx context.Context, s *source, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s returned status %d", s.name, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", s.name, err)
	}
	return nil
}

func recordFromProduct(sourceName string, p sourceProduct) models.PriceRecord {
	record := models.PriceRecord{
		Title:        p.Title,
		Price:        p.Price,
		Source:       sourceName,
		Rating:       p.Rating,
		Availability: p.Availability,
		Seller:       p.Seller,
		URL:          p.URL,
		Image:        p.Image,
		Origin:       models.OriginLive,
	}
	if record.Price == "" {
		record.Price = "Unavailable"
	}
	return record
}
