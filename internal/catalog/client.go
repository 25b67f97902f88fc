package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
	"github.com/pricepilot/pricepilot/internal/resilience"
)

// Client searches and maintains the feed catalog index: the
// pre-aggregated product records that back NAME queries and the
// suggestion pool.
type Client struct {
	es       *elasticsearch.Client
	cb       *gobreaker.CircuitBreaker
	cfg      config.ElasticsearchConfig
	retryCfg resilience.RetryConfig
	logger   *zap.Logger
}

func NewClient(cfg config.ElasticsearchConfig, compareCfg config.CompareConfig, logger *zap.Logger) (*Client, error) {
	esCfg := elasticsearch.Config{
		Addresses:  cfg.Addresses,
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: cfg.MaxRetries,
	}

	es, err := elasticsearch.NewClient(esCfg)
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	res, err := es.Ping()
	if err != nil {
		return nil, fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch ping returned status: %s", res.Status())
	}

	cb := resilience.NewCircuitBreaker("catalog-search", compareCfg.CircuitBreaker, logger)

	logger.Info("catalog client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		es:  es,
		cb:  cb,
		cfg: cfg,
		retryCfg: resilience.RetryConfig{
			MaxAttempts: compareCfg.Retry.MaxAttempts,
			InitialWait: compareCfg.Retry.InitialWait,
			MaxWait:     compareCfg.Retry.MaxWait,
			Multiplier:  compareCfg.Retry.Multiplier,
		},
		logger: logger,
	}, nil
}

// Search runs a fuzzy title match over the feed index and returns the
// hits as FEED-tagged price records.
func (c *Client) Search(ctx context.Context, name string, limit int) ([]models.PriceRecord, error) {
	ctx, span := observability.StartSpan(ctx, "catalog.search",
		attribute.String("catalog.query", name),
	)
	defer span.End()

	index := c.FeedIndex()
	query := buildFeedQuery(name, limit)

	start := time.Now()

	cbResult, err := c.cb.Execute(func() (any, error) {
		var records []models.PriceRecord
		retryErr := resilience.Retry(ctx, c.retryCfg, func() error {
			var execErr error
			records, execErr = c.executeSearch(ctx, index, query)
			return execErr
		})
		return records, retryErr
	})

	duration := time.Since(start)
	if err != nil {
		observability.CatalogQueryDuration.WithLabelValues(index, "error").Observe(duration.Seconds())
		return nil, fmt.Errorf("catalog search (index=%s): %w", index, err)
	}
	observability.CatalogQueryDuration.WithLabelValues(index, "success").Observe(duration.Seconds())

	records, _ := cbResult.([]models.PriceRecord)
	return records, nil
}

// Titles returns catalog titles for the suggestion pool.
func (c *Client) Titles(ctx context.Context, limit int) ([]string, error) {
	records, err := c.Search(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	titles := make([]string, 0, len(records))
	for _, r := range records {
		if r.Title != "" {
			titles = append(titles, r.Title)
		}
	}
	return titles, nil
}

func buildFeedQuery(name string, limit int) map[string]any {
	if limit <= 0 {
		limit = 20
	}
	if strings.TrimSpace(name) == "" {
		return map[string]any{
			"size":  limit,
			"query": map[string]any{"match_all": map[string]any{}},
			"sort":  []any{map[string]any{"observed_at": map[string]any{"order": "desc"}}},
		}
	}
	return map[string]any{
		"size": limit,
		"query": map[string]any{
			"multi_match": map[string]any{
				"query":     name,
				"fields":    []string{"title^3", "seller", "source"},
				"fuzziness": "AUTO",
			},
		},
	}
}

func (c *Client) executeSearch(ctx context.Context, index string, query map[string]any) ([]models.PriceRecord, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, fmt.Errorf("marshaling catalog query: %w", err)
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(body)),
		c.es.Search.WithTimeout(c.cfg.RequestTimeout),
		c.es.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		return nil, fmt.Errorf("executing catalog search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("catalog search error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var esResp esSearchResponse
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, fmt.Errorf("decoding catalog response: %w", err)
	}

	records := make([]models.PriceRecord, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		records = append(records, recordFromSource(h.Source))
	}
	return records, nil
}

// recordFromSource maps one indexed document to a PriceRecord. Feed
// documents always carry the FEED origin; a missing price stays the
// "Unavailable" sentinel so the aggregator ranks it last instead of
// rejecting it.
func recordFromSource(src map[string]any) models.PriceRecord {
	rec := models.PriceRecord{
		Price:  "Unavailable",
		Origin: models.OriginFeed,
	}
	if src == nil {
		return rec
	}
	if v, ok := src["title"].(string); ok {
		rec.Title = v
	}
	if v, ok := src["price"].(string); ok && v != "" {
		rec.Price = v
	}
	if v, ok := src["source"].(string); ok {
		rec.Source = v
	}
	if v, ok := src["rating"].(float64); ok {
		rec.Rating = v
	}
	if v, ok := src["availability"].(string); ok {
		rec.Availability = v
	}
	if v, ok := src["seller"].(string); ok {
		rec.Seller = v
	}
	if v, ok := src["url"].(string); ok {
		rec.URL = v
	}
	if v, ok := src["image"].(string); ok {
		rec.Image = v
	}
	return rec
}

// BulkIndex writes a batch of index/delete actions to the feed index.
func (c *Client) BulkIndex(ctx context.Context, actions []IndexAction) error {
	if len(actions) == 0 {
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "catalog.bulk_index",
		attribute.Int("batch_size", len(actions)),
	)
	defer span.End()

	var buf bytes.Buffer
	for _, action := range actions {
		meta := map[string]any{
			action.Action: map[string]any{
				"_index": action.Index,
				"_id":    action.ID,
			},
		}

		metaLine, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("marshaling bulk meta: %w", err)
		}
		buf.Write(metaLine)
		buf.WriteByte('\n')

		if action.Action != "delete" && action.Body != nil {
			bodyLine, err := json.Marshal(action.Body)
			if err != nil {
				return fmt.Errorf("marshaling bulk body: %w", err)
			}
			buf.Write(bodyLine)
			buf.WriteByte('\n')
		}
	}

	res, err := c.es.Bulk(
		bytes.NewReader(buf.Bytes()),
		c.es.Bulk.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("executing bulk request: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk request error status=%s body=%s", res.Status(), string(bodyBytes))
	}

	var bulkResp bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		return fmt.Errorf("decoding bulk response: %w", err)
	}

	if bulkResp.Errors {
		var errMsgs []string
		for _, item := range bulkResp.Items {
			for _, result := range item {
				if result.Error != nil {
					errMsgs = append(errMsgs, fmt.Sprintf("id=%s: %s", result.ID, result.Error.Reason))
				}
			}
		}
		return fmt.Errorf("bulk indexing had errors: %s", strings.Join(errMsgs, "; "))
	}

	return nil
}

// IndexAction is one entry in a bulk request against the feed index.
type IndexAction struct {
	Action string         `json:"action"` // index, delete
	Index  string         `json:"index"`
	ID     string         `json:"id"`
	Body   map[string]any `json:"body,omitempty"`
}

// FeedIndex names the single rolling feed index.
func (c *Client) FeedIndex() string {
	return fmt.Sprintf("%s-feed", c.cfg.IndexPrefix)
}

func (c *Client) HealthCheck(ctx context.Context) (string, error) {
	res, err := c.es.Cluster.Health(
		c.es.Cluster.Health.WithContext(ctx),
	)
	if err != nil {
		return "red", fmt.Errorf("catalog health check: %w", err)
	}
	defer res.Body.Close()

	var health struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		return "red", fmt.Errorf("decoding health response: %w", err)
	}
	return health.Status, nil
}

func (c *Client) Close() error {
	return nil
}

// ES response types

type esSearchResponse struct {
	Took     int64 `json:"took"`
	TimedOut bool  `json:"timed_out"`
	Hits     struct {
		Total struct {
			Value    int64  `json:"value"`
			Relation string `json:"relation"`
		} `json:"total"`
		Hits []esHit `json:"hits"`
	} `json:"hits"`
}

type esHit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Score  float64        `json:"_score"`
	Source map[string]any `json:"_source"`
}

type bulkResponse struct {
	Errors bool                        `json:"errors"`
	Items  []map[string]bulkItemResult `json:"items"`
}

type bulkItemResult struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error,omitempty"`
}
