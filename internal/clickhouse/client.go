package clickhouse

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/engine"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
)

type Client struct {
	conn   driver.Conn
	logger *zap.Logger
}

func NewClient(cfg config.ClickHouseConfig, logger *zap.Logger) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": int(cfg.QueryTimeout.Seconds()),
		},
		DialTimeout:  cfg.DialTimeout,
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, fmt.Errorf("opening clickhouse connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging clickhouse: %w", err)
	}

	logger.Info("clickhouse client connected", zap.Strings("addresses", cfg.Addresses))

	return &Client{
		conn:   conn,
		logger: logger,
	}, nil
}

// AppendPricePoints records one observation per point so the series
// endpoint can chart price movement over time.
func (c *Client) AppendPricePoints(ctx context.Context, url string, points []models.PricePoint) error {
	if len(points) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, "INSERT INTO price_points (product_url, price, observed_at)")
	if err != nil {
		return fmt.Errorf("preparing price point batch: %w", err)
	}
	for _, p := range points {
		if err := batch.Append(url, p.Price, p.Date); err != nil {
			return fmt.Errorf("appending price point: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("sending price point batch: %w", err)
	}
	return nil
}

// GetSeries returns the stored price observations for a product URL in
// ascending date order.
func (c *Client) GetSeries(ctx context.Context, url string, limit int) ([]models.PricePoint, error) {
	ctx, span := observability.StartSpan(ctx, "ch.get_series",
		attribute.String("product_url", url),
	)
	defer span.End()

	start := time.Now()

	if limit <= 0 {
		limit = 200
	}

	query := `
		SELECT
			observed_at,
			price
		FROM price_points
		WHERE product_url = ?
		ORDER BY observed_at ASC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, url, limit)
	if err != nil {
		observability.SeriesQueryDuration.WithLabelValues("series", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch series query: %w", err)
	}
	defer rows.Close()

	var points []models.PricePoint
	for rows.Next() {
		var p models.PricePoint
		if err := rows.Scan(&p.Date, &p.Price); err != nil {
			return nil, fmt.Errorf("scanning series row: %w", err)
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating series rows: %w", err)
	}

	observability.SeriesQueryDuration.WithLabelValues("series", "success").Observe(time.Since(start).Seconds())
	return points, nil
}

// AveragePrice returns the mean stored price for a product URL. A zero
// average with no error means no observations exist yet.
func (c *Client) AveragePrice(ctx context.Context, url string) (float64, error) {
	ctx, span := observability.StartSpan(ctx, "ch.average_price")
	defer span.End()

	start := time.Now()

	query := `
		SELECT avgOrNull(price)
		FROM price_points
		WHERE product_url = ?
	`

	row := c.conn.QueryRow(ctx, query, url)
	var avg *float64
	if err := row.Scan(&avg); err != nil {
		observability.SeriesQueryDuration.WithLabelValues("average", "error").Observe(time.Since(start).Seconds())
		return 0, fmt.Errorf("ch average price query: %w", err)
	}

	observability.SeriesQueryDuration.WithLabelValues("average", "success").Observe(time.Since(start).Seconds())
	if avg == nil {
		return 0, nil
	}
	return *avg, nil
}

func (c *Client) WriteFetchPerformance(ctx context.Context, event *models.FetchEvent) error {
	query := `
		INSERT INTO fetch_performance (
			event_type, input_hash, mode, duration_ms,
			records, degraded, timestamp, trace_id, source
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.EventType,
		event.InputHash,
		event.Mode,
		event.DurationMs,
		event.Records,
		event.Degraded,
		event.Timestamp,
		event.TraceID,
		event.Source,
	)
}

func (c *Client) InsertPriceEvent(ctx context.Context, event *models.PriceUpdateEvent) error {
	query := `
		INSERT INTO price_events_changelog (
			product_id, source, operation, url, timestamp, version
		) VALUES (?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.ProductID,
		event.Source,
		event.Type,
		event.URL,
		event.ObservedAt,
		event.Version,
	)
}

// storablePrice reports whether an observed price is a real positive
// amount that may enter latest_prices. Sentinels ("Unavailable",
// "Sold Out", empty) and malformed strings normalize to +Inf and are
// rejected.
func storablePrice(raw string) (float64, bool) {
	price := engine.NormalizedPrice(raw)
	if math.IsInf(price, 1) || price <= 0 {
		return 0, false
	}
	return price, true
}

// UpsertLatestPrice keeps one row per product URL in latest_prices so
// fallback search has something to serve when live sources are down.
// Events without a real numeric price are dropped: a stored zero
// would come back through FallbackSearch as "0" and outrank every
// real offer.
func (c *Client) UpsertLatestPrice(ctx context.Context, event *models.PriceUpdateEvent) error {
	price, ok := storablePrice(event.Price)
	if !ok {
		return nil
	}

	query := `
		INSERT INTO latest_prices (
			product_url, title, price, source, rating, image, observed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	return c.conn.Exec(ctx, query,
		event.URL,
		event.Title,
		price,
		event.Source,
		event.Rating,
		event.Image,
		event.ObservedAt,
	)
}

// FallbackSearch serves name comparisons from the latest stored
// observations when both the live sources and the feed catalog are down.
func (c *Client) FallbackSearch(ctx context.Context, name string, limit int) ([]models.PriceRecord, error) {
	ctx, span := observability.StartSpan(ctx, "ch.fallback_search")
	defer span.End()

	start := time.Now()

	query := `
		SELECT
			title,
			toString(price) AS price,
			source,
			rating,
			product_url,
			image
		FROM latest_prices
		WHERE positionCaseInsensitive(title, ?) > 0
		  AND price > 0
		ORDER BY observed_at DESC
		LIMIT ?
	`

	rows, err := c.conn.Query(ctx, query, name, limit)
	if err != nil {
		observability.SeriesQueryDuration.WithLabelValues("fallback", "error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("ch fallback search: %w", err)
	}
	defer rows.Close()

	var records []models.PriceRecord
	for rows.Next() {
		var r models.PriceRecord
		if err := rows.Scan(&r.Title, &r.Price, &r.Source, &r.Rating, &r.URL, &r.Image); err != nil {
			return nil, fmt.Errorf("scanning fallback row: %w", err)
		}
		r.Origin = models.OriginFeed
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating fallback rows: %w", err)
	}

	observability.SeriesQueryDuration.WithLabelValues("fallback", "success").Observe(time.Since(start).Seconds())
	return records, nil
}

func (c *Client) HealthCheck(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) EnsureTables(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS price_points (
			product_url String,
			price Float64,
			observed_at DateTime
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(observed_at)
		ORDER BY (product_url, observed_at)`,

		`CREATE TABLE IF NOT EXISTS latest_prices (
			product_url String,
			title String,
			price Float64,
			source String,
			rating Float64,
			image String,
			observed_at DateTime
		) ENGINE = ReplacingMergeTree(observed_at)
		PARTITION BY toYYYYMM(observed_at)
		ORDER BY (product_url)`,

		`CREATE TABLE IF NOT EXISTS fetch_performance (
			event_type String,
			input_hash String,
			mode String,
			duration_ms Float64,
			records Int64,
			degraded Bool,
			timestamp DateTime,
			trace_id String,
			source String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, input_hash)`,

		`CREATE TABLE IF NOT EXISTS price_events_changelog (
			product_id String,
			source String,
			operation String,
			url String,
			timestamp DateTime,
			version Int64
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(timestamp)
		ORDER BY (timestamp, product_id)`,
	}

	for _, ddl := range tables {
		if err := c.conn.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table: %w", err)
		}
	}

	c.logger.Info("clickhouse tables ensured")
	return nil
}
