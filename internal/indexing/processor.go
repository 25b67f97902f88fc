package indexing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/cache"
	"github.com/pricepilot/pricepilot/internal/catalog"
	"github.com/pricepilot/pricepilot/internal/engine"
	"github.com/pricepilot/pricepilot/internal/clickhouse"
	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
)

// StreamProcessor applies price update events to the feed catalog,
// appends observations to the price series store, and invalidates caches
// that may now hold outdated prices.
type StreamProcessor struct {
	catClient *catalog.Client
	chClient  *clickhouse.Client
	cache     *cache.RedisCache
	esCfg     config.ElasticsearchConfig
	logger    *zap.Logger

	// Bulk buffer
	mu     sync.Mutex
	buffer []catalog.IndexAction
	ticker *time.Ticker
	done   chan struct{}
}

func NewStreamProcessor(
	catClient *catalog.Client,
	chClient *clickhouse.Client,
	cache *cache.RedisCache,
	esCfg config.ElasticsearchConfig,
	logger *zap.Logger,
) *StreamProcessor {
	sp := &StreamProcessor{
		catClient: catClient,
		chClient:  chClient,
		cache:     cache,
		esCfg:     esCfg,
		logger:    logger,
		buffer:    make([]catalog.IndexAction, 0, esCfg.BulkSize),
		ticker:    time.NewTicker(esCfg.BulkFlushInterval),
		done:      make(chan struct{}),
	}

	go sp.flushLoop()

	return sp
}

func (sp *StreamProcessor) HandleEvent(ctx context.Context, event *models.PriceUpdateEvent) error {
	action, err := sp.transformEvent(event)
	if err != nil {
		return fmt.Errorf("transforming event: %w", err)
	}

	sp.mu.Lock()
	sp.buffer = append(sp.buffer, *action)
	shouldFlush := len(sp.buffer) >= sp.esCfg.BulkSize
	sp.mu.Unlock()

	if shouldFlush {
		if err := sp.flush(ctx); err != nil {
			sp.logger.Error("flush on buffer full failed", zap.Error(err))
		}
	}

	// Mirror into ClickHouse for series history and fallback search
	// (async, best-effort).
	if sp.chClient != nil && event.Type == "UPSERT" {
		go sp.mirrorToClickHouse(event)
	}

	// Invalidate caches that may reference this product.
	go func() {
		cacheCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		patterns := buildInvalidationKeys(event)
		if err := sp.cache.InvalidatePattern(cacheCtx, patterns); err != nil {
			sp.logger.Warn("cache invalidation failed",
				zap.String("product_id", event.ProductID),
				zap.Error(err),
			)
		}
	}()

	return nil
}

func (sp *StreamProcessor) mirrorToClickHouse(event *models.PriceUpdateEvent) {
	chCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sp.chClient.InsertPriceEvent(chCtx, event); err != nil {
		sp.logger.Warn("clickhouse event insert failed",
			zap.String("product_id", event.ProductID),
			zap.Error(err),
		)
	}
	if err := sp.chClient.UpsertLatestPrice(chCtx, event); err != nil {
		sp.logger.Warn("clickhouse latest price upsert failed",
			zap.String("product_id", event.ProductID),
			zap.Error(err),
		)
	}

	price := engine.NormalizedPrice(event.Price)
	if math.IsInf(price, 1) {
		return
	}
	point := models.PricePoint{Date: event.ObservedAt, Price: price}
	if err := sp.chClient.AppendPricePoints(chCtx, event.URL, []models.PricePoint{point}); err != nil {
		sp.logger.Warn("clickhouse price point append failed",
			zap.String("product_id", event.ProductID),
			zap.Error(err),
		)
	}
}

func (sp *StreamProcessor) transformEvent(event *models.PriceUpdateEvent) (*catalog.IndexAction, error) {
	id := event.ProductID
	if id == "" {
		id = models.ProductID(event.URL)
	}

	action := &catalog.IndexAction{
		ID:    id,
		Index: sp.catClient.FeedIndex(),
	}

	switch event.Type {
	case "UPSERT":
		action.Action = "index"
		action.Body = feedDocument(event)
	case "DELETE":
		action.Action = "delete"
	default:
		return nil, fmt.Errorf("unknown event type: %s", event.Type)
	}

	return action, nil
}

func feedDocument(event *models.PriceUpdateEvent) map[string]any {
	return map[string]any{
		"title":       event.Title,
		"price":       event.Price,
		"source":      event.Source,
		"rating":      event.Rating,
		"url":         event.URL,
		"image":       event.Image,
		"observed_at": event.ObservedAt.UTC().Format(time.RFC3339),
		"version":     event.Version,
	}
}

func (sp *StreamProcessor) flushLoop() {
	for {
		select {
		case <-sp.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := sp.flush(ctx); err != nil {
				sp.logger.Error("periodic flush failed", zap.Error(err))
			}
			cancel()
		case <-sp.done:
			return
		}
	}
}

func (sp *StreamProcessor) flush(ctx context.Context) error {
	sp.mu.Lock()
	if len(sp.buffer) == 0 {
		sp.mu.Unlock()
		return nil
	}
	batch := make([]catalog.IndexAction, len(sp.buffer))
	copy(batch, sp.buffer)
	sp.buffer = sp.buffer[:0]
	sp.mu.Unlock()

	start := time.Now()
	if err := sp.catClient.BulkIndex(ctx, batch); err != nil {
		// Put failed items back into buffer for retry
		sp.mu.Lock()
		sp.buffer = append(batch, sp.buffer...)
		sp.mu.Unlock()

		observability.IndexingEventsTotal.WithLabelValues("bulk", "error").Inc()
		return fmt.Errorf("bulk index flush: %w", err)
	}

	observability.IndexingEventsTotal.WithLabelValues("bulk", "success").Add(float64(len(batch)))
	sp.logger.Info("bulk flush completed",
		zap.Int("count", len(batch)),
		zap.Duration("duration", time.Since(start)),
	)

	return nil
}

func (sp *StreamProcessor) Stop() error {
	sp.ticker.Stop()
	close(sp.done)

	// Final flush
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return sp.flush(ctx)
}

// buildInvalidationKeys targets the caches a price change can poison:
// every fresh comparison result, the name suggestion sets, and the price
// series of the changed product. Stale fallback entries are untouched.
func buildInvalidationKeys(event *models.PriceUpdateEvent) []string {
	patterns := []string{"cr:*", "sg:*"}
	if event.URL != "" {
		patterns = append(patterns, cache.SeriesKey(event.URL))
	}
	return patterns
}
