package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pricepilot/pricepilot/internal/config"
	"github.com/pricepilot/pricepilot/internal/engine"
	"github.com/pricepilot/pricepilot/internal/history"
	"github.com/pricepilot/pricepilot/internal/models"
	"github.com/pricepilot/pricepilot/internal/observability"
)

// LiveFetcher fans queries out to the live retail sources.
type LiveFetcher interface {
	SearchAll(ctx context.Context, name string) ([]models.PriceRecord, error)
	FetchProduct(ctx context.Context, link string) (*models.ProductDetail, error)
}

// FeedCatalog serves pre-aggregated records and suggestion titles.
type FeedCatalog interface {
	Search(ctx context.Context, name string, limit int) ([]models.PriceRecord, error)
	Titles(ctx context.Context, limit int) ([]string, error)
}

// SeriesStore persists price observations per product link.
type SeriesStore interface {
	GetSeries(ctx context.Context, url string, limit int) ([]models.PricePoint, error)
	AppendPricePoints(ctx context.Context, url string, points []models.PricePoint) error
	FallbackSearch(ctx context.Context, name string, limit int) ([]models.PriceRecord, error)
}

// CompareCache fronts comparison runs, suggestion sets, and series.
type CompareCache interface {
	GetCompareResults(ctx context.Context, req *models.CompareRequest) (*models.CompareResponse, error)
	SetCompareResults(ctx context.Context, req *models.CompareRequest, resp *models.CompareResponse) error
	GetStaleResults(ctx context.Context, req *models.CompareRequest) (*models.CompareResponse, error)
	GetSuggestions(ctx context.Context, prefix string) ([]string, error)
	SetSuggestions(ctx context.Context, prefix string, results []string) error
	GetSeries(ctx context.Context, url string) ([]models.PricePoint, error)
	SetSeries(ctx context.Context, url string, series []models.PricePoint) error
}

// Hydrator backfills detail fields the feed catalog does not carry.
type Hydrator interface {
	HydrateRecords(ctx context.Context, records []models.PriceRecord, collection string) ([]models.PriceRecord, error)
}

// EventPublisher feeds observed prices back onto the update topic so
// the indexing pipeline keeps the feed catalog and series store
// current without a separate crawl.
type EventPublisher interface {
	PublishPriceUpdate(ctx context.Context, event *models.PriceUpdateEvent) error
	PublishBatch(ctx context.Context, events []*models.PriceUpdateEvent) error
}

const (
	feedSearchLimit  = 20
	seriesLimit      = 200
	suggestPoolLimit = 50

	productsCollection = "products"
)

type Orchestrator struct {
	fetcher   LiveFetcher
	catalog   FeedCatalog
	series    SeriesStore
	hydrator  Hydrator
	cache     CompareCache
	history   *history.Cache
	slowFetch *observability.SlowFetchDetector
	publisher EventPublisher
	cfg       config.CompareConfig
	logger    *zap.Logger
}

func New(
	fetcher LiveFetcher,
	catalog FeedCatalog,
	series SeriesStore,
	hydrator Hydrator,
	compareCache CompareCache,
	historyCache *history.Cache,
	slowFetch *observability.SlowFetchDetector,
	cfg config.CompareConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		fetcher:   fetcher,
		catalog:   catalog,
		series:    series,
		hydrator:  hydrator,
		cache:     compareCache,
		history:   historyCache,
		slowFetch: slowFetch,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetPublisher attaches an optional event publisher. Live price
// observations are echoed onto the update topic once it is set.
func (o *Orchestrator) SetPublisher(p EventPublisher) {
	o.publisher = p
}

// Compare runs one comparison: resolve the input, gather records from
// the live sources and the feed, filter and rank them, and mark the
// best pick. Empty inputs short-circuit before any backend is touched.
func (o *Orchestrator) Compare(ctx context.Context, req *models.CompareRequest) (*models.CompareResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "orchestrator.compare",
		attribute.String("input", req.Input),
	)
	defer span.End()

	query := engine.Resolve(req.Input)
	mode := query.Kind.String()

	if query.Kind == models.QueryEmpty {
		observability.CompareRequestsTotal.WithLabelValues(mode, "empty").Inc()
		return &models.CompareResponse{
			Mode:      mode,
			BestIndex: -1,
			TookMs:    time.Since(start).Milliseconds(),
			Source:    "none",
			Metadata:  models.ResponseMetadata{RequestID: req.RequestID, Mode: mode},
		}, nil
	}

	if !req.ForceFresh {
		cached, err := o.cache.GetCompareResults(ctx, req)
		if err != nil {
			o.logger.Warn("cache lookup error", zap.Error(err))
		}
		if cached != nil {
			cached.Metadata.CacheHit = true
			cached.TookMs = time.Since(start).Milliseconds()
			observability.CompareRequestsTotal.WithLabelValues(mode, "cache_hit").Inc()
			return cached, nil
		}
	}

	var (
		resp *models.CompareResponse
		err  error
	)
	switch query.Kind {
	case models.QueryLink:
		resp, err = o.compareLink(ctx, req, query.Payload)
	default:
		resp, err = o.compareName(ctx, req, query.Payload)
	}
	if err != nil {
		observability.CompareRequestsTotal.WithLabelValues(mode, "error").Inc()
		observability.CompareRequestDuration.WithLabelValues(mode, "error", "error").Observe(time.Since(start).Seconds())
		return nil, err
	}

	resp.Mode = mode
	resp.TookMs = time.Since(start).Milliseconds()
	resp.Metadata.RequestID = req.RequestID
	resp.Metadata.Mode = mode

	if err := o.cache.SetCompareResults(ctx, req, resp); err != nil {
		o.logger.Warn("cache set error", zap.Error(err))
	}

	observability.CompareRequestsTotal.WithLabelValues(mode, "success").Inc()
	observability.CompareRequestDuration.WithLabelValues(mode, resp.Source, "success").Observe(time.Since(start).Seconds())

	degraded := resp.Source != "primary" && resp.Source != "live"
	o.slowFetch.Intercept(ctx, req.Input, mode, time.Since(start), int64(len(resp.Records)), degraded)

	return resp, nil
}

// compareLink fetches one product page, remembers it in the recent
// list, and enriches the response with the price series and a deal
// score.
func (o *Orchestrator) compareLink(ctx context.Context, req *models.CompareRequest, link string) (*models.CompareResponse, error) {
	detail, err := o.fetcher.FetchProduct(ctx, link)
	if err != nil {
		o.logger.Warn("live product fetch failed, trying stale cache",
			zap.String("source", engine.ClassifySource(link)),
			zap.Error(err),
		)
		observability.FallbackCounter.WithLabelValues("link_primary_failed").Inc()

		stale, cacheErr := o.cache.GetStaleResults(ctx, req)
		if cacheErr == nil && stale != nil {
			stale.Metadata.Stale = true
			stale.Source = "stale_cache"
			stale.Metadata.Source = "stale_cache"
			observability.FallbackCounter.WithLabelValues("stale_cache").Inc()
			return stale, nil
		}
		return nil, fmt.Errorf("fetching product %s: %w", link, err)
	}

	record := detail.Record

	if o.history != nil {
		item := models.HistoryItem{
			Title: record.Title,
			Price: record.Price,
			Image: record.Image,
			URL:   record.URL,
		}
		if histErr := o.history.Record(ctx, item); histErr != nil {
			o.logger.Warn("history record failed", zap.Error(histErr))
		}
	}

	if o.publisher != nil {
		event := priceEvent(record)
		go func() {
			pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer pubCancel()
			if pubErr := o.publisher.PublishPriceUpdate(pubCtx, event); pubErr != nil {
				o.logger.Warn("price event publish failed", zap.Error(pubErr))
			}
		}()
	}

	series := o.resolveSeries(ctx, record.URL, detail.History)

	var deal *models.DealAnalysis
	current := engine.NormalizedPrice(record.Price)
	if !math.IsInf(current, 1) {
		d := engine.AnalyzeDeal(current, series)
		deal = &d
	}

	records := engine.Aggregate([]models.PriceRecord{record}, req.Filter)
	return &models.CompareResponse{
		Records:   records,
		BestIndex: engine.BestIndex(records),
		Series:    series,
		Deal:      deal,
		Source:    "live",
		Metadata:  models.ResponseMetadata{Source: record.Source},
	}, nil
}

// compareName fans out to the live sources and the feed catalog in
// parallel, merges with live records first, then filters and ranks.
func (o *Orchestrator) compareName(ctx context.Context, req *models.CompareRequest, name string) (*models.CompareResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.FetchTimeout)
	defer cancel()

	var (
		wg          sync.WaitGroup
		liveRecords []models.PriceRecord
		liveErr     error
		feedRecords []models.PriceRecord
		feedErr     error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		liveRecords, liveErr = o.fetcher.SearchAll(ctx, name)
	}()
	go func() {
		defer wg.Done()
		feedRecords, feedErr = o.catalog.Search(ctx, name, feedSearchLimit)
	}()
	wg.Wait()

	if liveErr != nil && feedErr != nil {
		o.logger.Warn("both live and feed lookups failed",
			zap.NamedError("live", liveErr),
			zap.NamedError("feed", feedErr),
		)
		return o.nameFallback(ctx, req, name, liveErr)
	}

	if feedErr == nil && o.hydrator != nil && len(feedRecords) > 0 {
		hydrated, err := o.hydrator.HydrateRecords(ctx, feedRecords, productsCollection)
		if err != nil {
			o.logger.Warn("feed hydration failed", zap.Error(err))
		} else {
			feedRecords = hydrated
		}
	}

	o.publishLiveObservations(liveRecords)

	merged := mergeRecords(liveRecords, feedRecords)
	records := engine.Aggregate(merged, req.Filter)

	source := "primary"
	meta := models.ResponseMetadata{Source: "live+feed"}
	switch {
	case liveErr != nil:
		source = "feed_only"
		meta.Source = "feed"
		observability.FallbackCounter.WithLabelValues("feed_only").Inc()
	case feedErr != nil:
		meta.Source = "live"
	}

	return &models.CompareResponse{
		Records:   records,
		BestIndex: engine.BestIndex(records),
		Source:    source,
		Metadata:  meta,
	}, nil
}

func priceEvent(rec models.PriceRecord) *models.PriceUpdateEvent {
	now := time.Now()
	return &models.PriceUpdateEvent{
		Type:       "UPSERT",
		ProductID:  models.ProductID(rec.URL),
		Source:     rec.Source,
		Title:      rec.Title,
		Price:      rec.Price,
		URL:        rec.URL,
		Image:      rec.Image,
		Rating:     rec.Rating,
		ObservedAt: now.UTC(),
		Version:    now.UnixNano(),
	}
}

// publishLiveObservations echoes one name search's worth of live
// records onto the update topic in a single batch. Records without a
// URL have no stable identity and are skipped.
func (o *Orchestrator) publishLiveObservations(records []models.PriceRecord) {
	if o.publisher == nil || len(records) == 0 {
		return
	}

	events := make([]*models.PriceUpdateEvent, 0, len(records))
	for _, rec := range records {
		if rec.URL == "" {
			continue
		}
		events = append(events, priceEvent(rec))
	}
	if len(events) == 0 {
		return
	}

	go func() {
		pubCtx, pubCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pubCancel()
		if err := o.publisher.PublishBatch(pubCtx, events); err != nil {
			o.logger.Warn("price event batch publish failed",
				zap.Int("events", len(events)),
				zap.Error(err),
			)
		}
	}()
}

// nameFallback runs the degraded tiers for name queries: stale cached
// results first, then the series store's latest observations.
func (o *Orchestrator) nameFallback(ctx context.Context, req *models.CompareRequest, name string, primaryErr error) (*models.CompareResponse, error) {
	stale, cacheErr := o.cache.GetStaleResults(ctx, req)
	if cacheErr == nil && stale != nil {
		stale.Metadata.Stale = true
		stale.Source = "stale_cache"
		stale.Metadata.Source = "stale_cache"
		observability.FallbackCounter.WithLabelValues("stale_cache").Inc()
		return stale, nil
	}

	if o.series != nil {
		degraded, chErr := o.series.FallbackSearch(ctx, name, feedSearchLimit)
		if chErr == nil && len(degraded) > 0 {
			observability.FallbackCounter.WithLabelValues("series_store").Inc()
			records := engine.Aggregate(degraded, req.Filter)
			return &models.CompareResponse{
				Records:   records,
				BestIndex: engine.BestIndex(records),
				Source:    "degraded",
				Metadata:  models.ResponseMetadata{Source: "degraded_series_store"},
			}, nil
		}
		if chErr != nil {
			o.logger.Warn("series store fallback failed", zap.Error(chErr))
		}
	}

	return nil, fmt.Errorf("all comparison paths exhausted: %w", primaryErr)
}

// resolveSeries prefers the history the source itself reported, falling
// back to cached then stored observations. Fresh source history is
// persisted asynchronously.
func (o *Orchestrator) resolveSeries(ctx context.Context, url string, raw []models.RawPricePoint) []models.PricePoint {
	if len(raw) > 0 {
		points := engine.NormalizeSeries(raw)
		if len(points) > 0 {
			if err := o.cache.SetSeries(ctx, url, points); err != nil {
				o.logger.Warn("series cache set failed", zap.Error(err))
			}
			if o.series != nil {
				go func() {
					storeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := o.series.AppendPricePoints(storeCtx, url, points); err != nil {
						o.logger.Warn("series store append failed", zap.Error(err))
					}
				}()
			}
			return points
		}
	}

	cached, err := o.cache.GetSeries(ctx, url)
	if err != nil {
		o.logger.Warn("series cache lookup failed", zap.Error(err))
	}
	if len(cached) > 0 {
		return cached
	}

	if o.series == nil {
		return nil
	}
	stored, err := o.series.GetSeries(ctx, url, seriesLimit)
	if err != nil {
		o.logger.Warn("series store lookup failed", zap.Error(err))
		return nil
	}
	if len(stored) > 0 {
		if err := o.cache.SetSeries(ctx, url, stored); err != nil {
			o.logger.Warn("series cache set failed", zap.Error(err))
		}
	}
	return stored
}

// Series serves the price history endpoint for one product link.
func (o *Orchestrator) Series(ctx context.Context, url string) ([]models.PricePoint, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.series")
	defer span.End()

	if strings.TrimSpace(url) == "" {
		return nil, errors.New("missing product link")
	}
	return o.resolveSeries(ctx, url, nil), nil
}

// Suggest returns completion candidates for a partial product name,
// drawn from the feed catalog titles and the recent searches.
func (o *Orchestrator) Suggest(ctx context.Context, query string) ([]string, error) {
	ctx, span := observability.StartSpan(ctx, "orchestrator.suggest")
	defer span.End()

	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	cached, err := o.cache.GetSuggestions(ctx, query)
	if err != nil {
		o.logger.Warn("suggestion cache lookup failed", zap.Error(err))
	}
	if cached != nil {
		observability.SuggestionRequestsTotal.WithLabelValues("cache").Inc()
		return cached, nil
	}

	var titles []string
	if o.catalog != nil {
		titles, err = o.catalog.Titles(ctx, suggestPoolLimit)
		if err != nil {
			o.logger.Warn("catalog titles lookup failed", zap.Error(err))
		}
	}

	var recents []string
	if o.history != nil {
		recents = o.history.Titles(ctx)
	}

	suggestions := engine.Suggest(query, titles, recents)
	if err := o.cache.SetSuggestions(ctx, query, suggestions); err != nil {
		o.logger.Warn("suggestion cache set failed", zap.Error(err))
	}

	observability.SuggestionRequestsTotal.WithLabelValues("computed").Inc()
	return suggestions, nil
}

// mergeRecords keeps live records ahead of feed records and drops feed
// entries whose URL a live record already covers.
func mergeRecords(live, feed []models.PriceRecord) []models.PriceRecord {
	merged := make([]models.PriceRecord, 0, len(live)+len(feed))
	seen := make(map[string]struct{}, len(live))

	for _, r := range live {
		if r.URL != "" {
			seen[r.URL] = struct{}{}
		}
		merged = append(merged, r)
	}
	for _, r := range feed {
		if r.URL != "" {
			if _, dup := seen[r.URL]; dup {
				continue
			}
		}
		merged = append(merged, r)
	}
	return merged
}
