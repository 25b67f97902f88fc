package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CompareRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "compare_request_duration_seconds",
			Help:    "Comparison request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"mode", "source", "status"},
	)

	CompareRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compare_requests_total",
			Help: "Total number of comparison requests",
		},
		[]string{"mode", "status"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_hits_total",
			Help: "Total number of Redis cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "redis_cache_misses_total",
			Help: "Total number of Redis cache misses",
		},
	)

	SourceFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "source_fetch_duration_seconds",
			Help:    "Live source fetch duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 4, 8},
		},
		[]string{"source", "status"},
	)

	CatalogQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_query_duration_seconds",
			Help:    "Feed catalog query duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"index", "status"},
	)

	SeriesQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "series_query_duration_seconds",
			Help:    "Price series query duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"query_type", "status"},
	)

	HistoryRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "history_records_total",
			Help: "Total number of recent-search history mutations",
		},
		[]string{"operation", "status"},
	)

	IndexingLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexing_lag_seconds",
			Help: "Current price-event indexing lag in seconds",
		},
	)

	IndexingEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexing_events_total",
			Help: "Total number of price update events processed",
		},
		[]string{"operation", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	SlowFetchCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "slow_fetch_total",
			Help: "Total number of slow comparison runs",
		},
		[]string{"severity", "mode"},
	)

	FallbackCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "compare_fallback_total",
			Help: "Total number of comparison fallback invocations",
		},
		[]string{"level"},
	)

	SuggestionRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestion_requests_total",
			Help: "Total number of suggestion requests",
		},
		[]string{"source"},
	)
)
