package models

import "time"

// Origin tags where a PriceRecord came from: the pre-aggregated feed
// catalog or a fresh live fetch.
type Origin int

const (
	OriginAll Origin = iota
	OriginFeed
	OriginLive
)

func (o Origin) String() string {
	switch o {
	case OriginFeed:
		return "feed"
	case OriginLive:
		return "live"
	case OriginAll:
		return "all"
	default:
		return "unknown"
	}
}

// ParseOrigin maps a wire string to an Origin. Unrecognized values
// fall back to OriginAll so a bad filter widens rather than empties
// the result set.
func ParseOrigin(s string) Origin {
	switch s {
	case "feed":
		return OriginFeed
	case "live":
		return OriginLive
	default:
		return OriginAll
	}
}

// PriceRecord is one per-source price observation. Price is the
// opaque formatted amount as the source reported it ("1,299") or one
// of the unavailable sentinels; numeric interpretation happens in the
// engine, never at the boundary.
type PriceRecord struct {
	Title        string  `json:"title"`
	Price        string  `json:"price"`
	Source       string  `json:"source"`
	Rating       float64 `json:"rating,omitempty"`
	Availability string  `json:"availability,omitempty"`
	Seller       string  `json:"seller,omitempty"`
	URL          string  `json:"url,omitempty"`
	Image        string  `json:"image,omitempty"`
	Origin       Origin  `json:"origin"`
}

// SortKey selects the comparison ordering.
type SortKey int

const (
	SortByPrice SortKey = iota
	SortByRating
)

func (k SortKey) String() string {
	if k == SortByRating {
		return "rating"
	}
	return "price"
}

func ParseSortKey(s string) SortKey {
	if s == "rating" {
		return SortByRating
	}
	return SortByPrice
}

// FilterState is the ephemeral per-interaction view filter. A zero
// MaxPrice means "no upper bound" and is normalized to +Inf by the
// aggregator.
type FilterState struct {
	Origin   Origin  `json:"origin"`
	Store    string  `json:"store"`
	MinPrice float64 `json:"min_price"`
	MaxPrice float64 `json:"max_price"`
	SortKey  SortKey `json:"sort_key"`
}

// HistoryItem is one remembered search. URL is the dedup key.
type HistoryItem struct {
	Title string    `json:"title"`
	Price string    `json:"price"`
	Image string    `json:"image,omitempty"`
	URL   string    `json:"url"`
	Date  time.Time `json:"date"`
}

// RawPricePoint is a historical price record as backends report it:
// the date may be a string or an epoch, the price a number or a
// formatted string. Normalization turns these into PricePoints.
type RawPricePoint struct {
	Date  any `json:"date"`
	Price any `json:"price"`
}

// PricePoint is one normalized sample of a price series. Price is
// always finite and non-negative.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Price float64   `json:"price"`
}

// DealAnalysis scores the current price against the historical
// average. Consumed opaquely by the rendering side.
type DealAnalysis struct {
	Score        int     `json:"score"`
	Label        string  `json:"label"`
	SavingsPct   float64 `json:"savings"`
	AveragePrice float64 `json:"average_price"`
}

// ProductDetail is a live source's answer for one product link: the
// current observation plus whatever price history the source exposes,
// still in raw form.
type ProductDetail struct {
	Record  PriceRecord     `json:"record"`
	History []RawPricePoint `json:"history,omitempty"`
}

// QueryKind classifies a raw input string.
type QueryKind int

const (
	QueryEmpty QueryKind = iota
	QueryLink
	QueryName
)

func (k QueryKind) String() string {
	switch k {
	case QueryLink:
		return "link"
	case QueryName:
		return "name"
	default:
		return "empty"
	}
}

// Query is the resolved form of a raw input.
type Query struct {
	Kind    QueryKind
	Payload string
}

// CompareRequest is the API-level request for a comparison run.
type CompareRequest struct {
	Input      string      `json:"input"`
	Filter     FilterState `json:"filter"`
	ForceFresh bool        `json:"force_fresh,omitempty"`
	RequestID  string      `json:"request_id,omitempty"`
}

// CompareResponse carries everything the rendering sink needs for one
// comparison: the ordered record list, the best pick, and (for link
// queries) the normalized series plus deal analysis.
type CompareResponse struct {
	Mode      string           `json:"mode"`
	Records   []PriceRecord    `json:"records"`
	BestIndex int              `json:"best_index"`
	Series    []PricePoint     `json:"series,omitempty"`
	Deal      *DealAnalysis    `json:"deal,omitempty"`
	TookMs    int64            `json:"took_ms"`
	Source    string           `json:"source"`
	Metadata  ResponseMetadata `json:"metadata"`
}

type ResponseMetadata struct {
	RequestID string `json:"request_id"`
	Source    string `json:"source"`
	CacheHit  bool   `json:"cache_hit"`
	Stale     bool   `json:"stale"`
	Mode      string `json:"mode"`
}

// PriceUpdateEvent is one message on the price update topic: a source
// observed a price for a product at a point in time.
type PriceUpdateEvent struct {
	Type       string    `json:"type"` // UPSERT, DELETE
	ProductID  string    `json:"product_id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Price      string    `json:"price"`
	URL        string    `json:"url"`
	Image      string    `json:"image,omitempty"`
	Rating     float64   `json:"rating,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	Version    int64     `json:"version"`
}

// FetchEvent records the performance of one live source fetch, written
// to analytics when the fetch is slow.
type FetchEvent struct {
	EventType  string    `json:"event_type"`
	InputHash  string    `json:"input_hash"`
	Mode       string    `json:"mode"`
	DurationMs float64   `json:"duration_ms"`
	Records    int64     `json:"records"`
	Degraded   bool      `json:"degraded"`
	Timestamp  time.Time `json:"timestamp"`
	TraceID    string    `json:"trace_id"`
	Source     string    `json:"source"`
}
