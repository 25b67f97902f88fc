package engine

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/pricepilot/pricepilot/internal/models"
)

// unavailableSentinels are price strings sources use when no numeric
// price exists. They normalize to +Inf so they always rank last.
var unavailableSentinels = map[string]bool{
	"unavailable": true,
	"sold out":    true,
}

// NormalizedPrice extracts a comparable number from a formatted price
// string. Sentinels, empty strings and anything unparsable come back
// as +Inf rather than an error: a bad record sinks in the ranking, it
// never fails the pipeline.
func NormalizedPrice(price string) float64 {
	s := strings.TrimSpace(price)
	if s == "" || unavailableSentinels[strings.ToLower(s)] {
		return math.Inf(1)
	}

	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || r == '.' {
			b.WriteRune(r)
		}
	}

	v, err := strconv.ParseFloat(b.String(), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return math.Inf(1)
	}
	return v
}

// Aggregate applies the filter to the records and returns them in the
// requested order. The input slice is never mutated; identical inputs
// always produce identical output.
func Aggregate(items []models.PriceRecord, f models.FilterState) []models.PriceRecord {
	maxPrice := f.MaxPrice
	if maxPrice <= 0 {
		maxPrice = math.Inf(1)
	}

	out := make([]models.PriceRecord, 0, len(items))
	for _, it := range items {
		if f.Origin != models.OriginAll && it.Origin != f.Origin {
			continue
		}
		if f.Store != "" && it.Source != f.Store {
			continue
		}
		p := NormalizedPrice(it.Price)
		// An unavailable record passes an unset max (both are +Inf)
		// but fails any finite bound. Specified behavior, not a bug.
		if p < f.MinPrice || p > maxPrice {
			continue
		}
		out = append(out, it)
	}

	switch f.SortKey {
	case models.SortByRating:
		sort.SliceStable(out, func(i, j int) bool {
			return out[i].Rating > out[j].Rating
		})
	default:
		sort.SliceStable(out, func(i, j int) bool {
			return NormalizedPrice(out[i].Price) < NormalizedPrice(out[j].Price)
		})
	}
	return out
}

// BestIndex returns the index of the cheapest record by normalized
// price, resolving ties to the leftmost occurrence. When the list is
// empty or every record is unavailable there is no best item and the
// result is -1.
func BestIndex(items []models.PriceRecord) int {
	best := -1
	bestPrice := math.Inf(1)
	for i, it := range items {
		p := NormalizedPrice(it.Price)
		if p < bestPrice {
			best = i
			bestPrice = p
		}
	}
	return best
}
