package engine

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pricepilot/pricepilot/internal/models"
)

// dateLayouts are tried in order when a raw date arrives as a string.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// NormalizeSeries converts raw historical price records into a clean
// chronological series. Records whose date or price cannot be parsed
// are dropped; every emitted point has a finite, non-negative price.
// Ordering is ascending by instant and stable for equal instants, so
// a chart consumer can render the output directly. Empty input yields
// empty output.
func NormalizeSeries(raw []models.RawPricePoint) []models.PricePoint {
	points := make([]models.PricePoint, 0, len(raw))
	for _, r := range raw {
		d, ok := parseDate(r.Date)
		if !ok {
			continue
		}
		p, ok := parsePriceValue(r.Price)
		if !ok {
			continue
		}
		points = append(points, models.PricePoint{Date: d, Price: p})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
	return points
}

func parseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case time.Time:
		return d, true
	case string:
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, d); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case int64:
		return time.Unix(d, 0).UTC(), true
	case int:
		return time.Unix(int64(d), 0).UTC(), true
	case float64:
		// JSON numbers decode as float64; treat as epoch seconds.
		return time.Unix(int64(d), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func parsePriceValue(v any) (float64, bool) {
	switch p := v.(type) {
	case float64:
		return checkPrice(p)
	case int:
		return checkPrice(float64(p))
	case int64:
		return checkPrice(float64(p))
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(p), ",", "")
		f, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0, false
		}
		return checkPrice(f)
	default:
		return 0, false
	}
}

func checkPrice(p float64) (float64, bool) {
	if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
		return 0, false
	}
	return p, true
}
