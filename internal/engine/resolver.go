package engine

import (
	"strings"

	"github.com/pricepilot/pricepilot/internal/models"
)

// knownStores maps URL substrings to display names for the optimistic
// source badge. Ordered so the match is deterministic.
var knownStores = []struct {
	match string
	name  string
}{
	{"amazon", "Amazon"},
	{"flipkart", "Flipkart"},
	{"ajio", "Ajio"},
	{"snapdeal", "Snapdeal"},
	{"croma", "Croma"},
	{"myntra", "Myntra"},
}

// Resolve classifies a raw input: a product-page URL routes to the
// single-product pipeline, free text routes to a catalog search, and
// blank input short-circuits so nothing downstream runs.
func Resolve(input string) models.Query {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return models.Query{Kind: models.QueryEmpty}
	}

	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return models.Query{Kind: models.QueryLink, Payload: trimmed}
	}
	return models.Query{Kind: models.QueryName, Payload: trimmed}
}

// ClassifySource guesses the store behind a product URL by substring
// match. It is a UI hint shown before the backend reports the real
// source; a wrong guess is not an error.
func ClassifySource(url string) string {
	lower := strings.ToLower(url)
	for _, s := range knownStores {
		if strings.Contains(lower, s.match) {
			return s.name
		}
	}
	return "Unknown"
}
