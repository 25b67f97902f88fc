package engine

import "strings"

const (
	// maxSuggestions bounds the list handed to the rendering sink.
	maxSuggestions = 6
	// suggestThreshold is the minimum similarity for a fuzzy match.
	suggestThreshold = 0.5
)

// Suggest returns up to six candidates from the catalog and recent
// search titles that match the query, either fuzzily (similarity at or
// above the threshold, tolerant of typos) or by case-insensitive
// substring containment (tolerant of partial prefixes). Candidates
// keep their pool order: catalog first, then recents, no re-ranking by
// score. An empty query yields nothing.
func Suggest(query string, catalog, recents []string) []string {
	if strings.TrimSpace(query) == "" {
		return nil
	}

	q := strings.ToLower(query)
	out := make([]string, 0, maxSuggestions)

	consider := func(candidate string) bool {
		if strings.Contains(strings.ToLower(candidate), q) ||
			Similarity(candidate, query) >= suggestThreshold {
			out = append(out, candidate)
		}
		return len(out) < maxSuggestions
	}

	for _, c := range catalog {
		if !consider(c) {
			return out
		}
	}
	for _, c := range recents {
		if !consider(c) {
			return out
		}
	}
	return out
}
