package engine

import "strings"

// Levenshtein computes the edit distance between a and b with unit
// insert/delete/substitute costs. Two working rows instead of the full
// matrix keeps memory at O(min side) scale for typical query lengths.
func Levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}
	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			del := prev[j] + 1
			ins := curr[j-1] + 1
			sub := prev[j-1] + cost

			m := del
			if ins < m {
				m = ins
			}
			if sub < m {
				m = sub
			}
			curr[j] = m
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// Similarity scores two strings in [0,1], case-insensitive: 1 means
// identical, 0 maximally dissimilar. Two empty strings carry no
// information and score 0 rather than NaN.
func Similarity(a, b string) float64 {
	la, lb := strings.ToLower(a), strings.ToLower(b)

	maxLen := len(la)
	if len(lb) > maxLen {
		maxLen = len(lb)
	}
	if maxLen == 0 {
		return 0
	}
	return 1 - float64(Levenshtein(la, lb))/float64(maxLen)
}
