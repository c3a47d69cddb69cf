package search

import (
	"sort"
	"strings"
)

// ByName fuzzy-matches query against the display names of an already-fetched
// candidate pool. A candidate is included when its score reaches threshold;
// results are ordered score-descending, stable for ties. An exact substring
// match scores 1.0.
func ByName(query string, pool []Candidate, threshold float64) []Candidate {
	query = strings.TrimSpace(query)
	if query == "" || len(pool) == 0 {
		return nil
	}

	type scored struct {
		candidate Candidate
		score     float64
	}
	matches := make([]scored, 0, len(pool))
	for _, c := range pool {
		s := Score(query, c.Name)
		if s >= threshold {
			matches = append(matches, scored{candidate: c, score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	out := make([]Candidate, len(matches))
	for i, m := range matches {
		out[i] = m.candidate
	}
	return out
}

// Score returns a similarity in [0,1] between a query and a display name:
// substring containment scores 1.0, otherwise the average best token
// similarity (normalized edit distance) of each query token against the name
// tokens.
func Score(query, name string) float64 {
	q := strings.ToLower(strings.TrimSpace(query))
	n := strings.ToLower(strings.TrimSpace(name))
	if q == "" || n == "" {
		return 0
	}
	if strings.Contains(n, q) {
		return 1
	}

	queryTokens := strings.Fields(q)
	nameTokens := strings.Fields(n)
	if len(queryTokens) == 0 || len(nameTokens) == 0 {
		return 0
	}

	var total float64
	for _, qt := range queryTokens {
		best := 0.0
		for _, nt := range nameTokens {
			if s := tokenSimilarity(qt, nt); s > best {
				best = s
			}
		}
		total += best
	}
	return total / float64(len(queryTokens))
}

// tokenSimilarity is 1 - editDistance/maxLen, with a prefix shortcut so that
// partial first names ("ann" vs "annika") still rank high.
func tokenSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if strings.HasPrefix(b, a) || strings.HasPrefix(a, b) {
		short, long := len(a), len(b)
		if short > long {
			short, long = long, short
		}
		return 0.8 + 0.2*float64(short)/float64(long)
	}

	dist := editDistance(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return 0
	}
	return 1 - float64(dist)/float64(longest)
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}
