package knowledge

import (
	"sort"
	"strings"

	"github.com/bdobrica/Kioku/internal/kioku/metrics"
)

// Score weights.
const (
	KeywordWeight = 10
	TitleWeight   = 5
	TagWeight     = 3
	ContentWeight = 1
)

// Score rates how well item matches query. All checks are case-insensitive
// substring tests and their contributions add up: every keyword contained
// in the query (or containing it) adds KeywordWeight, a title match in
// either direction adds TitleWeight, every matching tag adds TagWeight, and
// the query appearing in the content adds ContentWeight.
func Score(query string, item Item) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}

	score := 0
	for _, kw := range item.Keywords {
		if mutualContains(q, kw) {
			score += KeywordWeight
		}
	}
	if mutualContains(q, item.Title) {
		score += TitleWeight
	}
	for _, tag := range item.Tags {
		if mutualContains(q, tag) {
			score += TagWeight
		}
	}
	if strings.Contains(strings.ToLower(item.Content), q) {
		score += ContentWeight
	}
	return score
}

// mutualContains reports whether q (already lowered) contains s or s
// contains q. Empty s never matches.
func mutualContains(q, s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return false
	}
	return strings.Contains(q, s) || strings.Contains(s, q)
}

// Search returns up to maxResults items of characterID ranked by Score.
// Items scoring zero are dropped; ties keep load order. An empty query or
// an unknown character yields an empty, non-nil slice.
func (ix *Index) Search(query, characterID string, maxResults int) []Item {
	out := []Item{}
	if strings.TrimSpace(query) == "" || maxResults <= 0 {
		return out
	}
	items, ok := ix.snap.Load().byCharacter[characterID]
	if !ok {
		return out
	}
	metrics.KnowledgeSearches.WithLabelValues(characterID).Inc()

	type scored struct {
		item  Item
		score int
	}
	var hits []scored
	for _, item := range items {
		if s := Score(query, item); s > 0 {
			hits = append(hits, scored{item: item, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	for _, h := range hits {
		out = append(out, h.item)
	}
	return out
}
