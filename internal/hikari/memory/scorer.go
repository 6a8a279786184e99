package memory

import (
	"sort"
	"time"
)

// Weights balance the three score components. They must sum to 1.
type Weights struct {
	Recency    float64
	Importance float64
	Age        float64
}

// DefaultWeights favour recent use and stored relevance over item age.
var DefaultWeights = Weights{Recency: 0.4, Importance: 0.4, Age: 0.2}

// Scorer ranks memory items for eviction. It never modifies an item.
type Scorer struct {
	Weights Weights
}

// NewScorer returns a Scorer, substituting DefaultWeights for a zero value.
func NewScorer(w Weights) Scorer {
	if w == (Weights{}) {
		w = DefaultWeights
	}
	return Scorer{Weights: w}
}

// Score computes
//
//	wR*max(0, 100-2*days(lastUsed)) + wI*relevance + wA*max(0, 100-days(created))
//
// where days() is the fractional number of days between the timestamp and now.
func (s Scorer) Score(it Item, now time.Time) float64 {
	recency := clampZero(100 - 2*daysSince(it.LastUsedAt, now))
	age := clampZero(100 - daysSince(it.CreatedAt, now))
	return s.Weights.Recency*recency + s.Weights.Importance*it.Relevance + s.Weights.Age*age
}

func daysSince(t, now time.Time) float64 {
	d := now.Sub(t).Hours() / 24
	if d < 0 {
		return 0
	}
	return d
}

func clampZero(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// scored is implemented by every memory item type through the embedded Item.
type scored interface {
	base() *Item
}

// rank returns the keys of m ordered best first: score descending, then
// CreatedAt descending, then ID ascending.
func rank[T scored](s Scorer, m map[string]T, now time.Time) []string {
	type entry struct {
		key   string
		score float64
		item  *Item
	}
	entries := make([]entry, 0, len(m))
	for k, v := range m {
		it := v.base()
		entries = append(entries, entry{key: k, score: s.Score(*it, now), item: it})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.item.CreatedAt.Equal(b.item.CreatedAt) {
			return a.item.CreatedAt.After(b.item.CreatedAt)
		}
		return a.item.ID < b.item.ID
	})
	keys := make([]string, len(entries))
	for i, e := range entries {
		keys[i] = e.key
	}
	return keys
}

// prune removes the lowest-ranked entries until len(m) <= limit and returns
// how many were removed.
func prune[T scored](s Scorer, m map[string]T, limit int, now time.Time) int {
	if len(m) <= limit {
		return 0
	}
	ordered := rank(s, m, now)
	for _, k := range ordered[limit:] {
		delete(m, k)
	}
	return len(ordered) - limit
}
