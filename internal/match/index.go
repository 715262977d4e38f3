package match

import (
	"strings"
	"sync"

	"github.com/fraudlens/fraudlens/internal/domain"
)

// Match pairs a recommendation with the confidence it scored for a
// pattern label.
type Match struct {
	Recommendation domain.Recommendation `json:"recommendation"`
	Score          float64               `json:"score"`
}

// Index precomputes, for every pattern label, the single best-matching
// recommendation from the current analysis run. Lookups miss the index
// fall back to a linear scan so every label terminates with some answer.
//
// The index is rebuilt whenever a new run loads and read-only between
// rebuilds. Safe for concurrent use.
type Index struct {
	mu      sync.RWMutex
	matcher *Matcher
	recs    []domain.Recommendation
	best    map[string]Match // key: lower-cased label
}

// NewIndex creates an empty index over the given matcher.
func NewIndex(matcher *Matcher) *Index {
	return &Index{
		matcher: matcher,
		best:    make(map[string]Match),
	}
}

// Build replaces the index contents from a run's recommendations and the
// candidate label set (canonical labels plus labels observed in the run).
//
// Each recommendation is assigned its best-scoring candidate label at or
// above the batch threshold; ties keep the first candidate encountered.
// A pattern key then holds the highest-scoring recommendation that chose
// it, replacement requiring a strictly greater score. Recommendations
// that are no label's best match are dropped from the index entirely
// (the fallback scan can still reach them).
func (ix *Index) Build(recs []domain.Recommendation, candidates []string) {
	candidates = dedupeLabels(candidates)

	best := make(map[string]Match)
	for i := range recs {
		rec := recs[i]

		var bestLabel string
		var bestScore float64
		for _, label := range candidates {
			s := ix.matcher.Score(label, &rec)
			if s >= batchOverlapThreshold && s > bestScore {
				bestLabel = label
				bestScore = s
			}
		}
		if bestLabel == "" {
			continue
		}

		key := strings.ToLower(bestLabel)
		if existing, ok := best[key]; !ok || bestScore > existing.Score {
			best[key] = Match{Recommendation: rec, Score: bestScore}
		}
	}

	ix.mu.Lock()
	ix.recs = recs
	ix.best = best
	ix.mu.Unlock()
}

// Lookup returns the recommendation associated with a pattern label, or
// nil when nothing matches. The precomputed index answers in O(1); labels
// absent from it trigger a linear first-match scan in input order.
func (ix *Index) Lookup(label string) *domain.Recommendation {
	key := strings.ToLower(label)

	ix.mu.RLock()
	if m, ok := ix.best[key]; ok {
		ix.mu.RUnlock()
		rec := m.Recommendation
		return &rec
	}
	recs := ix.recs
	ix.mu.RUnlock()

	for i := range recs {
		if ix.matcher.Matches(label, &recs[i]) {
			rec := recs[i]
			return &rec
		}
	}
	return nil
}

// Best returns the precomputed match for a label without the fallback
// scan, for callers that want the score alongside the recommendation.
func (ix *Index) Best(label string) (Match, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	m, ok := ix.best[strings.ToLower(label)]
	return m, ok
}

// Size returns the number of pattern keys currently indexed.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.best)
}

// dedupeLabels removes case-insensitive duplicates, preserving first
// occurrence order.
func dedupeLabels(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		key := strings.ToLower(l)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, l)
	}
	return out
}
