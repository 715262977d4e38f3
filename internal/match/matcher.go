package match

import (
	"strings"
	"sync"

	"github.com/fraudlens/fraudlens/internal/domain"
)

const (
	// Token-overlap acceptance differs between the batch index build and
	// the single-label fallback scan. The asymmetry is intentional product
	// behavior; both constants are pinned by tests so a future unification
	// is a deliberate change.
	batchOverlapThreshold    = 0.4
	fallbackOverlapThreshold = 0.5

	// minTokenLen filters noise words ("a", "of", "to") out of overlap
	// scoring.
	minTokenLen = 2
)

// Matcher scores free-text recommendations against fraud-pattern labels.
// Variation lists are deterministic per label, so they are cached across
// calls. Safe for concurrent use.
type Matcher struct {
	mu         sync.RWMutex
	variations map[string]Variations
}

// NewMatcher creates a matcher with an empty variation cache.
func NewMatcher() *Matcher {
	return &Matcher{
		variations: make(map[string]Variations),
	}
}

// Score rates a recommendation against a pattern label on the batch path:
// tiers 1-3, with token overlap accepted at batchOverlapThreshold. The
// result is a confidence in [0,1]; 0 means no tier fired.
func (m *Matcher) Score(label string, rec *domain.Recommendation) float64 {
	return m.score(label, rec, batchOverlapThreshold, false)
}

// Matches reports whether any tier fires for a label on the fallback path:
// tiers 1-4, with token overlap accepted at fallbackOverlapThreshold.
func (m *Matcher) Matches(label string, rec *domain.Recommendation) bool {
	return m.score(label, rec, fallbackOverlapThreshold, true) > 0
}

// score evaluates tiers in priority order; the first tier that fires
// decides the result.
func (m *Matcher) score(label string, rec *domain.Recommendation, overlapThreshold float64, includeReverse bool) float64 {
	v := m.variationsFor(label)

	title := strings.ToLower(rec.Title)
	desc := strings.ToLower(rec.Description)

	// Tier 1: literal variation substring of title or description.
	for _, raw := range v.Raw {
		if raw == "" {
			continue
		}
		if strings.Contains(title, raw) || strings.Contains(desc, raw) {
			return 1
		}
	}

	normTitle := Normalize(rec.Title)
	normDesc := Normalize(rec.Description)

	// Tier 2: normalized variation substring of normalized text.
	for _, n := range v.Normalized {
		if n == "" {
			continue
		}
		if strings.Contains(normTitle, n) || strings.Contains(normDesc, n) {
			return 1
		}
	}

	// Tier 3: fraction of the normalized label's tokens present in the
	// normalized text.
	if len(v.Normalized) > 0 {
		if frac := tokenOverlap(v.Normalized[0], normTitle, normDesc); frac >= overlapThreshold {
			return frac
		}
	}

	// Tier 4: reverse direction, fallback path only. Tokens of the
	// normalized title checked against the normalized label.
	if includeReverse && len(v.Normalized) > 0 {
		if frac := tokenOverlap(normTitle, v.Normalized[0]); frac >= fallbackOverlapThreshold {
			return frac
		}
	}

	return 0
}

// variationsFor returns the cached variation lists for a label, computing
// and caching them on first use.
func (m *Matcher) variationsFor(label string) Variations {
	key := strings.ToLower(label)

	m.mu.RLock()
	v, ok := m.variations[key]
	m.mu.RUnlock()
	if ok {
		return v
	}

	v = VariationsFor(label)

	m.mu.Lock()
	m.variations[key] = v
	m.mu.Unlock()

	return v
}

// tokenOverlap splits source on whitespace, keeps tokens longer than
// minTokenLen, and returns the fraction found as substrings of any target.
// Zero when no token qualifies.
func tokenOverlap(source string, targets ...string) float64 {
	var tokens []string
	for _, tok := range strings.Fields(source) {
		if len(tok) > minTokenLen {
			tokens = append(tokens, tok)
		}
	}
	if len(tokens) == 0 {
		return 0
	}

	found := 0
	for _, tok := range tokens {
		for _, target := range targets {
			if strings.Contains(target, tok) {
				found++
				break
			}
		}
	}

	return float64(found) / float64(len(tokens))
}
