// Package session owns the per-analyst mutable state: the loaded
// analysis run, the filter set, and the recommendation index.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/filter"
	"github.com/fraudlens/fraudlens/internal/match"
	"github.com/fraudlens/fraudlens/internal/stats"
)

// Session holds one analyst's run and filter state. All reads that
// depend on the filter set go through the cached filtered slice, which
// is invalidated on every mutation and rebuilt lazily.
type Session struct {
	ID        string
	CreatedAt time.Time

	bus    domain.EventBus
	repo   domain.Repository
	engine *filter.Engine

	mu      sync.Mutex
	run     *domain.AnalysisRun
	filters domain.FilterSet
	index   *match.Index

	filtered []domain.Transaction
	dirty    bool
}

// newSession is only called by the store.
func newSession(id string, bus domain.EventBus, repo domain.Repository, engine *filter.Engine) *Session {
	return &Session{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		bus:       bus,
		repo:      repo,
		engine:    engine,
		index:     match.NewIndex(match.NewMatcher()),
	}
}

// LoadRun replaces the session's analysis run with a fresh intake
// payload. The filter set resets to empty, the recommendation index is
// rebuilt against the canonical labels plus the labels observed in the
// run's breakdown, and a run-loaded event arms the recompute controller's
// mount guard.
func (s *Session) LoadRun(ctx context.Context, payload *domain.IntakePayload) (*domain.AnalysisRun, error) {
	if payload == nil {
		return nil, fmt.Errorf("intake payload is required")
	}

	run := &domain.AnalysisRun{
		ID:                   uuid.New().String(),
		SessionID:            s.ID,
		CreatedAt:            time.Now().UTC(),
		Transactions:         payload.Transactions,
		Recommendations:      payload.Recommendations,
		FraudReasonBreakdown: payload.FraudReasonBreakdown,
	}

	candidates := append([]string{}, match.CanonicalPatterns...)
	candidates = append(candidates, run.PatternLabels()...)

	s.mu.Lock()
	s.run = run
	s.filters.Reset()
	s.filtered = nil
	s.dirty = true
	s.index.Build(run.Recommendations, candidates)
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.SaveRun(ctx, s.ID, run); err != nil {
			slog.Error("failed to persist analysis run",
				"session_id", s.ID,
				"run_id", run.ID,
				"error", err,
			)
		}
	}

	payloadBytes, _ := json.Marshal(map[string]string{"runId": run.ID})
	if err := s.bus.Publish(ctx, s.ID, domain.TopicRunLoaded, payloadBytes); err != nil {
		slog.Error("failed to publish run loaded event",
			"session_id", s.ID,
			"run_id", run.ID,
			"error", err,
		)
	}

	slog.Info("analysis run loaded",
		"session_id", s.ID,
		"run_id", run.ID,
		"transaction_count", len(run.Transactions),
		"recommendation_count", len(run.Recommendations),
		"indexed_patterns", s.index.Size(),
	)

	return run, nil
}

// UpdateFilters applies a partial mutation to the filter set and emits a
// filters-changed event. An invalid expression rejects the whole update
// before any field is touched.
func (s *Session) UpdateFilters(ctx context.Context, update *domain.FilterUpdate) (*domain.FilterSet, error) {
	if update == nil {
		return nil, fmt.Errorf("filter update is required")
	}
	if update.Expression != nil {
		if err := s.engine.ValidateExpression(*update.Expression); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	s.filters.ApplyUpdate(update)
	s.dirty = true
	snapshot := s.filters
	s.mu.Unlock()

	s.publishFiltersChanged(ctx, &snapshot)
	return &snapshot, nil
}

// ResetFilters clears every predicate and emits a filters-changed event.
func (s *Session) ResetFilters(ctx context.Context) *domain.FilterSet {
	s.mu.Lock()
	s.filters.Reset()
	s.dirty = true
	snapshot := s.filters
	s.mu.Unlock()

	s.publishFiltersChanged(ctx, &snapshot)
	return &snapshot
}

func (s *Session) publishFiltersChanged(ctx context.Context, fs *domain.FilterSet) {
	payload, _ := json.Marshal(map[string]string{"fingerprint": fs.Fingerprint()})
	if err := s.bus.Publish(ctx, s.ID, domain.TopicFiltersChanged, payload); err != nil {
		slog.Error("failed to publish filters changed event",
			"session_id", s.ID,
			"error", err,
		)
	}
}

// ValidateExpression checks a custom filter expression without applying
// it.
func (s *Session) ValidateExpression(expr string) error {
	return s.engine.ValidateExpression(expr)
}

// Filters returns a copy of the current filter set.
func (s *Session) Filters() domain.FilterSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters
}

// Run returns the current analysis run, or nil before the first load.
func (s *Session) Run() *domain.AnalysisRun {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run
}

// FilteredTransactions returns the transactions passing the current
// filter set, recomputing only when the filters changed since the last
// call.
func (s *Session) FilteredTransactions() ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filteredLocked()
}

func (s *Session) filteredLocked() ([]domain.Transaction, error) {
	if s.run == nil {
		return nil, nil
	}
	if !s.dirty {
		return s.filtered, nil
	}

	fs := s.filters
	filtered, err := s.engine.Apply(s.run.Transactions, &fs)
	if err != nil {
		return nil, err
	}
	s.filtered = filtered
	s.dirty = false
	return filtered, nil
}

// Statistics aggregates the currently filtered set.
func (s *Session) Statistics() (*domain.FilteredStatistics, error) {
	filtered, err := s.FilteredTransactions()
	if err != nil {
		return nil, err
	}
	return stats.Aggregate(filtered), nil
}

// Breakdown recomputes the fraud-reason breakdown over the currently
// filtered set.
func (s *Session) Breakdown() ([]domain.BreakdownEntry, error) {
	filtered, err := s.FilteredTransactions()
	if err != nil {
		return nil, err
	}
	return stats.Breakdown(filtered), nil
}

// RecommendationForPattern returns the best-matching recommendation for
// a pattern label, or nil when nothing matches via any tier.
func (s *Session) RecommendationForPattern(label string) *domain.Recommendation {
	s.mu.Lock()
	ix := s.index
	s.mu.Unlock()
	return ix.Lookup(label)
}

// RegenerationSnapshot captures the current filtered set and fingerprint
// for a regeneration call.
func (s *Session) RegenerationSnapshot(ctx context.Context) (*domain.RegenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		return nil, fmt.Errorf("no analysis run loaded")
	}

	filtered, err := s.filteredLocked()
	if err != nil {
		return nil, err
	}

	fs := s.filters
	return &domain.RegenerationRequest{
		SessionID:    s.ID,
		RunID:        s.run.ID,
		Fingerprint:  fs.Fingerprint(),
		Transactions: filtered,
	}, nil
}
