// Package recompute coordinates debounced plot regeneration off the
// event bus.
package recompute

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fraudlens/fraudlens/internal/domain"
)

// State names exposed to the API layer.
const (
	StateIdle        = "idle"
	StatePending     = "pending_recompute"
	StateRecomputing = "recomputing"
)

// counterKey tracks regeneration calls per session for usage visibility.
const counterKey = "regen_calls"

// Snapshotter supplies the current filtered transaction set for a
// session at the moment the debounce timer fires, so a burst of
// mutations regenerates from the last state, not the first.
type Snapshotter interface {
	RegenerationSnapshot(ctx context.Context, sessionID string) (*domain.RegenerationRequest, error)
}

// Controller is the debounced recompute state machine. Filter mutations
// arrive over the bus; each one cancels any pending timer and schedules a
// fresh one, so only the last mutation in a burst triggers regeneration.
//
// A slow in-flight regeneration never blocks a new debounce cycle. Each
// call carries a fresh request ID; completions whose ID is no longer the
// latest issued for the session are discarded, so out-of-order responses
// cannot overwrite newer plots.
type Controller struct {
	bus   domain.EventBus
	cache domain.Cache
	regen domain.Regenerator
	snap  Snapshotter

	window        time.Duration
	cacheTTL      time.Duration
	counterWindow time.Duration

	mu       sync.RWMutex
	sessions map[string]*sessionState
	attached map[string]bool

	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// sessionState is the per-session slice of the state machine. All fields
// are guarded by mu; the timer callback re-enters through fire.
type sessionState struct {
	mu sync.Mutex

	timer    *time.Timer
	pending  bool
	inflight int

	// mountGuard absorbs the first filter mutation after a run loads.
	// Pages attach their change listeners to already-initialized filter
	// state, which otherwise fires a spurious regeneration on mount.
	mountGuard bool

	latestRequestID string
	runID           string

	lastPlots *domain.PlotSet
	lastError string
}

// Config holds controller configuration.
type Config struct {
	// DebounceWindow is the idle period after the last mutation before
	// regeneration is invoked.
	DebounceWindow time.Duration

	// PlotCacheTTL bounds how long a regenerated plot set is cached
	// under its filter fingerprint.
	PlotCacheTTL time.Duration

	// CounterWindow is the rolling window for the per-session
	// regeneration call counter.
	CounterWindow time.Duration
}

// NewController creates a controller. The snapshotter is typically the
// session store.
func NewController(bus domain.EventBus, cache domain.Cache, regen domain.Regenerator, snap Snapshotter, cfg Config) *Controller {
	if cfg.DebounceWindow <= 0 {
		cfg.DebounceWindow = 500 * time.Millisecond
	}
	if cfg.CounterWindow <= 0 {
		cfg.CounterWindow = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		bus:           bus,
		cache:         cache,
		regen:         regen,
		snap:          snap,
		window:        cfg.DebounceWindow,
		cacheTTL:      cfg.PlotCacheTTL,
		counterWindow: cfg.CounterWindow,
		sessions:      make(map[string]*sessionState),
		attached:      make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Attach subscribes the controller to a session's run and filter topics.
// Attaching an already attached session is a no-op.
func (c *Controller) Attach(sessionID string) error {
	c.mu.Lock()
	if c.attached[sessionID] {
		c.mu.Unlock()
		return nil
	}
	c.attached[sessionID] = true
	c.mu.Unlock()

	runSub, err := c.bus.Subscribe(c.ctx, sessionID, domain.TopicRunLoaded, c.handleRunLoaded)
	if err != nil {
		c.detach(sessionID)
		return err
	}
	filterSub, err := c.bus.Subscribe(c.ctx, sessionID, domain.TopicFiltersChanged, c.handleFiltersChanged)
	if err != nil {
		runSub.Unsubscribe()
		c.detach(sessionID)
		return err
	}

	c.mu.Lock()
	c.subscriptions = append(c.subscriptions, runSub, filterSub)
	c.mu.Unlock()

	slog.Info("recompute controller attached",
		"session_id", sessionID,
		"debounce_ms", c.window.Milliseconds(),
	)
	return nil
}

func (c *Controller) detach(sessionID string) {
	c.mu.Lock()
	delete(c.attached, sessionID)
	c.mu.Unlock()
}

// Stop cancels pending timers and unsubscribes. In-flight regenerations
// are abandoned via context cancellation; their completions are dropped.
func (c *Controller) Stop() error {
	c.cancel()

	c.mu.Lock()
	subs := c.subscriptions
	c.subscriptions = nil
	for _, st := range c.sessions {
		st.mu.Lock()
		if st.timer != nil {
			st.timer.Stop()
			st.timer = nil
		}
		st.pending = false
		st.latestRequestID = ""
		st.mu.Unlock()
	}
	c.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	c.wg.Wait()

	slog.Info("recompute controller stopped")
	return nil
}

// State returns the current state name for a session. Recomputing takes
// precedence over a pending timer when both are true.
func (c *Controller) State(sessionID string) string {
	st := c.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()

	switch {
	case st.inflight > 0:
		return StateRecomputing
	case st.pending:
		return StatePending
	default:
		return StateIdle
	}
}

// Plots returns the last delivered plot set and error message for a
// session. Either may be zero-valued.
func (c *Controller) Plots(sessionID string) (*domain.PlotSet, string) {
	st := c.session(sessionID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastPlots, st.lastError
}

// runLoadedPayload is the bus payload announcing a fresh analysis run.
type runLoadedPayload struct {
	RunID string `json:"runId"`
}

// handleRunLoaded resets the session's machine: the old run's pending
// timer and any in-flight request are now stale and must not act on the
// replaced analysis state.
func (c *Controller) handleRunLoaded(ctx context.Context, msg *domain.Message) error {
	var payload runLoadedPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		slog.Error("failed to parse run loaded message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	st := c.session(msg.SessionID)
	st.mu.Lock()
	if st.timer != nil {
		st.timer.Stop()
		st.timer = nil
	}
	st.pending = false
	st.mountGuard = true
	st.latestRequestID = ""
	st.runID = payload.RunID
	st.lastPlots = nil
	st.lastError = ""
	st.mu.Unlock()

	slog.Debug("run loaded, recompute state reset",
		"session_id", msg.SessionID,
		"run_id", payload.RunID,
	)
	return nil
}

// handleFiltersChanged drives the debounce. The first mutation after a
// run load is absorbed by the mount guard; every later mutation cancels
// the previous timer and schedules a new one.
func (c *Controller) handleFiltersChanged(ctx context.Context, msg *domain.Message) error {
	sessionID := msg.SessionID
	st := c.session(sessionID)

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.mountGuard {
		st.mountGuard = false
		slog.Debug("initial filter mutation absorbed",
			"session_id", sessionID,
		)
		return nil
	}

	if st.timer != nil {
		st.timer.Stop()
	}
	st.pending = true
	st.timer = time.AfterFunc(c.window, func() {
		c.fire(sessionID)
	})

	return nil
}

// fire runs when the debounce window elapses with no further mutation.
// It snapshots the session's current filtered set and regenerates,
// serving from the plot cache when the filter fingerprint matches a
// cached set.
func (c *Controller) fire(sessionID string) {
	if c.ctx.Err() != nil {
		return
	}

	st := c.session(sessionID)

	st.mu.Lock()
	st.pending = false
	st.timer = nil
	requestID := uuid.New().String()
	st.latestRequestID = requestID
	st.inflight++
	st.mu.Unlock()

	c.wg.Add(1)
	go c.regenerate(sessionID, requestID, st)
}

func (c *Controller) regenerate(sessionID, requestID string, st *sessionState) {
	defer c.wg.Done()
	defer func() {
		st.mu.Lock()
		st.inflight--
		st.mu.Unlock()
	}()

	ctx := c.ctx
	start := time.Now()

	req, err := c.snap.RegenerationSnapshot(ctx, sessionID)
	if err != nil {
		c.deliverError(ctx, sessionID, requestID, st, err.Error())
		return
	}
	req.ID = requestID

	if c.cache != nil {
		if cached, err := c.cache.GetPlotSet(ctx, sessionID, req.Fingerprint); err == nil && cached != nil {
			slog.Debug("plot cache hit",
				"session_id", sessionID,
				"fingerprint", req.Fingerprint,
			)
			cached.RequestID = requestID
			c.deliver(ctx, sessionID, requestID, st, cached)
			return
		}

		if count, err := c.cache.IncrementCounter(ctx, sessionID, counterKey, c.counterWindow); err == nil {
			slog.Debug("regeneration counter",
				"session_id", sessionID,
				"calls_in_window", count,
			)
		}
	}

	ps, err := c.regen.Regenerate(ctx, req)
	if err != nil {
		slog.Error("plot regeneration failed",
			"session_id", sessionID,
			"request_id", requestID,
			"error", err,
		)
		c.deliverError(ctx, sessionID, requestID, st, err.Error())
		return
	}

	ps.RequestID = requestID
	ps.SessionID = sessionID
	ps.Fingerprint = req.Fingerprint
	if ps.GeneratedAt.IsZero() {
		ps.GeneratedAt = time.Now().UTC()
	}
	if len(ps.Plots) == 0 && ps.Message == "" {
		ps.Message = "no transactions matched the current filters"
	}

	if c.cache != nil && c.cacheTTL > 0 {
		if err := c.cache.SetPlotSet(ctx, sessionID, req.Fingerprint, ps, c.cacheTTL); err != nil {
			slog.Error("failed to cache plot set",
				"session_id", sessionID,
				"error", err,
			)
		}
	}

	slog.Info("plots regenerated",
		"session_id", sessionID,
		"request_id", requestID,
		"plot_count", len(ps.Plots),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	c.deliver(ctx, sessionID, requestID, st, ps)
}

// deliver publishes a completed plot set unless a newer request has been
// issued since; stale completions are discarded so the displayed set is
// always from the latest regeneration.
func (c *Controller) deliver(ctx context.Context, sessionID, requestID string, st *sessionState, ps *domain.PlotSet) {
	st.mu.Lock()
	if st.latestRequestID != requestID {
		st.mu.Unlock()
		slog.Debug("stale regeneration discarded",
			"session_id", sessionID,
			"request_id", requestID,
		)
		return
	}
	st.lastPlots = ps
	st.lastError = ""
	st.mu.Unlock()

	payload, _ := json.Marshal(ps)
	if err := c.bus.Publish(ctx, sessionID, domain.TopicPlotsUpdated, payload); err != nil {
		slog.Error("failed to publish plot update",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// deliverError surfaces a regeneration failure without retry, leaving
// the last successfully delivered plot set in place.
func (c *Controller) deliverError(ctx context.Context, sessionID, requestID string, st *sessionState, errMsg string) {
	st.mu.Lock()
	if st.latestRequestID != requestID {
		st.mu.Unlock()
		return
	}
	st.lastError = errMsg
	st.mu.Unlock()

	payload, _ := json.Marshal(map[string]string{"error": errMsg})
	if err := c.bus.Publish(ctx, sessionID, domain.TopicPlotsFailed, payload); err != nil {
		slog.Error("failed to publish plot failure",
			"session_id", sessionID,
			"error", err,
		)
	}
}

// session returns the state record for a session, creating it on first
// touch.
func (c *Controller) session(sessionID string) *sessionState {
	c.mu.RLock()
	st, ok := c.sessions[sessionID]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok = c.sessions[sessionID]; ok {
		return st
	}
	st = &sessionState{}
	c.sessions[sessionID] = st
	return st
}

// Stats summarizes controller activity for the health surface.
type Stats struct {
	SessionCount      int `json:"sessionCount"`
	SubscriptionCount int `json:"subscriptionCount"`
}

// GetStats returns current controller statistics.
func (c *Controller) GetStats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		SessionCount:      len(c.sessions),
		SubscriptionCount: len(c.subscriptions),
	}
}
