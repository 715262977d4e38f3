package recompute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fraudlens/fraudlens/internal/bus"
	"github.com/fraudlens/fraudlens/internal/cache"
	"github.com/fraudlens/fraudlens/internal/domain"
)

type fakeSnapshotter struct {
	mu          sync.Mutex
	runID       string
	fingerprint string
}

func (s *fakeSnapshotter) set(fingerprint string) {
	s.mu.Lock()
	s.fingerprint = fingerprint
	s.mu.Unlock()
}

func (s *fakeSnapshotter) RegenerationSnapshot(ctx context.Context, sessionID string) (*domain.RegenerationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &domain.RegenerationRequest{
		SessionID:   sessionID,
		RunID:       s.runID,
		Fingerprint: s.fingerprint,
	}, nil
}

// fakeRegenerator records the fingerprint of each call. When gate is set,
// the first call blocks until the gate closes, simulating a slow upstream.
type fakeRegenerator struct {
	mu    sync.Mutex
	calls []string
	gate  chan struct{}
	err   error
}

func (r *fakeRegenerator) Regenerate(ctx context.Context, req *domain.RegenerationRequest) (*domain.PlotSet, error) {
	r.mu.Lock()
	r.calls = append(r.calls, req.Fingerprint)
	n := len(r.calls)
	gate := r.gate
	err := r.err
	r.mu.Unlock()

	if gate != nil && n == 1 {
		<-gate
	}
	if err != nil {
		return nil, err
	}
	return &domain.PlotSet{
		RunID: req.RunID,
		Plots: []domain.Plot{{ID: "amounts", Title: "Amount distribution", Kind: "histogram"}},
	}, nil
}

func (r *fakeRegenerator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *fakeRegenerator) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

type controllerFixture struct {
	controller *Controller
	bus        *bus.ChannelBus
	snap       *fakeSnapshotter
	regen      *fakeRegenerator
	sessionID  string
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	b := bus.NewChannelBus(64)
	snap := &fakeSnapshotter{runID: "run-1", fingerprint: "fp-0"}
	regen := &fakeRegenerator{}
	c := NewController(b, cache.NewLRUCache(128), regen, snap, Config{
		DebounceWindow: 40 * time.Millisecond,
		PlotCacheTTL:   time.Minute,
	})

	f := &controllerFixture{controller: c, bus: b, snap: snap, regen: regen, sessionID: "sess-1"}
	if err := c.Attach(f.sessionID); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Stop()
		_ = b.Close()
	})
	return f
}

func (f *controllerFixture) loadRun(t *testing.T) {
	t.Helper()
	err := f.bus.Publish(context.Background(), f.sessionID, domain.TopicRunLoaded, []byte(`{"runId":"run-1"}`))
	if err != nil {
		t.Fatalf("publish run loaded: %v", err)
	}
	// Run and filter topics ride separate subscriptions, so give the run
	// handler a moment before mutating filters.
	time.Sleep(50 * time.Millisecond)
}

func (f *controllerFixture) mutate(t *testing.T, fingerprint string) {
	t.Helper()
	f.snap.set(fingerprint)
	payload := []byte(fmt.Sprintf(`{"fingerprint":%q}`, fingerprint))
	if err := f.bus.Publish(context.Background(), f.sessionID, domain.TopicFiltersChanged, payload); err != nil {
		t.Fatalf("publish filters changed: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestMountGuardAbsorbsFirstMutation(t *testing.T) {
	f := newControllerFixture(t)
	f.loadRun(t)

	// The first mutation after a run load mirrors listeners attaching to
	// already-initialized filter state. It must not schedule anything.
	f.mutate(t, "fp-initial")
	time.Sleep(120 * time.Millisecond)

	if got := f.regen.count(); got != 0 {
		t.Errorf("regenerations = %d, want 0 after the absorbed mutation", got)
	}
	if got := f.controller.State(f.sessionID); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}
}

func TestBurstCollapsesToOneRegeneration(t *testing.T) {
	f := newControllerFixture(t)
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed

	// Three rapid mutations inside the window: each cancels the previous
	// timer, so only the last one regenerates, with the final snapshot.
	f.mutate(t, "fp-a")
	time.Sleep(10 * time.Millisecond)
	f.mutate(t, "fp-b")
	time.Sleep(10 * time.Millisecond)
	f.mutate(t, "fp-c")

	waitFor(t, 2*time.Second, func() bool { return f.regen.count() == 1 },
		"expected exactly one regeneration after the burst settled")

	time.Sleep(150 * time.Millisecond)
	if got := f.regen.count(); got != 1 {
		t.Fatalf("regenerations = %d after settling, want 1", got)
	}

	f.regen.mu.Lock()
	fp := f.regen.calls[0]
	f.regen.mu.Unlock()
	if fp != "fp-c" {
		t.Errorf("regenerated from %q, want the last mutation's snapshot fp-c", fp)
	}

	waitFor(t, 2*time.Second, func() bool {
		ps, _ := f.controller.Plots(f.sessionID)
		return ps != nil && ps.Fingerprint == "fp-c"
	}, "expected delivered plots for fp-c")
}

func TestStateTransitions(t *testing.T) {
	f := newControllerFixture(t)
	f.regen.gate = make(chan struct{})
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed

	f.mutate(t, "fp-1")
	waitFor(t, time.Second, func() bool {
		return f.controller.State(f.sessionID) == StatePending
	}, "expected pending_recompute while the timer runs")

	waitFor(t, 2*time.Second, func() bool {
		return f.controller.State(f.sessionID) == StateRecomputing
	}, "expected recomputing while the call is in flight")

	close(f.regen.gate)
	waitFor(t, 2*time.Second, func() bool {
		return f.controller.State(f.sessionID) == StateIdle
	}, "expected idle after completion")
}

func TestRunLoadCancelsPendingTimer(t *testing.T) {
	f := newControllerFixture(t)
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed

	f.mutate(t, "fp-1")
	waitFor(t, time.Second, func() bool {
		return f.controller.State(f.sessionID) == StatePending
	}, "expected a pending timer")

	// Loading a new run invalidates the scheduled regeneration and
	// re-arms the mount guard.
	f.loadRun(t)
	time.Sleep(150 * time.Millisecond)

	if got := f.regen.count(); got != 0 {
		t.Errorf("regenerations = %d, want 0 after run reload", got)
	}
	if got := f.controller.State(f.sessionID); got != StateIdle {
		t.Errorf("state = %q, want idle", got)
	}

	f.mutate(t, "fp-2") // absorbed again by the fresh guard
	time.Sleep(120 * time.Millisecond)
	if got := f.regen.count(); got != 0 {
		t.Errorf("regenerations = %d, want the guard re-armed", got)
	}
}

func TestStaleCompletionDiscarded(t *testing.T) {
	f := newControllerFixture(t)
	f.regen.gate = make(chan struct{})
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed

	// First regeneration blocks in flight.
	f.mutate(t, "fp-slow")
	waitFor(t, 2*time.Second, func() bool { return f.regen.count() == 1 },
		"expected the first regeneration to start")

	// A second cycle completes while the first is still blocked.
	f.mutate(t, "fp-fast")
	waitFor(t, 2*time.Second, func() bool { return f.regen.count() == 2 },
		"expected the second regeneration to start")
	waitFor(t, 2*time.Second, func() bool {
		ps, _ := f.controller.Plots(f.sessionID)
		return ps != nil && ps.Fingerprint == "fp-fast"
	}, "expected the fast result delivered")

	// Releasing the slow call must not overwrite the newer plots.
	close(f.regen.gate)
	time.Sleep(100 * time.Millisecond)

	ps, _ := f.controller.Plots(f.sessionID)
	if ps == nil || ps.Fingerprint != "fp-fast" {
		t.Errorf("plots fingerprint = %v, want fp-fast preserved over the stale completion", ps)
	}
}

func TestFingerprintCacheHitSkipsRegeneration(t *testing.T) {
	f := newControllerFixture(t)
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed

	f.mutate(t, "fp-x")
	waitFor(t, 2*time.Second, func() bool { return f.regen.count() == 1 },
		"expected the first regeneration")
	waitFor(t, 2*time.Second, func() bool {
		ps, _ := f.controller.Plots(f.sessionID)
		return ps != nil
	}, "expected delivered plots")

	// Moving away and back to the same filter state reuses the cached set.
	f.mutate(t, "fp-y")
	waitFor(t, 2*time.Second, func() bool { return f.regen.count() == 2 },
		"expected a regeneration for the new state")

	f.mutate(t, "fp-x")
	waitFor(t, 2*time.Second, func() bool {
		ps, _ := f.controller.Plots(f.sessionID)
		return ps != nil && ps.Fingerprint == "fp-x"
	}, "expected the cached fp-x plots delivered")

	if got := f.regen.count(); got != 2 {
		t.Errorf("regenerations = %d, want 2 (third cycle served from cache)", got)
	}
}

func TestFailureSurfacesWithoutRetry(t *testing.T) {
	f := newControllerFixture(t)
	f.regen.setErr(errors.New("plot service unavailable"))
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed

	f.mutate(t, "fp-err")
	waitFor(t, 2*time.Second, func() bool {
		_, errMsg := f.controller.Plots(f.sessionID)
		return errMsg != ""
	}, "expected the failure surfaced")

	time.Sleep(150 * time.Millisecond)
	if got := f.regen.count(); got != 1 {
		t.Errorf("regenerations = %d, want 1 (no automatic retry)", got)
	}
	if got := f.controller.State(f.sessionID); got != StateIdle {
		t.Errorf("state = %q, want idle after a failure", got)
	}

	// The next successful cycle clears the error.
	f.regen.setErr(nil)
	f.mutate(t, "fp-ok")
	waitFor(t, 2*time.Second, func() bool {
		ps, errMsg := f.controller.Plots(f.sessionID)
		return ps != nil && errMsg == ""
	}, "expected a later success to clear the error")
}

func TestAttachIsIdempotent(t *testing.T) {
	f := newControllerFixture(t)

	before := f.controller.GetStats().SubscriptionCount
	if err := f.controller.Attach(f.sessionID); err != nil {
		t.Fatalf("re-Attach: %v", err)
	}
	if after := f.controller.GetStats().SubscriptionCount; after != before {
		t.Errorf("subscriptions grew from %d to %d on re-attach", before, after)
	}
}

func TestStopCancelsPendingWork(t *testing.T) {
	f := newControllerFixture(t)
	f.loadRun(t)
	f.mutate(t, "fp-initial") // absorbed
	f.mutate(t, "fp-1")

	if err := f.controller.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	time.Sleep(120 * time.Millisecond)

	if got := f.regen.count(); got != 0 {
		t.Errorf("regenerations = %d after Stop, want 0", got)
	}
}
