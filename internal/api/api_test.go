package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/fraudlens/fraudlens/internal/bus"
	"github.com/fraudlens/fraudlens/internal/cache"
	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/filter"
	"github.com/fraudlens/fraudlens/internal/plots"
	"github.com/fraudlens/fraudlens/internal/recompute"
	"github.com/fraudlens/fraudlens/internal/repository"
	"github.com/fraudlens/fraudlens/internal/session"
)

// memoryRepo is an in-process Repository for handler tests.
type memoryRepo struct {
	mu       sync.Mutex
	runs     map[string]*domain.AnalysisRun
	plotSets map[string]*domain.PlotSet
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		runs:     make(map[string]*domain.AnalysisRun),
		plotSets: make(map[string]*domain.PlotSet),
	}
}

func (m *memoryRepo) key(sessionID, id string) string { return sessionID + "|" + id }

func (m *memoryRepo) SaveRun(ctx context.Context, sessionID string, run *domain.AnalysisRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[m.key(sessionID, run.ID)] = run
	return nil
}

func (m *memoryRepo) GetRun(ctx context.Context, sessionID, runID string) (*domain.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[m.key(sessionID, runID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return run, nil
}

func (m *memoryRepo) ListRuns(ctx context.Context, sessionID string) ([]*domain.AnalysisRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.AnalysisRun
	for _, run := range m.runs {
		if run.SessionID == sessionID {
			out = append(out, run)
		}
	}
	return out, nil
}

func (m *memoryRepo) DeleteRun(ctx context.Context, sessionID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := m.key(sessionID, runID)
	if _, ok := m.runs[k]; !ok {
		return repository.ErrNotFound
	}
	delete(m.runs, k)
	return nil
}

func (m *memoryRepo) SavePlotSet(ctx context.Context, sessionID string, ps *domain.PlotSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plotSets[m.key(sessionID, ps.RequestID)] = ps
	return nil
}

func (m *memoryRepo) GetPlotSet(ctx context.Context, sessionID, requestID string) (*domain.PlotSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.plotSets[m.key(sessionID, requestID)]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return ps, nil
}

func (m *memoryRepo) GetLatestPlotSet(ctx context.Context, sessionID, runID string) (*domain.PlotSet, error) {
	return nil, repository.ErrNotFound
}

func (m *memoryRepo) Ping(ctx context.Context) error { return nil }
func (m *memoryRepo) Close() error                   { return nil }

func newTestServer(t *testing.T) *Server {
	t.Helper()

	engine, err := filter.NewEngine()
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	b := bus.NewChannelBus(64)
	c := cache.NewLRUCache(256)
	repo := newMemoryRepo()
	store := session.NewStore(b, repo, engine)
	controller := recompute.NewController(b, c, plots.NewLocalRegenerator(), store, recompute.Config{
		DebounceWindow: 30 * time.Millisecond,
		PlotCacheTTL:   time.Minute,
	})

	srv := NewServer(domain.ServerConfig{}, store, controller, repo, c, b, "test")
	t.Cleanup(func() {
		_ = controller.Stop()
		_ = b.Close()
	})
	return srv
}

func doRequest(t *testing.T, srv *Server, method, path, sessionID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
}

func samplePayload() *domain.IntakePayload {
	return &domain.IntakePayload{
		Transactions: []domain.Transaction{
			{ID: "t1", Amount: 100, IsFraud: 1, FraudProbability: 0.95, Category: "gambling", FraudReason: "Velocity abuse"},
			{ID: "t2", Amount: 50, IsFraud: 0, FraudProbability: 0.05, Category: "grocery"},
		},
		Recommendations: []domain.Recommendation{
			{Title: "Throttle cards showing velocity abuse", Description: "Rapid repeat charges."},
		},
		FraudReasonBreakdown: []domain.BreakdownEntry{
			{Label: "Velocity abuse", Count: 1, Percentage: 100, TotalAmount: 100},
		},
	}
}

func TestSessionHeaderRequired(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/filters", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d without X-Session-ID, want 400", rr.Code)
	}
}

func TestHealthWithoutSession(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/health", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	var resp map[string]string
	decodeBody(t, rr, &resp)
	if resp["status"] != "healthy" {
		t.Errorf("status = %q, want healthy", resp["status"])
	}
	if resp["version"] != "test" {
		t.Errorf("version = %q, want test", resp["version"])
	}
}

func TestLoadRunValidation(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/runs", "s1", &domain.IntakePayload{})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d for a payload without transactions, want 400", rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte("{not json")))
	req.Header.Set(SessionIDHeader, "s1")
	rr2 := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr2, req)
	if rr2.Code != http.StatusBadRequest {
		t.Errorf("status = %d for malformed JSON, want 400", rr2.Code)
	}
}

func TestLoadRunAndDerivedViews(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/runs", "s1", samplePayload())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rr.Code, rr.Body.String())
	}

	var loaded LoadRunResponse
	decodeBody(t, rr, &loaded)
	if loaded.RunID == "" || loaded.TransactionCount != 2 {
		t.Errorf("load response = %+v, want a run ID and 2 transactions", loaded)
	}

	rr = doRequest(t, srv, http.MethodPost, "/filters", "s1", map[string]any{"fraudOnly": true})
	if rr.Code != http.StatusOK {
		t.Fatalf("filter update status = %d: %s", rr.Code, rr.Body.String())
	}

	rr = doRequest(t, srv, http.MethodGet, "/statistics", "s1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("statistics status = %d", rr.Code)
	}
	var stats domain.FilteredStatistics
	decodeBody(t, rr, &stats)
	if stats.TotalCount != 1 || stats.TotalAmount != 100 {
		t.Errorf("statistics = %+v, want the single filtered fraud case", stats)
	}

	rr = doRequest(t, srv, http.MethodGet, "/transactions", "s1", nil)
	var txResp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rr, &txResp)
	if txResp.Count != 1 {
		t.Errorf("transactions count = %d, want 1", txResp.Count)
	}

	rr = doRequest(t, srv, http.MethodGet, "/breakdown", "s1", nil)
	var bdResp struct {
		Breakdown []domain.BreakdownEntry `json:"breakdown"`
	}
	decodeBody(t, rr, &bdResp)
	if len(bdResp.Breakdown) != 1 || bdResp.Breakdown[0].Label != "Velocity abuse" {
		t.Errorf("breakdown = %+v, want one Velocity abuse entry", bdResp.Breakdown)
	}
}

func TestSessionIsolationAcrossHeaders(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/runs", "s1", samplePayload())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}

	// A different session sees no run state.
	rr = doRequest(t, srv, http.MethodGet, "/transactions", "s2", nil)
	var txResp struct {
		Count int `json:"count"`
	}
	decodeBody(t, rr, &txResp)
	if txResp.Count != 0 {
		t.Errorf("session s2 sees %d transactions from s1", txResp.Count)
	}
}

func TestFilterLifecycle(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/filters", "s1", map[string]any{"category": "gambling", "fraudProbabilityMin": 1.5})
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}

	var fs domain.FilterSet
	decodeBody(t, rr, &fs)
	if fs.Category != "gambling" {
		t.Errorf("Category = %q, want gambling", fs.Category)
	}
	if fs.FraudProbabilityMin == nil || *fs.FraudProbabilityMin != 1.0 {
		t.Errorf("FraudProbabilityMin = %v, want clamped to 1.0", fs.FraudProbabilityMin)
	}

	rr = doRequest(t, srv, http.MethodGet, "/filters", "s1", nil)
	decodeBody(t, rr, &fs)
	if fs.Category != "gambling" {
		t.Errorf("GET /filters lost state: %+v", fs)
	}

	rr = doRequest(t, srv, http.MethodDelete, "/filters", "s1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rr.Code)
	}
	var after domain.FilterSet
	decodeBody(t, rr, &after)
	if !after.IsEmpty() {
		t.Errorf("filters after reset = %+v, want empty", after)
	}
}

func TestUpdateFiltersRejectsBadExpression(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/filters", "s1", map[string]any{"expression": "amount >"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d for an invalid expression, want 400", rr.Code)
	}
}

func TestValidateExpressionEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/filters/validate", "s1", map[string]string{"expression": `merchant.contains("casino")`})
	var resp struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	decodeBody(t, rr, &resp)
	if !resp.Valid {
		t.Errorf("valid expression rejected: %s", resp.Error)
	}

	rr = doRequest(t, srv, http.MethodPost, "/filters/validate", "s1", map[string]string{"expression": "amount +"})
	decodeBody(t, rr, &resp)
	if resp.Valid || resp.Error == "" {
		t.Errorf("invalid expression accepted: %+v", resp)
	}
}

func TestGetRecommendation(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/runs", "s1", samplePayload())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}

	path := "/recommendations/" + url.PathEscape("Velocity abuse")
	rr = doRequest(t, srv, http.MethodGet, path, "s1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rr.Code, rr.Body.String())
	}
	var rec domain.Recommendation
	decodeBody(t, rr, &rec)
	if rec.Title == "" {
		t.Error("expected a recommendation body")
	}

	path = "/recommendations/" + url.PathEscape("Cross-border mismatch")
	rr = doRequest(t, srv, http.MethodGet, path, "s1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d for an unmatched pattern, want 404", rr.Code)
	}
}

func TestRunPersistenceEndpoints(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodPost, "/runs", "s1", samplePayload())
	var loaded LoadRunResponse
	decodeBody(t, rr, &loaded)

	rr = doRequest(t, srv, http.MethodGet, "/runs", "s1", nil)
	var list struct {
		Count int `json:"count"`
	}
	decodeBody(t, rr, &list)
	if list.Count != 1 {
		t.Errorf("run list count = %d, want 1", list.Count)
	}

	rr = doRequest(t, srv, http.MethodGet, "/runs/"+loaded.RunID, "s1", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("get run status = %d, want 200", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodDelete, "/runs/"+loaded.RunID, "s1", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("delete run status = %d, want 200", rr.Code)
	}

	rr = doRequest(t, srv, http.MethodGet, "/runs/"+loaded.RunID, "s1", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d after delete, want 404", rr.Code)
	}
}

func TestRecomputeStateAndPlots(t *testing.T) {
	srv := newTestServer(t)

	rr := doRequest(t, srv, http.MethodGet, "/recompute/state", "s1", nil)
	var state map[string]string
	decodeBody(t, rr, &state)
	if state["state"] != "idle" {
		t.Errorf("state = %q before any activity, want idle", state["state"])
	}

	rr = doRequest(t, srv, http.MethodPost, "/runs", "s1", samplePayload())
	if rr.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rr.Code)
	}
	time.Sleep(50 * time.Millisecond)

	// First mutation is absorbed by the mount guard, the second debounces
	// into a regeneration.
	doRequest(t, srv, http.MethodPost, "/filters", "s1", map[string]any{"fraudOnly": true})
	time.Sleep(20 * time.Millisecond)
	doRequest(t, srv, http.MethodPost, "/filters", "s1", map[string]any{"fraudOnly": false})

	deadline := time.Now().Add(3 * time.Second)
	for {
		rr = doRequest(t, srv, http.MethodGet, "/plots", "s1", nil)
		var resp struct {
			State string          `json:"state"`
			Plots *domain.PlotSet `json:"plots"`
		}
		decodeBody(t, rr, &resp)
		if resp.Plots != nil && len(resp.Plots.Plots) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no plots delivered: %s", rr.Body.String())
		}
		time.Sleep(20 * time.Millisecond)
	}
}
