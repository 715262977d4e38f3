// Package api exposes the insight core over HTTP for the dashboard
// frontend.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fraudlens/fraudlens/internal/domain"
	"github.com/fraudlens/fraudlens/internal/recompute"
	"github.com/fraudlens/fraudlens/internal/repository"
	"github.com/fraudlens/fraudlens/internal/session"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	store      *session.Store
	controller *recompute.Controller
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(store *session.Store, controller *recompute.Controller, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		store:      store,
		controller: controller,
		repo:       repo,
		cache:      cache,
		bus:        bus,
		version:    version,
	}
}

// session resolves the request's session and makes sure the recompute
// controller is listening to it before any event can be published.
func (h *Handler) session(r *http.Request) *session.Session {
	sessionID := GetSessionID(r.Context())
	s := h.store.Get(sessionID)
	if h.controller != nil {
		if err := h.controller.Attach(s.ID); err != nil {
			slog.Error("failed to attach recompute controller",
				"session_id", s.ID,
				"error", err,
			)
		}
	}
	return s
}

// LoadRunResponse is the response for POST /runs.
type LoadRunResponse struct {
	RunID            string `json:"runId"`
	TransactionCount int    `json:"transactionCount"`
	IndexedPatterns  int    `json:"indexedPatterns"`
}

// LoadRun handles POST /runs: a complete intake payload from the
// external scoring service replaces the session's current run.
func (h *Handler) LoadRun(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	var payload domain.IntakePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if len(payload.Transactions) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "transactions are required",
		})
		return
	}

	run, err := s.LoadRun(r.Context(), &payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusCreated, LoadRunResponse{
		RunID:            run.ID,
		TransactionCount: len(run.Transactions),
		IndexedPatterns:  len(run.Recommendations),
	})
}

// ListRuns returns the session's stored runs, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	runs, err := h.repo.ListRuns(r.Context(), sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"count": len(runs),
	})
}

// GetRun returns a stored run with its transactions.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	runID := chi.URLParam(r, "id")

	run, err := h.repo.GetRun(r.Context(), sessionID, runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to load run",
		})
		return
	}

	writeJSON(w, http.StatusOK, run)
}

// DeleteRun removes a stored run.
func (h *Handler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())
	runID := chi.URLParam(r, "id")

	err := h.repo.DeleteRun(r.Context(), sessionID, runID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to delete run",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"deleted": runID,
	})
}

// UpdateFilters handles POST /filters: a partial mutation of the
// session's filter set. Out-of-range probability bounds are clamped,
// not rejected; a malformed expression rejects the whole update.
func (h *Handler) UpdateFilters(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	var update domain.FilterUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	fs, err := s.UpdateFilters(r.Context(), &update)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, fs)
}

// ResetFilters handles DELETE /filters: back to the empty session-start
// state.
func (h *Handler) ResetFilters(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	fs := s.ResetFilters(r.Context())
	writeJSON(w, http.StatusOK, fs)
}

// GetFilters returns the session's current filter set.
func (h *Handler) GetFilters(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	fs := s.Filters()
	writeJSON(w, http.StatusOK, &fs)
}

// GetTransactions returns the currently filtered transaction set.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	filtered, err := s.FilteredTransactions()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": filtered,
		"count":        len(filtered),
	})
}

// GetStatistics returns aggregates over the currently filtered set.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	stats, err := s.Statistics()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// GetBreakdown returns the fraud-reason breakdown recomputed over the
// currently filtered set.
func (h *Handler) GetBreakdown(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	breakdown, err := s.Breakdown()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"breakdown": breakdown,
		"count":     len(breakdown),
	})
}

// GetRecommendation returns the best-matching recommendation for a
// fraud pattern label, 404 when no tier fires for any recommendation.
func (h *Handler) GetRecommendation(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	label := chi.URLParam(r, "label")

	if label == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "pattern label is required",
		})
		return
	}

	rec := s.RecommendationForPattern(label)
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no recommendation matches this pattern",
		})
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// GetRecomputeState returns the controller's current state for the
// session.
func (h *Handler) GetRecomputeState(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	state := recompute.StateIdle
	if h.controller != nil {
		state = h.controller.State(sessionID)
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"state": state,
	})
}

// GetPlots returns the last delivered plot set, or the last error when
// the most recent regeneration failed.
func (h *Handler) GetPlots(w http.ResponseWriter, r *http.Request) {
	sessionID := GetSessionID(r.Context())

	if h.controller == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "recompute controller not available",
		})
		return
	}

	ps, lastErr := h.controller.Plots(sessionID)

	resp := map[string]any{
		"state": h.controller.State(sessionID),
	}
	if ps != nil {
		resp["plots"] = ps
	}
	if lastErr != "" {
		resp["error"] = lastErr
	}

	writeJSON(w, http.StatusOK, resp)
}

// ValidateExpression handles POST /filters/validate so the frontend can
// check a custom expression before committing it.
func (h *Handler) ValidateExpression(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	var req struct {
		Expression string `json:"expression"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := s.ValidateExpression(req.Expression); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"valid": false,
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"valid": true,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
