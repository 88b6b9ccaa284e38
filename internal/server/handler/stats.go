package handler

import (
	"net/http"
	"strconv"

	"github.com/alanyoungcy/futuresbot/internal/admission"
	"github.com/alanyoungcy/futuresbot/internal/safety"
)

// StatsHandler exposes admission counters and the breaker state.
type StatsHandler struct {
	stats  *admission.Stats
	safety *safety.Supervisor
}

// NewStatsHandler creates a StatsHandler. supervisor may be nil.
func NewStatsHandler(stats *admission.Stats, supervisor *safety.Supervisor) *StatsHandler {
	return &StatsHandler{stats: stats, safety: supervisor}
}

// GetStats returns the admission counters with the top rejection reasons.
// GET /api/stats?top=10
func (h *StatsHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			top = n
		}
	}

	resp := map[string]any{"admission": h.stats.Snapshot(top)}
	if h.safety != nil {
		resp["breaker"] = h.safety.Snapshot()
	}
	writeJSON(w, http.StatusOK, resp)
}

// ResetStats zeroes the admission counters for controlled experiments.
// POST /api/stats/reset
func (h *StatsHandler) ResetStats(w http.ResponseWriter, r *http.Request) {
	h.stats.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// ResumeBreaker clears a tripped circuit breaker by operator action.
// POST /api/breaker/resume
func (h *StatsHandler) ResumeBreaker(w http.ResponseWriter, r *http.Request) {
	if h.safety == nil {
		writeError(w, http.StatusNotFound, "breaker not configured")
		return
	}
	h.safety.Resume()
	writeJSON(w, http.StatusOK, h.safety.Snapshot())
}
