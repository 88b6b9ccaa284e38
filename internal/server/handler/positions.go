package handler

import (
	"net/http"
	"time"

	"github.com/alanyoungcy/futuresbot/internal/domain"
	"github.com/alanyoungcy/futuresbot/internal/monitor"
)

// PositionsHandler exposes live and historical positions.
type PositionsHandler struct {
	registry *monitor.Registry
	store    domain.PositionStore // nil when no database is configured
}

// NewPositionsHandler creates a PositionsHandler.
func NewPositionsHandler(registry *monitor.Registry, store domain.PositionStore) *PositionsHandler {
	return &PositionsHandler{registry: registry, store: store}
}

type livePosition struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	State          string  `json:"state"`
	EntryPrice     float64 `json:"entry_price"`
	CurrentPrice   float64 `json:"current_price"`
	Quantity       float64 `json:"quantity"`
	UnrealizedPnL  float64 `json:"unrealized_pnl"`
	FloorActivated bool    `json:"floor_activated"`
	StopLossPrice  float64 `json:"stop_loss_price"`
	OpenedAt       string  `json:"opened_at"`
}

// ListActive returns the live position set with per-position tick state.
// GET /api/positions
func (h *PositionsHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	active := h.registry.Active()
	out := make([]livePosition, 0, len(active))
	for _, p := range active {
		out = append(out, livePosition{
			ID:             p.ID,
			Symbol:         p.Symbol,
			Side:           string(p.Side),
			State:          string(p.State),
			EntryPrice:     p.EntryPrice,
			CurrentPrice:   p.CurrentPrice,
			Quantity:       p.Quantity,
			UnrealizedPnL:  p.UnrealizedPnL,
			FloorActivated: p.FloorActivated,
			StopLossPrice:  p.StopLossPrice,
			OpenedAt:       p.OpenedAt.Format(time.RFC3339),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": out,
		"account":   h.registry.Account(),
	})
}

// ListClosed returns persisted closed positions, newest first.
// GET /api/positions/closed?limit=50&offset=0
func (h *PositionsHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeError(w, http.StatusNotFound, "position store not configured")
		return
	}

	positions, err := h.store.ListClosed(r.Context(), parseListOpts(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list closed positions failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": positions})
}
