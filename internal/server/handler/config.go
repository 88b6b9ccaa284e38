package handler

import (
	"net/http"

	"github.com/alanyoungcy/futuresbot/internal/config"
)

// ConfigHandler exposes the running configuration for drift diagnosis.
// Secrets are redacted before serialization.
type ConfigHandler struct {
	cfg *config.Config
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{cfg: cfg}
}

// GetConfig returns the redacted configuration snapshot.
// GET /api/config
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, config.RedactedConfig(h.cfg))
}
