package handler

import (
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// StatusHandler serves a snapshot of the engine state.
type StatusHandler struct {
	status func() domain.EngineStatus
}

func NewStatusHandler(status func() domain.EngineStatus) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus handles GET /api/status.
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}
