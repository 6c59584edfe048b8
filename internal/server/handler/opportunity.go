package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// OpportunityLister returns recent opportunities, newest first. Both the
// database store and the executor's in-memory history satisfy it.
type OpportunityLister interface {
	ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error)
}

type OpportunityHandler struct {
	source OpportunityLister
	logger *slog.Logger
}

func NewOpportunityHandler(source OpportunityLister, logger *slog.Logger) *OpportunityHandler {
	return &OpportunityHandler{source: source, logger: logger}
}

// ListRecent handles GET /api/opportunities/recent?limit=N.
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	opps, err := h.source.ListRecent(r.Context(), queryLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list opportunities", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list opportunities")
		return
	}
	if opps == nil {
		opps = []domain.Opportunity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"opportunities": opps})
}
