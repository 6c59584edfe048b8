package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Ingester accepts decoded venue updates. The dispatcher implements it.
type Ingester interface {
	Ingest(u domain.VenueUpdate) error
}

// handler decodes raw payloads and passes them on, counting outcomes per
// source.
type handler struct {
	source  string
	sink    Ingester
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// handle accepts a single record or a JSON array of records and returns the
// number of updates ingested.
func (h *handler) handle(ctx context.Context, payload []byte) int {
	payload = bytes.TrimSpace(payload)
	if len(payload) > 0 && payload[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(payload, &batch); err != nil {
			h.malformed(ctx, err)
			return 0
		}
		n := 0
		for _, raw := range batch {
			n += h.one(ctx, raw)
		}
		return n
	}
	return h.one(ctx, payload)
}

func (h *handler) one(ctx context.Context, raw []byte) int {
	u, err := Decode(raw)
	if err != nil {
		h.malformed(ctx, err)
		return 0
	}
	h.metrics.FeedRecords.WithLabelValues(h.source, "decoded").Inc()
	if err := h.sink.Ingest(u); err != nil {
		h.logger.DebugContext(ctx, "update not ingested",
			slog.String("venue", u.Address.String()),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return 1
}

func (h *handler) malformed(ctx context.Context, err error) {
	h.metrics.FeedRecords.WithLabelValues(h.source, "malformed").Inc()
	h.logger.WarnContext(ctx, "malformed feed record", slog.String("error", err.Error()))
}
