package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Archiver periodically moves opportunity history past the retention window
// into cold storage.
type Archiver struct {
	blob      domain.Archiver
	retention time.Duration
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// NewArchiver creates an Archiver keeping retentionDays of history in the
// database.
func NewArchiver(blob domain.Archiver, retentionDays int, m *metrics.Metrics, logger *slog.Logger) *Archiver {
	return &Archiver{
		blob:      blob,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		metrics:   m,
		logger:    logger.With(slog.String("component", "archiver")),
		now:       time.Now,
	}
}

// RunOnce archives everything older than the retention cutoff.
func (a *Archiver) RunOnce(ctx context.Context) (int64, error) {
	cutoff := a.now().UTC().Add(-a.retention)
	n, err := a.blob.ArchiveOpportunities(ctx, cutoff)
	if err != nil {
		a.metrics.PipelineRuns.WithLabelValues("archive", "error").Inc()
		return 0, fmt.Errorf("pipeline: archive before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	a.metrics.PipelineRuns.WithLabelValues("archive", "ok").Inc()
	if n > 0 {
		a.logger.InfoContext(ctx, "archived opportunities",
			slog.Int64("count", n),
			slog.Time("cutoff", cutoff),
		)
	}
	return n, nil
}

// Run archives on every tick until ctx is cancelled. Failed runs are logged
// and retried on the next tick.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
