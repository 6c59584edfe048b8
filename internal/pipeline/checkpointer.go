package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/arbengine/internal/blob/s3"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/registry"
)

// Ingester accepts venue updates, normally the dispatcher.
type Ingester interface {
	Ingest(u domain.VenueUpdate) error
}

// Checkpointer saves the registry to object storage and restores it on
// start.
type Checkpointer struct {
	reg     *registry.Registry
	writer  domain.BlobWriter
	reader  domain.BlobReader
	metrics *metrics.Metrics
	logger  *slog.Logger

	lastSeq uint64
}

func NewCheckpointer(
	reg *registry.Registry,
	writer domain.BlobWriter,
	reader domain.BlobReader,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Checkpointer {
	return &Checkpointer{
		reg:     reg,
		writer:  writer,
		reader:  reader,
		metrics: m,
		logger:  logger.With(slog.String("component", "checkpointer")),
	}
}

// Restore feeds the latest checkpoint into sink. Venues are replayed through
// the normal ingest path so routes get discovered for them. Updates the sink
// refuses are counted and skipped. It returns the number accepted.
func (c *Checkpointer) Restore(ctx context.Context, sink Ingester) (int, error) {
	updates, err := s3blob.LoadCheckpoint(ctx, c.reader)
	if err != nil {
		c.metrics.PipelineRuns.WithLabelValues("restore", "error").Inc()
		return 0, fmt.Errorf("pipeline: restore: %w", err)
	}

	accepted, refused := 0, 0
	for _, u := range updates {
		if err := sink.Ingest(u); err != nil {
			refused++
			c.logger.Debug("checkpoint venue refused",
				slog.String("venue", u.Address.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
		accepted++
	}
	c.metrics.PipelineRuns.WithLabelValues("restore", "ok").Inc()
	c.logger.InfoContext(ctx, "registry restored from checkpoint",
		slog.Int("accepted", accepted),
		slog.Int("refused", refused),
	)
	return accepted, nil
}

// Save writes the current registry view. It is a no-op when the registry is
// empty or nothing was applied since the previous save, so a cold start never
// overwrites a good checkpoint.
func (c *Checkpointer) Save(ctx context.Context) error {
	snap := c.reg.View()
	if snap.Len() == 0 || snap.Seq() == c.lastSeq {
		return nil
	}
	if err := s3blob.SaveCheckpoint(ctx, c.writer, snap.Venues()); err != nil {
		c.metrics.PipelineRuns.WithLabelValues("checkpoint", "error").Inc()
		return fmt.Errorf("pipeline: checkpoint: %w", err)
	}
	c.lastSeq = snap.Seq()
	c.metrics.PipelineRuns.WithLabelValues("checkpoint", "ok").Inc()
	c.logger.DebugContext(ctx, "checkpoint written",
		slog.Int("venues", snap.Len()),
		slog.Uint64("seq", snap.Seq()),
	)
	return nil
}

// Run saves on every tick and once more on shutdown.
func (c *Checkpointer) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.Save(flushCtx); err != nil {
				c.logger.Warn("final checkpoint failed", slog.String("error", err.Error()))
			}
			cancel()
			return ctx.Err()
		case <-ticker.C:
			if err := c.Save(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error("checkpoint failed", slog.String("error", err.Error()))
			}
		}
	}
}
