// Package pipeline runs the engine's background storage jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the checkpoint and archive loops together. Either job
// may be nil.
type Orchestrator struct {
	checkpointer       *Checkpointer
	archiver           *Archiver
	checkpointInterval time.Duration
	archiveInterval    time.Duration
	logger             *slog.Logger
}

func NewOrchestrator(
	checkpointer *Checkpointer,
	archiver *Archiver,
	checkpointInterval time.Duration,
	archiveInterval time.Duration,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		checkpointer:       checkpointer,
		archiver:           archiver,
		checkpointInterval: checkpointInterval,
		archiveInterval:    archiveInterval,
		logger:             logger.With(slog.String("component", "pipeline")),
	}
}

// Run blocks until ctx is cancelled or a job fails outright.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline starting",
		slog.Duration("checkpoint_interval", o.checkpointInterval),
		slog.Duration("archive_interval", o.archiveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)
	if o.checkpointer != nil && o.checkpointInterval > 0 {
		g.Go(func() error {
			return cleanExit(ctx, "checkpointer", o.checkpointer.Run(ctx, o.checkpointInterval))
		})
	}
	if o.archiver != nil && o.archiveInterval > 0 {
		g.Go(func() error {
			if _, err := o.archiver.RunOnce(ctx); err != nil {
				o.logger.Error("initial archive run failed", slog.String("error", err.Error()))
			}
			return cleanExit(ctx, "archiver", o.archiver.Run(ctx, o.archiveInterval))
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("pipeline stopped", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("pipeline stopped")
	return nil
}

func cleanExit(ctx context.Context, job string, err error) error {
	if err == nil || (ctx.Err() != nil && errors.Is(err, ctx.Err())) {
		return nil
	}
	return fmt.Errorf("%s: %w", job, err)
}
