package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// StreamConfig configures a StreamFeed.
type StreamConfig struct {
	Stream       string
	StartID      string // "$" for new entries only, "0" to replay the stream
	BatchSize    int
	PollInterval time.Duration
}

// StreamFeed reads venue records from a Redis stream. Starting at "$" needs
// a bus that blocks on reads; a non-blocking bus never sees entries past "$".
type StreamFeed struct {
	cfg    StreamConfig
	bus    domain.SignalBus
	lastID string
	h      *handler
	logger *slog.Logger
}

// NewStreamFeed creates a feed that ingests into sink.
func NewStreamFeed(cfg StreamConfig, bus domain.SignalBus, sink Ingester, m *metrics.Metrics, logger *slog.Logger) *StreamFeed {
	if cfg.StartID == "" {
		cfg.StartID = "$"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	logger = logger.With(slog.String("component", "stream_feed"))
	return &StreamFeed{
		cfg:    cfg,
		bus:    bus,
		lastID: cfg.StartID,
		h:      &handler{source: "stream", sink: sink, metrics: m, logger: logger},
		logger: logger,
	}
}

// Run reads until ctx is cancelled. Read errors are logged and retried.
func (f *StreamFeed) Run(ctx context.Context) error {
	f.logger.Info("stream feed started",
		slog.String("stream", f.cfg.Stream),
		slog.String("start", f.lastID),
	)
	for {
		n, err := f.poll(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			f.logger.Warn("stream read failed", slog.String("error", err.Error()))
		}
		if n > 0 && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.cfg.PollInterval):
		}
	}
}

// poll reads one batch and returns the number of stream entries consumed.
func (f *StreamFeed) poll(ctx context.Context) (int, error) {
	msgs, err := f.bus.StreamRead(ctx, f.cfg.Stream, f.lastID, f.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		f.h.handle(ctx, m.Payload)
		f.lastID = m.ID
	}
	return len(msgs), nil
}

// LastID returns the ID of the last consumed entry.
func (f *StreamFeed) LastID() string { return f.lastID }
