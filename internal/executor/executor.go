// Package executor hands forwarded opportunities to the external sender
// over Redis and records them.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
)

// Default destinations on the signal bus.
const (
	DefaultStream  = "arb:opportunities"
	DefaultChannel = "opportunities"
)

// Notifier delivers operator alerts.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds executor settings.
type Config struct {
	Stream       string
	Channel      string
	QueueSize    int
	DedupWindow  time.Duration
	MaxPerSecond int // 0 disables the shared rate limit
	RateLimitKey string
}

// Executor reads opportunities from its queue, drops repeats and publishes
// the rest to the signal bus for the sender.
type Executor struct {
	cfg     Config
	queue   chan domain.Opportunity
	bus     domain.SignalBus
	dedup   *Dedup
	recent  *recent
	metrics *metrics.Metrics
	logger  *slog.Logger

	store    domain.OpportunityStore
	limiter  domain.RateLimiter
	notifier Notifier

	cleanupInterval time.Duration
}

// NewExecutor creates an Executor publishing to bus.
func NewExecutor(cfg Config, bus domain.SignalBus, m *metrics.Metrics, logger *slog.Logger) *Executor {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = time.Minute
	}
	if cfg.RateLimitKey == "" {
		cfg.RateLimitKey = "publish"
	}
	return &Executor{
		cfg:             cfg,
		queue:           make(chan domain.Opportunity, cfg.QueueSize),
		bus:             bus,
		dedup:           NewDedup(cfg.DedupWindow),
		recent:          newRecent(recentCapacity),
		metrics:         m,
		logger:          logger.With(slog.String("component", "executor")),
		cleanupInterval: 30 * time.Second,
	}
}

// SetStore records every published opportunity in store.
func (e *Executor) SetStore(store domain.OpportunityStore) { e.store = store }

// SetRateLimiter enables the shared publish limit of cfg.MaxPerSecond.
func (e *Executor) SetRateLimiter(l domain.RateLimiter) { e.limiter = l }

// SetNotifier sends an "opportunity" alert for every publication.
func (e *Executor) SetNotifier(n Notifier) { e.notifier = n }

// Submit queues opp without blocking. A full queue rejects the opportunity
// with domain.ErrRateLimited.
func (e *Executor) Submit(ctx context.Context, opp domain.Opportunity) error {
	select {
	case e.queue <- opp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fmt.Errorf("executor: queue full: %w", domain.ErrRateLimited)
	}
}

// Run processes queued opportunities until ctx is cancelled, then drains
// what is already queued.
func (e *Executor) Run(ctx context.Context) error {
	e.logger.Info("executor started",
		slog.String("stream", e.cfg.Stream),
		slog.String("channel", e.cfg.Channel),
	)
	defer e.logger.Info("executor stopped")

	cleanup := time.NewTicker(e.cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case opp := <-e.queue:
			e.process(ctx, opp)
		case <-cleanup.C:
			e.dedup.Cleanup()
		}
	}
}

func (e *Executor) process(ctx context.Context, opp domain.Opportunity) {
	log := e.logger.With(
		slog.String("id", opp.ID),
		slog.Uint64("profit", opp.ExpectedProfit),
		slog.Int("hops", opp.Hops()),
	)

	// 1. Repeats of the same cycle and size.
	if e.dedup.IsDuplicate(DedupKey(opp)) {
		e.metrics.Opportunities.WithLabelValues("duplicate").Inc()
		log.DebugContext(ctx, "opportunity deduplicated, skipping")
		return
	}

	// 2. Shared publish budget.
	if e.limiter != nil && e.cfg.MaxPerSecond > 0 {
		ok, err := e.limiter.Allow(ctx, e.cfg.RateLimitKey, e.cfg.MaxPerSecond, time.Second)
		if err != nil {
			log.WarnContext(ctx, "rate limiter unavailable", slog.String("error", err.Error()))
		} else if !ok {
			e.metrics.Opportunities.WithLabelValues("rate_limited").Inc()
			log.WarnContext(ctx, "publish budget exhausted, skipping")
			return
		}
	}

	// 3. Publish.
	payload, err := json.Marshal(opp)
	if err != nil {
		log.ErrorContext(ctx, "marshal opportunity", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.StreamAppend(ctx, e.cfg.Stream, payload); err != nil {
		log.ErrorContext(ctx, "stream append failed", slog.String("error", err.Error()))
		return
	}
	if err := e.bus.Publish(ctx, e.cfg.Channel, payload); err != nil {
		log.WarnContext(ctx, "publish failed", slog.String("error", err.Error()))
	}
	e.metrics.Opportunities.WithLabelValues("published").Inc()
	e.recent.add(opp)
	log.InfoContext(ctx, "opportunity published", slog.Uint64("input", opp.InputAmount))

	// 4. History and alerts are best effort.
	if e.store != nil {
		if err := e.store.Insert(ctx, opp); err != nil {
			log.WarnContext(ctx, "record opportunity failed", slog.String("error", err.Error()))
		}
	}
	if e.notifier != nil {
		title := fmt.Sprintf("Opportunity %d-hop +%d", opp.Hops(), opp.ExpectedProfit)
		msg := fmt.Sprintf("id %s\ninput %d\noutput %d\nseq %d", opp.ID, opp.InputAmount, opp.ExpectedOutput, opp.SnapshotVersion)
		if err := e.notifier.Notify(ctx, "opportunity", title, msg); err != nil {
			log.WarnContext(ctx, "notify failed", slog.String("error", err.Error()))
		}
	}
}

// drain publishes opportunities already queued at shutdown.
func (e *Executor) drain() {
	for {
		select {
		case opp := <-e.queue:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.process(ctx, opp)
			cancel()
		default:
			return
		}
	}
}

var _ domain.OpportunitySink = (*Executor)(nil)
