package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/dispatcher"
	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/executor"
	"github.com/alanyoungcy/arbengine/internal/feed"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/optimizer"
	"github.com/alanyoungcy/arbengine/internal/pipeline"
	"github.com/alanyoungcy/arbengine/internal/registry"
	"github.com/alanyoungcy/arbengine/internal/routefinder"
	"github.com/alanyoungcy/arbengine/internal/server"
	"github.com/alanyoungcy/arbengine/internal/server/handler"
	"github.com/alanyoungcy/arbengine/internal/server/ws"
)

const (
	leaseTTL      = 30 * time.Second
	leaseRenew    = 10 * time.Second
	shutdownGrace = 5 * time.Second
)

// core is the in-process dispatch pipeline shared by engine and full mode.
type core struct {
	registry   *registry.Registry
	index      *routefinder.Index
	executor   *executor.Executor
	dispatcher *dispatcher.Dispatcher
	fatal      chan error
}

func (a *App) buildCore(deps *Dependencies) (*core, error) {
	cfg := a.cfg
	base, err := cfg.BaseMint()
	if err != nil {
		return nil, fmt.Errorf("app: base mint: %w", err)
	}
	method, err := optimizer.ParseMethod(cfg.Bot.OptimizationMethod)
	if err != nil {
		return nil, err
	}
	opt, err := optimizer.New(optimizer.Config{
		Method:        method,
		BaseAmount:    cfg.Bot.BaseAmount,
		AmountPercent: cfg.Bot.OptimizationAmountPercent,
		MinAmountIn:   cfg.Bot.MinAmountIn,
		Tolerance:     cfg.Optimizer.Tolerance,
		MaxIterations: cfg.Optimizer.MaxIterations,
	})
	if err != nil {
		return nil, err
	}

	reg := registry.New(cfg.Watcher.MaxPools, a.logger)
	index := routefinder.NewIndex(cfg.Watcher.MaxRoutes)

	exec := executor.NewExecutor(executor.Config{
		Stream:       cfg.Executor.Stream,
		Channel:      cfg.Executor.Channel,
		QueueSize:    cfg.Executor.QueueSize,
		DedupWindow:  cfg.Executor.DedupWindow.Duration,
		MaxPerSecond: cfg.Executor.MaxPerSecond,
		RateLimitKey: "publish:" + base.String(),
	}, deps.SignalBus, deps.Metrics, a.logger)
	if deps.Store != nil {
		exec.SetStore(deps.Store)
	}
	exec.SetRateLimiter(deps.RateLimiter)
	exec.SetNotifier(deps.Notifier)

	d, err := dispatcher.New(dispatcher.Config{
		Base:                     base,
		MaxHops:                  cfg.Bot.MaxHops,
		MaxRoutes:                cfg.Watcher.MaxRoutes,
		MinimumProfit:            cfg.Bot.MinimumProfit,
		PriceThreshold:           cfg.Threshold(),
		RoutesBatchSize:          cfg.Bot.RoutesBatchSize,
		Workers:                  cfg.Bot.Workers,
		EnabledSlippage:          cfg.Bot.EnabledSlippage,
		SlippageBps:              cfg.Bot.SlippageBps,
		MaxOpportunitiesPerCycle: cfg.Bot.MaxOpportunitiesPerCycle,
	}, reg, index, opt, exec, deps.Metrics, a.logger)
	if err != nil {
		return nil, err
	}

	c := &core{
		registry:   reg,
		index:      index,
		executor:   exec,
		dispatcher: d,
		fatal:      make(chan error, 8),
	}
	// Invariant violations abort only the cycle; the operator is told
	// asynchronously and further reports are dropped while the queue is full.
	d.OnFatal(func(_ context.Context, err error) {
		select {
		case c.fatal <- err:
		default:
		}
	})
	return c, nil
}

// EngineMode runs the dispatch core against the live feed.
func (a *App) EngineMode(ctx context.Context, deps *Dependencies) error {
	return a.runCore(ctx, deps, nil)
}

// FullMode is EngineMode plus registry checkpoints and opportunity
// archiving to S3.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	return a.runCore(ctx, deps, func(ctx context.Context, g *errgroup.Group, c *core) error {
		cp := pipeline.NewCheckpointer(c.registry, deps.Blob, deps.Blob, deps.Metrics, a.logger)
		if a.cfg.Pipeline.RestoreOnStart {
			if _, err := cp.Restore(ctx, c.dispatcher); err != nil {
				return fmt.Errorf("app: restore checkpoint: %w", err)
			}
		}
		var archiver *pipeline.Archiver
		if deps.Archiver != nil {
			archiver = pipeline.NewArchiver(deps.Archiver, a.cfg.Pipeline.ArchiveRetentionDays, deps.Metrics, a.logger)
		}
		orch := pipeline.NewOrchestrator(cp, archiver,
			a.cfg.Pipeline.CheckpointInterval.Duration,
			a.cfg.Pipeline.ArchiveInterval.Duration,
			a.logger,
		)
		g.Go(func() error { return orch.Run(ctx) })
		return nil
	})
}

// MonitorMode serves stored opportunities and execution reports without
// running the dispatch core.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	g, ctx := errgroup.WithContext(ctx)

	watcher := a.resultWatcher(deps)
	g.Go(func() error { return ignoreCancel(watcher.Run(ctx)) })

	start := time.Now()
	status := func() domain.EngineStatus {
		return domain.EngineStatus{
			Mode:          a.cfg.Mode,
			Base:          a.cfg.Bot.Mint,
			UptimeSeconds: int64(time.Since(start).Seconds()),
		}
	}
	var lister handler.OpportunityLister
	if deps.Store != nil {
		lister = deps.Store
	}
	a.serveHTTP(ctx, g, deps, status, lister, nil)

	a.logger.InfoContext(ctx, "monitor mode running")
	return a.wait(ctx, g, deps)
}

// runCore starts the dispatch core, its feed, the result watcher and the
// HTTP server under an engine lease. extra starts mode-specific jobs after
// the core is built and before the feed connects.
func (a *App) runCore(ctx context.Context, deps *Dependencies, extra func(context.Context, *errgroup.Group, *core) error) error {
	c, err := a.buildCore(deps)
	if err != nil {
		return err
	}

	lease, err := deps.LockManager.Acquire(ctx, "engine:"+a.cfg.Bot.Mint, leaseTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another engine already runs for base %s: %w", a.cfg.Bot.Mint, err)
		}
		return fmt.Errorf("app: acquire engine lease: %w", err)
	}
	defer lease.Release()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return keepLease(ctx, lease, leaseRenew) })
	g.Go(func() error {
		for {
			select {
			case err := <-c.fatal:
				a.announce(ctx, deps, "dispatcher cycle aborted", err.Error())
			case <-ctx.Done():
				return nil
			}
		}
	})

	if extra != nil {
		if err := extra(ctx, g, c); err != nil {
			cancel()
			return errors.Join(err, ignoreCancel(g.Wait()))
		}
	}

	g.Go(func() error { return ignoreCancel(c.executor.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(c.dispatcher.Run(ctx)) })

	src := a.feed(deps.SignalBus, c.dispatcher, deps.Metrics)
	g.Go(func() error { return ignoreCancel(src.Run(ctx)) })

	watcher := a.resultWatcher(deps)
	g.Go(func() error { return ignoreCancel(watcher.Run(ctx)) })

	start := time.Now()
	status := func() domain.EngineStatus {
		return domain.EngineStatus{
			Mode:          a.cfg.Mode,
			Base:          a.cfg.Bot.Mint,
			UptimeSeconds: int64(time.Since(start).Seconds()),
			Venues:        c.registry.Len(),
			Routes:        c.index.Len(),
			Seq:           c.registry.Seq(),
			Dispatcher:    c.dispatcher.Stats(),
		}
	}
	var lister handler.OpportunityLister = c.executor
	if deps.Store != nil {
		lister = deps.Store
	}
	a.serveHTTP(ctx, g, deps, status, lister, c.registry)

	a.logger.InfoContext(ctx, "engine running",
		slog.String("mode", a.cfg.Mode),
		slog.String("feed", a.cfg.Feed.Source),
	)
	return a.wait(ctx, g, deps)
}

type runner interface {
	Run(ctx context.Context) error
}

func (a *App) feed(bus domain.SignalBus, sink feed.Ingester, m *metrics.Metrics) runner {
	if a.cfg.Feed.Source == "websocket" {
		return feed.NewWSFeed(feed.WSConfig{
			URL:       a.cfg.Feed.WSURL,
			Subscribe: a.cfg.Feed.WSSubscribe,
		}, sink, m, a.logger)
	}
	return feed.NewStreamFeed(feed.StreamConfig{
		Stream:       a.cfg.Feed.Stream,
		StartID:      a.cfg.Feed.StartID,
		BatchSize:    a.cfg.Feed.BatchSize,
		PollInterval: a.cfg.Feed.PollInterval.Duration,
	}, bus, sink, m, a.logger)
}

func (a *App) resultWatcher(deps *Dependencies) *executor.ResultWatcher {
	return executor.NewResultWatcher(deps.SignalBus, a.cfg.Executor.ResultsChannel, executor.ResultFilter{
		OnlySucceed: a.cfg.Watcher.OnlySucceed,
		OnlyFailed:  a.cfg.Watcher.OnlyFailed,
	}, deps.Store, deps.Notifier, a.logger)
}

// serveHTTP starts the API server when enabled. lister and venues may be nil.
func (a *App) serveHTTP(ctx context.Context, g *errgroup.Group, deps *Dependencies, status func() domain.EngineStatus, lister handler.OpportunityLister, venues handler.VenueLookup) {
	if !a.cfg.Server.Enabled {
		return
	}
	h := server.Handlers{
		Health:  handler.NewHealthHandler(deps.Checks, a.logger),
		Status:  handler.NewStatusHandler(status),
		Metrics: metrics.Handler(deps.Registry),
		Hub:     ws.NewHub(deps.SignalBus, []string{a.cfg.Executor.Channel, a.cfg.Executor.ResultsChannel}, a.logger),
	}
	if lister != nil {
		h.Opportunities = handler.NewOpportunityHandler(lister, a.logger)
	}
	if venues != nil {
		h.Venues = handler.NewVenueHandler(venues)
	}
	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimitPerMin: a.cfg.Server.RateLimitPerMin,
	}, h, deps.RateLimiter, a.logger)

	g.Go(func() error { return ignoreCancel(h.Hub.Run(ctx)) })
	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// wait announces the start, blocks until the group finishes and announces
// the stop with the cause.
func (a *App) wait(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	a.announce(ctx, deps, "arbengine started", fmt.Sprintf("mode %s, base %s", a.cfg.Mode, a.cfg.Bot.Mint))
	err := g.Wait()

	msg := "clean shutdown"
	if err != nil {
		msg = err.Error()
	}
	notifyCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	a.announce(notifyCtx, deps, "arbengine stopped", msg)
	return err
}

func (a *App) announce(ctx context.Context, deps *Dependencies, title, message string) {
	if !deps.Notifier.Enabled("engine") {
		return
	}
	if err := deps.Notifier.Notify(ctx, "engine", title, message); err != nil {
		a.logger.WarnContext(ctx, "lifecycle notification failed", slog.String("error", err.Error()))
	}
}

// keepLease renews lease every interval until ctx ends. Losing the lease
// stops the engine.
func keepLease(ctx context.Context, lease domain.Lease, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := lease.Extend(ctx, leaseTTL); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("app: engine lease lost: %w", err)
			}
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

var (
	_ runner = (*feed.StreamFeed)(nil)
	_ runner = (*feed.WSFeed)(nil)
)
