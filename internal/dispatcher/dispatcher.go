// Package dispatcher drives the engine: it coalesces venue updates, applies
// them to the registry, re-evaluates only the routes they affect and forwards
// the opportunities that are still valid against the live state.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/optimizer"
	"github.com/alanyoungcy/arbengine/internal/registry"
	"github.com/alanyoungcy/arbengine/internal/routefinder"
)

const defaultMaxInFlight = 2

// Config holds the dispatch settings.
type Config struct {
	Base                     solana.PublicKey
	MaxHops                  int
	MaxRoutes                int
	MinimumProfit            uint64
	PriceThreshold           decimal.Decimal
	RoutesBatchSize          int
	Workers                  int
	EnabledSlippage          bool
	SlippageBps              uint32
	MaxOpportunitiesPerCycle int
	// MaxInFlight caps concurrently running cycles. Defaults to 2.
	MaxInFlight int
}

// FatalHandler is told about errors that abort a cycle.
type FatalHandler func(ctx context.Context, err error)

type pair struct{ a, b solana.PublicKey }

// cycle is one evaluation pass over the venues changed by a drained batch.
type cycle struct {
	id      uint64
	snap    *registry.Snapshot
	changed []solana.PublicKey
}

type counters struct {
	cycles, applied, stale, rejected atomic.Uint64
	evaluated, superseded            atomic.Uint64
	filtered, forwarded              atomic.Uint64
}

// Dispatcher owns the update-to-opportunity loop.
type Dispatcher struct {
	cfg     Config
	reg     *registry.Registry
	index   *routefinder.Index
	opt     *optimizer.Optimizer
	sink    domain.OpportunitySink
	metrics *metrics.Metrics
	logger  *slog.Logger
	onFatal FatalHandler

	pending  *coalescer
	inFlight chan struct{}
	cycleSeq atomic.Uint64

	prepMu   sync.Mutex // serializes apply and discovery
	explored map[solana.PublicKey]pair

	stats counters
}

// New creates a Dispatcher. reg, index, opt, sink and m must be non-nil.
func New(
	cfg Config,
	reg *registry.Registry,
	index *routefinder.Index,
	opt *optimizer.Optimizer,
	sink domain.OpportunitySink,
	m *metrics.Metrics,
	logger *slog.Logger,
) (*Dispatcher, error) {
	if cfg.Base.IsZero() {
		return nil, errors.New("dispatcher: base mint is required")
	}
	if cfg.MaxHops < 2 {
		return nil, fmt.Errorf("dispatcher: max hops %d below 2", cfg.MaxHops)
	}
	if cfg.RoutesBatchSize <= 0 {
		cfg.RoutesBatchSize = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	if cfg.SlippageBps >= 10_000 {
		return nil, fmt.Errorf("dispatcher: slippage %d bps must be below 10000", cfg.SlippageBps)
	}
	return &Dispatcher{
		cfg:      cfg,
		reg:      reg,
		index:    index,
		opt:      opt,
		sink:     sink,
		metrics:  m,
		logger:   logger.With(slog.String("component", "dispatcher")),
		pending:  newCoalescer(),
		inFlight: make(chan struct{}, cfg.MaxInFlight),
		explored: make(map[solana.PublicKey]pair),
	}, nil
}

// OnFatal registers fn to be called when a cycle aborts on an invariant
// violation. Must be called before Run.
func (d *Dispatcher) OnFatal(fn FatalHandler) { d.onFatal = fn }

// Ingest validates u and queues it for the next cycle. Updates not newer
// than the registry or a pending update are dropped.
func (d *Dispatcher) Ingest(u domain.VenueUpdate) error {
	if err := u.Validate(); err != nil {
		d.stats.rejected.Add(1)
		d.metrics.UpdatesTotal.WithLabelValues("rejected").Inc()
		return err
	}
	if v, ok := d.reg.Get(u.Address); ok && v.Version >= u.Version {
		d.countStale()
		return nil
	}
	if !d.pending.put(u) {
		d.countStale()
	}
	return nil
}

// Pending returns the number of venues with a queued update.
func (d *Dispatcher) Pending() int { return d.pending.len() }

// Run processes queued updates until ctx is cancelled. Cycle failures are
// logged and reported but never stop the loop.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info("dispatcher started",
		slog.String("base", d.cfg.Base.String()),
		slog.Int("max_hops", d.cfg.MaxHops),
		slog.Int("workers", d.cfg.Workers),
		slog.String("method", string(d.opt.Method())),
	)
	defer d.logger.Info("dispatcher stopped")

	var g errgroup.Group
	defer func() { _ = g.Wait() }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.pending.wake:
		}

		select {
		case d.inFlight <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}

		c := d.begin(ctx)
		if c == nil {
			<-d.inFlight
			continue
		}
		g.Go(func() error {
			defer func() { <-d.inFlight }()
			_ = d.execute(ctx, c)
			return nil
		})
	}
}

// Flush applies everything queued and runs the resulting cycle on the
// calling goroutine.
func (d *Dispatcher) Flush(ctx context.Context) error {
	c := d.begin(ctx)
	if c == nil {
		return nil
	}
	return d.execute(ctx, c)
}

// Stats returns the cumulative counters.
func (d *Dispatcher) Stats() domain.DispatcherStats {
	return domain.DispatcherStats{
		Cycles:          d.stats.cycles.Load(),
		UpdatesApplied:  d.stats.applied.Load(),
		UpdatesStale:    d.stats.stale.Load(),
		UpdatesRejected: d.stats.rejected.Load(),
		RoutesEvaluated: d.stats.evaluated.Load(),
		Superseded:      d.stats.superseded.Load(),
		Filtered:        d.stats.filtered.Load(),
		Forwarded:       d.stats.forwarded.Load(),
	}
}

// begin drains the coalescer, applies the batch and discovers routes through
// venues with new adjacency. It returns nil when nothing changed.
func (d *Dispatcher) begin(ctx context.Context) *cycle {
	d.prepMu.Lock()
	defer d.prepMu.Unlock()

	changed := d.apply(ctx, d.pending.drain())
	if len(changed) == 0 {
		return nil
	}
	c := &cycle{
		id:      d.cycleSeq.Add(1),
		snap:    d.reg.View(),
		changed: changed,
	}
	d.discover(c)
	return c
}

func (d *Dispatcher) apply(ctx context.Context, updates []domain.VenueUpdate) []solana.PublicKey {
	var changed []solana.PublicKey
	for _, u := range updates {
		ok, err := d.reg.Apply(ctx, u)
		switch {
		case errors.Is(err, domain.ErrCapacityExceeded):
			d.stats.rejected.Add(1)
			d.metrics.UpdatesTotal.WithLabelValues("rejected").Inc()
			d.metrics.CapacityExceeded.WithLabelValues("venues").Inc()
			d.logger.WarnContext(ctx, "venue rejected",
				slog.String("venue", u.Address.String()),
				slog.String("error", err.Error()),
			)
		case err != nil:
			d.stats.rejected.Add(1)
			d.metrics.UpdatesTotal.WithLabelValues("rejected").Inc()
			d.logger.WarnContext(ctx, "update rejected",
				slog.String("venue", u.Address.String()),
				slog.String("error", err.Error()),
			)
		case !ok:
			d.countStale()
		default:
			d.stats.applied.Add(1)
			d.metrics.UpdatesTotal.WithLabelValues("applied").Inc()
			changed = append(changed, u.Address)
		}
	}
	d.metrics.RegistryVenues.Set(float64(d.reg.Len()))
	return changed
}

// discover keeps the route index in step with the adjacency of the changed
// venues. Only venues that are new, moved to another pair or disappeared
// trigger index work.
func (d *Dispatcher) discover(c *cycle) {
	fresh := make(map[solana.PublicKey]struct{})
	for _, addr := range c.changed {
		prev, seen := d.explored[addr]
		v, ok := c.snap.Venue(addr)
		if !ok {
			if seen {
				delete(d.explored, addr)
				d.index.RemoveVenue(addr)
			}
			continue
		}
		p := pair{v.MintA, v.MintB}
		if seen && prev == p {
			continue
		}
		if seen {
			d.index.RemoveVenue(addr)
		}
		d.explored[addr] = p
		fresh[addr] = struct{}{}
	}
	if len(fresh) == 0 {
		return
	}

	added := 0
	for r := range routefinder.DiscoverThrough(c.snap, d.cfg.Base, d.cfg.MaxHops, d.cfg.MaxRoutes, fresh) {
		ok, err := d.index.Add(r)
		if err != nil {
			d.metrics.CapacityExceeded.WithLabelValues("routes").Inc()
			d.logger.Warn("route index full",
				slog.Uint64("cycle", c.id),
				slog.String("error", err.Error()),
			)
			break
		}
		if ok {
			added++
		}
	}
	d.metrics.IndexedRoutes.Set(float64(d.index.Len()))
	if added > 0 {
		d.logger.Debug("routes discovered",
			slog.Uint64("cycle", c.id),
			slog.Int("added", added),
			slog.Int("indexed", d.index.Len()),
		)
	}
}

// execute evaluates the routes touched by c and forwards the survivors.
func (d *Dispatcher) execute(ctx context.Context, c *cycle) error {
	start := time.Now()
	d.stats.cycles.Add(1)

	routes := d.index.Touching(c.changed)
	candidates := routes[:0:0]
	for _, r := range routes {
		if priceOK(r, c.snap, d.cfg.PriceThreshold) {
			candidates = append(candidates, r)
			continue
		}
		d.stats.filtered.Add(1)
		d.metrics.RoutesEvaluated.WithLabelValues("below_threshold").Inc()
	}

	best := newContainer()
	if err := d.evaluate(ctx, c, candidates, best); err != nil {
		d.metrics.CyclesTotal.WithLabelValues("aborted").Inc()
		d.fail(ctx, c, err)
		return err
	}
	forwarded := d.forward(ctx, c, best.top(d.cfg.MaxOpportunitiesPerCycle))

	d.metrics.CyclesTotal.WithLabelValues("ok").Inc()
	d.metrics.CycleDuration.Observe(time.Since(start).Seconds())
	d.logger.DebugContext(ctx, "cycle complete",
		slog.Uint64("cycle", c.id),
		slog.Uint64("seq", c.snap.Seq()),
		slog.Int("changed", len(c.changed)),
		slog.Int("routes", len(routes)),
		slog.Int("candidates", best.len()),
		slog.Int("forwarded", forwarded),
		slog.Duration("elapsed", time.Since(start)),
	)
	return nil
}

func (d *Dispatcher) evaluate(ctx context.Context, c *cycle, routes []domain.Route, best *container) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Workers)

	for lo := 0; lo < len(routes); lo += d.cfg.RoutesBatchSize {
		batch := routes[lo:min(lo+d.cfg.RoutesBatchSize, len(routes))]
		g.Go(func() error {
			for _, r := range batch {
				if err := gctx.Err(); err != nil {
					return err
				}
				if err := d.evaluateRoute(gctx, c, r, best); err != nil {
					return err
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// evaluateRoute optimizes one route. Only cancellation and invariant
// violations are returned; everything else is local to the route.
func (d *Dispatcher) evaluateRoute(ctx context.Context, c *cycle, r domain.Route, best *container) error {
	if d.superseded(r, c.snap) {
		d.stats.superseded.Add(1)
		d.metrics.RoutesEvaluated.WithLabelValues("superseded").Inc()
		return nil
	}

	d.stats.evaluated.Add(1)
	res, err := d.opt.Optimize(ctx, r, c.snap)
	switch {
	case err == nil:
	case optimizer.IsFatal(err):
		return fmt.Errorf("dispatcher: route %s: %w", r, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		d.metrics.RoutesEvaluated.WithLabelValues("unviable").Inc()
		return nil
	}
	d.metrics.OptimizerIterations.WithLabelValues(string(res.Method)).Observe(float64(res.Iterations))

	if !plausible(res) || res.Profit < d.cfg.MinimumProfit {
		d.stats.filtered.Add(1)
		d.metrics.RoutesEvaluated.WithLabelValues("filtered").Inc()
		return nil
	}
	d.metrics.RoutesEvaluated.WithLabelValues("profitable").Inc()
	best.offer(r, res)
	return nil
}

// superseded reports whether any venue of r moved past the snapshot.
func (d *Dispatcher) superseded(r domain.Route, snap *registry.Snapshot) bool {
	venues := r.Venues()
	return !slices.Equal(d.reg.Versions(venues), snap.Versions(venues))
}

func (d *Dispatcher) forward(ctx context.Context, c *cycle, cands []candidate) int {
	n := 0
	for _, cand := range cands {
		venues := cand.route.Venues()
		if !slices.Equal(d.reg.Versions(venues), cand.result.Versions) {
			d.stats.superseded.Add(1)
			d.metrics.Opportunities.WithLabelValues("superseded").Inc()
			continue
		}
		opp := d.opportunity(c, cand)
		if err := d.sink.Submit(ctx, opp); err != nil {
			d.logger.WarnContext(ctx, "opportunity not accepted",
				slog.String("id", opp.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		n++
		d.stats.forwarded.Add(1)
		d.metrics.Opportunities.WithLabelValues("forwarded").Inc()
		d.logger.InfoContext(ctx, "opportunity forwarded",
			slog.String("id", opp.ID),
			slog.String("route", cand.route.String()),
			slog.Uint64("input", opp.InputAmount),
			slog.Uint64("profit", opp.ExpectedProfit),
			slog.Uint64("seq", opp.SnapshotVersion),
		)
	}
	return n
}

func (d *Dispatcher) opportunity(c *cycle, cand candidate) domain.Opportunity {
	opp := domain.Opportunity{
		ID:              uuid.NewString(),
		Base:            d.cfg.Base,
		Venues:          cand.route.Venues(),
		Mints:           cand.route.Mints(),
		InputAmount:     cand.result.Amount,
		ExpectedOutput:  cand.result.Output,
		ExpectedProfit:  cand.result.Profit,
		SnapshotVersion: c.snap.Seq(),
		VenueVersions:   cand.result.Versions,
		Method:          string(cand.result.Method),
		Iterations:      cand.result.Iterations,
		DetectedAt:      time.Now().UTC(),
	}
	if d.cfg.EnabledSlippage {
		opp.SlippageBps = d.cfg.SlippageBps
		opp.MinimumOutput = optimizer.ApplySlippage(opp.ExpectedOutput, d.cfg.SlippageBps)
	}
	return opp
}

func (d *Dispatcher) fail(ctx context.Context, c *cycle, err error) {
	if !optimizer.IsFatal(err) {
		d.logger.DebugContext(ctx, "cycle cancelled",
			slog.Uint64("cycle", c.id),
			slog.String("error", err.Error()),
		)
		return
	}
	d.logger.ErrorContext(ctx, "cycle aborted",
		slog.Uint64("cycle", c.id),
		slog.Uint64("seq", c.snap.Seq()),
		slog.String("error", err.Error()),
	)
	if d.onFatal != nil {
		d.onFatal(ctx, err)
	}
}

func (d *Dispatcher) countStale() {
	d.stats.stale.Add(1)
	d.metrics.UpdatesTotal.WithLabelValues("stale").Inc()
}
