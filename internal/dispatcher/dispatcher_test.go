package dispatcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/metrics"
	"github.com/alanyoungcy/arbengine/internal/optimizer"
	"github.com/alanyoungcy/arbengine/internal/registry"
	"github.com/alanyoungcy/arbengine/internal/routefinder"
)

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = 1
	return k
}

var (
	baseMint  = key(100)
	otherMint = key(101)
	thirdMint = key(102)
)

func cpUpdate(addr, a, b solana.PublicKey, ra, rb, version uint64) domain.VenueUpdate {
	return domain.VenueUpdate{
		Address: addr,
		Kind:    domain.KindConstantProduct,
		MintA:   a,
		MintB:   b,
		Attrs:   domain.ConstantProductAttrs{ReserveA: ra, ReserveB: rb},
		Version: version,
	}
}

type memorySink struct {
	mu   sync.Mutex
	opps []domain.Opportunity
	err  error
}

func (s *memorySink) Submit(_ context.Context, opp domain.Opportunity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.opps = append(s.opps, opp)
	return nil
}

func (s *memorySink) all() []domain.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Opportunity(nil), s.opps...)
}

type fixture struct {
	reg  *registry.Registry
	sink *memorySink
	d    *Dispatcher
}

func newFixture(t *testing.T, maxVenues int, mutate func(*Config)) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(maxVenues, logger)
	opt, err := optimizer.New(optimizer.Config{
		Method:        optimizer.MethodGoldenSection,
		BaseAmount:    1000,
		AmountPercent: 100,
		MinAmountIn:   1,
	})
	require.NoError(t, err)

	cfg := Config{
		Base:            baseMint,
		MaxHops:         3,
		MaxRoutes:       100,
		RoutesBatchSize: 2,
		Workers:         2,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	sink := &memorySink{}
	d, err := New(cfg, reg, routefinder.NewIndex(100), opt, sink, metrics.New(prometheus.NewRegistry()), logger)
	require.NoError(t, err)
	return &fixture{reg: reg, sink: sink, d: d}
}

// seedTwoHop queues a pair of venues where selling base into the first and
// buying it back from the second is profitable.
func (f *fixture) seedTwoHop(t *testing.T) {
	t.Helper()
	require.NoError(t, f.d.Ingest(cpUpdate(key(1), baseMint, otherMint, 1000, 1100, 10)))
	require.NoError(t, f.d.Ingest(cpUpdate(key(2), baseMint, otherMint, 1000, 1000, 20)))
}

func TestTwoHopOpportunityIsForwarded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, nil)
	f.seedTwoHop(t)

	require.NoError(t, f.d.Flush(ctx))

	opps := f.sink.all()
	require.Len(t, opps, 1)
	opp := opps[0]
	assert.Equal(t, []solana.PublicKey{key(1), key(2)}, opp.Venues)
	assert.Equal(t, []solana.PublicKey{baseMint, otherMint, baseMint}, opp.Mints)
	assert.Equal(t, uint64(1), opp.ExpectedProfit)
	assert.Equal(t, opp.InputAmount+opp.ExpectedProfit, opp.ExpectedOutput)
	assert.Equal(t, []uint64{10, 20}, opp.VenueVersions)
	assert.Equal(t, f.reg.Seq(), opp.SnapshotVersion)
	assert.Equal(t, string(optimizer.MethodGoldenSection), opp.Method)
	assert.Zero(t, opp.SlippageBps)
	assert.Zero(t, opp.MinimumOutput)
	assert.NotEmpty(t, opp.ID)

	st := f.d.Stats()
	assert.Equal(t, uint64(1), st.Cycles)
	assert.Equal(t, uint64(2), st.UpdatesApplied)
	assert.Equal(t, uint64(1), st.RoutesEvaluated)
	// The reverse route fails the spot-price prefilter.
	assert.Equal(t, uint64(1), st.Filtered)
	assert.Equal(t, uint64(1), st.Forwarded)
}

func TestSlippageSetsMinimumOutput(t *testing.T) {
	f := newFixture(t, 0, func(c *Config) {
		c.EnabledSlippage = true
		c.SlippageBps = 50
	})
	f.seedTwoHop(t)
	require.NoError(t, f.d.Flush(context.Background()))

	opps := f.sink.all()
	require.Len(t, opps, 1)
	assert.Equal(t, uint32(50), opps[0].SlippageBps)
	assert.Equal(t, opps[0].ExpectedOutput*9950/10000, opps[0].MinimumOutput)
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"minimum profit", func(c *Config) { c.MinimumProfit = 2 }},
		{"price threshold", func(c *Config) { c.PriceThreshold = decimal.RequireFromString("0.2") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 0, tt.mutate)
			f.seedTwoHop(t)
			require.NoError(t, f.d.Flush(context.Background()))
			assert.Empty(t, f.sink.all())
			assert.Equal(t, uint64(2), f.d.Stats().Filtered)
		})
	}
}

func TestCoalescingKeepsNewestVersion(t *testing.T) {
	f := newFixture(t, 0, nil)
	require.NoError(t, f.d.Ingest(cpUpdate(key(1), baseMint, otherMint, 1, 1, 3)))
	require.NoError(t, f.d.Ingest(cpUpdate(key(1), baseMint, otherMint, 2, 2, 2)))
	require.NoError(t, f.d.Ingest(cpUpdate(key(1), baseMint, otherMint, 5, 5, 5)))
	assert.Equal(t, 1, f.d.Pending())

	require.NoError(t, f.d.Flush(context.Background()))
	v, ok := f.reg.Get(key(1))
	require.True(t, ok)
	assert.Equal(t, uint64(5), v.Version)

	// Already applied: dropped before it is queued.
	require.NoError(t, f.d.Ingest(cpUpdate(key(1), baseMint, otherMint, 9, 9, 4)))
	assert.Zero(t, f.d.Pending())

	st := f.d.Stats()
	assert.Equal(t, uint64(1), st.UpdatesApplied)
	assert.Equal(t, uint64(2), st.UpdatesStale)
}

func TestIngestRejectsMalformed(t *testing.T) {
	f := newFixture(t, 0, nil)
	err := f.d.Ingest(cpUpdate(key(1), baseMint, baseMint, 1, 1, 1))
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
	assert.Zero(t, f.d.Pending())
	assert.Equal(t, uint64(1), f.d.Stats().UpdatesRejected)
}

func TestCapacityRejectsNewVenues(t *testing.T) {
	f := newFixture(t, 1, nil)
	f.seedTwoHop(t)
	require.NoError(t, f.d.Flush(context.Background()))

	assert.Equal(t, 1, f.reg.Len())
	assert.Equal(t, uint64(1), f.d.Stats().UpdatesRejected)
	assert.Empty(t, f.sink.all())
}

func TestOnlyAffectedRoutesAreEvaluated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, nil)
	f.seedTwoHop(t)
	require.NoError(t, f.d.Flush(ctx))
	before := f.d.Stats().RoutesEvaluated

	// A venue that closes no cycle touches no indexed route.
	require.NoError(t, f.d.Ingest(cpUpdate(key(3), baseMint, thirdMint, 1000, 1000, 1)))
	require.NoError(t, f.d.Flush(ctx))
	assert.Equal(t, before, f.d.Stats().RoutesEvaluated)
	assert.Len(t, f.sink.all(), 1)

	// Moving the first venue re-evaluates its routes only.
	require.NoError(t, f.d.Ingest(cpUpdate(key(1), baseMint, otherMint, 1000, 1100, 11)))
	require.NoError(t, f.d.Flush(ctx))
	assert.Equal(t, before+1, f.d.Stats().RoutesEvaluated)
	assert.Len(t, f.sink.all(), 2)
}

func TestPairChangeRebuildsRoutes(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0, nil)
	f.seedTwoHop(t)
	require.NoError(t, f.d.Flush(ctx))
	require.Equal(t, 2, f.d.index.Len())

	require.NoError(t, f.d.Ingest(cpUpdate(key(2), baseMint, thirdMint, 1000, 1000, 21)))
	require.NoError(t, f.d.Flush(ctx))
	assert.Zero(t, f.d.index.Len())
}

func TestSupersededWorkIsDiscarded(t *testing.T) {
	ctx := context.Background()

	t.Run("before evaluation", func(t *testing.T) {
		f := newFixture(t, 0, nil)
		f.seedTwoHop(t)
		c := f.d.begin(ctx)
		require.NotNil(t, c)

		_, err := f.reg.Apply(ctx, cpUpdate(key(1), baseMint, otherMint, 1000, 1100, 11))
		require.NoError(t, err)

		require.NoError(t, f.d.execute(ctx, c))
		assert.Empty(t, f.sink.all())
		assert.Equal(t, uint64(1), f.d.Stats().Superseded)
		assert.Zero(t, f.d.Stats().RoutesEvaluated)
	})

	t.Run("before forwarding", func(t *testing.T) {
		f := newFixture(t, 0, nil)
		f.seedTwoHop(t)
		c := f.d.begin(ctx)
		require.NotNil(t, c)

		best := newContainer()
		require.NoError(t, f.d.evaluate(ctx, c, f.d.index.Touching(c.changed), best))
		require.Equal(t, 1, best.len())

		_, err := f.reg.Apply(ctx, cpUpdate(key(2), baseMint, otherMint, 1000, 1000, 21))
		require.NoError(t, err)

		assert.Zero(t, f.d.forward(ctx, c, best.top(0)))
		assert.Empty(t, f.sink.all())
	})
}

func TestSinkErrorDoesNotFailCycle(t *testing.T) {
	f := newFixture(t, 0, nil)
	f.sink.err = errors.New("queue full")
	f.seedTwoHop(t)
	require.NoError(t, f.d.Flush(context.Background()))
	assert.Zero(t, f.d.Stats().Forwarded)
}

func TestRunProcessesIngestedUpdates(t *testing.T) {
	f := newFixture(t, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.d.Run(ctx) }()

	f.seedTwoHop(t)
	require.Eventually(t, func() bool { return len(f.sink.all()) == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestNewValidatesConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opt, err := optimizer.New(optimizer.Config{AmountPercent: 100})
	require.NoError(t, err)
	m := metrics.New(prometheus.NewRegistry())

	for name, cfg := range map[string]Config{
		"no base":  {MaxHops: 3},
		"one hop":  {Base: baseMint, MaxHops: 1},
		"slippage": {Base: baseMint, MaxHops: 3, SlippageBps: 10_000},
	} {
		_, err := New(cfg, registry.New(0, logger), routefinder.NewIndex(0), opt, &memorySink{}, m, logger)
		assert.Error(t, err, name)
	}
}

func TestContainerKeepsBestPerTokenSequence(t *testing.T) {
	r1 := domain.Route{Edges: []domain.Edge{
		{Venue: key(1), From: baseMint, To: otherMint},
		{Venue: key(2), From: otherMint, To: baseMint},
	}}
	r2 := domain.Route{Edges: []domain.Edge{
		{Venue: key(3), From: baseMint, To: otherMint},
		{Venue: key(4), From: otherMint, To: baseMint},
	}}
	r3 := domain.Route{Edges: []domain.Edge{
		{Venue: key(5), From: baseMint, To: thirdMint},
		{Venue: key(6), From: thirdMint, To: baseMint},
	}}

	c := newContainer()
	c.offer(r1, optimizer.Result{Profit: 10})
	c.offer(r2, optimizer.Result{Profit: 30})
	c.offer(r1, optimizer.Result{Profit: 20})
	c.offer(r3, optimizer.Result{Profit: 25})

	top := c.top(0)
	require.Len(t, top, 2)
	assert.Equal(t, r2.Key(), top[0].route.Key())
	assert.Equal(t, r3.Key(), top[1].route.Key())

	require.Len(t, c.top(1), 1)
}

func TestPlausible(t *testing.T) {
	assert.True(t, plausible(optimizer.Result{Amount: 1000, Profit: 5000}))
	assert.False(t, plausible(optimizer.Result{Amount: 1000, Profit: 5001}))
	assert.True(t, plausible(optimizer.Result{Amount: 10_000_000, Profit: 60_000_000}))
}
