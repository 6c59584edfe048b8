package optimizer

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/swapmath"
)

var methods = []Method{MethodTernary, MethodGoldenSection, MethodBrent}

func strategyFor(t *testing.T, m Method) (Strategy, SearchOptions) {
	t.Helper()
	o, err := New(Config{Method: m, AmountPercent: 100})
	require.NoError(t, err)
	return o.strategy(), SearchOptions{Tolerance: o.cfg.Tolerance, MaxIterations: o.cfg.MaxIterations}
}

func quadratic(peak uint64) Objective {
	return func(x uint64) (int64, error) {
		d := int64(x) - int64(peak)
		return 1_000_000_000_000 - d*d, nil
	}
}

func TestSearchFindsKnownMaximum(t *testing.T) {
	for _, m := range methods {
		for _, peak := range []uint64{2, 12_345, 70_000, 500_000, 999_000} {
			t.Run(fmt.Sprintf("%s/%d", m, peak), func(t *testing.T) {
				s, opts := strategyFor(t, m)
				res, err := Search(context.Background(), quadratic(peak), 1, 1_000_000, s, opts)
				require.NoError(t, err)
				assert.InDelta(t, float64(peak), float64(res.Best.X), float64(opts.Tolerance))
				assert.True(t, res.Converged)
			})
		}
	}
}

func TestSearchNeverWorseThanBounds(t *testing.T) {
	increasing := func(x uint64) (int64, error) { return int64(x), nil }
	decreasing := func(x uint64) (int64, error) { return 2_000_000 - int64(x), nil }

	for _, m := range methods {
		t.Run(string(m), func(t *testing.T) {
			s, opts := strategyFor(t, m)
			res, err := Search(context.Background(), increasing, 10, 1_000_000, s, opts)
			require.NoError(t, err)
			assert.Equal(t, uint64(1_000_000), res.Best.X)

			s, opts = strategyFor(t, m)
			res, err = Search(context.Background(), decreasing, 10, 1_000_000, s, opts)
			require.NoError(t, err)
			assert.Equal(t, uint64(10), res.Best.X)
		})
	}
}

func TestSearchErrors(t *testing.T) {
	ctx := context.Background()
	s, opts := strategyFor(t, MethodGoldenSection)

	t.Run("empty bracket", func(t *testing.T) {
		_, err := Search(ctx, quadratic(5), 10, 10, s, opts)
		assert.ErrorIs(t, err, domain.ErrNoViableAmount)
	})

	t.Run("never profitable", func(t *testing.T) {
		loss := func(x uint64) (int64, error) { return -int64(x), nil }
		_, err := Search(ctx, loss, 1, 100_000, s, opts)
		assert.ErrorIs(t, err, domain.ErrNoViableAmount)
	})

	t.Run("unviable region is skipped", func(t *testing.T) {
		f := func(x uint64) (int64, error) {
			if x > 600_000 {
				return 0, domain.ErrInsufficientLiquidity
			}
			return quadratic(400_000)(x)
		}
		for _, m := range methods {
			s, opts := strategyFor(t, m)
			res, err := Search(ctx, f, 1, 1_000_000, s, opts)
			require.NoError(t, err, m)
			assert.InDelta(t, 400_000, float64(res.Best.X), 1, m)
		}
	})

	t.Run("overflow aborts", func(t *testing.T) {
		f := func(x uint64) (int64, error) {
			if x > 500_000 {
				return 0, domain.ErrOverflow
			}
			return int64(x), nil
		}
		_, err := Search(ctx, f, 1, 1_000_000, s, opts)
		assert.ErrorIs(t, err, domain.ErrOverflow)
		assert.True(t, IsFatal(err))
	})

	t.Run("iteration cap returns best seen", func(t *testing.T) {
		s, _ := strategyFor(t, MethodTernary)
		res, err := Search(ctx, quadratic(700_000), 1, 1_000_000, s, SearchOptions{Tolerance: 1, MaxIterations: 2})
		require.NoError(t, err)
		assert.False(t, res.Converged)
		assert.Equal(t, 2, res.Iterations)
		assert.Greater(t, res.Best.Profit, int64(0))
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Search(cctx, quadratic(5), 1, 1_000_000, s, opts)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func key(b byte) solana.PublicKey {
	var k solana.PublicKey
	k[0] = b
	k[31] = 1
	return k
}

type venues map[solana.PublicKey]*domain.Venue

func (v venues) Venue(addr solana.PublicKey) (*domain.Venue, bool) {
	x, ok := v[addr]
	return x, ok
}

func cpVenue(t *testing.T, addr, a, b solana.PublicKey, ra, rb uint64) *domain.Venue {
	t.Helper()
	attrs := domain.ConstantProductAttrs{ReserveA: ra, ReserveB: rb}
	q, err := swapmath.Bind(domain.KindConstantProduct, domain.FeeParams{}, attrs)
	require.NoError(t, err)
	return &domain.Venue{Address: addr, Kind: domain.KindConstantProduct, MintA: a, MintB: b, Attrs: attrs, Version: 1, Quoter: q}
}

var (
	baseMint  = key(100)
	otherMint = key(101)
)

// twoHop builds base -> other through v1 and other -> base through v2.
func twoHop(t *testing.T, r1a, r1b, r2a, r2b uint64) (domain.Route, venues) {
	v1 := cpVenue(t, key(1), baseMint, otherMint, r1a, r1b)
	v2 := cpVenue(t, key(2), baseMint, otherMint, r2a, r2b)
	route := domain.Route{Edges: []domain.Edge{
		{Venue: v1.Address, From: baseMint, To: otherMint, Direction: domain.AToB},
		{Venue: v2.Address, From: otherMint, To: baseMint, Direction: domain.BToA},
	}}
	return route, venues{v1.Address: v1, v2.Address: v2}
}

func TestTwoHopConstantProduct(t *testing.T) {
	ctx := context.Background()

	t.Run("small reserves", func(t *testing.T) {
		// Sell into (1000 A, 1100 B), buy back from (1000 A, 1000 B).
		route, src := twoHop(t, 1000, 1100, 1000, 1000)
		chain, err := NewChain(route, src, 0)
		require.NoError(t, err)

		var best int64 = math.MinInt64
		for x := uint64(1); x <= 1000; x++ {
			p, err := chain.Profit(x)
			require.NoError(t, err)
			best = max(best, p)
		}
		require.Positive(t, best)

		for _, m := range methods {
			o, err := New(Config{Method: m, BaseAmount: 1_000_000, AmountPercent: 100, MinAmountIn: 1})
			require.NoError(t, err)
			res, err := o.Optimize(ctx, route, src)
			require.NoError(t, err, m)
			assert.Equal(t, uint64(best), res.Profit, m)
			assert.Equal(t, res.Amount+res.Profit, res.Output, m)
			assert.Equal(t, []uint64{1, 1}, res.Versions)
		}
	})

	t.Run("deep reserves", func(t *testing.T) {
		const depth = 1_000_000_000
		route, src := twoHop(t, depth, depth*11/10, depth, depth)
		chain, err := NewChain(route, src, 0)
		require.NoError(t, err)

		// Analytic optimum of the composed curve, then the best integer around it.
		peak := (math.Sqrt(1.1e9*1e27) - 1e18) / 2.1e9
		var best int64
		for x := uint64(peak) - 3000; x <= uint64(peak)+3000; x++ {
			p, err := chain.Profit(x)
			require.NoError(t, err)
			best = max(best, p)
		}

		for _, m := range methods {
			o, err := New(Config{Method: m, BaseAmount: depth, AmountPercent: 100, MinAmountIn: DefaultMinAmountIn})
			require.NoError(t, err)
			res, err := o.Optimize(ctx, route, src)
			require.NoError(t, err, m)
			assert.InDelta(t, float64(best), float64(res.Profit), 1, m)
			assert.InEpsilon(t, peak, float64(res.Amount), 0.002, m)
		}
	})

	t.Run("reverse orientation loses", func(t *testing.T) {
		route, src := twoHop(t, 1000, 1000, 1000, 1100)
		o, err := New(Config{Method: MethodBrent, BaseAmount: 1000, AmountPercent: 100, MinAmountIn: 1})
		require.NoError(t, err)
		_, err = o.Optimize(ctx, route, src)
		assert.ErrorIs(t, err, domain.ErrNoViableAmount)
	})
}

func TestUpperBoundRespectsEveryHop(t *testing.T) {
	route, src := twoHop(t, 1_000_000, 1_000_000, 1_000_000, 1000)
	chain, err := NewChain(route, src, 0)
	require.NoError(t, err)

	assert.Equal(t, uint64(1002), chain.UpperBound(1_000_000_000))
	assert.Equal(t, uint64(500), chain.UpperBound(500))

	o, err := New(Config{Method: MethodTernary, BaseAmount: 1_000_000_000, AmountPercent: 50, MinAmountIn: 10})
	require.NoError(t, err)
	assert.Equal(t, Bounds{Lower: 10, Upper: 1002}, o.Bounds(chain))

	o, err = New(Config{Method: MethodTernary, BaseAmount: 1000, AmountPercent: 50, MinAmountIn: 10})
	require.NoError(t, err)
	assert.Equal(t, Bounds{Lower: 10, Upper: 500}, o.Bounds(chain))
}

func TestNewChainRejectsMismatchedEdges(t *testing.T) {
	route, src := twoHop(t, 1000, 1000, 1000, 1000)
	route.Edges[1].Direction = domain.AToB
	_, err := NewChain(route, src, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidDirection)

	route, _ = twoHop(t, 1000, 1000, 1000, 1000)
	_, err = NewChain(route, venues{}, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestHopSlippageReducesOutput(t *testing.T) {
	route, src := twoHop(t, 1_000_000, 1_100_000, 1_000_000, 1_000_000)
	plain, err := NewChain(route, src, 0)
	require.NoError(t, err)
	haircut, err := NewChain(route, src, 50)
	require.NoError(t, err)

	a, err := plain.Output(10_000)
	require.NoError(t, err)
	b, err := haircut.Output(10_000)
	require.NoError(t, err)
	assert.Less(t, b, a)
}

func TestApplySlippage(t *testing.T) {
	assert.Equal(t, uint64(9950), ApplySlippage(10_000, 50))
	assert.Equal(t, uint64(0), ApplySlippage(10_000, 10_000))
	assert.Equal(t, uint64(math.MaxUint64/10_000*9_999+(math.MaxUint64%10_000)*9_999/10_000), ApplySlippage(math.MaxUint64, 1))
}

func TestParseMethod(t *testing.T) {
	for in, want := range map[string]Method{
		"ternary":        MethodTernary,
		"golden_section": MethodGoldenSection,
		"Brent":          MethodBrent,
		"brent_method":   MethodBrent,
	} {
		got, err := ParseMethod(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseMethod("newton")
	assert.Error(t, err)

	_, err = New(Config{Method: MethodBrent, AmountPercent: 101})
	assert.Error(t, err)
}
