package swapmath

import (
	"math"
	"testing"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

func x64(num, den uint64) uint256.Int {
	v := new(uint256.Int).Lsh(uint256.NewInt(num), 64)
	return *v.Div(v, uint256.NewInt(den))
}

func bindOrFail(t *testing.T, kind domain.VenueKind, fee uint32, attrs domain.Attributes) *Quoter {
	t.Helper()
	q, err := Bind(kind, domain.FeeParams{RatePPM: fee}, attrs)
	require.NoError(t, err)
	return q
}

func fixtures(t *testing.T) map[string]*Quoter {
	t.Helper()
	return map[string]*Quoter{
		"constant_product": bindOrFail(t, domain.KindConstantProduct, 3000,
			domain.ConstantProductAttrs{ReserveA: 1_000_000, ReserveB: 2_000_000}),
		"concentrated": bindOrFail(t, domain.KindConcentrated, 500, domain.ConcentratedAttrs{
			SqrtPriceX64: x64(1, 1),
			Ranges: []domain.LiquidityRange{
				{SqrtLowerX64: x64(1, 4), SqrtUpperX64: x64(1, 2), Liquidity: *uint256.NewInt(200_000)},
				{SqrtLowerX64: x64(1, 2), SqrtUpperX64: x64(2, 1), Liquidity: *uint256.NewInt(1_000_000)},
				{SqrtLowerX64: x64(2, 1), SqrtUpperX64: x64(4, 1), Liquidity: *uint256.NewInt(300_000)},
			},
		}),
		"bin": bindOrFail(t, domain.KindBin, 1000, domain.BinAttrs{
			ActiveID: 0,
			Bins: []domain.Bin{
				{ID: -1, PriceX64: x64(1, 2), ReserveB: 100_000},
				{ID: 0, PriceX64: x64(1, 1), ReserveA: 100_000, ReserveB: 100_000},
				{ID: 1, PriceX64: x64(2, 1), ReserveA: 100_000},
			},
		}),
		"bonding_curve": bindOrFail(t, domain.KindBondingCurve, 10_000,
			domain.BondingCurveAttrs{VirtualA: 1_000_000, VirtualB: 3_000_000, RealA: 800_000, RealB: 2_000_000}),
		"oracle": bindOrFail(t, domain.KindOracle, 0,
			domain.OracleAttrs{PriceX64: x64(3, 2), DepthA: 500_000, DepthB: 600_000}),
	}
}

func TestConstantProductQuote(t *testing.T) {
	tests := []struct {
		name     string
		reserveA uint64
		reserveB uint64
		fee      uint32
		dir      domain.Direction
		in       uint64
		want     uint64
	}{
		{name: "no fee", reserveA: 1000, reserveB: 1000, dir: domain.AToB, in: 100, want: 90},
		{name: "reverse", reserveA: 1000, reserveB: 1100, dir: domain.BToA, in: 100, want: 83},
		{name: "fee rounded up", reserveA: 1_000_000, reserveB: 1_000_000, fee: 3000, dir: domain.AToB, in: 1000, want: 996},
		{name: "zero input", reserveA: 1000, reserveB: 1000, dir: domain.AToB, in: 0, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := bindOrFail(t, domain.KindConstantProduct, tt.fee,
				domain.ConstantProductAttrs{ReserveA: tt.reserveA, ReserveB: tt.reserveB})
			got, err := q.Quote(tt.dir, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMaxInput(t *testing.T) {
	t.Run("constant product without fee", func(t *testing.T) {
		q := bindOrFail(t, domain.KindConstantProduct, 0, domain.ConstantProductAttrs{ReserveA: 1000, ReserveB: 500})
		assert.Equal(t, uint64(1000), q.MaxInput(domain.AToB))
		assert.Equal(t, uint64(500), q.MaxInput(domain.BToA))

		_, err := q.Quote(domain.AToB, 1001)
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	})

	t.Run("constant product grossed up by fee", func(t *testing.T) {
		q := bindOrFail(t, domain.KindConstantProduct, 2500, domain.ConstantProductAttrs{ReserveA: 1000, ReserveB: 1000})
		assert.Equal(t, uint64(1002), q.MaxInput(domain.AToB))
		_, err := q.Quote(domain.AToB, 1002)
		assert.NoError(t, err)
	})

	t.Run("empty side has no capacity", func(t *testing.T) {
		q := bindOrFail(t, domain.KindConstantProduct, 0, domain.ConstantProductAttrs{ReserveA: 1000})
		assert.Zero(t, q.MaxInput(domain.AToB))
		_, err := q.Quote(domain.AToB, 1)
		assert.ErrorIs(t, err, domain.ErrInsufficientLiquidity)
	})

	t.Run("concentrated exhausts every range", func(t *testing.T) {
		q := bindOrFail(t, domain.KindConcentrated, 0, domain.ConcentratedAttrs{
			SqrtPriceX64: x64(1, 1),
			Ranges: []domain.LiquidityRange{
				{SqrtLowerX64: x64(1, 2), SqrtUpperX64: x64(2, 1), Liquidity: *uint256.NewInt(1_000_000)},
			},
		})
		assert.Equal(t, uint64(1_000_000), q.MaxInput(domain.AToB))
		assert.Equal(t, uint64(1_000_000), q.MaxInput(domain.BToA))
	})

	t.Run("bin drains every bin", func(t *testing.T) {
		q := fixtures(t)["bin"]
		// 100k A at price 1 plus 200k A at price 0.5, grossed up by 0.1%.
		assert.Equal(t, grossForNet(300_000, 1000), q.MaxInput(domain.AToB))
		assert.Equal(t, grossForNet(300_000, 1000), q.MaxInput(domain.BToA))
	})

	t.Run("bonding curve stops at real reserve", func(t *testing.T) {
		q := bindOrFail(t, domain.KindBondingCurve, 0,
			domain.BondingCurveAttrs{VirtualA: 1000, VirtualB: 2000, RealA: 1000, RealB: 1000})
		assert.Equal(t, uint64(1000), q.MaxInput(domain.AToB))
		out, err := q.Quote(domain.AToB, 1000)
		require.NoError(t, err)
		assert.Equal(t, uint64(1000), out)
		assert.Equal(t, uint64(math.MaxUint64), q.MaxInput(domain.BToA))
	})

	t.Run("oracle depth", func(t *testing.T) {
		q := fixtures(t)["oracle"]
		assert.Equal(t, uint64(500_000), q.MaxInput(domain.AToB))
		assert.Equal(t, uint64(600_000), q.MaxInput(domain.BToA))
	})
}

func TestConcentratedMatchesConstantProductInsideRange(t *testing.T) {
	conc := bindOrFail(t, domain.KindConcentrated, 0, domain.ConcentratedAttrs{
		SqrtPriceX64: x64(1, 1),
		Ranges: []domain.LiquidityRange{
			{SqrtLowerX64: x64(1, 2), SqrtUpperX64: x64(2, 1), Liquidity: *uint256.NewInt(1_000_000)},
		},
	})
	cp := bindOrFail(t, domain.KindConstantProduct, 0,
		domain.ConstantProductAttrs{ReserveA: 1_000_000, ReserveB: 1_000_000})

	for _, in := range []uint64{1000, 50_000, 400_000, 999_999} {
		want, err := cp.Quote(domain.AToB, in)
		require.NoError(t, err)
		got, err := conc.Quote(domain.AToB, in)
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %d", in)
	}
}

func TestConcentratedCrossesRanges(t *testing.T) {
	q := fixtures(t)["concentrated"]
	inside, err := q.Quote(domain.AToB, 100_000)
	require.NoError(t, err)
	crossing, err := q.Quote(domain.AToB, q.MaxInput(domain.AToB))
	require.NoError(t, err)
	assert.Greater(t, crossing, inside)
}

func TestBinQuote(t *testing.T) {
	q := bindOrFail(t, domain.KindBin, 0, domain.BinAttrs{
		ActiveID: 0,
		Bins: []domain.Bin{
			{ID: -1, PriceX64: x64(1, 2), ReserveB: 100},
			{ID: 0, PriceX64: x64(1, 1), ReserveA: 100, ReserveB: 100},
			{ID: 1, PriceX64: x64(2, 1), ReserveA: 100},
		},
	})
	tests := []struct {
		dir  domain.Direction
		in   uint64
		want uint64
	}{
		{domain.AToB, 50, 50},
		{domain.AToB, 150, 125},
		{domain.AToB, 300, 200},
		{domain.BToA, 100, 100},
		{domain.BToA, 300, 200},
	}
	for _, tt := range tests {
		got, err := q.Quote(tt.dir, tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s %d", tt.dir, tt.in)
	}
}

func TestOracleQuote(t *testing.T) {
	q := bindOrFail(t, domain.KindOracle, 0, domain.OracleAttrs{PriceX64: x64(2, 1), DepthA: 1000, DepthB: 2000})

	got, err := q.Quote(domain.AToB, 1000)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), got)

	got, err = q.Quote(domain.AToB, 500)
	require.NoError(t, err)
	assert.Equal(t, uint64(750), got)

	got, err = q.Quote(domain.BToA, 2000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), got)
}

func TestInvalidDirection(t *testing.T) {
	for name, q := range fixtures(t) {
		t.Run(name, func(t *testing.T) {
			_, err := q.Quote(domain.Direction(7), 10)
			assert.ErrorIs(t, err, domain.ErrInvalidDirection)
			assert.Zero(t, q.MaxInput(domain.Direction(7)))
		})
	}
}

func TestQuoteIsMonotone(t *testing.T) {
	for name, q := range fixtures(t) {
		t.Run(name, func(t *testing.T) {
			for _, dir := range []domain.Direction{domain.AToB, domain.BToA} {
				limit := q.MaxInput(dir)
				if limit > 5_000_000 {
					limit = 5_000_000
				}
				var prev uint64
				for i := uint64(0); i <= 100; i++ {
					in := limit * i / 100
					out, err := q.Quote(dir, in)
					require.NoError(t, err, "%s %d", dir, in)
					assert.GreaterOrEqual(t, out, prev, "%s %d", dir, in)
					prev = out
				}
			}
		})
	}
}

func TestRoundTripNeverCreatesValue(t *testing.T) {
	for name, q := range fixtures(t) {
		t.Run(name, func(t *testing.T) {
			for _, dir := range []domain.Direction{domain.AToB, domain.BToA} {
				back := domain.BToA
				if dir == domain.BToA {
					back = domain.AToB
				}
				limit := q.MaxInput(dir)
				if limit > 5_000_000 {
					limit = 5_000_000
				}
				for i := uint64(1); i <= 20; i++ {
					in := limit * i / 20
					out, err := q.Quote(dir, in)
					require.NoError(t, err)
					if out > q.MaxInput(back) {
						continue
					}
					returned, err := q.Quote(back, out)
					require.NoError(t, err)
					assert.LessOrEqual(t, returned, in, "%s %d", dir, in)
				}
			}
		})
	}
}

func TestSpotPriceIncludesFee(t *testing.T) {
	q := bindOrFail(t, domain.KindConstantProduct, 3000, domain.ConstantProductAttrs{ReserveA: 1000, ReserveB: 2000})
	assert.True(t, q.SpotPrice(domain.AToB).Equal(decimal.RequireFromString("1.994")))
	assert.True(t, q.SpotPrice(domain.BToA).Equal(decimal.RequireFromString("0.4985")))

	conc := fixtures(t)["concentrated"]
	assert.True(t, conc.SpotPrice(domain.AToB).Equal(decimal.RequireFromString("0.9995")))
}

func TestBindRejectsMalformedAttributes(t *testing.T) {
	tests := []struct {
		name  string
		kind  domain.VenueKind
		fee   uint32
		attrs domain.Attributes
	}{
		{name: "kind mismatch", kind: domain.KindBin, attrs: domain.ConstantProductAttrs{ReserveA: 1, ReserveB: 1}},
		{name: "fee too high", kind: domain.KindConstantProduct, fee: domain.FeeDenominator, attrs: domain.ConstantProductAttrs{}},
		{name: "nil attributes", kind: domain.KindConstantProduct},
		{name: "gap between ranges", kind: domain.KindConcentrated, attrs: domain.ConcentratedAttrs{
			SqrtPriceX64: x64(1, 1),
			Ranges: []domain.LiquidityRange{
				{SqrtLowerX64: x64(1, 2), SqrtUpperX64: x64(1, 1), Liquidity: *uint256.NewInt(1)},
				{SqrtLowerX64: x64(3, 2), SqrtUpperX64: x64(2, 1), Liquidity: *uint256.NewInt(1)},
			},
		}},
		{name: "price outside ranges", kind: domain.KindConcentrated, attrs: domain.ConcentratedAttrs{
			SqrtPriceX64: x64(3, 1),
			Ranges: []domain.LiquidityRange{
				{SqrtLowerX64: x64(1, 2), SqrtUpperX64: x64(2, 1), Liquidity: *uint256.NewInt(1)},
			},
		}},
		{name: "missing active bin", kind: domain.KindBin, attrs: domain.BinAttrs{
			ActiveID: 5,
			Bins:     []domain.Bin{{ID: 0, PriceX64: x64(1, 1), ReserveA: 1}},
		}},
		{name: "bins out of order", kind: domain.KindBin, attrs: domain.BinAttrs{
			Bins: []domain.Bin{{ID: 0, PriceX64: x64(2, 1)}, {ID: 1, PriceX64: x64(1, 1)}},
		}},
		{name: "real above virtual", kind: domain.KindBondingCurve, attrs: domain.BondingCurveAttrs{
			VirtualA: 10, VirtualB: 10, RealA: 11, RealB: 1,
		}},
		{name: "zero oracle price", kind: domain.KindOracle, attrs: domain.OracleAttrs{DepthA: 1, DepthB: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Bind(tt.kind, domain.FeeParams{RatePPM: tt.fee}, tt.attrs)
			assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
		})
	}
}
