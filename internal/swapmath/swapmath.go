// Package swapmath implements exact integer quoting for every supported venue
// kind. Quotes never use floating point; SpotPrice is informational only.
package swapmath

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// curve is the fee-free pricing function of one venue kind.
type curve interface {
	// netCap is the largest fee-free input the venue can absorb in dir.
	netCap(dir domain.Direction) uint64
	// out returns the output for a fee-free input no larger than netCap.
	out(dir domain.Direction, net uint64) (uint64, error)
	// spot is the marginal price before fees.
	spot(dir domain.Direction) decimal.Decimal
}

// Quoter binds a curve to its fee schedule. It is immutable once built.
type Quoter struct {
	kind  domain.VenueKind
	fee   domain.FeeParams
	curve curve
	caps  [2]uint64
}

var _ domain.Quoter = (*Quoter)(nil)

// Bind resolves the quoting implementation for a venue state. It is called
// once per stored version; the result is cached on the venue record.
func Bind(kind domain.VenueKind, fee domain.FeeParams, attrs domain.Attributes) (*Quoter, error) {
	if fee.RatePPM >= domain.FeeDenominator {
		return nil, fmt.Errorf("%w: fee rate %d ppm", domain.ErrInvalidUpdate, fee.RatePPM)
	}
	var (
		c   curve
		err error
	)
	switch a := attrs.(type) {
	case domain.ConstantProductAttrs:
		c = newConstantProduct(a)
	case domain.ConcentratedAttrs:
		c, err = newConcentrated(a)
	case domain.BinAttrs:
		c, err = newBinCurve(a)
	case domain.BondingCurveAttrs:
		c, err = newBondingCurve(a)
	case domain.OracleAttrs:
		c, err = newOracle(a)
	default:
		return nil, fmt.Errorf("%w: unsupported attributes %T", domain.ErrInvalidUpdate, attrs)
	}
	if err != nil {
		return nil, err
	}
	if attrs.Kind() != kind {
		return nil, fmt.Errorf("%w: kind %s does not match attributes", domain.ErrInvalidUpdate, kind)
	}

	q := &Quoter{kind: kind, fee: fee, curve: c}
	for _, dir := range []domain.Direction{domain.AToB, domain.BToA} {
		q.caps[dir] = grossForNet(c.netCap(dir), fee.RatePPM)
	}
	return q, nil
}

// Kind returns the venue kind the quoter was bound for.
func (q *Quoter) Kind() domain.VenueKind { return q.kind }

// Quote returns the exact output for amountIn sold in dir.
func (q *Quoter) Quote(dir domain.Direction, amountIn uint64) (uint64, error) {
	if !dir.Valid() {
		return 0, domain.ErrInvalidDirection
	}
	if amountIn > q.caps[dir] {
		return 0, fmt.Errorf("%w: %s input %d exceeds %d", domain.ErrInsufficientLiquidity, q.kind, amountIn, q.caps[dir])
	}
	net := netOfFee(amountIn, q.fee.RatePPM)
	if net == 0 {
		return 0, nil
	}
	return q.curve.out(dir, net)
}

// MaxInput returns the largest input, fees included, that Quote accepts in
// dir. Zero means the venue has no capacity in that direction.
func (q *Quoter) MaxInput(dir domain.Direction) uint64 {
	if !dir.Valid() {
		return 0
	}
	return q.caps[dir]
}

// SpotPrice returns the marginal output per unit of input after fees.
func (q *Quoter) SpotPrice(dir domain.Direction) decimal.Decimal {
	if !dir.Valid() || q.caps[dir] == 0 {
		return decimal.Zero
	}
	keep := decimal.NewFromInt(int64(domain.FeeDenominator - q.fee.RatePPM)).
		Div(decimal.NewFromInt(domain.FeeDenominator))
	return q.curve.spot(dir).Mul(keep)
}

// netOfFee deducts the input fee, rounded up in favour of the venue.
func netOfFee(amount uint64, ratePPM uint32) uint64 {
	if ratePPM == 0 {
		return amount
	}
	fee := mulDivUp(u64(amount), u64(uint64(ratePPM)), u64(domain.FeeDenominator))
	if fee.GtUint64(amount) {
		return 0
	}
	return amount - fee.Uint64()
}

// grossForNet returns the largest gross amount whose net-of-fee value does not
// exceed net, saturating at the uint64 range.
func grossForNet(net uint64, ratePPM uint32) uint64 {
	if ratePPM == 0 || net == 0 {
		return net
	}
	g, overflow := new(uint256.Int).MulDivOverflow(
		u64(net), u64(domain.FeeDenominator), u64(uint64(domain.FeeDenominator-ratePPM)))
	if overflow || !g.IsUint64() {
		return math.MaxUint64
	}
	return g.Uint64()
}

var q64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

func u64(v uint64) *uint256.Int { return uint256.NewInt(v) }

// mulDiv computes floor(x*y/d) with a 512-bit intermediate.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, fmt.Errorf("%w: division by zero", domain.ErrOverflow)
	}
	z, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, domain.ErrOverflow
	}
	return z, nil
}

// mulDivUp computes ceil(x*y/d). Callers guarantee d != 0 and a 256-bit
// result.
func mulDivUp(x, y, d *uint256.Int) *uint256.Int {
	z, _ := new(uint256.Int).MulDivOverflow(x, y, d)
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		z.AddUint64(z, 1)
	}
	return z
}

// toUint64 narrows an amount that must fit the token unit range.
func toUint64(z *uint256.Int) (uint64, error) {
	if !z.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s exceeds 64 bits", domain.ErrOverflow, z.Dec())
	}
	return z.Uint64(), nil
}

// saturate narrows a capacity, clamping at the uint64 range.
func saturate(z *uint256.Int) uint64 {
	if !z.IsUint64() {
		return math.MaxUint64
	}
	return z.Uint64()
}

// ratio returns num/den as a decimal; zero when den is zero.
func ratio(num, den *uint256.Int) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(num.ToBig(), 0).
		DivRound(decimal.NewFromBigInt(den.ToBig(), 0), 18)
}

// x64ToDecimal converts a Q64.64 value to a decimal.
func x64ToDecimal(v *uint256.Int) decimal.Decimal {
	return ratio(v, q64)
}
