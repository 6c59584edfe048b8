package swapmath

import (
	"fmt"
	"math"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// bondingCurve prices on virtual reserves and pays out of real reserves.
type bondingCurve struct {
	virtual [2]uint64
	real    [2]uint64
	caps    [2]uint64
}

func newBondingCurve(a domain.BondingCurveAttrs) (*bondingCurve, error) {
	if a.RealA > a.VirtualA || a.RealB > a.VirtualB {
		return nil, fmt.Errorf("%w: real reserves exceed virtual reserves", domain.ErrInvalidUpdate)
	}
	c := &bondingCurve{
		virtual: [2]uint64{a.VirtualA, a.VirtualB},
		real:    [2]uint64{a.RealA, a.RealB},
	}
	for _, dir := range []domain.Direction{domain.AToB, domain.BToA} {
		c.caps[dir] = c.drainInput(dir)
	}
	return c, nil
}

func (c *bondingCurve) sides(dir domain.Direction) (vin, vout, rout uint64) {
	if dir == domain.AToB {
		return c.virtual[0], c.virtual[1], c.real[1]
	}
	return c.virtual[1], c.virtual[0], c.real[0]
}

// drainInput is the largest input whose output stays within the real
// reserve: floor(rout*vin / (vout-rout)).
func (c *bondingCurve) drainInput(dir domain.Direction) uint64 {
	vin, vout, rout := c.sides(dir)
	if vin == 0 || vout == 0 || rout == 0 {
		return 0
	}
	if rout == vout {
		return math.MaxUint64
	}
	z, err := mulDiv(u64(rout), u64(vin), u64(vout-rout))
	if err != nil {
		return 0
	}
	return saturate(z)
}

func (c *bondingCurve) netCap(dir domain.Direction) uint64 { return c.caps[dir] }

func (c *bondingCurve) out(dir domain.Direction, net uint64) (uint64, error) {
	vin, vout, rout := c.sides(dir)
	den := new(uint256.Int).Add(u64(vin), u64(net))
	z, err := mulDiv(u64(vout), u64(net), den)
	if err != nil {
		return 0, err
	}
	if z.GtUint64(rout) {
		return rout, nil
	}
	return z.Uint64(), nil
}

func (c *bondingCurve) spot(dir domain.Direction) decimal.Decimal {
	vin, vout, _ := c.sides(dir)
	return ratio(u64(vout), u64(vin))
}
