package swapmath

import (
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// constantProduct is the x*y=k curve.
type constantProduct struct {
	reserves [2]uint64 // indexed by the side sold: [AToB] = A, [BToA] = B
}

func newConstantProduct(a domain.ConstantProductAttrs) *constantProduct {
	return &constantProduct{reserves: [2]uint64{a.ReserveA, a.ReserveB}}
}

func (c *constantProduct) pair(dir domain.Direction) (in, out uint64) {
	if dir == domain.AToB {
		return c.reserves[0], c.reserves[1]
	}
	return c.reserves[1], c.reserves[0]
}

func (c *constantProduct) netCap(dir domain.Direction) uint64 {
	x, y := c.pair(dir)
	if x == 0 || y == 0 {
		return 0
	}
	return x
}

func (c *constantProduct) out(dir domain.Direction, net uint64) (uint64, error) {
	x, y := c.pair(dir)
	den := new(uint256.Int).Add(u64(x), u64(net))
	z, err := mulDiv(u64(y), u64(net), den)
	if err != nil {
		return 0, err
	}
	return toUint64(z)
}

func (c *constantProduct) spot(dir domain.Direction) decimal.Decimal {
	x, y := c.pair(dir)
	return ratio(u64(y), u64(x))
}
