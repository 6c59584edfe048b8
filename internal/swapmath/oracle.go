package swapmath

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// oracle quotes around an external price with quadratic depth decay:
// out = p * (2D*in - in^2) / (2D) for in <= D.
type oracle struct {
	price *uint256.Int
	depth [2]uint64
}

func newOracle(a domain.OracleAttrs) (*oracle, error) {
	if a.PriceX64.IsZero() || !a.PriceX64.Lt(maxX128) {
		return nil, fmt.Errorf("%w: invalid oracle price", domain.ErrInvalidUpdate)
	}
	return &oracle{price: a.PriceX64.Clone(), depth: [2]uint64{a.DepthA, a.DepthB}}, nil
}

func (o *oracle) netCap(dir domain.Direction) uint64 { return o.depth[dir] }

func (o *oracle) out(dir domain.Direction, net uint64) (uint64, error) {
	d := u64(o.depth[dir])
	twoD := new(uint256.Int).Lsh(d, 1)
	// in*(2D - in)
	num := new(uint256.Int).Sub(twoD, u64(net))
	num.Mul(num, u64(net))

	var (
		z   *uint256.Int
		err error
	)
	if dir == domain.AToB {
		z, err = mulDiv(num, o.price, new(uint256.Int).Lsh(twoD, 64))
	} else {
		z, err = mulDiv(num, q64, new(uint256.Int).Mul(twoD, o.price))
	}
	if err != nil {
		return 0, err
	}
	return toUint64(z)
}

func (o *oracle) spot(dir domain.Direction) decimal.Decimal {
	p := x64ToDecimal(o.price)
	if dir == domain.AToB || p.IsZero() {
		return p
	}
	return decimal.NewFromInt(1).DivRound(p, 18)
}
