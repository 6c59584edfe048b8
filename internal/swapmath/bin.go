package swapmath

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// binCurve consumes discrete price bins outward from the active bin. Bins
// below the active one hold B and serve A sellers; bins above hold A.
type binCurve struct {
	bins   []domain.Bin
	active int
	caps   [2]uint64
}

func newBinCurve(a domain.BinAttrs) (*binCurve, error) {
	if len(a.Bins) == 0 {
		return nil, fmt.Errorf("%w: bin venue without bins", domain.ErrInvalidUpdate)
	}
	c := &binCurve{bins: a.Bins, active: -1}
	for i := range a.Bins {
		b := &a.Bins[i]
		if b.PriceX64.IsZero() || !b.PriceX64.Lt(maxX128) {
			return nil, fmt.Errorf("%w: bin %d has invalid price", domain.ErrInvalidUpdate, b.ID)
		}
		if i > 0 {
			prev := &a.Bins[i-1]
			if prev.ID >= b.ID || !prev.PriceX64.Lt(&b.PriceX64) {
				return nil, fmt.Errorf("%w: bin %d out of order", domain.ErrInvalidUpdate, b.ID)
			}
		}
		if b.ID == a.ActiveID {
			c.active = i
		}
	}
	if c.active < 0 {
		return nil, fmt.Errorf("%w: active bin %d not present", domain.ErrInvalidUpdate, a.ActiveID)
	}

	capA, err := c.walk(domain.AToB, nil)
	if err != nil {
		return nil, err
	}
	capB, err := c.walk(domain.BToA, nil)
	if err != nil {
		return nil, err
	}
	c.caps = [2]uint64{saturate(capA), saturate(capB)}
	return c, nil
}

func (c *binCurve) netCap(dir domain.Direction) uint64 { return c.caps[dir] }

func (c *binCurve) out(dir domain.Direction, net uint64) (uint64, error) {
	z, err := c.walk(dir, u64(net))
	if err != nil {
		return 0, err
	}
	return toUint64(z)
}

// walk returns the output for amount, or the input needed to drain every bin
// in dir when amount is nil.
func (c *binCurve) walk(dir domain.Direction, amount *uint256.Int) (*uint256.Int, error) {
	var remaining *uint256.Int
	if amount != nil {
		remaining = amount.Clone()
	}
	step := -1
	if dir == domain.BToA {
		step = 1
	}
	total := new(uint256.Int)
	for i := c.active; i >= 0 && i < len(c.bins); i += step {
		b := &c.bins[i]
		reserve := b.ReserveB
		if dir == domain.BToA {
			reserve = b.ReserveA
		}
		if reserve == 0 {
			continue
		}
		need := binInput(dir, u64(reserve), &b.PriceX64)
		if remaining == nil {
			total.Add(total, need)
			continue
		}
		if !remaining.Lt(need) {
			total.AddUint64(total, reserve)
			remaining.Sub(remaining, need)
			if remaining.IsZero() {
				return total, nil
			}
			continue
		}
		got, err := binOutput(dir, remaining, &b.PriceX64)
		if err != nil {
			return nil, err
		}
		if got.GtUint64(reserve) {
			got.SetUint64(reserve)
		}
		return total.Add(total, got), nil
	}
	if remaining != nil && !remaining.IsZero() {
		return nil, domain.ErrInsufficientLiquidity
	}
	return total, nil
}

// binInput is the input needed to take reserve out of a bin, rounded up.
func binInput(dir domain.Direction, reserve, price *uint256.Int) *uint256.Int {
	if dir == domain.AToB {
		return mulDivUp(reserve, q64, price)
	}
	return mulDivUp(reserve, price, q64)
}

// binOutput is the output for amount at a bin's price, rounded down.
func binOutput(dir domain.Direction, amount, price *uint256.Int) (*uint256.Int, error) {
	if dir == domain.AToB {
		return mulDiv(amount, price, q64)
	}
	return mulDiv(amount, q64, price)
}

func (c *binCurve) spot(dir domain.Direction) decimal.Decimal {
	p := x64ToDecimal(&c.bins[c.active].PriceX64)
	if dir == domain.AToB {
		return p
	}
	if p.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(p, 18)
}
