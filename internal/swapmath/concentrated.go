package swapmath

import (
	"fmt"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// maxX128 bounds liquidity and sqrt prices so that every intermediate fits
// in 256 bits.
var maxX128 = new(uint256.Int).Lsh(uint256.NewInt(1), 128)

// concentrated walks contiguous liquidity ranges with a Q64.64 sqrt price.
// Selling A moves the price down, selling B moves it up.
type concentrated struct {
	sqrt   *uint256.Int
	ranges []domain.LiquidityRange
	active int
	caps   [2]uint64
}

func newConcentrated(a domain.ConcentratedAttrs) (*concentrated, error) {
	if len(a.Ranges) == 0 {
		return nil, fmt.Errorf("%w: concentrated venue without ranges", domain.ErrInvalidUpdate)
	}
	for i := range a.Ranges {
		r := &a.Ranges[i]
		switch {
		case r.SqrtLowerX64.IsZero() || !r.SqrtLowerX64.Lt(&r.SqrtUpperX64):
			return nil, fmt.Errorf("%w: range %d has empty bounds", domain.ErrInvalidUpdate, i)
		case !r.SqrtUpperX64.Lt(maxX128) || !r.Liquidity.Lt(maxX128):
			return nil, fmt.Errorf("%w: range %d exceeds 128 bits", domain.ErrInvalidUpdate, i)
		case i > 0 && !a.Ranges[i-1].SqrtUpperX64.Eq(&r.SqrtLowerX64):
			return nil, fmt.Errorf("%w: range %d is not contiguous", domain.ErrInvalidUpdate, i)
		}
	}
	last := len(a.Ranges) - 1
	if a.SqrtPriceX64.Lt(&a.Ranges[0].SqrtLowerX64) || a.SqrtPriceX64.Gt(&a.Ranges[last].SqrtUpperX64) {
		return nil, fmt.Errorf("%w: sqrt price outside liquidity ranges", domain.ErrInvalidUpdate)
	}
	c := &concentrated{sqrt: a.SqrtPriceX64.Clone(), ranges: a.Ranges}
	for i := last; i >= 0; i-- {
		if !a.SqrtPriceX64.Lt(&a.Ranges[i].SqrtLowerX64) {
			c.active = i
			break
		}
	}

	capA, err := c.walkAToB(nil)
	if err != nil {
		return nil, err
	}
	capB, err := c.walkBToA(nil)
	if err != nil {
		return nil, err
	}
	c.caps = [2]uint64{saturate(capA), saturate(capB)}
	return c, nil
}

func (c *concentrated) netCap(dir domain.Direction) uint64 { return c.caps[dir] }

func (c *concentrated) out(dir domain.Direction, net uint64) (uint64, error) {
	var (
		z   *uint256.Int
		err error
	)
	if dir == domain.AToB {
		z, err = c.walkAToB(u64(net))
	} else {
		z, err = c.walkBToA(u64(net))
	}
	if err != nil {
		return 0, err
	}
	return toUint64(z)
}

// walkAToB swaps amount of A down through the ranges and returns the B
// received. With a nil amount it returns the A needed to exhaust every range.
func (c *concentrated) walkAToB(amount *uint256.Int) (*uint256.Int, error) {
	var remaining *uint256.Int
	if amount != nil {
		remaining = amount.Clone()
	}
	total := new(uint256.Int)
	p := c.sqrt.Clone()
	for i := c.active; i >= 0; i-- {
		r := &c.ranges[i]
		if r.Liquidity.IsZero() {
			p.Set(&r.SqrtLowerX64)
			continue
		}
		need, err := amountADelta(&r.Liquidity, &r.SqrtLowerX64, p, true)
		if err != nil {
			return nil, err
		}
		if remaining == nil {
			total.Add(total, need)
			p.Set(&r.SqrtLowerX64)
			continue
		}
		if !remaining.Lt(need) {
			got, err := amountBDelta(&r.Liquidity, &r.SqrtLowerX64, p, false)
			if err != nil {
				return nil, err
			}
			total.Add(total, got)
			remaining.Sub(remaining, need)
			p.Set(&r.SqrtLowerX64)
			if remaining.IsZero() {
				return total, nil
			}
			continue
		}
		q, err := nextSqrtFromA(&r.Liquidity, p, remaining)
		if err != nil {
			return nil, err
		}
		if q.Lt(&r.SqrtLowerX64) {
			q.Set(&r.SqrtLowerX64)
		}
		got, err := amountBDelta(&r.Liquidity, q, p, false)
		if err != nil {
			return nil, err
		}
		return total.Add(total, got), nil
	}
	if remaining != nil && !remaining.IsZero() {
		return nil, domain.ErrInsufficientLiquidity
	}
	return total, nil
}

// walkBToA swaps amount of B up through the ranges and returns the A
// received. With a nil amount it returns the B needed to exhaust every range.
func (c *concentrated) walkBToA(amount *uint256.Int) (*uint256.Int, error) {
	var remaining *uint256.Int
	if amount != nil {
		remaining = amount.Clone()
	}
	total := new(uint256.Int)
	p := c.sqrt.Clone()
	for i := c.active; i < len(c.ranges); i++ {
		r := &c.ranges[i]
		if r.Liquidity.IsZero() {
			p.Set(&r.SqrtUpperX64)
			continue
		}
		need, err := amountBDelta(&r.Liquidity, p, &r.SqrtUpperX64, true)
		if err != nil {
			return nil, err
		}
		if remaining == nil {
			total.Add(total, need)
			p.Set(&r.SqrtUpperX64)
			continue
		}
		if !remaining.Lt(need) {
			got, err := amountADelta(&r.Liquidity, p, &r.SqrtUpperX64, false)
			if err != nil {
				return nil, err
			}
			total.Add(total, got)
			remaining.Sub(remaining, need)
			p.Set(&r.SqrtUpperX64)
			if remaining.IsZero() {
				return total, nil
			}
			continue
		}
		q, err := nextSqrtFromB(&r.Liquidity, p, remaining)
		if err != nil {
			return nil, err
		}
		if q.Gt(&r.SqrtUpperX64) {
			q.Set(&r.SqrtUpperX64)
		}
		got, err := amountADelta(&r.Liquidity, p, q, false)
		if err != nil {
			return nil, err
		}
		return total.Add(total, got), nil
	}
	if remaining != nil && !remaining.IsZero() {
		return nil, domain.ErrInsufficientLiquidity
	}
	return total, nil
}

func (c *concentrated) spot(dir domain.Direction) decimal.Decimal {
	p := x64ToDecimal(c.sqrt)
	price := p.Mul(p)
	if dir == domain.AToB {
		return price
	}
	if price.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromInt(1).DivRound(price, 18)
}

// amountADelta is L*2^64*(hi-lo)/(hi*lo), the A moved between two sqrt prices.
func amountADelta(liq, lo, hi *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if !lo.Lt(hi) {
		return new(uint256.Int), nil
	}
	l2 := new(uint256.Int).Lsh(liq, 64)
	diff := new(uint256.Int).Sub(hi, lo)
	if roundUp {
		t := mulDivUp(l2, diff, hi)
		return mulDivUp(t, u64(1), lo), nil
	}
	t, err := mulDiv(l2, diff, hi)
	if err != nil {
		return nil, err
	}
	return t.Div(t, lo), nil
}

// amountBDelta is L*(hi-lo)/2^64, the B moved between two sqrt prices.
func amountBDelta(liq, lo, hi *uint256.Int, roundUp bool) (*uint256.Int, error) {
	if !lo.Lt(hi) {
		return new(uint256.Int), nil
	}
	diff := new(uint256.Int).Sub(hi, lo)
	if roundUp {
		return mulDivUp(liq, diff, q64), nil
	}
	return mulDiv(liq, diff, q64)
}

// nextSqrtFromA is the sqrt price after adding amount of A, rounded up.
func nextSqrtFromA(liq, p, amount *uint256.Int) (*uint256.Int, error) {
	l2 := new(uint256.Int).Lsh(liq, 64)
	den := new(uint256.Int).Mul(amount, p)
	den.Add(den, l2)
	if den.IsZero() {
		return nil, domain.ErrOverflow
	}
	return mulDivUp(l2, p, den), nil
}

// nextSqrtFromB is the sqrt price after adding amount of B, rounded down.
func nextSqrtFromB(liq, p, amount *uint256.Int) (*uint256.Int, error) {
	step, err := mulDiv(amount, q64, liq)
	if err != nil {
		return nil, err
	}
	return step.Add(step, p), nil
}
