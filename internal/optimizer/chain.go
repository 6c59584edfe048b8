package optimizer

import (
	"fmt"
	"math"
	"math/bits"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// VenueSource resolves venue records, typically a registry snapshot.
type VenueSource interface {
	Venue(addr solana.PublicKey) (*domain.Venue, bool)
}

type hop struct {
	venue *domain.Venue
	dir   domain.Direction
}

// Chain composes the quotes of a route's hops against fixed venue records.
type Chain struct {
	hops        []hop
	slippageBps uint32
}

// NewChain resolves every hop of route from src. Each edge must still match
// its venue's token pair.
func NewChain(route domain.Route, src VenueSource, hopSlippageBps uint32) (*Chain, error) {
	if route.Hops() < 2 {
		return nil, fmt.Errorf("optimizer: route with %d hops: %w", route.Hops(), domain.ErrNoViableAmount)
	}
	c := &Chain{hops: make([]hop, len(route.Edges)), slippageBps: hopSlippageBps}
	for i, e := range route.Edges {
		v, ok := src.Venue(e.Venue)
		if !ok {
			return nil, fmt.Errorf("optimizer: venue %s: %w", e.Venue, domain.ErrNotFound)
		}
		dir, err := v.DirectionFrom(e.From)
		if err != nil {
			return nil, err
		}
		if to, _ := v.OtherMint(e.From); !to.Equals(e.To) || dir != e.Direction {
			return nil, fmt.Errorf("optimizer: hop %d through %s: %w", i, e.Venue, domain.ErrInvalidDirection)
		}
		if v.Quoter == nil {
			return nil, fmt.Errorf("optimizer: venue %s has no quoter: %w", e.Venue, domain.ErrInvalidUpdate)
		}
		c.hops[i] = hop{venue: v, dir: dir}
	}
	return c, nil
}

// Output returns the amount of base token received for x.
func (c *Chain) Output(x uint64) (uint64, error) {
	amount := x
	for _, h := range c.hops {
		out, err := h.venue.Quoter.Quote(h.dir, amount)
		if err != nil {
			return 0, err
		}
		if c.slippageBps > 0 {
			out = ApplySlippage(out, c.slippageBps)
		}
		amount = out
	}
	return amount, nil
}

// Profit is Output(x) - x.
func (c *Chain) Profit(x uint64) (int64, error) {
	out, err := c.Output(x)
	if err != nil {
		return 0, err
	}
	if out >= x {
		d := out - x
		if d > math.MaxInt64/2 {
			return 0, fmt.Errorf("optimizer: profit %d: %w", d, domain.ErrOverflow)
		}
		return int64(d), nil
	}
	d := x - out
	if d > math.MaxInt64/2 {
		return 0, fmt.Errorf("optimizer: loss %d: %w", d, domain.ErrOverflow)
	}
	return -int64(d), nil
}

// feasible reports whether every hop can absorb the amount reaching it.
func (c *Chain) feasible(x uint64) bool {
	amount := x
	for _, h := range c.hops {
		if amount > h.venue.Quoter.MaxInput(h.dir) {
			return false
		}
		out, err := h.venue.Quoter.Quote(h.dir, amount)
		if err != nil {
			return false
		}
		amount = out
	}
	return true
}

// UpperBound clips limit to the first hop's capacity, then to the largest
// amount whose intermediate inputs stay within every later hop's capacity.
func (c *Chain) UpperBound(limit uint64) uint64 {
	hi := min(limit, c.hops[0].venue.Quoter.MaxInput(c.hops[0].dir))
	if hi == 0 || c.feasible(hi) {
		return hi
	}
	// Quotes are non-decreasing, so feasibility is monotone in x.
	lo := uint64(0)
	for hi-lo > 1 {
		mid := lo + (hi-lo)/2
		if c.feasible(mid) {
			lo = mid
		} else {
			hi = mid
		}
	}
	return lo
}

// Versions returns the venue versions the chain was built from, in hop order.
func (c *Chain) Versions() []uint64 {
	out := make([]uint64, len(c.hops))
	for i, h := range c.hops {
		out[i] = h.venue.Version
	}
	return out
}

// ApplySlippage reduces amount by bps basis points, rounding down.
func ApplySlippage(amount uint64, bps uint32) uint64 {
	if bps >= 10_000 {
		return 0
	}
	hi, lo := bits.Mul64(amount, uint64(10_000-bps))
	q, _ := bits.Div64(hi, lo, 10_000)
	return q
}
