package dispatcher

import (
	"bytes"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// coalescer keeps the newest pending update per venue address. Its size is
// bounded by the number of distinct addresses, not by the feed rate.
type coalescer struct {
	mu      sync.Mutex
	pending map[solana.PublicKey]domain.VenueUpdate
	wake    chan struct{}
}

func newCoalescer() *coalescer {
	return &coalescer{
		pending: make(map[solana.PublicKey]domain.VenueUpdate),
		wake:    make(chan struct{}, 1),
	}
}

// put stores u unless a pending update for the same venue is at least as new.
func (c *coalescer) put(u domain.VenueUpdate) bool {
	c.mu.Lock()
	if cur, ok := c.pending[u.Address]; ok && cur.Version >= u.Version {
		c.mu.Unlock()
		return false
	}
	c.pending[u.Address] = u
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// drain empties the buffer and returns its updates ordered by address.
func (c *coalescer) drain() []domain.VenueUpdate {
	c.mu.Lock()
	if len(c.pending) == 0 {
		c.mu.Unlock()
		return nil
	}
	out := make([]domain.VenueUpdate, 0, len(c.pending))
	for _, u := range c.pending {
		out = append(out, u)
	}
	c.pending = make(map[solana.PublicKey]domain.VenueUpdate, len(out))
	c.mu.Unlock()

	slices.SortFunc(out, func(a, b domain.VenueUpdate) int {
		return bytes.Compare(a.Address[:], b.Address[:])
	})
	return out
}

func (c *coalescer) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
