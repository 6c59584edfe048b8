// Package registry holds the live, versioned state of every tracked venue and
// the token adjacency index derived from it.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbengine/internal/domain"
	"github.com/alanyoungcy/arbengine/internal/swapmath"
)

// entry owns the current record of one venue. Records are immutable and
// swapped whole, so a reader never observes a torn venue.
type entry struct {
	mu sync.Mutex // serializes writers of this venue only
	v  atomic.Pointer[domain.Venue]
}

// mintSet is a copy-on-write, address-sorted list of venues trading a mint.
type mintSet struct {
	addrs atomic.Pointer[[]solana.PublicKey]
}

// Registry is a concurrent venue store. Reads never take a lock; updates to
// distinct venues proceed independently unless they insert, remove or change
// the token pair of a venue.
type Registry struct {
	maxVenues int
	logger    *slog.Logger

	venues sync.Map // solana.PublicKey -> *entry
	byMint sync.Map // solana.PublicKey -> *mintSet

	structMu sync.Mutex // guards inserts, removals and pair changes
	count    atomic.Int64
	seq      atomic.Uint64
}

// New creates a registry that tracks at most maxVenues venues. A maxVenues of
// zero or less disables the cap.
func New(maxVenues int, logger *slog.Logger) *Registry {
	return &Registry{
		maxVenues: maxVenues,
		logger:    logger.With(slog.String("component", "registry")),
	}
}

// Apply stores the update if its version is strictly greater than the stored
// one. Stale updates return (false, nil). New venues beyond the capacity cap
// are rejected with domain.ErrCapacityExceeded; existing venues are never
// evicted.
func (r *Registry) Apply(ctx context.Context, u domain.VenueUpdate) (bool, error) {
	next, err := newRecord(u)
	if err != nil {
		return false, err
	}

	if e, ok := r.load(u.Address); ok {
		e.mu.Lock()
		cur := e.v.Load()
		switch {
		case cur == nil:
			// Removed concurrently; fall through to the structural path.
		case next.Version <= cur.Version:
			e.mu.Unlock()
			r.logger.DebugContext(ctx, "stale venue update discarded",
				slog.String("venue", u.Address.String()),
				slog.Uint64("version", u.Version),
				slog.Uint64("stored", cur.Version),
			)
			return false, nil
		case samePair(cur, next):
			e.v.Store(next)
			r.seq.Add(1)
			e.mu.Unlock()
			return true, nil
		}
		e.mu.Unlock()
	}
	return r.applyStructural(ctx, next)
}

// applyStructural handles inserts and pair changes, which touch the index.
func (r *Registry) applyStructural(ctx context.Context, next *domain.Venue) (bool, error) {
	r.structMu.Lock()
	defer r.structMu.Unlock()

	if e, ok := r.load(next.Address); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		cur := e.v.Load()
		if cur != nil {
			if next.Version <= cur.Version {
				r.logger.DebugContext(ctx, "stale venue update discarded",
					slog.String("venue", next.Address.String()),
					slog.Uint64("version", next.Version),
					slog.Uint64("stored", cur.Version),
				)
				return false, nil
			}
			if !samePair(cur, next) {
				r.unindex(cur)
				e.v.Store(next)
				r.index(next)
			} else {
				e.v.Store(next)
			}
			r.seq.Add(1)
			return true, nil
		}
	}

	if r.maxVenues > 0 && r.count.Load() >= int64(r.maxVenues) {
		return false, fmt.Errorf("registry: venue %s: %w (max %d)", next.Address, domain.ErrCapacityExceeded, r.maxVenues)
	}
	e := &entry{}
	e.v.Store(next)
	r.venues.Store(next.Address, e)
	r.index(next)
	r.count.Add(1)
	r.seq.Add(1)
	return true, nil
}

// Remove drops a venue. The adjacency index is cleaned before the primary
// map so the index never names an absent venue.
func (r *Registry) Remove(addr solana.PublicKey) bool {
	r.structMu.Lock()
	defer r.structMu.Unlock()

	e, ok := r.load(addr)
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cur := e.v.Load()
	if cur == nil {
		return false
	}
	r.unindex(cur)
	e.v.Store(nil)
	r.venues.Delete(addr)
	r.count.Add(-1)
	r.seq.Add(1)
	return true
}

// Get returns the current record of a venue.
func (r *Registry) Get(addr solana.PublicKey) (*domain.Venue, bool) {
	e, ok := r.load(addr)
	if !ok {
		return nil, false
	}
	v := e.v.Load()
	return v, v != nil
}

// Venue implements routefinder.Graph over the live state.
func (r *Registry) Venue(addr solana.PublicKey) (*domain.Venue, bool) { return r.Get(addr) }

// Neighbors returns the address-sorted venues trading mint. The returned
// slice is shared and must not be modified.
func (r *Registry) Neighbors(mint solana.PublicKey) []solana.PublicKey {
	v, ok := r.byMint.Load(mint)
	if !ok {
		return nil
	}
	p := v.(*mintSet).addrs.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Versions returns the stored version of each address, zero when absent.
func (r *Registry) Versions(addrs []solana.PublicKey) []uint64 {
	out := make([]uint64, len(addrs))
	for i, a := range addrs {
		if v, ok := r.Get(a); ok {
			out[i] = v.Version
		}
	}
	return out
}

// Len returns the number of tracked venues.
func (r *Registry) Len() int { return int(r.count.Load()) }

// Seq returns the registry change sequence. It increases on every applied
// update or removal.
func (r *Registry) Seq() uint64 { return r.seq.Load() }

// Full reports whether the capacity cap has been reached.
func (r *Registry) Full() bool {
	return r.maxVenues > 0 && r.count.Load() >= int64(r.maxVenues)
}

func (r *Registry) load(addr solana.PublicKey) (*entry, bool) {
	v, ok := r.venues.Load(addr)
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

// index and unindex run under structMu.
func (r *Registry) index(v *domain.Venue) {
	for _, m := range [2]solana.PublicKey{v.MintA, v.MintB} {
		set := r.mintSet(m)
		var cur []solana.PublicKey
		if p := set.addrs.Load(); p != nil {
			cur = *p
		}
		i, found := slices.BinarySearchFunc(cur, v.Address, compareKeys)
		if found {
			continue
		}
		next := make([]solana.PublicKey, 0, len(cur)+1)
		next = append(next, cur[:i]...)
		next = append(next, v.Address)
		next = append(next, cur[i:]...)
		set.addrs.Store(&next)
	}
}

func (r *Registry) unindex(v *domain.Venue) {
	for _, m := range [2]solana.PublicKey{v.MintA, v.MintB} {
		raw, ok := r.byMint.Load(m)
		if !ok {
			continue
		}
		set := raw.(*mintSet)
		p := set.addrs.Load()
		if p == nil {
			continue
		}
		i, found := slices.BinarySearchFunc(*p, v.Address, compareKeys)
		if !found {
			continue
		}
		next := slices.Delete(slices.Clone(*p), i, i+1)
		if len(next) == 0 {
			set.addrs.Store(nil)
			r.byMint.Delete(m)
			continue
		}
		set.addrs.Store(&next)
	}
}

func (r *Registry) mintSet(m solana.PublicKey) *mintSet {
	if v, ok := r.byMint.Load(m); ok {
		return v.(*mintSet)
	}
	v, _ := r.byMint.LoadOrStore(m, &mintSet{})
	return v.(*mintSet)
}

// newRecord validates an update and binds its quoter.
func newRecord(u domain.VenueUpdate) (*domain.Venue, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	attrs := domain.CloneAttributes(u.Attrs)
	q, err := swapmath.Bind(u.Kind, u.Fee, attrs)
	if err != nil {
		return nil, fmt.Errorf("registry: venue %s: %w", u.Address, err)
	}
	return &domain.Venue{
		Address: u.Address,
		Kind:    u.Kind,
		MintA:   u.MintA,
		MintB:   u.MintB,
		Fee:     u.Fee,
		Attrs:   attrs,
		Version: u.Version,
		Quoter:  q,
	}, nil
}

func samePair(a, b *domain.Venue) bool {
	return a.MintA.Equals(b.MintA) && a.MintB.Equals(b.MintB)
}

func compareKeys(a, b solana.PublicKey) int { return bytes.Compare(a[:], b[:]) }
