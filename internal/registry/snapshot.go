package registry

import (
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Snapshot is an immutable point-in-time view. Its adjacency is derived from
// the venues it holds, so it never references a venue it does not contain.
type Snapshot struct {
	seq    uint64
	venues map[solana.PublicKey]*domain.Venue
	byMint map[solana.PublicKey][]solana.PublicKey
}

// View captures every tracked venue.
func (r *Registry) View() *Snapshot {
	s := &Snapshot{
		seq:    r.seq.Load(),
		venues: make(map[solana.PublicKey]*domain.Venue, r.Len()),
	}
	r.venues.Range(func(_, value any) bool {
		if v := value.(*entry).v.Load(); v != nil {
			s.venues[v.Address] = v
		}
		return true
	})
	s.buildIndex()
	return s
}

// Snapshot captures the requested venues. Unknown addresses are skipped.
func (r *Registry) Snapshot(addrs []solana.PublicKey) *Snapshot {
	s := &Snapshot{
		seq:    r.seq.Load(),
		venues: make(map[solana.PublicKey]*domain.Venue, len(addrs)),
	}
	for _, a := range addrs {
		if v, ok := r.Get(a); ok {
			s.venues[a] = v
		}
	}
	s.buildIndex()
	return s
}

func (s *Snapshot) buildIndex() {
	s.byMint = make(map[solana.PublicKey][]solana.PublicKey)
	for addr, v := range s.venues {
		s.byMint[v.MintA] = append(s.byMint[v.MintA], addr)
		s.byMint[v.MintB] = append(s.byMint[v.MintB], addr)
	}
	for _, list := range s.byMint {
		slices.SortFunc(list, compareKeys)
	}
}

// Seq returns the registry sequence observed when the snapshot was taken.
func (s *Snapshot) Seq() uint64 { return s.seq }

// Len returns the number of venues in the snapshot.
func (s *Snapshot) Len() int { return len(s.venues) }

// Venue returns the venue record held by the snapshot.
func (s *Snapshot) Venue(addr solana.PublicKey) (*domain.Venue, bool) {
	v, ok := s.venues[addr]
	return v, ok
}

// Neighbors returns the address-sorted venues trading mint.
func (s *Snapshot) Neighbors(mint solana.PublicKey) []solana.PublicKey {
	return s.byMint[mint]
}

// Venues returns every venue ordered by address.
func (s *Snapshot) Venues() []*domain.Venue {
	out := make([]*domain.Venue, 0, len(s.venues))
	for _, v := range s.venues {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b *domain.Venue) int { return compareKeys(a.Address, b.Address) })
	return out
}

// Versions returns the version of each address as held by the snapshot.
func (s *Snapshot) Versions(addrs []solana.PublicKey) []uint64 {
	out := make([]uint64, len(addrs))
	for i, a := range addrs {
		if v, ok := s.venues[a]; ok {
			out[i] = v.Version
		}
	}
	return out
}
