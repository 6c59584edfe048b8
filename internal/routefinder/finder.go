// Package routefinder discovers base-anchored cycles over a venue graph.
package routefinder

import (
	"iter"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Graph is the read side of a venue registry. Neighbors must return venue
// addresses in ascending byte order.
type Graph interface {
	Neighbors(mint solana.PublicKey) []solana.PublicKey
	Venue(addr solana.PublicKey) (*domain.Venue, bool)
}

// Discover lazily yields every cycle from base of 2..maxHops hops in
// lexicographic order of venue addresses. It stops after maxRoutes routes
// when maxRoutes is positive. Each iteration re-derives the routes from g.
func Discover(g Graph, base solana.PublicKey, maxHops, maxRoutes int) iter.Seq[domain.Route] {
	return DiscoverThrough(g, base, maxHops, maxRoutes, nil)
}

// DiscoverThrough is Discover restricted to routes that use at least one of
// the venues in through. A nil set means no restriction.
func DiscoverThrough(g Graph, base solana.PublicKey, maxHops, maxRoutes int, through map[solana.PublicKey]struct{}) iter.Seq[domain.Route] {
	return func(yield func(domain.Route) bool) {
		if maxHops < 2 || (through != nil && len(through) == 0) {
			return
		}
		s := &search{
			g:         g,
			base:      base,
			maxHops:   maxHops,
			maxRoutes: maxRoutes,
			through:   through,
			yield:     yield,
			path:      make([]domain.Edge, 0, maxHops),
			used:      make(map[solana.PublicKey]struct{}, maxHops),
		}
		s.extend(base)
	}
}

type search struct {
	g         Graph
	base      solana.PublicKey
	maxHops   int
	maxRoutes int
	through   map[solana.PublicKey]struct{}
	yield     func(domain.Route) bool

	path    []domain.Edge
	used    map[solana.PublicKey]struct{}
	hits    int // venues of path that are in through
	emitted int
}

// extend tries every unused venue trading token. It returns false once the
// consumer stopped or the route cap was reached.
func (s *search) extend(token solana.PublicKey) bool {
	for _, addr := range s.g.Neighbors(token) {
		if _, dup := s.used[addr]; dup {
			continue
		}
		v, ok := s.g.Venue(addr)
		if !ok {
			continue
		}
		dir, err := v.DirectionFrom(token)
		if err != nil {
			continue
		}
		next, _ := v.OtherMint(token)
		hops := len(s.path) + 1
		edge := domain.Edge{Venue: addr, From: token, To: next, Direction: dir}

		if next.Equals(s.base) {
			if hops < 2 {
				continue
			}
			if !s.emit(edge) {
				return false
			}
			continue
		}
		// The final hop must close the cycle, and a dead end is not worth
		// entering.
		if hops >= s.maxHops || !s.hasExit(next, addr) {
			continue
		}

		s.push(edge)
		cont := s.extend(next)
		s.pop()
		if !cont {
			return false
		}
	}
	return true
}

// hasExit reports whether token trades through any unused venue other than
// the one just taken.
func (s *search) hasExit(token, via solana.PublicKey) bool {
	for _, addr := range s.g.Neighbors(token) {
		if addr.Equals(via) {
			continue
		}
		if _, dup := s.used[addr]; !dup {
			return true
		}
	}
	return false
}

func (s *search) emit(last domain.Edge) bool {
	touches := s.hits > 0
	if !touches && s.through != nil {
		_, touches = s.through[last.Venue]
	}
	if s.through != nil && !touches {
		return true
	}
	edges := make([]domain.Edge, len(s.path)+1)
	copy(edges, s.path)
	edges[len(s.path)] = last
	s.emitted++
	if !s.yield(domain.Route{Edges: edges}) {
		return false
	}
	return s.maxRoutes <= 0 || s.emitted < s.maxRoutes
}

func (s *search) push(e domain.Edge) {
	s.path = append(s.path, e)
	s.used[e.Venue] = struct{}{}
	if _, ok := s.through[e.Venue]; ok {
		s.hits++
	}
}

func (s *search) pop() {
	e := s.path[len(s.path)-1]
	s.path = s.path[:len(s.path)-1]
	delete(s.used, e.Venue)
	if _, ok := s.through[e.Venue]; ok {
		s.hits--
	}
}
