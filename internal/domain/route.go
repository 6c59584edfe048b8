package domain

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Edge is one directed hop through a venue. Edges are derived from venues on
// demand and never stored by the registry.
type Edge struct {
	Venue     solana.PublicKey
	From      solana.PublicKey
	To        solana.PublicKey
	Direction Direction
}

// RouteKey identifies a route by its ordered venue addresses. Byte order of
// keys equals lexicographic order of the venue sequences.
type RouteKey string

// Route is a cycle of edges that starts and ends at the same token.
type Route struct {
	Edges []Edge
}

// Hops returns the number of edges.
func (r Route) Hops() int { return len(r.Edges) }

// Base returns the token the route starts and ends at.
func (r Route) Base() solana.PublicKey {
	if len(r.Edges) == 0 {
		return solana.PublicKey{}
	}
	return r.Edges[0].From
}

// Venues returns the venue addresses in hop order.
func (r Route) Venues() []solana.PublicKey {
	out := make([]solana.PublicKey, len(r.Edges))
	for i, e := range r.Edges {
		out[i] = e.Venue
	}
	return out
}

// Mints returns the token path, including the base token at both ends.
func (r Route) Mints() []solana.PublicKey {
	if len(r.Edges) == 0 {
		return nil
	}
	out := make([]solana.PublicKey, 0, len(r.Edges)+1)
	out = append(out, r.Edges[0].From)
	for _, e := range r.Edges {
		out = append(out, e.To)
	}
	return out
}

// Key returns the venue-sequence key of the route.
func (r Route) Key() RouteKey {
	var b strings.Builder
	b.Grow(len(r.Edges) * solana.PublicKeyLength)
	for _, e := range r.Edges {
		b.Write(e.Venue[:])
	}
	return RouteKey(b.String())
}

// TokenKey identifies the token path of the route. Different venue choices
// over the same tokens share a token key.
func (r Route) TokenKey() string {
	mints := r.Mints()
	var b strings.Builder
	b.Grow(len(mints) * solana.PublicKeyLength)
	for _, m := range mints {
		b.Write(m[:])
	}
	return b.String()
}

// Touches reports whether the route passes through addr.
func (r Route) Touches(addr solana.PublicKey) bool {
	for _, e := range r.Edges {
		if e.Venue.Equals(addr) {
			return true
		}
	}
	return false
}

// String renders the route as venue addresses joined by arrows.
func (r Route) String() string {
	parts := make([]string, len(r.Edges))
	for i, e := range r.Edges {
		parts[i] = e.Venue.String()
	}
	return strings.Join(parts, " -> ")
}

// Validate checks the structural invariants of a cycle anchored at base.
func (r Route) Validate(base solana.PublicKey, maxHops int) error {
	n := len(r.Edges)
	if n < 2 || n > maxHops {
		return fmt.Errorf("route has %d hops, want 2..%d", n, maxHops)
	}
	if !r.Edges[0].From.Equals(base) || !r.Edges[n-1].To.Equals(base) {
		return fmt.Errorf("route %s is not anchored at %s", r, base)
	}
	seen := make(map[solana.PublicKey]struct{}, n)
	for i, e := range r.Edges {
		if _, dup := seen[e.Venue]; dup {
			return fmt.Errorf("route %s repeats venue %s", r, e.Venue)
		}
		seen[e.Venue] = struct{}{}
		if i > 0 && !r.Edges[i-1].To.Equals(e.From) {
			return fmt.Errorf("route %s breaks at hop %d", r, i)
		}
	}
	return nil
}
