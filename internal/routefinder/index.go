package routefinder

import (
	"fmt"
	"slices"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Index holds every known route and maps each venue to the routes through it,
// so a batch of changed venues selects only the routes it affects.
type Index struct {
	maxRoutes int

	mu      sync.RWMutex
	routes  map[domain.RouteKey]domain.Route
	byVenue map[solana.PublicKey]map[domain.RouteKey]struct{}
}

// NewIndex creates an index holding at most maxRoutes routes. Zero or less
// disables the cap.
func NewIndex(maxRoutes int) *Index {
	return &Index{
		maxRoutes: maxRoutes,
		routes:    make(map[domain.RouteKey]domain.Route),
		byVenue:   make(map[solana.PublicKey]map[domain.RouteKey]struct{}),
	}
}

// Add stores a route. It reports false for a route already present and
// domain.ErrCapacityExceeded once the cap is reached.
func (x *Index) Add(r domain.Route) (bool, error) {
	key := r.Key()
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.routes[key]; ok {
		return false, nil
	}
	if x.maxRoutes > 0 && len(x.routes) >= x.maxRoutes {
		return false, fmt.Errorf("routefinder: index: %w (max %d)", domain.ErrCapacityExceeded, x.maxRoutes)
	}
	x.routes[key] = r
	for _, e := range r.Edges {
		set, ok := x.byVenue[e.Venue]
		if !ok {
			set = make(map[domain.RouteKey]struct{})
			x.byVenue[e.Venue] = set
		}
		set[key] = struct{}{}
	}
	return true, nil
}

// Remove drops a route by key.
func (x *Index) Remove(key domain.RouteKey) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.removeLocked(key)
}

// RemoveVenue drops every route through addr and returns how many were
// removed.
func (x *Index) RemoveVenue(addr solana.PublicKey) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	keys := make([]domain.RouteKey, 0, len(x.byVenue[addr]))
	for k := range x.byVenue[addr] {
		keys = append(keys, k)
	}
	for _, k := range keys {
		x.removeLocked(k)
	}
	return len(keys)
}

func (x *Index) removeLocked(key domain.RouteKey) bool {
	r, ok := x.routes[key]
	if !ok {
		return false
	}
	delete(x.routes, key)
	for _, e := range r.Edges {
		set := x.byVenue[e.Venue]
		delete(set, key)
		if len(set) == 0 {
			delete(x.byVenue, e.Venue)
		}
	}
	return true
}

// Touching returns the routes through any of addrs, deduplicated and in key
// order.
func (x *Index) Touching(addrs []solana.PublicKey) []domain.Route {
	x.mu.RLock()
	defer x.mu.RUnlock()

	seen := make(map[domain.RouteKey]struct{})
	for _, a := range addrs {
		for k := range x.byVenue[a] {
			seen[k] = struct{}{}
		}
	}
	keys := make([]domain.RouteKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]domain.Route, len(keys))
	for i, k := range keys {
		out[i] = x.routes[k]
	}
	return out
}

// Has reports whether any route passes through addr.
func (x *Index) Has(addr solana.PublicKey) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byVenue[addr]) > 0
}

// Len returns the number of indexed routes.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.routes)
}

// Full reports whether the cap is reached.
func (x *Index) Full() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.maxRoutes > 0 && len(x.routes) >= x.maxRoutes
}
