package domain

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrWSDisconnect = errors.New("websocket disconnected")
	ErrLockHeld     = errors.New("lock held by another owner")

	// Registry and feed.
	ErrStaleUpdate      = errors.New("stale update")
	ErrInvalidUpdate    = errors.New("invalid venue update")
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// Quoting and optimization.
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInvalidDirection      = errors.New("invalid swap direction")
	ErrNoViableAmount        = errors.New("no viable amount")
	ErrOverflow              = errors.New("arithmetic overflow")
)

// IsRouteLocal reports whether err only disqualifies the route it was raised
// for in the current cycle.
func IsRouteLocal(err error) bool {
	return errors.Is(err, ErrInsufficientLiquidity) ||
		errors.Is(err, ErrInvalidDirection) ||
		errors.Is(err, ErrNoViableAmount)
}
