package optimizer

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Unviable is the score of an amount the route cannot absorb.
const Unviable int64 = math.MinInt64 / 4

// scanWidth is the bracket width below which every integer is evaluated.
const scanWidth = 64

// Objective returns the profit of trading amount x. Route-local errors mark x
// as unviable; any other error aborts the search.
type Objective func(x uint64) (int64, error)

// Point is one evaluated amount.
type Point struct {
	X      uint64
	Profit int64
}

// Evaluator caches objective values and tracks the best point seen. It is
// shared by the skeleton and the strategy of a single search.
type Evaluator struct {
	f     Objective
	cache map[uint64]int64
	best  Point
	found bool
	evals int
	err   error
}

func newEvaluator(f Objective) *Evaluator {
	return &Evaluator{f: f, cache: make(map[uint64]int64, 64)}
}

// Eval returns f(x), or Unviable.
func (e *Evaluator) Eval(x uint64) int64 {
	if v, ok := e.cache[x]; ok {
		return v
	}
	v, err := e.f(x)
	e.evals++
	if err != nil {
		if !domain.IsRouteLocal(err) && e.err == nil {
			e.err = err
		}
		v = Unviable
	}
	e.cache[x] = v
	if v > Unviable && (!e.found || v > e.best.Profit || (v == e.best.Profit && x < e.best.X)) {
		e.best = Point{X: x, Profit: v}
		e.found = true
	}
	return v
}

// Best returns the best viable point evaluated so far.
func (e *Evaluator) Best() (Point, bool) { return e.best, e.found }

// Strategy picks evaluation points inside the current bracket. Step must
// return a bracket contained in the one it was given.
type Strategy interface {
	Name() string
	Start(ev *Evaluator, lo, hi uint64)
	Step(ev *Evaluator, lo, hi uint64) (uint64, uint64)
}

// SearchOptions bound a single search.
type SearchOptions struct {
	Tolerance     uint64
	MaxIterations int
}

// SearchResult is the outcome of Search.
type SearchResult struct {
	Best        Point
	Iterations  int
	Evaluations int
	Converged   bool
}

// Search maximizes f over [lo, hi] with strategy s. Both bounds are evaluated
// first, so the result is never worse than either bound. Once the bracket is
// at most 64 units wide every remaining integer is evaluated. Hitting the
// iteration cap is not an error; the best point seen is returned.
func Search(ctx context.Context, f Objective, lo, hi uint64, s Strategy, opts SearchOptions) (SearchResult, error) {
	if hi <= lo {
		return SearchResult{}, fmt.Errorf("optimizer: empty bracket [%d, %d]: %w", lo, hi, domain.ErrNoViableAmount)
	}
	stopWidth := max(opts.Tolerance, scanWidth)

	ev := newEvaluator(f)
	ev.Eval(lo)
	ev.Eval(hi)
	if ev.err != nil {
		return SearchResult{}, ev.err
	}

	res := SearchResult{}
	s.Start(ev, lo, hi)
	for res.Iterations < opts.MaxIterations && hi-lo > stopWidth {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		nlo, nhi := s.Step(ev, lo, hi)
		res.Iterations++
		if ev.err != nil {
			return res, ev.err
		}
		if nlo < lo || nhi > hi || nlo > nhi {
			return res, fmt.Errorf("optimizer: %s widened bracket [%d, %d] to [%d, %d]", s.Name(), lo, hi, nlo, nhi)
		}
		lo, hi = nlo, nhi
	}
	if hi-lo <= scanWidth {
		for x := lo; x <= hi; x++ {
			ev.Eval(x)
			if ev.err != nil {
				return res, ev.err
			}
			if x == math.MaxUint64 {
				break
			}
		}
	}
	res.Converged = hi-lo <= stopWidth
	res.Evaluations = ev.evals

	best, ok := ev.Best()
	if !ok || best.Profit <= 0 {
		return res, domain.ErrNoViableAmount
	}
	res.Best = best
	return res, nil
}

// IsFatal reports whether err is an invariant violation that must abort the
// worker rather than skip the route.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrOverflow)
}

// interior maps a fraction of the bracket to an integer strictly inside it
// when the bracket allows.
func interior(lo, hi uint64, frac float64) uint64 {
	x := lo + uint64(math.Round(float64(hi-lo)*frac))
	if x <= lo {
		x = lo + 1
	}
	if x >= hi {
		x = hi - 1
	}
	return x
}
