package optimizer

import "math"

var (
	invPhi  = (math.Sqrt(5) - 1) / 2 // 0.618...
	invPhi2 = 1 - invPhi             // 0.381...
)

// golden keeps two interior points at golden-ratio positions and reuses one
// of them each step.
type golden struct {
	c, d uint64
}

func (*golden) Name() string { return string(MethodGoldenSection) }

func (g *golden) Start(_ *Evaluator, lo, hi uint64) { g.place(lo, hi) }

func (g *golden) place(lo, hi uint64) {
	g.c = interior(lo, hi, invPhi2)
	g.d = interior(lo, hi, invPhi)
}

func (g *golden) Step(ev *Evaluator, lo, hi uint64) (uint64, uint64) {
	if ev.Eval(g.c) >= ev.Eval(g.d) {
		hi = g.d
		g.d = g.c
		g.c = interior(lo, hi, invPhi2)
	} else {
		lo = g.c
		g.c = g.d
		g.d = interior(lo, hi, invPhi)
	}
	// Rounding can collapse the reused point onto the new one.
	if !(lo < g.c && g.c < g.d && g.d < hi) {
		g.place(lo, hi)
	}
	return lo, hi
}
