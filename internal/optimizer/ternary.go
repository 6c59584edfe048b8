package optimizer

// ternary discards the outer third that cannot hold the maximum.
type ternary struct{}

func (ternary) Name() string { return string(MethodTernary) }

func (ternary) Start(*Evaluator, uint64, uint64) {}

func (ternary) Step(ev *Evaluator, lo, hi uint64) (uint64, uint64) {
	third := (hi - lo) / 3
	m1, m2 := lo+third, hi-third
	if ev.Eval(m1) < ev.Eval(m2) {
		return m1, hi
	}
	return lo, m2
}
