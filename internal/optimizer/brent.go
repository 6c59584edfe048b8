package optimizer

import "math"

// brent combines parabolic interpolation through the three best points with
// golden-section fallback steps. It minimizes the negated profit on a float
// copy of the bracket; every candidate is rounded to an integer, moved at
// least one unit from the current best and clamped inside the bracket.
type brent struct {
	a, b       float64
	x, w, v    float64
	fx, fw, fv float64
	d, e       float64
	tol        float64
}

func newBrent(tolerance uint64) *brent {
	return &brent{tol: math.Max(1, float64(tolerance))}
}

func (*brent) Name() string { return string(MethodBrent) }

func (s *brent) Start(ev *Evaluator, lo, hi uint64) {
	s.a, s.b = float64(lo), float64(hi)
	x := interior(lo, hi, invPhi2)
	s.x, s.w, s.v = float64(x), float64(x), float64(x)
	fx := cost(ev, x)
	s.fx, s.fw, s.fv = fx, fx, fx
	s.d, s.e = 0, 0
}

func (s *brent) Step(ev *Evaluator, lo, hi uint64) (uint64, uint64) {
	s.a, s.b = math.Max(s.a, float64(lo)), math.Min(s.b, float64(hi))
	xm := 0.5 * (s.a + s.b)
	tol1 := s.tol
	tol2 := 2 * tol1

	golden := true
	if math.Abs(s.e) > tol1 {
		r := (s.x - s.w) * (s.fx - s.fv)
		q := (s.x - s.v) * (s.fx - s.fw)
		p := (s.x-s.v)*q - (s.x-s.w)*r
		q = 2 * (q - r)
		if q > 0 {
			p = -p
		}
		q = math.Abs(q)
		etemp := s.e
		s.e = s.d
		if q != 0 && math.Abs(p) < math.Abs(0.5*q*etemp) && p > q*(s.a-s.x) && p < q*(s.b-s.x) {
			s.d = p / q
			u := s.x + s.d
			if u-s.a < tol2 || s.b-u < tol2 {
				s.d = math.Copysign(tol1, xm-s.x)
			}
			golden = false
		}
	}
	if golden {
		if s.x >= xm {
			s.e = s.a - s.x
		} else {
			s.e = s.b - s.x
		}
		s.d = invPhi2 * s.e
	}

	u := s.x + s.d
	if math.Abs(s.d) < tol1 {
		u = s.x + math.Copysign(tol1, s.d)
	}
	ux := s.candidate(u)
	u = float64(ux)
	fu := cost(ev, ux)

	if fu <= s.fx {
		if u >= s.x {
			s.a = s.x
		} else {
			s.b = s.x
		}
		s.v, s.w, s.x = s.w, s.x, u
		s.fv, s.fw, s.fx = s.fw, s.fx, fu
	} else {
		if u < s.x {
			s.a = u
		} else {
			s.b = u
		}
		switch {
		case fu <= s.fw || s.w == s.x:
			s.v, s.w = s.w, u
			s.fv, s.fw = s.fw, fu
		case fu <= s.fv || s.v == s.x || s.v == s.w:
			s.v = u
			s.fv = fu
		}
	}
	return s.bracket(lo, hi)
}

// candidate rounds u to an integer at least one unit away from x and inside
// the bracket.
func (s *brent) candidate(u float64) uint64 {
	r := math.Round(u)
	if r == s.x {
		if u >= s.x {
			r = s.x + 1
		} else {
			r = s.x - 1
		}
	}
	r = math.Min(math.Max(r, s.a), s.b)
	if r == s.x {
		// x sits on a bracket edge; step inward instead.
		if s.x+1 <= s.b {
			r = s.x + 1
		} else {
			r = s.x - 1
		}
	}
	return uint64(r)
}

func (s *brent) bracket(lo, hi uint64) (uint64, uint64) {
	a := uint64(math.Ceil(s.a))
	b := uint64(math.Floor(s.b))
	a = max(a, lo)
	b = min(b, hi)
	if a > b {
		return lo, hi
	}
	return a, b
}

// cost is the minimized quantity: negated profit.
func cost(ev *Evaluator, x uint64) float64 {
	return -float64(ev.Eval(x))
}
