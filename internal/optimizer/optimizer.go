// Package optimizer finds the input amount that maximizes the exact integer
// profit of a route.
package optimizer

import (
	"context"
	"fmt"
	"math/bits"
	"strings"

	"github.com/alanyoungcy/arbengine/internal/domain"
)

// Method selects the one-dimensional search strategy.
type Method string

const (
	MethodTernary       Method = "ternary"
	MethodGoldenSection Method = "golden_section"
	MethodBrent         Method = "brent_method"
)

// Default search parameters.
const (
	DefaultMinAmountIn  uint64 = 50_000
	DefaultTolerance    uint64 = 1
	defaultTernaryIters        = 200
	defaultGoldenIters         = 128
	defaultBrentIters          = 100
)

// ParseMethod accepts the configured method names and a few aliases.
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ternary", "ternary_search":
		return MethodTernary, nil
	case "golden_section", "golden", "golden_section_search":
		return MethodGoldenSection, nil
	case "brent_method", "brent":
		return MethodBrent, nil
	default:
		return "", fmt.Errorf("optimizer: unknown method %q", s)
	}
}

// Config holds the per-route optimization settings.
type Config struct {
	Method        Method
	BaseAmount    uint64
	AmountPercent uint64
	MinAmountIn   uint64
	Tolerance     uint64
	MaxIterations int
	// HopSlippageBps haircuts every hop's output during evaluation.
	HopSlippageBps uint32
}

// Bounds is the closed amount interval searched.
type Bounds struct {
	Lower uint64
	Upper uint64
}

// Result is the best amount found for a route.
type Result struct {
	Amount      uint64
	Output      uint64
	Profit      uint64
	Iterations  int
	Evaluations int
	Converged   bool
	Method      Method
	Versions    []uint64
}

// Optimizer runs the configured strategy over route quote chains. It holds
// no per-route state and is safe for concurrent use.
type Optimizer struct {
	cfg Config
}

// New validates cfg and fills in defaults.
func New(cfg Config) (*Optimizer, error) {
	if cfg.Method == "" {
		cfg.Method = MethodGoldenSection
	}
	if _, err := ParseMethod(string(cfg.Method)); err != nil {
		return nil, err
	}
	if cfg.AmountPercent == 0 || cfg.AmountPercent > 100 {
		return nil, fmt.Errorf("optimizer: amount percent %d outside 1..100", cfg.AmountPercent)
	}
	if cfg.Tolerance == 0 {
		cfg.Tolerance = DefaultTolerance
	}
	if cfg.MaxIterations <= 0 {
		switch cfg.Method {
		case MethodTernary:
			cfg.MaxIterations = defaultTernaryIters
		case MethodGoldenSection:
			cfg.MaxIterations = defaultGoldenIters
		default:
			cfg.MaxIterations = defaultBrentIters
		}
	}
	return &Optimizer{cfg: cfg}, nil
}

// Method returns the configured search method.
func (o *Optimizer) Method() Method { return o.cfg.Method }

func (o *Optimizer) strategy() Strategy {
	switch o.cfg.Method {
	case MethodTernary:
		return ternary{}
	case MethodBrent:
		return newBrent(o.cfg.Tolerance)
	default:
		return &golden{}
	}
}

// Bounds derives the search interval for chain: the configured share of the
// base amount, clipped by the liquidity of every hop.
func (o *Optimizer) Bounds(c *Chain) Bounds {
	hi, lo := bits.Mul64(o.cfg.BaseAmount, o.cfg.AmountPercent)
	limit, _ := bits.Div64(hi, lo, 100)
	return Bounds{Lower: o.cfg.MinAmountIn, Upper: c.UpperBound(limit)}
}

// Optimize maximizes the profit of route against the venues in src.
func (o *Optimizer) Optimize(ctx context.Context, route domain.Route, src VenueSource) (Result, error) {
	c, err := NewChain(route, src, o.cfg.HopSlippageBps)
	if err != nil {
		return Result{}, err
	}
	return o.OptimizeChain(ctx, c, o.Bounds(c))
}

// OptimizeChain maximizes the profit of c within b.
func (o *Optimizer) OptimizeChain(ctx context.Context, c *Chain, b Bounds) (Result, error) {
	if b.Upper <= b.Lower {
		return Result{}, fmt.Errorf("optimizer: bounds [%d, %d]: %w", b.Lower, b.Upper, domain.ErrNoViableAmount)
	}
	sr, err := Search(ctx, c.Profit, b.Lower, b.Upper, o.strategy(), SearchOptions{
		Tolerance:     o.cfg.Tolerance,
		MaxIterations: o.cfg.MaxIterations,
	})
	if err != nil {
		return Result{}, err
	}
	out, err := c.Output(sr.Best.X)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Amount:      sr.Best.X,
		Output:      out,
		Profit:      uint64(sr.Best.Profit),
		Iterations:  sr.Iterations,
		Evaluations: sr.Evaluations,
		Converged:   sr.Converged,
		Method:      o.cfg.Method,
		Versions:    c.Versions(),
	}, nil
}
