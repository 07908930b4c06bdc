package opt

import (
	"context"
	"fmt"
	"math"

	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// BBStrategy selects how the Barzilai-Borwein step is computed from the
// secant pair (S, Y).
type BBStrategy int

const (
	// BBDirect uses <S, S> / <S, Y>.
	BBDirect BBStrategy = iota
	// BBInverse uses <S, Y> / <Y, Y>.
	BBInverse
	// BBAlternate uses BBDirect on even iterations and BBInverse on odd ones.
	BBAlternate
)

func (s BBStrategy) String() string {
	switch s {
	case BBDirect:
		return "direct"
	case BBInverse:
		return "inverse"
	case BBAlternate:
		return "alternate"
	default:
		return fmt.Sprintf("BBStrategy(%d)", int(s))
	}
}

// ParseBBStrategy accepts "direct", "inverse" or "alternate".
func ParseBBStrategy(s string) (BBStrategy, error) {
	for _, st := range []BBStrategy{BBDirect, BBInverse, BBAlternate} {
		if st.String() == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown Barzilai-Borwein strategy %q", s)
}

// BarzilaiBorweinConfig configures BarzilaiBorwein.
type BarzilaiBorweinConfig struct {
	Config
	LambdaMax float64
	LambdaMin float64
	Lambda0   float64
	Strategy  BBStrategy
	// LineSearch is the non-monotone line search used along -lambda*grad.
	LineSearch NonMonotoneConfig
}

func DefaultBarzilaiBorweinConfig() BarzilaiBorweinConfig {
	return BarzilaiBorweinConfig{
		Config:     DefaultConfig(),
		LambdaMax:  1e3,
		LambdaMin:  1e-3,
		Lambda0:    1e-1,
		Strategy:   BBDirect,
		LineSearch: DefaultNonMonotoneConfig(),
	}
}

// BarzilaiBorwein is the Riemannian Barzilai-Borwein gradient method with a
// non-monotone line search. It returns the best point it visited.
type BarzilaiBorwein struct {
	cfg BarzilaiBorweinConfig
}

func NewBarzilaiBorwein(cfg BarzilaiBorweinConfig) (*BarzilaiBorwein, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case !(cfg.LambdaMin > 0):
		return nil, &problem.ConfigurationError{Field: "LambdaMin", Reason: "must be positive"}
	case !(cfg.LambdaMax >= cfg.LambdaMin):
		return nil, &problem.ConfigurationError{Field: "LambdaMax", Reason: "must not be smaller than LambdaMin"}
	case !(cfg.Lambda0 > 0):
		return nil, &problem.ConfigurationError{Field: "Lambda0", Reason: "must be positive"}
	}
	switch cfg.Strategy {
	case BBDirect, BBInverse, BBAlternate:
	default:
		return nil, &problem.ConfigurationError{Field: "Strategy", Reason: "unknown strategy " + cfg.Strategy.String()}
	}
	if err := cfg.LineSearch.validate(); err != nil {
		return nil, fmt.Errorf("line search: %w", err)
	}
	return &BarzilaiBorwein{cfg: cfg}, nil
}

func (b *BarzilaiBorwein) Name() string { return "barzilai-borwein" }

func (b *BarzilaiBorwein) Solve(ctx context.Context, p *problem.Problem, x0 value.Value) (*Result, error) {
	if err := requireGradient(p, b.Name()); err != nil {
		return nil, err
	}
	params := map[string]any{
		"lambda_max": b.cfg.LambdaMax,
		"lambda_min": b.cfg.LambdaMin,
		"lambda0":    b.cfg.Lambda0,
		"strategy":   b.cfg.Strategy.String(),
	}
	r := newRun(ctx, b.Name(), b.cfg.Config, p, params, []string{"gradnorm", "stepsize", "lambda"})
	x, err := r.initialPoint(x0)
	if err != nil {
		return nil, err
	}
	m := p.Manifold()
	ls := NewNonMonotone(b.cfg.LineSearch)

	cost := r.cost(x)
	grad := p.Grad(x)
	gradNorm := m.Norm(x, grad)
	bestX, bestCost := x, cost

	lambda := b.cfg.Lambda0
	stepSize := math.Inf(1)
	for iter := 0; ; iter++ {
		extra := map[string]float64{"gradnorm": gradNorm, "stepsize": stepSize, "lambda": lambda}
		r.record(iter, x, cost, extra)

		if math.IsNaN(cost) || !value.IsFinite(grad) {
			return r.finish(bestX, bestCost, r.stop(StopNumericalFailure, "Terminated - non-finite cost or gradient after %d iterations.", iter), iter, extra), nil
		}
		if stop := r.check(iter, gradNorm, stepSize); stop != nil {
			return r.finish(bestX, bestCost, stop, iter, extra), nil
		}

		desc := value.Scale(-lambda, grad)
		res := ls.Search(r.cost, m, x, desc, cost, -lambda*gradNorm*gradNorm)
		if res.Failed {
			return r.finish(bestX, bestCost, r.stop(StopLineSearchFailure, "Terminated - line search found no decrease after %d iterations.", iter), iter, extra), nil
		}
		newx := res.X
		newGrad := p.Grad(newx)

		y := value.Sub(newGrad, m.Transp(x, newx, grad))
		s := m.Transp(x, newx, value.Scale(res.Alpha, desc))
		lambda = b.step(m, newx, s, y, iter)

		x, cost, stepSize = newx, res.Cost, res.StepSize
		grad, gradNorm = newGrad, m.Norm(newx, newGrad)
		if cost < bestCost {
			bestX, bestCost = x, cost
		}
	}
}

// step returns the next Barzilai-Borwein step, always within
// [LambdaMin, LambdaMax].
func (b *BarzilaiBorwein) step(m manifold.Manifold, x, s, y value.Value, iter int) float64 {
	sy := m.Inner(x, s, y)

	var num, den float64
	switch b.strategyAt(iter) {
	case BBDirect:
		num, den = m.Inner(x, s, s), sy
		if !(den > 0) {
			return b.cfg.LambdaMax
		}
	case BBInverse:
		num, den = sy, m.Inner(x, y, y)
		if !(num > 0) {
			return b.cfg.LambdaMax
		}
	}
	return clip(num/den, b.cfg.LambdaMin, b.cfg.LambdaMax)
}

func (b *BarzilaiBorwein) strategyAt(iter int) BBStrategy {
	switch b.cfg.Strategy {
	case BBAlternate:
		if iter%2 == 0 {
			return BBDirect
		}
		return BBInverse
	default:
		return b.cfg.Strategy
	}
}

// clip limits v to [lo, hi]; NaN maps to hi.
func clip(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return hi
	}
	return math.Min(hi, math.Max(lo, v))
}
