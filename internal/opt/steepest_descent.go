package opt

import (
	"context"
	"math"

	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// SteepestDescentConfig configures SteepestDescent.
type SteepestDescentConfig struct {
	Config
	// LineSearch creates the line search; nil selects BackTracking.
	LineSearch LineSearchFactory
}

func DefaultSteepestDescentConfig() SteepestDescentConfig {
	return SteepestDescentConfig{
		Config:     DefaultConfig(),
		LineSearch: BackTrackingFactory(DefaultBackTrackingConfig()),
	}
}

// SteepestDescent moves along the negative Riemannian gradient.
type SteepestDescent struct {
	cfg SteepestDescentConfig
}

func NewSteepestDescent(cfg SteepestDescentConfig) (*SteepestDescent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.LineSearch == nil {
		cfg.LineSearch = BackTrackingFactory(DefaultBackTrackingConfig())
	}
	return &SteepestDescent{cfg: cfg}, nil
}

func (s *SteepestDescent) Name() string { return "steepest-descent" }

func (s *SteepestDescent) Solve(ctx context.Context, p *problem.Problem, x0 value.Value) (*Result, error) {
	if err := requireGradient(p, s.Name()); err != nil {
		return nil, err
	}
	r := newRun(ctx, s.Name(), s.cfg.Config, p, nil, []string{"gradnorm", "stepsize"})
	x, err := r.initialPoint(x0)
	if err != nil {
		return nil, err
	}
	m := p.Manifold()
	ls := s.cfg.LineSearch()

	cost := r.cost(x)
	stepSize := math.Inf(1)
	for iter := 0; ; iter++ {
		grad := p.Grad(x)
		gradNorm := m.Norm(x, grad)
		extra := map[string]float64{"gradnorm": gradNorm, "stepsize": stepSize}
		r.record(iter, x, cost, extra)

		if math.IsNaN(cost) || !value.IsFinite(grad) {
			return r.finish(x, cost, r.stop(StopNumericalFailure, "Terminated - non-finite cost or gradient after %d iterations.", iter), iter, extra), nil
		}
		if stop := r.check(iter, gradNorm, stepSize); stop != nil {
			return r.finish(x, cost, stop, iter, extra), nil
		}

		res := ls.Search(r.cost, m, x, value.Scale(-1, grad), cost, -gradNorm*gradNorm)
		if res.Failed {
			return r.finish(x, cost, r.stop(StopLineSearchFailure, "Terminated - line search found no decrease after %d iterations.", iter), iter, extra), nil
		}
		x, cost, stepSize = res.X, res.Cost, res.StepSize
	}
}
