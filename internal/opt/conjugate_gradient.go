package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// BetaRule selects the conjugacy coefficient of ConjugateGradient.
type BetaRule int

const (
	FletcherReeves BetaRule = iota
	PolakRibiere
	HestenesStiefel
	HagerZhang
)

func (b BetaRule) String() string {
	switch b {
	case FletcherReeves:
		return "fletcher-reeves"
	case PolakRibiere:
		return "polak-ribiere"
	case HestenesStiefel:
		return "hestenes-stiefel"
	case HagerZhang:
		return "hager-zhang"
	default:
		return fmt.Sprintf("BetaRule(%d)", int(b))
	}
}

// ParseBetaRule accepts the names returned by BetaRule.String.
func ParseBetaRule(s string) (BetaRule, error) {
	for _, b := range []BetaRule{FletcherReeves, PolakRibiere, HestenesStiefel, HagerZhang} {
		if b.String() == s {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown beta rule %q", s)
}

// ConjugateGradientConfig configures ConjugateGradient.
type ConjugateGradientConfig struct {
	Config
	BetaRule BetaRule
	// OrthValue restarts with the (preconditioned) gradient when successive
	// gradients are less orthogonal than this; +Inf disables restarts.
	OrthValue float64
	// LineSearch creates the line search; nil selects Adaptive.
	LineSearch LineSearchFactory
}

func DefaultConjugateGradientConfig() ConjugateGradientConfig {
	return ConjugateGradientConfig{
		Config:     DefaultConfig(),
		BetaRule:   HestenesStiefel,
		OrthValue:  math.Inf(1),
		LineSearch: AdaptiveFactory(DefaultAdaptiveConfig()),
	}
}

// ConjugateGradient is the Riemannian nonlinear conjugate gradient method.
type ConjugateGradient struct {
	cfg ConjugateGradientConfig
}

func NewConjugateGradient(cfg ConjugateGradientConfig) (*ConjugateGradient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.BetaRule {
	case FletcherReeves, PolakRibiere, HestenesStiefel, HagerZhang:
	default:
		return nil, &problem.ConfigurationError{Field: "BetaRule", Reason: "unknown rule " + cfg.BetaRule.String()}
	}
	if cfg.OrthValue <= 0 || math.IsNaN(cfg.OrthValue) {
		return nil, &problem.ConfigurationError{Field: "OrthValue", Reason: "must be positive"}
	}
	if cfg.LineSearch == nil {
		cfg.LineSearch = AdaptiveFactory(DefaultAdaptiveConfig())
	}
	return &ConjugateGradient{cfg: cfg}, nil
}

func (c *ConjugateGradient) Name() string { return "conjugate-gradient" }

func (c *ConjugateGradient) Solve(ctx context.Context, p *problem.Problem, x0 value.Value) (*Result, error) {
	if err := requireGradient(p, c.Name()); err != nil {
		return nil, err
	}
	params := map[string]any{"beta_rule": c.cfg.BetaRule.String(), "orth_value": Float(c.cfg.OrthValue)}
	r := newRun(ctx, c.Name(), c.cfg.Config, p, params, []string{"gradnorm", "stepsize", "beta"})
	x, err := r.initialPoint(x0)
	if err != nil {
		return nil, err
	}
	m := p.Manifold()
	ls := c.cfg.LineSearch()

	cost := r.cost(x)
	grad := p.Grad(x)
	gradNorm := m.Norm(x, grad)
	pgrad := p.Precon(x, grad)
	gradPgrad := m.Inner(x, grad, pgrad)
	desc := value.Scale(-1, pgrad)

	stepSize := math.Inf(1)
	beta := 0.0
	for iter := 0; ; iter++ {
		extra := map[string]float64{"gradnorm": gradNorm, "stepsize": stepSize, "beta": beta}
		r.record(iter, x, cost, extra)

		if math.IsNaN(cost) || !value.IsFinite(grad) {
			return r.finish(x, cost, r.stop(StopNumericalFailure, "Terminated - non-finite cost or gradient after %d iterations.", iter), iter, extra), nil
		}
		if stop := r.check(iter, gradNorm, stepSize); stop != nil {
			return r.finish(x, cost, stop, iter, extra), nil
		}

		df0 := m.Inner(x, grad, desc)
		if df0 >= 0 {
			if p.Verbosity() >= 3 {
				slog.Info("Conjugate gradient got an ascent direction, resetting to steepest descent", "df0", df0)
			}
			desc = value.Scale(-1, pgrad)
			df0 = -gradPgrad
		}

		res := ls.Search(r.cost, m, x, desc, cost, df0)
		if res.Failed {
			return r.finish(x, cost, r.stop(StopLineSearchFailure, "Terminated - line search found no decrease after %d iterations.", iter), iter, extra), nil
		}
		newx := res.X
		newGrad := p.Grad(newx)
		newGradNorm := m.Norm(newx, newGrad)
		pNewGrad := p.Precon(newx, newGrad)
		newGradPNewGrad := m.Inner(newx, newGrad, pNewGrad)

		oldGrad := m.Transp(x, newx, grad)

		// A vanishing gradient leaves nothing to conjugate against.
		if newGradPNewGrad == 0 || math.Abs(m.Inner(newx, oldGrad, pNewGrad)/newGradPNewGrad) >= c.cfg.OrthValue {
			beta = 0
			desc = value.Scale(-1, pNewGrad)
		} else {
			transported := m.Transp(x, newx, desc)
			beta = c.beta(m, cgStep{
				x: x, newx: newx,
				pgrad: pgrad, gradPgrad: gradPgrad, gradNorm: gradNorm,
				newGrad: newGrad, oldGrad: oldGrad,
				pNewGrad: pNewGrad, newGradPNewGrad: newGradPNewGrad,
				desc: transported,
			})
			if math.IsNaN(beta) || math.IsInf(beta, 0) {
				beta = 0
			}
			desc = value.Lincomb(-1, pNewGrad, beta, transported)
		}

		x, cost, stepSize = newx, res.Cost, res.StepSize
		grad, gradNorm, pgrad, gradPgrad = newGrad, newGradNorm, pNewGrad, newGradPNewGrad
	}
}

// cgStep holds the quantities the beta rules need. desc is the previous
// direction already transported to newx.
type cgStep struct {
	x, newx         value.Value
	pgrad           value.Value
	gradPgrad       float64
	gradNorm        float64
	newGrad         value.Value
	oldGrad         value.Value
	pNewGrad        value.Value
	newGradPNewGrad float64
	desc            value.Value
}

func (c *ConjugateGradient) beta(m manifold.Manifold, s cgStep) float64 {
	inner := func(u, v value.Value) float64 { return m.Inner(s.newx, u, v) }

	switch c.cfg.BetaRule {
	case FletcherReeves:
		return s.newGradPNewGrad / s.gradPgrad
	case PolakRibiere:
		diff := value.Sub(s.newGrad, s.oldGrad)
		return math.Max(0, inner(s.pNewGrad, diff)/s.gradPgrad)
	case HestenesStiefel:
		diff := value.Sub(s.newGrad, s.oldGrad)
		den := inner(diff, s.desc)
		if den == 0 {
			return 1
		}
		return math.Max(0, inner(s.pNewGrad, diff)/den)
	case HagerZhang:
		diff := value.Sub(s.newGrad, s.oldGrad)
		pOldGrad := m.Transp(s.x, s.newx, s.pgrad)
		pDiff := value.Sub(s.pNewGrad, pOldGrad)
		den := inner(diff, s.desc)
		if den == 0 {
			return 0
		}
		num := inner(diff, s.pNewGrad) - 2*inner(diff, pDiff)*inner(s.desc, s.newGrad)/den
		descNorm := math.Sqrt(inner(s.desc, s.desc))
		etaHZ := -1 / (descNorm * math.Min(0.01, s.gradNorm))
		return math.Max(num/den, etaHZ)
	default:
		panic(fmt.Sprintf("opt: unhandled beta rule %v", c.cfg.BetaRule))
	}
}
