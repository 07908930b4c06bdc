package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// TCGStop is the reason the truncated conjugate-gradient inner solve ended.
type TCGStop int

const (
	TCGNegativeCurvature TCGStop = iota
	TCGExceededTrustRegion
	TCGReachedTargetLinear
	TCGReachedTargetSuperlinear
	TCGMaxInnerIterations
	TCGModelIncreased
	TCGDiverged
)

func (s TCGStop) String() string {
	switch s {
	case TCGNegativeCurvature:
		return "negative curvature"
	case TCGExceededTrustRegion:
		return "exceeded trust region"
	case TCGReachedTargetLinear:
		return "reached target residual-kappa (linear)"
	case TCGReachedTargetSuperlinear:
		return "reached target residual-theta (superlinear)"
	case TCGMaxInnerIterations:
		return "maximum inner iterations"
	case TCGModelIncreased:
		return "model increased"
	case TCGDiverged:
		return "diverged"
	default:
		return fmt.Sprintf("TCGStop(%d)", int(s))
	}
}

// hitBoundary reports whether tCG stopped on the trust-region boundary.
func (s TCGStop) hitBoundary() bool {
	return s == TCGNegativeCurvature || s == TCGExceededTrustRegion
}

// TrustRegionsConfig configures TrustRegions. Zero values of MaxInner,
// DeltaBar and Delta0 are replaced by problem-dependent defaults.
type TrustRegionsConfig struct {
	Config
	// MinIterations delays the gradient-norm criterion.
	MinIterations int
	MinInner      int
	MaxInner      int
	Kappa         float64
	Theta         float64
	// RhoPrime is the acceptance threshold, in [0, 0.25).
	RhoPrime          float64
	RhoRegularization float64
	UseRand           bool
	DeltaBar          float64
	Delta0            float64
	// MinDelta stops the solve when the radius collapses below it.
	MinDelta float64
}

func DefaultTrustRegionsConfig() TrustRegionsConfig {
	return TrustRegionsConfig{
		Config:            DefaultConfig(),
		MinIterations:     3,
		MinInner:          1,
		Kappa:             0.1,
		Theta:             1,
		RhoPrime:          0.1,
		RhoRegularization: 1e3,
		MinDelta:          1e-12,
	}
}

// TrustRegions is the Riemannian trust-region method with a truncated
// conjugate-gradient subproblem solver.
type TrustRegions struct {
	cfg TrustRegionsConfig
}

func NewTrustRegions(cfg TrustRegionsConfig) (*TrustRegions, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bad := func(field, reason string) error {
		return &problem.ConfigurationError{Field: field, Reason: reason}
	}
	switch {
	case cfg.RhoPrime < 0 || cfg.RhoPrime >= 0.25 || math.IsNaN(cfg.RhoPrime):
		return nil, bad("RhoPrime", fmt.Sprintf("must lie in [0, 0.25), got %g", cfg.RhoPrime))
	case !(cfg.Kappa > 0 && cfg.Kappa < 1):
		return nil, bad("Kappa", fmt.Sprintf("must lie in (0, 1), got %g", cfg.Kappa))
	case !(cfg.Theta > 0):
		return nil, bad("Theta", "must be positive")
	case cfg.RhoRegularization < 0:
		return nil, bad("RhoRegularization", "must not be negative")
	case cfg.MinIterations < 0:
		return nil, bad("MinIterations", "must not be negative")
	case cfg.MinInner < 0:
		return nil, bad("MinInner", "must not be negative")
	case cfg.MaxInner < 0:
		return nil, bad("MaxInner", "must not be negative")
	case cfg.DeltaBar < 0:
		return nil, bad("DeltaBar", "must not be negative")
	case cfg.Delta0 < 0:
		return nil, bad("Delta0", "must not be negative")
	case cfg.DeltaBar > 0 && cfg.Delta0 > cfg.DeltaBar:
		return nil, bad("Delta0", "must not exceed DeltaBar")
	case cfg.MinDelta < 0:
		return nil, bad("MinDelta", "must not be negative")
	}
	return &TrustRegions{cfg: cfg}, nil
}

func (t *TrustRegions) Name() string { return "trust-regions" }

// tcgResult is the outcome of one truncated-CG solve.
type tcgResult struct {
	eta, heta value.Value
	inner     int
	stop      TCGStop
}

func (t *TrustRegions) Solve(ctx context.Context, p *problem.Problem, x0 value.Value) (*Result, error) {
	if err := requireGradient(p, t.Name()); err != nil {
		return nil, err
	}
	if err := p.RequireHessian(); err != nil {
		return nil, fmt.Errorf("%s: %w", t.Name(), err)
	}
	m := p.Manifold()

	cfg := t.cfg
	if cfg.MaxInner == 0 {
		cfg.MaxInner = m.Dim()
	}
	if cfg.DeltaBar == 0 {
		cfg.DeltaBar = m.TypicalDist()
	}
	if cfg.Delta0 == 0 {
		cfg.Delta0 = cfg.DeltaBar / 8
	}

	params := map[string]any{
		"min_inner":          cfg.MinInner,
		"max_inner":          cfg.MaxInner,
		"kappa":              cfg.Kappa,
		"theta":              cfg.Theta,
		"rho_prime":          cfg.RhoPrime,
		"rho_regularization": cfg.RhoRegularization,
		"use_rand":           cfg.UseRand,
		"delta_bar":          cfg.DeltaBar,
		"delta0":             cfg.Delta0,
	}
	r := newRun(ctx, t.Name(), cfg.Config, p, params, []string{"gradnorm", "delta", "rho", "accepted", "inner", "stepsize"})
	x, err := r.initialPoint(x0)
	if err != nil {
		return nil, err
	}

	fx := r.cost(x)
	grad := p.Grad(x)
	gradNorm := m.Norm(x, grad)
	delta := cfg.Delta0

	rho, accepted, inner := math.NaN(), 1.0, 0.0
	stepSize := math.Inf(1)
	consecutivePlus, consecutiveMinus := 0, 0
	for iter := 0; ; iter++ {
		extra := map[string]float64{
			"gradnorm": gradNorm,
			"delta":    delta,
			"rho":      rho,
			"accepted": accepted,
			"inner":    inner,
			"stepsize": stepSize,
		}
		r.record(iter, x, fx, extra)

		if math.IsNaN(fx) || !value.IsFinite(grad) {
			return r.finish(x, fx, r.stop(StopNumericalFailure, "Terminated - non-finite cost or gradient after %d iterations.", iter), iter, extra), nil
		}
		checkedNorm := gradNorm
		if iter < cfg.MinIterations {
			checkedNorm = math.Inf(1)
		}
		if stop := r.check(iter, checkedNorm, stepSize); stop != nil {
			return r.finish(x, fx, stop, iter, extra), nil
		}
		if delta < cfg.MinDelta {
			return r.finish(x, fx, r.stop(StopMinTrustRadius, "Terminated - trust region radius %g below %g after %d iterations.", delta, cfg.MinDelta, iter), iter, extra), nil
		}

		var eta value.Value
		if cfg.UseRand {
			eta = value.Scale(1e-6, m.RandVec(r.rng, x))
			for m.Norm(x, eta) > delta {
				eta = value.Scale(math.Sqrt(math.Sqrt(epsilon)), eta)
			}
		} else {
			eta = m.ZeroVec(x)
		}

		tcg := t.truncatedCG(p, cfg, x, grad, eta, delta)
		if tcg.stop == TCGDiverged {
			return r.finish(x, fx, r.stop(StopNumericalFailure, "Terminated - truncated CG diverged after %d iterations.", iter), iter, extra), nil
		}
		eta, heta := tcg.eta, tcg.heta

		if cfg.UseRand {
			eta, heta = cauchySafeguard(p, x, fx, grad, gradNorm, delta, eta, heta)
		}

		xProp := m.Retr(x, eta)
		fxProp := r.cost(xProp)

		rhoNum := fx - fxProp
		rhoDen := -m.Inner(x, eta, value.Lincomb(1, grad, 0.5, heta))
		reg := math.Max(1, math.Abs(fx)) * epsilon * cfg.RhoRegularization
		rhoNum += reg
		rhoDen += reg
		modelDecreased := rhoDen >= 0
		rho = rhoNum / rhoDen

		switch {
		case rho < 0.25 || !modelDecreased || math.IsNaN(rho):
			delta /= 4
			consecutivePlus = 0
			consecutiveMinus++
			if consecutiveMinus >= 5 && p.Verbosity() >= 1 {
				consecutiveMinus = -math.MaxInt32
				slog.Warn("Trust region radius shrank 5 times in a row; the Hessian or the retraction may be inaccurate",
					"solver", t.Name(), "iter", iter, "delta", delta)
			}
		case rho > 0.75 && tcg.stop.hitBoundary():
			delta = math.Min(2*delta, cfg.DeltaBar)
			consecutiveMinus = 0
			consecutivePlus++
			if consecutivePlus >= 5 && p.Verbosity() >= 1 {
				consecutivePlus = -math.MaxInt32
				slog.Warn("Trust region radius grew 5 times in a row; consider a larger DeltaBar",
					"solver", t.Name(), "iter", iter, "delta", delta, "delta_bar", cfg.DeltaBar)
			}
		default:
			consecutivePlus, consecutiveMinus = 0, 0
		}

		inner = float64(tcg.inner)
		if modelDecreased && rho > cfg.RhoPrime {
			accepted = 1
			stepSize = m.Norm(x, eta)
			x, fx = xProp, fxProp
			grad = p.Grad(x)
			gradNorm = m.Norm(x, grad)
		} else {
			accepted = 0
		}

		if p.Verbosity() >= 2 {
			slog.Debug("Trust region step",
				"iter", iter,
				"accepted", accepted == 1,
				"rho", rho,
				"delta", delta,
				"inner", tcg.inner,
				"tcg_stop", tcg.stop.String(),
			)
		}
	}
}

// epsilon is the spacing of float64 values around 1.
var epsilon = math.Nextafter(1, 2) - 1

// truncatedCG approximately minimizes the model
// m(eta) = <grad, eta> + 1/2 <eta, Hess eta> within ||eta|| <= delta,
// starting from eta.
func (t *TrustRegions) truncatedCG(p *problem.Problem, cfg TrustRegionsConfig, x, grad, eta value.Value, delta float64) tcgResult {
	m := p.Manifold()
	inner := func(u, v value.Value) float64 { return m.Inner(x, u, v) }
	model := func(eta, heta value.Value) float64 {
		return inner(eta, grad) + 0.5*inner(eta, heta)
	}

	var heta, r value.Value
	var ePe, modelValue float64
	if cfg.UseRand {
		heta = p.Hess(x, eta)
		r = value.Add(grad, heta)
		ePe = inner(eta, eta)
		modelValue = model(eta, heta)
	} else {
		heta = m.ZeroVec(x)
		r = grad.Clone()
	}

	normR0 := math.Sqrt(inner(r, r))
	if normR0 == 0 {
		return tcgResult{eta: eta, heta: heta, stop: TCGReachedTargetLinear}
	}

	z := p.Precon(x, r)
	zr := inner(z, r)
	dPd := zr
	d := value.Scale(-1, z)
	ePd := 0.0
	if cfg.UseRand {
		ePd = inner(eta, d)
	}

	stop := TCGMaxInnerIterations
	j := 0
	for j < cfg.MaxInner {
		j++
		hd := p.Hess(x, d)
		dHd := inner(d, hd)
		if math.IsNaN(dHd) || math.IsInf(dHd, 0) {
			return tcgResult{eta: eta, heta: heta, inner: j, stop: TCGDiverged}
		}

		alpha := zr / dHd
		ePeNew := ePe + 2*alpha*ePd + alpha*alpha*dPd

		if dHd <= 0 || ePeNew >= delta*delta {
			tau := (-ePd + math.Sqrt(ePd*ePd+dPd*(delta*delta-ePe))) / dPd
			eta = value.AddScaled(eta, tau, d)
			heta = value.AddScaled(heta, tau, hd)
			if dHd <= 0 {
				stop = TCGNegativeCurvature
			} else {
				stop = TCGExceededTrustRegion
			}
			break
		}
		ePe = ePeNew

		newEta := value.AddScaled(eta, alpha, d)
		newHeta := value.AddScaled(heta, alpha, hd)
		newModelValue := model(newEta, newHeta)
		if newModelValue >= modelValue {
			stop = TCGModelIncreased
			break
		}
		eta, heta, modelValue = newEta, newHeta, newModelValue

		r = value.AddScaled(r, alpha, hd)
		normR := math.Sqrt(inner(r, r))
		if j >= cfg.MinInner && normR <= normR0*math.Min(math.Pow(normR0, cfg.Theta), cfg.Kappa) {
			if cfg.Kappa < math.Pow(normR0, cfg.Theta) {
				stop = TCGReachedTargetLinear
			} else {
				stop = TCGReachedTargetSuperlinear
			}
			break
		}

		z = p.Precon(x, r)
		zrOld := zr
		zr = inner(z, r)
		beta := zr / zrOld
		d = m.Proj(x, value.Lincomb(-1, z, beta, d))
		ePd = beta * (ePd + alpha*dPd)
		dPd = zr + beta*beta*dPd
	}
	return tcgResult{eta: eta, heta: heta, inner: j, stop: stop}
}

// cauchySafeguard replaces the tCG step by the Cauchy step when the latter
// achieves a lower model value.
func cauchySafeguard(p *problem.Problem, x value.Value, fx float64, grad value.Value, gradNorm, delta float64, eta, heta value.Value) (value.Value, value.Value) {
	m := p.Manifold()
	if gradNorm == 0 {
		return eta, heta
	}
	hg := p.Hess(x, grad)
	gHg := m.Inner(x, grad, hg)
	tau := 1.0
	if gHg > 0 {
		tau = math.Min(gradNorm*gradNorm*gradNorm/(delta*gHg), 1)
	}
	scale := -tau * delta / gradNorm
	etaC := value.Scale(scale, grad)
	hetaC := value.Scale(scale, hg)

	model := func(e, he value.Value) float64 {
		return fx + m.Inner(x, grad, e) + 0.5*m.Inner(x, he, e)
	}
	if model(etaC, hetaC) < model(eta, heta) {
		return etaC, hetaC
	}
	return eta, heta
}
