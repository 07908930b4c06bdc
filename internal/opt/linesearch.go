package opt

import (
	"fmt"
	"math"

	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// LineSearchResult is the step a line search settled on.
type LineSearchResult struct {
	// StepSize is the length of the accepted step, alpha * |d|.
	StepSize float64
	// Alpha is the accepted multiple of the search direction.
	Alpha float64
	X     value.Value
	Cost  float64
	// CostEvals counts the cost evaluations spent by this search.
	CostEvals int
	// Failed is set when no step decreased the cost; X is then the
	// starting point and StepSize is zero.
	Failed bool
}

// LineSearch picks a step along a descent direction d at x, given the cost
// f0 at x and the directional derivative df0 = <grad f(x), d> < 0.
// Line searches may keep state between calls within one run.
type LineSearch interface {
	Search(cost func(value.Value) float64, m manifold.Manifold, x, d value.Value, f0, df0 float64) LineSearchResult
}

// LineSearchFactory creates a fresh line search for each Solve call.
type LineSearchFactory func() LineSearch

// armijo backtracks from alpha until cost(Retr(x, alpha d)) <= ref + c alpha df0
// or maxIter evaluations are spent.
func armijo(cost func(value.Value) float64, m manifold.Manifold, x, d value.Value, ref, df0, alpha, contraction, c float64, maxIter int) (float64, value.Value, float64, int) {
	newx := m.Retr(x, value.Scale(alpha, d))
	newf := cost(newx)
	evals := 1
	for (newf > ref+c*alpha*df0 || math.IsNaN(newf)) && evals <= maxIter {
		alpha *= contraction
		newx = m.Retr(x, value.Scale(alpha, d))
		newf = cost(newx)
		evals++
	}
	return alpha, newx, newf, evals
}

func lineSearchResult(x value.Value, f0, normD, alpha float64, newx value.Value, newf float64, evals int) LineSearchResult {
	if newf > f0 || math.IsNaN(newf) {
		return LineSearchResult{X: x, Cost: f0, CostEvals: evals, Failed: true}
	}
	return LineSearchResult{
		StepSize:  alpha * normD,
		Alpha:     alpha,
		X:         newx,
		Cost:      newf,
		CostEvals: evals,
	}
}

// BackTrackingConfig holds the parameters of BackTracking.
type BackTrackingConfig struct {
	ContractionFactor  float64
	Optimism           float64
	SufficientDecrease float64
	MaxIterations      int
	InitialStepSize    float64
}

func DefaultBackTrackingConfig() BackTrackingConfig {
	return BackTrackingConfig{
		ContractionFactor:  0.5,
		Optimism:           2,
		SufficientDecrease: 1e-4,
		MaxIterations:      25,
		InitialStepSize:    1,
	}
}

func (c BackTrackingConfig) validate() error {
	return validateSearch(c.ContractionFactor, c.SufficientDecrease, c.MaxIterations, c.InitialStepSize)
}

func validateSearch(contraction, suff float64, maxIter int, initial float64) error {
	switch {
	case contraction <= 0 || contraction >= 1:
		return &problem.ConfigurationError{Field: "ContractionFactor", Reason: fmt.Sprintf("must lie in (0, 1), got %g", contraction)}
	case suff <= 0 || suff >= 1:
		return &problem.ConfigurationError{Field: "SufficientDecrease", Reason: fmt.Sprintf("must lie in (0, 1), got %g", suff)}
	case maxIter <= 0:
		return &problem.ConfigurationError{Field: "MaxIterations", Reason: "must be positive"}
	case initial <= 0:
		return &problem.ConfigurationError{Field: "InitialStepSize", Reason: "must be positive"}
	}
	return nil
}

// BackTracking is an Armijo back-tracking line search. Its first trial step
// extrapolates the decrease achieved by the previous call.
type BackTracking struct {
	cfg   BackTrackingConfig
	oldf0 float64
	used  bool
}

func NewBackTracking(cfg BackTrackingConfig) *BackTracking {
	return &BackTracking{cfg: cfg}
}

// BackTrackingFactory returns a factory for BackTracking line searches.
func BackTrackingFactory(cfg BackTrackingConfig) LineSearchFactory {
	return func() LineSearch { return NewBackTracking(cfg) }
}

func (b *BackTracking) Search(cost func(value.Value) float64, m manifold.Manifold, x, d value.Value, f0, df0 float64) LineSearchResult {
	normD := m.Norm(x, d)
	if normD == 0 {
		return LineSearchResult{X: x, Cost: f0, Failed: true}
	}
	alpha := b.cfg.InitialStepSize / normD
	if b.used {
		guess := 2 * (f0 - b.oldf0) / df0 * b.cfg.Optimism
		if guess > 0 && !math.IsInf(guess, 0) {
			alpha = guess
		}
	}
	b.oldf0 = f0
	b.used = true

	alpha, newx, newf, evals := armijo(cost, m, x, d, f0, df0, alpha, b.cfg.ContractionFactor, b.cfg.SufficientDecrease, b.cfg.MaxIterations)
	return lineSearchResult(x, f0, normD, alpha, newx, newf, evals)
}

// AdaptiveConfig holds the parameters of Adaptive.
type AdaptiveConfig struct {
	ContractionFactor  float64
	SufficientDecrease float64
	MaxIterations      int
	InitialStepSize    float64
}

func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		ContractionFactor:  0.5,
		SufficientDecrease: 0.5,
		MaxIterations:      10,
		InitialStepSize:    1,
	}
}

func (c AdaptiveConfig) validate() error {
	return validateSearch(c.ContractionFactor, c.SufficientDecrease, c.MaxIterations, c.InitialStepSize)
}

// Adaptive is a back-tracking line search that starts from the previously
// accepted alpha, doubled unless the previous search needed exactly one
// contraction.
type Adaptive struct {
	cfg      AdaptiveConfig
	oldAlpha float64
}

func NewAdaptive(cfg AdaptiveConfig) *Adaptive {
	return &Adaptive{cfg: cfg}
}

// AdaptiveFactory returns a factory for Adaptive line searches.
func AdaptiveFactory(cfg AdaptiveConfig) LineSearchFactory {
	return func() LineSearch { return NewAdaptive(cfg) }
}

func (a *Adaptive) Search(cost func(value.Value) float64, m manifold.Manifold, x, d value.Value, f0, df0 float64) LineSearchResult {
	normD := m.Norm(x, d)
	if normD == 0 {
		return LineSearchResult{X: x, Cost: f0, Failed: true}
	}
	alpha := a.oldAlpha
	if alpha <= 0 {
		alpha = a.cfg.InitialStepSize / normD
	}

	alpha, newx, newf, evals := armijo(cost, m, x, d, f0, df0, alpha, a.cfg.ContractionFactor, a.cfg.SufficientDecrease, a.cfg.MaxIterations)
	res := lineSearchResult(x, f0, normD, alpha, newx, newf, evals)

	if evals == 2 {
		a.oldAlpha = res.Alpha
	} else {
		a.oldAlpha = 2 * res.Alpha
	}
	return res
}

// NonMonotoneConfig holds the parameters of NonMonotone.
type NonMonotoneConfig struct {
	ContractionFactor  float64
	SufficientDecrease float64
	MaxIterations      int
	// InitialStepSize is the first trial alpha; the direction is assumed to
	// be scaled already.
	InitialStepSize float64
	// Window is the number of recent costs the Armijo test compares against.
	Window int
}

func DefaultNonMonotoneConfig() NonMonotoneConfig {
	return NonMonotoneConfig{
		ContractionFactor:  0.5,
		SufficientDecrease: 1e-4,
		MaxIterations:      25,
		InitialStepSize:    1,
		Window:             10,
	}
}

func (c NonMonotoneConfig) validate() error {
	if c.Window <= 0 {
		return &problem.ConfigurationError{Field: "Window", Reason: "must be positive"}
	}
	return validateSearch(c.ContractionFactor, c.SufficientDecrease, c.MaxIterations, c.InitialStepSize)
}

// NonMonotone is an Armijo line search against the largest of the last
// Window costs, so single steps may increase the cost. When the search is
// exhausted the step is only accepted if it does not increase the cost.
type NonMonotone struct {
	cfg     NonMonotoneConfig
	history []float64
}

func NewNonMonotone(cfg NonMonotoneConfig) *NonMonotone {
	return &NonMonotone{cfg: cfg}
}

// NonMonotoneFactory returns a factory for NonMonotone line searches.
func NonMonotoneFactory(cfg NonMonotoneConfig) LineSearchFactory {
	return func() LineSearch { return NewNonMonotone(cfg) }
}

func (n *NonMonotone) push(f float64) {
	n.history = append(n.history, f)
	if len(n.history) > n.cfg.Window {
		n.history = n.history[len(n.history)-n.cfg.Window:]
	}
}

func (n *NonMonotone) Search(cost func(value.Value) float64, m manifold.Manifold, x, d value.Value, f0, df0 float64) LineSearchResult {
	n.push(f0)
	ref := n.history[0]
	for _, f := range n.history[1:] {
		ref = math.Max(ref, f)
	}

	normD := m.Norm(x, d)
	c := n.cfg.SufficientDecrease
	alpha, newx, newf, evals := armijo(cost, m, x, d, ref, df0, n.cfg.InitialStepSize, n.cfg.ContractionFactor, c, n.cfg.MaxIterations)

	if newf <= ref+c*alpha*df0 {
		return LineSearchResult{StepSize: alpha * normD, Alpha: alpha, X: newx, Cost: newf, CostEvals: evals}
	}
	return lineSearchResult(x, f0, normD, alpha, newx, newf, evals)
}
