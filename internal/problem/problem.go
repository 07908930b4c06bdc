// Package problem bundles a manifold with a compiled cost function and the
// derivatives a solver may ask for.
package problem

import (
	"log/slog"
	"math/rand"
	"sync"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// GradFunc returns a tangent vector at x.
type GradFunc func(x value.Value) value.Value

// HessFunc applies a (Hessian-like) linear operator at x to the tangent vector u.
type HessFunc func(x, u value.Value) value.Value

// Problem pairs a manifold with a cost function. It is immutable after New;
// derived gradient and Hessian callables are resolved once and cached.
type Problem struct {
	manifold  manifold.Manifold
	cost      *autodiff.Function
	verbosity int

	rgrad  GradFunc
	egrad  GradFunc
	rhess  HessFunc
	ehess  HessFunc
	precon HessFunc

	gradOnce sync.Once
	grad     GradFunc
	gradErr  error

	hessOnce sync.Once
	hess     HessFunc
	hessErr  error
}

// Option configures a Problem.
type Option func(*Problem)

// WithGradient supplies the Riemannian gradient directly.
func WithGradient(g GradFunc) Option {
	return func(p *Problem) { p.rgrad = g }
}

// WithEuclideanGradient supplies the Euclidean gradient; it is converted with
// the manifold's EGrad2RGrad.
func WithEuclideanGradient(g GradFunc) Option {
	return func(p *Problem) { p.egrad = g }
}

// WithHessian supplies the Riemannian Hessian-vector product directly.
func WithHessian(h HessFunc) Option {
	return func(p *Problem) { p.rhess = h }
}

// WithEuclideanHessian supplies the Euclidean Hessian-vector product; it is
// converted with the manifold's EHess2RHess.
func WithEuclideanHessian(h HessFunc) Option {
	return func(p *Problem) { p.ehess = h }
}

// WithPreconditioner sets a symmetric positive definite operator on the
// tangent space, used by conjugate gradient and trust regions.
func WithPreconditioner(h HessFunc) Option {
	return func(p *Problem) { p.precon = h }
}

// WithVerbosity sets how much the solvers log: 0 nothing, 1 start and stop,
// 2 and above every iteration.
func WithVerbosity(level int) Option {
	return func(p *Problem) { p.verbosity = level }
}

// New creates a Problem. The cost function must have been compiled for the
// shape of the manifold's points.
func New(m manifold.Manifold, cost *autodiff.Function, opts ...Option) (*Problem, error) {
	if m == nil {
		return nil, &ConfigurationError{Field: "Manifold", Reason: "cannot be nil"}
	}
	if cost == nil {
		return nil, &ConfigurationError{Field: "Cost", Reason: "cannot be nil"}
	}
	pointShape := value.ShapeOf(m.Rand(rand.New(rand.NewSource(0))))
	if !pointShape.Equal(cost.Shape()) {
		return nil, &ConfigurationError{
			Field:  "Cost",
			Reason: "compiled for " + cost.Shape().String() + " but " + m.Name() + " points are " + pointShape.String(),
		}
	}

	p := &Problem{manifold: m, cost: cost, verbosity: 2}
	for _, opt := range opts {
		opt(p)
	}
	if p.verbosity < 0 {
		return nil, &ConfigurationError{Field: "Verbosity", Reason: "cannot be negative"}
	}
	return p, nil
}

func (p *Problem) Manifold() manifold.Manifold { return p.manifold }

// CostFunction returns the compiled cost function.
func (p *Problem) CostFunction() *autodiff.Function { return p.cost }

func (p *Problem) Verbosity() int { return p.verbosity }

// Cost evaluates the cost at x.
func (p *Problem) Cost(x value.Value) float64 {
	return p.cost.Evaluate(x)
}

func (p *Problem) resolveGradient() {
	p.gradOnce.Do(func() {
		switch {
		case p.rgrad != nil:
			p.grad = p.rgrad
		case p.egrad != nil:
			p.grad = p.riemannian(p.egrad)
		default:
			egrad, err := p.cost.Gradient()
			if err != nil {
				p.gradErr = &ConfigurationError{Field: "Gradient", Reason: "cannot be derived from the cost function", Err: err}
				return
			}
			p.grad = p.riemannian(GradFunc(egrad))
		}
	})
}

func (p *Problem) riemannian(egrad GradFunc) GradFunc {
	return func(x value.Value) value.Value {
		return p.manifold.EGrad2RGrad(x, egrad(x))
	}
}

// RequireGradient reports whether Grad can be called.
func (p *Problem) RequireGradient() error {
	p.resolveGradient()
	return p.gradErr
}

// Grad returns the Riemannian gradient at x. It panics if RequireGradient
// fails; solvers check RequireGradient before iterating.
func (p *Problem) Grad(x value.Value) value.Value {
	p.resolveGradient()
	if p.gradErr != nil {
		panic(p.gradErr)
	}
	return p.grad(x)
}

func (p *Problem) euclideanGradient() (GradFunc, error) {
	if p.egrad != nil {
		return p.egrad, nil
	}
	g, err := p.cost.Gradient()
	if err != nil {
		return nil, err
	}
	return GradFunc(g), nil
}

func (p *Problem) resolveHessian() {
	p.hessOnce.Do(func() {
		if p.rhess != nil {
			p.hess = p.rhess
			return
		}
		if err := p.RequireGradient(); err != nil {
			p.hessErr = &ConfigurationError{Field: "Hessian", Reason: "requires a gradient", Err: err}
			return
		}

		ehess := p.ehess
		if ehess == nil && p.rgrad == nil {
			if h, err := p.cost.HessianVectorProduct(); err == nil {
				ehess = HessFunc(h)
			}
		}
		if ehess != nil {
			if egrad, err := p.euclideanGradient(); err == nil {
				p.hess = func(x, u value.Value) value.Value {
					return p.manifold.EHess2RHess(x, egrad(x), ehess(x, u), u)
				}
				return
			}
		}

		if p.verbosity >= 1 {
			slog.Warn("No Hessian available, approximating with finite differences of the gradient",
				"manifold", p.manifold.Name(),
				"backend", p.cost.Backend(),
			)
		}
		p.hess = p.finiteDifferenceHessian
	})
}

// RequireHessian reports whether Hess can be called. A Hessian is available
// whenever a gradient is, possibly as a finite-difference approximation.
func (p *Problem) RequireHessian() error {
	p.resolveHessian()
	return p.hessErr
}

// Hess returns the Riemannian Hessian at x applied to u. It panics if
// RequireHessian fails.
func (p *Problem) Hess(x, u value.Value) value.Value {
	p.resolveHessian()
	if p.hessErr != nil {
		panic(p.hessErr)
	}
	return p.hess(x, u)
}

// hessianFDStep is the step, relative to |u|, of the finite-difference Hessian.
const hessianFDStep = 1.0 / (1 << 14)

// finiteDifferenceHessian approximates Hess(x)[u] by
// (Transp(Grad(Retr(x, c u))) - Grad(x)) / c.
func (p *Problem) finiteDifferenceHessian(x, u value.Value) value.Value {
	m := p.manifold
	nu := m.Norm(x, u)
	if nu == 0 {
		return m.ZeroVec(x)
	}
	c := hessianFDStep / nu
	x1 := m.Retr(x, value.Scale(c, u))
	g0 := p.Grad(x)
	g1 := m.Transp(x1, x, p.Grad(x1))
	return value.Lincomb(1/c, g1, -1/c, g0)
}

// HasPreconditioner reports whether a preconditioner was supplied.
func (p *Problem) HasPreconditioner() bool { return p.precon != nil }

// Precon applies the preconditioner at x to u, or returns u unchanged.
func (p *Problem) Precon(x, u value.Value) value.Value {
	if p.precon == nil {
		return u
	}
	return p.precon(x, u)
}
