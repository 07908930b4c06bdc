package autodiff

import (
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/floats"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// NumericFunc is a plain cost function differentiated numerically.
type NumericFunc func(x value.Value) float64

// FiniteDifferenceBackend differentiates NumericFunc cost functions with
// central differences. Gradients come from gonum's fd package; Hessian-vector
// products are central differences of those gradients along the direction.
type FiniteDifferenceBackend struct {
	// Step is the gradient step; zero selects gonum's default for the formula.
	Step float64
	// HessianStep is the step along the direction, relative to its norm.
	HessianStep float64
}

func NewFiniteDifferenceBackend() *FiniteDifferenceBackend {
	return &FiniteDifferenceBackend{HessianStep: 1e-4}
}

func (b *FiniteDifferenceBackend) Name() string      { return "finite-difference" }
func (b *FiniteDifferenceBackend) IsAvailable() bool { return true }

func (b *FiniteDifferenceBackend) IsCompatible(fn any, _ value.Shape) bool {
	_, ok := asNumericFunc(fn)
	return ok
}

func asNumericFunc(fn any) (NumericFunc, bool) {
	switch f := fn.(type) {
	case NumericFunc:
		return f, f != nil
	case func(value.Value) float64:
		return f, f != nil
	default:
		return nil, false
	}
}

func (b *FiniteDifferenceBackend) CompileFunction(fn any, _ value.Shape) (CostFunc, error) {
	f, ok := asNumericFunc(fn)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	return CostFunc(f), nil
}

func (b *FiniteDifferenceBackend) flatGradient(f NumericFunc, shape value.Shape) func(dst, z []float64) {
	flat := func(z []float64) float64 {
		return f(mustUnflatten(shape, z))
	}
	settings := &fd.Settings{Formula: fd.Central, Step: b.Step}
	return func(dst, z []float64) {
		fd.Gradient(dst, flat, z, settings)
	}
}

func (b *FiniteDifferenceBackend) ComputeGradient(fn any, shape value.Shape) (GradientFunc, error) {
	f, ok := asNumericFunc(fn)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	grad := b.flatGradient(f, shape)
	return func(x value.Value) value.Value {
		dst := make([]float64, shape.Size())
		grad(dst, value.Flatten(x))
		return mustUnflatten(shape, dst)
	}, nil
}

func (b *FiniteDifferenceBackend) ComputeHessianVectorProduct(fn any, shape value.Shape) (HessianFunc, error) {
	f, ok := asNumericFunc(fn)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	grad := b.flatGradient(f, shape)
	return func(x, u value.Value) value.Value {
		n := shape.Size()
		dir := value.Flatten(u)
		nu := floats.Norm(dir, 2)
		if nu == 0 {
			return shape.Zeros()
		}
		h := b.HessianStep / nu
		z := value.Flatten(x)

		plus := make([]float64, n)
		floats.AddScaledTo(plus, z, h, dir)
		minus := make([]float64, n)
		floats.AddScaledTo(minus, z, -h, dir)

		gp := make([]float64, n)
		gm := make([]float64, n)
		grad(gp, plus)
		grad(gm, minus)

		floats.Sub(gp, gm)
		floats.Scale(1/(2*h), gp)
		return mustUnflatten(shape, gp)
	}, nil
}
