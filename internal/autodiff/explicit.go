package autodiff

import "github.com/cwbudde/manifoldopt/internal/value"

// Explicit is a cost function with hand-written Euclidean derivatives. EGrad
// and EHess are optional; asking for a missing one fails with
// ErrNotDifferentiable.
type Explicit struct {
	Cost  func(x value.Value) float64
	EGrad func(x value.Value) value.Value
	EHess func(x, u value.Value) value.Value
}

// ExplicitBackend serves *Explicit cost functions.
type ExplicitBackend struct{}

func NewExplicitBackend() *ExplicitBackend { return &ExplicitBackend{} }

func (b *ExplicitBackend) Name() string      { return "explicit" }
func (b *ExplicitBackend) IsAvailable() bool { return true }

func (b *ExplicitBackend) IsCompatible(fn any, _ value.Shape) bool {
	e, ok := fn.(*Explicit)
	return ok && e != nil && e.Cost != nil
}

func (b *ExplicitBackend) CompileFunction(fn any, _ value.Shape) (CostFunc, error) {
	e, ok := fn.(*Explicit)
	if !ok || e.Cost == nil {
		return nil, ErrNotDifferentiable
	}
	return e.Cost, nil
}

func (b *ExplicitBackend) ComputeGradient(fn any, _ value.Shape) (GradientFunc, error) {
	e, ok := fn.(*Explicit)
	if !ok || e.EGrad == nil {
		return nil, ErrNotDifferentiable
	}
	return e.EGrad, nil
}

func (b *ExplicitBackend) ComputeHessianVectorProduct(fn any, _ value.Shape) (HessianFunc, error) {
	e, ok := fn.(*Explicit)
	if !ok || e.EHess == nil {
		return nil, ErrNotDifferentiable
	}
	return e.EHess, nil
}
