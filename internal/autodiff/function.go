package autodiff

import (
	"fmt"
	"sync"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// Function is a cost function compiled by a backend. Gradient and Hessian
// callables are derived on first use and cached; a Function is safe for
// concurrent use when the backend's callables are.
type Function struct {
	backend Backend
	fn      any
	shape   value.Shape
	cost    CostFunc

	gradOnce sync.Once
	grad     GradientFunc
	gradErr  error

	hessOnce sync.Once
	hess     HessianFunc
	hessErr  error
}

// Compile selects the first available backend compatible with fn and compiles
// it. With no backends given, DefaultBackends is used.
func Compile(fn any, shape value.Shape, backends ...Backend) (*Function, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("compile cost function: %w", err)
	}
	if len(backends) == 0 {
		backends = DefaultBackends()
	}

	tried := make([]string, 0, len(backends))
	for _, b := range backends {
		tried = append(tried, b.Name())
		if !b.IsAvailable() || !b.IsCompatible(fn, shape) {
			continue
		}
		cost, err := b.CompileFunction(fn, shape)
		if err != nil {
			return nil, fmt.Errorf("compile cost function with %s backend: %w", b.Name(), err)
		}
		return &Function{backend: b, fn: fn, shape: shape, cost: cost}, nil
	}
	return nil, &BackendUnavailableError{FuncType: fmt.Sprintf("%T", fn), Shape: shape, Tried: tried}
}

// Backend returns the name of the backend that compiled the function.
func (f *Function) Backend() string { return f.backend.Name() }

// Shape returns the argument shape the function was compiled for.
func (f *Function) Shape() value.Shape { return f.shape }

// Evaluate returns the cost at x. It panics if x does not have the compiled shape.
func (f *Function) Evaluate(x value.Value) float64 {
	f.checkShape(x)
	return f.cost(x)
}

func (f *Function) checkShape(x value.Value) {
	if !value.Conforms(x, f.shape) {
		panic(fmt.Sprintf("autodiff: argument shape %s, compiled for %s", value.ShapeOf(x), f.shape))
	}
}

// Gradient returns the Euclidean gradient callable.
func (f *Function) Gradient() (GradientFunc, error) {
	f.gradOnce.Do(func() {
		g, err := f.backend.ComputeGradient(f.fn, f.shape)
		if err != nil {
			f.gradErr = fmt.Errorf("gradient via %s backend: %w", f.backend.Name(), err)
			return
		}
		f.grad = func(x value.Value) value.Value {
			f.checkShape(x)
			return g(x)
		}
	})
	return f.grad, f.gradErr
}

// HessianVectorProduct returns the Euclidean Hessian-vector product callable.
func (f *Function) HessianVectorProduct() (HessianFunc, error) {
	f.hessOnce.Do(func() {
		h, err := f.backend.ComputeHessianVectorProduct(f.fn, f.shape)
		if err != nil {
			f.hessErr = fmt.Errorf("hessian via %s backend: %w", f.backend.Name(), err)
			return
		}
		f.hess = func(x, u value.Value) value.Value {
			f.checkShape(x)
			f.checkShape(u)
			return h(x, u)
		}
	})
	return f.hess, f.hessErr
}
