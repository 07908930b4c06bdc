// Package autodiff turns user cost functions into compiled callables that
// can also produce gradients and Hessian-vector products.
//
// A cost function is written against one of the backends' function types
// (tape.Func, NumericFunc or *Explicit) and compiled together with the Shape
// of its argument:
//
//	f, err := autodiff.Compile(tape.Func(cost), value.GroupShape(xs, ys))
//	grad, err := f.Gradient()
//
// Gradients and Hessian-vector products always come back with the exact
// nesting of the compiled Shape.
package autodiff

import (
	"errors"
	"fmt"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// CostFunc evaluates a compiled cost function.
type CostFunc func(x value.Value) float64

// GradientFunc returns the Euclidean gradient at x, nested like x.
type GradientFunc func(x value.Value) value.Value

// HessianFunc returns the Euclidean Hessian at x applied to u, nested like x.
type HessianFunc func(x, u value.Value) value.Value

// Backend differentiates cost functions of a particular Go type.
type Backend interface {
	Name() string

	// IsAvailable reports whether the backend can be used at all.
	IsAvailable() bool

	// IsCompatible reports whether fn is a function this backend understands
	// for arguments of the given shape.
	IsCompatible(fn any, shape value.Shape) bool

	CompileFunction(fn any, shape value.Shape) (CostFunc, error)
	ComputeGradient(fn any, shape value.Shape) (GradientFunc, error)
	ComputeHessianVectorProduct(fn any, shape value.Shape) (HessianFunc, error)
}

// ErrBackendUnavailable is matched by BackendUnavailableError.
var ErrBackendUnavailable = errors.New("no compatible autodiff backend")

// ErrNotDifferentiable is returned when a backend cannot produce a derivative
// for a function it otherwise accepts.
var ErrNotDifferentiable = errors.New("function is not differentiable by this backend")

// BackendUnavailableError is returned by Compile when none of the candidate
// backends is available and compatible with the cost function.
type BackendUnavailableError struct {
	FuncType string
	Shape    value.Shape
	Tried    []string
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("no compatible autodiff backend for %s over %s (tried %v)", e.FuncType, e.Shape, e.Tried)
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

// DefaultBackends returns the backends Compile tries when none are given.
func DefaultBackends() []Backend {
	return []Backend{
		NewTapeBackend(),
		NewFiniteDifferenceBackend(),
		NewExplicitBackend(),
	}
}

// BackendByName returns the default backend with the given name.
func BackendByName(name string) (Backend, error) {
	for _, b := range DefaultBackends() {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("unknown autodiff backend %q", name)
}
