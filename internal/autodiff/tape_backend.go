package autodiff

import (
	"github.com/cwbudde/manifoldopt/internal/autodiff/tape"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// TapeBackend differentiates tape.Func cost functions exactly, recording a
// fresh tape per call.
type TapeBackend struct{}

func NewTapeBackend() *TapeBackend { return &TapeBackend{} }

func (b *TapeBackend) Name() string      { return "tape" }
func (b *TapeBackend) IsAvailable() bool { return true }

func (b *TapeBackend) IsCompatible(fn any, _ value.Shape) bool {
	_, ok := asTapeFunc(fn)
	return ok
}

func asTapeFunc(fn any) (tape.Func, bool) {
	switch f := fn.(type) {
	case tape.Func:
		return f, f != nil
	case func(*tape.Tape, []*tape.Array) tape.Var:
		return f, f != nil
	default:
		return nil, false
	}
}

// record evaluates fn on a new tape whose inputs are the leaves of x with
// directions taken from the matching leaves of u (zero when u is nil).
func (b *TapeBackend) record(fn tape.Func, shape value.Shape, x, u value.Value) (*tape.Tape, tape.Var) {
	t := tape.New()
	xs := value.Leaves(x)
	var us []*value.Array
	if u != nil {
		us = value.Leaves(u)
	}
	args := make([]*tape.Array, len(xs))
	for i, a := range xs {
		var dir []float64
		if us != nil {
			dir = us[i].Data
		}
		args[i] = t.Inputs(a.Rows, a.Cols, a.Data, dir)
	}
	return t, fn(t, args)
}

func (b *TapeBackend) CompileFunction(fn any, shape value.Shape) (CostFunc, error) {
	f, ok := asTapeFunc(fn)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	return func(x value.Value) float64 {
		_, out := b.record(f, shape, x, nil)
		return out.Value()
	}, nil
}

func (b *TapeBackend) ComputeGradient(fn any, shape value.Shape) (GradientFunc, error) {
	f, ok := asTapeFunc(fn)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	return func(x value.Value) value.Value {
		t, out := b.record(f, shape, x, nil)
		grad, _ := t.Backward(out)
		return mustUnflatten(shape, grad[:shape.Size()])
	}, nil
}

func (b *TapeBackend) ComputeHessianVectorProduct(fn any, shape value.Shape) (HessianFunc, error) {
	f, ok := asTapeFunc(fn)
	if !ok {
		return nil, ErrNotDifferentiable
	}
	return func(x, u value.Value) value.Value {
		t, out := b.record(f, shape, x, u)
		_, hvp := t.Backward(out)
		return mustUnflatten(shape, hvp[:shape.Size()])
	}, nil
}

func mustUnflatten(shape value.Shape, data []float64) value.Value {
	v, err := value.Unflatten(shape, data)
	if err != nil {
		panic("autodiff: " + err.Error())
	}
	return v
}
