// Package value defines the representation shared by manifold points, tangent
// vectors and cost-function arguments.
//
// A Value is either a dense *Array (rows x cols, row-major) or a Tuple that
// groups other values. Tuples nest, so a product manifold whose first factor is
// itself represented as a pair of arrays is the Tuple{Tuple{a, b}, c}.
//
// Arithmetic helpers (Add, Lincomb, Dot, ...) walk both operands in lockstep and
// panic when their shapes disagree: a shape mismatch between a point and a
// tangent vector is a programming error, not a runtime condition.
package value

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Value is a manifold point or tangent vector.
type Value interface {
	// Clone returns a deep copy.
	Clone() Value
	// Size returns the number of scalar entries.
	Size() int
}

// Array is a dense row-major matrix. Vectors are n x 1 arrays.
type Array struct {
	Rows int
	Cols int
	Data []float64
}

// Tuple groups values.
type Tuple []Value

// NewVector wraps data as an n x 1 array. The slice is not copied.
func NewVector(data []float64) *Array {
	return &Array{Rows: len(data), Cols: 1, Data: data}
}

// NewMatrix wraps data as a rows x cols array. A nil data slice allocates zeros.
func NewMatrix(rows, cols int, data []float64) *Array {
	if data == nil {
		data = make([]float64, rows*cols)
	}
	if len(data) != rows*cols {
		panic(fmt.Sprintf("value: %d entries for %dx%d array", len(data), rows, cols))
	}
	return &Array{Rows: rows, Cols: cols, Data: data}
}

// FromMat copies a gonum matrix into a new Array.
func FromMat(m mat.Matrix) *Array {
	r, c := m.Dims()
	a := NewMatrix(r, c, nil)
	a.Mat().Copy(m)
	return a
}

// Mat returns a gonum view sharing the array's storage.
func (a *Array) Mat() *mat.Dense {
	return mat.NewDense(a.Rows, a.Cols, a.Data)
}

// At returns the entry at row i, column j.
func (a *Array) At(i, j int) float64 {
	return a.Data[i*a.Cols+j]
}

func (a *Array) Clone() Value {
	return &Array{Rows: a.Rows, Cols: a.Cols, Data: append([]float64(nil), a.Data...)}
}

func (a *Array) Size() int {
	return len(a.Data)
}

func (t Tuple) Clone() Value {
	out := make(Tuple, len(t))
	for i, v := range t {
		out[i] = v.Clone()
	}
	return out
}

func (t Tuple) Size() int {
	n := 0
	for _, v := range t {
		n += v.Size()
	}
	return n
}

// AsArray returns v as an *Array or panics.
func AsArray(v Value) *Array {
	a, ok := v.(*Array)
	if !ok {
		panic(fmt.Sprintf("value: expected *Array, got %T", v))
	}
	return a
}

// AsTuple returns v as a Tuple of length n or panics.
func AsTuple(v Value, n int) Tuple {
	t, ok := v.(Tuple)
	if !ok || len(t) != n {
		panic(fmt.Sprintf("value: expected Tuple of length %d, got %T", n, v))
	}
	return t
}

// zip applies fn to matching leaves of a and b, building a result of the same
// nesting as a.
func zip(a, b Value, fn func(x, y *Array) *Array) Value {
	switch x := a.(type) {
	case *Array:
		y, ok := b.(*Array)
		if !ok || len(y.Data) != len(x.Data) {
			panic(fmt.Sprintf("value: shape mismatch %s vs %s", ShapeOf(a), ShapeOf(b)))
		}
		return fn(x, y)
	case Tuple:
		y := AsTuple(b, len(x))
		out := make(Tuple, len(x))
		for i := range x {
			out[i] = zip(x[i], y[i], fn)
		}
		return out
	default:
		panic(fmt.Sprintf("value: unsupported %T", a))
	}
}

// Map applies fn to every leaf of v, returning a new value.
func Map(v Value, fn func(x *Array) *Array) Value {
	switch x := v.(type) {
	case *Array:
		return fn(x)
	case Tuple:
		out := make(Tuple, len(x))
		for i := range x {
			out[i] = Map(x[i], fn)
		}
		return out
	default:
		panic(fmt.Sprintf("value: unsupported %T", v))
	}
}

// Leaves returns the arrays of v in depth-first order. The arrays are shared.
func Leaves(v Value) []*Array {
	var out []*Array
	var walk func(Value)
	walk = func(v Value) {
		switch x := v.(type) {
		case *Array:
			out = append(out, x)
		case Tuple:
			for _, e := range x {
				walk(e)
			}
		default:
			panic(fmt.Sprintf("value: unsupported %T", v))
		}
	}
	walk(v)
	return out
}

// Add returns a + b.
func Add(a, b Value) Value {
	return zip(a, b, func(x, y *Array) *Array {
		out := NewMatrix(x.Rows, x.Cols, nil)
		floats.AddTo(out.Data, x.Data, y.Data)
		return out
	})
}

// Sub returns a - b.
func Sub(a, b Value) Value {
	return zip(a, b, func(x, y *Array) *Array {
		out := NewMatrix(x.Rows, x.Cols, nil)
		floats.SubTo(out.Data, x.Data, y.Data)
		return out
	})
}

// Scale returns alpha * v.
func Scale(alpha float64, v Value) Value {
	return Map(v, func(x *Array) *Array {
		out := NewMatrix(x.Rows, x.Cols, nil)
		floats.ScaleTo(out.Data, alpha, x.Data)
		return out
	})
}

// Lincomb returns a1*v1 + a2*v2.
func Lincomb(a1 float64, v1 Value, a2 float64, v2 Value) Value {
	return zip(v1, v2, func(x, y *Array) *Array {
		out := NewMatrix(x.Rows, x.Cols, nil)
		floats.ScaleTo(out.Data, a1, x.Data)
		floats.AddScaled(out.Data, a2, y.Data)
		return out
	})
}

// AddScaled returns a + alpha*b.
func AddScaled(a Value, alpha float64, b Value) Value {
	return zip(a, b, func(x, y *Array) *Array {
		out := NewMatrix(x.Rows, x.Cols, nil)
		floats.AddScaledTo(out.Data, x.Data, alpha, y.Data)
		return out
	})
}

// Mul returns the elementwise product of a and b.
func Mul(a, b Value) Value {
	return zip(a, b, func(x, y *Array) *Array {
		out := NewMatrix(x.Rows, x.Cols, nil)
		floats.MulTo(out.Data, x.Data, y.Data)
		return out
	})
}

// Dot returns the Frobenius inner product summed over all leaves.
func Dot(a, b Value) float64 {
	la, lb := Leaves(a), Leaves(b)
	if len(la) != len(lb) {
		panic(fmt.Sprintf("value: shape mismatch %s vs %s", ShapeOf(a), ShapeOf(b)))
	}
	var s float64
	for i := range la {
		s += floats.Dot(la[i].Data, lb[i].Data)
	}
	return s
}

// Norm returns the Frobenius norm of v.
func Norm(v Value) float64 {
	return math.Sqrt(Dot(v, v))
}

// ZerosLike returns a zero value with the nesting and shapes of v.
func ZerosLike(v Value) Value {
	return Map(v, func(x *Array) *Array {
		return NewMatrix(x.Rows, x.Cols, nil)
	})
}

// IsFinite reports whether every entry of v is finite.
func IsFinite(v Value) bool {
	for _, a := range Leaves(v) {
		for _, x := range a.Data {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return false
			}
		}
	}
	return true
}

// Equal reports whether a and b have the same shape and identical entries.
func Equal(a, b Value) bool {
	if !ShapeOf(a).Equal(ShapeOf(b)) {
		return false
	}
	la, lb := Leaves(a), Leaves(b)
	for i := range la {
		if !floats.Equal(la[i].Data, lb[i].Data) {
			return false
		}
	}
	return true
}

// EqualApprox reports whether a and b have the same shape and entries within tol.
func EqualApprox(a, b Value, tol float64) bool {
	if !ShapeOf(a).Equal(ShapeOf(b)) {
		return false
	}
	la, lb := Leaves(a), Leaves(b)
	for i := range la {
		if !floats.EqualApprox(la[i].Data, lb[i].Data, tol) {
			return false
		}
	}
	return true
}
