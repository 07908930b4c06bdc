// Package tape implements reverse-mode automatic differentiation for scalar
// cost functions.
//
// Every recorded value also carries a forward tangent: the directional
// derivative of that value along a direction chosen when the inputs are
// created. Walking the tape backwards with dual-number adjoints then yields,
// in one pass, both the gradient of the output and the Hessian-vector product
// along that direction (forward-over-reverse).
//
// Usage:
//
//	t := tape.New()
//	x := t.Input(2, 1)      // value 2, direction 1
//	y := x.Mul(x).Exp()
//	grad, hvp := t.Backward(y)
package tape

import (
	"fmt"
	"math"
)

// node is a recorded operation with at most two parents.
type node struct {
	val float64
	dot float64

	nparents   int
	parents    [2]int
	partial    [2]float64 // d(node)/d(parent)
	partialDot [2]float64 // directional derivative of partial
}

// Tape records operations in execution order. A tape is not safe for
// concurrent use; callers create one tape per evaluation.
type Tape struct {
	nodes  []node
	inputs []int
}

// New creates an empty tape.
func New() *Tape {
	return &Tape{nodes: make([]node, 0, 64)}
}

// Func is a cost function recorded on a tape. args holds one array per leaf
// of the argument, in depth-first order.
type Func func(t *Tape, args []*Array) Var

// Var is a scalar recorded on a tape.
type Var struct {
	t   *Tape
	idx int
}

// Input records an independent variable with value val and forward tangent dot.
func (t *Tape) Input(val, dot float64) Var {
	t.inputs = append(t.inputs, len(t.nodes))
	return t.push(node{val: val, dot: dot})
}

// Const records a constant.
func (t *Tape) Const(c float64) Var {
	return t.push(node{val: c})
}

// NumInputs returns the number of independent variables recorded so far.
func (t *Tape) NumInputs() int {
	return len(t.inputs)
}

func (t *Tape) push(n node) Var {
	t.nodes = append(t.nodes, n)
	return Var{t: t, idx: len(t.nodes) - 1}
}

// Value returns the recorded value.
func (v Var) Value() float64 { return v.t.nodes[v.idx].val }

// Tangent returns the directional derivative of v along the input direction.
func (v Var) Tangent() float64 { return v.t.nodes[v.idx].dot }

func (v Var) node() node { return v.t.nodes[v.idx] }

func (v Var) sameTape(o Var) {
	if v.t != o.t {
		panic("tape: mixing variables from different tapes")
	}
}

// unary records z = g(a) given g(a), g'(a) and g''(a).
func (v Var) unary(g, dg, ddg float64) Var {
	a := v.node()
	return v.t.push(node{
		val:        g,
		dot:        dg * a.dot,
		nparents:   1,
		parents:    [2]int{v.idx},
		partial:    [2]float64{dg},
		partialDot: [2]float64{ddg * a.dot},
	})
}

func (v Var) binary(o Var, val, dot, pa, pb, pdA, pdB float64) Var {
	v.sameTape(o)
	return v.t.push(node{
		val:        val,
		dot:        dot,
		nparents:   2,
		parents:    [2]int{v.idx, o.idx},
		partial:    [2]float64{pa, pb},
		partialDot: [2]float64{pdA, pdB},
	})
}

func (v Var) Add(o Var) Var {
	a, b := v.node(), o.node()
	return v.binary(o, a.val+b.val, a.dot+b.dot, 1, 1, 0, 0)
}

func (v Var) Sub(o Var) Var {
	a, b := v.node(), o.node()
	return v.binary(o, a.val-b.val, a.dot-b.dot, 1, -1, 0, 0)
}

func (v Var) Mul(o Var) Var {
	a, b := v.node(), o.node()
	return v.binary(o, a.val*b.val, a.dot*b.val+a.val*b.dot, b.val, a.val, b.dot, a.dot)
}

func (v Var) Div(o Var) Var {
	a, b := v.node(), o.node()
	inv := 1 / b.val
	inv2 := inv * inv
	return v.binary(o,
		a.val*inv,
		a.dot*inv-a.val*b.dot*inv2,
		inv,
		-a.val*inv2,
		-b.dot*inv2,
		-a.dot*inv2+2*a.val*b.dot*inv2*inv,
	)
}

// Scale returns c*v.
func (v Var) Scale(c float64) Var {
	return v.unary(c*v.Value(), c, 0)
}

// Shift returns v + c.
func (v Var) Shift(c float64) Var {
	return v.unary(v.Value()+c, 1, 0)
}

func (v Var) Neg() Var { return v.Scale(-1) }

func (v Var) Square() Var {
	x := v.Value()
	return v.unary(x*x, 2*x, 2)
}

// Pow returns v^p for a constant exponent p.
func (v Var) Pow(p float64) Var {
	x := v.Value()
	return v.unary(math.Pow(x, p), p*math.Pow(x, p-1), p*(p-1)*math.Pow(x, p-2))
}

func (v Var) Sqrt() Var {
	s := math.Sqrt(v.Value())
	return v.unary(s, 0.5/s, -0.25/(s*s*s))
}

func (v Var) Exp() Var {
	e := math.Exp(v.Value())
	return v.unary(e, e, e)
}

func (v Var) Log() Var {
	x := v.Value()
	return v.unary(math.Log(x), 1/x, -1/(x*x))
}

func (v Var) Sin() Var {
	x := v.Value()
	return v.unary(math.Sin(x), math.Cos(x), -math.Sin(x))
}

func (v Var) Cos() Var {
	x := v.Value()
	return v.unary(math.Cos(x), -math.Sin(x), -math.Cos(x))
}

func (v Var) Tanh() Var {
	th := math.Tanh(v.Value())
	d := 1 - th*th
	return v.unary(th, d, -2*th*d)
}

// Backward walks the tape from out and returns, for every input in creation
// order, the gradient of out and its Hessian applied to the input directions.
func (t *Tape) Backward(out Var) (grad, hvp []float64) {
	if out.t != t {
		panic("tape: output recorded on a different tape")
	}
	adj := make([]float64, out.idx+1)
	adjDot := make([]float64, out.idx+1)
	adj[out.idx] = 1

	for i := out.idx; i >= 0; i-- {
		if adj[i] == 0 && adjDot[i] == 0 {
			continue
		}
		n := t.nodes[i]
		for k := 0; k < n.nparents; k++ {
			p := n.parents[k]
			adj[p] += adj[i] * n.partial[k]
			adjDot[p] += adjDot[i]*n.partial[k] + adj[i]*n.partialDot[k]
		}
	}

	grad = make([]float64, len(t.inputs))
	hvp = make([]float64, len(t.inputs))
	for j, idx := range t.inputs {
		if idx > out.idx {
			continue
		}
		grad[j] = adj[idx]
		hvp[j] = adjDot[idx]
	}
	return grad, hvp
}

func (v Var) String() string {
	return fmt.Sprintf("Var(%g)", v.Value())
}
