package tape

import "fmt"

// Array is a dense row-major matrix of recorded scalars.
type Array struct {
	Rows  int
	Cols  int
	Elems []Var
}

// Inputs records rows*cols independent variables with the given values and
// directions. A nil dir records zero directions.
func (t *Tape) Inputs(rows, cols int, vals, dir []float64) *Array {
	if len(vals) != rows*cols || (dir != nil && len(dir) != len(vals)) {
		panic(fmt.Sprintf("tape: %d values / %d directions for %dx%d array", len(vals), len(dir), rows, cols))
	}
	a := &Array{Rows: rows, Cols: cols, Elems: make([]Var, len(vals))}
	for i, x := range vals {
		var d float64
		if dir != nil {
			d = dir[i]
		}
		a.Elems[i] = t.Input(x, d)
	}
	return a
}

// Consts records a constant array.
func (t *Tape) Consts(rows, cols int, vals []float64) *Array {
	a := &Array{Rows: rows, Cols: cols, Elems: make([]Var, len(vals))}
	for i, x := range vals {
		a.Elems[i] = t.Const(x)
	}
	return a
}

func (a *Array) At(i, j int) Var { return a.Elems[i*a.Cols+j] }

// Len returns the number of entries.
func (a *Array) Len() int { return len(a.Elems) }

// Values returns the recorded values.
func (a *Array) Values() []float64 {
	out := make([]float64, len(a.Elems))
	for i, v := range a.Elems {
		out[i] = v.Value()
	}
	return out
}

func (a *Array) tape() *Tape {
	if len(a.Elems) == 0 {
		panic("tape: empty array")
	}
	return a.Elems[0].t
}

func sameDims(a, b *Array) {
	if a.Rows != b.Rows || a.Cols != b.Cols {
		panic(fmt.Sprintf("tape: shape mismatch %dx%d vs %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
}

// Map applies fn elementwise.
func Map(a *Array, fn func(Var) Var) *Array {
	out := &Array{Rows: a.Rows, Cols: a.Cols, Elems: make([]Var, len(a.Elems))}
	for i, v := range a.Elems {
		out.Elems[i] = fn(v)
	}
	return out
}

func zip(a, b *Array, fn func(x, y Var) Var) *Array {
	sameDims(a, b)
	out := &Array{Rows: a.Rows, Cols: a.Cols, Elems: make([]Var, len(a.Elems))}
	for i := range a.Elems {
		out.Elems[i] = fn(a.Elems[i], b.Elems[i])
	}
	return out
}

func Add(a, b *Array) *Array { return zip(a, b, Var.Add) }
func Sub(a, b *Array) *Array { return zip(a, b, Var.Sub) }

// Mul is the elementwise product.
func Mul(a, b *Array) *Array { return zip(a, b, Var.Mul) }

func Scale(c float64, a *Array) *Array {
	return Map(a, func(v Var) Var { return v.Scale(c) })
}

// Sum adds all entries.
func Sum(a *Array) Var {
	s := a.Elems[0]
	for _, v := range a.Elems[1:] {
		s = s.Add(v)
	}
	return s
}

// Dot is the Frobenius inner product of a and b.
func Dot(a, b *Array) Var {
	return Sum(Mul(a, b))
}

// SumSquares returns the squared Frobenius norm.
func SumSquares(a *Array) Var {
	return Sum(Map(a, Var.Square))
}

// Transpose returns a^T.
func Transpose(a *Array) *Array {
	out := &Array{Rows: a.Cols, Cols: a.Rows, Elems: make([]Var, len(a.Elems))}
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < a.Cols; j++ {
			out.Elems[j*a.Rows+i] = a.At(i, j)
		}
	}
	return out
}

// MatMul returns the matrix product a*b.
func MatMul(a, b *Array) *Array {
	if a.Cols != b.Rows {
		panic(fmt.Sprintf("tape: matmul %dx%d by %dx%d", a.Rows, a.Cols, b.Rows, b.Cols))
	}
	out := &Array{Rows: a.Rows, Cols: b.Cols, Elems: make([]Var, a.Rows*b.Cols)}
	for i := 0; i < a.Rows; i++ {
		for j := 0; j < b.Cols; j++ {
			s := a.At(i, 0).Mul(b.At(0, j))
			for k := 1; k < a.Cols; k++ {
				s = s.Add(a.At(i, k).Mul(b.At(k, j)))
			}
			out.Elems[i*b.Cols+j] = s
		}
	}
	return out
}

// MatMulConst returns c*a for a constant matrix c given row-major.
func MatMulConst(rows, cols int, c []float64, a *Array) *Array {
	return MatMul(a.tape().Consts(rows, cols, c), a)
}

// Trace returns the sum of the diagonal of a square array.
func Trace(a *Array) Var {
	if a.Rows != a.Cols {
		panic(fmt.Sprintf("tape: trace of %dx%d array", a.Rows, a.Cols))
	}
	s := a.At(0, 0)
	for i := 1; i < a.Rows; i++ {
		s = s.Add(a.At(i, i))
	}
	return s
}
