package manifold

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// Euclidean is the flat space of rows x cols real matrices.
type Euclidean struct {
	rows, cols int
}

// NewEuclidean returns the Euclidean space of rows x cols matrices.
func NewEuclidean(rows, cols int) *Euclidean {
	if rows <= 0 || cols <= 0 {
		panic(fmt.Sprintf("manifold: invalid Euclidean shape %dx%d", rows, cols))
	}
	return &Euclidean{rows: rows, cols: cols}
}

func (e *Euclidean) Name() string {
	if e.cols == 1 {
		return fmt.Sprintf("Euclidean(%d)", e.rows)
	}
	return fmt.Sprintf("Euclidean(%d, %d)", e.rows, e.cols)
}

func (e *Euclidean) Dim() int             { return e.rows * e.cols }
func (e *Euclidean) TypicalDist() float64 { return math.Sqrt(float64(e.Dim())) }

func (e *Euclidean) Inner(_, u, v value.Value) float64 { return value.Dot(u, v) }
func (e *Euclidean) Norm(_, u value.Value) float64     { return value.Norm(u) }

func (e *Euclidean) Proj(_, u value.Value) value.Value            { return u.Clone() }
func (e *Euclidean) EGrad2RGrad(_, egrad value.Value) value.Value { return egrad.Clone() }

func (e *Euclidean) EHess2RHess(_, _, ehess, _ value.Value) value.Value {
	return ehess.Clone()
}

func (e *Euclidean) Retr(x, u value.Value) value.Value { return value.Add(x, u) }
func (e *Euclidean) Exp(x, u value.Value) value.Value  { return value.Add(x, u) }
func (e *Euclidean) Log(x, y value.Value) value.Value  { return value.Sub(y, x) }

func (e *Euclidean) Transp(_, _, u value.Value) value.Value { return u.Clone() }

func (e *Euclidean) PairMean(x, y value.Value) value.Value {
	return value.Lincomb(0.5, x, 0.5, y)
}

func (e *Euclidean) Rand(rng *rand.Rand) value.Value {
	return randn(rng, e.rows, e.cols)
}

func (e *Euclidean) RandVec(rng *rand.Rand, _ value.Value) value.Value {
	u := randn(rng, e.rows, e.cols)
	return value.Scale(1/value.Norm(u), u)
}

func (e *Euclidean) ZeroVec(_ value.Value) value.Value {
	return value.NewMatrix(e.rows, e.cols, nil)
}
