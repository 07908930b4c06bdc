package manifold

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// Sphere is the set of rows x cols matrices with unit Frobenius norm. With
// cols == 1 it is the usual unit sphere in R^rows.
type Sphere struct {
	rows, cols int
}

// NewSphere returns the unit sphere in R^n.
func NewSphere(n int) *Sphere {
	return NewMatrixSphere(n, 1)
}

// NewMatrixSphere returns the unit Frobenius sphere of rows x cols matrices.
func NewMatrixSphere(rows, cols int) *Sphere {
	if rows <= 0 || cols <= 0 || rows*cols < 2 {
		panic(fmt.Sprintf("manifold: invalid Sphere shape %dx%d", rows, cols))
	}
	return &Sphere{rows: rows, cols: cols}
}

func (s *Sphere) Name() string {
	if s.cols == 1 {
		return fmt.Sprintf("Sphere(%d)", s.rows)
	}
	return fmt.Sprintf("Sphere(%d, %d)", s.rows, s.cols)
}

func (s *Sphere) Dim() int             { return s.rows*s.cols - 1 }
func (s *Sphere) TypicalDist() float64 { return math.Pi }

func (s *Sphere) Inner(_, u, v value.Value) float64 { return value.Dot(u, v) }
func (s *Sphere) Norm(_, u value.Value) float64     { return value.Norm(u) }

func (s *Sphere) Proj(x, u value.Value) value.Value {
	return value.AddScaled(u, -value.Dot(x, u), x)
}

func (s *Sphere) EGrad2RGrad(x, egrad value.Value) value.Value {
	return s.Proj(x, egrad)
}

func (s *Sphere) EHess2RHess(x, egrad, ehess, u value.Value) value.Value {
	return value.AddScaled(s.Proj(x, ehess), -value.Dot(x, egrad), u)
}

func (s *Sphere) Retr(x, u value.Value) value.Value {
	return normalize(value.Add(x, u))
}

func (s *Sphere) Exp(x, u value.Value) value.Value {
	nu := value.Norm(u)
	if nu == 0 {
		return x.Clone()
	}
	y := value.Lincomb(math.Cos(nu), x, math.Sin(nu)/nu, u)
	return normalize(y)
}

func (s *Sphere) Log(x, y value.Value) value.Value {
	v := s.Proj(x, value.Sub(y, x))
	nv := value.Norm(v)
	if nv < 1e-12 {
		return s.ZeroVec(x)
	}
	return value.Scale(s.dist(x, y)/nv, v)
}

func (s *Sphere) dist(x, y value.Value) float64 {
	c := value.Dot(x, y)
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

func (s *Sphere) Transp(_, x2, u value.Value) value.Value {
	return s.Proj(x2, u)
}

func (s *Sphere) PairMean(x, y value.Value) value.Value {
	return normalize(value.Add(x, y))
}

func (s *Sphere) Rand(rng *rand.Rand) value.Value {
	return normalize(randn(rng, s.rows, s.cols))
}

func (s *Sphere) RandVec(rng *rand.Rand, x value.Value) value.Value {
	return normalize(s.Proj(x, randn(rng, s.rows, s.cols)))
}

func (s *Sphere) ZeroVec(_ value.Value) value.Value {
	return value.NewMatrix(s.rows, s.cols, nil)
}

func normalize(v value.Value) value.Value {
	return value.Scale(1/value.Norm(v), v)
}
