package manifold

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// Stiefel is the set of n x p matrices with orthonormal columns (X^T X = I),
// with the metric inherited from R^{n x p}.
type Stiefel struct {
	n, p int
}

// NewStiefel returns the Stiefel manifold St(n, p). It panics unless 0 < p <= n.
func NewStiefel(n, p int) *Stiefel {
	if p <= 0 || n < p {
		panic(fmt.Sprintf("manifold: invalid Stiefel(%d, %d)", n, p))
	}
	return &Stiefel{n: n, p: p}
}

func (s *Stiefel) Name() string { return fmt.Sprintf("Stiefel(%d, %d)", s.n, s.p) }

func (s *Stiefel) Dim() int             { return s.n*s.p - s.p*(s.p+1)/2 }
func (s *Stiefel) TypicalDist() float64 { return math.Sqrt(float64(s.p)) }

func (s *Stiefel) Inner(_, u, v value.Value) float64 { return value.Dot(u, v) }
func (s *Stiefel) Norm(_, u value.Value) float64     { return value.Norm(u) }

// Proj computes U - X sym(X^T U).
func (s *Stiefel) Proj(x, u value.Value) value.Value {
	X := value.AsArray(x).Mat()
	U := value.AsArray(u).Mat()
	return value.FromMat(s.proj(X, U))
}

func (s *Stiefel) proj(X, U mat.Matrix) *mat.Dense {
	var xtu mat.Dense
	xtu.Mul(X.T(), U)
	var corr mat.Dense
	corr.Mul(X, symmetric(&xtu))
	var out mat.Dense
	out.Sub(U, &corr)
	return &out
}

func (s *Stiefel) EGrad2RGrad(x, egrad value.Value) value.Value {
	return s.Proj(x, egrad)
}

// EHess2RHess computes Proj(X, ehess - H sym(X^T egrad)).
func (s *Stiefel) EHess2RHess(x, egrad, ehess, u value.Value) value.Value {
	X := value.AsArray(x).Mat()
	G := value.AsArray(egrad).Mat()
	H := value.AsArray(u).Mat()
	var xtg mat.Dense
	xtg.Mul(X.T(), G)
	var hsym mat.Dense
	hsym.Mul(H, symmetric(&xtg))
	var diff mat.Dense
	diff.Sub(value.AsArray(ehess).Mat(), &hsym)
	return value.FromMat(s.proj(X, &diff))
}

// Retr is the QR-based retraction qf(X + U).
func (s *Stiefel) Retr(x, u value.Value) value.Value {
	var sum mat.Dense
	sum.Add(value.AsArray(x).Mat(), value.AsArray(u).Mat())
	return value.FromMat(qfactor(&sum))
}

// Exp follows the geodesic of the embedded metric:
//
//	Y = [X U] expm([[X^T U, -U^T U], [I, X^T U]]) [expm(-X^T U); 0]
func (s *Stiefel) Exp(x, u value.Value) value.Value {
	X := value.AsArray(x).Mat()
	U := value.AsArray(u).Mat()
	p := s.p

	var xtu, utu mat.Dense
	xtu.Mul(X.T(), U)
	utu.Mul(U.T(), U)

	block := mat.NewDense(2*p, 2*p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			block.Set(i, j, xtu.At(i, j))
			block.Set(i, p+j, -utu.At(i, j))
			block.Set(p+i, p+j, xtu.At(i, j))
		}
		block.Set(p+i, i, 1)
	}
	var w mat.Dense
	w.Exp(block)

	var negXtU, e mat.Dense
	negXtU.Scale(-1, &xtu)
	e.Exp(&negXtU)
	z := mat.NewDense(2*p, p, nil)
	for i := 0; i < p; i++ {
		for j := 0; j < p; j++ {
			z.Set(i, j, e.At(i, j))
		}
	}

	xu := mat.NewDense(s.n, 2*p, nil)
	for i := 0; i < s.n; i++ {
		for j := 0; j < p; j++ {
			xu.Set(i, j, X.At(i, j))
			xu.Set(i, p+j, U.At(i, j))
		}
	}

	var tmp, y mat.Dense
	tmp.Mul(xu, &w)
	y.Mul(&tmp, z)
	return value.FromMat(&y)
}

// Log has no closed form on the Stiefel manifold; the projection of Y - X onto
// the tangent space at X is used as a first-order inverse retraction.
func (s *Stiefel) Log(x, y value.Value) value.Value {
	return s.Proj(x, value.Sub(y, x))
}

func (s *Stiefel) Transp(_, x2, u value.Value) value.Value {
	return s.Proj(x2, u)
}

func (s *Stiefel) PairMean(x, y value.Value) value.Value {
	return s.Retr(x, value.Scale(0.5, s.Log(x, y)))
}

func (s *Stiefel) Rand(rng *rand.Rand) value.Value {
	return value.FromMat(qfactor(randn(rng, s.n, s.p).Mat()))
}

func (s *Stiefel) RandVec(rng *rand.Rand, x value.Value) value.Value {
	u := s.Proj(x, randn(rng, s.n, s.p))
	return value.Scale(1/value.Norm(u), u)
}

func (s *Stiefel) ZeroVec(_ value.Value) value.Value {
	return value.NewMatrix(s.n, s.p, nil)
}

func symmetric(a *mat.Dense) *mat.Dense {
	var out mat.Dense
	out.Add(a, a.T())
	out.Scale(0.5, &out)
	return &out
}

// qfactor returns the Q factor of a thin QR decomposition, with column signs
// chosen so that diag(R) is non-negative.
func qfactor(a *mat.Dense) *mat.Dense {
	n, p := a.Dims()
	var qr mat.QR
	qr.Factorize(a)
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	out := mat.NewDense(n, p, nil)
	for j := 0; j < p; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < n; i++ {
			out.Set(i, j, sign*q.At(i, j))
		}
	}
	return out
}
