package bench

import (
	"errors"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/autodiff/tape"
	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// pcaRank is the dimension of the subspace the pca problem looks for.
const pcaRank = 2

// randomSymmetric returns (B + B^T)/2 for a standard normal B, row-major.
func randomSymmetric(rng *rand.Rand, n int) []float64 {
	b := make([]float64, n*n)
	for i := range b {
		b[i] = rng.NormFloat64()
	}
	a := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			a[i*n+j] = (b[i*n+j] + b[j*n+i]) / 2
		}
	}
	return a
}

// randomCovariance returns B B^T / n for a standard normal n x n B.
func randomCovariance(rng *rand.Rand, n int) []float64 {
	b := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			b.Set(i, j, rng.NormFloat64())
		}
	}
	var c mat.Dense
	c.Mul(b, b.T())
	c.Scale(1/float64(n), &c)
	return c.RawMatrix().Data
}

// eigenvalues returns the eigenvalues of a symmetric matrix in ascending order.
func eigenvalues(n int, a []float64) ([]float64, error) {
	var es mat.EigenSym
	if !es.Factorize(mat.NewSymDense(n, append([]float64(nil), a...)), false) {
		return nil, errEigen
	}
	return es.Values(nil), nil
}

var errEigen = errors.New("symmetric eigendecomposition did not converge")

func quadraticForm(n int, a []float64) tape.Func {
	return func(_ *tape.Tape, args []*tape.Array) tape.Var {
		x := args[0]
		return tape.Dot(x, tape.MatMulConst(n, n, a, x))
	}
}

func buildRayleigh(spec Spec, rng *rand.Rand, backends []autodiff.Backend) (*Instance, error) {
	n := spec.Size
	a := randomSymmetric(rng, n)
	eig, err := eigenvalues(n, a)
	if err != nil {
		return nil, err
	}

	f, err := autodiff.Compile(quadraticForm(n, a), value.VectorShape(n), backends...)
	if err != nil {
		return nil, err
	}
	p, err := problem.New(manifold.NewSphere(n), f, problem.WithVerbosity(spec.Verbosity))
	if err != nil {
		return nil, err
	}
	return &Instance{Problem: p, Optimum: eig[0]}, nil
}

func buildPCA(spec Spec, rng *rand.Rand, backends []autodiff.Backend) (*Instance, error) {
	n := spec.Size
	c := randomCovariance(rng, n)
	eig, err := eigenvalues(n, c)
	if err != nil {
		return nil, err
	}

	fn := tape.Func(func(_ *tape.Tape, args []*tape.Array) tape.Var {
		x := args[0]
		return tape.Dot(x, tape.MatMulConst(n, n, c, x)).Neg()
	})
	f, err := autodiff.Compile(fn, value.MatrixShape(n, pcaRank), backends...)
	if err != nil {
		return nil, err
	}
	p, err := problem.New(manifold.NewStiefel(n, pcaRank), f, problem.WithVerbosity(spec.Verbosity))
	if err != nil {
		return nil, err
	}
	return &Instance{Problem: p, Optimum: -floats.Sum(eig[n-pcaRank:])}, nil
}

// buildKarcher places 2n points on the sphere S^{n-1} around a random center.
// The cost sum_i |x - y_i|^2 = 2N - 2<x, s> with s = sum_i y_i is written with
// hand-coded derivatives.
func buildKarcher(spec Spec, rng *rand.Rand, backends []autodiff.Backend) (*Instance, error) {
	n := spec.Size
	count := 2 * n

	center := make([]float64, n)
	for i := range center {
		center[i] = rng.NormFloat64()
	}
	floats.Scale(1/floats.Norm(center, 2), center)

	s := make([]float64, n)
	y := make([]float64, n)
	for k := 0; k < count; k++ {
		for i := range y {
			y[i] = center[i] + 0.3*rng.NormFloat64()
		}
		floats.AddScaled(s, 1/floats.Norm(y, 2), y)
	}

	cost := &autodiff.Explicit{
		Cost: func(x value.Value) float64 {
			return 2*float64(count) - 2*floats.Dot(value.AsArray(x).Data, s)
		},
		EGrad: func(value.Value) value.Value {
			g := make([]float64, n)
			floats.ScaleTo(g, -2, s)
			return value.NewVector(g)
		},
		EHess: func(_, u value.Value) value.Value {
			return value.ZerosLike(u)
		},
	}
	f, err := autodiff.Compile(cost, value.VectorShape(n), backends...)
	if err != nil {
		return nil, err
	}
	p, err := problem.New(manifold.NewSphere(n), f, problem.WithVerbosity(spec.Verbosity))
	if err != nil {
		return nil, err
	}
	return &Instance{Problem: p, Optimum: 2*float64(count) - 2*floats.Norm(s, 2)}, nil
}

// buildRosenbrock has a plain numeric cost, so derivatives come from finite
// differences. The seed is unused.
func buildRosenbrock(spec Spec, _ *rand.Rand, backends []autodiff.Backend) (*Instance, error) {
	n := spec.Size
	cost := autodiff.NumericFunc(func(x value.Value) float64 {
		d := value.AsArray(x).Data
		var sum float64
		for i := 0; i < n-1; i++ {
			a := d[i+1] - d[i]*d[i]
			b := 1 - d[i]
			sum += 100*a*a + b*b
		}
		return sum
	})
	f, err := autodiff.Compile(cost, value.VectorShape(n), backends...)
	if err != nil {
		return nil, err
	}
	p, err := problem.New(manifold.NewEuclidean(n, 1), f, problem.WithVerbosity(spec.Verbosity))
	if err != nil {
		return nil, err
	}
	return &Instance{Problem: p, Optimum: 0}, nil
}

// buildProduct optimizes (x, y) on S^{n-1} x R^n with cost x^T A x + |y - b|^2.
func buildProduct(spec Spec, rng *rand.Rand, backends []autodiff.Backend) (*Instance, error) {
	n := spec.Size
	a := randomSymmetric(rng, n)
	eig, err := eigenvalues(n, a)
	if err != nil {
		return nil, err
	}
	b := make([]float64, n)
	for i := range b {
		b[i] = rng.NormFloat64()
	}

	fn := tape.Func(func(t *tape.Tape, args []*tape.Array) tape.Var {
		x, y := args[0], args[1]
		fit := tape.SumSquares(tape.Sub(y, t.Consts(n, 1, b)))
		return tape.Dot(x, tape.MatMulConst(n, n, a, x)).Add(fit)
	})
	shape := value.GroupShape(value.VectorShape(n), value.VectorShape(n))
	f, err := autodiff.Compile(fn, shape, backends...)
	if err != nil {
		return nil, err
	}
	m := manifold.NewProduct(manifold.NewSphere(n), manifold.NewEuclidean(n, 1))
	p, err := problem.New(m, f, problem.WithVerbosity(spec.Verbosity))
	if err != nil {
		return nil, err
	}
	return &Instance{Problem: p, Optimum: eig[0]}, nil
}
