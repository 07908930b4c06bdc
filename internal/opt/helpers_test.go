package opt

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/autodiff/tape"
	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// rayleighProblem minimizes x^T diag(1, ..., n) x on the unit sphere. The
// minimum is 1, attained at +-e1.
func rayleighProblem(t *testing.T, n int, opts ...problem.Option) *problem.Problem {
	t.Helper()
	fn := tape.Func(func(_ *tape.Tape, args []*tape.Array) tape.Var {
		x := args[0]
		s := x.Elems[0].Square()
		for i := 1; i < n; i++ {
			s = s.Add(x.Elems[i].Square().Scale(float64(i + 1)))
		}
		return s
	})
	f, err := autodiff.Compile(fn, value.VectorShape(n))
	require.NoError(t, err)
	p, err := problem.New(manifold.NewSphere(n), f, append([]problem.Option{problem.WithVerbosity(0)}, opts...)...)
	require.NoError(t, err)
	return p
}

// quadraticProblem minimizes x^T diag(1, 10) x on R^2.
func quadraticProblem(t *testing.T, opts ...problem.Option) *problem.Problem {
	t.Helper()
	fn := tape.Func(func(_ *tape.Tape, args []*tape.Array) tape.Var {
		x := args[0]
		return x.Elems[0].Square().Add(x.Elems[1].Square().Scale(10))
	})
	f, err := autodiff.Compile(fn, value.VectorShape(2))
	require.NoError(t, err)
	p, err := problem.New(manifold.NewEuclidean(2, 1), f, append([]problem.Option{problem.WithVerbosity(0)}, opts...)...)
	require.NoError(t, err)
	return p
}

// budgetConfig disables every criterion; tests switch on the one they need.
func budgetConfig() Config {
	return Config{Seed: 7}
}

type namedSolver struct {
	name string
	new  func(cfg Config) (Solver, error)
}

func allSolvers() []namedSolver {
	return []namedSolver{
		{"steepest-descent", func(cfg Config) (Solver, error) {
			c := DefaultSteepestDescentConfig()
			c.Config = cfg
			return NewSteepestDescent(c)
		}},
		{"conjugate-gradient", func(cfg Config) (Solver, error) {
			c := DefaultConjugateGradientConfig()
			c.Config = cfg
			return NewConjugateGradient(c)
		}},
		{"barzilai-borwein", func(cfg Config) (Solver, error) {
			c := DefaultBarzilaiBorweinConfig()
			c.Config = cfg
			return NewBarzilaiBorwein(c)
		}},
		{"trust-regions", func(cfg Config) (Solver, error) {
			c := DefaultTrustRegionsConfig()
			c.Config = cfg
			return NewTrustRegions(c)
		}},
		{"nelder-mead", func(cfg Config) (Solver, error) {
			c := DefaultNelderMeadConfig()
			c.Config = cfg
			return NewNelderMead(c)
		}},
		{"mayfly", func(cfg Config) (Solver, error) {
			c := DefaultMayflyConfig()
			c.Config = cfg
			c.RoundIterations = 10
			return NewMayfly(c)
		}},
	}
}

// numericOnlyProblem is the Rayleigh quotient on S^2 with a cost function
// that has no derivatives.
func numericOnlyProblem(t *testing.T) *problem.Problem {
	t.Helper()
	f, err := autodiff.Compile(&autodiff.Explicit{
		Cost: func(x value.Value) float64 {
			a := value.AsArray(x)
			return a.Data[0]*a.Data[0] + 2*a.Data[1]*a.Data[1] + 3*a.Data[2]*a.Data[2]
		},
	}, value.VectorShape(3))
	require.NoError(t, err)
	p, err := problem.New(manifold.NewSphere(3), f, problem.WithVerbosity(0))
	require.NoError(t, err)
	return p
}
