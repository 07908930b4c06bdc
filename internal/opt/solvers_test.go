package opt

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

func TestSolversMinimizeRayleighQuotient(t *testing.T) {
	tol := map[string]float64{
		"steepest-descent":   1e-8,
		"conjugate-gradient": 1e-8,
		"barzilai-borwein":   1e-8,
		"trust-regions":      1e-8,
		"nelder-mead":        1e-3,
		"mayfly":             5e-2,
	}
	for _, s := range allSolvers() {
		t.Run(s.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Seed = 3
			if s.name == "mayfly" {
				cfg.MaxIterations = 5
			}
			solver, err := s.new(cfg)
			require.NoError(t, err)
			assert.Equal(t, s.name, solver.Name())

			res, err := solver.Solve(context.Background(), rayleighProblem(t, 3), nil)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, res.Cost, tol[s.name], "stop: %s", res.Stop.Reason)
			assert.InDelta(t, 1.0, value.Norm(res.X), 1e-9)
			assert.False(t, res.Stop.Kind.Failed(), res.Stop.Reason)
			assert.Greater(t, res.CostEvals, 0)
		})
	}
}

func TestConjugateGradientBetaRules(t *testing.T) {
	for _, rule := range []BetaRule{FletcherReeves, PolakRibiere, HestenesStiefel, HagerZhang} {
		t.Run(rule.String(), func(t *testing.T) {
			cfg := DefaultConjugateGradientConfig()
			cfg.BetaRule = rule
			cfg.Seed = 11
			cg, err := NewConjugateGradient(cfg)
			require.NoError(t, err)

			res, err := cg.Solve(context.Background(), rayleighProblem(t, 5), nil)
			require.NoError(t, err)
			assert.InDelta(t, 1.0, res.Cost, 1e-8)
			assert.False(t, res.Stop.Kind.Failed(), res.Stop.Reason)

			parsed, err := ParseBetaRule(rule.String())
			require.NoError(t, err)
			assert.Equal(t, rule, parsed)
		})
	}
}

func TestConjugateGradientHandlesZeroGradient(t *testing.T) {
	// The first step lands exactly where the gradient vanishes.
	f, err := autodiff.Compile(&autodiff.Explicit{
		Cost: func(x value.Value) float64 {
			a := math.Max(0, value.AsArray(x).Data[0])
			return a * a
		},
		EGrad: func(x value.Value) value.Value {
			return value.NewVector([]float64{2 * math.Max(0, value.AsArray(x).Data[0]), 0})
		},
	}, value.VectorShape(2))
	require.NoError(t, err)
	p, err := problem.New(manifold.NewEuclidean(2, 1), f, problem.WithVerbosity(0))
	require.NoError(t, err)

	for _, rule := range []BetaRule{FletcherReeves, PolakRibiere, HestenesStiefel, HagerZhang} {
		t.Run(rule.String(), func(t *testing.T) {
			cfg := DefaultConjugateGradientConfig()
			cfg.BetaRule = rule
			cfg.MinGradNorm = 0
			cfg.MaxIterations = 10
			cg, err := NewConjugateGradient(cfg)
			require.NoError(t, err)

			res, err := cg.Solve(context.Background(), p, value.NewVector([]float64{1, 0}))
			require.NoError(t, err)
			assert.True(t, value.IsFinite(res.X), "point %v", value.Flatten(res.X))
			assert.Equal(t, 0.0, res.Cost)
		})
	}
}

func TestHagerZhangBetaWithOrthogonalDifference(t *testing.T) {
	m := manifold.NewEuclidean(2, 1)
	oldGrad := value.NewVector([]float64{1, 0})
	newGrad := value.NewVector([]float64{1, 1})
	cfg := DefaultConjugateGradientConfig()
	cfg.BetaRule = HagerZhang
	cg, err := NewConjugateGradient(cfg)
	require.NoError(t, err)

	// The gradient difference (0, 1) is orthogonal to the direction (1, 0).
	beta := cg.beta(m, cgStep{
		x: value.NewVector([]float64{0, 0}), newx: value.NewVector([]float64{1, 0}),
		pgrad: oldGrad, gradPgrad: 1, gradNorm: 1,
		newGrad: newGrad, oldGrad: oldGrad,
		pNewGrad: newGrad, newGradPNewGrad: 2,
		desc: value.NewVector([]float64{1, 0}),
	})
	assert.Equal(t, 0.0, beta)
}

func TestConjugateGradientUsesPreconditioner(t *testing.T) {
	calls := 0
	p := quadraticProblem(t, problem.WithPreconditioner(func(_, u value.Value) value.Value {
		calls++
		a := value.AsArray(u)
		return value.NewVector([]float64{a.Data[0], a.Data[1] / 10})
	}))
	cg, err := NewConjugateGradient(DefaultConjugateGradientConfig())
	require.NoError(t, err)

	res, err := cg.Solve(context.Background(), p, value.NewVector([]float64{3, -2}))
	require.NoError(t, err)
	assert.Greater(t, calls, 0)
	assert.InDelta(t, 0, res.Cost, 1e-10)
}

func TestSolversAreDeterministic(t *testing.T) {
	for _, s := range allSolvers() {
		t.Run(s.name, func(t *testing.T) {
			solve := func() *Result {
				cfg := DefaultConfig()
				cfg.Seed = 42
				cfg.MaxIterations = 15
				cfg.LogVerbosity = LogIterations
				solver, err := s.new(cfg)
				require.NoError(t, err)
				res, err := solver.Solve(context.Background(), rayleighProblem(t, 4), nil)
				require.NoError(t, err)
				return res
			}
			a, b := solve(), solve()

			require.NotNil(t, a.Log)
			assert.Equal(t, a.Log.Costs(), b.Log.Costs())
			require.Equal(t, len(a.Log.Iterations), len(b.Log.Iterations))
			for i := range a.Log.Iterations {
				assert.Equal(t, a.Log.Iterations[i].X, b.Log.Iterations[i].X, "iteration %d", i)
			}
			assert.Equal(t, value.Flatten(a.X), value.Flatten(b.X))
			assert.Equal(t, a.CostEvals, b.CostEvals)
		})
	}
}

func TestSolversTerminateOnEveryBudget(t *testing.T) {
	budgets := []struct {
		name string
		set  func(*Config)
		want StopKind
	}{
		{"max-iterations", func(c *Config) { c.MaxIterations = 3 }, StopMaxIterations},
		{"max-cost-evals", func(c *Config) { c.MaxCostEvals = 10 }, StopMaxCostEvals},
		{"max-time", func(c *Config) { c.MaxTime = time.Nanosecond }, StopMaxTime},
	}
	for _, s := range allSolvers() {
		for _, b := range budgets {
			t.Run(s.name+"/"+b.name, func(t *testing.T) {
				cfg := budgetConfig()
				b.set(&cfg)
				solver, err := s.new(cfg)
				require.NoError(t, err)

				res, err := solver.Solve(context.Background(), rayleighProblem(t, 3), nil)
				require.NoError(t, err)
				assert.Equal(t, b.want, res.Stop.Kind, res.Stop.Reason)
			})
		}
	}
}

func TestGradientSolversStopOnGradNorm(t *testing.T) {
	for _, s := range allSolvers()[:4] {
		t.Run(s.name, func(t *testing.T) {
			cfg := budgetConfig()
			cfg.MinGradNorm = 1e-3
			solver, err := s.new(cfg)
			require.NoError(t, err)

			res, err := solver.Solve(context.Background(), rayleighProblem(t, 3), nil)
			require.NoError(t, err)
			assert.Equal(t, StopMinGradNorm, res.Stop.Kind, res.Stop.Reason)
			assert.True(t, res.Stop.Kind.Converged())
		})
	}
}

func TestSolversHonourCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, s := range allSolvers() {
		t.Run(s.name, func(t *testing.T) {
			solver, err := s.new(DefaultConfig())
			require.NoError(t, err)
			res, err := solver.Solve(ctx, rayleighProblem(t, 3), nil)
			require.NoError(t, err)
			assert.Equal(t, StopCancelled, res.Stop.Kind)
			assert.Equal(t, 0, res.Iterations)
		})
	}
}

func TestSolveRejectsMismatchedStart(t *testing.T) {
	for _, s := range allSolvers() {
		t.Run(s.name, func(t *testing.T) {
			solver, err := s.new(DefaultConfig())
			require.NoError(t, err)
			_, err = solver.Solve(context.Background(), rayleighProblem(t, 3), value.NewVector([]float64{1, 0}))
			var cfgErr *problem.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, "x", cfgErr.Field)
		})
	}
}

func TestSolveDoesNotMutateStart(t *testing.T) {
	x0 := value.NewVector([]float64{0.6, 0.8, 0})
	before := value.Flatten(x0)
	sd, err := NewSteepestDescent(DefaultSteepestDescentConfig())
	require.NoError(t, err)
	_, err = sd.Solve(context.Background(), rayleighProblem(t, 3), x0)
	require.NoError(t, err)
	assert.Equal(t, before, value.Flatten(x0))
}

func TestObserverSeesEveryIteration(t *testing.T) {
	var seen []int
	cfg := DefaultSteepestDescentConfig()
	cfg.MaxIterations = 5
	cfg.MinGradNorm = 0
	cfg.Observer = func(rec IterationRecord) {
		seen = append(seen, rec.Iteration)
		assert.Len(t, rec.X, 3)
	}
	sd, err := NewSteepestDescent(cfg)
	require.NoError(t, err)
	res, err := sd.Solve(context.Background(), rayleighProblem(t, 3), nil)
	require.NoError(t, err)
	assert.Nil(t, res.Log)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, seen)
}

func TestSummaryLog(t *testing.T) {
	cfg := DefaultBarzilaiBorweinConfig()
	cfg.LogVerbosity = LogSummary
	bb, err := NewBarzilaiBorwein(cfg)
	require.NoError(t, err)

	res, err := bb.Solve(context.Background(), rayleighProblem(t, 3), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Log)
	assert.Empty(t, res.Log.Iterations)
	require.NotNil(t, res.Log.Final)
	assert.Equal(t, "barzilai-borwein", res.Log.Solver)
	assert.Equal(t, res.Stop.Reason, res.Log.StopReason())
	assert.Equal(t, []string{"gradnorm", "stepsize", "lambda"}, res.Log.ExtraFields)
	assert.Equal(t, "direct", res.Log.SolverParams["strategy"])
	assert.Equal(t, float64(res.Log.Final.Cost), res.Cost)
}

func TestBarzilaiBorweinStepIsClipped(t *testing.T) {
	cfg := DefaultBarzilaiBorweinConfig()
	cfg.LambdaMin = 0.2
	cfg.LambdaMax = 0.4
	cfg.Lambda0 = 0.3
	for _, strategy := range []BBStrategy{BBDirect, BBInverse, BBAlternate} {
		t.Run(strategy.String(), func(t *testing.T) {
			c := cfg
			c.Strategy = strategy
			var lambdas []float64
			c.Observer = func(rec IterationRecord) {
				lambdas = append(lambdas, float64(rec.Extra["lambda"]))
			}
			bb, err := NewBarzilaiBorwein(c)
			require.NoError(t, err)
			_, err = bb.Solve(context.Background(), rayleighProblem(t, 6), nil)
			require.NoError(t, err)

			require.NotEmpty(t, lambdas)
			for i, l := range lambdas {
				assert.GreaterOrEqual(t, l, c.LambdaMin, "iteration %d", i)
				assert.LessOrEqual(t, l, c.LambdaMax, "iteration %d", i)
			}
		})
	}
}

func TestBarzilaiBorweinStepGuards(t *testing.T) {
	p := quadraticProblem(t)
	m := p.Manifold()
	x := value.NewVector([]float64{0, 0})
	s := value.NewVector([]float64{1, 0})

	bb, err := NewBarzilaiBorwein(DefaultBarzilaiBorweinConfig())
	require.NoError(t, err)

	// <S, Y> <= 0 falls back to LambdaMax.
	assert.Equal(t, 1e3, bb.step(m, x, s, value.NewVector([]float64{-1, 0}), 0))
	assert.Equal(t, 1e3, bb.step(m, x, s, value.NewVector([]float64{0, 1}), 0))
	// <S, S> / <S, Y> = 1 / 4.
	assert.Equal(t, 0.25, bb.step(m, x, s, value.NewVector([]float64{4, 0}), 0))
	// Tiny curvature gets clipped.
	assert.Equal(t, 1e3, bb.step(m, x, s, value.NewVector([]float64{1e-9, 0}), 0))

	cfg := DefaultBarzilaiBorweinConfig()
	cfg.Strategy = BBInverse
	inv, err := NewBarzilaiBorwein(cfg)
	require.NoError(t, err)
	// <S, Y> / <Y, Y> = 4 / 16.
	assert.Equal(t, 0.25, inv.step(m, x, s, value.NewVector([]float64{4, 0}), 0))
	assert.Equal(t, 1e3, inv.step(m, x, s, value.NewVector([]float64{-4, 0}), 0))
	// Huge curvature gets clipped to LambdaMin.
	assert.Equal(t, 1e-3, inv.step(m, x, s, value.NewVector([]float64{1e6, 0}), 0))

	cfg.Strategy = BBAlternate
	alt, err := NewBarzilaiBorwein(cfg)
	require.NoError(t, err)
	y := value.NewVector([]float64{2, 1})
	assert.Equal(t, bb.step(m, x, s, y, 0), alt.step(m, x, s, y, 0))
	assert.Equal(t, inv.step(m, x, s, y, 1), alt.step(m, x, s, y, 1))
}

func TestTrustRegionRadiusNeverGrowsOnRejection(t *testing.T) {
	// A badly underestimated Hessian makes tCG run to the boundary of a huge
	// radius, so early proposals are rejected.
	p := quadraticProblem(t, problem.WithHessian(func(_, u value.Value) value.Value {
		return value.Scale(0.01, u)
	}))
	cfg := DefaultTrustRegionsConfig()
	cfg.DeltaBar = 100
	cfg.Delta0 = 100
	var recs []IterationRecord
	cfg.Observer = func(rec IterationRecord) { recs = append(recs, rec) }
	tr, err := NewTrustRegions(cfg)
	require.NoError(t, err)

	res, err := tr.Solve(context.Background(), p, value.NewVector([]float64{1, 1}))
	require.NoError(t, err)
	assert.Less(t, res.Cost, 11.0)

	rejected := 0
	for i := 1; i < len(recs); i++ {
		if recs[i].Extra["accepted"] == 0 {
			rejected++
			assert.LessOrEqual(t, float64(recs[i].Extra["delta"]), float64(recs[i-1].Extra["delta"]), "iteration %d", i)
			assert.Equal(t, recs[i-1].Cost, recs[i].Cost, "rejected step changed the point")
		}
	}
	assert.Greater(t, rejected, 0)
}

func TestTrustRegionsStopsOnCollapsedRadius(t *testing.T) {
	// A Hessian of the wrong sign never predicts the actual change.
	p := quadraticProblem(t, problem.WithHessian(func(_, u value.Value) value.Value {
		return value.Scale(-50, u)
	}))
	cfg := DefaultTrustRegionsConfig()
	cfg.MinDelta = 1e-6
	tr, err := NewTrustRegions(cfg)
	require.NoError(t, err)

	res, err := tr.Solve(context.Background(), p, value.NewVector([]float64{1, 1}))
	require.NoError(t, err)
	assert.Contains(t, []StopKind{StopMinTrustRadius, StopMinGradNorm}, res.Stop.Kind, res.Stop.Reason)
	assert.LessOrEqual(t, res.Cost, 11.0)
}

func TestTrustRegionsWithRandomStart(t *testing.T) {
	cfg := DefaultTrustRegionsConfig()
	cfg.UseRand = true
	cfg.Seed = 5
	tr, err := NewTrustRegions(cfg)
	require.NoError(t, err)

	res, err := tr.Solve(context.Background(), rayleighProblem(t, 4), nil)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Cost, 1e-8, res.Stop.Reason)
}

func TestTrustRegionsAcceptsExactModelSteps(t *testing.T) {
	// The tape Hessian of a quadratic on R^2 is exact, so the model predicts
	// the actual decrease and rho is one.
	cfg := DefaultTrustRegionsConfig()
	var recs []IterationRecord
	cfg.Observer = func(rec IterationRecord) { recs = append(recs, rec) }
	tr, err := NewTrustRegions(cfg)
	require.NoError(t, err)

	res, err := tr.Solve(context.Background(), quadraticProblem(t), value.NewVector([]float64{3, -2}))
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 2)
	assert.InDelta(t, 1.0, float64(recs[1].Extra["rho"]), 1e-6)
	assert.Equal(t, 1.0, float64(recs[1].Extra["accepted"]))
	assert.Less(t, recs[1].Cost, recs[0].Cost)
	assert.InDelta(t, 0, res.Cost, 1e-12, res.Stop.Reason)
	assert.False(t, res.Stop.Kind.Failed(), res.Stop.Reason)
}

func TestTrustRegionsConfigValidation(t *testing.T) {
	for _, rho := range []float64{-0.1, 0.25, 0.5, math.NaN()} {
		cfg := DefaultTrustRegionsConfig()
		cfg.RhoPrime = rho
		_, err := NewTrustRegions(cfg)
		var cfgErr *problem.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, "rho' = %g", rho)
		assert.Equal(t, "RhoPrime", cfgErr.Field)
	}

	cfg := DefaultTrustRegionsConfig()
	cfg.RhoPrime = 0
	_, err := NewTrustRegions(cfg)
	assert.NoError(t, err)
}

func TestTCGStopReasons(t *testing.T) {
	p := quadraticProblem(t)
	tr, err := NewTrustRegions(DefaultTrustRegionsConfig())
	require.NoError(t, err)
	cfg := tr.cfg
	cfg.MaxInner = 2
	x := value.NewVector([]float64{1, 1})
	grad := p.Grad(x)

	// The Newton step has norm sqrt(2); a small radius is hit first.
	res := tr.truncatedCG(p, cfg, x, grad, value.NewVector([]float64{0, 0}), 0.1)
	assert.Equal(t, TCGExceededTrustRegion, res.stop)
	assert.InDelta(t, 0.1, value.Norm(res.eta), 1e-12)

	cfg.Kappa = 1e-12
	res = tr.truncatedCG(p, cfg, x, grad, value.NewVector([]float64{0, 0}), 10)
	assert.Contains(t, []TCGStop{TCGReachedTargetLinear, TCGReachedTargetSuperlinear, TCGMaxInnerIterations}, res.stop, res.stop.String())
	assert.InDeltaSlice(t, []float64{-1, -1}, value.Flatten(res.eta), 1e-10)

	neg := quadraticProblem(t, problem.WithHessian(func(_, u value.Value) value.Value { return value.Scale(-1, u) }))
	res = tr.truncatedCG(neg, cfg, x, neg.Grad(x), value.NewVector([]float64{0, 0}), 1)
	assert.Equal(t, TCGNegativeCurvature, res.stop)
	assert.InDelta(t, 1, value.Norm(res.eta), 1e-12)

	nan := quadraticProblem(t, problem.WithHessian(func(_, u value.Value) value.Value { return value.Scale(math.NaN(), u) }))
	res = tr.truncatedCG(nan, cfg, x, nan.Grad(x), value.NewVector([]float64{0, 0}), 1)
	assert.Equal(t, TCGDiverged, res.stop)
}

func TestTrustRegionsReportsDivergence(t *testing.T) {
	p := quadraticProblem(t, problem.WithHessian(func(_, u value.Value) value.Value {
		return value.Scale(math.Inf(1), u)
	}))
	tr, err := NewTrustRegions(DefaultTrustRegionsConfig())
	require.NoError(t, err)
	x0 := value.NewVector([]float64{1, 1})

	res, err := tr.Solve(context.Background(), p, x0)
	require.NoError(t, err)
	assert.Equal(t, StopNumericalFailure, res.Stop.Kind)
	assert.True(t, res.Stop.Kind.Failed())
	assert.Equal(t, value.Flatten(x0), value.Flatten(res.X))
}

func TestNelderMeadBestCostNeverIncreases(t *testing.T) {
	cfg := DefaultNelderMeadConfig()
	cfg.MaxIterations = 150
	cfg.Seed = 9
	var best []float64
	moves := map[float64]int{}
	cfg.Observer = func(rec IterationRecord) {
		best = append(best, float64(rec.Cost))
		assert.GreaterOrEqual(t, float64(rec.Extra["worst_cost"]), float64(rec.Cost))
		moves[float64(rec.Extra["move"])]++
	}
	nm, err := NewNelderMead(cfg)
	require.NoError(t, err)

	_, err = nm.Solve(context.Background(), rayleighProblem(t, 4), nil)
	require.NoError(t, err)
	require.NotEmpty(t, best)
	for i := 1; i < len(best); i++ {
		assert.LessOrEqual(t, best[i], best[i-1], "iteration %d", i)
	}
	assert.Greater(t, moves[moveReflection], 0)
}

func TestNelderMeadSimplex(t *testing.T) {
	p := rayleighProblem(t, 3)
	nm, err := NewNelderMead(DefaultNelderMeadConfig())
	require.NoError(t, err)

	_, err = nm.SolveSimplex(context.Background(), p, []value.Value{value.NewVector([]float64{1, 0, 0})})
	var cfgErr *problem.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "simplex", cfgErr.Field)

	simplex := []value.Value{
		value.NewVector([]float64{0, 1, 0}),
		value.NewVector([]float64{0, 0, 1}),
		value.NewVector([]float64{0.6, 0.8, 0}),
		value.NewVector([]float64{0, 0.6, 0.8}),
	}
	res, err := nm.SolveSimplex(context.Background(), p, simplex)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, res.Cost, 1e-3)
	assert.Equal(t, []float64{0, 1, 0}, value.Flatten(simplex[0]))
}

func TestNelderMeadDefaultsScaleWithDimension(t *testing.T) {
	cfg := DefaultNelderMeadConfig()
	cfg.LogVerbosity = LogSummary
	cfg.MaxTime = time.Nanosecond
	nm, err := NewNelderMead(cfg)
	require.NoError(t, err)

	res, err := nm.Solve(context.Background(), rayleighProblem(t, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, res.Log.StoppingCriteria["max_iterations"])
	assert.Equal(t, 1000.0, res.Log.StoppingCriteria["max_cost_evals"])
}

func TestNelderMeadBudgetsThroughRegistry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	cfg.MaxCostEvals = 0
	cfg.LogVerbosity = LogSummary
	cfg.MaxTime = time.Nanosecond
	nm, err := New("nelder-mead", cfg, Params{})
	require.NoError(t, err)
	res, err := nm.Solve(context.Background(), rayleighProblem(t, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 2000.0, res.Log.StoppingCriteria["max_iterations"])
	assert.Equal(t, 1000.0, res.Log.StoppingCriteria["max_cost_evals"])

	// An explicit budget wins over the dimension default.
	cfg.MaxIterations = 50
	cfg.MaxCostEvals = 70
	nm, err = New("nelder-mead", cfg, Params{})
	require.NoError(t, err)
	res, err = nm.Solve(context.Background(), rayleighProblem(t, 3), nil)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Log.StoppingCriteria["max_iterations"])
	assert.Equal(t, 70.0, res.Log.StoppingCriteria["max_cost_evals"])
}

func TestSortSimplex(t *testing.T) {
	x := []value.Value{
		value.NewVector([]float64{3}),
		value.NewVector([]float64{1}),
		value.NewVector([]float64{2}),
		value.NewVector([]float64{1.5}),
	}
	costs := []float64{3, 1, 2, 1}
	sortSimplex(x, costs)
	assert.Equal(t, []float64{1, 1, 2, 3}, costs)
	assert.Equal(t, []float64{1}, value.Flatten(x[0]))
	assert.Equal(t, []float64{1.5}, value.Flatten(x[1]))
	assert.Equal(t, []float64{3}, value.Flatten(x[3]))
}

func TestSolverConfigValidation(t *testing.T) {
	bad := budgetConfig()
	bad.MaxIterations = -1
	for _, s := range allSolvers() {
		_, err := s.new(bad)
		var cfgErr *problem.ConfigurationError
		require.ErrorAs(t, err, &cfgErr, s.name)
		assert.Equal(t, "MaxIterations", cfgErr.Field)
	}

	bb := DefaultBarzilaiBorweinConfig()
	bb.LambdaMax = bb.LambdaMin / 2
	_, err := NewBarzilaiBorwein(bb)
	assert.Error(t, err)

	cg := DefaultConjugateGradientConfig()
	cg.BetaRule = BetaRule(42)
	_, err = NewConjugateGradient(cg)
	assert.ErrorContains(t, err, "BetaRule(42)")

	nm := DefaultNelderMeadConfig()
	nm.Contraction = 1
	_, err = NewNelderMead(nm)
	assert.Error(t, err)

	mf := DefaultMayflyConfig()
	mf.Population = 10
	_, err = NewMayfly(mf)
	assert.ErrorContains(t, err, "at least 20")
}

func TestGradientSolversNeedAGradient(t *testing.T) {
	p := numericOnlyProblem(t)
	for _, s := range allSolvers()[:4] {
		solver, err := s.new(DefaultConfig())
		require.NoError(t, err)
		_, err = solver.Solve(context.Background(), p, nil)
		require.Error(t, err, s.name)
		assert.ErrorContains(t, err, s.name)
	}

	// Derivative-free solvers are fine with it.
	nm, err := NewNelderMead(DefaultNelderMeadConfig())
	require.NoError(t, err)
	_, err = nm.Solve(context.Background(), p, nil)
	assert.NoError(t, err)
}
