package opt

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// Shifted sphere function: f(x) = sum((x_i - 1)^2), minimum at (1, 1, 1).
func shiftedSphere(x value.Value) float64 {
	var sum float64
	for _, v := range value.Flatten(x) {
		sum += (v - 1) * (v - 1)
	}
	return sum
}

func shiftedSphereProblem(t *testing.T) *problem.Problem {
	t.Helper()
	f, err := autodiff.Compile(autodiff.NumericFunc(shiftedSphere), value.VectorShape(3))
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	p, err := problem.New(manifold.NewEuclidean(3, 1), f, problem.WithVerbosity(0))
	if err != nil {
		t.Fatalf("New problem: %v", err)
	}
	return p
}

func TestMayflyOnShiftedSphere(t *testing.T) {
	cfg := DefaultMayflyConfig()
	cfg.MaxIterations = 4
	cfg.RoundIterations = 100
	cfg.Seed = 42
	solver, err := NewMayfly(cfg)
	if err != nil {
		t.Fatalf("NewMayfly: %v", err)
	}

	res, err := solver.Solve(context.Background(), shiftedSphereProblem(t), value.NewVector([]float64{0, 0, 0}))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}

	best := value.Flatten(res.X)
	if len(best) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(best))
	}
	if res.Cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", res.Cost)
	}
	for i, v := range best {
		if math.Abs(v-1) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 1", i, v)
		}
	}
	if got := shiftedSphere(res.X); got != res.Cost {
		t.Errorf("Reported cost %g does not match cost at X %g", res.Cost, got)
	}
}

func TestMayflyDeterministic(t *testing.T) {
	run := func() *Result {
		// Population must be >= 20 for mayfly v0.1.0
		cfg := DefaultMayflyConfig()
		cfg.MaxIterations = 3
		cfg.RoundIterations = 20
		cfg.Seed = 123
		solver, err := NewMayfly(cfg)
		if err != nil {
			t.Fatalf("NewMayfly: %v", err)
		}
		res, err := solver.Solve(context.Background(), shiftedSphereProblem(t), nil)
		if err != nil {
			t.Fatalf("Solve: %v", err)
		}
		return res
	}

	r1, r2 := run(), run()
	if r1.Cost != r2.Cost {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", r1.Cost, r2.Cost)
	}
	if r1.CostEvals != r2.CostEvals {
		t.Errorf("Non-deterministic: evals1=%d, evals2=%d", r1.CostEvals, r2.CostEvals)
	}
}

func TestMayflyShrinksRadiusWithoutImprovement(t *testing.T) {
	cfg := DefaultMayflyConfig()
	cfg.MaxIterations = 3
	cfg.RoundIterations = 5
	cfg.Radius = 0.5
	var radii []float64
	var improved []float64
	cfg.Observer = func(rec IterationRecord) {
		radii = append(radii, float64(rec.Extra["radius"]))
		improved = append(improved, float64(rec.Extra["improved"]))
	}
	solver, err := NewMayfly(cfg)
	if err != nil {
		t.Fatalf("NewMayfly: %v", err)
	}

	// Starting at the minimum, no round can improve.
	res, err := solver.Solve(context.Background(), shiftedSphereProblem(t), value.NewVector([]float64{1, 1, 1}))
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if res.Cost != 0 {
		t.Fatalf("Expected cost 0, got %g", res.Cost)
	}
	want := []float64{0.5, 0.25, 0.125, 0.0625}
	if len(radii) != len(want) {
		t.Fatalf("Expected %d rounds recorded, got %d", len(want), len(radii))
	}
	for i := range want {
		if radii[i] != want[i] {
			t.Errorf("Round %d radius = %g, want %g", i, radii[i], want[i])
		}
		if i > 0 && improved[i] != 0 {
			t.Errorf("Round %d reported an improvement", i)
		}
	}
}
