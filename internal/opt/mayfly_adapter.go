package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/mayfly"

	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// MayflyConfig configures the Mayfly swarm solver. Each outer iteration is
// one round of the external Mayfly optimizer over a tangent-space chart
// centred on the best point so far.
type MayflyConfig struct {
	Config
	// RoundIterations is the number of Mayfly iterations per round.
	RoundIterations int
	// Population is the Mayfly population size (at least 20).
	Population int
	// Radius bounds every chart coordinate; zero selects the manifold's
	// typical distance.
	Radius float64
	// Shrink scales the radius after a round without improvement.
	Shrink float64
}

func DefaultMayflyConfig() MayflyConfig {
	cfg := DefaultConfig()
	cfg.MaxIterations = 20
	cfg.MaxCostEvals = 0
	return MayflyConfig{
		Config:          cfg,
		RoundIterations: 50,
		Population:      20,
		Shrink:          0.5,
	}
}

// Mayfly is a derivative-free population solver. Candidate points are
// Retr(c, Proj(c, z)) for chart coordinates z in [-Radius, Radius]^n around
// the centre c.
type Mayfly struct {
	cfg MayflyConfig
}

func NewMayfly(cfg MayflyConfig) (*Mayfly, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.RoundIterations <= 0:
		return nil, &problem.ConfigurationError{Field: "RoundIterations", Reason: "must be positive"}
	case cfg.Population < 20:
		return nil, &problem.ConfigurationError{Field: "Population", Reason: fmt.Sprintf("must be at least 20, got %d", cfg.Population)}
	case cfg.Radius < 0:
		return nil, &problem.ConfigurationError{Field: "Radius", Reason: "must not be negative"}
	case !(cfg.Shrink > 0 && cfg.Shrink <= 1):
		return nil, &problem.ConfigurationError{Field: "Shrink", Reason: fmt.Sprintf("must lie in (0, 1], got %g", cfg.Shrink)}
	}
	return &Mayfly{cfg: cfg}, nil
}

func (s *Mayfly) Name() string { return "mayfly" }

func (s *Mayfly) Solve(ctx context.Context, p *problem.Problem, x0 value.Value) (*Result, error) {
	m := p.Manifold()
	radius := s.cfg.Radius
	if radius == 0 {
		radius = m.TypicalDist()
	}
	params := map[string]any{
		"round_iterations": s.cfg.RoundIterations,
		"population":       s.cfg.Population,
		"radius":           radius,
		"shrink":           s.cfg.Shrink,
	}
	r := newRun(ctx, s.Name(), s.cfg.Config, p, params, []string{"radius", "improved"})
	x, err := r.initialPoint(x0)
	if err != nil {
		return nil, err
	}
	shape := p.CostFunction().Shape()

	cost := r.cost(x)
	improved := 1.0
	for iter := 0; ; iter++ {
		extra := map[string]float64{"radius": radius, "improved": improved}
		r.record(iter, x, cost, extra)

		if stop := r.check(iter, math.Inf(1), math.Inf(1)); stop != nil {
			return r.finish(x, cost, stop, iter, extra), nil
		}

		centre := x
		chart := func(z []float64) value.Value {
			u, err := value.Unflatten(shape, z)
			if err != nil {
				panic(err)
			}
			return m.Retr(centre, m.Proj(centre, u))
		}

		config := mayfly.NewDefaultConfig()
		config.ObjectiveFunc = func(z []float64) float64 {
			if r.ctx.Err() != nil || (r.cfg.MaxCostEvals > 0 && r.costEvals >= r.cfg.MaxCostEvals) {
				return math.Inf(1)
			}
			return r.cost(chart(z))
		}
		config.ProblemSize = shape.Size()
		config.MaxIterations = s.cfg.RoundIterations
		config.NPop = s.cfg.Population
		config.LowerBound = -radius
		config.UpperBound = radius
		config.Rand = rand.New(rand.NewSource(s.cfg.Seed + int64(iter)))

		result, err := mayfly.Optimize(config)
		if err != nil {
			return nil, fmt.Errorf("mayfly round %d: %w", iter, err)
		}

		if best := result.GlobalBest.Cost; best < cost {
			x, cost = chart(result.GlobalBest.Position), best
			improved = 1
		} else {
			radius *= s.cfg.Shrink
			improved = 0
		}
	}
}
