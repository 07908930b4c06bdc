package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// NelderMeadConfig configures NelderMead. Zero MaxIterations and
// MaxCostEvals select max(2000, 4*dim) and max(1000, 2*dim).
type NelderMeadConfig struct {
	Config
	Reflection  float64
	Expansion   float64
	Contraction float64
	// CentroidIterations bounds the inner conjugate-gradient solve that
	// computes the simplex centroid.
	CentroidIterations int
}

func DefaultNelderMeadConfig() NelderMeadConfig {
	cfg := DefaultConfig()
	cfg.MaxIterations = 0
	cfg.MaxCostEvals = 0
	return NelderMeadConfig{
		Config:             cfg,
		Reflection:         1,
		Expansion:          2,
		Contraction:        0.5,
		CentroidIterations: 15,
	}
}

// NelderMead is a derivative-free simplex method on manifolds. The simplex
// centroid is the Karcher mean of all but the worst vertex.
type NelderMead struct {
	cfg NelderMeadConfig
}

func NewNelderMead(cfg NelderMeadConfig) (*NelderMead, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case !(cfg.Reflection > 0):
		return nil, &problem.ConfigurationError{Field: "Reflection", Reason: "must be positive"}
	case !(cfg.Expansion > cfg.Reflection):
		return nil, &problem.ConfigurationError{Field: "Expansion", Reason: "must exceed Reflection"}
	case !(cfg.Contraction > 0 && cfg.Contraction < 1):
		return nil, &problem.ConfigurationError{Field: "Contraction", Reason: fmt.Sprintf("must lie in (0, 1), got %g", cfg.Contraction)}
	case cfg.CentroidIterations <= 0:
		return nil, &problem.ConfigurationError{Field: "CentroidIterations", Reason: "must be positive"}
	}
	return &NelderMead{cfg: cfg}, nil
}

func (n *NelderMead) Name() string { return "nelder-mead" }

// Solve runs Nelder-Mead from a simplex whose first vertex is x (random when
// nil) and whose remaining vertices are random points.
func (n *NelderMead) Solve(ctx context.Context, p *problem.Problem, x value.Value) (*Result, error) {
	m := p.Manifold()
	r, cfg := n.newRun(ctx, p)
	first, err := r.initialPoint(x)
	if err != nil {
		return nil, err
	}
	simplex := make([]value.Value, m.Dim()+1)
	simplex[0] = first
	for i := 1; i < len(simplex); i++ {
		simplex[i] = m.Rand(r.rng)
	}
	return n.solve(r, cfg, p, simplex)
}

// SolveSimplex runs Nelder-Mead from the given simplex. Extra vertices beyond
// dim+1 are dropped.
func (n *NelderMead) SolveSimplex(ctx context.Context, p *problem.Problem, simplex []value.Value) (*Result, error) {
	dim := p.Manifold().Dim()
	if len(simplex) < dim+1 {
		return nil, &problem.ConfigurationError{
			Field:  "simplex",
			Reason: fmt.Sprintf("has %d vertices, want %d", len(simplex), dim+1),
		}
	}
	if len(simplex) > dim+1 {
		slog.Warn("Simplex size adapted to the manifold dimension", "given", len(simplex), "used", dim+1)
		simplex = simplex[:dim+1]
	}
	r, cfg := n.newRun(ctx, p)
	vertices := make([]value.Value, len(simplex))
	for i, v := range simplex {
		c, err := r.initialPoint(v)
		if err != nil {
			return nil, fmt.Errorf("vertex %d: %w", i, err)
		}
		vertices[i] = c
	}
	return n.solve(r, cfg, p, vertices)
}

func (n *NelderMead) newRun(ctx context.Context, p *problem.Problem) (*run, NelderMeadConfig) {
	cfg := n.cfg
	dim := p.Manifold().Dim()
	if cfg.MaxCostEvals == 0 {
		cfg.MaxCostEvals = max(1000, 2*dim)
	}
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = max(2000, 4*dim)
	}
	params := map[string]any{
		"reflection":          cfg.Reflection,
		"expansion":           cfg.Expansion,
		"contraction":         cfg.Contraction,
		"centroid_iterations": cfg.CentroidIterations,
	}
	return newRun(ctx, n.Name(), cfg.Config, p, params, []string{"worst_cost", "move"}), cfg
}

// Simplex moves, recorded in the "move" field of the log.
const (
	moveNone = iota
	moveReflection
	moveExpansion
	moveOutsideContraction
	moveInsideContraction
	moveShrink
)

func (n *NelderMead) solve(r *run, cfg NelderMeadConfig, p *problem.Problem, x []value.Value) (*Result, error) {
	m := p.Manifold()
	dim := m.Dim()
	if dim < 1 {
		return nil, &problem.ConfigurationError{Field: "manifold", Reason: "needs dimension at least 1 for a simplex"}
	}

	costs := make([]float64, len(x))
	for i, xi := range x {
		costs[i] = r.cost(xi)
	}

	move := moveNone
	for iter := 0; ; iter++ {
		sortSimplex(x, costs)

		extra := map[string]float64{"worst_cost": costs[dim], "move": float64(move)}
		r.record(iter, x[0], costs[0], extra)

		if stop := r.check(iter, math.Inf(1), math.Inf(1)); stop != nil {
			return r.finish(x[0], costs[0], stop, iter, extra), nil
		}

		xbar, err := n.centroid(r.ctx, p, x[:dim], r.cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("centroid: %w", err)
		}
		vec := m.Log(xbar, x[dim])
		along := func(t float64) value.Value { return m.Exp(xbar, value.Scale(t, vec)) }

		xr := along(-cfg.Reflection)
		costR := r.cost(xr)

		switch {
		case costR >= costs[0] && costR < costs[dim-1]:
			x[dim], costs[dim], move = xr, costR, moveReflection
			continue
		case costR < costs[0]:
			xe := along(-cfg.Expansion)
			costE := r.cost(xe)
			if costE < costR {
				x[dim], costs[dim], move = xe, costE, moveExpansion
			} else {
				x[dim], costs[dim], move = xr, costR, moveReflection
			}
			continue
		case costR < costs[dim]:
			xoc := along(-cfg.Contraction)
			costOC := r.cost(xoc)
			if costOC <= costR {
				x[dim], costs[dim], move = xoc, costOC, moveOutsideContraction
				continue
			}
		default:
			xic := along(cfg.Contraction)
			costIC := r.cost(xic)
			if costIC <= costs[dim] {
				x[dim], costs[dim], move = xic, costIC, moveInsideContraction
				continue
			}
		}

		for i := 1; i <= dim; i++ {
			x[i] = m.PairMean(x[0], x[i])
			costs[i] = r.cost(x[i])
		}
		move = moveShrink
	}
}

// sortSimplex orders the vertices by ascending cost. Ties keep their order.
func sortSimplex(x []value.Value, costs []float64) {
	order := make([]int, len(x))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case costs[a] < costs[b]:
			return -1
		case costs[a] > costs[b]:
			return 1
		}
		return 0
	})
	xs := make([]value.Value, len(x))
	cs := make([]float64, len(x))
	for i, o := range order {
		xs[i], cs[i] = x[o], costs[o]
	}
	copy(x, xs)
	copy(costs, cs)
}

// centroid returns the Karcher mean of points: the minimizer of
// 1/2 sum dist(y, x_i)^2, found by a short conjugate-gradient solve started
// at the first point.
func (n *NelderMead) centroid(ctx context.Context, outer *problem.Problem, points []value.Value, seed int64) (value.Value, error) {
	m := outer.Manifold()
	if len(points) == 1 {
		return points[0], nil
	}
	cost, err := autodiff.Compile(&autodiff.Explicit{
		Cost: func(y value.Value) float64 {
			var sum float64
			for _, xi := range points {
				d := manifold.Dist(m, y, xi)
				sum += d * d
			}
			return sum / 2
		},
	}, outer.CostFunction().Shape(), autodiff.NewExplicitBackend())
	if err != nil {
		return nil, err
	}
	p, err := problem.New(m, cost,
		problem.WithGradient(func(y value.Value) value.Value {
			g := m.ZeroVec(y)
			for _, xi := range points {
				g = value.Sub(g, m.Log(y, xi))
			}
			return g
		}),
		problem.WithVerbosity(0),
	)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConjugateGradientConfig()
	cfg.MaxIterations = n.cfg.CentroidIterations
	cfg.MaxTime = 0
	cfg.MaxCostEvals = 0
	cfg.Seed = seed
	cg, err := NewConjugateGradient(cfg)
	if err != nil {
		return nil, err
	}
	res, err := cg.Solve(ctx, p, points[0])
	if err != nil {
		return nil, err
	}
	return res.X, nil
}
