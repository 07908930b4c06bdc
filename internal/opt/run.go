package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/manifoldopt/internal/manifold"
	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// run is the state shared by one Solve call: timing, the cost-evaluation
// counter, stopping checks and the optimization log.
type run struct {
	ctx      context.Context
	name     string
	cfg      Config
	problem  *problem.Problem
	manifold manifold.Manifold
	rng      *rand.Rand

	start     time.Time
	costEvals int
	log       *Log
	stall     *StallTracker
	stalled   bool
}

func newRun(ctx context.Context, name string, cfg Config, p *problem.Problem, params map[string]any, extraFields []string) *run {
	r := &run{
		ctx:      ctx,
		name:     name,
		cfg:      cfg,
		problem:  p,
		manifold: p.Manifold(),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
		start:    time.Now(),
		stall:    NewStallTracker(cfg.Stall),
	}
	if cfg.LogVerbosity > LogOff {
		r.log = &Log{
			Solver:           name,
			Manifold:         r.manifold.Name(),
			StoppingCriteria: cfg.criteria(),
			SolverParams:     params,
			ExtraFields:      extraFields,
		}
	}
	if p.Verbosity() >= 1 {
		slog.Info("Optimizing",
			"solver", name,
			"manifold", r.manifold.Name(),
			"dim", r.manifold.Dim(),
			"backend", p.CostFunction().Backend(),
		)
	}
	return r
}

// initialPoint returns a copy of x, or a random point when x is nil.
func (r *run) initialPoint(x value.Value) (value.Value, error) {
	if x == nil {
		return r.manifold.Rand(r.rng), nil
	}
	if want := r.problem.CostFunction().Shape(); !value.Conforms(x, want) {
		return nil, &problem.ConfigurationError{
			Field:  "x",
			Reason: fmt.Sprintf("has shape %s, want %s", value.ShapeOf(x), want),
		}
	}
	return x.Clone(), nil
}

// cost evaluates the cost and counts the evaluation.
func (r *run) cost(x value.Value) float64 {
	r.costEvals++
	return r.problem.Cost(x)
}

// record appends an iteration to the log and feeds the observer and the
// stall tracker.
func (r *run) record(iter int, x value.Value, cost float64, extra map[string]float64) {
	rec := IterationRecord{
		Iteration: iter,
		Elapsed:   time.Since(r.start),
		Cost:      Float(cost),
		Extra:     toFloats(extra),
	}
	keepX := r.cfg.Observer != nil || (r.log != nil && r.cfg.LogVerbosity >= LogIterations)
	if keepX && value.IsFinite(x) {
		rec.X = value.Flatten(x)
	}
	if r.log != nil && r.cfg.LogVerbosity >= LogIterations {
		r.log.Iterations = append(r.log.Iterations, rec)
	}
	if r.cfg.Observer != nil {
		r.cfg.Observer(rec)
	}
	if r.stall.Update(cost) {
		r.stalled = true
	}

	if r.problem.Verbosity() >= 2 {
		args := []any{"solver", r.name, "iter", iter, "cost", cost}
		for k, v := range extra {
			args = append(args, k, v)
		}
		slog.Debug("Iteration", args...)
	}
}

func (r *run) elapsed() time.Duration {
	return time.Since(r.start)
}

// check evaluates the stopping criteria in a fixed order: cancellation, time,
// iterations, gradient norm, step size, cost evaluations, stall.
func (r *run) check(iter int, gradNorm, stepSize float64) *Stop {
	elapsed := r.elapsed()
	secs := elapsed.Seconds()
	switch {
	case r.ctx.Err() != nil:
		return &Stop{StopCancelled, fmt.Sprintf("Terminated - cancelled after %d iterations: %v.", iter, r.ctx.Err())}
	case r.cfg.MaxTime > 0 && elapsed >= r.cfg.MaxTime:
		return &Stop{StopMaxTime, fmt.Sprintf("Terminated - max time reached after %d iterations.", iter)}
	case r.cfg.MaxIterations > 0 && iter >= r.cfg.MaxIterations:
		return &Stop{StopMaxIterations, fmt.Sprintf("Terminated - max iterations reached after %.2f seconds.", secs)}
	case gradNorm < r.cfg.MinGradNorm:
		return &Stop{StopMinGradNorm, fmt.Sprintf("Terminated - min grad norm reached after %d iterations, %.2f seconds.", iter, secs)}
	case stepSize < r.cfg.MinStepSize:
		return &Stop{StopMinStepSize, fmt.Sprintf("Terminated - min stepsize reached after %d iterations, %.2f seconds.", iter, secs)}
	case r.cfg.MaxCostEvals > 0 && r.costEvals >= r.cfg.MaxCostEvals:
		return &Stop{StopMaxCostEvals, fmt.Sprintf("Terminated - max cost evals reached after %.2f seconds.", secs)}
	case r.stalled:
		return &Stop{StopStalled, fmt.Sprintf("Terminated - no significant improvement for %d iterations.", r.stall.StaleCount())}
	}
	return nil
}

func (r *run) stop(kind StopKind, format string, args ...any) *Stop {
	return &Stop{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// finish seals the log and builds the result.
func (r *run) finish(x value.Value, cost float64, stop *Stop, iterations int, extra map[string]float64) *Result {
	res := &Result{
		X:          x,
		Cost:       cost,
		Stop:       *stop,
		Iterations: iterations,
		CostEvals:  r.costEvals,
		Elapsed:    r.elapsed(),
	}
	if r.log != nil {
		r.log.Final = &FinalRecord{
			X:          value.Flatten(x),
			Cost:       Float(cost),
			Iterations: iterations,
			CostEvals:  r.costEvals,
			Elapsed:    res.Elapsed,
			Stop:       *stop,
			Extra:      toFloats(extra),
		}
		res.Log = r.log
	}
	if r.problem.Verbosity() >= 1 {
		slog.Info("Optimization finished",
			"solver", r.name,
			"stop", stop.Kind.String(),
			"reason", stop.Reason,
			"cost", cost,
			"iterations", iterations,
			"cost_evals", r.costEvals,
			"elapsed", res.Elapsed,
		)
	}
	return res
}

// requireGradient prepares a problem for a gradient-based solver.
func requireGradient(p *problem.Problem, solver string) error {
	if err := p.RequireGradient(); err != nil {
		return fmt.Errorf("%s: %w", solver, err)
	}
	return nil
}
