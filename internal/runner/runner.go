// Package runner turns a stored run configuration into a solved, persisted
// run. It is shared by the CLI and the HTTP server.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/cwbudde/manifoldopt/internal/bench"
	"github.com/cwbudde/manifoldopt/internal/opt"
	"github.com/cwbudde/manifoldopt/internal/store"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// Options control persistence and observation of a run.
type Options struct {
	// RunID names the run; a new UUID is used when empty.
	RunID string
	// Store persists the run record and its trace; nil keeps the run in
	// memory only. Warm starts need a store.
	Store *store.FSStore
	// TracePoints also writes the current point into every trace entry.
	TracePoints bool
	// LogVerbosity selects what the solver log in the record contains.
	LogVerbosity opt.LogVerbosity
	// Verbosity is the problem verbosity; 1 logs start and stop, 2 every
	// iteration.
	Verbosity int
	// Observer receives every iteration record after it is traced.
	Observer func(opt.IterationRecord)
}

// Plan is a run that is ready to solve.
type Plan struct {
	RunID    string
	Config   store.RunConfig
	Instance *bench.Instance
	Solver   opt.Solver
	// Start is the warm-start point, nil for a random start.
	Start value.Value

	opts Options
}

// SolverConfig maps the budgets of a run to solver stopping criteria. Zero
// budgets disable their criterion.
func SolverConfig(config store.RunConfig) opt.Config {
	cfg := opt.DefaultConfig()
	cfg.MaxIterations = config.MaxIterations
	cfg.MaxTime = config.MaxTime
	cfg.MinGradNorm = config.MinGradNorm
	cfg.MaxCostEvals = config.MaxCostEvals
	cfg.Seed = config.Seed
	return cfg
}

// Prepare builds the problem, the solver and the starting point of a run.
func Prepare(config store.RunConfig, opts Options) (*Plan, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.New().String()
	}

	inst, err := bench.Build(bench.Spec{
		Name:      config.Problem,
		Size:      config.Size,
		Seed:      config.ProblemSeed,
		Backend:   config.Backend,
		Verbosity: opts.Verbosity,
	})
	if err != nil {
		return nil, err
	}

	cfg := SolverConfig(config)
	cfg.LogVerbosity = opts.LogVerbosity
	solver, err := opt.New(config.Solver, cfg, config.Params)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		RunID:    opts.RunID,
		Config:   config,
		Instance: inst,
		Solver:   solver,
		opts:     opts,
	}

	if config.WarmStart != "" {
		start, err := warmStart(opts.Store, config, inst)
		if err != nil {
			return nil, err
		}
		plan.Start = start
	}
	return plan, nil
}

func warmStart(st *store.FSStore, config store.RunConfig, inst *bench.Instance) (value.Value, error) {
	if st == nil {
		return nil, fmt.Errorf("warm start from %s needs a run store", config.WarmStart)
	}
	prev, err := st.LoadRun(config.WarmStart)
	if err != nil {
		return nil, fmt.Errorf("load warm start: %w", err)
	}
	if err := prev.IsCompatible(config); err != nil {
		return nil, fmt.Errorf("warm start from %s: %w", config.WarmStart, err)
	}
	x, err := value.Unflatten(inst.Problem.CostFunction().Shape(), prev.X)
	if err != nil {
		return nil, fmt.Errorf("warm start from %s: %w", config.WarmStart, err)
	}
	slog.Info("Warm start", "from", config.WarmStart, "cost", float64(prev.Cost))
	return x, nil
}

// Execute solves the plan. With a store, the record is saved when the run
// starts and again when it ends, and every iteration is appended to the
// run's trace. The returned error is non-nil only when the solver could not
// start; the record then carries the error too.
func (p *Plan) Execute(ctx context.Context) (*store.RunRecord, *opt.Result, error) {
	rec := store.NewRunRecord(p.RunID, p.Config)
	st := p.opts.Store

	var trace *store.TraceWriter
	if st != nil {
		if err := st.SaveRun(rec); err != nil {
			return nil, nil, fmt.Errorf("save run: %w", err)
		}
		var err error
		trace, err = store.NewTraceWriter(st.BaseDir(), p.RunID, false)
		if err != nil {
			return nil, nil, err
		}
		defer func() {
			if err := trace.Close(); err != nil {
				slog.Warn("Failed to close trace", "runID", p.RunID, "error", err)
			}
		}()
	}

	solver, err := p.observed(trace)
	if err != nil {
		return nil, nil, err
	}

	slog.Info("Starting run",
		"runID", p.RunID,
		"problem", p.Config.Problem,
		"size", p.Config.Size,
		"solver", p.Config.Solver,
		"optimum", p.Instance.Optimum,
	)

	res, err := solver.Solve(ctx, p.Instance.Problem, p.Start)
	if err != nil {
		rec.Fail(err)
		p.save(rec)
		return rec, nil, err
	}

	var x []float64
	if value.IsFinite(res.X) {
		x = value.Flatten(res.X)
	}
	rec.Finish(x, res)
	p.save(rec)

	slog.Info("Run finished",
		"runID", p.RunID,
		"status", rec.Status,
		"stop", res.Stop.Kind.String(),
		"cost", res.Cost,
		"gap", p.Instance.Gap(res.Cost),
		"iterations", res.Iterations,
		"elapsed", res.Elapsed,
	)
	return rec, res, nil
}

// observed rebuilds the solver with an observer that feeds the trace and the
// caller's observer.
func (p *Plan) observed(trace *store.TraceWriter) (opt.Solver, error) {
	if trace == nil && p.opts.Observer == nil {
		return p.Solver, nil
	}

	traceFailed := false
	cfg := SolverConfig(p.Config)
	cfg.LogVerbosity = p.opts.LogVerbosity
	cfg.Observer = func(r opt.IterationRecord) {
		if trace != nil && !traceFailed {
			if err := trace.Write(store.NewTraceEntry(r, p.opts.TracePoints)); err != nil {
				slog.Warn("Trace write failed, disabling trace", "runID", p.RunID, "error", err)
				traceFailed = true
			}
		}
		if p.opts.Observer != nil {
			p.opts.Observer(r)
		}
	}
	return opt.New(p.Config.Solver, cfg, p.Config.Params)
}

func (p *Plan) save(rec *store.RunRecord) {
	if p.opts.Store == nil {
		return
	}
	if err := p.opts.Store.SaveRun(rec); err != nil {
		slog.Error("Failed to save run", "runID", p.RunID, "error", err)
	}
}
