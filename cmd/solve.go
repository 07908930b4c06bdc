package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/manifoldopt/internal/bench"
	"github.com/cwbudde/manifoldopt/internal/opt"
	"github.com/cwbudde/manifoldopt/internal/runner"
	"github.com/cwbudde/manifoldopt/internal/store"
)

var (
	problemName  string
	problemSize  int
	problemSeed  int64
	backendName  string
	solverName   string
	maxIters     int
	maxTime      time.Duration
	minGradNorm  float64
	maxCostEvals int
	seed         int64
	fromRun      string
	dataDir      string
	tracePoints  bool
	solveLog     string
	verbosity    int
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a benchmark problem",
	Long: `Builds one of the built-in benchmark problems and minimizes it with the
chosen solver. With --data-dir the run record and its per-iteration trace are
saved so the run can be inspected with "runs show" or continued with --from.`,
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringVar(&problemName, "problem", "", fmt.Sprintf("Benchmark problem %v (required)", bench.Names()))
	solveCmd.Flags().IntVar(&problemSize, "size", 5, "Problem size")
	solveCmd.Flags().Int64Var(&problemSeed, "problem-seed", 0, "Seed of the generated problem data")
	solveCmd.Flags().StringVar(&backendName, "backend", "", "Differentiation backend override (tape, finite-difference, explicit)")
	solveCmd.Flags().StringVar(&solverName, "solver", "trust-regions", fmt.Sprintf("Solver %v", opt.Names()))
	solveCmd.Flags().IntVar(&maxIters, "max-iters", 1000, "Max iterations (0 = unlimited; nelder-mead defaults to max(2000, 4*dim))")
	solveCmd.Flags().DurationVar(&maxTime, "max-time", 0, "Max wall time (0 = unlimited)")
	solveCmd.Flags().Float64Var(&minGradNorm, "min-grad-norm", 1e-6, "Stop once the gradient norm drops below this value")
	solveCmd.Flags().IntVar(&maxCostEvals, "max-cost-evals", 0, "Max cost evaluations (0 = unlimited)")
	solveCmd.Flags().Int64Var(&seed, "seed", 42, "Random seed of the solver and the starting point")
	solveCmd.Flags().StringVar(&fromRun, "from", "", "Start from the final point of a stored run")
	solveCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Base directory for run storage (empty = do not store)")
	solveCmd.Flags().BoolVar(&tracePoints, "trace-points", false, "Include the current point in every trace entry")
	solveCmd.Flags().StringVar(&solveLog, "log", "summary", "Solver log stored with the run (off, summary, iterations)")
	solveCmd.Flags().IntVarP(&verbosity, "verbosity", "v", 0, "Problem verbosity (1 = start and stop, 2 = every iteration)")

	solveCmd.MarkFlagRequired("problem")
	rootCmd.AddCommand(solveCmd)
}

func runSolve(cmd *cobra.Command, args []string) error {
	params, err := loadSolverParams(configFile)
	if err != nil {
		return err
	}

	logVerbosity, err := opt.ParseLogVerbosity(solveLog)
	if err != nil {
		return err
	}

	var runStore *store.FSStore
	if dataDir != "" {
		runStore, err = store.NewFSStore(dataDir)
		if err != nil {
			return fmt.Errorf("failed to create run store: %w", err)
		}
	}

	iters := maxIters
	if solverName == "nelder-mead" && !cmd.Flags().Changed("max-iters") {
		iters = 0
	}

	config := store.RunConfig{
		Problem:       problemName,
		Size:          problemSize,
		ProblemSeed:   problemSeed,
		Backend:       backendName,
		Solver:        solverName,
		Params:        params,
		MaxIterations: iters,
		MaxTime:       maxTime,
		MinGradNorm:   minGradNorm,
		MaxCostEvals:  maxCostEvals,
		Seed:          seed,
		WarmStart:     fromRun,
	}

	plan, err := runner.Prepare(config, runner.Options{
		Store:        runStore,
		TracePoints:  tracePoints,
		LogVerbosity: logVerbosity,
		Verbosity:    verbosity,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rec, res, err := plan.Execute(ctx)
	if err != nil {
		return err
	}

	slog.Debug("Solve returned", "runID", rec.RunID, "status", rec.Status)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run %s: %s\n", rec.RunID, res.Stop.Reason)
	fmt.Fprintf(out, "  Cost:       %.10g", res.Cost)
	if gap := plan.Instance.Gap(res.Cost); !math.IsNaN(gap) {
		fmt.Fprintf(out, " (gap to optimum %.3g)", gap)
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Iterations: %d\n", res.Iterations)
	fmt.Fprintf(out, "  Cost evals: %d\n", res.CostEvals)
	fmt.Fprintf(out, "  Elapsed:    %s\n", res.Elapsed.Round(time.Microsecond))
	if runStore != nil {
		fmt.Fprintf(out, "  Stored in:  %s\n", runStore.BaseDir())
	}

	if res.Stop.Kind.Failed() {
		return fmt.Errorf("run %s failed: %s", rec.RunID, res.Stop.Reason)
	}
	return nil
}
