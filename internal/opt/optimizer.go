// Package opt implements Riemannian optimization algorithms.
//
// Every solver consumes a *problem.Problem and a starting point and returns
// the best point found together with the reason it stopped. Solvers are
// configured through plain structs with Default*Config constructors and are
// safe to reuse: each Solve call owns its own iteration state.
package opt

import (
	"context"
	"time"

	"github.com/cwbudde/manifoldopt/internal/problem"
	"github.com/cwbudde/manifoldopt/internal/value"
)

// Solver minimizes the cost of a problem over its manifold.
type Solver interface {
	// Name identifies the solver, e.g. "trust-regions".
	Name() string

	// Solve runs the algorithm from x, or from a random point when x is nil.
	// Numerical trouble ends the run gracefully and is reported through
	// Result.Stop; a non-nil error means the run could not start.
	Solve(ctx context.Context, p *problem.Problem, x value.Value) (*Result, error)
}

// Result is the outcome of a Solve call.
type Result struct {
	X          value.Value
	Cost       float64
	Stop       Stop
	Iterations int
	CostEvals  int
	Elapsed    time.Duration

	// Log is nil when the configured LogVerbosity is LogOff.
	Log *Log
}
