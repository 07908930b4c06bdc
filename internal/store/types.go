package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/manifoldopt/internal/opt"
)

// RunConfig describes how a run was set up: which benchmark problem, which
// solver and which budgets. It is enough to reproduce the run.
type RunConfig struct {
	Problem string `json:"problem"`
	Size    int    `json:"size"`
	// ProblemSeed generates the problem data; Seed drives the solver.
	ProblemSeed   int64         `json:"problemSeed"`
	Backend       string        `json:"backend,omitempty"`
	Solver        string        `json:"solver"`
	Params        opt.Params    `json:"params"`
	MaxIterations int           `json:"maxIterations"`
	MaxTime       time.Duration `json:"maxTime"`
	MinGradNorm   float64       `json:"minGradNorm"`
	MaxCostEvals  int           `json:"maxCostEvals"`
	Seed          int64         `json:"seed"`
	// WarmStart is the ID of the run whose final point this run started from.
	WarmStart string `json:"warmStart,omitempty"`
}

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
	StatusFailed    = "failed"
)

// RunRecord is a persisted optimization run.
//
// A record is written when the run starts and rewritten when it ends. X holds
// the flattened final point (the best point so far while running), so a later
// run can warm-start from it; the full structured log rides along in Log.
type RunRecord struct {
	RunID  string    `json:"runId"`
	Status string    `json:"status"`
	Config RunConfig `json:"config"`

	X          []float64 `json:"x,omitempty"`
	Cost       opt.Float `json:"cost"`
	Iterations int       `json:"iterations"`
	CostEvals  int       `json:"costEvals"`
	Stop       *opt.Stop `json:"stop,omitempty"`
	// Error is set when the run could not start.
	Error string `json:"error,omitempty"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`

	Log *opt.Log `json:"log,omitempty"`
}

// RunInfo is the metadata of a run without its point and log. Used for
// listing runs.
type RunInfo struct {
	RunID      string    `json:"runId"`
	Status     string    `json:"status"`
	Problem    string    `json:"problem"`
	Size       int       `json:"size"`
	Solver     string    `json:"solver"`
	Cost       opt.Float `json:"cost"`
	Iterations int       `json:"iterations"`
	Stop       string    `json:"stop,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
}

// NewRunRecord creates the record of a run that is about to start.
func NewRunRecord(runID string, config RunConfig) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		Status:    StatusRunning,
		Config:    config,
		Cost:      opt.Float(math.NaN()),
		StartedAt: time.Now(),
	}
}

// Finish fills the record from a solver result.
func (r *RunRecord) Finish(x []float64, res *opt.Result) {
	r.X = x
	r.Cost = opt.Float(res.Cost)
	r.Iterations = res.Iterations
	r.CostEvals = res.CostEvals
	stop := res.Stop
	r.Stop = &stop
	r.Log = res.Log
	r.FinishedAt = time.Now()
	switch res.Stop.Kind {
	case opt.StopCancelled:
		r.Status = StatusCancelled
	case opt.StopLineSearchFailure, opt.StopNumericalFailure:
		r.Status = StatusFailed
	default:
		r.Status = StatusCompleted
	}
}

// Fail marks a run that could not start.
func (r *RunRecord) Fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.FinishedAt = time.Now()
}

// ToInfo converts a full RunRecord to RunInfo (metadata only).
func (r *RunRecord) ToInfo() RunInfo {
	info := RunInfo{
		RunID:      r.RunID,
		Status:     r.Status,
		Problem:    r.Config.Problem,
		Size:       r.Config.Size,
		Solver:     r.Config.Solver,
		Cost:       r.Cost,
		Iterations: r.Iterations,
		StartedAt:  r.StartedAt,
	}
	if r.Stop != nil {
		info.Stop = r.Stop.Kind.String()
	}
	return info
}

// Validate checks that the record has the fields every stored run needs.
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	switch r.Status {
	case StatusRunning, StatusCompleted, StatusCancelled, StatusFailed:
	default:
		return &ValidationError{Field: "Status", Reason: fmt.Sprintf("unknown status %q", r.Status)}
	}
	if r.StartedAt.IsZero() {
		return &ValidationError{Field: "StartedAt", Reason: "cannot be zero"}
	}
	if r.Config.Problem == "" {
		return &ValidationError{Field: "Config.Problem", Reason: "cannot be empty"}
	}
	if r.Config.Solver == "" {
		return &ValidationError{Field: "Config.Solver", Reason: "cannot be empty"}
	}
	if r.Config.Size <= 0 {
		return &ValidationError{Field: "Config.Size", Reason: "must be positive"}
	}
	if r.Config.MaxIterations < 0 {
		return &ValidationError{Field: "Config.MaxIterations", Reason: "cannot be negative"}
	}
	if r.Config.MaxCostEvals < 0 {
		return &ValidationError{Field: "Config.MaxCostEvals", Reason: "cannot be negative"}
	}
	if r.Status == StatusCompleted {
		if len(r.X) == 0 {
			return &ValidationError{Field: "X", Reason: "cannot be empty for a completed run"}
		}
		if r.Stop == nil {
			return &ValidationError{Field: "Stop", Reason: "cannot be nil for a completed run"}
		}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a run configured with config can warm-start
// from this run's final point.
func (r *RunRecord) IsCompatible(config RunConfig) error {
	if r.Config.Problem != config.Problem {
		return &CompatibilityError{
			Field:    "Problem",
			Expected: r.Config.Problem,
			Actual:   config.Problem,
		}
	}
	if r.Config.Size != config.Size {
		return &CompatibilityError{
			Field:    "Size",
			Expected: fmt.Sprintf("%d", r.Config.Size),
			Actual:   fmt.Sprintf("%d", config.Size),
		}
	}
	if r.Config.ProblemSeed != config.ProblemSeed {
		return &CompatibilityError{
			Field:    "ProblemSeed",
			Expected: fmt.Sprintf("%d", r.Config.ProblemSeed),
			Actual:   fmt.Sprintf("%d", config.ProblemSeed),
		}
	}
	if len(r.X) == 0 {
		return &CompatibilityError{Field: "X", Expected: "a final point", Actual: "none"}
	}
	return nil
}

// CompatibilityError represents a warm-start compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
