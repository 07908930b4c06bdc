package opt

import (
	"fmt"
	"time"

	"github.com/cwbudde/manifoldopt/internal/problem"
)

// LogVerbosity controls what ends up in Result.Log.
type LogVerbosity int

const (
	// LogOff produces no log.
	LogOff LogVerbosity = iota
	// LogSummary records the parameters, the stop reason and final values.
	LogSummary
	// LogIterations additionally records every iteration, including the point.
	LogIterations
)

func (v LogVerbosity) String() string {
	switch v {
	case LogOff:
		return "off"
	case LogSummary:
		return "summary"
	case LogIterations:
		return "iterations"
	default:
		return fmt.Sprintf("LogVerbosity(%d)", int(v))
	}
}

// ParseLogVerbosity accepts "off", "summary" or "iterations".
func ParseLogVerbosity(s string) (LogVerbosity, error) {
	switch s {
	case "off", "":
		return LogOff, nil
	case "summary":
		return LogSummary, nil
	case "iterations":
		return LogIterations, nil
	default:
		return LogOff, fmt.Errorf("unknown log verbosity %q", s)
	}
}

// Config holds the stopping criteria shared by all solvers. A zero budget
// disables the corresponding criterion.
type Config struct {
	MaxTime       time.Duration
	MaxIterations int
	MinGradNorm   float64
	MinStepSize   float64
	MaxCostEvals  int

	LogVerbosity LogVerbosity

	// Seed drives every random choice a solver makes (random starting point,
	// initial simplex, randomized trust-region start).
	Seed int64

	// Stall stops a run whose cost has not improved for a while.
	Stall StallConfig

	// Observer, when set, receives every iteration record regardless of
	// LogVerbosity. It runs on the solving goroutine.
	Observer func(IterationRecord)
}

// DefaultConfig returns the default stopping criteria.
func DefaultConfig() Config {
	return Config{
		MaxTime:       1000 * time.Second,
		MaxIterations: 1000,
		MinGradNorm:   1e-6,
		MinStepSize:   1e-10,
		MaxCostEvals:  5000,
		LogVerbosity:  LogOff,
		Stall:         DisabledStallConfig(),
	}
}

// Validate checks that no budget is negative.
func (c Config) Validate() error {
	switch {
	case c.MaxTime < 0:
		return &problem.ConfigurationError{Field: "MaxTime", Reason: "cannot be negative"}
	case c.MaxIterations < 0:
		return &problem.ConfigurationError{Field: "MaxIterations", Reason: "cannot be negative"}
	case c.MinGradNorm < 0:
		return &problem.ConfigurationError{Field: "MinGradNorm", Reason: "cannot be negative"}
	case c.MinStepSize < 0:
		return &problem.ConfigurationError{Field: "MinStepSize", Reason: "cannot be negative"}
	case c.MaxCostEvals < 0:
		return &problem.ConfigurationError{Field: "MaxCostEvals", Reason: "cannot be negative"}
	case c.LogVerbosity < LogOff || c.LogVerbosity > LogIterations:
		return &problem.ConfigurationError{Field: "LogVerbosity", Reason: "unknown level " + c.LogVerbosity.String()}
	case c.Stall.Enabled && c.Stall.Patience <= 0:
		return &problem.ConfigurationError{Field: "Stall.Patience", Reason: "must be positive"}
	}
	return nil
}

// criteria returns the stopping criteria as recorded in the log.
func (c Config) criteria() map[string]float64 {
	return map[string]float64{
		"max_time":       c.MaxTime.Seconds(),
		"max_iterations": float64(c.MaxIterations),
		"min_grad_norm":  c.MinGradNorm,
		"min_step_size":  c.MinStepSize,
		"max_cost_evals": float64(c.MaxCostEvals),
	}
}
