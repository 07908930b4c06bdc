package opt

import (
	"log/slog"
	"math"
)

// StallConfig defines when a run counts as stalled.
type StallConfig struct {
	// Enabled controls whether stall detection is active
	Enabled bool

	// Patience is the number of iterations with no significant improvement
	// before stopping
	Patience int

	// Threshold is the minimum relative improvement required to count as progress.
	// Relative improvement = (lastSignificant - cost) / max(|lastSignificant|, 1e-300)
	Threshold float64
}

// DefaultStallConfig returns a config that stops after 10 iterations without
// a 1e-9 relative improvement.
func DefaultStallConfig() StallConfig {
	return StallConfig{
		Enabled:   true,
		Patience:  10,
		Threshold: 1e-9,
	}
}

// DisabledStallConfig returns a config with stall detection disabled
func DisabledStallConfig() StallConfig {
	return StallConfig{Enabled: false}
}

// StallTracker tracks the best cost and detects when a run stops making progress.
type StallTracker struct {
	config          StallConfig
	updates         int
	bestCost        float64 // Best cost ever seen
	lastSignificant float64 // Last cost that was a significant improvement
	staleCount      int     // Iterations without significant improvement
}

// NewStallTracker creates a tracker with the given config
func NewStallTracker(config StallConfig) *StallTracker {
	return &StallTracker{
		config:          config,
		bestCost:        math.Inf(1),
		lastSignificant: math.Inf(1),
	}
}

// Update records a new cost value and returns true once the run has stalled
func (s *StallTracker) Update(cost float64) bool {
	if !s.config.Enabled {
		return false
	}
	s.updates++

	if cost < s.bestCost {
		s.bestCost = cost
	}

	if s.updates == 1 {
		s.lastSignificant = cost
		return false
	}

	relativeImprovement := (s.lastSignificant - cost) / math.Max(math.Abs(s.lastSignificant), 1e-300)

	if relativeImprovement >= s.config.Threshold {
		s.lastSignificant = cost
		s.staleCount = 0
		return false
	}

	s.staleCount++
	slog.Debug("No significant cost improvement",
		"cost", cost,
		"last_significant", s.lastSignificant,
		"relative_improvement", relativeImprovement,
		"stale_count", s.staleCount,
		"patience", s.config.Patience,
	)
	return s.staleCount >= s.config.Patience
}

// BestCost returns the best cost seen so far
func (s *StallTracker) BestCost() float64 {
	return s.bestCost
}

// StaleCount returns the current number of iterations without improvement
func (s *StallTracker) StaleCount() int {
	return s.staleCount
}
