package opt

import "fmt"

// StopKind classifies why a solver returned.
type StopKind int

const (
	StopNone StopKind = iota
	StopMaxTime
	StopMaxIterations
	StopMinGradNorm
	StopMinStepSize
	StopMaxCostEvals
	StopMinTrustRadius
	StopLineSearchFailure
	StopNumericalFailure
	StopCancelled
	StopStalled
)

var stopKindNames = [...]string{
	StopNone:              "none",
	StopMaxTime:           "max-time",
	StopMaxIterations:     "max-iterations",
	StopMinGradNorm:       "min-grad-norm",
	StopMinStepSize:       "min-step-size",
	StopMaxCostEvals:      "max-cost-evals",
	StopMinTrustRadius:    "min-trust-radius",
	StopLineSearchFailure: "line-search-failure",
	StopNumericalFailure:  "numerical-failure",
	StopCancelled:         "cancelled",
	StopStalled:           "stalled",
}

func (k StopKind) String() string {
	if k >= 0 && int(k) < len(stopKindNames) {
		return stopKindNames[k]
	}
	return fmt.Sprintf("StopKind(%d)", int(k))
}

// Converged reports whether the run ended because it reached a first-order
// stationary point rather than exhausting a budget or failing.
func (k StopKind) Converged() bool {
	return k == StopMinGradNorm
}

// Failed reports whether the run ended on a numerical failure.
func (k StopKind) Failed() bool {
	return k == StopLineSearchFailure || k == StopNumericalFailure
}

// Stop is a stop kind with a human-readable reason.
type Stop struct {
	Kind   StopKind `json:"kind"`
	Reason string   `json:"reason"`
}

func (s Stop) String() string { return s.Reason }

// MarshalText lets StopKind appear by name in JSON.
func (k StopKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *StopKind) UnmarshalText(b []byte) error {
	for i, name := range stopKindNames {
		if name == string(b) {
			*k = StopKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown stop kind %q", b)
}
