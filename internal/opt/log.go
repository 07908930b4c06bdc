package opt

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Float is a float64 that encodes NaN and infinities as JSON strings, so a
// log of a diverged run can still be persisted.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	switch {
	case math.IsNaN(v):
		return []byte(`"NaN"`), nil
	case math.IsInf(v, 1):
		return []byte(`"+Inf"`), nil
	case math.IsInf(v, -1):
		return []byte(`"-Inf"`), nil
	}
	return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
}

func (f *Float) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = Float(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// IterationRecord is one row of an optimization log.
type IterationRecord struct {
	Iteration int           `json:"iteration"`
	Elapsed   time.Duration `json:"elapsed"`
	// X is the flattened point; only kept at LogIterations.
	X     []float64        `json:"x,omitempty"`
	Cost  Float            `json:"cost"`
	Extra map[string]Float `json:"extra,omitempty"`
}

// FinalRecord summarizes the end of a run.
type FinalRecord struct {
	X          []float64        `json:"x"`
	Cost       Float            `json:"cost"`
	Iterations int              `json:"iterations"`
	CostEvals  int              `json:"costEvals"`
	Elapsed    time.Duration    `json:"elapsed"`
	Stop       Stop             `json:"stop"`
	Extra      map[string]Float `json:"extra,omitempty"`
}

// Log is the structured record of a Solve call.
type Log struct {
	Solver           string             `json:"solver"`
	Manifold         string             `json:"manifold"`
	StoppingCriteria map[string]float64 `json:"stoppingCriteria"`
	SolverParams     map[string]any     `json:"solverParams"`
	ExtraFields      []string           `json:"extraFields,omitempty"`
	Iterations       []IterationRecord  `json:"iterations,omitempty"`
	Final            *FinalRecord       `json:"final,omitempty"`
}

// StopReason returns the reason the run stopped, or "" while it is running.
func (l *Log) StopReason() string {
	if l.Final == nil {
		return ""
	}
	return l.Final.Stop.Reason
}

// Costs returns the cost of every logged iteration.
func (l *Log) Costs() []float64 {
	out := make([]float64, len(l.Iterations))
	for i, rec := range l.Iterations {
		out[i] = float64(rec.Cost)
	}
	return out
}

func toFloats(m map[string]float64) map[string]Float {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}
