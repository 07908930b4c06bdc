package opt

import (
	"context"
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFloatJSON(t *testing.T) {
	for _, v := range []float64{0, -1.5, 1e-300, math.NaN(), math.Inf(1), math.Inf(-1)} {
		b, err := json.Marshal(Float(v))
		require.NoError(t, err)

		var back Float
		require.NoError(t, json.Unmarshal(b, &back), string(b))
		if math.IsNaN(v) {
			assert.True(t, math.IsNaN(float64(back)))
			assert.Equal(t, `"NaN"`, string(b))
			continue
		}
		assert.Equal(t, v, float64(back), string(b))
	}
}

func TestLogRoundTripsThroughJSON(t *testing.T) {
	cfg := DefaultTrustRegionsConfig()
	cfg.MaxIterations = 4
	cfg.LogVerbosity = LogIterations
	tr, err := NewTrustRegions(cfg)
	require.NoError(t, err)

	res, err := tr.Solve(context.Background(), rayleighProblem(t, 3), nil)
	require.NoError(t, err)
	require.NotNil(t, res.Log)

	b, err := json.Marshal(res.Log)
	require.NoError(t, err)
	// The first record has rho = NaN.
	assert.Contains(t, string(b), `"rho":"NaN"`)
	assert.Contains(t, string(b), `"kind":"`+res.Stop.Kind.String()+`"`)

	var back Log
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, res.Log.Costs(), back.Costs())
	assert.Equal(t, res.Stop, back.Final.Stop)
	assert.Equal(t, "Sphere(3)", back.Manifold)
	assert.Equal(t, []string{"gradnorm", "delta", "rho", "accepted", "inner", "stepsize"}, back.ExtraFields)
	assert.True(t, math.IsNaN(float64(back.Iterations[0].Extra["rho"])))
}

func TestStopKindText(t *testing.T) {
	for k := StopNone; k <= StopStalled; k++ {
		b, err := k.MarshalText()
		require.NoError(t, err)
		var back StopKind
		require.NoError(t, back.UnmarshalText(b))
		assert.Equal(t, k, back)
	}
	var k StopKind
	assert.Error(t, k.UnmarshalText([]byte("bogus")))
	assert.Equal(t, "StopKind(99)", StopKind(99).String())

	assert.True(t, StopMinGradNorm.Converged())
	assert.False(t, StopMaxIterations.Converged())
	assert.True(t, StopLineSearchFailure.Failed())
	assert.True(t, StopNumericalFailure.Failed())
	assert.False(t, StopCancelled.Failed())
}

func TestParseEnums(t *testing.T) {
	for _, v := range []LogVerbosity{LogOff, LogSummary, LogIterations} {
		got, err := ParseLogVerbosity(v.String())
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
	_, err := ParseLogVerbosity("loud")
	assert.Error(t, err)

	for _, s := range []BBStrategy{BBDirect, BBInverse, BBAlternate} {
		got, err := ParseBBStrategy(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err = ParseBBStrategy("sideways")
	assert.Error(t, err)

	_, err = ParseBetaRule("dai-yuan")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	cases := map[string]func(*Config){
		"MaxTime":        func(c *Config) { c.MaxTime = -1 },
		"MinGradNorm":    func(c *Config) { c.MinGradNorm = -1 },
		"MinStepSize":    func(c *Config) { c.MinStepSize = -1 },
		"MaxCostEvals":   func(c *Config) { c.MaxCostEvals = -1 },
		"LogVerbosity":   func(c *Config) { c.LogVerbosity = 7 },
		"Stall.Patience": func(c *Config) { c.Stall = StallConfig{Enabled: true} },
	}
	for field, mutate := range cases {
		t.Run(field, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{
		"barzilai-borwein",
		"conjugate-gradient",
		"mayfly",
		"nelder-mead",
		"steepest-descent",
		"trust-regions",
	}, Names())

	for _, name := range Names() {
		s, err := New(name, DefaultConfig(), Params{})
		require.NoError(t, err, name)
		assert.Equal(t, name, s.Name())
	}

	s, err := New("conjugate-gradient", DefaultConfig(), Params{BetaRule: "polak-ribiere", LineSearch: "backtracking"})
	require.NoError(t, err)
	assert.Equal(t, PolakRibiere, s.(*ConjugateGradient).cfg.BetaRule)

	s, err = New("barzilai-borwein", DefaultConfig(), Params{Strategy: "alternate", LambdaMax: 10})
	require.NoError(t, err)
	bb := s.(*BarzilaiBorwein)
	assert.Equal(t, BBAlternate, bb.cfg.Strategy)
	assert.Equal(t, 10.0, bb.cfg.LambdaMax)

	_, err = New("simulated-annealing", DefaultConfig(), Params{})
	assert.ErrorContains(t, err, "unknown solver")

	_, err = New("trust-regions", DefaultConfig(), Params{RhoPrime: 0.3})
	assert.ErrorContains(t, err, "configure trust-regions")

	_, err = New("steepest-descent", DefaultConfig(), Params{LineSearch: "exact"})
	assert.ErrorContains(t, err, "unknown line search")
}
