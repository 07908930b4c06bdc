package opt

import (
	"fmt"
	"sort"
)

// Params holds the solver-specific hyperparameters that can be set by name,
// e.g. from a CLI config file. Unset fields keep the solver defaults.
type Params struct {
	BetaRule    string  `mapstructure:"beta_rule" json:"beta_rule,omitempty"`
	OrthValue   float64 `mapstructure:"orth_value" json:"orth_value,omitempty"`
	Strategy    string  `mapstructure:"strategy" json:"strategy,omitempty"`
	LambdaMin   float64 `mapstructure:"lambda_min" json:"lambda_min,omitempty"`
	LambdaMax   float64 `mapstructure:"lambda_max" json:"lambda_max,omitempty"`
	Lambda0     float64 `mapstructure:"lambda0" json:"lambda0,omitempty"`
	RhoPrime    float64 `mapstructure:"rho_prime" json:"rho_prime,omitempty"`
	DeltaBar    float64 `mapstructure:"delta_bar" json:"delta_bar,omitempty"`
	Delta0      float64 `mapstructure:"delta0" json:"delta0,omitempty"`
	MaxInner    int     `mapstructure:"max_inner" json:"max_inner,omitempty"`
	UseRand     bool    `mapstructure:"use_rand" json:"use_rand,omitempty"`
	Reflection  float64 `mapstructure:"reflection" json:"reflection,omitempty"`
	Expansion   float64 `mapstructure:"expansion" json:"expansion,omitempty"`
	Contraction float64 `mapstructure:"contraction" json:"contraction,omitempty"`
	Population  int     `mapstructure:"population" json:"population,omitempty"`
	LineSearch  string  `mapstructure:"line_search" json:"line_search,omitempty"`
}

type constructor func(cfg Config, params Params) (Solver, error)

var registry = map[string]constructor{
	"steepest-descent": func(cfg Config, params Params) (Solver, error) {
		c := DefaultSteepestDescentConfig()
		c.Config = cfg
		if params.LineSearch != "" {
			ls, err := lineSearchByName(params.LineSearch)
			if err != nil {
				return nil, err
			}
			c.LineSearch = ls
		}
		return NewSteepestDescent(c)
	},
	"conjugate-gradient": func(cfg Config, params Params) (Solver, error) {
		c := DefaultConjugateGradientConfig()
		c.Config = cfg
		if params.BetaRule != "" {
			rule, err := ParseBetaRule(params.BetaRule)
			if err != nil {
				return nil, err
			}
			c.BetaRule = rule
		}
		if params.OrthValue > 0 {
			c.OrthValue = params.OrthValue
		}
		if params.LineSearch != "" {
			ls, err := lineSearchByName(params.LineSearch)
			if err != nil {
				return nil, err
			}
			c.LineSearch = ls
		}
		return NewConjugateGradient(c)
	},
	"barzilai-borwein": func(cfg Config, params Params) (Solver, error) {
		c := DefaultBarzilaiBorweinConfig()
		c.Config = cfg
		if params.Strategy != "" {
			st, err := ParseBBStrategy(params.Strategy)
			if err != nil {
				return nil, err
			}
			c.Strategy = st
		}
		setIfPositive(&c.LambdaMin, params.LambdaMin)
		setIfPositive(&c.LambdaMax, params.LambdaMax)
		setIfPositive(&c.Lambda0, params.Lambda0)
		return NewBarzilaiBorwein(c)
	},
	"trust-regions": func(cfg Config, params Params) (Solver, error) {
		c := DefaultTrustRegionsConfig()
		c.Config = cfg
		setIfPositive(&c.RhoPrime, params.RhoPrime)
		setIfPositive(&c.DeltaBar, params.DeltaBar)
		setIfPositive(&c.Delta0, params.Delta0)
		if params.MaxInner > 0 {
			c.MaxInner = params.MaxInner
		}
		c.UseRand = params.UseRand
		return NewTrustRegions(c)
	},
	// A budget set in cfg always wins; leave MaxIterations or MaxCostEvals
	// at zero to get the dimension-scaled defaults.
	"nelder-mead": func(cfg Config, params Params) (Solver, error) {
		c := DefaultNelderMeadConfig()
		c.Config = cfg
		setIfPositive(&c.Reflection, params.Reflection)
		setIfPositive(&c.Expansion, params.Expansion)
		setIfPositive(&c.Contraction, params.Contraction)
		return NewNelderMead(c)
	},
	"mayfly": func(cfg Config, params Params) (Solver, error) {
		c := DefaultMayflyConfig()
		c.Config = cfg
		if params.Population > 0 {
			c.Population = params.Population
		}
		return NewMayfly(c)
	},
}

func setIfPositive(dst *float64, v float64) {
	if v > 0 {
		*dst = v
	}
}

func lineSearchByName(name string) (LineSearchFactory, error) {
	switch name {
	case "backtracking":
		return BackTrackingFactory(DefaultBackTrackingConfig()), nil
	case "adaptive":
		return AdaptiveFactory(DefaultAdaptiveConfig()), nil
	case "nonmonotone":
		return NonMonotoneFactory(DefaultNonMonotoneConfig()), nil
	default:
		return nil, fmt.Errorf("unknown line search %q", name)
	}
}

// New creates the named solver with the given stopping criteria and
// hyperparameters.
func New(name string, cfg Config, params Params) (Solver, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown solver %q (available: %v)", name, Names())
	}
	s, err := ctor(cfg, params)
	if err != nil {
		return nil, fmt.Errorf("configure %s: %w", name, err)
	}
	return s, nil
}

// Names lists the registered solvers in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
