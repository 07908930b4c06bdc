// Package bench provides built-in benchmark problems. Each problem is
// generated deterministically from a size and a seed and, where it is known in
// closed form, reports its optimal cost so a run can be scored.
package bench

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"github.com/cwbudde/manifoldopt/internal/autodiff"
	"github.com/cwbudde/manifoldopt/internal/problem"
)

// Spec selects a benchmark problem.
type Spec struct {
	Name string
	Size int
	Seed int64
	// Backend forces an autodiff backend by name; empty picks the first
	// compatible default backend.
	Backend string
	// Verbosity is passed to the problem.
	Verbosity int
}

// Instance is a generated benchmark problem.
type Instance struct {
	Name    string
	Problem *problem.Problem
	// Optimum is the minimal cost, computed in closed form.
	Optimum float64
}

// Gap returns how far cost is above the optimum.
func (in *Instance) Gap(cost float64) float64 {
	return cost - in.Optimum
}

type builder struct {
	minSize     int
	description string
	build       func(spec Spec, rng *rand.Rand, backends []autodiff.Backend) (*Instance, error)
}

var builders = map[string]builder{
	"rayleigh": {
		minSize:     2,
		description: "smallest eigenvalue of a random symmetric matrix, on the sphere",
		build:       buildRayleigh,
	},
	"pca": {
		minSize:     3,
		description: "dominant 2-dimensional subspace of a random covariance, on the Stiefel manifold",
		build:       buildPCA,
	},
	"karcher": {
		minSize:     2,
		description: "chordal mean of random points on the sphere",
		build:       buildKarcher,
	},
	"rosenbrock": {
		minSize:     2,
		description: "Rosenbrock function in Euclidean space, derivative-free cost",
		build:       buildRosenbrock,
	},
	"product": {
		minSize:     2,
		description: "Rayleigh quotient plus a least-squares term over sphere x Euclidean",
		build:       buildProduct,
	},
}

// Names returns the available problem names, sorted.
func Names() []string {
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns a one-line description of the named problem.
func Describe(name string) string {
	return builders[name].description
}

// Build generates the problem described by spec.
func Build(spec Spec) (*Instance, error) {
	b, ok := builders[spec.Name]
	if !ok {
		return nil, fmt.Errorf("unknown problem %q (available: %v)", spec.Name, Names())
	}
	if spec.Size < b.minSize {
		return nil, &problem.ConfigurationError{
			Field:  "Size",
			Reason: fmt.Sprintf("problem %s needs size >= %d, got %d", spec.Name, b.minSize, spec.Size),
		}
	}

	var backends []autodiff.Backend
	if spec.Backend != "" {
		backend, err := autodiff.BackendByName(spec.Backend)
		if err != nil {
			return nil, err
		}
		backends = []autodiff.Backend{backend}
	}

	inst, err := b.build(spec, rand.New(rand.NewSource(spec.Seed)), backends)
	if err != nil {
		return nil, fmt.Errorf("build %s problem: %w", spec.Name, err)
	}
	inst.Name = spec.Name

	slog.Debug("Built benchmark problem",
		"problem", spec.Name,
		"size", spec.Size,
		"manifold", inst.Problem.Manifold().Name(),
		"backend", inst.Problem.CostFunction().Backend(),
		"optimum", inst.Optimum,
	)
	return inst, nil
}
