// Package manifold defines the geometry contract consumed by the solvers and
// ships a few reference manifolds implementing it.
//
// Solvers only ever talk to a Manifold through this interface; points and
// tangent vectors are opaque value.Value instances produced by the manifold
// itself (Rand, Retr, Proj, ...).
package manifold

import (
	"math/rand"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// Manifold is the geometry a solver needs to move around on a Riemannian manifold.
type Manifold interface {
	// Name identifies the manifold in logs, e.g. "Sphere(3)".
	Name() string

	// Dim is the manifold dimension. Solvers size default budgets from it.
	Dim() int

	// TypicalDist is a characteristic distance, used to size trust regions
	// and sampling radii.
	TypicalDist() float64

	// Inner is the Riemannian metric at x.
	Inner(x, u, v value.Value) float64

	// Norm is the norm induced by Inner.
	Norm(x, u value.Value) float64

	// Proj projects an ambient vector onto the tangent space at x.
	Proj(x, u value.Value) value.Value

	// EGrad2RGrad converts a Euclidean gradient into the Riemannian gradient.
	EGrad2RGrad(x, egrad value.Value) value.Value

	// EHess2RHess converts a Euclidean Hessian-vector product ehess = D²f(x)[u]
	// into the Riemannian Hessian applied to the tangent vector u.
	EHess2RHess(x, egrad, ehess, u value.Value) value.Value

	// Retr maps the tangent vector u at x back onto the manifold.
	Retr(x, u value.Value) value.Value

	// Exp is the exponential map (or the manifold's best approximation of it).
	Exp(x, u value.Value) value.Value

	// Log is the inverse of Exp: the tangent vector at x pointing to y.
	Log(x, y value.Value) value.Value

	// Transp transports the tangent vector u at x1 to the tangent space at x2.
	Transp(x1, x2, u value.Value) value.Value

	// PairMean returns the midpoint of x and y.
	PairMean(x, y value.Value) value.Value

	// Rand draws a random point.
	Rand(rng *rand.Rand) value.Value

	// RandVec draws a random unit-norm tangent vector at x.
	RandVec(rng *rand.Rand, x value.Value) value.Value

	// ZeroVec returns the zero tangent vector at x.
	ZeroVec(x value.Value) value.Value
}

// Dist returns the geodesic distance between x and y as the norm of Log(x, y).
func Dist(m Manifold, x, y value.Value) float64 {
	return m.Norm(x, m.Log(x, y))
}

func randn(rng *rand.Rand, rows, cols int) *value.Array {
	a := value.NewMatrix(rows, cols, nil)
	for i := range a.Data {
		a.Data[i] = rng.NormFloat64()
	}
	return a
}
