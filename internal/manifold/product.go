package manifold

import (
	"math"
	"math/rand"
	"strings"

	"github.com/cwbudde/manifoldopt/internal/value"
)

// Product is the Cartesian product of manifolds. Its points and tangent
// vectors are value.Tuple values with one element per factor.
type Product struct {
	factors []Manifold
}

// NewProduct returns the product of the given manifolds.
func NewProduct(factors ...Manifold) *Product {
	if len(factors) == 0 {
		panic("manifold: product of zero manifolds")
	}
	return &Product{factors: append([]Manifold(nil), factors...)}
}

// Factors returns the component manifolds.
func (p *Product) Factors() []Manifold {
	return append([]Manifold(nil), p.factors...)
}

func (p *Product) Name() string {
	names := make([]string, len(p.factors))
	for i, f := range p.factors {
		names[i] = f.Name()
	}
	return "Product(" + strings.Join(names, " x ") + ")"
}

func (p *Product) Dim() int {
	d := 0
	for _, f := range p.factors {
		d += f.Dim()
	}
	return d
}

func (p *Product) TypicalDist() float64 {
	var s float64
	for _, f := range p.factors {
		s += f.TypicalDist() * f.TypicalDist()
	}
	return math.Sqrt(s)
}

func (p *Product) split(v value.Value) value.Tuple {
	return value.AsTuple(v, len(p.factors))
}

func (p *Product) Inner(x, u, v value.Value) float64 {
	xs, us, vs := p.split(x), p.split(u), p.split(v)
	var s float64
	for i, f := range p.factors {
		s += f.Inner(xs[i], us[i], vs[i])
	}
	return s
}

func (p *Product) Norm(x, u value.Value) float64 {
	return math.Sqrt(p.Inner(x, u, u))
}

// each applies fn to every factor and collects the results into a Tuple.
func (p *Product) each(fn func(i int, f Manifold) value.Value) value.Value {
	out := make(value.Tuple, len(p.factors))
	for i, f := range p.factors {
		out[i] = fn(i, f)
	}
	return out
}

func (p *Product) Proj(x, u value.Value) value.Value {
	xs, us := p.split(x), p.split(u)
	return p.each(func(i int, f Manifold) value.Value { return f.Proj(xs[i], us[i]) })
}

func (p *Product) EGrad2RGrad(x, egrad value.Value) value.Value {
	xs, gs := p.split(x), p.split(egrad)
	return p.each(func(i int, f Manifold) value.Value { return f.EGrad2RGrad(xs[i], gs[i]) })
}

func (p *Product) EHess2RHess(x, egrad, ehess, u value.Value) value.Value {
	xs, gs, hs, us := p.split(x), p.split(egrad), p.split(ehess), p.split(u)
	return p.each(func(i int, f Manifold) value.Value {
		return f.EHess2RHess(xs[i], gs[i], hs[i], us[i])
	})
}

func (p *Product) Retr(x, u value.Value) value.Value {
	xs, us := p.split(x), p.split(u)
	return p.each(func(i int, f Manifold) value.Value { return f.Retr(xs[i], us[i]) })
}

func (p *Product) Exp(x, u value.Value) value.Value {
	xs, us := p.split(x), p.split(u)
	return p.each(func(i int, f Manifold) value.Value { return f.Exp(xs[i], us[i]) })
}

func (p *Product) Log(x, y value.Value) value.Value {
	xs, ys := p.split(x), p.split(y)
	return p.each(func(i int, f Manifold) value.Value { return f.Log(xs[i], ys[i]) })
}

func (p *Product) Transp(x1, x2, u value.Value) value.Value {
	as, bs, us := p.split(x1), p.split(x2), p.split(u)
	return p.each(func(i int, f Manifold) value.Value { return f.Transp(as[i], bs[i], us[i]) })
}

func (p *Product) PairMean(x, y value.Value) value.Value {
	xs, ys := p.split(x), p.split(y)
	return p.each(func(i int, f Manifold) value.Value { return f.PairMean(xs[i], ys[i]) })
}

func (p *Product) Rand(rng *rand.Rand) value.Value {
	return p.each(func(_ int, f Manifold) value.Value { return f.Rand(rng) })
}

// RandVec draws a random tangent vector with unit product norm.
func (p *Product) RandVec(rng *rand.Rand, x value.Value) value.Value {
	xs := p.split(x)
	u := p.each(func(i int, f Manifold) value.Value { return f.RandVec(rng, xs[i]) })
	return value.Scale(1/p.Norm(x, u), u)
}

func (p *Product) ZeroVec(x value.Value) value.Value {
	xs := p.split(x)
	return p.each(func(i int, f Manifold) value.Value { return f.ZeroVec(xs[i]) })
}
