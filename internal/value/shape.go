package value

import (
	"fmt"
	"strings"
)

// Shape describes how a value groups its arrays. A leaf shape has Group == nil
// and positive Rows and Cols; a grouped shape lists its parts in Group.
type Shape struct {
	Rows  int
	Cols  int
	Group []Shape
}

// VectorShape returns the shape of an n x 1 array.
func VectorShape(n int) Shape {
	return Shape{Rows: n, Cols: 1}
}

// MatrixShape returns the shape of a rows x cols array.
func MatrixShape(rows, cols int) Shape {
	return Shape{Rows: rows, Cols: cols}
}

// GroupShape returns the shape of a tuple of the given parts.
func GroupShape(parts ...Shape) Shape {
	return Shape{Group: append([]Shape{}, parts...)}
}

// IsGroup reports whether s describes a tuple.
func (s Shape) IsGroup() bool {
	return s.Group != nil
}

// Size returns the number of scalar entries of a value with this shape.
func (s Shape) Size() int {
	if !s.IsGroup() {
		return s.Rows * s.Cols
	}
	n := 0
	for _, g := range s.Group {
		n += g.Size()
	}
	return n
}

// Leaves returns the leaf shapes in depth-first order.
func (s Shape) Leaves() []Shape {
	if !s.IsGroup() {
		return []Shape{s}
	}
	var out []Shape
	for _, g := range s.Group {
		out = append(out, g.Leaves()...)
	}
	return out
}

// Equal reports whether two shapes have identical nesting and dimensions.
func (s Shape) Equal(o Shape) bool {
	if s.IsGroup() != o.IsGroup() {
		return false
	}
	if !s.IsGroup() {
		return s.Rows == o.Rows && s.Cols == o.Cols
	}
	if len(s.Group) != len(o.Group) {
		return false
	}
	for i := range s.Group {
		if !s.Group[i].Equal(o.Group[i]) {
			return false
		}
	}
	return true
}

// Validate checks that every leaf has positive dimensions and every group is non-empty.
func (s Shape) Validate() error {
	if !s.IsGroup() {
		if s.Rows <= 0 || s.Cols <= 0 {
			return fmt.Errorf("invalid array shape %dx%d", s.Rows, s.Cols)
		}
		return nil
	}
	if len(s.Group) == 0 {
		return fmt.Errorf("empty group shape")
	}
	for i, g := range s.Group {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("group element %d: %w", i, err)
		}
	}
	return nil
}

// Zeros returns a zero value of this shape.
func (s Shape) Zeros() Value {
	if !s.IsGroup() {
		return NewMatrix(s.Rows, s.Cols, nil)
	}
	out := make(Tuple, len(s.Group))
	for i, g := range s.Group {
		out[i] = g.Zeros()
	}
	return out
}

func (s Shape) String() string {
	if !s.IsGroup() {
		return fmt.Sprintf("%dx%d", s.Rows, s.Cols)
	}
	parts := make([]string, len(s.Group))
	for i, g := range s.Group {
		parts[i] = g.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// ShapeOf returns the shape of v.
func ShapeOf(v Value) Shape {
	switch x := v.(type) {
	case *Array:
		return Shape{Rows: x.Rows, Cols: x.Cols}
	case Tuple:
		g := make([]Shape, len(x))
		for i, e := range x {
			g[i] = ShapeOf(e)
		}
		return Shape{Group: g}
	default:
		panic(fmt.Sprintf("value: unsupported %T", v))
	}
}

// Conforms reports whether v has shape s.
func Conforms(v Value, s Shape) bool {
	return v != nil && ShapeOf(v).Equal(s)
}

// Flatten copies all entries of v into one slice in depth-first leaf order.
func Flatten(v Value) []float64 {
	out := make([]float64, 0, v.Size())
	for _, a := range Leaves(v) {
		out = append(out, a.Data...)
	}
	return out
}

// Unflatten rebuilds a value of shape s from data, copying it. It is the
// inverse of Flatten for values of that shape.
func Unflatten(s Shape, data []float64) (Value, error) {
	if len(data) != s.Size() {
		return nil, fmt.Errorf("unflatten %s: got %d entries, want %d", s, len(data), s.Size())
	}
	v, _ := unflatten(s, data)
	return v, nil
}

func unflatten(s Shape, data []float64) (Value, []float64) {
	if !s.IsGroup() {
		n := s.Rows * s.Cols
		return NewMatrix(s.Rows, s.Cols, append([]float64(nil), data[:n]...)), data[n:]
	}
	out := make(Tuple, len(s.Group))
	for i, g := range s.Group {
		out[i], data = unflatten(g, data)
	}
	return out, data
}

// SplitLeaves slices data into one sub-slice per leaf of s. The sub-slices alias data.
func SplitLeaves(s Shape, data []float64) [][]float64 {
	leaves := s.Leaves()
	out := make([][]float64, len(leaves))
	off := 0
	for i, l := range leaves {
		n := l.Rows * l.Cols
		out[i] = data[off : off+n]
		off += n
	}
	return out
}
