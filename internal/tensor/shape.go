package tensor

import (
	"fmt"
	"slices"
)

// Shape lists tensor dimensions, outermost first. Sequence tensors are
// time-major: [T, B, ...].
type Shape []int

// NumElements returns the product of the dimensions; a scalar holds one.
func (s Shape) NumElements() int {
	n := 1
	for _, d := range s {
		n *= d
	}
	return n
}

// Validate rejects zero and negative dimensions.
func (s Shape) Validate() error {
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("dimension %d of %v is %d, want > 0", i, s, d)
		}
	}
	return nil
}

// Equal reports whether both shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	return slices.Equal(s, other)
}

// Clone returns an independent copy.
func (s Shape) Clone() Shape {
	return slices.Clone(s)
}

// ComputeStrides returns row-major strides.
func (s Shape) ComputeStrides() []int {
	strides := make([]int, len(s))
	step := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = step
		step *= s[i]
	}
	return strides
}

// BroadcastShapes aligns a and b from the right; a missing or unit
// dimension stretches to the other. The flag reports whether either side
// needs stretching.
//
//	[T, B, 1] with [B, D] -> [T, B, D], true
func BroadcastShapes(a, b Shape) (Shape, bool, error) {
	n := max(len(a), len(b))
	out := make(Shape, n)
	stretched := false
	for i := 1; i <= n; i++ {
		da, db := dimFromRight(a, i), dimFromRight(b, i)
		switch {
		case da == db:
			out[n-i] = da
		case da == 1:
			out[n-i], stretched = db, true
		case db == 1:
			out[n-i], stretched = da, true
		default:
			return nil, false, fmt.Errorf("cannot broadcast %v with %v: dimension %d is %d vs %d", a, b, n-i, da, db)
		}
	}
	return out, stretched, nil
}

func dimFromRight(s Shape, i int) int {
	if i > len(s) {
		return 1
	}
	return s[len(s)-i]
}

// Dim returns the size of dimension i; negative i counts from the end.
func (s Shape) Dim(i int) int {
	if i < 0 {
		i += len(s)
	}
	if i < 0 || i >= len(s) {
		panic(fmt.Sprintf("dimension %d out of range for shape %v", i, s))
	}
	return s[i]
}

// WithDim returns a copy of the shape with dimension i replaced by n.
func (s Shape) WithDim(i, n int) Shape {
	out := s.Clone()
	out[i] = n
	return out
}

// Flatten2D collapses every leading dimension into one, keeping the last.
//
//	[T, B, D] -> [T*B, D]
func (s Shape) Flatten2D() Shape {
	if len(s) == 0 {
		return Shape{1, 1}
	}
	last := s[len(s)-1]
	return Shape{s.NumElements() / last, last}
}
