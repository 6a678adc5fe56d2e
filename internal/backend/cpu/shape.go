package cpu

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Reshape returns a tensor with the same data but a different shape.
func (cpu *CPUBackend) Reshape(t *tensor.RawTensor, newShape tensor.Shape) *tensor.RawTensor {
	if err := newShape.Validate(); err != nil {
		panic(fmt.Sprintf("reshape: invalid shape: %v", err))
	}
	if t.NumElements() != newShape.NumElements() {
		panic(fmt.Sprintf("reshape: incompatible shapes: %v -> %v (different number of elements)",
			t.Shape(), newShape))
	}

	result := t.Clone()
	return result.View(newShape)
}

// Transpose permutes the tensor's dimensions.
// With no axes the last two dimensions are swapped.
func (cpu *CPUBackend) Transpose(t *tensor.RawTensor, axes ...int) *tensor.RawTensor {
	shape := t.Shape()
	ndim := len(shape)

	if len(axes) == 0 {
		if ndim < 2 {
			panic("transpose: need at least 2 dimensions")
		}
		axes = make([]int, ndim)
		for i := range axes {
			axes[i] = i
		}
		axes[ndim-2], axes[ndim-1] = axes[ndim-1], axes[ndim-2]
	}

	if len(axes) != ndim {
		panic(fmt.Sprintf("transpose: axes length %d != ndim %d", len(axes), ndim))
	}
	seen := make([]bool, ndim)
	for _, ax := range axes {
		if ax < 0 || ax >= ndim {
			panic(fmt.Sprintf("transpose: invalid axis %d for %dD tensor", ax, ndim))
		}
		if seen[ax] {
			panic(fmt.Sprintf("transpose: duplicate axis %d", ax))
		}
		seen[ax] = true
	}

	newShape := make(tensor.Shape, ndim)
	for i, ax := range axes {
		newShape[i] = shape[ax]
	}

	result := cpu.alloc("transpose", newShape, t.DType())
	switch t.DType() {
	case tensor.Float32:
		permute(result.AsFloat32(), t.AsFloat32(), shape, newShape, axes)
	case tensor.Int32:
		permute(result.AsInt32(), t.AsInt32(), shape, newShape, axes)
	}
	return result
}

func permute[T float32 | int32](dst, src []T, inShape, outShape tensor.Shape, axes []int) {
	inStrides := inShape.ComputeStrides()
	outStrides := outShape.ComputeStrides()
	// Stride in the source for each output dimension.
	srcStrides := make([]int, len(axes))
	for i, ax := range axes {
		srcStrides[i] = inStrides[ax]
	}
	for i := range dst {
		dst[i] = src[computeFlatIndex(i, outStrides, srcStrides)]
	}
}

// Expand broadcasts x to shape following NumPy rules.
func (cpu *CPUBackend) Expand(x *tensor.RawTensor, shape tensor.Shape) *tensor.RawTensor {
	outShape, _, err := tensor.BroadcastShapes(x.Shape(), shape)
	if err != nil || !outShape.Equal(shape) {
		panic(fmt.Sprintf("expand: cannot expand %v to %v", x.Shape(), shape))
	}

	result := cpu.alloc("expand", shape, x.DType())
	outStrides := shape.ComputeStrides()
	inStrides := computeBroadcastStridesForShape(x.Shape(), shape)
	switch x.DType() {
	case tensor.Float32:
		gatherBroadcast(result.AsFloat32(), x.AsFloat32(), outStrides, inStrides)
	case tensor.Int32:
		gatherBroadcast(result.AsInt32(), x.AsInt32(), outStrides, inStrides)
	}
	return result
}

func gatherBroadcast[T float32 | int32](dst, src []T, outStrides, inStrides []int) {
	for i := range dst {
		dst[i] = src[computeFlatIndex(i, outStrides, inStrides)]
	}
}

// Cat concatenates tensors along dim. All other dimensions must match.
func (cpu *CPUBackend) Cat(tensors []*tensor.RawTensor, dim int) *tensor.RawTensor {
	if len(tensors) == 0 {
		panic("cat: no tensors")
	}
	first := tensors[0].Shape()
	dim = normalizeDim("cat", dim, len(first))

	total := 0
	for _, t := range tensors {
		s := t.Shape()
		if len(s) != len(first) || t.DType() != tensors[0].DType() {
			panic(fmt.Sprintf("cat: incompatible tensors %v and %v", first, s))
		}
		for i := range s {
			if i != dim && s[i] != first[i] {
				panic(fmt.Sprintf("cat: shape mismatch %v vs %v at dim %d", first, s, i))
			}
		}
		total += s[dim]
	}

	outShape := first.WithDim(dim, total)
	result := cpu.alloc("cat", outShape, tensors[0].DType())
	outer, _, inner := splitAt(outShape, dim)

	switch result.DType() {
	case tensor.Float32:
		srcs := make([][]float32, len(tensors))
		for i, t := range tensors {
			srcs[i] = t.AsFloat32()
		}
		catInto(result.AsFloat32(), srcs, tensors, dim, outer, inner)
	case tensor.Int32:
		srcs := make([][]int32, len(tensors))
		for i, t := range tensors {
			srcs[i] = t.AsInt32()
		}
		catInto(result.AsInt32(), srcs, tensors, dim, outer, inner)
	}
	return result
}

func catInto[T float32 | int32](dst []T, srcs [][]T, tensors []*tensor.RawTensor, dim, outer, inner int) {
	pos := 0
	for o := 0; o < outer; o++ {
		for i, src := range srcs {
			chunk := tensors[i].Shape()[dim] * inner
			copy(dst[pos:pos+chunk], src[o*chunk:(o+1)*chunk])
			pos += chunk
		}
	}
}

// Narrow returns elements [start, start+length) along dim.
func (cpu *CPUBackend) Narrow(x *tensor.RawTensor, dim, start, length int) *tensor.RawTensor {
	shape := x.Shape()
	dim = normalizeDim("narrow", dim, len(shape))
	if start < 0 || length <= 0 || start+length > shape[dim] {
		panic(fmt.Sprintf("narrow: range [%d,%d) out of bounds for dim %d of %v", start, start+length, dim, shape))
	}

	outShape := shape.WithDim(dim, length)
	result := cpu.alloc("narrow", outShape, x.DType())
	outer, size, inner := splitAt(shape, dim)

	switch x.DType() {
	case tensor.Float32:
		narrowInto(result.AsFloat32(), x.AsFloat32(), outer, size, inner, start, length)
	case tensor.Int32:
		narrowInto(result.AsInt32(), x.AsInt32(), outer, size, inner, start, length)
	}
	return result
}

func narrowInto[T float32 | int32](dst, src []T, outer, size, inner, start, length int) {
	chunk := length * inner
	for o := 0; o < outer; o++ {
		from := (o*size + start) * inner
		copy(dst[o*chunk:(o+1)*chunk], src[from:from+chunk])
	}
}
