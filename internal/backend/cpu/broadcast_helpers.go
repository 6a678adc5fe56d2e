package cpu

import (
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// computeBroadcastStridesForShape returns the strides of inShape laid
// over outShape. Missing and unit dimensions get stride 0.
func computeBroadcastStridesForShape(inShape, outShape tensor.Shape) []int {
	strides := make([]int, len(outShape))
	own := inShape.ComputeStrides()
	offset := len(outShape) - len(inShape)
	for i := range strides {
		if j := i - offset; j >= 0 && inShape[j] != 1 {
			strides[i] = own[j]
		}
	}
	return strides
}

// computeFlatIndex maps a flat output index to the flat index of a
// broadcast input.
func computeFlatIndex(outIdx int, outStrides, inStrides []int) int {
	flatIdx := 0
	for i := range outStrides {
		coord := outIdx / outStrides[i]
		outIdx %= outStrides[i]
		flatIdx += coord * inStrides[i]
	}
	return flatIdx
}

// splitAt returns the products of the dimensions before, at and after dim.
//
//	shape [T, B, D], dim 1 -> (T, B, D)
func splitAt(shape tensor.Shape, dim int) (outer, size, inner int) {
	outer, inner = 1, 1
	for i := 0; i < dim; i++ {
		outer *= shape[i]
	}
	for i := dim + 1; i < len(shape); i++ {
		inner *= shape[i]
	}
	return outer, shape[dim], inner
}

// normalizeDim resolves negative dims and panics when out of range.
func normalizeDim(op string, dim, ndim int) int {
	if dim < 0 {
		dim += ndim
	}
	if dim < 0 || dim >= ndim {
		panic(op + ": dimension out of range")
	}
	return dim
}
