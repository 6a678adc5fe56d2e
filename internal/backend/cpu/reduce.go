package cpu

import (
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Sum reduces all elements into a single-element tensor of shape [1].
func (cpu *CPUBackend) Sum(x *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("sum", x)
	result := cpu.alloc("sum", tensor.Shape{1}, tensor.Float32)
	// Accumulate in float64 so long sequences do not lose precision.
	var acc float64
	for _, v := range x.AsFloat32() {
		acc += float64(v)
	}
	result.AsFloat32()[0] = float32(acc)
	return result
}

// SumDim sums along dim. With keepDim the reduced dimension stays as size 1.
// Reducing the only dimension of a 1-D tensor yields shape [1].
func (cpu *CPUBackend) SumDim(x *tensor.RawTensor, dim int, keepDim bool) *tensor.RawTensor {
	requireFloat32("sum_dim", x)
	shape := x.Shape()
	dim = normalizeDim("sum_dim", dim, len(shape))
	outer, size, inner := splitAt(shape, dim)

	var outShape tensor.Shape
	if keepDim || len(shape) == 1 {
		outShape = shape.WithDim(dim, 1)
	} else {
		outShape = append(append(tensor.Shape{}, shape[:dim]...), shape[dim+1:]...)
	}

	result := cpu.alloc("sum_dim", outShape, tensor.Float32)
	out, in := result.AsFloat32(), x.AsFloat32()
	for o := 0; o < outer; o++ {
		dst := out[o*inner : (o+1)*inner]
		for s := 0; s < size; s++ {
			src := in[(o*size+s)*inner : (o*size+s+1)*inner]
			for i, v := range src {
				dst[i] += v
			}
		}
	}
	return result
}
