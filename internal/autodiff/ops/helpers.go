package ops

import (
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// reduceBroadcast reduces a gradient tensor to match the target shape.
// This is necessary when broadcasting was used in the forward pass.
//
// Example:
//
//	Forward: a[3,1] + b[3,4] -> c[3,4]  (a was broadcast along dim 1)
//	Backward: grad_c[3,4] -> grad_a[3,1] (sum along dim 1)
func reduceBroadcast(grad *tensor.RawTensor, targetShape tensor.Shape, backend tensor.Backend) *tensor.RawTensor {
	gradShape := grad.Shape()
	if gradShape.Equal(targetShape) {
		return grad
	}

	// NumPy broadcasting aligns shapes from the right: leading dimensions
	// the target lacks are summed away first.
	result := grad
	for len(result.Shape()) > len(targetShape) {
		result = backend.SumDim(result, 0, false)
	}

	shape := result.Shape()
	for i := range targetShape {
		if targetShape[i] == 1 && shape[i] > 1 {
			result = backend.SumDim(result, i, true)
		}
	}

	if !result.Shape().Equal(targetShape) {
		result = backend.Reshape(result, targetShape)
	}
	return result
}

// ones returns a float32 tensor of ones with the given shape.
func ones(shape tensor.Shape) *tensor.RawTensor {
	r := tensor.MustRaw(shape, tensor.Float32, tensor.CPU)
	data := r.AsFloat32()
	for i := range data {
		data[i] = 1
	}
	return r
}

// zeros returns a float32 tensor of zeros with the given shape.
func zeros(shape tensor.Shape) *tensor.RawTensor {
	return tensor.MustRaw(shape, tensor.Float32, tensor.CPU)
}
