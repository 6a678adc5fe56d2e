package cpu

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Embedding gathers rows of weight [V, E] for every index.
//
// Output shape is indices.Shape() + [E]. Negative indices select nothing
// and yield a zero row; indices >= V panic.
func (cpu *CPUBackend) Embedding(weight, indices *tensor.RawTensor) *tensor.RawTensor {
	requireFloat32("embedding", weight)
	if indices.DType() != tensor.Int32 {
		panic(fmt.Sprintf("embedding: indices must be int32, got %s", indices.DType()))
	}
	wShape := weight.Shape()
	if len(wShape) != 2 {
		panic(fmt.Sprintf("embedding: weight must be 2D, got %v", wShape))
	}
	vocab, dim := wShape[0], wShape[1]

	outShape := append(indices.Shape().Clone(), dim)
	result := cpu.alloc("embedding", outShape, tensor.Float32)
	out, w := result.AsFloat32(), weight.AsFloat32()

	for i, id := range indices.AsInt32() {
		if id < 0 {
			continue
		}
		if int(id) >= vocab {
			panic(fmt.Sprintf("embedding: index %d out of range for vocabulary of %d", id, vocab))
		}
		copy(out[i*dim:(i+1)*dim], w[int(id)*dim:(int(id)+1)*dim])
	}
	return result
}
