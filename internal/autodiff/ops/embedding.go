package ops

import (
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// EmbeddingOp represents a row lookup: output[i] = weight[indices[i]].
//
// Backward scatter-adds the output gradient into the rows that were read.
// Rows read through a negative index (the "no token" sentinel) produced
// zeros and receive nothing. Indices are not differentiable.
type EmbeddingOp struct {
	weight  *tensor.RawTensor
	indices *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewEmbeddingOp creates a new EmbeddingOp.
func NewEmbeddingOp(weight, indices, output *tensor.RawTensor) *EmbeddingOp {
	return &EmbeddingOp{weight: weight, indices: indices, output: output}
}

// Inputs returns [weight, indices].
func (op *EmbeddingOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.weight, op.indices}
}

// Output returns the output tensor.
func (op *EmbeddingOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the weight gradient.
func (op *EmbeddingOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	dim := op.weight.Shape()[1]
	grad := zeros(op.weight.Shape())
	gw, g := grad.AsFloat32(), outputGrad.AsFloat32()

	for i, id := range op.indices.AsInt32() {
		if id < 0 {
			continue
		}
		row := gw[int(id)*dim : (int(id)+1)*dim]
		src := g[i*dim : (i+1)*dim]
		for j, v := range src {
			row[j] += v
		}
	}
	return []*tensor.RawTensor{grad, nil}
}
