package ops

import "github.com/born-ml/rnnsearch/internal/tensor"

// MaxoutOp represents a max over consecutive groups of the last dimension.
//
// Backward routes each group's gradient to the first element that attained
// the maximum.
type MaxoutOp struct {
	unaryOp
	pieces int
}

// NewMaxoutOp creates a new MaxoutOp.
func NewMaxoutOp(x, output *tensor.RawTensor, pieces int) *MaxoutOp {
	return &MaxoutOp{unaryOp: unaryOp{input: x, output: output}, pieces: pieces}
}

// Backward computes the gradient of maxout.
func (op *MaxoutOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	grad := zeros(op.input.Shape())
	gx, in, g := grad.AsFloat32(), op.input.AsFloat32(), outputGrad.AsFloat32()

	for k, v := range g {
		base := k * op.pieces
		best := base
		for j := base + 1; j < base+op.pieces; j++ {
			if in[j] > in[best] {
				best = j
			}
		}
		gx[best] = v
	}
	return []*tensor.RawTensor{grad}
}
