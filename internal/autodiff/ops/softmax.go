package ops

import "github.com/born-ml/rnnsearch/internal/tensor"

// SoftmaxOp represents a (possibly masked) softmax over the last dimension.
//
// Backward: dL/dx = y * (dL/dy - Σ y·dL/dy). Masked positions have y = 0
// and therefore receive no gradient. The mask itself is not differentiable.
type SoftmaxOp struct {
	input  *tensor.RawTensor
	mask   *tensor.RawTensor
	output *tensor.RawTensor
}

// NewSoftmaxOp creates a new SoftmaxOp. mask may be nil.
func NewSoftmaxOp(x, mask, output *tensor.RawTensor) *SoftmaxOp {
	return &SoftmaxOp{input: x, mask: mask, output: output}
}

// Inputs returns [x] or [x, mask].
func (op *SoftmaxOp) Inputs() []*tensor.RawTensor {
	if op.mask == nil {
		return []*tensor.RawTensor{op.input}
	}
	return []*tensor.RawTensor{op.input, op.mask}
}

// Output returns the output tensor.
func (op *SoftmaxOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the softmax gradient.
func (op *SoftmaxOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	y := op.output
	weighted := backend.Mul(y, outputGrad)
	dot := backend.SumDim(weighted, -1, true)
	grad := backend.Mul(y, backend.Sub(outputGrad, dot))
	if op.mask == nil {
		return []*tensor.RawTensor{grad}
	}
	return []*tensor.RawTensor{grad, nil}
}
