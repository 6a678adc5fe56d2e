package ops

import "github.com/born-ml/rnnsearch/internal/tensor"

// SumOp represents the total sum of x.
type SumOp struct{ unaryOp }

// NewSumOp creates a new SumOp.
func NewSumOp(x, output *tensor.RawTensor) *SumOp {
	return &SumOp{unaryOp{input: x, output: output}}
}

// Backward broadcasts the scalar gradient to the input shape.
func (op *SumOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	return []*tensor.RawTensor{backend.Mul(ones(op.input.Shape()), outputGrad)}
}

// SumDimOp represents a sum along one dimension.
type SumDimOp struct {
	unaryOp
	dim int
}

// NewSumDimOp creates a new SumDimOp.
func NewSumDimOp(x, output *tensor.RawTensor, dim int) *SumDimOp {
	if dim < 0 {
		dim += len(x.Shape())
	}
	return &SumDimOp{unaryOp: unaryOp{input: x, output: output}, dim: dim}
}

// Backward repeats the gradient along the reduced dimension.
func (op *SumDimOp) Backward(outputGrad *tensor.RawTensor, backend tensor.Backend) []*tensor.RawTensor {
	inShape := op.input.Shape()
	kept := backend.Reshape(outputGrad, inShape.WithDim(op.dim, 1))
	return []*tensor.RawTensor{backend.Expand(kept, inShape)}
}
