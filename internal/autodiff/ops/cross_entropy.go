package ops

import (
	"math"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// CrossEntropyOp represents per-row cross-entropy of logits [N, V] against
// int32 targets [N].
//
// Backward: dL/dlogits[n] = dL/doutput[n] * (softmax(logits[n]) - onehot(target[n])),
// zero for rows with a negative target.
type CrossEntropyOp struct {
	logits  *tensor.RawTensor
	targets *tensor.RawTensor
	output  *tensor.RawTensor
}

// NewCrossEntropyOp creates a new CrossEntropyOp.
func NewCrossEntropyOp(logits, targets, output *tensor.RawTensor) *CrossEntropyOp {
	return &CrossEntropyOp{logits: logits, targets: targets, output: output}
}

// Inputs returns [logits, targets].
func (op *CrossEntropyOp) Inputs() []*tensor.RawTensor {
	return []*tensor.RawTensor{op.logits, op.targets}
}

// Output returns the output tensor.
func (op *CrossEntropyOp) Output() *tensor.RawTensor {
	return op.output
}

// Backward computes the logits gradient.
func (op *CrossEntropyOp) Backward(outputGrad *tensor.RawTensor, _ tensor.Backend) []*tensor.RawTensor {
	shape := op.logits.Shape()
	rows, cols := shape[0], shape[1]
	grad := zeros(shape)
	gl, in, g, tgt := grad.AsFloat32(), op.logits.AsFloat32(), outputGrad.AsFloat32(), op.targets.AsInt32()

	for r := 0; r < rows; r++ {
		target := int(tgt[r])
		if target < 0 || g[r] == 0 {
			continue
		}
		row := in[r*cols : (r+1)*cols]
		dst := gl[r*cols : (r+1)*cols]

		maxVal := math.Inf(-1)
		for _, v := range row {
			maxVal = math.Max(maxVal, float64(v))
		}
		var sum float64
		for j, v := range row {
			e := math.Exp(float64(v) - maxVal)
			dst[j] = float32(e)
			sum += e
		}
		for j := range dst {
			dst[j] = float32(float64(dst[j])/sum) * g[r]
		}
		dst[target] -= g[r]
	}
	return []*tensor.RawTensor{grad, nil}
}
