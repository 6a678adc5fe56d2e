package nn

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Linear implements an affine map over the last dimension.
//
// Performs y = x @ W (+ b) where W has shape [in, out], so inputs of any
// rank [..., in] map to [..., out]. The bias is optional: merge and energy
// projections run without one.
//
// Example:
//
//	layer, err := nn.NewLinear(scope.Child("preprocess"), 2*hidden, matchDim, true, backend)
//	projected := layer.Apply(representation) // [T, B, matchDim]
type Linear[B tensor.Backend] struct {
	in, out int
	weight  *Parameter[B]
	bias    *Parameter[B]
}

// NewLinear allocates a Linear layer named by scope.
func NewLinear[B tensor.Backend](scope Scope, in, out int, useBias bool, backend B) (*Linear[B], error) {
	if err := checkPositive(string(scope)+" input dim", in); err != nil {
		return nil, err
	}
	if err := checkPositive(string(scope)+" output dim", out); err != nil {
		return nil, err
	}

	l := &Linear[B]{
		in:     in,
		out:    out,
		weight: NewParameter(scope.Param("W"), RoleWeight, tensor.Shape{in, out}, backend),
	}
	if useBias {
		l.bias = NewParameter(scope.Param("b"), RoleBias, tensor.Shape{out}, backend)
	}
	return l, nil
}

// InputDim returns the input feature size.
func (l *Linear[B]) InputDim() int {
	return l.in
}

// OutputDim returns the output feature size.
func (l *Linear[B]) OutputDim() int {
	return l.out
}

// Weight returns the weight parameter [in, out].
func (l *Linear[B]) Weight() *Parameter[B] {
	return l.weight
}

// Bias returns the bias parameter, or nil when the layer has none.
func (l *Linear[B]) Bias() *Parameter[B] {
	return l.bias
}

// Apply maps x [..., in] to [..., out].
func (l *Linear[B]) Apply(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	shape := x.Shape()
	if shape[len(shape)-1] != l.in {
		panic(fmt.Sprintf("linear %s: input %v does not end in %d", l.weight.Name(), shape, l.in))
	}

	flat := x
	if len(shape) != 2 {
		flat = x.Reshape(shape.Flatten2D()...)
	}
	y := flat.MatMul(l.weight.Value())
	if l.bias != nil {
		y = y.Add(l.bias.Value())
	}
	if len(shape) != 2 {
		y = y.Reshape(shape.WithDim(len(shape)-1, l.out)...)
	}
	return y
}

// Parameters returns [W] or [W, b].
func (l *Linear[B]) Parameters() []*Parameter[B] {
	if l.bias == nil {
		return []*Parameter[B]{l.weight}
	}
	return []*Parameter[B]{l.weight, l.bias}
}

// Bias is a standalone additive bias over the last dimension.
type Bias[B tensor.Backend] struct {
	b *Parameter[B]
}

// NewBias allocates a bias of size dim.
func NewBias[B tensor.Backend](scope Scope, dim int, backend B) (*Bias[B], error) {
	if err := checkPositive(string(scope)+" dim", dim); err != nil {
		return nil, err
	}
	return &Bias[B]{b: NewParameter(scope.Param("b"), RoleBias, tensor.Shape{dim}, backend)}, nil
}

// Apply adds the bias to x [..., dim].
func (b *Bias[B]) Apply(x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	return x.Add(b.b.Value())
}

// Parameters returns [b].
func (b *Bias[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{b.b}
}
