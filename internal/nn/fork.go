package nn

import (
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// GateInputs carries the three input streams of a gated recurrent cell.
// Update and Reset are nil when the corresponding gate is disabled.
type GateInputs[B tensor.Backend] struct {
	Inputs *tensor.Tensor[float32, B]
	Update *tensor.Tensor[float32, B]
	Reset  *tensor.Tensor[float32, B]
}

// Add sums two sets of gate inputs stream by stream.
func (g GateInputs[B]) Add(o GateInputs[B]) GateInputs[B] {
	return GateInputs[B]{
		Inputs: addOptional(g.Inputs, o.Inputs),
		Update: addOptional(g.Update, o.Update),
		Reset:  addOptional(g.Reset, o.Reset),
	}
}

// Step selects time step t of time-major inputs.
func (g GateInputs[B]) Step(t int) GateInputs[B] {
	out := GateInputs[B]{Inputs: g.Inputs.Step(t)}
	if g.Update != nil {
		out.Update = g.Update.Step(t)
	}
	if g.Reset != nil {
		out.Reset = g.Reset.Step(t)
	}
	return out
}

func addOptional[B tensor.Backend](a, b *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	default:
		return a.Add(b)
	}
}

// Fork projects one input into the streams a GatedRecurrent consumes,
// one Linear per stream.
type Fork[B tensor.Backend] struct {
	inputs *Linear[B]
	update *Linear[B]
	reset  *Linear[B]
}

// NewFork allocates a fork from inDim into the gate streams of a cell of
// size dim. Streams for disabled gates are not allocated.
func NewFork[B tensor.Backend](scope Scope, inDim, dim int, gates GateConfig, useBias bool, backend B) (*Fork[B], error) {
	f := &Fork[B]{}
	var err error
	if f.inputs, err = NewLinear(scope.Child("fork_inputs"), inDim, dim, useBias, backend); err != nil {
		return nil, err
	}
	if gates.Update {
		if f.update, err = NewLinear(scope.Child("fork_update_inputs"), inDim, dim, useBias, backend); err != nil {
			return nil, err
		}
	}
	if gates.Reset {
		if f.reset, err = NewLinear(scope.Child("fork_reset_inputs"), inDim, dim, useBias, backend); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Apply projects x [..., inDim] into gate inputs [..., dim].
func (f *Fork[B]) Apply(x *tensor.Tensor[float32, B]) GateInputs[B] {
	out := GateInputs[B]{Inputs: f.inputs.Apply(x)}
	if f.update != nil {
		out.Update = f.update.Apply(x)
	}
	if f.reset != nil {
		out.Reset = f.reset.Apply(x)
	}
	return out
}

// Parameters returns the parameters of every stream.
func (f *Fork[B]) Parameters() []*Parameter[B] {
	params := f.inputs.Parameters()
	if f.update != nil {
		params = append(params, f.update.Parameters()...)
	}
	if f.reset != nil {
		params = append(params, f.reset.Parameters()...)
	}
	return params
}
