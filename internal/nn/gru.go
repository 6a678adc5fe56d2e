package nn

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// GateConfig enables the update and reset gates of a GatedRecurrent.
type GateConfig struct {
	Update bool
	Reset  bool
}

// FullGates enables both gates.
var FullGates = GateConfig{Update: true, Reset: true}

// GatedRecurrent is a GRU cell over states of size Dim:
//
//	r    = σ(h·Wr + reset)
//	c    = tanh((r∘h)·W + inputs [+ extra])
//	z    = σ(h·Wu + update)
//	next = z∘c + (1-z)∘h
//
// Where a step is masked out the state is carried forward unchanged.
type GatedRecurrent[B tensor.Backend] struct {
	dim           int
	gates         GateConfig
	stateToState  *Parameter[B]
	stateToUpdate *Parameter[B]
	stateToReset  *Parameter[B]
}

// NewGatedRecurrent allocates the recurrent matrices of a cell.
func NewGatedRecurrent[B tensor.Backend](scope Scope, dim int, gates GateConfig, backend B) (*GatedRecurrent[B], error) {
	if err := checkPositive(string(scope)+" state dim", dim); err != nil {
		return nil, err
	}
	g := &GatedRecurrent[B]{
		dim:          dim,
		gates:        gates,
		stateToState: NewParameter(scope.Param("state_to_state"), RoleRecurrent, tensor.Shape{dim, dim}, backend),
	}
	if gates.Update {
		g.stateToUpdate = NewParameter(scope.Param("state_to_update"), RoleRecurrent, tensor.Shape{dim, dim}, backend)
	}
	if gates.Reset {
		g.stateToReset = NewParameter(scope.Param("state_to_reset"), RoleRecurrent, tensor.Shape{dim, dim}, backend)
	}
	return g, nil
}

// Dim returns the state size.
func (g *GatedRecurrent[B]) Dim() int {
	return g.dim
}

// Gates returns the gate configuration.
func (g *GatedRecurrent[B]) Gates() GateConfig {
	return g.gates
}

// CheckInputs verifies that exactly the enabled gates receive inputs and
// that every stream ends in the state size.
func (g *GatedRecurrent[B]) CheckInputs(in GateInputs[B]) error {
	if in.Inputs == nil {
		return fmt.Errorf("%w: missing candidate inputs", ErrGateConfig)
	}
	if (in.Update != nil) != g.gates.Update {
		return fmt.Errorf("%w: update gate enabled=%v but update inputs supplied=%v", ErrGateConfig, g.gates.Update, in.Update != nil)
	}
	if (in.Reset != nil) != g.gates.Reset {
		return fmt.Errorf("%w: reset gate enabled=%v but reset inputs supplied=%v", ErrGateConfig, g.gates.Reset, in.Reset != nil)
	}
	for _, t := range []*tensor.Tensor[float32, B]{in.Inputs, in.Update, in.Reset} {
		if t != nil && t.Shape().Dim(-1) != g.dim {
			return fmt.Errorf("%w: gate input %v does not end in state dim %d", ErrShape, t.Shape(), g.dim)
		}
	}
	return nil
}

// Step computes the next state from state [B, H] and inputs [B, H].
// extra, when non-nil, is added inside the candidate activation.
// Inputs must have passed CheckInputs.
func (g *GatedRecurrent[B]) Step(state *tensor.Tensor[float32, B], in GateInputs[B], extra *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	gated := state
	if g.gates.Reset {
		reset := state.MatMul(g.stateToReset.Value()).Add(in.Reset).Sigmoid()
		gated = reset.Mul(state)
	}

	pre := gated.MatMul(g.stateToState.Value()).Add(in.Inputs)
	if extra != nil {
		pre = pre.Add(extra)
	}
	candidate := pre.Tanh()

	if !g.gates.Update {
		return candidate
	}
	update := state.MatMul(g.stateToUpdate.Value()).Add(in.Update).Sigmoid()
	keep := update.MulScalar(-1).AddScalar(1)
	return update.Mul(candidate).Add(keep.Mul(state))
}

// Scan folds Step over the time axis of inputs [T, B, H] starting from
// init [B, H]. mask [T, B] (optional) freezes the state at padded steps.
// With reverse the fold runs from the last step to the first; the returned
// states [T, B, H] are always in input order.
func (g *GatedRecurrent[B]) Scan(in GateInputs[B], mask *tensor.Tensor[float32, B], init *tensor.Tensor[float32, B], reverse bool) (*tensor.Tensor[float32, B], error) {
	if err := g.CheckInputs(in); err != nil {
		return nil, err
	}
	shape := in.Inputs.Shape()
	if len(shape) != 3 {
		return nil, fmt.Errorf("%w: scan inputs must be [T, B, H], got %v", ErrShape, shape)
	}
	steps, batch := shape[0], shape[1]
	if !init.Shape().Equal(tensor.Shape{batch, g.dim}) {
		return nil, fmt.Errorf("%w: initial state %v, want [%d %d]", ErrShape, init.Shape(), batch, g.dim)
	}
	if mask != nil && !mask.Shape().Equal(tensor.Shape{steps, batch}) {
		return nil, fmt.Errorf("%w: mask %v, want [%d %d]", ErrShape, mask.Shape(), steps, batch)
	}

	states := make([]*tensor.Tensor[float32, B], steps)
	state := init
	for i := 0; i < steps; i++ {
		t := i
		if reverse {
			t = steps - 1 - i
		}
		next := g.Step(state, in.Step(t), nil)
		if mask != nil {
			next = CarryMasked(next, state, mask.Step(t))
		}
		states[t] = next
		state = next
	}
	return tensor.Stack(states), nil
}

// CarryMasked returns m∘next + (1-m)∘prev for a per-example mask m [B].
// Where m is 0 the result is exactly prev.
func CarryMasked[B tensor.Backend](next, prev, m *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	col := m.Reshape(m.Shape()[0], 1)
	inverse := col.MulScalar(-1).AddScalar(1)
	return col.Mul(next).Add(inverse.Mul(prev))
}

// Parameters returns the recurrent matrices.
func (g *GatedRecurrent[B]) Parameters() []*Parameter[B] {
	params := []*Parameter[B]{g.stateToState}
	if g.stateToUpdate != nil {
		params = append(params, g.stateToUpdate)
	}
	if g.stateToReset != nil {
		params = append(params, g.stateToReset)
	}
	return params
}
