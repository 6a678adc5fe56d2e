package nn

import (
	"fmt"
	"sort"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Role tags a parameter with the initialization family it belongs to.
type Role int

// Parameter roles.
const (
	// RoleWeight marks feed-forward weight matrices and lookup tables.
	RoleWeight Role = iota
	// RoleBias marks additive biases.
	RoleBias
	// RoleRecurrent marks state-to-state matrices of recurrent cells.
	RoleRecurrent
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleWeight:
		return "weight"
	case RoleBias:
		return "bias"
	case RoleRecurrent:
		return "recurrent"
	default:
		return "unknown"
	}
}

// Parameter represents a trainable tensor owned by exactly one component.
//
// Its shape is fixed at allocation. Only optimizers and checkpoint loaders
// write to its data, and only between batches.
//
// Example:
//
//	w := nn.NewParameter(scope.Param("W"), nn.RoleWeight, tensor.Shape{4, 8}, backend)
//	y := x.MatMul(w.Value())
type Parameter[B tensor.Backend] struct {
	name   string
	role   Role
	tensor *tensor.Tensor[float32, B]
	grad   *tensor.Tensor[float32, B]
	noise  *tensor.Tensor[float32, B]
}

// NewParameter allocates a zero-filled parameter.
func NewParameter[B tensor.Backend](name string, role Role, shape tensor.Shape, backend B) *Parameter[B] {
	return &Parameter[B]{
		name:   name,
		role:   role,
		tensor: tensor.Zeros[float32](shape, backend),
	}
}

// Name returns the hierarchical parameter name.
func (p *Parameter[B]) Name() string {
	return p.name
}

// Role returns the parameter role.
func (p *Parameter[B]) Role() Role {
	return p.role
}

// Shape returns the parameter shape.
func (p *Parameter[B]) Shape() tensor.Shape {
	return p.tensor.Shape()
}

// Tensor returns the parameter tensor.
func (p *Parameter[B]) Tensor() *tensor.Tensor[float32, B] {
	return p.tensor
}

// Value returns the tensor to use in a forward pass: the parameter itself,
// or parameter + noise while weight noise is applied. Gradients reach the
// parameter either way.
func (p *Parameter[B]) Value() *tensor.Tensor[float32, B] {
	if p.noise == nil {
		return p.tensor
	}
	return p.tensor.Add(p.noise)
}

// Grad returns the gradient from the last backward pass, or nil.
func (p *Parameter[B]) Grad() *tensor.Tensor[float32, B] {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter[B]) SetGrad(grad *tensor.Tensor[float32, B]) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter[B]) ZeroGrad() {
	p.grad = nil
}

// NumElements sums the element counts of params.
func NumElements[B tensor.Backend](params []*Parameter[B]) int {
	n := 0
	for _, p := range params {
		n += p.Shape().NumElements()
	}
	return n
}

// StateDict returns a flat name -> tensor mapping of params.
//
// The returned tensors alias the parameters. Duplicate names are an error:
// every name must identify exactly one parameter.
func StateDict[B tensor.Backend](params []*Parameter[B]) (map[string]*tensor.RawTensor, error) {
	state := make(map[string]*tensor.RawTensor, len(params))
	for _, p := range params {
		if _, dup := state[p.name]; dup {
			return nil, fmt.Errorf("duplicate parameter name %q", p.name)
		}
		state[p.name] = p.tensor.Raw()
	}
	return state, nil
}

// LoadStateDict copies values from state into params by name.
//
// Every parameter must be present with a matching shape; extra entries in
// state are reported as an error too, so a checkpoint from another
// architecture is never half-applied. Nothing is modified on error.
func LoadStateDict[B tensor.Backend](params []*Parameter[B], state map[string]*tensor.RawTensor) error {
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		src, ok := state[p.name]
		if !ok {
			return fmt.Errorf("missing parameter %q", p.name)
		}
		if !src.Shape().Equal(p.Shape()) {
			return fmt.Errorf("parameter %q: shape mismatch: checkpoint %v, model %v", p.name, src.Shape(), p.Shape())
		}
		if src.DType() != tensor.Float32 {
			return fmt.Errorf("parameter %q: expected float32, got %s", p.name, src.DType())
		}
		seen[p.name] = true
	}

	var extra []string
	for name := range state {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return fmt.Errorf("unexpected parameters in checkpoint: %v", extra)
	}

	for _, p := range params {
		if err := p.tensor.Raw().CopyFrom(state[p.name]); err != nil {
			return fmt.Errorf("parameter %q: %w", p.name, err)
		}
	}
	return nil
}
