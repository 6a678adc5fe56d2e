// Package nn implements the trainable building blocks of the translation
// model.
//
// Components allocate their parameters in their constructors (dimensions
// are validated there), are initialized in one pass by Initialize according
// to each parameter's Role, and expose apply methods that build the forward
// computation on the backend:
//   - Parameter: named, role-tagged trainable tensor
//   - Linear, LookupTable, Maxout, Dropout
//   - GatedRecurrent: GRU cell with a masked scan over time
//   - Fork: one input projected into the three GRU input streams
//   - WeightNoise: in-graph Gaussian perturbation of parameters
package nn

import (
	"errors"
	"fmt"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Errors returned by constructors and apply methods.
var (
	// ErrDimension reports a non-positive or inconsistent dimension.
	ErrDimension = errors.New("nn: invalid dimension")

	// ErrGateConfig reports gate inputs that disagree with the enabled gates.
	ErrGateConfig = errors.New("nn: gate configuration and input mismatch")

	// ErrShape reports an input whose shape does not fit the component.
	ErrShape = errors.New("nn: shape mismatch")
)

// Module is the capability shared by every trainable component.
type Module[B tensor.Backend] interface {
	// Parameters returns all trainable parameters, nested ones included,
	// in a deterministic order.
	Parameters() []*Parameter[B]
}

// CollectParameters concatenates the parameters of modules in order.
// Nil modules are skipped.
func CollectParameters[B tensor.Backend](modules ...Module[B]) []*Parameter[B] {
	var params []*Parameter[B]
	for _, m := range modules {
		if m == nil {
			continue
		}
		params = append(params, m.Parameters()...)
	}
	return params
}

// Scope builds hierarchical parameter names such as
// "decoder/sequencegenerator/readout/merge_states.W".
type Scope string

// Child returns the scope of a sub-component.
func (s Scope) Child(name string) Scope {
	if s == "" {
		return Scope(name)
	}
	return s + "/" + Scope(name)
}

// Param returns the full name of a parameter owned by this scope.
func (s Scope) Param(name string) string {
	return string(s) + "." + name
}

func checkPositive(what string, dims ...int) error {
	for _, d := range dims {
		if d <= 0 {
			return fmt.Errorf("%w: %s %d (must be positive)", ErrDimension, what, d)
		}
	}
	return nil
}
