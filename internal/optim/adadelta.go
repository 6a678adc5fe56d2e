package optim

import (
	"math"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

const adaDeltaPrefix = "adadelta/"

// AdaDelta adapts a per-coordinate step size from running averages of
// squared gradients and squared updates:
//
//	E[g²]_t  = ρ E[g²]_{t-1} + (1-ρ) g²
//	Δx_t     = sqrt(E[Δx²]_{t-1} + ε) / sqrt(E[g²]_t + ε) · g
//	E[Δx²]_t = ρ E[Δx²]_{t-1} + (1-ρ) Δx²
//
// Reference: "ADADELTA: An Adaptive Learning Rate Method" (Zeiler, 2012).
type AdaDelta struct {
	decay   float32
	epsilon float32
	state   map[string]*tensor.RawTensor
}

// NewAdaDelta returns the rule with decay rate ρ and epsilon ε.
func NewAdaDelta(decay, epsilon float64) *AdaDelta {
	return &AdaDelta{
		decay:   float32(decay),
		epsilon: float32(epsilon),
		state:   make(map[string]*tensor.RawTensor),
	}
}

// ComputeSteps implements StepRule.
func (a *AdaDelta) ComputeSteps(steps []Step) {
	for _, s := range steps {
		msg := slot(a.state, adaDeltaPrefix+s.Name+"/mean_square_grad", s.Shape)
		msdx := slot(a.state, adaDeltaPrefix+s.Name+"/mean_square_delta_x", s.Shape)
		for i, g := range s.Delta {
			msg[i] = a.decay*msg[i] + (1-a.decay)*g*g
			rmsDx := float32(math.Sqrt(float64(msdx[i] + a.epsilon)))
			rmsG := float32(math.Sqrt(float64(msg[i] + a.epsilon)))
			dx := rmsDx / rmsG * g
			msdx[i] = a.decay*msdx[i] + (1-a.decay)*dx*dx
			s.Delta[i] = dx
		}
	}
}

// StateDict implements Stateful.
func (a *AdaDelta) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(a.state))
	for k, v := range a.state {
		out[k] = v
	}
	return out
}

// LoadStateDict implements Stateful.
func (a *AdaDelta) LoadStateDict(state map[string]*tensor.RawTensor) error {
	a.state = make(map[string]*tensor.RawTensor)
	return loadPrefixed(a.state, state, adaDeltaPrefix)
}
