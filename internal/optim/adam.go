package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

const (
	adamPrefix  = "adam/"
	adamStepKey = adamPrefix + "t"
)

// Adam implements Adaptive Moment Estimation as a step rule.
//
// Update rule:
//
//	m_t = beta1 * m_{t-1} + (1-beta1) * gradient
//	v_t = beta2 * v_{t-1} + (1-beta2) * gradient²
//	m_hat = m_t / (1 - beta1^t)
//	v_hat = v_t / (1 - beta2^t)
//	step = lr * m_hat / (sqrt(v_hat) + eps)
//
// Reference: "Adam: A Method for Stochastic Optimization" (Kingma & Ba, 2014)
type Adam struct {
	lr    float32
	beta1 float32
	beta2 float32
	eps   float32
	t     int
	state map[string]*tensor.RawTensor
}

// AdamConfig holds configuration for Adam.
type AdamConfig struct {
	LR    float32    // Learning rate (default: 0.001)
	Betas [2]float32 // Coefficients for computing running averages (default: [0.9, 0.999])
	Eps   float32    // Term for numerical stability (default: 1e-8)
}

// NewAdam creates Adam, filling unset hyperparameters with the defaults.
func NewAdam(config AdamConfig) *Adam {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Betas[0] == 0 {
		config.Betas[0] = 0.9
	}
	if config.Betas[1] == 0 {
		config.Betas[1] = 0.999
	}
	if config.Eps == 0 {
		config.Eps = 1e-8
	}
	return &Adam{
		lr:    config.LR,
		beta1: config.Betas[0],
		beta2: config.Betas[1],
		eps:   config.Eps,
		state: make(map[string]*tensor.RawTensor),
	}
}

// ComputeSteps implements StepRule.
func (a *Adam) ComputeSteps(steps []Step) {
	a.t++
	biasCorrection1 := float32(1.0 - math.Pow(float64(a.beta1), float64(a.t)))
	biasCorrection2 := float32(1.0 - math.Pow(float64(a.beta2), float64(a.t)))

	for _, s := range steps {
		m := slot(a.state, adamPrefix+s.Name+"/m", s.Shape)
		v := slot(a.state, adamPrefix+s.Name+"/v", s.Shape)
		for i, g := range s.Delta {
			m[i] = a.beta1*m[i] + (1.0-a.beta1)*g
			v[i] = a.beta2*v[i] + (1.0-a.beta2)*g*g
			mHat := m[i] / biasCorrection1
			vHat := v[i] / biasCorrection2
			s.Delta[i] = a.lr * mHat / (float32(math.Sqrt(float64(vHat))) + a.eps)
		}
	}
}

// Timestep returns the number of updates computed so far.
func (a *Adam) Timestep() int {
	return a.t
}

// StateDict implements Stateful.
func (a *Adam) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor, len(a.state)+1)
	for k, v := range a.state {
		out[k] = v
	}
	t := tensor.MustRaw(tensor.Shape{1}, tensor.Int32, tensor.CPU)
	t.AsInt32()[0] = int32(a.t)
	out[adamStepKey] = t
	return out
}

// LoadStateDict implements Stateful.
func (a *Adam) LoadStateDict(state map[string]*tensor.RawTensor) error {
	moments := make(map[string]*tensor.RawTensor, len(state))
	for k, v := range state {
		if k != adamStepKey {
			moments[k] = v
		}
	}
	a.state = make(map[string]*tensor.RawTensor)
	if err := loadPrefixed(a.state, moments, adamPrefix); err != nil {
		return err
	}
	a.t = 0
	if raw, ok := state[adamStepKey]; ok {
		if raw.DType() != tensor.Int32 || raw.NumElements() != 1 {
			return fmt.Errorf("optim: state %q: expected one int32", adamStepKey)
		}
		a.t = int(raw.AsInt32()[0])
	}
	return nil
}
