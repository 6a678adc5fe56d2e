// Package optim implements the gradient-descent training algorithm and the
// step rules that turn raw gradients into parameter updates.
//
// A step rule sees every parameter's step at once, so rules that need a
// global view (clipping by the total norm) compose with per-parameter
// rules (AdaDelta, Adam) in a CompositeRule:
//
//	rule := optim.CompositeRule{
//	    optim.StepClipping{Threshold: 1},
//	    optim.NewRemoveNotFinite(0.9),
//	    optim.NewAdaDelta(0.95, 1e-6),
//	}
//	gd := optim.NewGradientDescent(model.Parameters(), rule)
//
//	backend.Tape().StartRecording()
//	cost, _ := model.Cost(batch)
//	grads := autodiff.Backward(cost, backend)
//	gd.Step(grads)
package optim

import (
	"fmt"
	"math"

	"github.com/born-ml/rnnsearch/internal/config"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Step is one parameter's update as it passes through a rule chain.
// Rules rewrite Delta in place; the parameter moves by -Delta.
type Step struct {
	Name  string
	Shape tensor.Shape
	Value []float32
	Delta []float32
}

// StepRule transforms the steps of all parameters.
type StepRule interface {
	ComputeSteps(steps []Step)
}

// Stateful is implemented by rules that keep state between updates.
// State entries are keyed "<rule>/<parameter>/<slot>"; LoadStateDict
// ignores entries that belong to other rules.
type Stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// CompositeRule applies its rules in order.
type CompositeRule []StepRule

// ComputeSteps implements StepRule.
func (c CompositeRule) ComputeSteps(steps []Step) {
	for _, r := range c {
		r.ComputeSteps(steps)
	}
}

// StateDict merges the state of every stateful rule.
func (c CompositeRule) StateDict() map[string]*tensor.RawTensor {
	state := make(map[string]*tensor.RawTensor)
	for _, r := range c {
		if s, ok := r.(Stateful); ok {
			for k, v := range s.StateDict() {
				state[k] = v
			}
		}
	}
	return state
}

// LoadStateDict hands state to every stateful rule.
func (c CompositeRule) LoadStateDict(state map[string]*tensor.RawTensor) error {
	for _, r := range c {
		if s, ok := r.(Stateful); ok {
			if err := s.LoadStateDict(state); err != nil {
				return err
			}
		}
	}
	return nil
}

// Stats summarizes one update.
type Stats struct {
	GradientNorm float64
	StepNorm     float64
}

// GradientDescent updates parameters in place with the steps produced by
// its rule.
type GradientDescent[B tensor.Backend] struct {
	params []*nn.Parameter[B]
	rule   StepRule
	steps  []Step
}

// NewGradientDescent returns a training algorithm for params.
func NewGradientDescent[B tensor.Backend](params []*nn.Parameter[B], rule StepRule) *GradientDescent[B] {
	steps := make([]Step, len(params))
	for i, p := range params {
		steps[i] = Step{
			Name:  p.Name(),
			Shape: p.Shape(),
			Delta: make([]float32, p.Shape().NumElements()),
		}
	}
	return &GradientDescent[B]{params: params, rule: rule, steps: steps}
}

// Step applies one update from grads, the result of autodiff.Backward.
// A parameter missing from grads did not take part in the cost and gets a
// zero gradient.
func (g *GradientDescent[B]) Step(grads map[*tensor.RawTensor]*tensor.RawTensor) Stats {
	for i, p := range g.params {
		s := &g.steps[i]
		s.Value = p.Tensor().Raw().AsFloat32()
		if grad, ok := grads[p.Tensor().Raw()]; ok && grad != nil {
			copy(s.Delta, grad.AsFloat32())
		} else {
			clear(s.Delta)
		}
	}

	stats := Stats{GradientNorm: math.Sqrt(sqNorm(g.steps))}
	if g.rule != nil {
		g.rule.ComputeSteps(g.steps)
	}
	stats.StepNorm = math.Sqrt(sqNorm(g.steps))

	for _, s := range g.steps {
		for j := range s.Value {
			s.Value[j] -= s.Delta[j]
		}
	}
	return stats
}

// StateDict returns the rule's state, or an empty map for stateless rules.
func (g *GradientDescent[B]) StateDict() map[string]*tensor.RawTensor {
	if s, ok := g.rule.(Stateful); ok {
		return s.StateDict()
	}
	return map[string]*tensor.RawTensor{}
}

// LoadStateDict restores the rule's state.
func (g *GradientDescent[B]) LoadStateDict(state map[string]*tensor.RawTensor) error {
	if s, ok := g.rule.(Stateful); ok {
		return s.LoadStateDict(state)
	}
	return nil
}

// FromConfig builds the training step rule: clipping by the total norm,
// shrinking parameters on non-finite steps, then the rule c.StepRule names.
func FromConfig(c config.Config) (StepRule, error) {
	var last StepRule
	switch c.StepRule {
	case config.StepRuleAdaDelta:
		last = NewAdaDelta(0.95, 1e-6)
	case config.StepRuleAdam:
		last = NewAdam(AdamConfig{LR: float32(c.LearningRate)})
	case config.StepRuleScale:
		last = Scale{LearningRate: c.LearningRate}
	default:
		return nil, fmt.Errorf("%w: unknown step_rule %q", config.ErrInvalidConfig, c.StepRule)
	}
	return CompositeRule{
		StepClipping{Threshold: c.StepClipping},
		NewRemoveNotFinite(0.9),
		last,
	}, nil
}

func sqNorm(steps []Step) float64 {
	var sum float64
	for _, s := range steps {
		sum += sqNormOf(s.Delta)
	}
	return sum
}

func sqNormOf(x []float32) float64 {
	var sum float64
	for _, v := range x {
		sum += float64(v) * float64(v)
	}
	return sum
}

// slot returns the state tensor stored under key, allocating zeros when
// it is missing or was saved for a parameter of a different size.
func slot(state map[string]*tensor.RawTensor, key string, shape tensor.Shape) []float32 {
	if raw, ok := state[key]; ok && raw.NumElements() == shape.NumElements() {
		return raw.AsFloat32()
	}
	raw := tensor.MustRaw(shape, tensor.Float32, tensor.CPU)
	state[key] = raw
	return raw.AsFloat32()
}

func loadPrefixed(dst map[string]*tensor.RawTensor, src map[string]*tensor.RawTensor, prefix string) error {
	for k, v := range src {
		if len(k) <= len(prefix) || k[:len(prefix)] != prefix {
			continue
		}
		if v.DType() != tensor.Float32 {
			return fmt.Errorf("optim: state %q: expected float32, got %s", k, v.DType())
		}
		dst[k] = v.Clone()
	}
	return nil
}
