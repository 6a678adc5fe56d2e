package optim

import (
	"math"

	"github.com/born-ml/rnnsearch/internal/metrics"
)

// StepClipping rescales all steps so their joint L2 norm does not exceed
// Threshold. A zero threshold disables clipping.
type StepClipping struct {
	Threshold float64
}

// ComputeSteps implements StepRule.
func (c StepClipping) ComputeSteps(steps []Step) {
	if c.Threshold <= 0 {
		return
	}
	norm := math.Sqrt(sqNorm(steps))
	if !(norm > c.Threshold) {
		return
	}
	scale := float32(c.Threshold / norm)
	for _, s := range steps {
		for i := range s.Delta {
			s.Delta[i] *= scale
		}
	}
}

// RemoveNotFinite replaces any step with a NaN or infinite norm by
// (1 - Scaler) * value, so the parameter shrinks to Scaler times itself
// instead of being destroyed.
type RemoveNotFinite struct {
	Scaler float64
	events int64
}

// NewRemoveNotFinite returns the rule with the given shrink factor.
func NewRemoveNotFinite(scaler float64) *RemoveNotFinite {
	return &RemoveNotFinite{Scaler: scaler}
}

// ComputeSteps implements StepRule.
func (r *RemoveNotFinite) ComputeSteps(steps []Step) {
	hit := false
	shrink := float32(1 - r.Scaler)
	for _, s := range steps {
		n := sqNormOf(s.Delta)
		if !math.IsNaN(n) && !math.IsInf(n, 0) {
			continue
		}
		hit = true
		for i := range s.Delta {
			s.Delta[i] = shrink * s.Value[i]
		}
	}
	if hit {
		r.events++
		metrics.RecordNonFiniteStep()
	}
}

// Events returns how many updates contained a non-finite step.
func (r *RemoveNotFinite) Events() int64 {
	return r.events
}

// Scale multiplies every step by LearningRate. Used last in a chain it
// gives plain stochastic gradient descent.
type Scale struct {
	LearningRate float64
}

// ComputeSteps implements StepRule.
func (s Scale) ComputeSteps(steps []Step) {
	lr := float32(s.LearningRate)
	for _, st := range steps {
		for i := range st.Delta {
			st.Delta[i] *= lr
		}
	}
}
