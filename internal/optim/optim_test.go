package optim_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/autodiff"
	"github.com/born-ml/rnnsearch/internal/backend/cpu"
	"github.com/born-ml/rnnsearch/internal/config"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/optim"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newParam(b Backend, name string, values ...float32) *nn.Parameter[Backend] {
	p := nn.NewParameter(name, nn.RoleWeight, tensor.Shape{len(values)}, b)
	copy(p.Tensor().Raw().AsFloat32(), values)
	return p
}

func gradOf(t *testing.T, p *nn.Parameter[Backend], values ...float32) map[*tensor.RawTensor]*tensor.RawTensor {
	t.Helper()
	g, err := tensor.RawFromFloat32(values, p.Shape(), tensor.CPU)
	require.NoError(t, err)
	return map[*tensor.RawTensor]*tensor.RawTensor{p.Tensor().Raw(): g}
}

func steps(deltas ...[]float32) []optim.Step {
	out := make([]optim.Step, len(deltas))
	for i, d := range deltas {
		out[i] = optim.Step{
			Name:  string(rune('a' + i)),
			Shape: tensor.Shape{len(d)},
			Value: make([]float32, len(d)),
			Delta: d,
		}
	}
	return out
}

func TestScaleIsPlainGradientDescent(t *testing.T) {
	b := autodiff.New(cpu.New())
	p := newParam(b, "x", 2.0, -1.0)
	gd := optim.NewGradientDescent([]*nn.Parameter[Backend]{p}, optim.Scale{LearningRate: 0.1})

	stats := gd.Step(gradOf(t, p, 1.0, -2.0))

	assert.InDeltaSlice(t, []float32{1.9, -0.8}, p.Tensor().Raw().AsFloat32(), 1e-6)
	assert.InDelta(t, math.Sqrt(5), stats.GradientNorm, 1e-6)
	assert.InDelta(t, 0.1*math.Sqrt(5), stats.StepNorm, 1e-6)
}

func TestMissingGradientIsZero(t *testing.T) {
	b := autodiff.New(cpu.New())
	used := newParam(b, "used", 1.0)
	unused := newParam(b, "unused", 3.0)
	gd := optim.NewGradientDescent([]*nn.Parameter[Backend]{used, unused}, optim.NewAdaDelta(0.95, 1e-6))

	gd.Step(gradOf(t, used, 0.5))

	assert.NotEqual(t, float32(1.0), used.Tensor().Raw().AsFloat32()[0])
	assert.Equal(t, float32(3.0), unused.Tensor().Raw().AsFloat32()[0])
}

func TestStepClipping(t *testing.T) {
	s := steps([]float32{3, 0}, []float32{4})
	optim.StepClipping{Threshold: 1}.ComputeSteps(s)
	assert.InDeltaSlice(t, []float32{0.6, 0}, s[0].Delta, 1e-6)
	assert.InDeltaSlice(t, []float32{0.8}, s[1].Delta, 1e-6)

	small := steps([]float32{0.3, 0.4})
	optim.StepClipping{Threshold: 1}.ComputeSteps(small)
	assert.Equal(t, []float32{0.3, 0.4}, small[0].Delta)

	disabled := steps([]float32{30, 40})
	optim.StepClipping{}.ComputeSteps(disabled)
	assert.Equal(t, []float32{30, 40}, disabled[0].Delta)
}

func TestRemoveNotFinite(t *testing.T) {
	s := steps([]float32{float32(math.NaN()), 1}, []float32{0.5})
	s[0].Value = []float32{2, -4}
	r := optim.NewRemoveNotFinite(0.9)

	r.ComputeSteps(s)

	assert.InDeltaSlice(t, []float32{0.2, -0.4}, s[0].Delta, 1e-6)
	assert.Equal(t, []float32{0.5}, s[1].Delta, "finite steps are kept")
	assert.Equal(t, int64(1), r.Events())

	r.ComputeSteps(steps([]float32{1}))
	assert.Equal(t, int64(1), r.Events())
}

func TestNonFiniteGradientShrinksParameter(t *testing.T) {
	b := autodiff.New(cpu.New())
	p := newParam(b, "x", 2.0, -4.0)
	rule := optim.CompositeRule{optim.StepClipping{Threshold: 1}, optim.NewRemoveNotFinite(0.9), optim.Scale{LearningRate: 1}}
	gd := optim.NewGradientDescent([]*nn.Parameter[Backend]{p}, rule)

	gd.Step(gradOf(t, p, float32(math.Inf(1)), 1))

	assert.InDeltaSlice(t, []float32{1.8, -3.6}, p.Tensor().Raw().AsFloat32(), 1e-6)
}

func TestAdaDeltaFirstStep(t *testing.T) {
	s := steps([]float32{2})
	optim.NewAdaDelta(0.95, 1e-6).ComputeSteps(s)

	msg := 0.05 * 4.0
	want := math.Sqrt(1e-6) / math.Sqrt(msg+1e-6) * 2
	assert.InDelta(t, want, float64(s[0].Delta[0]), 1e-7)
}

func TestAdamBiasCorrection(t *testing.T) {
	// With bias correction the first step is lr * sign(g).
	s := steps([]float32{0.3, -5})
	optim.NewAdam(optim.AdamConfig{LR: 0.01}).ComputeSteps(s)
	assert.InDeltaSlice(t, []float32{0.01, -0.01}, s[0].Delta, 1e-5)
}

func TestConvergenceOnQuadratic(t *testing.T) {
	rules := map[string]optim.StepRule{
		"scale":       optim.Scale{LearningRate: 0.1},
		"adam":        optim.NewAdam(optim.AdamConfig{LR: 0.05}),
		"clipped sgd": optim.CompositeRule{optim.StepClipping{Threshold: 1}, optim.Scale{LearningRate: 0.1}},
	}
	for name, rule := range rules {
		t.Run(name, func(t *testing.T) {
			b := autodiff.New(cpu.New())
			p := newParam(b, "x", 5.0, -3.0)
			target := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{2}, b)
			gd := optim.NewGradientDescent([]*nn.Parameter[Backend]{p}, rule)

			for range 500 {
				b.Tape().StartRecording()
				diff := p.Value().Sub(target)
				loss := diff.Mul(diff).Sum()
				grads := autodiff.Backward(loss, b)
				b.Tape().StopRecording()
				b.Tape().Clear()
				gd.Step(grads)
			}
			assert.InDeltaSlice(t, []float32{1, 2}, p.Tensor().Raw().AsFloat32(), 0.1)
		})
	}
}

func TestStateDictRoundTrip(t *testing.T) {
	b := autodiff.New(cpu.New())
	p := newParam(b, "decoder/readout/softmax1.W", 1.0, 2.0)
	c := config.Default()
	rule, err := optim.FromConfig(c)
	require.NoError(t, err)
	gd := optim.NewGradientDescent([]*nn.Parameter[Backend]{p}, rule)
	gd.Step(gradOf(t, p, 0.5, -0.5))

	state := gd.StateDict()
	require.Contains(t, state, "adadelta/decoder/readout/softmax1.W/mean_square_grad")
	require.Contains(t, state, "adadelta/decoder/readout/softmax1.W/mean_square_delta_x")

	// Two identical optimizers, one restored from the other's state, take
	// identical next steps.
	q := newParam(b, "decoder/readout/softmax1.W", p.Tensor().Raw().AsFloat32()...)
	restoredRule, err := optim.FromConfig(c)
	require.NoError(t, err)
	restored := optim.NewGradientDescent([]*nn.Parameter[Backend]{q}, restoredRule)
	require.NoError(t, restored.LoadStateDict(state))

	gd.Step(gradOf(t, p, 0.25, 0.25))
	restored.Step(gradOf(t, q, 0.25, 0.25))
	assert.Equal(t, p.Tensor().Raw().AsFloat32(), q.Tensor().Raw().AsFloat32())
}

func TestAdamStateCarriesTimestep(t *testing.T) {
	a := optim.NewAdam(optim.AdamConfig{})
	a.ComputeSteps(steps([]float32{1}))
	a.ComputeSteps(steps([]float32{1}))

	b := optim.NewAdam(optim.AdamConfig{})
	require.NoError(t, b.LoadStateDict(a.StateDict()))
	assert.Equal(t, 2, b.Timestep())

	bad := a.StateDict()
	bad["adam/t"] = tensor.MustRaw(tensor.Shape{2}, tensor.Int32, tensor.CPU)
	require.Error(t, optim.NewAdam(optim.AdamConfig{}).LoadStateDict(bad))
}

func TestFromConfig(t *testing.T) {
	for _, name := range []string{config.StepRuleAdaDelta, config.StepRuleAdam, config.StepRuleScale} {
		c := config.Default()
		c.StepRule = name
		rule, err := optim.FromConfig(c)
		require.NoError(t, err, name)
		require.Len(t, rule, 3)
	}

	c := config.Default()
	c.StepRule = "RMSProp"
	_, err := optim.FromConfig(c)
	require.ErrorIs(t, err, config.ErrInvalidConfig)
}
