package nn_test

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/autodiff"
	"github.com/born-ml/rnnsearch/internal/backend/cpu"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newBackend() Backend {
	return autodiff.New(cpu.New())
}

func initialize(t *testing.T, params []*nn.Parameter[Backend], seed uint64) {
	t.Helper()
	require.NoError(t, nn.Initialize(params, nn.DefaultScheme(0.1), seed))
}

func TestLinear_AppliesOverLeadingDims(t *testing.T) {
	backend := newBackend()
	layer, err := nn.NewLinear(nn.Scope("proj"), 3, 2, true, backend)
	require.NoError(t, err)
	copy(layer.Weight().Tensor().Data(), []float32{1, 0, 0, 1, 1, 1})
	copy(layer.Bias().Tensor().Data(), []float32{0.5, -0.5})

	x := tensor.MustFromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}, tensor.Shape{2, 2, 3}, backend)
	y := layer.Apply(x)

	require.Equal(t, tensor.Shape{2, 2, 2}, y.Shape())
	assert.InDeltaSlice(t, []float32{4.5, 4.5, 10.5, 10.5, 16.5, 16.5, 22.5, 22.5}, y.Data(), 1e-6)
	assert.Equal(t, "proj.W", layer.Weight().Name())
	assert.Equal(t, "proj.b", layer.Bias().Name())
}

func TestNewLinear_RejectsBadDims(t *testing.T) {
	_, err := nn.NewLinear(nn.Scope("bad"), 0, 2, true, newBackend())
	require.Error(t, err)
	assert.True(t, errors.Is(err, nn.ErrDimension))
}

func TestLookupTable_SentinelIsZero(t *testing.T) {
	for _, dim := range []int{1, 4, 17} {
		backend := newBackend()
		table, err := nn.NewLookupTable(nn.Scope("embeddings"), 5, dim, backend)
		require.NoError(t, err)
		initialize(t, table.Parameters(), 1)

		ids := tensor.MustFromSlice([]int32{-1, 3}, tensor.Shape{2}, backend)
		out := table.Lookup(ids)
		require.Equal(t, tensor.Shape{2, dim}, out.Shape())

		data := out.Data()
		for i := 0; i < dim; i++ {
			assert.Equal(t, float32(0), data[i], "dim %d element %d", dim, i)
		}
		assert.NotEqual(t, make([]float32, dim), data[dim:], "real ids map to table rows")
	}
}

func TestOrthogonal_ProducesOrthonormalColumns(t *testing.T) {
	for _, shape := range []tensor.Shape{{6, 6}, {8, 3}, {3, 8}} {
		backend := newBackend()
		p := nn.NewParameter("w", nn.RoleRecurrent, shape, backend)
		initialize(t, []*nn.Parameter[Backend]{p}, 7)

		w := p.Tensor()
		small := shape[0]
		if shape[1] < small {
			small = shape[1]
		}
		// Gram matrix over the shorter side must be the identity.
		var gram *tensor.Tensor[float32, Backend]
		if shape[0] >= shape[1] {
			gram = w.Transpose().MatMul(w)
		} else {
			gram = w.MatMul(w.Transpose())
		}
		for i := 0; i < small; i++ {
			for j := 0; j < small; j++ {
				want := 0.0
				if i == j {
					want = 1
				}
				assert.InDelta(t, want, float64(gram.At(i, j)), 1e-4, "shape %v gram[%d,%d]", shape, i, j)
			}
		}
	}
}

func TestInitialize_DeterministicAndRoleAware(t *testing.T) {
	build := func() []*nn.Parameter[Backend] {
		backend := newBackend()
		l, err := nn.NewLinear(nn.Scope("l"), 4, 4, true, backend)
		require.NoError(t, err)
		g, err := nn.NewGatedRecurrent(nn.Scope("gru"), 4, nn.FullGates, backend)
		require.NoError(t, err)
		return append(l.Parameters(), g.Parameters()...)
	}

	a, b := build(), build()
	initialize(t, a, 42)
	initialize(t, b, 42)
	for i := range a {
		assert.Equal(t, a[i].Tensor().Data(), b[i].Tensor().Data(), a[i].Name())
	}

	// Bias is zero, weights are not.
	assert.Equal(t, make([]float32, 4), a[1].Tensor().Data())
	assert.NotEqual(t, make([]float32, 16), a[0].Tensor().Data())
}

func TestStateDict_RoundTripAndValidation(t *testing.T) {
	backend := newBackend()
	l, err := nn.NewLinear(nn.Scope("l"), 2, 3, true, backend)
	require.NoError(t, err)
	initialize(t, l.Parameters(), 3)

	state, err := nn.StateDict(l.Parameters())
	require.NoError(t, err)
	require.Len(t, state, 2)

	other, err := nn.NewLinear(nn.Scope("l"), 2, 3, true, newBackend())
	require.NoError(t, err)
	require.NoError(t, nn.LoadStateDict(other.Parameters(), state))
	assert.Equal(t, l.Weight().Tensor().Data(), other.Weight().Tensor().Data())

	wrong, err := nn.NewLinear(nn.Scope("l"), 3, 3, true, newBackend())
	require.NoError(t, err)
	assert.ErrorContains(t, nn.LoadStateDict(wrong.Parameters(), state), "shape mismatch")
	assert.Equal(t, make([]float32, 9), wrong.Weight().Tensor().Data(), "nothing written on error")

	dup := append(l.Parameters(), l.Parameters()[0])
	_, err = nn.StateDict(dup)
	assert.ErrorContains(t, err, "duplicate")
}

func TestGatedRecurrent_GateMismatchIsEager(t *testing.T) {
	backend := newBackend()
	g, err := nn.NewGatedRecurrent(nn.Scope("gru"), 2, nn.GateConfig{Update: true}, backend)
	require.NoError(t, err)

	x := tensor.Zeros[float32](tensor.Shape{3, 1, 2}, backend)
	init := tensor.Zeros[float32](tensor.Shape{1, 2}, backend)

	_, err = g.Scan(nn.GateInputs[Backend]{Inputs: x, Update: x, Reset: x}, nil, init, false)
	assert.True(t, errors.Is(err, nn.ErrGateConfig))

	_, err = g.Scan(nn.GateInputs[Backend]{Inputs: x}, nil, init, false)
	assert.True(t, errors.Is(err, nn.ErrGateConfig))

	_, err = g.Scan(nn.GateInputs[Backend]{Inputs: x, Update: x}, nil, init, false)
	assert.NoError(t, err)
}

func TestGatedRecurrent_MaskCarriesStateForward(t *testing.T) {
	backend := newBackend()
	g, err := nn.NewGatedRecurrent(nn.Scope("gru"), 3, nn.FullGates, backend)
	require.NoError(t, err)
	initialize(t, g.Parameters(), 5)

	fork, err := nn.NewFork(nn.Scope("fork"), 2, 3, nn.FullGates, true, backend)
	require.NoError(t, err)
	initialize(t, fork.Parameters(), 6)

	x := tensor.MustFromSlice([]float32{
		1, 0, 0, 1, // t0: b0, b1
		0.5, 0.5, -1, 1, // t1
		2, -2, 0.3, 0.3, // t2
		1, 1, 1, 1, // t3
	}, tensor.Shape{4, 2, 2}, backend)
	mask := tensor.MustFromSlice([]float32{1, 1, 1, 1, 0, 1, 0, 1}, tensor.Shape{4, 2}, backend)
	init := tensor.Zeros[float32](tensor.Shape{2, 3}, backend)

	states, err := g.Scan(fork.Apply(x), mask, init, false)
	require.NoError(t, err)
	require.Equal(t, tensor.Shape{4, 2, 3}, states.Shape())

	for _, step := range []int{2, 3} {
		for k := 0; k < 3; k++ {
			assert.Equal(t, states.At(1, 0, k), states.At(step, 0, k), "padded step %d must equal last valid state", step)
		}
	}
	assert.NotEqual(t, states.At(1, 1, 0), states.At(2, 1, 0), "valid steps update the state")

	reversed, err := g.Scan(fork.Apply(x), mask, init, true)
	require.NoError(t, err)
	for k := 0; k < 3; k++ {
		assert.Equal(t, float32(0), reversed.At(3, 0, k), "reverse scan starts in padding at the zero state")
	}
}

func TestWeightNoise_GradientReachesParameter(t *testing.T) {
	backend := newBackend()
	layer, err := nn.NewLinear(nn.Scope("l"), 2, 1, false, backend)
	require.NoError(t, err)
	initialize(t, layer.Parameters(), 9)

	noise := nn.NewWeightNoise(0.5, 1)
	nn.ApplyNoise(noise, layer.Parameters())

	backend.Tape().StartRecording()
	x := tensor.MustFromSlice([]float32{1, 2}, tensor.Shape{1, 2}, backend)
	noisy := layer.Apply(x).Sum()
	grads := autodiff.Backward(noisy, backend)
	backend.Tape().Clear()

	g, ok := grads[layer.Weight().Tensor().Raw()]
	require.True(t, ok)
	assert.InDeltaSlice(t, []float32{1, 2}, g.AsFloat32(), 1e-6)

	withNoise := layer.Apply(x).Item()
	nn.ClearNoise(layer.Parameters())
	assert.NotEqual(t, withNoise, layer.Apply(x).Item(), "noise changes the forward value")
}

func TestDropout_IdentityOutsideTraining(t *testing.T) {
	backend := newBackend()
	d, err := nn.NewDropout(0.5, 1)
	require.NoError(t, err)

	x := tensor.Ones[float32](tensor.Shape{100}, backend)
	assert.Same(t, x, nn.ApplyDropout(d, x))

	d.SetTraining(true)
	y := nn.ApplyDropout(d, x).Data()
	zeros := 0
	for _, v := range y {
		switch v {
		case 0:
			zeros++
		default:
			assert.InDelta(t, 2.0, float64(v), 1e-6)
		}
	}
	assert.Greater(t, zeros, 20)
	assert.Less(t, zeros, 80)

	_, err = nn.NewDropout(1, 1)
	assert.Error(t, err)
	assert.False(t, math.IsNaN(float64(y[0])))
}
