package seq2seq_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/seq2seq"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

func TestContentAttention_MaskLaw(t *testing.T) {
	b := newBackend()
	att, err := seq2seq.NewSequenceContentAttention(nn.Scope("att"), 4, 5, 6, b)
	require.NoError(t, err)
	initialize(t, att, 3)

	rep := deterministic(b, 1, 4, 3, 6)
	m := mask(b, 4, 3,
		1, 1, 1,
		1, 0, 1,
		0, 0, 1,
		0, 0, 1)
	pre, err := att.Preprocess(seq2seq.Attended[Backend]{Representation: rep, Mask: m})
	require.NoError(t, err)

	glimpse, weights := att.TakeGlimpse(deterministic(b, 2, 3, 4), pre)
	require.Equal(t, tensor.Shape{3, 4}, weights.Shape())
	require.Equal(t, tensor.Shape{3, 6}, glimpse.Shape())

	for batch := 0; batch < 3; batch++ {
		var sum float64
		for step := 0; step < 4; step++ {
			w := weights.At(batch, step)
			if m.At(step, batch) == 0 {
				assert.Zero(t, w, "masked position (%d, %d)", batch, step)
				continue
			}
			assert.Greater(t, w, float32(0))
			sum += float64(w)
		}
		assert.InDelta(t, 1.0, sum, 1e-5)

		for k := 0; k < 6; k++ {
			var want float64
			for step := 0; step < 4; step++ {
				want += float64(weights.At(batch, step)) * float64(rep.At(step, batch, k))
			}
			assert.InDelta(t, want, glimpse.At(batch, k), 1e-5)
		}
	}
	assert.Equal(t, float32(1), weights.At(1, 0), "single valid position takes all the weight")
}

func TestMultiContentAttention_Contexts(t *testing.T) {
	b := newBackend()
	att, err := seq2seq.NewSequenceMultiContentAttention(nn.Scope("att"), 4, 4, []int{6, 2, 3}, b)
	require.NoError(t, err)
	initialize(t, att, 4)
	assert.Equal(t, 6, att.GlimpseDim())
	assert.Equal(t, 2, att.NumContexts())

	rep := deterministic(b, 1, 3, 2, 6)
	m := mask(b, 3, 2, 1, 1, 1, 1, 0, 1)
	src := deterministic(b, 5, 2, 2)
	trg := deterministic(b, 6, 2, 3)

	pre, err := att.Preprocess(seq2seq.Attended[Backend]{Representation: rep, Mask: m, Contexts: []*tensor.Tensor[float32, Backend]{src, trg}})
	require.NoError(t, err)
	_, weights := att.TakeGlimpse(deterministic(b, 7, 2, 4), pre)
	assert.Zero(t, weights.At(0, 2))
	assert.InDelta(t, 1.0, weights.At(0, 0)+weights.At(0, 1), 1e-6)

	// A different target selector changes the energies.
	other, err := att.Preprocess(seq2seq.Attended[Backend]{Representation: rep, Mask: m, Contexts: []*tensor.Tensor[float32, Backend]{src, deterministic(b, 9, 2, 3)}})
	require.NoError(t, err)
	_, moved := att.TakeGlimpse(deterministic(b, 7, 2, 4), other)
	assert.NotEqual(t, weights.At(1, 0), moved.At(1, 0))
}

func TestMultiContentAttention_RejectsMismatch(t *testing.T) {
	b := newBackend()
	att, err := seq2seq.NewSequenceMultiContentAttention(nn.Scope("att"), 4, 4, []int{6, 2, 3}, b)
	require.NoError(t, err)

	rep := deterministic(b, 1, 3, 2, 6)
	m := mask(b, 3, 2, 1, 1, 1, 1, 1, 1)
	tests := []struct {
		name string
		att  seq2seq.Attended[Backend]
		want error
	}{
		{"missing contexts", seq2seq.Attended[Backend]{Representation: rep, Mask: m}, seq2seq.ErrContext},
		{"wrong context dim", seq2seq.Attended[Backend]{Representation: rep, Mask: m, Contexts: []*tensor.Tensor[float32, Backend]{
			deterministic(b, 1, 2, 3), deterministic(b, 1, 2, 3)}}, seq2seq.ErrContext},
		{"wrong representation dim", seq2seq.Attended[Backend]{Representation: deterministic(b, 1, 3, 2, 5), Mask: m, Contexts: []*tensor.Tensor[float32, Backend]{
			deterministic(b, 1, 2, 2), deterministic(b, 1, 2, 3)}}, seq2seq.ErrContext},
		{"mask mismatch", seq2seq.Attended[Backend]{Representation: rep, Mask: mask(b, 2, 3, 1, 1, 1, 1, 1, 1)}, seq2seq.ErrShape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := att.Preprocess(tt.att)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = seq2seq.NewSequenceMultiContentAttention(nn.Scope("att"), 4, 4, nil, b)
	assert.ErrorIs(t, err, nn.ErrDimension)
}
