package seq2seq_test

import (
	"math"
	"testing"

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

func initialize(t *testing.T, m nn.Module[Backend], seed uint64) {
	t.Helper()
	require.NoError(t, nn.Initialize(m.Parameters(), nn.DefaultScheme(0.3), seed))
}

func ids(b Backend, steps, batch int, values ...int32) *tensor.Tensor[int32, Backend] {
	return tensor.MustFromSlice(values, tensor.Shape{steps, batch}, b)
}

func mask(b Backend, steps, batch int, values ...float32) *tensor.Tensor[float32, Backend] {
	return tensor.MustFromSlice(values, tensor.Shape{steps, batch}, b)
}

func deterministic(b Backend, seed int, shape ...int) *tensor.Tensor[float32, Backend] {
	s := tensor.Shape(shape)
	data := make([]float32, s.NumElements())
	for i := range data {
		data[i] = float32(math.Sin(float64(seed*17 + i*5)))
	}
	return tensor.MustFromSlice(data, s, b)
}

func softmaxRow(logits []float32) []float64 {
	maxV := math.Inf(-1)
	for _, v := range logits {
		maxV = math.Max(maxV, float64(v))
	}
	var sum float64
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = math.Exp(float64(v) - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
