package generate_test

import (
	"bytes"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/backend/cpu"
	"github.com/born-ml/rnnsearch/internal/generate"
	"github.com/born-ml/rnnsearch/internal/seq2seq"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

var logits = []float32{0.1, 2.0, -1.0, 1.5, 0.0}

func TestGreedyAtZeroTemperature(t *testing.T) {
	s := generate.NewSampler(generate.SamplingConfig{Temperature: 0, Seed: 1})
	for range 10 {
		assert.Equal(t, int32(1), s.Emit(logits))
	}
}

func TestTopKOneIsArgmax(t *testing.T) {
	s := generate.NewSampler(generate.SamplingConfig{Temperature: 1, TopK: 1, TopP: 1, Seed: 3})
	for range 50 {
		assert.Equal(t, int32(1), s.Sample(logits))
	}
}

func TestTopKRestrictsSupport(t *testing.T) {
	s := generate.NewSampler(generate.SamplingConfig{Temperature: 1, TopK: 2, TopP: 1, Seed: 4})
	for range 200 {
		id := s.Sample(logits)
		assert.Contains(t, []int32{1, 3}, id)
	}
}

func TestTopPKeepsNucleus(t *testing.T) {
	s := generate.NewSampler(generate.SamplingConfig{Temperature: 1, TopP: 0.01, Seed: 5})
	for range 50 {
		assert.Equal(t, int32(1), s.Sample(logits))
	}
}

func TestMinPFiltersUnlikelyTokens(t *testing.T) {
	s := generate.NewSampler(generate.SamplingConfig{Temperature: 1, TopP: 1, MinP: 0.5, Seed: 6})
	for range 200 {
		id := s.Sample(logits)
		assert.Contains(t, []int32{1, 3}, id)
	}
}

func TestSeededSamplingIsReproducible(t *testing.T) {
	cfg := generate.DefaultSamplingConfig()
	cfg.Seed = 42
	a, b := generate.NewSampler(cfg), generate.NewSampler(cfg)
	for range 100 {
		require.Equal(t, a.Sample(logits), b.Sample(logits))
	}
}

func TestSamplingFollowsDistribution(t *testing.T) {
	cfg := generate.DefaultSamplingConfig()
	cfg.Seed = 7
	s := generate.NewSampler(cfg)

	const n = 20000
	counts := make([]int, len(logits))
	for range n {
		counts[s.Sample(logits)]++
	}

	var z float64
	for _, v := range logits {
		z += math.Exp(float64(v))
	}
	for i, v := range logits {
		want := math.Exp(float64(v)) / z
		assert.InDelta(t, want, float64(counts[i])/n, 0.02, "token %d", i)
	}
}

func testBundle(b *cpu.CPUBackend) *seq2seq.Generated[*cpu.CPUBackend] {
	// 3 steps, 2 examples, 2 source positions; eos = 0.
	return &seq2seq.Generated[*cpu.CPUBackend]{
		Outputs: tensor.MustFromSlice([]int32{
			4, 0,
			0, 2,
			3, 1,
		}, tensor.Shape{3, 2}, b),
		Costs: tensor.MustFromSlice([]float32{
			0.5, 0.25,
			1.0, 2.0,
			0.1, 0.2,
		}, tensor.Shape{3, 2}, b),
		Weights: tensor.MustFromSlice([]float32{
			0.9, 0.1, 1, 0,
			0.4, 0.6, 0.5, 0.5,
			0.3, 0.7, 0.2, 0.8,
		}, tensor.Shape{3, 2, 2}, b),
	}
}

func TestSequencesTruncateAtEOS(t *testing.T) {
	seqs := generate.Sequences(testBundle(cpu.New()), 0)
	require.Len(t, seqs, 2)

	assert.Equal(t, []int32{4, 0}, seqs[0].IDs)
	assert.Equal(t, []float32{0.5, 1.0}, seqs[0].Costs)
	assert.Equal(t, [][]float32{{0.9, 0.1}, {0.4, 0.6}}, seqs[0].Weights)
	assert.InDelta(t, 1.5, seqs[0].Cost(), 1e-6)

	assert.Equal(t, []int32{0}, seqs[1].IDs)

	all := generate.Sequences(testBundle(cpu.New()), -1)
	assert.Equal(t, []int32{0, 2, 1}, all[1].IDs)
	assert.Len(t, all[1].Weights, 3)
}

func TestBundleRoundTrip(t *testing.T) {
	seqs := generate.Sequences(testBundle(cpu.New()), -1)

	var buf bytes.Buffer
	require.NoError(t, generate.WriteBundle(&buf, seqs))
	got, err := generate.ReadBundle(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, seqs, got)

	path := filepath.Join(t.TempDir(), "bundle.arrow")
	require.NoError(t, generate.SaveBundle(path, seqs[:1]))
	got, err = generate.LoadBundle(path)
	require.NoError(t, err)
	assert.Equal(t, seqs[:1], got)
}

func TestReadBundleRejectsCorpus(t *testing.T) {
	_, err := generate.ReadBundle(bytes.NewReader([]byte("not arrow")))
	require.Error(t, err)
}
