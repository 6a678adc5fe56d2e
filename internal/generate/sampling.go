// Package generate turns decoder logits into target sentences: sampling
// policies for SequenceGenerator.Generate and export of the generated
// bundle.
package generate

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/rnnsearch/internal/seq2seq"
)

// SamplingConfig configures the sampling strategy.
type SamplingConfig struct {
	// Temperature controls randomness. 0 = greedy, 1 = normal, >1 = more random.
	Temperature float32

	// TopK limits sampling to top K tokens. 0 = disabled.
	TopK int

	// TopP (nucleus sampling) limits to tokens with cumulative prob < P. 1.0 = disabled.
	TopP float32

	// MinP filters tokens with prob < max_prob * MinP. 0 = disabled.
	MinP float32

	// Seed for reproducibility. -1 = random.
	Seed int64
}

// DefaultSamplingConfig returns plain sampling from the model distribution.
func DefaultSamplingConfig() SamplingConfig {
	return SamplingConfig{
		Temperature: 1.0,
		TopP:        1.0,
		Seed:        -1,
	}
}

// Sampler draws tokens from logits. It implements seq2seq.Emitter and is
// not safe for concurrent use.
type Sampler struct {
	config SamplingConfig
	src    rand.Source
}

var _ seq2seq.Emitter = (*Sampler)(nil)

// NewSampler creates a new sampler with the given configuration.
func NewSampler(config SamplingConfig) *Sampler {
	seed := uint64(config.Seed)
	if config.Seed < 0 {
		seed = rand.Uint64()
	}
	return &Sampler{
		config: config,
		src:    rand.NewPCG(seed, seed^0x5851f42d4c957f2d),
	}
}

// Emit implements seq2seq.Emitter.
func (s *Sampler) Emit(logits []float32) int32 {
	return s.Sample(logits)
}

// Sample returns the next token id from one row of logits.
//
// The sampling process:
//  1. Apply temperature scaling
//  2. Apply Top-K filtering
//  3. Apply Top-P (nucleus) filtering
//  4. Apply Min-P filtering
//  5. Sample from distribution (or argmax if temperature=0)
func (s *Sampler) Sample(logits []float32) int32 {
	if s.config.Temperature == 0 {
		return seq2seq.Greedy{}.Emit(logits)
	}

	logits = append([]float32{}, logits...)
	if s.config.Temperature != 1.0 {
		for i := range logits {
			logits[i] /= s.config.Temperature
		}
	}
	if s.config.TopK > 0 && s.config.TopK < len(logits) {
		logits = s.topKFilter(logits)
	}
	if s.config.TopP < 1.0 && s.config.TopP > 0 {
		logits = s.topPFilter(logits)
	}
	if s.config.MinP > 0 {
		logits = s.minPFilter(logits)
	}
	return s.multinomial(softmax(logits))
}

// topKFilter keeps only top K logits, sets rest to -inf.
func (s *Sampler) topKFilter(logits []float32) []float32 {
	sorted := append([]float32{}, logits...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })
	threshold := sorted[s.config.TopK-1]

	for i := range logits {
		if logits[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
	return logits
}

// topPFilter keeps the smallest set of most probable tokens whose mass
// exceeds TopP.
func (s *Sampler) topPFilter(logits []float32) []float32 {
	probs := softmax(logits)
	order := make([]int, len(probs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool { return probs[order[i]] > probs[order[j]] })

	keep := make([]bool, len(probs))
	var cum float32
	for _, idx := range order {
		keep[idx] = true
		cum += probs[idx]
		if cum > s.config.TopP {
			break
		}
	}
	for i := range logits {
		if !keep[i] {
			logits[i] = float32(math.Inf(-1))
		}
	}
	return logits
}

// minPFilter keeps tokens with prob >= max_prob * minP.
func (s *Sampler) minPFilter(logits []float32) []float32 {
	probs := softmax(logits)
	maxProb := float32(0)
	for _, p := range probs {
		maxProb = max(maxProb, p)
	}
	threshold := maxProb * s.config.MinP
	for i := range logits {
		if probs[i] < threshold {
			logits[i] = float32(math.Inf(-1))
		}
	}
	return logits
}

func (s *Sampler) multinomial(probs []float32) int32 {
	weights := make([]float64, len(probs))
	for i, p := range probs {
		weights[i] = float64(p)
	}
	return int32(distuv.NewCategorical(weights, s.src).Rand())
}

// softmax converts logits to probabilities; -inf logits get zero mass.
func softmax(logits []float32) []float32 {
	maxVal := float32(math.Inf(-1))
	for _, v := range logits {
		maxVal = max(maxVal, v)
	}

	probs := make([]float32, len(logits))
	sum := float32(0)
	for i, v := range logits {
		if math.IsInf(float64(v), -1) {
			continue
		}
		probs[i] = float32(math.Exp(float64(v - maxVal)))
		sum += probs[i]
	}
	if sum > 0 {
		for i := range probs {
			probs[i] /= sum
		}
	}
	return probs
}
