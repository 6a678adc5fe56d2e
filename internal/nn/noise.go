package nn

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// WeightNoise perturbs parameters with fresh Gaussian noise for one
// forward/backward pass.
//
// The noise enters the graph as parameter + noise (see Parameter.Value), so
// the stored values never change and gradients still reach the parameters.
//
// Example:
//
//	noise := nn.NewWeightNoise(cfg.WeightNoiseFF, seed)
//	nn.ApplyNoise(noise, model.FeedForwardParameters())
//	defer nn.ClearNoise(model.FeedForwardParameters())
type WeightNoise struct {
	std float64
	src rand.Source
}

// NewWeightNoise creates a noise source with standard deviation std.
func NewWeightNoise(std float64, seed uint64) *WeightNoise {
	return &WeightNoise{std: std, src: rand.NewPCG(seed, ^seed)}
}

// Enabled reports whether Apply has any effect.
func (w *WeightNoise) Enabled() bool {
	return w != nil && w.std > 0
}

// ApplyNoise draws fresh noise for each parameter. A nil or zero-std w
// leaves params untouched.
func ApplyNoise[B tensor.Backend](w *WeightNoise, params []*Parameter[B]) {
	if !w.Enabled() {
		return
	}
	dist := distuv.Normal{Mu: 0, Sigma: w.std, Src: w.src}
	for _, p := range params {
		noise := tensor.Zeros[float32](p.Shape(), p.Tensor().Backend())
		data := noise.Data()
		for i := range data {
			data[i] = float32(dist.Rand())
		}
		p.noise = noise
	}
}

// ClearNoise removes any noise from params.
func ClearNoise[B tensor.Backend](params []*Parameter[B]) {
	for _, p := range params {
		p.noise = nil
	}
}
