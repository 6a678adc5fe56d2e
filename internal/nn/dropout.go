package nn

import (
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Dropout zeroes each element with probability Rate during training and
// scales survivors by 1/(1-Rate). Outside training it is the identity.
type Dropout struct {
	rate     float64
	mu       sync.Mutex
	rng      *rand.Rand
	training bool
}

// NewDropout creates a dropout layer. rate must be in [0, 1).
func NewDropout(rate float64, seed uint64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("%w: dropout rate %v outside [0, 1)", ErrDimension, rate)
	}
	return &Dropout{rate: rate, rng: rand.New(rand.NewPCG(seed, seed+1))}, nil
}

// Rate returns the drop probability.
func (d *Dropout) Rate() float64 {
	return d.rate
}

// SetTraining switches between training and inference behavior.
func (d *Dropout) SetTraining(training bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.training = training
}

// ApplyDropout applies d to x. A nil d is the identity.
func ApplyDropout[B tensor.Backend](d *Dropout, x *tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	if d == nil {
		return x
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.training || d.rate == 0 {
		return x
	}

	keep := float32(1 / (1 - d.rate))
	mask := tensor.Zeros[float32](x.Shape(), x.Backend())
	data := mask.Data()
	for i := range data {
		if d.rng.Float64() >= d.rate {
			data[i] = keep
		}
	}
	return x.Mul(mask)
}
