package nn

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Initializer fills a parameter's data in place.
type Initializer interface {
	Initialize(data []float32, shape tensor.Shape, src rand.Source) error
}

// IsotropicGaussian draws every element from N(Mean, Std²).
type IsotropicGaussian struct {
	Std  float64
	Mean float64
}

// Initialize implements Initializer.
func (g IsotropicGaussian) Initialize(data []float32, _ tensor.Shape, src rand.Source) error {
	dist := distuv.Normal{Mu: g.Mean, Sigma: g.Std, Src: src}
	for i := range data {
		data[i] = float32(dist.Rand())
	}
	return nil
}

// Constant sets every element to Value.
type Constant struct {
	Value float32
}

// Initialize implements Initializer.
func (c Constant) Initialize(data []float32, _ tensor.Shape, _ rand.Source) error {
	for i := range data {
		data[i] = c.Value
	}
	return nil
}

// Orthogonal fills a 2-D matrix with a random orthogonal matrix scaled by
// Scale (1 when zero). It takes the Q factor of a Gaussian matrix with the
// signs of R's diagonal folded in, so the result is uniformly distributed.
// Non-square matrices get orthonormal columns (or rows when wide).
type Orthogonal struct {
	Scale float64
}

// Initialize implements Initializer.
func (o Orthogonal) Initialize(data []float32, shape tensor.Shape, src rand.Source) error {
	if len(shape) != 2 {
		return fmt.Errorf("orthogonal init needs a 2-D shape, got %v", shape)
	}
	rows, cols := shape[0], shape[1]
	wide := rows < cols
	if wide {
		rows, cols = cols, rows
	}

	normal := distuv.UnitNormal
	normal.Src = src
	gauss := make([]float64, rows*cols)
	for i := range gauss {
		gauss[i] = normal.Rand()
	}

	var qr mat.QR
	qr.Factorize(mat.NewDense(rows, cols, gauss))
	var q, r mat.Dense
	qr.QTo(&q)
	qr.RTo(&r)

	scale := o.Scale
	if scale == 0 {
		scale = 1
	}
	for j := 0; j < cols; j++ {
		sign := 1.0
		if r.At(j, j) < 0 {
			sign = -1
		}
		for i := 0; i < rows; i++ {
			v := float32(q.At(i, j) * sign * scale)
			if wide {
				data[j*rows+i] = v
			} else {
				data[i*cols+j] = v
			}
		}
	}
	return nil
}

// Scheme selects an initializer per parameter role.
type Scheme struct {
	Weights   Initializer
	Biases    Initializer
	Recurrent Initializer
}

// DefaultScheme returns Gaussian weights with the given std, zero biases
// and orthogonal recurrent matrices.
func DefaultScheme(weightScale float64) Scheme {
	return Scheme{
		Weights:   IsotropicGaussian{Std: weightScale},
		Biases:    Constant{},
		Recurrent: Orthogonal{},
	}
}

// Initialize fills every parameter according to its role, drawing from a
// PCG stream seeded with seed. Parameters are visited in order, so the same
// seed and architecture always produce the same values.
func Initialize[B tensor.Backend](params []*Parameter[B], scheme Scheme, seed uint64) error {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	for _, p := range params {
		var init Initializer
		switch p.Role() {
		case RoleWeight:
			init = scheme.Weights
		case RoleBias:
			init = scheme.Biases
		case RoleRecurrent:
			init = scheme.Recurrent
		}
		if init == nil {
			return fmt.Errorf("no initializer for %s parameter %q", p.Role(), p.Name())
		}
		if err := init.Initialize(p.Tensor().Data(), p.Shape(), src); err != nil {
			return fmt.Errorf("initialize %q: %w", p.Name(), err)
		}
	}
	return nil
}
