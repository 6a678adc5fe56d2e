package nn

import "fmt"

// Maxout keeps the maximum of each group of Pieces consecutive features.
// The reduction itself is Tensor.Maxout; this type carries the validated
// configuration.
type Maxout struct {
	Pieces int
}

// NewMaxout validates that inputDim splits evenly into pieces.
func NewMaxout(inputDim, pieces int) (Maxout, error) {
	if err := checkPositive("maxout pieces", pieces); err != nil {
		return Maxout{}, err
	}
	if inputDim%pieces != 0 {
		return Maxout{}, fmt.Errorf("%w: maxout input %d not divisible by %d pieces", ErrDimension, inputDim, pieces)
	}
	return Maxout{Pieces: pieces}, nil
}

// OutputDim returns the feature size after maxout.
func (m Maxout) OutputDim(inputDim int) int {
	return inputDim / m.Pieces
}
