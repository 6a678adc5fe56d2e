package nn

import (
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// LookupTable maps token ids to dense vectors.
//
// The id -1 means "no token" (the first decoder step has no previous
// output) and always maps to the zero vector, for any embedding size. Such
// positions contribute no gradient to the table.
//
// Example:
//
//	table, err := nn.NewLookupTable(scope.Child("embeddings"), vocab, 620, backend)
//	vectors := table.Lookup(ids) // ids [T, B] -> [T, B, 620]
type LookupTable[B tensor.Backend] struct {
	vocab, dim int
	weight     *Parameter[B]
}

// NewLookupTable allocates a [vocab, dim] table.
func NewLookupTable[B tensor.Backend](scope Scope, vocab, dim int, backend B) (*LookupTable[B], error) {
	if err := checkPositive(string(scope)+" vocabulary size", vocab); err != nil {
		return nil, err
	}
	if err := checkPositive(string(scope)+" embedding dim", dim); err != nil {
		return nil, err
	}
	return &LookupTable[B]{
		vocab:  vocab,
		dim:    dim,
		weight: NewParameter(scope.Param("W"), RoleWeight, tensor.Shape{vocab, dim}, backend),
	}, nil
}

// VocabSize returns the number of rows.
func (l *LookupTable[B]) VocabSize() int {
	return l.vocab
}

// Dim returns the embedding size.
func (l *LookupTable[B]) Dim() int {
	return l.dim
}

// Lookup returns ids.Shape() + [dim] vectors.
func (l *LookupTable[B]) Lookup(ids *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	return tensor.Embedding(l.weight.Value(), ids)
}

// Parameters returns [W].
func (l *LookupTable[B]) Parameters() []*Parameter[B] {
	return []*Parameter[B]{l.weight}
}
