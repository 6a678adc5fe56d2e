package seq2seq

import (
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// BidirectionalEncoder embeds a source batch and runs a forward and a
// backward GRU over it. The representation is the concatenation of the two
// state sequences, forward half first: [T, B, 2*Hidden].
//
// Each direction has its own Fork from the embedding into its gate inputs.
// At padded steps the forward half repeats the last valid state and the
// backward half stays at its initial zero state.
type BidirectionalEncoder[B tensor.Backend] struct {
	scope    nn.Scope
	backend  B
	hidden   int
	lookup   *nn.LookupTable[B]
	fwdFork  *nn.Fork[B]
	backFork *nn.Fork[B]
	forward  *nn.GatedRecurrent[B]
	backward *nn.GatedRecurrent[B]
}

// NewBidirectionalEncoder allocates an encoder for a vocabulary of vocab
// tokens, embed-dimensional embeddings and hidden-dimensional states.
func NewBidirectionalEncoder[B tensor.Backend](scope nn.Scope, vocab, embed, hidden int, backend B) (*BidirectionalEncoder[B], error) {
	e := &BidirectionalEncoder[B]{scope: scope, backend: backend, hidden: hidden}
	var err error
	if e.lookup, err = nn.NewLookupTable(scope.Child("embeddings"), vocab, embed, backend); err != nil {
		return nil, err
	}
	if e.fwdFork, err = nn.NewFork(scope.Child("fwd_fork"), embed, hidden, nn.FullGates, true, backend); err != nil {
		return nil, err
	}
	if e.backFork, err = nn.NewFork(scope.Child("back_fork"), embed, hidden, nn.FullGates, true, backend); err != nil {
		return nil, err
	}
	bidir := scope.Child("bidir")
	if e.forward, err = nn.NewGatedRecurrent(bidir.Child("forward"), hidden, nn.FullGates, backend); err != nil {
		return nil, err
	}
	if e.backward, err = nn.NewGatedRecurrent(bidir.Child("backward"), hidden, nn.FullGates, backend); err != nil {
		return nil, err
	}
	return e, nil
}

// Kind implements Component.
func (e *BidirectionalEncoder[B]) Kind() Kind { return KindEncoder }

// Scope implements Component.
func (e *BidirectionalEncoder[B]) Scope() nn.Scope { return e.scope }

// OutputDim returns the representation size, twice the hidden size.
func (e *BidirectionalEncoder[B]) OutputDim() int {
	return 2 * e.hidden
}

// Lookup returns the source embedding table.
func (e *BidirectionalEncoder[B]) Lookup() *nn.LookupTable[B] {
	return e.lookup
}

// Apply encodes ids [T, B] under mask [T, B] into [T, B, 2*Hidden].
//
// The two directions are independent and run concurrently.
func (e *BidirectionalEncoder[B]) Apply(ids *tensor.Tensor[int32, B], mask *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	if err := checkSequence(ids, mask); err != nil {
		return nil, err
	}
	if err := checkTokens(ids.Data(), e.lookup.VocabSize(), true); err != nil {
		return nil, fmt.Errorf("%s: %w", e.scope, err)
	}
	batch := ids.Shape()[1]
	embedded := e.lookup.Lookup(ids)
	init := tensor.Zeros[float32](tensor.Shape{batch, e.hidden}, e.backend)

	var fwd, back *tensor.Tensor[float32, B]
	var g errgroup.Group
	g.Go(func() error {
		var err error
		fwd, err = e.forward.Scan(e.fwdFork.Apply(embedded), mask, init, false)
		return err
	})
	g.Go(func() error {
		var err error
		back, err = e.backward.Scan(e.backFork.Apply(embedded), mask, init, true)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%s: %w", e.scope, err)
	}
	return tensor.Cat([]*tensor.Tensor[float32, B]{fwd, back}, 2), nil
}

// Parameters returns the embedding, fork and recurrent parameters.
func (e *BidirectionalEncoder[B]) Parameters() []*nn.Parameter[B] {
	return nn.CollectParameters[B](e.lookup, e.fwdFork, e.backFork, e.forward, e.backward)
}

// FeedForwardParameters returns the parameters subject to weight noise:
// everything except the recurrent matrices.
func (e *BidirectionalEncoder[B]) FeedForwardParameters() []*nn.Parameter[B] {
	return nn.CollectParameters[B](e.lookup, e.fwdFork, e.backFork)
}

// checkSequence verifies that ids and mask are both [T, B] with T, B > 0.
func checkSequence[B tensor.Backend](ids *tensor.Tensor[int32, B], mask *tensor.Tensor[float32, B]) error {
	if ids == nil || mask == nil {
		return fmt.Errorf("%w: missing ids or mask", ErrShape)
	}
	shape := ids.Shape()
	if len(shape) != 2 || shape[0] == 0 || shape[1] == 0 {
		return fmt.Errorf("%w: ids must be non-empty [T, B], got %v", ErrShape, shape)
	}
	if !mask.Shape().Equal(shape) {
		return fmt.Errorf("%w: mask %v does not match ids %v", ErrShape, mask.Shape(), shape)
	}
	return nil
}
