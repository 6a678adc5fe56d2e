package seq2seq

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// EncoderConfig sizes one BidirectionalEncoder.
type EncoderConfig struct {
	VocabSize int
	EmbedDim  int
	StateDim  int
}

// MultiEncoderConfig sizes a MultiEncoder.
type MultiEncoderConfig struct {
	Encoders []EncoderConfig
	// NumDecoders is the length of the target selector.
	NumDecoders int
	// RepresentationDim is the shared size annotations are projected to.
	RepresentationDim int
	SourceRepDim      int
	TargetRepDim      int
}

// MultiEncoding is the output of MultiEncoder.Apply.
type MultiEncoding[B tensor.Backend] struct {
	// Index is the selected encoder.
	Index int
	// Representation is the projected annotation [T, B, RepresentationDim].
	Representation *tensor.Tensor[float32, B]
	// Mask is the selected source mask [T, B].
	Mask *tensor.Tensor[float32, B]
	// SourceSelector and TargetSelector are the embedded selectors
	// broadcast over the batch: [B, SourceRepDim] and [B, TargetRepDim].
	SourceSelector *tensor.Tensor[float32, B]
	TargetSelector *tensor.Tensor[float32, B]
}

// Attended returns the encoding as decoder input, with the source and
// target selector embeddings as its two contexts.
func (m *MultiEncoding[B]) Attended() Attended[B] {
	return Attended[B]{
		Representation: m.Representation,
		Mask:           m.Mask,
		Contexts:       []*tensor.Tensor[float32, B]{m.SourceSelector, m.TargetSelector},
	}
}

// MultiEncoder owns one BidirectionalEncoder per source language and
// dispatches each batch to the encoder its one-hot source selector picks.
// Only the selected encoder runs. Its representation goes through that
// encoder's annotation embedder into the shared space.
type MultiEncoder[B tensor.Backend] struct {
	scope       nn.Scope
	cfg         MultiEncoderConfig
	encoders    []*BidirectionalEncoder[B]
	annotations []*nn.Linear[B]
	srcSelector *nn.Linear[B]
	trgSelector *nn.Linear[B]
}

// NewMultiEncoder allocates every encoder and embedder.
func NewMultiEncoder[B tensor.Backend](scope nn.Scope, cfg MultiEncoderConfig, backend B) (*MultiEncoder[B], error) {
	if len(cfg.Encoders) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one encoder", nn.ErrDimension, scope)
	}
	m := &MultiEncoder[B]{scope: scope, cfg: cfg}
	for i, ec := range cfg.Encoders {
		enc, err := NewBidirectionalEncoder(scope.Child(fmt.Sprintf("encoder_%d", i)), ec.VocabSize, ec.EmbedDim, ec.StateDim, backend)
		if err != nil {
			return nil, err
		}
		ann, err := nn.NewLinear(scope.Child(fmt.Sprintf("annotation_embedder_%d", i)), enc.OutputDim(), cfg.RepresentationDim, false, backend)
		if err != nil {
			return nil, err
		}
		m.encoders = append(m.encoders, enc)
		m.annotations = append(m.annotations, ann)
	}
	var err error
	if m.srcSelector, err = nn.NewLinear(scope.Child("src_selector_embedder"), len(cfg.Encoders), cfg.SourceRepDim, false, backend); err != nil {
		return nil, err
	}
	if m.trgSelector, err = nn.NewLinear(scope.Child("trg_selector_embedder"), cfg.NumDecoders, cfg.TargetRepDim, false, backend); err != nil {
		return nil, err
	}
	return m, nil
}

// Kind implements Component.
func (m *MultiEncoder[B]) Kind() Kind { return KindEncoder }

// Scope implements Component.
func (m *MultiEncoder[B]) Scope() nn.Scope { return m.scope }

// NumEncoders returns the number of source branches.
func (m *MultiEncoder[B]) NumEncoders() int {
	return len(m.encoders)
}

// Encoder returns encoder i.
func (m *MultiEncoder[B]) Encoder(i int) *BidirectionalEncoder[B] {
	return m.encoders[i]
}

// AnnotationEmbedder returns the projection of encoder i.
func (m *MultiEncoder[B]) AnnotationEmbedder(i int) *nn.Linear[B] {
	return m.annotations[i]
}

// Apply encodes the source picked by srcSelector. sources and masks hold
// one entry per encoder; entries of unselected encoders may be nil. Both
// selectors must be one-hot float vectors of the configured lengths.
func (m *MultiEncoder[B]) Apply(sources []*tensor.Tensor[int32, B], masks []*tensor.Tensor[float32, B], srcSelector, trgSelector *tensor.Tensor[float32, B]) (*MultiEncoding[B], error) {
	if len(sources) != len(m.encoders) || len(masks) != len(m.encoders) {
		return nil, fmt.Errorf("%w: %d sources and %d masks for %d encoders", ErrShape, len(sources), len(masks), len(m.encoders))
	}
	index, err := OneHotIndex(srcSelector, len(m.encoders))
	if err != nil {
		return nil, fmt.Errorf("source %w", err)
	}
	if _, err := OneHotIndex(trgSelector, m.cfg.NumDecoders); err != nil {
		return nil, fmt.Errorf("target %w", err)
	}

	annotation, err := m.encoders[index].Apply(sources[index], masks[index])
	if err != nil {
		return nil, err
	}
	batch := sources[index].Shape()[1]
	return &MultiEncoding[B]{
		Index:          index,
		Representation: m.annotations[index].Apply(annotation),
		Mask:           masks[index],
		SourceSelector: embedSelector(m.srcSelector, srcSelector, batch),
		TargetSelector: embedSelector(m.trgSelector, trgSelector, batch),
	}, nil
}

// Parameters returns every encoder and embedder parameter, encoders first.
func (m *MultiEncoder[B]) Parameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for i := range m.encoders {
		params = append(params, m.encoders[i].Parameters()...)
		params = append(params, m.annotations[i].Parameters()...)
	}
	return append(params, nn.CollectParameters[B](m.srcSelector, m.trgSelector)...)
}

// FeedForwardParameters returns the parameters subject to weight noise.
func (m *MultiEncoder[B]) FeedForwardParameters() []*nn.Parameter[B] {
	var params []*nn.Parameter[B]
	for i := range m.encoders {
		params = append(params, m.encoders[i].FeedForwardParameters()...)
		params = append(params, m.annotations[i].Parameters()...)
	}
	return append(params, nn.CollectParameters[B](m.srcSelector, m.trgSelector)...)
}

// embedSelector projects selector [N] and broadcasts it to [batch, out].
func embedSelector[B tensor.Backend](embedder *nn.Linear[B], selector *tensor.Tensor[float32, B], batch int) *tensor.Tensor[float32, B] {
	n := selector.Shape()[0]
	row := embedder.Apply(selector.Reshape(1, n))
	return row.Expand(batch, embedder.OutputDim())
}

// OneHotIndex returns the position of the single 1 in selector, which must
// be a float vector of length n holding only zeros and exactly one 1.
func OneHotIndex[B tensor.Backend](selector *tensor.Tensor[float32, B], n int) (int, error) {
	if selector == nil {
		return 0, fmt.Errorf("%w: missing selector", ErrSelector)
	}
	if !selector.Shape().Equal(tensor.Shape{n}) {
		return 0, fmt.Errorf("%w: shape %v, want [%d]", ErrSelector, selector.Shape(), n)
	}
	index := -1
	for i, v := range selector.Data() {
		switch {
		case v == 0:
		case v == 1 && index < 0:
			index = i
		default:
			return 0, fmt.Errorf("%w: %v is not one-hot", ErrSelector, selector.Data())
		}
	}
	if index < 0 {
		return 0, fmt.Errorf("%w: %v has no active entry", ErrSelector, selector.Data())
	}
	return index, nil
}

// OneHot builds a selector of length n with a 1 at index.
func OneHot[B tensor.Backend](index, n int, backend B) *tensor.Tensor[float32, B] {
	data := make([]float32, n)
	data[index] = 1
	return tensor.MustFromSlice(data, tensor.Shape{n}, backend)
}
