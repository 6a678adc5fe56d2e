package seq2seq

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/config"
	"github.com/born-ml/rnnsearch/internal/logger"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/stream"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Translator is a complete model trainable on stream batches.
type Translator[B tensor.Backend] interface {
	nn.Module[B]
	// FeedForwardParameters returns the parameters weight noise applies to.
	FeedForwardParameters() []*nn.Parameter[B]
	// SetTraining toggles dropout.
	SetTraining(training bool)
	// Cost returns the scalar training objective of a batch.
	Cost(batch *stream.Batch) (*tensor.Tensor[float32, B], error)
	// Generate decodes nSteps tokens for the sources of batch.
	Generate(batch *stream.Batch, nSteps int, emitter Emitter) (*Generated[B], error)
}

// Model is the single-encoder translation model.
type Model[B tensor.Backend] struct {
	backend B
	Encoder *BidirectionalEncoder[B]
	Decoder *SequenceGenerator[B]
}

// NewModel assembles the model described by c.
func NewModel[B tensor.Backend](c config.Config, backend B) (*Model[B], error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	encoder, err := NewBidirectionalEncoder(nn.Scope("bidirectionalencoder"), c.SrcVocabSize, c.EncEmbed, c.EncNHids, backend)
	if err != nil {
		return nil, err
	}
	decoder, err := NewSequenceGenerator(nn.Scope("decoder"), DecoderConfig{
		VocabSize:         c.TrgVocabSize,
		EmbedDim:          c.DecEmbed,
		StateDim:          c.DecNHids,
		RepresentationDim: encoder.OutputDim(),
		SummaryDim:        c.EncNHids,
		MatchDim:          c.MatchDim,
		Dropout:           c.Dropout,
		Seed:              c.Seed,
	}, backend)
	if err != nil {
		return nil, err
	}
	m := &Model[B]{backend: backend, Encoder: encoder, Decoder: decoder}
	logParameters("model", m.Parameters())
	return m, nil
}

// Encode runs the encoder on the source side of batch.
func (m *Model[B]) Encode(batch *stream.Batch) (Attended[B], error) {
	ids, mask := sourceTensors(batch, m.backend)
	rep, err := m.Encoder.Apply(ids, mask)
	if err != nil {
		return Attended[B]{}, err
	}
	return Attended[B]{Representation: rep, Mask: mask}, nil
}

// Cost implements Translator.
func (m *Model[B]) Cost(batch *stream.Batch) (*tensor.Tensor[float32, B], error) {
	att, err := m.Encode(batch)
	if err != nil {
		return nil, err
	}
	target, mask := targetTensors(batch, m.backend)
	return m.Decoder.Cost(att, target, mask)
}

// Generate implements Translator.
func (m *Model[B]) Generate(batch *stream.Batch, nSteps int, emitter Emitter) (*Generated[B], error) {
	att, err := m.Encode(batch)
	if err != nil {
		return nil, err
	}
	return m.Decoder.Generate(att, nSteps, emitter)
}

// SetTraining implements Translator.
func (m *Model[B]) SetTraining(training bool) {
	m.Decoder.SetTraining(training)
}

// Parameters returns encoder then decoder parameters.
func (m *Model[B]) Parameters() []*nn.Parameter[B] {
	return nn.CollectParameters[B](m.Encoder, m.Decoder)
}

// FeedForwardParameters implements Translator.
func (m *Model[B]) FeedForwardParameters() []*nn.Parameter[B] {
	return append(m.Encoder.FeedForwardParameters(), m.Decoder.FeedForwardParameters()...)
}

// MultiModel translates from one of several source languages, chosen per
// batch by the batch's encoder index, into one of several target
// languages selected by its decoder index.
type MultiModel[B tensor.Backend] struct {
	backend B
	Encoder *MultiEncoder[B]
	Decoder *SequenceGenerator[B]
}

// NewMultiModel assembles the multi-encoder model described by c.
func NewMultiModel[B tensor.Backend](c config.Config, backend B) (*MultiModel[B], error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if !c.IsMulti() {
		return nil, fmt.Errorf("%w: multi-encoder model needs an encoders list", config.ErrInvalidConfig)
	}
	mc := MultiEncoderConfig{
		NumDecoders:       c.NumDecs,
		RepresentationDim: c.RepresentationDim,
		SourceRepDim:      c.SrcRepDim,
		TargetRepDim:      c.TrgRepDim,
	}
	for _, e := range c.Encoders {
		mc.Encoders = append(mc.Encoders, EncoderConfig{VocabSize: e.VocabSize, EmbedDim: e.Embed, StateDim: e.NHids})
	}
	encoder, err := NewMultiEncoder(nn.Scope("multiencoder"), mc, backend)
	if err != nil {
		return nil, err
	}
	decoder, err := NewSequenceGenerator(nn.Scope("decoder"), DecoderConfig{
		VocabSize:         c.TrgVocabSize,
		EmbedDim:          c.DecEmbed,
		StateDim:          c.DecNHids,
		RepresentationDim: c.RepresentationDim,
		SummaryDim:        c.DecNHids,
		MatchDim:          c.MatchDim,
		ContextDims:       []int{c.SrcRepDim, c.TrgRepDim},
		CandidateContext:  true,
		ReadoutContexts:   1,
		Dropout:           c.Dropout,
		Seed:              c.Seed,
	}, backend)
	if err != nil {
		return nil, err
	}
	m := &MultiModel[B]{backend: backend, Encoder: encoder, Decoder: decoder}
	logParameters("multi-encoder model", m.Parameters())
	return m, nil
}

// Encode runs the encoder selected by batch.EncoderIndex.
func (m *MultiModel[B]) Encode(batch *stream.Batch) (*MultiEncoding[B], error) {
	n := m.Encoder.NumEncoders()
	if batch.EncoderIndex < 0 || batch.EncoderIndex >= n {
		return nil, fmt.Errorf("%w: encoder index %d of %d", ErrSelector, batch.EncoderIndex, n)
	}
	if batch.DecoderIndex < 0 || batch.DecoderIndex >= m.Encoder.cfg.NumDecoders {
		return nil, fmt.Errorf("%w: decoder index %d of %d", ErrSelector, batch.DecoderIndex, m.Encoder.cfg.NumDecoders)
	}
	sources := make([]*tensor.Tensor[int32, B], n)
	masks := make([]*tensor.Tensor[float32, B], n)
	sources[batch.EncoderIndex], masks[batch.EncoderIndex] = sourceTensors(batch, m.backend)

	return m.Encoder.Apply(sources, masks,
		OneHot(batch.EncoderIndex, n, m.backend),
		OneHot(batch.DecoderIndex, m.Encoder.cfg.NumDecoders, m.backend))
}

// Cost implements Translator.
func (m *MultiModel[B]) Cost(batch *stream.Batch) (*tensor.Tensor[float32, B], error) {
	enc, err := m.Encode(batch)
	if err != nil {
		return nil, err
	}
	target, mask := targetTensors(batch, m.backend)
	return m.Decoder.Cost(enc.Attended(), target, mask)
}

// Generate implements Translator.
func (m *MultiModel[B]) Generate(batch *stream.Batch, nSteps int, emitter Emitter) (*Generated[B], error) {
	enc, err := m.Encode(batch)
	if err != nil {
		return nil, err
	}
	return m.Decoder.Generate(enc.Attended(), nSteps, emitter)
}

// SetTraining implements Translator.
func (m *MultiModel[B]) SetTraining(training bool) {
	m.Decoder.SetTraining(training)
}

// Parameters returns encoder then decoder parameters.
func (m *MultiModel[B]) Parameters() []*nn.Parameter[B] {
	return nn.CollectParameters[B](m.Encoder, m.Decoder)
}

// FeedForwardParameters implements Translator.
func (m *MultiModel[B]) FeedForwardParameters() []*nn.Parameter[B] {
	return append(m.Encoder.FeedForwardParameters(), m.Decoder.FeedForwardParameters()...)
}

// NewTranslator builds a MultiModel when c lists encoders and a Model
// otherwise.
func NewTranslator[B tensor.Backend](c config.Config, backend B) (Translator[B], error) {
	if c.IsMulti() {
		return NewMultiModel(c, backend)
	}
	return NewModel(c, backend)
}

func sourceTensors[B tensor.Backend](batch *stream.Batch, backend B) (*tensor.Tensor[int32, B], *tensor.Tensor[float32, B]) {
	shape := tensor.Shape{batch.SourceSteps, batch.Size}
	return tensor.MustFromSlice(batch.Source, shape, backend), tensor.MustFromSlice(batch.SourceMask, shape, backend)
}

func targetTensors[B tensor.Backend](batch *stream.Batch, backend B) (*tensor.Tensor[int32, B], *tensor.Tensor[float32, B]) {
	shape := tensor.Shape{batch.TargetSteps, batch.Size}
	return tensor.MustFromSlice(batch.Target, shape, backend), tensor.MustFromSlice(batch.TargetMask, shape, backend)
}

func logParameters[B tensor.Backend](what string, params []*nn.Parameter[B]) {
	for _, p := range params {
		logger.Log.Debug("parameter", "name", p.Name(), "shape", fmt.Sprint(p.Shape()), "role", p.Role().String())
	}
	logger.Log.Info("assembled "+what, "parameters", len(params), "elements", nn.NumElements(params))
}

// Initialize draws every parameter of t from the default scheme at the
// configured weight scale and seed.
func Initialize[B tensor.Backend](t Translator[B], c config.Config) error {
	return nn.Initialize(t.Parameters(), nn.DefaultScheme(c.WeightScale), c.Seed)
}
