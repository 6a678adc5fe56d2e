package seq2seq

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// ReadoutConfig sizes a Readout.
type ReadoutConfig struct {
	VocabSize  int
	EmbedDim   int
	StateDim   int
	GlimpseDim int
	// ContextDims are the time-invariant sources merged after the glimpse.
	ContextDims []int
	// Dropout is applied to the maxout output during training.
	Dropout float64
	Seed    uint64
}

// Readout turns a decoder state, the feedback embedding of the previous
// token and the glimpse (plus any contexts) into vocabulary logits:
//
//	merged = Σ_i W_i·source_i + b
//	logits = W_v·(W_e·maxout_2(merged)) + b_v
//
// It owns the feedback embedding table used by the generator.
type Readout[B tensor.Backend] struct {
	scope    nn.Scope
	cfg      ReadoutConfig
	feedback *nn.LookupTable[B]
	merges   []*nn.Linear[B]
	bias     *nn.Bias[B]
	maxout   nn.Maxout
	dropout  *nn.Dropout
	toEmbed  *nn.Linear[B]
	toVocab  *nn.Linear[B]
}

// NewReadout allocates a readout. StateDim must be even for the 2-piece
// maxout.
func NewReadout[B tensor.Backend](scope nn.Scope, cfg ReadoutConfig, backend B) (*Readout[B], error) {
	r := &Readout[B]{scope: scope, cfg: cfg}
	var err error
	if r.maxout, err = nn.NewMaxout(cfg.StateDim, 2); err != nil {
		return nil, fmt.Errorf("%s: %w", scope, err)
	}
	if r.feedback, err = nn.NewLookupTable(scope.Child("lookupfeedback"), cfg.VocabSize, cfg.EmbedDim, backend); err != nil {
		return nil, err
	}

	names := []string{"states", "feedback", "glimpses"}
	dims := []int{cfg.StateDim, cfg.EmbedDim, cfg.GlimpseDim}
	for i, d := range cfg.ContextDims {
		names = append(names, fmt.Sprintf("context_%d", i))
		dims = append(dims, d)
	}
	for i, name := range names {
		merge, err := nn.NewLinear(scope.Child("merge_"+name), dims[i], cfg.StateDim, false, backend)
		if err != nil {
			return nil, err
		}
		r.merges = append(r.merges, merge)
	}

	if r.bias, err = nn.NewBias(scope.Child("bias"), cfg.StateDim, backend); err != nil {
		return nil, err
	}
	if cfg.Dropout > 0 {
		if r.dropout, err = nn.NewDropout(cfg.Dropout, cfg.Seed); err != nil {
			return nil, fmt.Errorf("%s: %w", scope, err)
		}
	}
	if r.toEmbed, err = nn.NewLinear(scope.Child("softmax0"), r.maxout.OutputDim(cfg.StateDim), cfg.EmbedDim, false, backend); err != nil {
		return nil, err
	}
	if r.toVocab, err = nn.NewLinear(scope.Child("softmax1"), cfg.EmbedDim, cfg.VocabSize, true, backend); err != nil {
		return nil, err
	}
	return r, nil
}

// Kind implements Component.
func (r *Readout[B]) Kind() Kind { return KindReadout }

// Scope implements Component.
func (r *Readout[B]) Scope() nn.Scope { return r.scope }

// VocabSize returns the number of logits per step.
func (r *Readout[B]) VocabSize() int {
	return r.cfg.VocabSize
}

// EmbedDim returns the feedback embedding size.
func (r *Readout[B]) EmbedDim() int {
	return r.cfg.EmbedDim
}

// NumContexts returns how many contexts Readout expects.
func (r *Readout[B]) NumContexts() int {
	return len(r.cfg.ContextDims)
}

// SetTraining toggles dropout.
func (r *Readout[B]) SetTraining(training bool) {
	if r.dropout != nil {
		r.dropout.SetTraining(training)
	}
}

// Feedback embeds token ids; the sentinel -1 gives the zero vector.
func (r *Readout[B]) Feedback(ids *tensor.Tensor[int32, B]) *tensor.Tensor[float32, B] {
	return r.feedback.Lookup(ids)
}

// Logits maps the readout sources to logits over the vocabulary. states,
// feedback and glimpses share their leading axes ([B] or [T, B]); contexts
// are [B, C] and broadcast over time.
func (r *Readout[B]) Logits(states, feedback, glimpses *tensor.Tensor[float32, B], contexts []*tensor.Tensor[float32, B]) *tensor.Tensor[float32, B] {
	merged := r.merges[0].Apply(states).
		Add(r.merges[1].Apply(feedback)).
		Add(r.merges[2].Apply(glimpses))
	for i := range r.cfg.ContextDims {
		merged = merged.Add(r.merges[3+i].Apply(contexts[i]))
	}
	hidden := nn.ApplyDropout(r.dropout, r.bias.Apply(merged).Maxout(r.maxout.Pieces))
	return r.toVocab.Apply(r.toEmbed.Apply(hidden))
}

// Parameters returns the feedback table, merges, bias and output layers.
func (r *Readout[B]) Parameters() []*nn.Parameter[B] {
	params := r.feedback.Parameters()
	for _, m := range r.merges {
		params = append(params, m.Parameters()...)
	}
	return append(params, nn.CollectParameters[B](r.bias, r.toEmbed, r.toVocab)...)
}
