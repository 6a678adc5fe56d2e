package seq2seq

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Attention is implemented by SequenceContentAttention and
// SequenceMultiContentAttention.
type Attention[B tensor.Backend] interface {
	Component[B]
	GlimpseDim() int
	NumContexts() int
	Preprocess(att Attended[B]) (*Preprocessed[B], error)
	TakeGlimpse(state *tensor.Tensor[float32, B], pre *Preprocessed[B]) (glimpse, weights *tensor.Tensor[float32, B])
}

// TransitionConfig sizes an AttentionRecurrent.
type TransitionConfig struct {
	// StateDim is the decoder state size.
	StateDim int
	// SummaryDim is the number of trailing features of the first
	// representation step that seed the initial state.
	SummaryDim int
	// RepresentationDim is the feature size of the attended
	// representation; SummaryDim may not exceed it.
	RepresentationDim int
	// ContextDim, when positive, adds a projection of the first attended
	// context into the candidate activation at every step.
	ContextDim int
}

// AttentionRecurrent is the decoder transition: a GRU whose inputs are the
// feedback gate inputs plus the distributed glimpse, and whose initial state
// is tanh(W·summary + b) for the source summary.
type AttentionRecurrent[B tensor.Backend] struct {
	scope      nn.Scope
	cfg        TransitionConfig
	gru        *nn.GatedRecurrent[B]
	initial    *nn.Linear[B]
	distribute *nn.Fork[B]
	context    *nn.Linear[B]
	attention  Attention[B]
}

// NewAttentionRecurrent allocates a transition around attention.
func NewAttentionRecurrent[B tensor.Backend](scope nn.Scope, cfg TransitionConfig, attention Attention[B], backend B) (*AttentionRecurrent[B], error) {
	if cfg.ContextDim > 0 && attention.NumContexts() == 0 {
		return nil, fmt.Errorf("%w: %s projects a context but its attention has none", nn.ErrDimension, scope)
	}
	if cfg.SummaryDim <= 0 || cfg.SummaryDim > cfg.RepresentationDim {
		return nil, fmt.Errorf("%w: %s summary of %d features from a representation of %d", nn.ErrDimension, scope, cfg.SummaryDim, cfg.RepresentationDim)
	}
	r := &AttentionRecurrent[B]{scope: scope, cfg: cfg, attention: attention}
	var err error
	if r.gru, err = nn.NewGatedRecurrent(scope.Child("transition"), cfg.StateDim, nn.FullGates, backend); err != nil {
		return nil, err
	}
	if r.initial, err = nn.NewLinear(scope.Child("initializer"), cfg.SummaryDim, cfg.StateDim, true, backend); err != nil {
		return nil, err
	}
	if r.distribute, err = nn.NewFork(scope.Child("distribute"), attention.GlimpseDim(), cfg.StateDim, nn.FullGates, false, backend); err != nil {
		return nil, err
	}
	if cfg.ContextDim > 0 {
		if r.context, err = nn.NewLinear(scope.Child("context"), cfg.ContextDim, cfg.StateDim, false, backend); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Kind implements Component.
func (r *AttentionRecurrent[B]) Kind() Kind { return KindTransition }

// Scope implements Component.
func (r *AttentionRecurrent[B]) Scope() nn.Scope { return r.scope }

// StateDim returns the decoder state size.
func (r *AttentionRecurrent[B]) StateDim() int {
	return r.cfg.StateDim
}

// Attention returns the wrapped attention.
func (r *AttentionRecurrent[B]) Attention() Attention[B] {
	return r.attention
}

// Prepared is the per-pass state of a transition.
type Prepared[B tensor.Backend] struct {
	Attention *Preprocessed[B]
	Initial   *tensor.Tensor[float32, B] // [B, H]
	extra     *tensor.Tensor[float32, B] // [B, H] or nil
}

// Prepare validates att, preprocesses it for attention and computes the
// initial state. Every check happens here, before any step runs.
func (r *AttentionRecurrent[B]) Prepare(att Attended[B]) (*Prepared[B], error) {
	pre, err := r.attention.Preprocess(att)
	if err != nil {
		return nil, err
	}
	repDim := att.Representation.Shape()[2]
	if r.cfg.SummaryDim > repDim {
		return nil, fmt.Errorf("%w: %s summary of %d features from a representation of %d", ErrContext, r.scope, r.cfg.SummaryDim, repDim)
	}
	if r.context != nil && att.Contexts[0].Shape()[1] != r.cfg.ContextDim {
		return nil, fmt.Errorf("%w: %s context dim %d, want %d", ErrContext, r.scope, att.Contexts[0].Shape()[1], r.cfg.ContextDim)
	}

	summary := att.Representation.Step(0).Narrow(1, repDim-r.cfg.SummaryDim, r.cfg.SummaryDim)
	p := &Prepared[B]{
		Attention: pre,
		Initial:   r.initial.Apply(summary).Tanh(),
	}
	if r.context != nil {
		p.extra = r.context.Apply(att.Contexts[0])
	}
	return p, nil
}

// TakeGlimpse attends from state.
func (r *AttentionRecurrent[B]) TakeGlimpse(state *tensor.Tensor[float32, B], p *Prepared[B]) (glimpse, weights *tensor.Tensor[float32, B]) {
	return r.attention.TakeGlimpse(state, p.Attention)
}

// ComputeState advances state [B, H] by one step given the feedback gate
// inputs and the glimpse taken from state. mask [B] (optional) holds the
// state where it is 0.
func (r *AttentionRecurrent[B]) ComputeState(state *tensor.Tensor[float32, B], feedback nn.GateInputs[B], glimpse *tensor.Tensor[float32, B], p *Prepared[B], mask *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	in := feedback.Add(r.distribute.Apply(glimpse))
	if err := r.gru.CheckInputs(in); err != nil {
		return nil, err
	}
	next := r.gru.Step(state, in, p.extra)
	if mask != nil {
		next = nn.CarryMasked(next, state, mask)
	}
	return next, nil
}

// Parameters returns the recurrent, initializer, distribute and context
// parameters followed by the attention's.
func (r *AttentionRecurrent[B]) Parameters() []*nn.Parameter[B] {
	params := nn.CollectParameters[B](r.gru, r.initial, r.distribute)
	if r.context != nil {
		params = append(params, r.context.Parameters()...)
	}
	return append(params, r.attention.Parameters()...)
}

// FeedForwardParameters returns the initial-state transform, the only
// transition parameters subject to weight noise.
func (r *AttentionRecurrent[B]) FeedForwardParameters() []*nn.Parameter[B] {
	return r.initial.Parameters()
}
