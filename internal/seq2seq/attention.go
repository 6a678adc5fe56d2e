package seq2seq

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Attended is everything a decoder pass attends to.
type Attended[B tensor.Backend] struct {
	// Representation is the encoder output [T, B, D].
	Representation *tensor.Tensor[float32, B]
	// Mask is the source mask [T, B].
	Mask *tensor.Tensor[float32, B]
	// Contexts are time-invariant sources [B, C_k], such as the selector
	// embeddings of the multi-encoder model. Empty for the single model.
	Contexts []*tensor.Tensor[float32, B]
}

func (a Attended[B]) check() error {
	if a.Representation == nil || a.Mask == nil {
		return fmt.Errorf("%w: attended representation and mask are required", ErrShape)
	}
	rep := a.Representation.Shape()
	if len(rep) != 3 || rep[0] == 0 || rep[1] == 0 {
		return fmt.Errorf("%w: representation must be non-empty [T, B, D], got %v", ErrShape, rep)
	}
	if !a.Mask.Shape().Equal(rep[:2]) {
		return fmt.Errorf("%w: mask %v does not match representation %v", ErrShape, a.Mask.Shape(), rep)
	}
	return nil
}

func (a Attended[B]) batch() int {
	return a.Representation.Shape()[1]
}

// Preprocessed caches the per-pass work of an attention: the summed
// projection of every attended source into match space, and the mask laid
// out as [B, T] for the softmax.
type Preprocessed[B tensor.Backend] struct {
	attended Attended[B]
	match    *tensor.Tensor[float32, B] // [T, B, M]
	maskBT   *tensor.Tensor[float32, B] // [B, T]
}

// Attended returns the sources this cache was built from.
func (p *Preprocessed[B]) Attended() Attended[B] {
	return p.attended
}

// SequenceMultiContentAttention is content attention over one time-varying
// representation and any number of time-invariant context sources:
//
//	match  = pre_0(rep[t]) + Σ_k pre_k(ctx_k) + W_s·state
//	energy = v·tanh(match)
//	w      = masked softmax over t
//	glimpse = Σ_t w[t]·rep[t]
//
// Each source has its own preprocessing projection; the state transformer
// and the energy vector are shared. Only the representation is pooled; the
// contexts enter through the energy alone.
type SequenceMultiContentAttention[B tensor.Backend] struct {
	scope            nn.Scope
	stateDim         int
	matchDim         int
	attendedDims     []int
	stateTransformer *nn.Linear[B]
	preprocessors    []*nn.Linear[B]
	energy           *nn.Linear[B]
}

// NewSequenceMultiContentAttention allocates attention from decoder states
// of stateDim into match space of matchDim. attendedDims[0] is the
// representation size; the rest are context sizes in the order Contexts
// will be supplied.
func NewSequenceMultiContentAttention[B tensor.Backend](scope nn.Scope, stateDim, matchDim int, attendedDims []int, backend B) (*SequenceMultiContentAttention[B], error) {
	if len(attendedDims) == 0 {
		return nil, fmt.Errorf("%w: %s needs at least one attended source", nn.ErrDimension, scope)
	}
	a := &SequenceMultiContentAttention[B]{
		scope:        scope,
		stateDim:     stateDim,
		matchDim:     matchDim,
		attendedDims: append([]int(nil), attendedDims...),
	}
	var err error
	if a.stateTransformer, err = nn.NewLinear(scope.Child("state_trans"), stateDim, matchDim, false, backend); err != nil {
		return nil, err
	}
	for i, dim := range attendedDims {
		name := "preprocess"
		if len(attendedDims) > 1 {
			name = fmt.Sprintf("preprocess_%d", i)
		}
		pre, err := nn.NewLinear(scope.Child(name), dim, matchDim, true, backend)
		if err != nil {
			return nil, err
		}
		a.preprocessors = append(a.preprocessors, pre)
	}
	if a.energy, err = nn.NewLinear(scope.Child("energy_comp"), matchDim, 1, false, backend); err != nil {
		return nil, err
	}
	return a, nil
}

// Kind implements Component.
func (a *SequenceMultiContentAttention[B]) Kind() Kind { return KindAttention }

// Scope implements Component.
func (a *SequenceMultiContentAttention[B]) Scope() nn.Scope { return a.scope }

// GlimpseDim returns the size of a glimpse, the representation size.
func (a *SequenceMultiContentAttention[B]) GlimpseDim() int {
	return a.attendedDims[0]
}

// NumContexts returns how many time-invariant sources the attention expects.
func (a *SequenceMultiContentAttention[B]) NumContexts() int {
	return len(a.attendedDims) - 1
}

// Preprocess validates the attended sources against the dimensions the
// attention was built for and projects them into match space once.
func (a *SequenceMultiContentAttention[B]) Preprocess(att Attended[B]) (*Preprocessed[B], error) {
	if err := att.check(); err != nil {
		return nil, err
	}
	rep := att.Representation.Shape()
	if rep[2] != a.attendedDims[0] {
		return nil, fmt.Errorf("%w: %s representation dim %d, want %d", ErrContext, a.scope, rep[2], a.attendedDims[0])
	}
	if len(att.Contexts) != a.NumContexts() {
		return nil, fmt.Errorf("%w: %s got %d contexts, want %d", ErrContext, a.scope, len(att.Contexts), a.NumContexts())
	}
	for k, ctx := range att.Contexts {
		want := tensor.Shape{rep[1], a.attendedDims[k+1]}
		if ctx == nil || !ctx.Shape().Equal(want) {
			var got tensor.Shape
			if ctx != nil {
				got = ctx.Shape()
			}
			return nil, fmt.Errorf("%w: %s context %d is %v, want %v", ErrContext, a.scope, k, got, want)
		}
	}

	match := a.preprocessors[0].Apply(att.Representation)
	for k, ctx := range att.Contexts {
		match = match.Add(a.preprocessors[k+1].Apply(ctx))
	}
	return &Preprocessed[B]{
		attended: att,
		match:    match,
		maskBT:   att.Mask.Transpose(),
	}, nil
}

// TakeGlimpse attends from state [B, H]. It returns the glimpse [B, D] and
// the attention weights [B, T].
func (a *SequenceMultiContentAttention[B]) TakeGlimpse(state *tensor.Tensor[float32, B], pre *Preprocessed[B]) (glimpse, weights *tensor.Tensor[float32, B]) {
	rep := pre.attended.Representation
	shape := rep.Shape()
	steps, batch := shape[0], shape[1]

	transformed := a.stateTransformer.Apply(state).Reshape(1, batch, a.matchDim)
	energies := a.energy.Apply(pre.match.Add(transformed).Tanh()).Reshape(steps, batch)
	weights = energies.Transpose().MaskedSoftmax(pre.maskBT)

	// [T, B, 1] weights broadcast over the feature axis.
	column := weights.Transpose().Reshape(steps, batch, 1)
	glimpse = rep.Mul(column).SumDim(0, false)
	return glimpse, weights
}

// Parameters returns the state transformer, preprocessors and energy
// parameters.
func (a *SequenceMultiContentAttention[B]) Parameters() []*nn.Parameter[B] {
	params := a.stateTransformer.Parameters()
	for _, p := range a.preprocessors {
		params = append(params, p.Parameters()...)
	}
	return append(params, a.energy.Parameters()...)
}

// SequenceContentAttention is single-source content attention: the
// multi-context attention with the representation as its only source.
type SequenceContentAttention[B tensor.Backend] struct {
	*SequenceMultiContentAttention[B]
}

// NewSequenceContentAttention allocates attention over a representation of
// attendedDim from decoder states of stateDim.
func NewSequenceContentAttention[B tensor.Backend](scope nn.Scope, stateDim, matchDim, attendedDim int, backend B) (*SequenceContentAttention[B], error) {
	inner, err := NewSequenceMultiContentAttention(scope, stateDim, matchDim, []int{attendedDim}, backend)
	if err != nil {
		return nil, err
	}
	return &SequenceContentAttention[B]{inner}, nil
}
