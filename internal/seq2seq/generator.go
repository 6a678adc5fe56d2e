package seq2seq

import (
	"fmt"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// DecoderConfig sizes a SequenceGenerator and its parts.
type DecoderConfig struct {
	VocabSize int
	EmbedDim  int
	StateDim  int
	// RepresentationDim is the feature size of the attended representation.
	RepresentationDim int
	// SummaryDim is how many trailing features of the first representation
	// step seed the initial state.
	SummaryDim int
	// MatchDim is the attention match space size; 0 means StateDim.
	MatchDim int
	// ContextDims lists time-invariant attention sources. With none the
	// decoder uses single-source content attention.
	ContextDims []int
	// CandidateContext projects the first context into the transition
	// candidate at every step.
	CandidateContext bool
	// ReadoutContexts is how many leading contexts the readout merges.
	ReadoutContexts int
	Dropout         float64
	Seed            uint64
}

// Emitter picks the next token of one example from its logits.
type Emitter interface {
	Emit(logits []float32) int32
}

// Greedy emits the most probable token.
type Greedy struct{}

// Emit returns the index of the largest logit; ties go to the lowest index.
func (Greedy) Emit(logits []float32) int32 {
	best := 0
	for i, v := range logits {
		if v > logits[best] {
			best = i
		}
	}
	return int32(best)
}

// Generated is the time-major output bundle of SequenceGenerator.Generate.
// Every tensor has n_steps as its leading dimension.
type Generated[B tensor.Backend] struct {
	Outputs  *tensor.Tensor[int32, B]   // [n, B] emitted ids
	Logits   *tensor.Tensor[float32, B] // [n, B, V]
	States   *tensor.Tensor[float32, B] // [n, B, H] state after each step
	Glimpses *tensor.Tensor[float32, B] // [n, B, D]
	Weights  *tensor.Tensor[float32, B] // [n, B, T] attention weights
	Costs    *tensor.Tensor[float32, B] // [n, B] -log p of each emitted id
}

// SequenceGenerator drives the decoder. Cost scores gold targets with
// teacher forcing; Generate decodes autoregressively for a fixed number of
// steps.
type SequenceGenerator[B tensor.Backend] struct {
	scope      nn.Scope
	backend    B
	cfg        DecoderConfig
	readout    *Readout[B]
	fork       *nn.Fork[B]
	transition *AttentionRecurrent[B]
}

// NewSequenceGenerator assembles a decoder from cfg.
func NewSequenceGenerator[B tensor.Backend](scope nn.Scope, cfg DecoderConfig, backend B) (*SequenceGenerator[B], error) {
	if cfg.MatchDim == 0 {
		cfg.MatchDim = cfg.StateDim
	}
	if cfg.ReadoutContexts > len(cfg.ContextDims) {
		return nil, fmt.Errorf("%w: %s readout merges %d of %d contexts", nn.ErrDimension, scope, cfg.ReadoutContexts, len(cfg.ContextDims))
	}
	if cfg.CandidateContext && len(cfg.ContextDims) == 0 {
		return nil, fmt.Errorf("%w: %s candidate context without contexts", nn.ErrDimension, scope)
	}

	var attention Attention[B]
	attScope := scope.Child("attention")
	if len(cfg.ContextDims) == 0 {
		a, err := NewSequenceContentAttention(attScope, cfg.StateDim, cfg.MatchDim, cfg.RepresentationDim, backend)
		if err != nil {
			return nil, err
		}
		attention = a
	} else {
		dims := append([]int{cfg.RepresentationDim}, cfg.ContextDims...)
		a, err := NewSequenceMultiContentAttention(attScope, cfg.StateDim, cfg.MatchDim, dims, backend)
		if err != nil {
			return nil, err
		}
		attention = a
	}

	tcfg := TransitionConfig{StateDim: cfg.StateDim, SummaryDim: cfg.SummaryDim, RepresentationDim: cfg.RepresentationDim}
	if cfg.CandidateContext {
		tcfg.ContextDim = cfg.ContextDims[0]
	}
	g := &SequenceGenerator[B]{scope: scope, backend: backend, cfg: cfg}
	var err error
	if g.transition, err = NewAttentionRecurrent(scope.Child("att_trans"), tcfg, attention, backend); err != nil {
		return nil, err
	}
	g.readout, err = NewReadout(scope.Child("readout"), ReadoutConfig{
		VocabSize:   cfg.VocabSize,
		EmbedDim:    cfg.EmbedDim,
		StateDim:    cfg.StateDim,
		GlimpseDim:  attention.GlimpseDim(),
		ContextDims: cfg.ContextDims[:cfg.ReadoutContexts],
		Dropout:     cfg.Dropout,
		Seed:        cfg.Seed,
	}, backend)
	if err != nil {
		return nil, err
	}
	if g.fork, err = nn.NewFork(scope.Child("fork"), cfg.EmbedDim, cfg.StateDim, nn.FullGates, true, backend); err != nil {
		return nil, err
	}
	return g, nil
}

// Kind implements Component.
func (g *SequenceGenerator[B]) Kind() Kind { return KindGenerator }

// Scope implements Component.
func (g *SequenceGenerator[B]) Scope() nn.Scope { return g.scope }

// Readout returns the readout.
func (g *SequenceGenerator[B]) Readout() *Readout[B] {
	return g.readout
}

// Transition returns the decoder transition.
func (g *SequenceGenerator[B]) Transition() *AttentionRecurrent[B] {
	return g.transition
}

// SetTraining toggles training-only behavior such as dropout.
func (g *SequenceGenerator[B]) SetTraining(training bool) {
	g.readout.SetTraining(training)
}

// Cost returns the teacher-forced training objective: the masked sum of
// per-token cross-entropies divided by the batch size.
func (g *SequenceGenerator[B]) Cost(att Attended[B], target *tensor.Tensor[int32, B], targetMask *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	costs, err := g.CostMatrix(att, target, targetMask)
	if err != nil {
		return nil, err
	}
	batch := target.Shape()[1]
	return costs.Sum().MulScalar(1 / float32(batch)), nil
}

// CostMatrix returns per-token cross-entropies [T, B], zero where
// targetMask is 0.
//
// Only the recurrence runs step by step. The readout sees every step at
// once, fed with the gold tokens shifted right by one (the first step is
// fed the sentinel -1).
func (g *SequenceGenerator[B]) CostMatrix(att Attended[B], target *tensor.Tensor[int32, B], targetMask *tensor.Tensor[float32, B]) (*tensor.Tensor[float32, B], error) {
	if err := checkSequence(target, targetMask); err != nil {
		return nil, err
	}
	if err := att.check(); err != nil {
		return nil, err
	}
	steps, batch := target.Shape()[0], target.Shape()[1]
	if batch != att.batch() {
		return nil, fmt.Errorf("%w: target batch %d, source batch %d", ErrShape, batch, att.batch())
	}
	if err := checkTokens(target.Data(), g.cfg.VocabSize, true); err != nil {
		return nil, err
	}
	prep, err := g.transition.Prepare(att)
	if err != nil {
		return nil, err
	}

	inputs := g.fork.Apply(g.readout.Feedback(target))
	states := make([]*tensor.Tensor[float32, B], steps)
	glimpses := make([]*tensor.Tensor[float32, B], steps)
	state := prep.Initial
	for t := 0; t < steps; t++ {
		glimpse, _ := g.transition.TakeGlimpse(state, prep)
		states[t], glimpses[t] = state, glimpse
		if t == steps-1 {
			break
		}
		if state, err = g.transition.ComputeState(state, inputs.Step(t), glimpse, prep, targetMask.Step(t)); err != nil {
			return nil, err
		}
	}

	previous := g.readout.Feedback(shiftRight(target))
	logits := g.readout.Logits(tensor.Stack(states), previous, tensor.Stack(glimpses), att.Contexts[:g.readout.NumContexts()])
	flat := logits.Reshape(steps*batch, g.cfg.VocabSize)
	costs := tensor.CrossEntropy(flat, target.Reshape(steps*batch)).Reshape(steps, batch)
	return costs.Mul(targetMask), nil
}

// Generate decodes exactly nSteps tokens for every example in att. The
// first step is fed the sentinel -1; later steps are fed the token emitter
// chose at the previous step. A nil emitter decodes greedily.
func (g *SequenceGenerator[B]) Generate(att Attended[B], nSteps int, emitter Emitter) (*Generated[B], error) {
	if nSteps <= 0 {
		return nil, fmt.Errorf("%w: generate needs a positive step count, got %d", ErrShape, nSteps)
	}
	if emitter == nil {
		emitter = Greedy{}
	}
	prep, err := g.transition.Prepare(att)
	if err != nil {
		return nil, err
	}
	batch, vocab := att.batch(), g.cfg.VocabSize
	contexts := att.Contexts[:g.readout.NumContexts()]

	var (
		outputs  = make([]*tensor.Tensor[int32, B], nSteps)
		logits   = make([]*tensor.Tensor[float32, B], nSteps)
		states   = make([]*tensor.Tensor[float32, B], nSteps)
		glimpses = make([]*tensor.Tensor[float32, B], nSteps)
		weights  = make([]*tensor.Tensor[float32, B], nSteps)
		costs    = make([]*tensor.Tensor[float32, B], nSteps)
	)
	state := prep.Initial
	previous := tensor.Full[int32](tensor.Shape{batch}, -1, g.backend)
	for step := 0; step < nSteps; step++ {
		glimpse, w := g.transition.TakeGlimpse(state, prep)
		stepLogits := g.readout.Logits(state, g.readout.Feedback(previous), glimpse, contexts)

		rows := stepLogits.Data()
		ids := make([]int32, batch)
		for b := range ids {
			ids[b] = emitter.Emit(rows[b*vocab : (b+1)*vocab])
		}
		if err := checkTokens(ids, vocab, false); err != nil {
			return nil, fmt.Errorf("emitter at step %d: %w", step, err)
		}
		emitted := tensor.MustFromSlice(ids, tensor.Shape{batch}, g.backend)

		next, err := g.transition.ComputeState(state, g.fork.Apply(g.readout.Feedback(emitted)), glimpse, prep, nil)
		if err != nil {
			return nil, err
		}
		outputs[step], logits[step], states[step] = emitted, stepLogits, next
		glimpses[step], weights[step] = glimpse, w
		costs[step] = tensor.CrossEntropy(stepLogits, emitted)
		state, previous = next, emitted
	}

	return &Generated[B]{
		Outputs:  tensor.Stack(outputs),
		Logits:   tensor.Stack(logits),
		States:   tensor.Stack(states),
		Glimpses: tensor.Stack(glimpses),
		Weights:  tensor.Stack(weights),
		Costs:    tensor.Stack(costs),
	}, nil
}

// Parameters returns the transition (attention included), readout and
// feedback fork parameters.
func (g *SequenceGenerator[B]) Parameters() []*nn.Parameter[B] {
	return nn.CollectParameters[B](g.transition, g.readout, g.fork)
}

// FeedForwardParameters returns the parameters subject to weight noise.
func (g *SequenceGenerator[B]) FeedForwardParameters() []*nn.Parameter[B] {
	params := g.transition.FeedForwardParameters()
	params = append(params, g.readout.Parameters()...)
	return append(params, g.fork.Parameters()...)
}

// shiftRight returns target [T, B] delayed by one step, with -1 in the
// first row.
func shiftRight[B tensor.Backend](target *tensor.Tensor[int32, B]) *tensor.Tensor[int32, B] {
	shape := target.Shape()
	batch := shape[1]
	src := target.Data()
	shifted := make([]int32, len(src))
	for b := 0; b < batch; b++ {
		shifted[b] = -1
	}
	copy(shifted[batch:], src[:len(src)-batch])
	return tensor.MustFromSlice(shifted, shape, target.Backend())
}

// checkTokens verifies that ids fall in [0, vocab), or are -1 when
// allowSentinel is set.
func checkTokens(ids []int32, vocab int, allowSentinel bool) error {
	for i, id := range ids {
		if id == -1 && allowSentinel {
			continue
		}
		if id < 0 || int(id) >= vocab {
			return fmt.Errorf("%w: id %d at position %d, vocabulary %d", ErrTokenRange, id, i, vocab)
		}
	}
	return nil
}
