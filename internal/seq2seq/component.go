// Package seq2seq assembles the attention-based encoder-decoder translation
// model: a bidirectional GRU encoder, content attention over its
// representation, a context-initialized GRU decoder transition, a maxout
// readout, and the generator that either scores gold targets (Cost) or
// decodes autoregressively (Generate). MultiEncoder and the multi-context
// attention extend it to several source languages selected per batch.
//
// Sequence tensors are time-major, [T, B, ...], with float32 masks [T, B].
package seq2seq

import (
	"errors"

	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// Errors returned while assembling or applying the model. Dimension errors
// from nn (nn.ErrDimension, nn.ErrGateConfig) pass through wrapped.
var (
	// ErrShape reports inputs whose shapes disagree with each other or
	// with the component they are fed to.
	ErrShape = errors.New("seq2seq: shape mismatch")

	// ErrSelector reports a selector vector that is not one-hot or does
	// not match the number of branches.
	ErrSelector = errors.New("seq2seq: invalid selector")

	// ErrContext reports attention contexts that do not match the
	// dimensions the attention was built for.
	ErrContext = errors.New("seq2seq: context mismatch")

	// ErrTokenRange reports a token id outside [0, vocab) where the
	// sentinel -1 is not allowed either.
	ErrTokenRange = errors.New("seq2seq: token id out of range")
)

// Kind tags the role a component plays in the model.
type Kind int

// Component kinds.
const (
	KindEncoder Kind = iota
	KindTransition
	KindAttention
	KindReadout
	KindGenerator
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindEncoder:
		return "encoder"
	case KindTransition:
		return "transition"
	case KindAttention:
		return "attention"
	case KindReadout:
		return "readout"
	case KindGenerator:
		return "generator"
	default:
		return "unknown"
	}
}

// Component is implemented by every assembled part of the model. Parameters
// are allocated by the constructor, initialized through nn.Initialize on
// Parameters(), and used by the component's apply methods.
type Component[B tensor.Backend] interface {
	nn.Module[B]
	Kind() Kind
	Scope() nn.Scope
}
