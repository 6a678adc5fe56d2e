// Package stream turns parallel token corpora into padded, masked,
// time-major training batches.
//
// A Pair is one source/target sentence; Prepare maps out-of-vocabulary ids
// to unk, appends the end-of-sequence token and filters long sentences;
// Stream reads sort_k_batches batches ahead, sorts them by target length
// and emits batches of equal-length-ish sentences. Corpora are stored as
// Arrow IPC files (see WriteCorpus and ReadCorpus).
package stream

import (
	"errors"
	"fmt"
)

// ErrEmptyBatch is returned when a batch would hold no sentences.
var ErrEmptyBatch = errors.New("stream: empty batch")

// Pair is one parallel sentence. EncoderIndex and DecoderIndex pick the
// source and target language in the multi-encoder model and are zero
// otherwise.
type Pair struct {
	Source       []int32
	Target       []int32
	EncoderIndex int
	DecoderIndex int
}

// Batch is a rectangular, right-padded batch laid out time-major: element
// (t, b) of Source is Source[t*Size+b]. Padding ids are 0 and masked out.
type Batch struct {
	Size        int
	SourceSteps int
	TargetSteps int
	Source      []int32
	SourceMask  []float32
	Target      []int32
	TargetMask  []float32

	EncoderIndex int
	DecoderIndex int
}

// NewBatch pads pairs into a batch. Every pair must be non-empty on both
// sides and share the encoder and decoder index of the first.
func NewBatch(pairs []Pair) (*Batch, error) {
	if len(pairs) == 0 {
		return nil, ErrEmptyBatch
	}
	b := &Batch{
		Size:         len(pairs),
		EncoderIndex: pairs[0].EncoderIndex,
		DecoderIndex: pairs[0].DecoderIndex,
	}
	for i, p := range pairs {
		if len(p.Source) == 0 || len(p.Target) == 0 {
			return nil, fmt.Errorf("stream: pair %d has an empty side", i)
		}
		if p.EncoderIndex != b.EncoderIndex || p.DecoderIndex != b.DecoderIndex {
			return nil, fmt.Errorf("stream: pair %d is (%d, %d), batch is (%d, %d)",
				i, p.EncoderIndex, p.DecoderIndex, b.EncoderIndex, b.DecoderIndex)
		}
		b.SourceSteps = max(b.SourceSteps, len(p.Source))
		b.TargetSteps = max(b.TargetSteps, len(p.Target))
	}

	b.Source, b.SourceMask = pad(pairs, b.SourceSteps, func(p Pair) []int32 { return p.Source })
	b.Target, b.TargetMask = pad(pairs, b.TargetSteps, func(p Pair) []int32 { return p.Target })
	return b, nil
}

func pad(pairs []Pair, steps int, side func(Pair) []int32) ([]int32, []float32) {
	size := len(pairs)
	ids := make([]int32, steps*size)
	mask := make([]float32, steps*size)
	for b, p := range pairs {
		for t, id := range side(p) {
			ids[t*size+b] = id
			mask[t*size+b] = 1
		}
	}
	return ids, mask
}

// TargetTokens returns the number of unmasked target positions.
func (b *Batch) TargetTokens() int {
	n := 0
	for _, m := range b.TargetMask {
		if m != 0 {
			n++
		}
	}
	return n
}

// SourceSentence returns the unpadded source ids of example i.
func (b *Batch) SourceSentence(i int) []int32 {
	return unpad(b.Source, b.SourceMask, b.SourceSteps, b.Size, i)
}

// TargetSentence returns the unpadded target ids of example i.
func (b *Batch) TargetSentence(i int) []int32 {
	return unpad(b.Target, b.TargetMask, b.TargetSteps, b.Size, i)
}

func unpad(ids []int32, mask []float32, steps, size, i int) []int32 {
	var out []int32
	for t := 0; t < steps; t++ {
		if mask[t*size+i] != 0 {
			out = append(out, ids[t*size+i])
		}
	}
	return out
}

// Pairs returns the unpadded examples of the batch.
func (b *Batch) Pairs() []Pair {
	pairs := make([]Pair, b.Size)
	for i := range pairs {
		pairs[i] = Pair{
			Source:       b.SourceSentence(i),
			Target:       b.TargetSentence(i),
			EncoderIndex: b.EncoderIndex,
			DecoderIndex: b.DecoderIndex,
		}
	}
	return pairs
}

// Subset returns a new batch holding examples [0, n) of b, re-padded to
// their own longest sentences.
func (b *Batch) Subset(n int) (*Batch, error) {
	if n <= 0 {
		return nil, ErrEmptyBatch
	}
	return NewBatch(b.Pairs()[:min(n, b.Size)])
}
