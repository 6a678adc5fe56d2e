package stream

import (
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/born-ml/rnnsearch/internal/config"
)

// Options controls how pairs become batches.
type Options struct {
	// SeqLen drops pairs with either side longer than this, end of
	// sequence included.
	SeqLen int
	// SrcVocab and TrgVocab bound the ids; larger ids become UnkID.
	SrcVocab int
	TrgVocab int
	// EncoderVocabs, when set, replaces SrcVocab with the vocabulary of
	// the encoder each pair is routed to.
	EncoderVocabs []int
	UnkID         int32
	EOSID         int32
	// BatchSize is the number of pairs per batch.
	BatchSize int
	// SortKBatches is how many batches are read ahead and sorted by
	// target length. 1 disables sorting.
	SortKBatches int
}

// OptionsFromConfig derives stream options from a model configuration.
func OptionsFromConfig(c config.Config) Options {
	var vocabs []int
	for _, e := range c.Encoders {
		vocabs = append(vocabs, e.VocabSize)
	}
	return Options{
		SeqLen:        c.SeqLen,
		SrcVocab:      c.SrcVocabSize,
		EncoderVocabs: vocabs,
		TrgVocab:      c.TrgVocabSize,
		UnkID:         c.UnkID,
		EOSID:         c.EOSID,
		BatchSize:     c.BatchSize,
		SortKBatches:  max(c.SortKBatches, 1),
	}
}

// Prepare maps out-of-vocabulary ids to unk and appends the end-of-sequence
// id to both sides. It reports false when either side is empty or longer
// than SeqLen afterwards, or when it names an encoder outside
// EncoderVocabs.
func Prepare(p Pair, opts Options) (Pair, bool) {
	srcVocab := opts.SrcVocab
	if len(opts.EncoderVocabs) > 0 {
		if p.EncoderIndex < 0 || p.EncoderIndex >= len(opts.EncoderVocabs) {
			return p, false
		}
		srcVocab = opts.EncoderVocabs[p.EncoderIndex]
	}
	out := Pair{
		Source:       withEOS(p.Source, srcVocab, opts.UnkID, opts.EOSID),
		Target:       withEOS(p.Target, opts.TrgVocab, opts.UnkID, opts.EOSID),
		EncoderIndex: p.EncoderIndex,
		DecoderIndex: p.DecoderIndex,
	}
	if len(p.Source) == 0 || len(p.Target) == 0 {
		return out, false
	}
	if opts.SeqLen > 0 && (len(out.Source) > opts.SeqLen || len(out.Target) > opts.SeqLen) {
		return out, false
	}
	return out, true
}

func withEOS(ids []int32, vocab int, unk, eos int32) []int32 {
	out := make([]int32, len(ids), len(ids)+1)
	for i, id := range ids {
		if id < 0 || (vocab > 0 && int(id) >= vocab) {
			id = unk
		}
		out[i] = id
	}
	return append(out, eos)
}

// Source yields raw pairs. Next returns io.EOF when exhausted.
type Source interface {
	Next() (Pair, error)
}

// SliceSource serves pairs from memory.
type SliceSource struct {
	pairs []Pair
	pos   int
}

// NewSliceSource returns a source over pairs.
func NewSliceSource(pairs []Pair) *SliceSource {
	return &SliceSource{pairs: pairs}
}

// Next implements Source.
func (s *SliceSource) Next() (Pair, error) {
	if s.pos >= len(s.pairs) {
		return Pair{}, io.EOF
	}
	p := s.pairs[s.pos]
	s.pos++
	return p, nil
}

// Reset rewinds to the first pair.
func (s *SliceSource) Reset() {
	s.pos = 0
}

// Len returns the number of pairs.
func (s *SliceSource) Len() int {
	return len(s.pairs)
}

// Stream groups prepared pairs into batches.
type Stream struct {
	src     Source
	opts    Options
	pending []*Batch
	done    bool
	// Filtered counts pairs dropped by Prepare.
	Filtered int
}

// New returns a stream over src.
func New(src Source, opts Options) (*Stream, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("stream: invalid batch size %d", opts.BatchSize)
	}
	if opts.SortKBatches <= 0 {
		opts.SortKBatches = 1
	}
	return &Stream{src: src, opts: opts}, nil
}

// Next returns the next batch, or io.EOF once the source is drained.
func (s *Stream) Next() (*Batch, error) {
	if len(s.pending) == 0 {
		if err := s.fill(); err != nil {
			return nil, err
		}
	}
	if len(s.pending) == 0 {
		return nil, io.EOF
	}
	b := s.pending[0]
	s.pending = s.pending[1:]
	return b, nil
}

// fill reads up to SortKBatches batches worth of pairs, sorts them by
// target length within each (encoder, decoder) group and splits them into
// batches.
func (s *Stream) fill() error {
	if s.done {
		return nil
	}
	want := s.opts.BatchSize * s.opts.SortKBatches
	var pairs []Pair
	for len(pairs) < want {
		p, err := s.src.Next()
		if errors.Is(err, io.EOF) {
			s.done = true
			break
		}
		if err != nil {
			return fmt.Errorf("stream: read pair: %w", err)
		}
		prepared, ok := Prepare(p, s.opts)
		if !ok {
			s.Filtered++
			continue
		}
		pairs = append(pairs, prepared)
	}
	if len(pairs) == 0 {
		return nil
	}

	slices.SortStableFunc(pairs, func(a, b Pair) int {
		return cmp.Or(
			cmp.Compare(a.EncoderIndex, b.EncoderIndex),
			cmp.Compare(a.DecoderIndex, b.DecoderIndex),
			cmp.Compare(len(a.Target), len(b.Target)),
		)
	})
	for start := 0; start < len(pairs); {
		end := start
		for end < len(pairs) && end-start < s.opts.BatchSize &&
			pairs[end].EncoderIndex == pairs[start].EncoderIndex &&
			pairs[end].DecoderIndex == pairs[start].DecoderIndex {
			end++
		}
		b, err := NewBatch(pairs[start:end])
		if err != nil {
			return err
		}
		s.pending = append(s.pending, b)
		start = end
	}
	return nil
}
