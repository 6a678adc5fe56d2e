package tokenizer

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
)

// UnknownText is how Decode renders the unknown id.
const UnknownText = "<unk>"

// ErrVocabulary reports an invalid vocabulary definition.
var ErrVocabulary = errors.New("tokenizer: invalid vocabulary")

// Vocabulary is a dense model vocabulary over byte-pair pieces.
type Vocabulary struct {
	encoder  Encoder
	encoding string
	size     int
	eos, unk int32
	pieces   []int // model id -> piece id, -1 for reserved ids
	ids      map[int]int32
}

// NewVocabulary returns an empty vocabulary of size ids where eos and unk
// are reserved. Call Fit or Load to fill it.
func NewVocabulary(encoder Encoder, encoding string, size int, eos, unk int32) (*Vocabulary, error) {
	switch {
	case size < 2:
		return nil, fmt.Errorf("%w: size %d (must be at least 2)", ErrVocabulary, size)
	case eos < 0 || int(eos) >= size || unk < 0 || int(unk) >= size:
		return nil, fmt.Errorf("%w: eos %d and unk %d must be in [0, %d)", ErrVocabulary, eos, unk, size)
	case eos == unk:
		return nil, fmt.Errorf("%w: eos and unk share id %d", ErrVocabulary, eos)
	}
	v := &Vocabulary{encoder: encoder, encoding: encoding, size: size, eos: eos, unk: unk}
	v.assign(nil)
	return v, nil
}

// Fit assigns the free model ids to the most frequent pieces of texts.
// Ties go to the smaller piece id, so the result is deterministic.
func (v *Vocabulary) Fit(texts []string) {
	counts := make(map[int]int)
	for _, text := range texts {
		for _, p := range v.encoder.Encode(text, nil, nil) {
			counts[p]++
		}
	}
	pieces := make([]int, 0, len(counts))
	for p := range counts {
		pieces = append(pieces, p)
	}
	slices.SortFunc(pieces, func(a, b int) int {
		return cmp.Or(cmp.Compare(counts[b], counts[a]), cmp.Compare(a, b))
	})
	v.assign(pieces)
}

// assign lays ranked pieces over the free ids in order.
func (v *Vocabulary) assign(ranked []int) {
	v.pieces = make([]int, v.size)
	v.ids = make(map[int]int32, v.size)
	next := 0
	for id := range v.pieces {
		v.pieces[id] = -1
		if int32(id) == v.eos || int32(id) == v.unk || next >= len(ranked) {
			continue
		}
		v.pieces[id] = ranked[next]
		v.ids[ranked[next]] = int32(id)
		next++
	}
}

// Encode maps text to model ids. No end-of-sentence id is appended.
func (v *Vocabulary) Encode(text string) []int32 {
	pieces := v.encoder.Encode(text, nil, nil)
	out := make([]int32, len(pieces))
	for i, p := range pieces {
		id, ok := v.ids[p]
		if !ok {
			id = v.unk
		}
		out[i] = id
	}
	return out
}

// Decode renders model ids as text, stopping at the first end-of-sentence
// id. Negative ids are skipped.
func (v *Vocabulary) Decode(ids []int32) string {
	var sb strings.Builder
	var run []int
	flush := func() {
		if len(run) > 0 {
			sb.WriteString(v.encoder.Decode(run))
			run = run[:0]
		}
	}
	for _, id := range ids {
		if id == v.eos {
			break
		}
		if id < 0 {
			continue
		}
		if int(id) >= v.size || v.pieces[id] < 0 {
			flush()
			sb.WriteString(UnknownText)
			continue
		}
		run = append(run, v.pieces[id])
	}
	flush()
	return sb.String()
}

// Size returns the number of model ids.
func (v *Vocabulary) Size() int { return v.size }

// EOS returns the end-of-sentence id.
func (v *Vocabulary) EOS() int32 { return v.eos }

// UNK returns the unknown id.
func (v *Vocabulary) UNK() int32 { return v.unk }

// Encoding returns the name of the tiktoken encoding.
func (v *Vocabulary) Encoding() string { return v.encoding }

type vocabularyFile struct {
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
	EOS      int32  `json:"eos_id"`
	UNK      int32  `json:"unk_id"`
	Pieces   []int  `json:"pieces"`
}

// Save writes the vocabulary to path as JSON.
func (v *Vocabulary) Save(path string) error {
	data, err := json.Marshal(vocabularyFile{
		Encoding: v.encoding,
		Size:     v.size,
		EOS:      v.eos,
		UNK:      v.unk,
		Pieces:   v.pieces,
	})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadVocabulary reads a vocabulary written by Save. The encoder must be
// the encoding the vocabulary was fitted with.
func LoadVocabulary(path string, encoder Encoder) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f vocabularyFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrVocabulary, path, err)
	}
	if len(f.Pieces) != f.Size {
		return nil, fmt.Errorf("%w: %s lists %d pieces for size %d", ErrVocabulary, path, len(f.Pieces), f.Size)
	}
	v, err := NewVocabulary(encoder, f.Encoding, f.Size, f.EOS, f.UNK)
	if err != nil {
		return nil, err
	}
	for id, p := range f.Pieces {
		if p < 0 {
			continue
		}
		if int32(id) == f.EOS || int32(id) == f.UNK {
			return nil, fmt.Errorf("%w: reserved id %d maps to piece %d", ErrVocabulary, id, p)
		}
		if _, dup := v.ids[p]; dup {
			return nil, fmt.Errorf("%w: piece %d listed twice", ErrVocabulary, p)
		}
		v.pieces[id] = p
		v.ids[p] = int32(id)
	}
	return v, nil
}
