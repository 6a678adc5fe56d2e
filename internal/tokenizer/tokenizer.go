// Package tokenizer maps text to the token ids of a translation model.
//
// Text is split into byte-pair pieces by tiktoken (pkoukk/tiktoken-go).
// Those pieces live in a large id space (about 100k ids for cl100k_base),
// so a Vocabulary keeps the most frequent pieces of a training text and
// renumbers them densely after the reserved end-of-sentence and unknown
// ids. Everything else maps to the unknown id.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Encoder splits text into byte-pair pieces. *tiktoken.Tiktoken
// implements it.
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
	Decode(tokens []int) string
}

var _ Encoder = (*tiktoken.Tiktoken)(nil)

// NewTikToken loads a tiktoken encoding by name, e.g. "cl100k_base".
func NewTikToken(encodingName string) (Encoder, error) {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("failed to load tiktoken encoding %q: %w", encodingName, err)
	}
	return encoding, nil
}
