package tokenizer_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/tokenizer"
)

// byteEncoder treats every byte as one piece.
type byteEncoder struct{}

func (byteEncoder) Encode(text string, _, _ []string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i])
	}
	return out
}

func (byteEncoder) Decode(tokens []int) string {
	b := make([]byte, len(tokens))
	for i, t := range tokens {
		b[i] = byte(t)
	}
	return string(b)
}

func fitted(t *testing.T, size int) *tokenizer.Vocabulary {
	t.Helper()
	v, err := tokenizer.NewVocabulary(byteEncoder{}, "bytes", size, 0, 1)
	require.NoError(t, err)
	v.Fit([]string{"aaab", "ab", "c"})
	return v
}

func TestFitRanksByFrequency(t *testing.T) {
	v := fitted(t, 5)
	// a:4 b:2 c:1 -> ids 2, 3, 4 after eos=0 and unk=1.
	assert.Equal(t, []int32{2, 3, 4, 2}, v.Encode("abca"))
	assert.Equal(t, "abca", v.Decode([]int32{2, 3, 4, 2}))
}

func TestUnknownPieces(t *testing.T) {
	v := fitted(t, 4)
	assert.Equal(t, []int32{2, 1, 3}, v.Encode("acb"), "c does not fit in four ids")
	assert.Equal(t, "a"+tokenizer.UnknownText+"b", v.Decode([]int32{2, 1, 3}))
	assert.Equal(t, tokenizer.UnknownText, v.Decode([]int32{99}))
}

func TestDecodeStopsAtEOSAndSkipsPadding(t *testing.T) {
	v := fitted(t, 5)
	assert.Equal(t, "ab", v.Decode([]int32{2, -1, 3, 0, 4}))
}

func TestNewVocabularyValidation(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		eos, unk int32
	}{
		{"too small", 1, 0, 0},
		{"eos out of range", 4, 4, 1},
		{"negative unk", 4, 0, -1},
		{"shared id", 4, 1, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tokenizer.NewVocabulary(byteEncoder{}, "bytes", tt.size, tt.eos, tt.unk)
			require.ErrorIs(t, err, tokenizer.ErrVocabulary)
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.trg.json")
	v := fitted(t, 6)
	require.NoError(t, v.Save(path))

	got, err := tokenizer.LoadVocabulary(path, byteEncoder{})
	require.NoError(t, err)
	assert.Equal(t, v.Size(), got.Size())
	assert.Equal(t, v.EOS(), got.EOS())
	assert.Equal(t, v.UNK(), got.UNK())
	assert.Equal(t, "bytes", got.Encoding())
	assert.Equal(t, v.Encode("cab"), got.Encode("cab"))

	require.NoError(t, os.WriteFile(path, []byte(`{"size":3,"eos_id":0,"unk_id":1,"pieces":[-1,-1]}`), 0o600))
	_, err = tokenizer.LoadVocabulary(path, byteEncoder{})
	require.ErrorIs(t, err, tokenizer.ErrVocabulary)

	require.NoError(t, os.WriteFile(path, []byte(`{"size":4,"eos_id":0,"unk_id":1,"pieces":[-1,-1,7,7]}`), 0o600))
	_, err = tokenizer.LoadVocabulary(path, byteEncoder{})
	require.ErrorIs(t, err, tokenizer.ErrVocabulary)
}

func TestTikTokenVocabulary(t *testing.T) {
	enc, err := tokenizer.NewTikToken("cl100k_base")
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	text := "the cat sat on the mat"
	v, err := tokenizer.NewVocabulary(enc, "cl100k_base", 32, 0, 1)
	require.NoError(t, err)
	v.Fit([]string{text, strings.ToUpper(text)})

	ids := v.Encode(text)
	assert.NotContains(t, ids, v.UNK())
	assert.Equal(t, text, v.Decode(ids))
}
