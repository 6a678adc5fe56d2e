package rnnsearch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/stream"
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

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
}

func smallConfig(t *testing.T) Config {
	t.Helper()
	dir := t.TempDir()
	c := DefaultConfig()
	c.SrcVocabSize, c.TrgVocabSize = 6, 6
	c.EncEmbed, c.EncNHids = 4, 4
	c.DecEmbed, c.DecNHids = 4, 4
	c.WeightScale = 0.3
	c.UnkID, c.EOSID = 1, 0
	c.BatchSize = 2
	c.SortKBatches = 1
	c.StepRule = "Adam"
	c.SaveTo = filepath.Join(dir, "model")
	c.Reload = false
	c.SaveFreq = 0
	c.SamplingFreq = 0
	c.FinishAfter = 4
	c.Encoding = "bytes"

	c.SrcData = filepath.Join(dir, "train.src")
	c.TrgData = filepath.Join(dir, "train.trg")
	writeLines(t, c.SrcData, "ab", "ba b", "aab", "b")
	writeLines(t, c.TrgData, "xy", "yx y", "xxy", "y")
	return c
}

func TestPrepareTrainTranslate(t *testing.T) {
	c := smallConfig(t)

	n, err := prepareWith(c, byteEncoder{})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	pairs, err := stream.LoadCorpus(filepath.Join(c.SaveTo, CorpusFile))
	require.NoError(t, err)
	require.Len(t, pairs, 4)
	assert.Len(t, pairs[0].Source, 2)

	require.NoError(t, Train(context.Background(), c, TrainOptions{}))

	tr, err := openWith(c, byteEncoder{})
	require.NoError(t, err)

	res, err := tr.Translate("ab", TranslateOptions{Steps: 3})
	require.NoError(t, err)
	require.NotEmpty(t, res.Sequence.IDs)
	assert.LessOrEqual(t, len(res.Sequence.IDs), 3)
	assert.Len(t, res.Sequence.Costs, len(res.Sequence.IDs))
	for _, row := range res.Sequence.Weights {
		assert.Len(t, row, 3) // "ab" plus end of sentence
	}
	for _, r := range res.Text {
		assert.Contains(t, "xy <unk>", string(r))
	}

	seed := &SamplingConfig{Temperature: 1, TopP: 1, Seed: 7}
	a, err := tr.Translate("ab", TranslateOptions{Steps: 3, Sampling: seed})
	require.NoError(t, err)
	b, err := tr.Translate("ab", TranslateOptions{Steps: 3, Sampling: seed})
	require.NoError(t, err)
	assert.Equal(t, a.Sequence.IDs, b.Sequence.IDs)

	_, err = tr.Translate("", TranslateOptions{})
	assert.ErrorIs(t, err, ErrEmptySentence)
}

func TestPrepareRejectsMisalignedCorpus(t *testing.T) {
	c := smallConfig(t)
	writeLines(t, c.TrgData, "xy")
	_, err := prepareWith(c, byteEncoder{})
	assert.Error(t, err)
}

func TestOpenWithoutCheckpoint(t *testing.T) {
	c := smallConfig(t)
	_, err := prepareWith(c, byteEncoder{})
	require.NoError(t, err)
	_, err = openWith(c, byteEncoder{})
	assert.Error(t, err)
}

func TestDescribe(t *testing.T) {
	params, err := Describe(smallConfig(t))
	require.NoError(t, err)
	require.NotEmpty(t, params)
	seen := make(map[string]bool)
	for _, p := range params {
		assert.False(t, seen[p.Name], "duplicate %s", p.Name)
		seen[p.Name] = true
		assert.NotEmpty(t, p.Shape)
	}
}
