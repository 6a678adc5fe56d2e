package train_test

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/rnnsearch/internal/autodiff"
	"github.com/born-ml/rnnsearch/internal/backend/cpu"
	"github.com/born-ml/rnnsearch/internal/checkpoint"
	"github.com/born-ml/rnnsearch/internal/config"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/seq2seq"
	"github.com/born-ml/rnnsearch/internal/stream"
	"github.com/born-ml/rnnsearch/internal/train"
)

type Backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

var corpus = []stream.Pair{
	{Source: []int32{2, 3}, Target: []int32{4, 2}},
	{Source: []int32{3, 4, 2}, Target: []int32{2, 3, 3}},
	{Source: []int32{4}, Target: []int32{3}},
	{Source: []int32{2, 2}, Target: []int32{4, 4}},
}

func smallConfig(t *testing.T) config.Config {
	t.Helper()
	c := config.Default()
	c.SrcVocabSize, c.TrgVocabSize = 5, 5
	c.EncEmbed, c.EncNHids = 4, 4
	c.DecEmbed, c.DecNHids = 4, 4
	c.WeightScale = 0.3
	c.UnkID, c.EOSID = 1, 0
	c.BatchSize = 2
	c.SortKBatches = 1
	c.StepRule = config.StepRuleAdam
	c.LearningRate = 0.01
	c.SaveTo = filepath.Join(t.TempDir(), "model")
	c.Reload = false
	c.SaveFreq = 0
	c.SamplingFreq = 0
	c.PrintFreq = 1
	c.FinishAfter = 6
	return c
}

func newTrainer(t *testing.T, c config.Config) (*train.Trainer[Backend], seq2seq.Translator[Backend]) {
	t.Helper()
	b := autodiff.New(cpu.New())
	model, err := seq2seq.NewTranslator(c, b)
	require.NoError(t, err)
	require.NoError(t, seq2seq.Initialize(model, c))
	tr, err := train.New(c, b, model)
	require.NoError(t, err)
	return tr, model
}

func epochs(c config.Config) train.Epochs {
	return func() (train.Batches, error) {
		return stream.New(stream.NewSliceSource(corpus), stream.OptionsFromConfig(c))
	}
}

func TestStepLowersCostOnFixedBatch(t *testing.T) {
	c := smallConfig(t)
	tr, model := newTrainer(t, c)
	batch, err := stream.NewBatch(corpus[:2])
	require.NoError(t, err)

	before, err := model.Cost(batch)
	require.NoError(t, err)
	var last train.Result
	for range 30 {
		last, err = tr.Step(batch)
		require.NoError(t, err)
	}
	after, err := model.Cost(batch)
	require.NoError(t, err)

	assert.Less(t, after.Item(), before.Item())
	assert.Equal(t, int64(30), last.Iteration)
	assert.Equal(t, batch.TargetTokens(), last.TargetTokens)
	assert.Greater(t, last.Update.GradientNorm, 0.0)
}

func TestRunStopsAfterFinishAndDumps(t *testing.T) {
	c := smallConfig(t)
	c.SamplingFreq = 2
	c.HookSamples = 1
	tr, _ := newTrainer(t, c)

	require.NoError(t, tr.Run(context.Background(), epochs(c)))

	state := tr.State()
	assert.Equal(t, int64(6), state.IterationsDone)
	assert.Equal(t, int64(2), state.EpochsDone, "four pairs in batches of two give two batches per epoch")
	for _, name := range []string{checkpoint.ParamsFile, checkpoint.IterationStateFile, checkpoint.LogFile} {
		assert.FileExists(t, filepath.Join(c.SaveTo, name))
	}

	events := map[string]int{}
	for _, e := range tr.Log().Entries() {
		events[e.Event]++
	}
	assert.Equal(t, 6, events["batch"])
	assert.Equal(t, 3, events["sample"])
	assert.Equal(t, 1, events["dump"])
	assert.Equal(t, 2, events["epoch"])
}

func TestReloadResumes(t *testing.T) {
	c := smallConfig(t)
	c.FinishAfter = 3
	tr, model := newTrainer(t, c)
	require.NoError(t, tr.Run(context.Background(), epochs(c)))
	saved, err := nn.StateDict(model.Parameters())
	require.NoError(t, err)

	c.Reload = true
	c.FinishAfter = 5
	resumed, restored := newTrainer(t, c)
	assert.Equal(t, int64(3), resumed.State().IterationsDone)
	got, err := nn.StateDict(restored.Parameters())
	require.NoError(t, err)
	for name, raw := range saved {
		assert.Equal(t, raw.AsFloat32(), got[name].AsFloat32(), name)
	}

	require.NoError(t, resumed.Run(context.Background(), epochs(c)))
	assert.Equal(t, int64(5), resumed.State().IterationsDone)
}

func TestReloadWithoutCheckpointStartsFresh(t *testing.T) {
	c := smallConfig(t)
	c.Reload = true
	tr, _ := newTrainer(t, c)
	assert.Zero(t, tr.State().IterationsDone)
}

func TestCancelledRunStillDumps(t *testing.T) {
	c := smallConfig(t)
	tr, _ := newTrainer(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Run(ctx, epochs(c))
	require.ErrorIs(t, err, context.Canceled)
	assert.FileExists(t, filepath.Join(c.SaveTo, checkpoint.ParamsFile))
	assert.Zero(t, tr.State().IterationsDone)
}

func TestCancelledRunReportsFailedDump(t *testing.T) {
	c := smallConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))
	c.SaveTo = filepath.Join(blocker, "model")
	tr, _ := newTrainer(t, c)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tr.Run(ctx, epochs(c))
	require.Error(t, err)
	assert.NotErrorIs(t, err, context.Canceled, "a lost dump must not look like a clean stop")
	assert.NoFileExists(t, filepath.Join(c.SaveTo, checkpoint.ParamsFile))
}

func TestEmptyEpochIsAnError(t *testing.T) {
	c := smallConfig(t)
	tr, _ := newTrainer(t, c)
	err := tr.Run(context.Background(), func() (train.Batches, error) {
		return stream.New(stream.NewSliceSource(nil), stream.OptionsFromConfig(c))
	})
	require.Error(t, err)
}

func TestRegularizedMultiModelTrains(t *testing.T) {
	c := smallConfig(t)
	c.Encoders = []config.EncoderConfig{
		{VocabSize: 5, Embed: 4, NHids: 4},
		{VocabSize: 6, Embed: 3, NHids: 2},
	}
	c.NumDecs = 1
	c.RepresentationDim = 6
	c.SrcRepDim = 2
	c.TrgRepDim = 3
	c.Dropout = 0.3
	c.WeightNoiseFF = 0.05
	c.StepRule = config.StepRuleAdaDelta
	tr, _ := newTrainer(t, c)

	mixed := append([]stream.Pair(nil), corpus...)
	for _, p := range corpus {
		p.EncoderIndex = 1
		mixed = append(mixed, p)
	}
	require.NoError(t, tr.Run(context.Background(), func() (train.Batches, error) {
		return stream.New(stream.NewSliceSource(mixed), stream.OptionsFromConfig(c))
	}))
	assert.Equal(t, int64(6), tr.State().IterationsDone)
	assert.False(t, math.IsNaN(tr.State().LastCost))
}
