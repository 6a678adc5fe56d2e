package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordBatch(t *testing.T) {
	before := testutil.ToFloat64(BatchesTotal)
	tokensBefore := testutil.ToFloat64(TargetTokensTotal)

	RecordBatch(12.5, 40, 30*time.Millisecond)
	RecordBatch(11.0, 2, 10*time.Millisecond)

	assert.Equal(t, before+2, testutil.ToFloat64(BatchesTotal))
	assert.Equal(t, tokensBefore+42, testutil.ToFloat64(TargetTokensTotal))
	assert.Equal(t, 11.0, testutil.ToFloat64(TrainCost))
}

func TestRecordNonFiniteStep(t *testing.T) {
	before := testutil.ToFloat64(NonFiniteStepsTotal)
	RecordNonFiniteStep()
	assert.Equal(t, before+1, testutil.ToFloat64(NonFiniteStepsTotal))
}

func TestRecordGenerate(t *testing.T) {
	before := testutil.ToFloat64(GenerateStepsTotal)
	RecordGenerate(7)
	assert.Equal(t, before+7, testutil.ToFloat64(GenerateStepsTotal))
}

func TestRecordCheckpoint(t *testing.T) {
	ok := testutil.ToFloat64(CheckpointSavesTotal.WithLabelValues("ok"))
	failed := testutil.ToFloat64(CheckpointSavesTotal.WithLabelValues("error"))

	RecordCheckpoint(nil)
	RecordCheckpoint(errors.New("disk full"))

	assert.Equal(t, ok+1, testutil.ToFloat64(CheckpointSavesTotal.WithLabelValues("ok")))
	assert.Equal(t, failed+1, testutil.ToFloat64(CheckpointSavesTotal.WithLabelValues("error")))
}
