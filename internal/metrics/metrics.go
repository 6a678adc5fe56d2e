// Package metrics exposes training and decoding counters to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TrainCost = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rnnsearch_train_cost",
		Help: "Training cost of the most recent batch",
	})

	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rnnsearch_batches_total",
		Help: "The total number of training batches processed",
	})

	TargetTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rnnsearch_target_tokens_total",
		Help: "The total number of unmasked target tokens trained on",
	})

	NonFiniteStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rnnsearch_nonfinite_steps_total",
		Help: "Updates replaced because a gradient was NaN or Inf",
	})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rnnsearch_batch_duration_seconds",
		Help:    "Wall time of one training batch, forward, backward and update",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
	})

	GenerateStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rnnsearch_generate_steps_total",
		Help: "The total number of decoder steps run by generate",
	})

	CheckpointSavesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rnnsearch_checkpoint_saves_total",
		Help: "Checkpoint saves by outcome",
	}, []string{"result"})
)

// RecordBatch records one finished training batch.
func RecordBatch(cost float64, targetTokens int, duration time.Duration) {
	TrainCost.Set(cost)
	BatchesTotal.Inc()
	TargetTokensTotal.Add(float64(targetTokens))
	BatchDuration.Observe(duration.Seconds())
}

// RecordNonFiniteStep counts an update that was replaced because of
// non-finite gradients.
func RecordNonFiniteStep() {
	NonFiniteStepsTotal.Inc()
}

// RecordGenerate counts decoder steps run by generate.
func RecordGenerate(steps int) {
	GenerateStepsTotal.Add(float64(steps))
}

// RecordCheckpoint counts a checkpoint save attempt.
func RecordCheckpoint(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CheckpointSavesTotal.WithLabelValues(result).Inc()
}
