// Package train runs the main training loop: batches flow through the
// model cost, gradients through the step rule, and every few batches the
// loop prints, samples and dumps.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/born-ml/rnnsearch/internal/autodiff"
	"github.com/born-ml/rnnsearch/internal/checkpoint"
	"github.com/born-ml/rnnsearch/internal/config"
	"github.com/born-ml/rnnsearch/internal/generate"
	"github.com/born-ml/rnnsearch/internal/logger"
	"github.com/born-ml/rnnsearch/internal/metrics"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/optim"
	"github.com/born-ml/rnnsearch/internal/seq2seq"
	"github.com/born-ml/rnnsearch/internal/stream"
)

// Batches yields training batches; *stream.Stream implements it. Next
// returns io.EOF at the end of an epoch.
type Batches interface {
	Next() (*stream.Batch, error)
}

// Epochs opens the batches of a new epoch.
type Epochs func() (Batches, error)

// Result describes one training step.
type Result struct {
	Iteration    int64
	Cost         float64
	TargetTokens int
	Duration     time.Duration
	Update       optim.Stats
}

// Trainer owns the model, its step rule and its dump directory.
type Trainer[B autodiff.BackwardCapable] struct {
	cfg     config.Config
	backend B
	model   seq2seq.Translator[B]
	algo    *optim.GradientDescent[B]
	noise   *nn.WeightNoise
	dumps   *checkpoint.Manager[B]
	log     *checkpoint.Log
	state   checkpoint.IterationState
	emitter seq2seq.Emitter
}

// New prepares training of model. When cfg.Reload is set, whatever is
// found in cfg.SaveTo is restored first.
func New[B autodiff.BackwardCapable](cfg config.Config, backend B, model seq2seq.Translator[B]) (*Trainer[B], error) {
	rule, err := optim.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	algo := optim.NewGradientDescent(model.Parameters(), rule)
	t := &Trainer[B]{
		cfg:     cfg,
		backend: backend,
		model:   model,
		algo:    algo,
		noise:   nn.NewWeightNoise(cfg.WeightNoiseFF, cfg.Seed+1),
		dumps:   checkpoint.New(cfg.SaveTo, modelType(cfg), model.Parameters(), algo),
		log:     checkpoint.NewLog(),
		emitter: seq2seq.Greedy{},
	}

	if cfg.Reload {
		r, err := t.dumps.Load()
		switch {
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			logger.Log.Info("no checkpoint to reload, starting fresh", "dir", cfg.SaveTo)
		case err != nil:
			return nil, err
		default:
			t.state, t.log = r.State, r.Log
		}
	}
	return t, nil
}

// SetEmitter replaces the greedy policy of the sampling hook.
func (t *Trainer[B]) SetEmitter(e seq2seq.Emitter) {
	t.emitter = e
}

// State returns the main-loop counters.
func (t *Trainer[B]) State() checkpoint.IterationState {
	return t.state
}

// Log returns the training log.
func (t *Trainer[B]) Log() *checkpoint.Log {
	return t.log
}

// Step trains on one batch: weight noise on, dropout on, cost, gradients,
// update.
func (t *Trainer[B]) Step(batch *stream.Batch) (Result, error) {
	start := time.Now()
	ff := t.model.FeedForwardParameters()
	nn.ApplyNoise(t.noise, ff)
	defer nn.ClearNoise(ff)
	t.model.SetTraining(true)
	defer t.model.SetTraining(false)

	tape := t.backend.GetTape()
	tape.Clear()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	cost, err := t.model.Cost(batch)
	if err != nil {
		return Result{}, fmt.Errorf("train: iteration %d: %w", t.state.IterationsDone+1, err)
	}
	grads := autodiff.Backward(cost, t.backend)
	stats := t.algo.Step(grads)

	t.state.IterationsDone++
	res := Result{
		Iteration:    t.state.IterationsDone,
		Cost:         float64(cost.Item()),
		TargetTokens: batch.TargetTokens(),
		Duration:     time.Since(start),
		Update:       stats,
	}
	t.state.LastCost = res.Cost
	metrics.RecordBatch(res.Cost, res.TargetTokens, res.Duration)
	if math.IsNaN(res.Cost) || math.IsInf(res.Cost, 0) {
		logger.Log.Warn("non-finite cost", "iteration", res.Iteration)
	}
	return res, nil
}

// Run trains until cfg.FinishAfter iterations are done or ctx is
// cancelled, then dumps. A cancelled run returns ctx.Err() only when the
// dump succeeded; a failed dump is returned on its own. Errors from a
// batch stop the loop without a final dump.
func (t *Trainer[B]) Run(ctx context.Context, epochs Epochs) error {
	logger.Log.Info("training started",
		"iterations_done", t.state.IterationsDone,
		"finish_after", t.cfg.FinishAfter,
		"step_rule", t.cfg.StepRule)

	for !t.finished() {
		batches, err := epochs()
		if err != nil {
			return fmt.Errorf("train: open epoch: %w", err)
		}
		received := false
		for !t.finished() {
			if err := ctx.Err(); err != nil {
				logger.Log.Warn("training interrupted", "iterations_done", t.state.IterationsDone)
				if saveErr := t.Save(); saveErr != nil {
					logger.Log.Error("dump after interruption failed", "dir", t.cfg.SaveTo, "error", saveErr)
					return fmt.Errorf("train: interrupted at iteration %d: %w", t.state.IterationsDone, saveErr)
				}
				return err
			}
			batch, err := batches.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("train: next batch: %w", err)
			}
			received = true
			if err := t.afterBatch(t.Step(batch)); err != nil {
				return err
			}
			if t.every(t.cfg.SamplingFreq) {
				if err := t.sample(batch); err != nil {
					logger.Log.Warn("sampling failed", "iteration", t.state.IterationsDone, "error", err)
				}
			}
		}
		if !received {
			return fmt.Errorf("train: epoch %d produced no batches", t.state.EpochsDone+1)
		}
		if s, ok := batches.(*stream.Stream); ok {
			t.state.Filtered += int64(s.Filtered)
		}
		if !t.finished() {
			t.state.EpochsDone++
			t.log.Append(t.state.IterationsDone, "epoch", map[string]any{"epochs_done": t.state.EpochsDone})
		}
	}

	logger.Log.Info("training finished", "iterations_done", t.state.IterationsDone)
	return t.Save()
}

func (t *Trainer[B]) afterBatch(res Result, err error) error {
	if err != nil {
		return err
	}
	if t.every(t.cfg.PrintFreq) {
		logger.Log.Info("batch",
			"iteration", res.Iteration,
			"cost", res.Cost,
			"target_tokens", res.TargetTokens,
			"gradient_norm", res.Update.GradientNorm,
			"step_norm", res.Update.StepNorm,
			"duration", res.Duration)
		t.log.Append(res.Iteration, "batch", map[string]any{
			"cost":          res.Cost,
			"target_tokens": res.TargetTokens,
			"gradient_norm": res.Update.GradientNorm,
		})
	}
	if t.every(t.cfg.SaveFreq) {
		if err := t.Save(); err != nil {
			logger.Log.Error("checkpoint failed", "iteration", res.Iteration, "error", err)
		}
	}
	return nil
}

// Save dumps parameters, step-rule state, counters and log.
func (t *Trainer[B]) Save() error {
	t.log.Append(t.state.IterationsDone, "dump", nil)
	return t.dumps.Save(t.state, t.log)
}

// sample decodes the first hook_samples sources of batch one at a time,
// for twice as many steps as the source has tokens.
func (t *Trainer[B]) sample(batch *stream.Batch) error {
	pairs := batch.Pairs()
	for i := 0; i < min(t.cfg.HookSamples, len(pairs)); i++ {
		single, err := stream.NewBatch(pairs[i : i+1])
		if err != nil {
			return err
		}
		steps := 2 * len(pairs[i].Source)
		gen, err := t.model.Generate(single, steps, t.emitter)
		if err != nil {
			return err
		}
		metrics.RecordGenerate(steps)
		out := generate.Sequences(gen, t.cfg.EOSID)[0]

		logger.Log.Info("sample",
			"iteration", t.state.IterationsDone,
			"source", pairs[i].Source,
			"target", pairs[i].Target,
			"sample", out.IDs,
			"cost", out.Cost())
		t.log.Append(t.state.IterationsDone, "sample", map[string]any{
			"source": pairs[i].Source,
			"target": pairs[i].Target,
			"sample": out.IDs,
		})
	}
	return nil
}

func (t *Trainer[B]) finished() bool {
	return t.cfg.FinishAfter > 0 && t.state.IterationsDone >= int64(t.cfg.FinishAfter)
}

func (t *Trainer[B]) every(freq int) bool {
	return freq > 0 && t.state.IterationsDone%int64(freq) == 0
}

func modelType(c config.Config) string {
	if c.IsMulti() {
		return "RNNsearch-multi"
	}
	return "RNNsearch"
}
