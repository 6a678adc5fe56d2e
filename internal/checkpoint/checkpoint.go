// Package checkpoint dumps and restores the training state of a model.
//
// A dump directory holds three independent sections:
//
//	params.born           model parameters plus step-rule state (.born v2)
//	iteration_state.json  counters of the main loop
//	log.jsonl             one JSON record per logged event
//
// Loading is best-effort per section: a section that is missing or corrupt
// is logged and skipped, leaving its part of the training state at the
// freshly initialized default.
package checkpoint

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/born-ml/rnnsearch/internal/logger"
	"github.com/born-ml/rnnsearch/internal/metrics"
	"github.com/born-ml/rnnsearch/internal/nn"
	"github.com/born-ml/rnnsearch/internal/serialization"
	"github.com/born-ml/rnnsearch/internal/tensor"
)

// File names inside a dump directory.
const (
	ParamsFile         = "params.born"
	IterationStateFile = "iteration_state.json"
	LogFile            = "log.jsonl"
)

const optimizerPrefix = "optimizer."

// ErrNoCheckpoint is returned by Load when the directory holds none of the
// dump sections.
var ErrNoCheckpoint = errors.New("checkpoint: no checkpoint found")

// OptimizerState is implemented by step rules that carry state between
// updates (AdaDelta accumulators, Adam moments).
type OptimizerState interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(state map[string]*tensor.RawTensor) error
}

// Restored reports which sections Load recovered.
type Restored struct {
	State     IterationState
	Log       *Log
	Params    bool
	Optimizer bool
	Iteration bool
	History   bool
}

// Manager saves and loads the dump directory of one model.
type Manager[B tensor.Backend] struct {
	dir       string
	modelType string
	params    []*nn.Parameter[B]
	optimizer OptimizerState
}

// New returns a manager for dir. optimizer may be nil.
func New[B tensor.Backend](dir, modelType string, params []*nn.Parameter[B], optimizer OptimizerState) *Manager[B] {
	return &Manager[B]{dir: dir, modelType: modelType, params: params, optimizer: optimizer}
}

// Dir returns the dump directory.
func (m *Manager[B]) Dir() string {
	return m.dir
}

// Save writes all three sections. Every file is replaced atomically, so an
// interrupted save leaves the previous dump of that section intact.
func (m *Manager[B]) Save(state IterationState, log *Log) (err error) {
	defer func() { metrics.RecordCheckpoint(err) }()

	if err = os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}

	combined, err := nn.StateDict(m.params)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	if m.optimizer != nil {
		for name, raw := range m.optimizer.StateDict() {
			combined[optimizerPrefix+name] = raw
		}
	}
	header := serialization.Header{
		Producer:  "rnnsearch",
		ModelType: m.modelType,
		Metadata: map[string]string{
			"iterations_done": strconv.FormatInt(state.IterationsDone, 10),
		},
	}
	if err = serialization.WriteFile(filepath.Join(m.dir, ParamsFile), combined, header); err != nil {
		return fmt.Errorf("checkpoint: params: %w", err)
	}

	state.SavedAt = time.Now().UTC()
	if err = writeState(filepath.Join(m.dir, IterationStateFile), state); err != nil {
		return fmt.Errorf("checkpoint: iteration state: %w", err)
	}
	if log != nil {
		if err = log.WriteFile(filepath.Join(m.dir, LogFile)); err != nil {
			return fmt.Errorf("checkpoint: log: %w", err)
		}
	}

	logger.Log.Info("saved checkpoint", "dir", m.dir, "iterations_done", state.IterationsDone)
	return nil
}

// Load restores whatever sections are present. It returns ErrNoCheckpoint
// only when none of them exists; a section that fails to load is logged at
// warn level and reported as not restored.
func (m *Manager[B]) Load() (Restored, error) {
	r := Restored{Log: NewLog()}

	found := false
	for _, name := range []string{ParamsFile, IterationStateFile, LogFile} {
		if _, err := os.Stat(filepath.Join(m.dir, name)); err == nil {
			found = true
		}
	}
	if !found {
		return r, fmt.Errorf("%w in %s", ErrNoCheckpoint, m.dir)
	}

	if err := m.loadParams(&r); err != nil {
		logger.Log.Warn("failed to load parameters", "dir", m.dir, "error", err)
	}
	if state, err := readState(filepath.Join(m.dir, IterationStateFile)); err != nil {
		logger.Log.Warn("failed to load iteration state", "dir", m.dir, "error", err)
	} else {
		r.State, r.Iteration = state, true
	}
	if log, err := ReadLog(filepath.Join(m.dir, LogFile)); err != nil {
		logger.Log.Warn("failed to load log", "dir", m.dir, "error", err)
	} else {
		r.Log, r.History = log, true
	}

	logger.Log.Info("loaded checkpoint",
		"dir", m.dir,
		"params", r.Params,
		"optimizer", r.Optimizer,
		"iteration_state", r.Iteration,
		"log", r.History)
	return r, nil
}

func (m *Manager[B]) loadParams(r *Restored) error {
	_, state, err := serialization.ReadFile(filepath.Join(m.dir, ParamsFile))
	if err != nil {
		return err
	}

	model := make(map[string]*tensor.RawTensor, len(state))
	optimizer := make(map[string]*tensor.RawTensor)
	for name, raw := range state {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			optimizer[rest] = raw
		} else {
			model[name] = raw
		}
	}

	if err := nn.LoadStateDict(m.params, model); err != nil {
		return err
	}
	r.Params = true

	if m.optimizer != nil && len(optimizer) > 0 {
		if err := m.optimizer.LoadStateDict(optimizer); err != nil {
			return fmt.Errorf("optimizer state: %w", err)
		}
		r.Optimizer = true
	}
	return nil
}
