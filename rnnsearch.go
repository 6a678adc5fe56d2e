// Package rnnsearch is the public API of the attention-based translation
// models: preparing a corpus, training, and translating with a trained
// model directory.
//
// Example:
//
//	c, err := rnnsearch.LoadConfig("prototype.yaml", rnnsearch.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if _, err := rnnsearch.Prepare(c); err != nil {
//	    return err
//	}
//	if err := rnnsearch.Train(ctx, c, rnnsearch.TrainOptions{}); err != nil {
//	    return err
//	}
//	tr, err := rnnsearch.Open(c)
//	if err != nil {
//	    return err
//	}
//	res, err := tr.Translate("a source sentence", rnnsearch.TranslateOptions{})
package rnnsearch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/born-ml/rnnsearch/internal/autodiff"
	"github.com/born-ml/rnnsearch/internal/backend/cpu"
	"github.com/born-ml/rnnsearch/internal/checkpoint"
	"github.com/born-ml/rnnsearch/internal/config"
	"github.com/born-ml/rnnsearch/internal/generate"
	"github.com/born-ml/rnnsearch/internal/logger"
	"github.com/born-ml/rnnsearch/internal/seq2seq"
	"github.com/born-ml/rnnsearch/internal/stream"
	"github.com/born-ml/rnnsearch/internal/tokenizer"
	"github.com/born-ml/rnnsearch/internal/train"
)

// Files kept in the saveto directory next to the checkpoint.
const (
	CorpusFile   = "corpus.arrow"
	SrcVocabFile = "vocab.src.json"
	TrgVocabFile = "vocab.trg.json"
)

// Config is the experiment configuration.
type Config = config.Config

// EncoderConfig sizes one encoder of the multi-encoder model.
type EncoderConfig = config.EncoderConfig

// SamplingConfig configures stochastic decoding.
type SamplingConfig = generate.SamplingConfig

// Sequence is one generated target sentence with its per-step costs and
// attention weights.
type Sequence = generate.Sequence

// ErrEmptySentence is returned when a sentence has no tokens or is longer
// than seq_len after encoding.
var ErrEmptySentence = errors.New("sentence is empty or too long")

// DefaultConfig returns the single-encoder prototype.
func DefaultConfig() Config { return config.Default() }

// DefaultMultiConfig returns the multi-encoder prototype.
func DefaultMultiConfig() Config { return config.DefaultMulti() }

// LoadConfig reads a YAML file on top of base and validates the result.
func LoadConfig(path string, base Config) (Config, error) {
	return config.Load(path, base)
}

type backend = *autodiff.AutodiffBackend[*cpu.CPUBackend]

func newModel(c Config) (backend, seq2seq.Translator[backend], error) {
	b := autodiff.New(cpu.New())
	model, err := seq2seq.NewTranslator(c, b)
	if err != nil {
		return nil, nil, err
	}
	if err := seq2seq.Initialize(model, c); err != nil {
		return nil, nil, err
	}
	return b, model, nil
}

// Prepare fits the source and target vocabularies on the src_data and
// trg_data files and writes them with the encoded corpus to saveto. It
// returns the number of sentence pairs written.
func Prepare(c Config) (int, error) {
	enc, err := tokenizer.NewTikToken(c.Encoding)
	if err != nil {
		return 0, err
	}
	return prepareWith(c, enc)
}

func prepareWith(c Config, enc tokenizer.Encoder) (int, error) {
	if c.IsMulti() {
		return 0, errors.New("prepare builds single-encoder corpora; write multi-encoder corpora with stream.SaveCorpus")
	}
	src, err := readLines(c.SrcData)
	if err != nil {
		return 0, err
	}
	trg, err := readLines(c.TrgData)
	if err != nil {
		return 0, err
	}
	if len(src) != len(trg) {
		return 0, fmt.Errorf("src_data has %d lines, trg_data has %d", len(src), len(trg))
	}

	srcVocab, err := tokenizer.NewVocabulary(enc, c.Encoding, c.SrcVocabSize, c.EOSID, c.UnkID)
	if err != nil {
		return 0, err
	}
	trgVocab, err := tokenizer.NewVocabulary(enc, c.Encoding, c.TrgVocabSize, c.EOSID, c.UnkID)
	if err != nil {
		return 0, err
	}
	srcVocab.Fit(src)
	trgVocab.Fit(trg)

	pairs := make([]stream.Pair, len(src))
	for i := range src {
		pairs[i] = stream.Pair{Source: srcVocab.Encode(src[i]), Target: trgVocab.Encode(trg[i])}
	}

	if err := os.MkdirAll(c.SaveTo, 0o755); err != nil {
		return 0, err
	}
	if err := srcVocab.Save(filepath.Join(c.SaveTo, SrcVocabFile)); err != nil {
		return 0, err
	}
	if err := trgVocab.Save(filepath.Join(c.SaveTo, TrgVocabFile)); err != nil {
		return 0, err
	}
	if err := stream.SaveCorpus(filepath.Join(c.SaveTo, CorpusFile), pairs); err != nil {
		return 0, err
	}
	logger.Log.Info("corpus prepared", "pairs", len(pairs), "dir", c.SaveTo)
	return len(pairs), nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// TrainOptions controls Train.
type TrainOptions struct {
	// Corpus is the Arrow IPC corpus. Defaults to saveto/corpus.arrow.
	Corpus string
	// Sampling replaces greedy decoding in the sampling hook when set.
	Sampling *SamplingConfig
}

// Train runs the main loop until finish_after iterations or ctx is
// cancelled. A cancelled run is checkpointed and reports ctx.Err(), or the
// dump error when the checkpoint could not be written.
func Train(ctx context.Context, c Config, opts TrainOptions) error {
	if opts.Corpus == "" {
		opts.Corpus = filepath.Join(c.SaveTo, CorpusFile)
	}
	pairs, err := stream.LoadCorpus(opts.Corpus)
	if err != nil {
		return err
	}

	b, model, err := newModel(c)
	if err != nil {
		return err
	}
	trainer, err := train.New(c, b, model)
	if err != nil {
		return err
	}
	if opts.Sampling != nil {
		trainer.SetEmitter(generate.NewSampler(*opts.Sampling))
	}

	streamOpts := stream.OptionsFromConfig(c)
	return trainer.Run(ctx, func() (train.Batches, error) {
		return stream.New(stream.NewSliceSource(pairs), streamOpts)
	})
}

// ParameterInfo describes one model parameter.
type ParameterInfo struct {
	Name  string
	Shape []int
	Role  string
}

// Describe lists the parameters of the model c builds.
func Describe(c Config) ([]ParameterInfo, error) {
	_, model, err := newModel(c)
	if err != nil {
		return nil, err
	}
	params := model.Parameters()
	out := make([]ParameterInfo, len(params))
	for i, p := range params {
		out[i] = ParameterInfo{Name: p.Name(), Shape: []int(p.Shape()), Role: p.Role().String()}
	}
	return out, nil
}

// Translator translates sentences with a trained model.
type Translator struct {
	cfg   Config
	model seq2seq.Translator[backend]
	src   *tokenizer.Vocabulary
	trg   *tokenizer.Vocabulary
}

// Open loads the vocabularies and parameters saved in saveto.
func Open(c Config) (*Translator, error) {
	enc, err := tokenizer.NewTikToken(c.Encoding)
	if err != nil {
		return nil, err
	}
	return openWith(c, enc)
}

func openWith(c Config, enc tokenizer.Encoder) (*Translator, error) {
	src, err := tokenizer.LoadVocabulary(filepath.Join(c.SaveTo, SrcVocabFile), enc)
	if err != nil {
		return nil, err
	}
	trg, err := tokenizer.LoadVocabulary(filepath.Join(c.SaveTo, TrgVocabFile), enc)
	if err != nil {
		return nil, err
	}

	_, model, err := newModel(c)
	if err != nil {
		return nil, err
	}
	restored, err := checkpoint.New(c.SaveTo, "", model.Parameters(), nil).Load()
	if err != nil {
		return nil, err
	}
	if !restored.Params {
		return nil, fmt.Errorf("no usable parameters in %s", c.SaveTo)
	}
	model.SetTraining(false)
	return &Translator{cfg: c, model: model, src: src, trg: trg}, nil
}

// TranslateOptions controls one translation.
type TranslateOptions struct {
	// Steps bounds the output length. Defaults to twice the source length.
	Steps int
	// Sampling replaces greedy decoding when set.
	Sampling *SamplingConfig
	// EncoderIndex and DecoderIndex select the branches of a multi-encoder
	// model.
	EncoderIndex int
	DecoderIndex int
}

// Result is a translated sentence.
type Result struct {
	Text     string
	Sequence Sequence
}

// Translate encodes text, decodes up to opts.Steps target tokens and
// renders them up to the first end of sentence.
func (t *Translator) Translate(text string, opts TranslateOptions) (Result, error) {
	pair, ok := stream.Prepare(stream.Pair{
		Source:       t.src.Encode(text),
		Target:       []int32{t.cfg.EOSID},
		EncoderIndex: opts.EncoderIndex,
		DecoderIndex: opts.DecoderIndex,
	}, stream.OptionsFromConfig(t.cfg))
	if !ok {
		return Result{}, ErrEmptySentence
	}
	batch, err := stream.NewBatch([]stream.Pair{pair})
	if err != nil {
		return Result{}, err
	}

	steps := opts.Steps
	if steps <= 0 {
		steps = 2 * len(pair.Source)
	}
	var emitter seq2seq.Emitter = seq2seq.Greedy{}
	if opts.Sampling != nil {
		emitter = generate.NewSampler(*opts.Sampling)
	}
	gen, err := t.model.Generate(batch, steps, emitter)
	if err != nil {
		return Result{}, err
	}
	seq := generate.Sequences(gen, t.cfg.EOSID)[0]
	return Result{Text: t.trg.Decode(seq.IDs), Sequence: seq}, nil
}
