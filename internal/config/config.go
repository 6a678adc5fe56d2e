// Package config holds the read-only configuration of a translation model
// and its training run.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Step rule identifiers accepted in step_rule.
const (
	StepRuleAdaDelta = "AdaDelta"
	StepRuleAdam     = "Adam"
	StepRuleScale    = "Scale"
)

// EncoderConfig sizes one encoder of the multi-encoder model.
type EncoderConfig struct {
	VocabSize int `yaml:"vocab_size"`
	Embed     int `yaml:"embed"`
	NHids     int `yaml:"nhids"`
}

// Config is constructed once and passed by value to every constructor.
type Config struct {
	// Model
	SeqLen   int `yaml:"seq_len"`
	EncNHids int `yaml:"enc_nhids"`
	DecNHids int `yaml:"dec_nhids"`
	EncEmbed int `yaml:"enc_embed"`
	DecEmbed int `yaml:"dec_embed"`

	// Optimization
	BatchSize     int     `yaml:"batch_size"`
	SortKBatches  int     `yaml:"sort_k_batches"`
	StepRule      string  `yaml:"step_rule"`
	StepClipping  float64 `yaml:"step_clipping"`
	LearningRate  float64 `yaml:"learning_rate"`
	WeightScale   float64 `yaml:"weight_scale"`
	Dropout       float64 `yaml:"dropout"`
	WeightNoiseFF float64 `yaml:"weight_noise_ff"`

	// Vocabulary
	SrcVocabSize int    `yaml:"src_vocab_size"`
	TrgVocabSize int    `yaml:"trg_vocab_size"`
	UnkID        int32  `yaml:"unk_id"`
	EOSID        int32  `yaml:"eos_id"`
	BOSToken     string `yaml:"bos_token"`
	Encoding     string `yaml:"encoding"`

	// Timing and monitoring
	SaveTo       string `yaml:"saveto"`
	Reload       bool   `yaml:"reload"`
	SaveFreq     int    `yaml:"save_freq"`
	SamplingFreq int    `yaml:"sampling_freq"`
	HookSamples  int    `yaml:"hook_samples"`
	// BleuValFreq and ValBurnIn schedule the external BLEU validator,
	// which reads them from the dumped config; training does not use them.
	BleuValFreq int `yaml:"bleu_val_freq"`
	ValBurnIn   int `yaml:"val_burn_in"`
	FinishAfter int `yaml:"finish_after"`
	PrintFreq   int `yaml:"print_freq"`

	// Data
	SrcData string `yaml:"src_data"`
	TrgData string `yaml:"trg_data"`
	// ValSet is the source side of the validation set for the external
	// BLEU validator.
	ValSet string `yaml:"val_set"`
	Seed   uint64 `yaml:"seed"`

	// Multi-encoder model
	Encoders          []EncoderConfig `yaml:"encoders"`
	NumDecs           int             `yaml:"num_decs"`
	RepresentationDim int             `yaml:"representation_dim"`
	SrcRepDim         int             `yaml:"src_rep_dim"`
	TrgRepDim         int             `yaml:"trg_rep_dim"`
	MatchDim          int             `yaml:"match_dim"`
}

// Default returns the small prototype configuration.
func Default() Config {
	return Config{
		SeqLen:   50,
		EncNHids: 100,
		DecNHids: 100,
		EncEmbed: 10,
		DecEmbed: 10,

		BatchSize:     64,
		SortKBatches:  12,
		StepRule:      StepRuleAdaDelta,
		StepClipping:  1,
		LearningRate:  0.01,
		WeightScale:   0.01,
		Dropout:       0,
		WeightNoiseFF: 0,

		SrcVocabSize: 250,
		TrgVocabSize: 250,
		UnkID:        1,
		EOSID:        0,
		BOSToken:     "<S>",
		Encoding:     "cl100k_base",

		SaveTo:       "rnnsearch_model",
		Reload:       true,
		SaveFreq:     1,
		SamplingFreq: 3,
		HookSamples:  3,
		BleuValFreq:  5,
		ValBurnIn:    2,
		FinishAfter:  1000000,
		PrintFreq:    1,
		Seed:         1234,
	}
}

// DefaultMulti returns the prototype configuration of the multi-encoder
// model with two source languages and one target.
func DefaultMulti() Config {
	c := Default()
	c.Encoders = []EncoderConfig{
		{VocabSize: 250, Embed: 10, NHids: 100},
		{VocabSize: 250, Embed: 10, NHids: 100},
	}
	c.NumDecs = 1
	c.RepresentationDim = 200
	c.SrcRepDim = 20
	c.TrgRepDim = 20
	c.MatchDim = 100
	return c
}

// Load reads a YAML file on top of base. Keys absent from the file keep
// their base values.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data, base)
}

// Parse decodes YAML on top of base and validates the result.
func Parse(data []byte, base Config) (Config, error) {
	c := base
	c.Encoders = append([]EncoderConfig(nil), base.Encoders...)
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// IsMulti reports whether the configuration describes the multi-encoder
// model.
func (c Config) IsMulti() bool {
	return len(c.Encoders) > 0
}

type field struct {
	name  string
	value int
}

// Validate checks every dimension and rate.
func (c Config) Validate() error {
	positive := []field{
		{"seq_len", c.SeqLen},
		{"dec_nhids", c.DecNHids},
		{"dec_embed", c.DecEmbed},
		{"batch_size", c.BatchSize},
		{"sort_k_batches", c.SortKBatches},
		{"trg_vocab_size", c.TrgVocabSize},
	}
	if c.IsMulti() {
		positive = append(positive, []field{
			{"num_decs", c.NumDecs},
			{"representation_dim", c.RepresentationDim},
			{"src_rep_dim", c.SrcRepDim},
			{"trg_rep_dim", c.TrgRepDim},
		}...)
		for i, e := range c.Encoders {
			positive = append(positive, []field{
				{fmt.Sprintf("encoders[%d].vocab_size", i), e.VocabSize},
				{fmt.Sprintf("encoders[%d].embed", i), e.Embed},
				{fmt.Sprintf("encoders[%d].nhids", i), e.NHids},
			}...)
		}
	} else {
		positive = append(positive, []field{
			{"enc_nhids", c.EncNHids},
			{"enc_embed", c.EncEmbed},
			{"src_vocab_size", c.SrcVocabSize},
		}...)
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%w: invalid %s: %d (must be positive)", ErrInvalidConfig, p.name, p.value)
		}
	}

	if c.DecNHids%2 != 0 {
		return fmt.Errorf("%w: invalid dec_nhids: %d (must be even for maxout)", ErrInvalidConfig, c.DecNHids)
	}
	if c.MatchDim < 0 {
		return fmt.Errorf("%w: invalid match_dim: %d (must be non-negative)", ErrInvalidConfig, c.MatchDim)
	}
	if c.IsMulti() && c.RepresentationDim < c.DecNHids {
		return fmt.Errorf("%w: representation_dim %d smaller than dec_nhids %d", ErrInvalidConfig, c.RepresentationDim, c.DecNHids)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		return fmt.Errorf("%w: invalid dropout: %g (must be in [0, 1))", ErrInvalidConfig, c.Dropout)
	}
	if c.WeightNoiseFF < 0 {
		return fmt.Errorf("%w: invalid weight_noise_ff: %g (must be non-negative)", ErrInvalidConfig, c.WeightNoiseFF)
	}
	if c.WeightScale <= 0 {
		return fmt.Errorf("%w: invalid weight_scale: %g (must be positive)", ErrInvalidConfig, c.WeightScale)
	}
	if c.StepClipping < 0 {
		return fmt.Errorf("%w: invalid step_clipping: %g (must be non-negative)", ErrInvalidConfig, c.StepClipping)
	}
	switch c.StepRule {
	case StepRuleAdaDelta, StepRuleAdam, StepRuleScale:
	default:
		return fmt.Errorf("%w: unknown step_rule %q (want %s)", ErrInvalidConfig, c.StepRule,
			strings.Join([]string{StepRuleAdaDelta, StepRuleAdam, StepRuleScale}, ", "))
	}
	vocabs := []field{{"trg_vocab_size", c.TrgVocabSize}}
	if c.IsMulti() {
		for i, e := range c.Encoders {
			vocabs = append(vocabs, field{fmt.Sprintf("encoders[%d].vocab_size", i), e.VocabSize})
		}
	} else {
		vocabs = append(vocabs, field{"src_vocab_size", c.SrcVocabSize})
	}
	for _, v := range vocabs {
		if c.UnkID < 0 || int(c.UnkID) >= v.value || c.EOSID < 0 || int(c.EOSID) >= v.value {
			return fmt.Errorf("%w: unk_id %d and eos_id %d must lie in %s %d", ErrInvalidConfig, c.UnkID, c.EOSID, v.name, v.value)
		}
	}
	for _, freq := range []field{
		{"save_freq", c.SaveFreq},
		{"sampling_freq", c.SamplingFreq},
		{"hook_samples", c.HookSamples},
		{"bleu_val_freq", c.BleuValFreq},
		{"val_burn_in", c.ValBurnIn},
		{"finish_after", c.FinishAfter},
		{"print_freq", c.PrintFreq},
	} {
		if freq.value < 0 {
			return fmt.Errorf("%w: invalid %s: %d (must be non-negative)", ErrInvalidConfig, freq.name, freq.value)
		}
	}
	return nil
}
