// Command rnnsearch trains and runs attention-based neural machine
// translation models.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/born-ml/rnnsearch"
	"github.com/born-ml/rnnsearch/internal/generate"
	"github.com/born-ml/rnnsearch/internal/logger"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "prepare":
		err = runPrepare(os.Args[2:])
	case "train":
		err = runTrain(os.Args[2:])
	case "generate":
		err = runGenerate(os.Args[2:])
	case "params":
		err = runParams(os.Args[2:])
	case "version":
		fmt.Printf("rnnsearch %s\n", version)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Log.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: rnnsearch <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  prepare    Fit vocabularies and write the training corpus from src_data/trg_data")
	fmt.Fprintln(os.Stderr, "  train      Train a model")
	fmt.Fprintln(os.Stderr, "  generate   Translate a sentence with a trained model")
	fmt.Fprintln(os.Stderr, "  params     List parameter names and shapes")
	fmt.Fprintln(os.Stderr, "  version    Show version")
}

// common holds the flags every model command shares.
type common struct {
	configPath string
	multi      bool
	logLevel   string
	logFormat  string
}

func (c *common) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", "", "YAML configuration file (defaults to the built-in prototype)")
	fs.BoolVar(&c.multi, "multi", false, "start from the multi-encoder prototype")
	fs.StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	fs.StringVar(&c.logFormat, "log-format", "console", "log format: console or json")
}

func (c *common) load() (rnnsearch.Config, error) {
	logger.Setup(c.logLevel, c.logFormat)
	base := rnnsearch.DefaultConfig()
	if c.multi {
		base = rnnsearch.DefaultMultiConfig()
	}
	if c.configPath == "" {
		return base, base.Validate()
	}
	return rnnsearch.LoadConfig(c.configPath, base)
}

func runPrepare(args []string) error {
	var flags common
	fs := flag.NewFlagSet("prepare", flag.ExitOnError)
	flags.register(fs)
	_ = fs.Parse(args)

	c, err := flags.load()
	if err != nil {
		return err
	}
	n, err := rnnsearch.Prepare(c)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d sentence pairs to %s\n", n, c.SaveTo)
	return nil
}

func runTrain(args []string) error {
	var flags common
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	flags.register(fs)
	corpus := fs.String("corpus", "", "Arrow IPC corpus (default <saveto>/"+rnnsearch.CorpusFile+")")
	metricsAddr := fs.String("metrics-addr", "", "address to serve Prometheus metrics, e.g. :9090")
	temperature := fs.Float64("temperature", 0, "sampling hook temperature, 0 = greedy")
	_ = fs.Parse(args)

	c, err := flags.load()
	if err != nil {
		return err
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Log.Info("metrics serving", "addr", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Log.Error("metrics server failed", "error", err)
			}
		}()
	}

	opts := rnnsearch.TrainOptions{Corpus: *corpus}
	if *temperature > 0 {
		opts.Sampling = &rnnsearch.SamplingConfig{
			Temperature: float32(*temperature),
			TopP:        1,
			Seed:        int64(c.Seed),
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = rnnsearch.Train(ctx, c, opts)
	if errors.Is(err, context.Canceled) {
		logger.Log.Info("training interrupted", "saveto", c.SaveTo)
		return nil
	}
	return err
}

func runGenerate(args []string) error {
	var flags common
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	flags.register(fs)
	text := fs.String("text", "", "source sentence")
	steps := fs.Int("steps", 0, "decoder steps (default twice the source length)")
	temperature := fs.Float64("temperature", 0, "sampling temperature, 0 = greedy")
	topK := fs.Int("top-k", 0, "sample from the k most probable tokens, 0 = all")
	topP := fs.Float64("top-p", 1, "nucleus sampling mass")
	seed := fs.Int64("seed", -1, "sampling seed, -1 = random")
	encoderIndex := fs.Int("encoder", 0, "source encoder of a multi-encoder model")
	decoderIndex := fs.Int("decoder", 0, "target index of a multi-encoder model")
	out := fs.String("out", "", "write the generated bundle to this Arrow IPC file")
	_ = fs.Parse(args)

	c, err := flags.load()
	if err != nil {
		return err
	}
	if *text == "" {
		return errors.New("generate needs -text")
	}

	tr, err := rnnsearch.Open(c)
	if err != nil {
		return err
	}
	opts := rnnsearch.TranslateOptions{
		Steps:        *steps,
		EncoderIndex: *encoderIndex,
		DecoderIndex: *decoderIndex,
	}
	if *temperature > 0 {
		opts.Sampling = &rnnsearch.SamplingConfig{
			Temperature: float32(*temperature),
			TopK:        *topK,
			TopP:        float32(*topP),
			Seed:        *seed,
		}
	}
	res, err := tr.Translate(*text, opts)
	if err != nil {
		return err
	}
	fmt.Println(res.Text)
	logger.Log.Debug("generated", "ids", res.Sequence.IDs, "cost", res.Sequence.Cost())

	if *out != "" {
		return generate.SaveBundle(*out, []rnnsearch.Sequence{res.Sequence})
	}
	return nil
}

func runParams(args []string) error {
	var flags common
	fs := flag.NewFlagSet("params", flag.ExitOnError)
	flags.register(fs)
	_ = fs.Parse(args)

	c, err := flags.load()
	if err != nil {
		return err
	}
	params, err := rnnsearch.Describe(c)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSHAPE\tROLE")
	total := 0
	for _, p := range params {
		fmt.Fprintf(w, "%s\t%v\t%s\n", p.Name, p.Shape, p.Role)
		n := 1
		for _, d := range p.Shape {
			n *= d
		}
		total += n
	}
	fmt.Fprintf(w, "total\t%d\t\n", total)
	return w.Flush()
}
