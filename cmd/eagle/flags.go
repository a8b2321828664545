package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/23skdu/longbow-eagle/internal/config"
	"github.com/23skdu/longbow-eagle/internal/logger"
)

var (
	configPath   string
	vocabPath    string
	logLevel     string
	logFormat    string
	maxDraftLen  int
	temperature  float64
	oneModel     bool
	maxTokens    int
	maxSeqLen    int
	seed         int64
	blockReuse   bool
	maxBatchSize int
	draftNoise   float64
	ignoreEOS    bool
)

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Aliases:     []string{"c"},
			Usage:       "path to YAML config file",
			Destination: &configPath,
		},
		&cli.StringFlag{
			Name:        "vocab",
			Usage:       "word list for the tokenizer, one word per line",
			Destination: &vocabPath,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (console, json)",
			Value:       "console",
			Destination: &logFormat,
		},
	}
}

func decodingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-draft-len",
			Aliases:     []string{"k"},
			Usage:       "draft tokens proposed per step (0 disables speculation)",
			Value:       4,
			Destination: &maxDraftLen,
		},
		&cli.Float64Flag{
			Name:        "temp",
			Aliases:     []string{"temperature", "t"},
			Usage:       "sampling temperature (0 = greedy)",
			Destination: &temperature,
		},
		&cli.BoolFlag{
			Name:        "one-model",
			Usage:       "draft with the target's own draft head",
			Destination: &oneModel,
		},
		&cli.IntFlag{
			Name:        "max-tokens",
			Aliases:     []string{"n"},
			Usage:       "maximum tokens to generate",
			Value:       128,
			Destination: &maxTokens,
		},
		&cli.IntFlag{
			Name:        "max-seq-len",
			Usage:       "upper bound on prompt plus generated tokens",
			Value:       8192,
			Destination: &maxSeqLen,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "sampling seed",
			Destination: &seed,
		},
		&cli.BoolFlag{
			Name:        "block-reuse",
			Usage:       "reuse KV cache blocks across requests sharing a prefix",
			Destination: &blockReuse,
		},
		&cli.IntFlag{
			Name:        "max-batch-size",
			Usage:       "maximum concurrently running requests",
			Value:       8,
			Destination: &maxBatchSize,
		},
		&cli.Float64Flag{
			Name:        "draft-noise",
			Usage:       "fraction of contexts where the synthetic draft disagrees with the target",
			Value:       0.3,
			Destination: &draftNoise,
		},
		&cli.BoolFlag{
			Name:        "ignore-eos",
			Usage:       "keep generating past the end-of-sequence token",
			Destination: &ignoreEOS,
		},
	}
}

// isSetter is the part of *cli.Command loadConfig needs.
type isSetter interface {
	IsSet(name string) bool
}

// loadConfig reads the config file, if any, and lets explicitly set flags
// override it.
func loadConfig(cmd isSetter) (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	applyFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFlags(cmd isSetter, cfg *config.Config) {
	if cmd.IsSet("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.IsSet("log-format") {
		cfg.LogFormat = logFormat
	}
	if cmd.IsSet("max-draft-len") {
		cfg.MaxDraftLen = maxDraftLen
	}
	if cmd.IsSet("temp") {
		cfg.Temperature = temperature
	}
	if cmd.IsSet("one-model") {
		cfg.OneModel = oneModel
	}
	if cmd.IsSet("max-tokens") {
		cfg.MaxTokens = maxTokens
	}
	if cmd.IsSet("max-seq-len") {
		cfg.MaxSeqLen = maxSeqLen
	}
	if cmd.IsSet("seed") {
		cfg.Seed = seed
	}
	if cmd.IsSet("block-reuse") {
		cfg.EnableBlockReuse = blockReuse
	}
	if cmd.IsSet("max-batch-size") {
		cfg.MaxBatchSize = maxBatchSize
	}
	if cmd.IsSet("draft-noise") {
		cfg.DraftNoise = draftNoise
	}
}

// setup loads configuration and initialises logging.
func setup(_ context.Context, cmd *cli.Command) (config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return cfg, err
	}
	logger.Setup(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}
