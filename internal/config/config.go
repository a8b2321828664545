package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	// Speculative decoding
	MaxDraftLen int     `yaml:"max_draft_len"`
	Temperature float64 `yaml:"temperature"`
	OneModel    bool    `yaml:"one_model"`
	MaxTokens   int     `yaml:"max_tokens"`
	MaxSeqLen   int     `yaml:"max_seq_len"`
	Seed        int64   `yaml:"seed"`

	// KV cache
	EnableBlockReuse bool `yaml:"enable_block_reuse"`
	KVCacheBlocks    int  `yaml:"kv_cache_blocks"`
	KVBlockSize      int  `yaml:"kv_block_size"`

	// Engine
	MaxBatchSize int `yaml:"max_batch_size"`

	// Synthetic model runtime
	VocabSeed     uint64  `yaml:"vocab_seed"`
	ContextWindow int     `yaml:"context_window"`
	DraftNoise    float64 `yaml:"draft_noise"`

	// Observability
	LogLevel                 string  `yaml:"log_level"`
	LogFormat                string  `yaml:"log_format"`
	MetricsAddr              string  `yaml:"metrics_addr"`
	FlightAddr               string  `yaml:"flight_addr"`
	AcceptanceAlertThreshold float64 `yaml:"acceptance_alert_threshold"`
}

func (c *Config) Validate() error {
	if c.MaxDraftLen < 0 {
		return fmt.Errorf("invalid max_draft_len: %d (must be non-negative)", c.MaxDraftLen)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("invalid temperature: %f (must be non-negative)", c.Temperature)
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("invalid max_tokens: %d (must be positive)", c.MaxTokens)
	}
	if c.MaxSeqLen <= c.MaxTokens {
		return fmt.Errorf("invalid max_seq_len: %d (must exceed max_tokens %d)", c.MaxSeqLen, c.MaxTokens)
	}
	if c.KVCacheBlocks <= 0 {
		return fmt.Errorf("invalid kv_cache_blocks: %d (must be positive)", c.KVCacheBlocks)
	}
	if c.KVBlockSize <= 0 {
		return fmt.Errorf("invalid kv_block_size: %d (must be positive)", c.KVBlockSize)
	}
	if c.MaxBatchSize <= 0 {
		return fmt.Errorf("invalid max_batch_size: %d (must be positive)", c.MaxBatchSize)
	}
	if c.ContextWindow <= 0 {
		return fmt.Errorf("invalid context_window: %d (must be positive)", c.ContextWindow)
	}
	if c.DraftNoise < 0 || c.DraftNoise > 1 {
		return fmt.Errorf("invalid draft_noise: %f (must be in [0, 1])", c.DraftNoise)
	}
	if c.AcceptanceAlertThreshold < 0 || c.AcceptanceAlertThreshold > 1 {
		return fmt.Errorf("invalid acceptance_alert_threshold: %f (must be in [0, 1])", c.AcceptanceAlertThreshold)
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "console", "json":
	default:
		return fmt.Errorf("invalid log_format: %q (want console or json)", c.LogFormat)
	}
	return nil
}

// IsGreedy reports whether sampling is deterministic argmax decoding.
func (c *Config) IsGreedy() bool {
	return c.Temperature == 0
}

// Speculative reports whether drafting is enabled at all.
func (c *Config) Speculative() bool {
	return c.MaxDraftLen > 0
}

// Reference returns a copy with drafting disabled, i.e. target-only decoding.
func (c Config) Reference() Config {
	c.MaxDraftLen = 0
	c.OneModel = false
	return c
}

func Default() Config {
	return Config{
		MaxDraftLen: 4,
		Temperature: 0,
		MaxTokens:   128,
		MaxSeqLen:   8192,
		Seed:        0,

		KVCacheBlocks: 1024,
		KVBlockSize:   16,

		MaxBatchSize: 8,

		VocabSeed:     0x5eed,
		ContextWindow: 4,
		DraftNoise:    0.3,

		LogLevel:                 "info",
		LogFormat:                "console",
		MetricsAddr:              ":9090",
		AcceptanceAlertThreshold: 0.15,
	}
}

// Load reads a YAML file on top of Default(). Fields absent from the file keep
// their defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
