package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MaxDraftLen != 4 {
		t.Errorf("expected MaxDraftLen 4, got %d", cfg.MaxDraftLen)
	}
	if !cfg.IsGreedy() {
		t.Error("expected greedy sampling by default")
	}
	if cfg.EnableBlockReuse {
		t.Error("expected block reuse to be disabled by default")
	}
	if cfg.OneModel {
		t.Error("expected two-model mode by default")
	}
	if cfg.AcceptanceAlertThreshold != 0.15 {
		t.Errorf("expected alert threshold 0.15, got %v", cfg.AcceptanceAlertThreshold)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"zero draft len is reference decoding", func(c *Config) { c.MaxDraftLen = 0 }, false},
		{"negative draft len", func(c *Config) { c.MaxDraftLen = -1 }, true},
		{"negative temperature", func(c *Config) { c.Temperature = -0.5 }, true},
		{"zero max tokens", func(c *Config) { c.MaxTokens = 0 }, true},
		{"max tokens fills max seq len", func(c *Config) { c.MaxTokens = c.MaxSeqLen }, true},
		{"huge max tokens", func(c *Config) { c.MaxTokens = 1 << 40 }, true},
		{"zero max seq len", func(c *Config) { c.MaxSeqLen = 0 }, true},
		{"zero kv blocks", func(c *Config) { c.KVCacheBlocks = 0 }, true},
		{"zero block size", func(c *Config) { c.KVBlockSize = 0 }, true},
		{"zero batch size", func(c *Config) { c.MaxBatchSize = 0 }, true},
		{"zero context window", func(c *Config) { c.ContextWindow = 0 }, true},
		{"noise above one", func(c *Config) { c.DraftNoise = 1.5 }, true},
		{"threshold above one", func(c *Config) { c.AcceptanceAlertThreshold = 2 }, true},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"json log format", func(c *Config) { c.LogFormat = "json" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestReference(t *testing.T) {
	cfg := Default()
	cfg.OneModel = true

	ref := cfg.Reference()

	assert.False(t, ref.Speculative())
	assert.False(t, ref.OneModel)
	assert.True(t, cfg.Speculative(), "original config must be untouched")
	assert.Equal(t, cfg.MaxTokens, ref.MaxTokens)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "eagle.yaml")
	body := []byte("max_draft_len: 6\none_model: true\nenable_block_reuse: true\nlog_format: json\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.MaxDraftLen)
	assert.True(t, cfg.OneModel)
	assert.True(t, cfg.EnableBlockReuse)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, Default().MaxTokens, cfg.MaxTokens, "unset fields keep defaults")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("max_draft_len: [oops"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("max_draft_len: -3\n"), 0o644))
	_, err = Load(invalid)
	assert.ErrorContains(t, err, "max_draft_len")
}
