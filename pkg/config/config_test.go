package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultPipelineConfig("ingest")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 10, cfg.Concurrency.MaxConcurrentItems)
	assert.Equal(t, BackoffExponential, cfg.Retry.Backoff)
	assert.Equal(t, 0.01, cfg.Dedup.FalsePositiveRate)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*PipelineConfig)
	}{
		{"empty name", func(c *PipelineConfig) { c.Name = "" }},
		{"zero concurrency", func(c *PipelineConfig) { c.Concurrency.MaxConcurrentItems = 0 }},
		{"negative delay", func(c *PipelineConfig) { c.Retry.Delay = Duration(-time.Second) }},
		{"bad backoff", func(c *PipelineConfig) { c.Retry.Backoff = "cubic" }},
		{"zero checkpoint frequency", func(c *PipelineConfig) { c.Checkpoint.Frequency = 0 }},
		{"fp rate of one", func(c *PipelineConfig) { c.Dedup.FalsePositiveRate = 1.0 }},
		{"zero dedup capacity", func(c *PipelineConfig) { c.Dedup.Capacity = 0 }},
		{"multipart without chunk size", func(c *PipelineConfig) {
			c.Multipart.Enabled = true
			c.Multipart.ChunkSize = 0
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultPipelineConfig("ingest")
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadSubstitutesEnvVars(t *testing.T) {
	t.Setenv("CONVEYR_TEST_CKPT", "/tmp/run.checkpoint")

	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	content := `
name: tweets
concurrency:
  max_concurrent_items: 4
checkpoint:
  path: ${CONVEYR_TEST_CKPT}
  frequency: 2
sources:
  - type: file
    options:
      path: /data/tweets.csv
destinations:
  - type: jsonl
    required: true
    options:
      path: /data/out.jsonl
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "tweets", cfg.Name)
	assert.Equal(t, 4, cfg.Concurrency.MaxConcurrentItems)
	assert.Equal(t, "/tmp/run.checkpoint", cfg.Checkpoint.Path)
	assert.Equal(t, 2, cfg.Checkpoint.Frequency)
	// Defaults survive partial files.
	assert.Equal(t, 3, cfg.Retry.Attempts)

	require.Len(t, cfg.Destinations, 1)
	assert.True(t, cfg.Destinations[0].Required)
	assert.Equal(t, "jsonl", cfg.Destinations[0].BindingName())
	assert.Equal(t, "/data/out.jsonl", cfg.Destinations[0].Option("path", ""))
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: x\nconcurrency:\n  max_concurrent_items: -1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}
