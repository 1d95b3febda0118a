// Package config provides the unified configuration system for Conveyr.
// A single immutable PipelineConfig snapshot drives a run; defaults are
// applied by the constructor, not by the struct, and Validate catches
// bad values before the orchestrator starts.
//
// The configuration is organized into logical sections:
//   - Concurrency: in-flight item bound and shutdown behavior
//   - Retry: attempt budget and backoff policy
//   - Checkpoint: durable progress tracking location and cadence
//   - Dedup: Bloom filter sizing
//   - Multipart: chunked reads for large-file sources
//   - Observability: logging and metrics switches
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like
// "30s" or "1m" as well as integer nanoseconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err == nil {
		parsed, perr := time.ParseDuration(raw)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var ns int64
	if err := value.Decode(&ns); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(ns)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Backoff selects how the retry delay grows between attempts.
type Backoff string

const (
	// BackoffFixed keeps the delay constant across attempts.
	BackoffFixed Backoff = "fixed"
	// BackoffExponential doubles the delay each attempt (capped).
	BackoffExponential Backoff = "exponential"
)

// PipelineConfig is the immutable configuration snapshot for a run.
type PipelineConfig struct {
	// Name identifies the pipeline instance.
	Name string `yaml:"name" json:"name"`

	Concurrency   ConcurrencyConfig   `yaml:"concurrency" json:"concurrency"`
	Retry         RetryConfig         `yaml:"retry" json:"retry"`
	Checkpoint    CheckpointConfig    `yaml:"checkpoint" json:"checkpoint"`
	Dedup         DedupConfig         `yaml:"dedup" json:"dedup"`
	Multipart     MultipartConfig     `yaml:"multipart" json:"multipart"`
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`

	// Sources, Transformers and Destinations describe the topology when
	// the pipeline is assembled from a config file via the registry.
	Sources      []ConnectorConfig `yaml:"sources" json:"sources"`
	Transformers []ConnectorConfig `yaml:"transformers" json:"transformers"`
	Destinations []ConnectorConfig `yaml:"destinations" json:"destinations"`
}

// ConcurrencyConfig bounds parallelism and shutdown.
type ConcurrencyConfig struct {
	// MaxConcurrentItems caps simultaneously in-flight item pipelines.
	MaxConcurrentItems int `yaml:"max_concurrent_items" json:"max_concurrent_items"`
	// ShutdownTimeout bounds the graceful-stop drain; pipelines still
	// running when it expires are abandoned and reprocessed next run.
	ShutdownTimeout Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// RetryConfig controls the retry policy for fallible stage operations.
type RetryConfig struct {
	// Attempts is the maximum number of tries; zero or negative means
	// attempt once with no retry.
	Attempts int `yaml:"attempts" json:"attempts"`
	// Delay is the base delay between attempts.
	Delay Duration `yaml:"delay" json:"delay"`
	// MaxDelay caps the backoff growth.
	MaxDelay Duration `yaml:"max_delay" json:"max_delay"`
	// Backoff selects fixed or exponential growth.
	Backoff Backoff `yaml:"backoff" json:"backoff"`
}

// CheckpointConfig controls durable progress tracking.
type CheckpointConfig struct {
	// Path is the checkpoint file location. Empty disables persistence.
	Path string `yaml:"path" json:"path"`
	// Frequency is the number of recorded items between flushes.
	Frequency int `yaml:"frequency" json:"frequency"`
}

// DedupConfig sizes the Bloom filter used by the dedup stage.
type DedupConfig struct {
	// Capacity is the expected number of distinct items in a run.
	Capacity int `yaml:"capacity" json:"capacity"`
	// FalsePositiveRate is the target probability that a fresh item is
	// mistaken for a duplicate and silently dropped.
	FalsePositiveRate float64 `yaml:"false_positive_rate" json:"false_positive_rate"`
}

// MultipartConfig controls chunked reads for large-item sources.
type MultipartConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Threshold is the file size above which chunked reading kicks in.
	Threshold int64 `yaml:"threshold" json:"threshold"`
	// ChunkSize is the read buffer size used for chunked reads.
	ChunkSize int `yaml:"chunk_size" json:"chunk_size"`
}

// ObservabilityConfig contains monitoring settings.
type ObservabilityConfig struct {
	LogLevel      string `yaml:"log_level" json:"log_level"`
	EnableMetrics bool   `yaml:"enable_metrics" json:"enable_metrics"`
}

// ConnectorConfig describes one connector binding in the topology.
type ConnectorConfig struct {
	// Type is the registered connector type (e.g. "file", "jsonl").
	Type string `yaml:"type" json:"type"`
	// Name identifies this binding; defaults to Type when empty.
	Name string `yaml:"name" json:"name"`
	// Required marks a destination whose permanent failure blocks
	// checkpointing of the item. Ignored for sources and transformers.
	Required bool `yaml:"required" json:"required"`
	// Options carries connector-specific settings (path, url, table...).
	Options map[string]string `yaml:"options" json:"options"`
}

// Option returns a connector option or a fallback.
func (c *ConnectorConfig) Option(key, fallback string) string {
	if v, ok := c.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// BindingName returns the effective connector binding name.
func (c *ConnectorConfig) BindingName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Type
}

// DefaultPipelineConfig returns a configuration with production-ready
// defaults. Callers override individual fields before Validate.
func DefaultPipelineConfig(name string) *PipelineConfig {
	return &PipelineConfig{
		Name: name,
		Concurrency: ConcurrencyConfig{
			MaxConcurrentItems: 10,
			ShutdownTimeout:    Duration(30 * time.Second),
		},
		Retry: RetryConfig{
			Attempts: 3,
			Delay:    Duration(time.Second),
			MaxDelay: Duration(30 * time.Second),
			Backoff:  BackoffExponential,
		},
		Checkpoint: CheckpointConfig{
			Path:      "conveyr.checkpoint",
			Frequency: 100,
		},
		Dedup: DedupConfig{
			Capacity:          1_000_000,
			FalsePositiveRate: 0.01,
		},
		Multipart: MultipartConfig{
			Enabled:   true,
			Threshold: 100 * 1024 * 1024,
			ChunkSize: 1024 * 1024,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			EnableMetrics: true,
		},
	}
}

// Validate checks the configuration for correctness.
func (c *PipelineConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name is required")
	}
	if c.Concurrency.MaxConcurrentItems <= 0 {
		return fmt.Errorf("max_concurrent_items must be positive")
	}
	if c.Concurrency.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}
	if c.Retry.Delay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}
	switch c.Retry.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("backoff must be %q or %q", BackoffFixed, BackoffExponential)
	}
	if c.Checkpoint.Frequency <= 0 {
		return fmt.Errorf("checkpoint frequency must be positive")
	}
	if c.Dedup.Capacity <= 0 {
		return fmt.Errorf("dedup capacity must be positive")
	}
	if c.Dedup.FalsePositiveRate <= 0 || c.Dedup.FalsePositiveRate >= 1 {
		return fmt.Errorf("false_positive_rate must be in (0, 1)")
	}
	if c.Multipart.Enabled && c.Multipart.ChunkSize <= 0 {
		return fmt.Errorf("multipart chunk_size must be positive")
	}
	return nil
}
