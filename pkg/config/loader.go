package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a pipeline configuration from a YAML file, substituting
// ${VAR_NAME} references with environment variable values. Fields not
// present in the file keep the defaults from DefaultPipelineConfig.
func Load(filePath string) (*PipelineConfig, error) {
	data, err := os.ReadFile(filePath) //nolint:gosec // G304: path is caller-controlled
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	content := substituteEnvVars(string(data))

	cfg := DefaultPipelineConfig("pipeline")
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes a pipeline configuration to a YAML file.
func Save(filePath string, cfg *PipelineConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0o644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.Index(content[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varName := content[start+2 : end]
		envValue := os.Getenv(varName)
		content = content[:start] + envValue + content[end+1:]
	}
	return content
}
