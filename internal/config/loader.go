package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	env "github.com/Netflix/go-env"
	"gopkg.in/yaml.v3"
)

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
	// SkipEnv disables environment overrides
	SkipEnv bool
}

// Load loads configuration from various sources
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	if !options.SkipEnv {
		if err := loadFromEnv(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadFromEnv overrides cfg with any VISITORHUB_* variables that are set
func loadFromEnv(cfg *Config) error {
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
