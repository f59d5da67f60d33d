// Package config loads runtime configuration from a YAML file with an
// environment overlay.
//
// Environment variables use the SNJS prefix and override file values:
//
//	SNJS_NAME=worker SNJS_MODULES_SEARCH_PATHS=/lib/?.js,/vendor/? snjs run main.js
package config

import (
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/wippyai/js-runtime/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SNJS"

// Config holds all runtime configuration.
type Config struct {
	Name     string         `yaml:"name" envconfig:"NAME"`
	Loader   string         `yaml:"loader" envconfig:"LOADER"`
	Modules  ModulesConfig  `yaml:"modules"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	Logging  LogConfig      `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Wasm     WasmConfig     `yaml:"wasm"`

	MaxCallStackSize int `yaml:"max_call_stack_size" envconfig:"MAX_CALL_STACK_SIZE"`
}

// ModulesConfig holds module resolution settings.
type ModulesConfig struct {
	// Root confines module reads to a directory. Specifiers are then
	// absolute paths inside it. Empty reads the host filesystem.
	Root             string   `yaml:"root" envconfig:"ROOT"`
	Placeholder      string   `yaml:"placeholder" envconfig:"PLACEHOLDER"`
	DefaultExtension string   `yaml:"default_extension" envconfig:"DEFAULT_EXTENSION"`
	SearchPaths      []string `yaml:"search_paths" envconfig:"SEARCH_PATHS"`
	MaxAliasDepth    int      `yaml:"max_alias_depth" envconfig:"MAX_ALIAS_DEPTH"`
}

// SnapshotConfig selects the snapshot mode. At most one path may be set.
type SnapshotConfig struct {
	// Produce is where a snapshot producer writes its startup image.
	Produce string `yaml:"produce" envconfig:"PRODUCE"`
	// Consume is a startup image to restore.
	Consume string `yaml:"consume" envconfig:"CONSUME"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `yaml:"level" envconfig:"LEVEL"`
	Development bool   `yaml:"development" envconfig:"DEV"`
}

// MetricsConfig holds the metrics endpoint. An empty address disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// WasmConfig enables the WebAssembly extension.
type WasmConfig struct {
	Enabled          bool   `yaml:"enabled" envconfig:"ENABLED"`
	MemoryLimitPages uint32 `yaml:"memory_limit_pages" envconfig:"MEMORY_LIMIT_PAGES"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Name: "default",
		Modules: ModulesConfig{
			Placeholder:      "?",
			DefaultExtension: ".js",
			MaxAliasDepth:    32,
		},
		Logging: LogConfig{
			Level: "info",
		},
		Wasm: WasmConfig{
			Enabled: true,
		},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path or a missing file leaves the defaults in place.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parse "+path)
			}
		case !os.IsNotExist(err):
			return nil, errors.Wrap(errors.PhaseConfig, errors.KindRead, err, "read "+path)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "environment overrides")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be combined.
func (c *Config) Validate() error {
	if c.Snapshot.Produce != "" && c.Snapshot.Consume != "" {
		return errors.InvalidInput(errors.PhaseConfig, "snapshot produce and consume are mutually exclusive")
	}
	if _, err := parseLevel(c.Logging.Level); err != nil {
		return err
	}
	if c.Modules.MaxAliasDepth < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "max_alias_depth cannot be negative")
	}
	return nil
}

// Encode renders c as YAML.
func (c *Config) Encode() ([]byte, error) {
	return yaml.Marshal(c)
}
