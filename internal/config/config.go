// Package config handles configuration loading, validation, and reload
// for the trust engine.
//
// Configuration is loaded once and passed to the engine by reference.
// There is no lazy per-field caching: a changed file takes effect only
// through an explicit Reload or the loader's file watch.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete engine configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Storage configures the trust store.
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`

	// Signing configures key material lookup.
	Signing SigningConfig `toml:"signing" json:"signing" yaml:"signing"`

	// Engine configures operating limits.
	Engine EngineConfig `toml:"engine" json:"engine" yaml:"engine"`

	// Logging configures log output.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

// StorageConfig holds trust store settings.
type StorageConfig struct {
	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// SigningConfig holds signing key settings.
type SigningConfig struct {
	// KeyDir is the directory the file key provider reads from.
	KeyDir string `toml:"key_dir" json:"key_dir" yaml:"key_dir"`

	// DefaultKeyType is assumed for keys without a type file.
	DefaultKeyType string `toml:"default_key_type" json:"default_key_type" yaml:"default_key_type"`
}

// EngineConfig holds operating limits.
type EngineConfig struct {
	// Mode is "normal" or "readonly". In readonly mode the engine
	// refuses writes (signing, assignments, imports).
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// MaxImportBytes bounds imported declaration documents.
	MaxImportBytes int64 `toml:"max_import_bytes" json:"max_import_bytes" yaml:"max_import_bytes"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level    string `toml:"level" json:"level" yaml:"level"`
	Format   string `toml:"format" json:"format" yaml:"format"`
	Output   string `toml:"output" json:"output" yaml:"output"`
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`
}

// TrustdDir returns the default data directory.
func TrustdDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".trustd"
	}
	return filepath.Join(home, ".trustd")
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(TrustdDir(), "config.toml")
}

// Default returns a configuration with sane defaults.
func Default() *Config {
	dir := TrustdDir()
	return &Config{
		Version: Version,
		Storage: StorageConfig{Path: filepath.Join(dir, "trust.db")},
		Signing: SigningConfig{
			KeyDir:         filepath.Join(dir, "keys"),
			DefaultKeyType: "ed25519",
		},
		Engine: EngineConfig{
			Mode:           "normal",
			MaxImportBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Version <= 0 {
		return errors.New("config: version must be positive")
	}
	if c.Storage.Path == "" {
		return errors.New("config: storage.path is required")
	}
	switch c.Engine.Mode {
	case "normal", "readonly":
	default:
		return fmt.Errorf("config: unknown engine mode %q", c.Engine.Mode)
	}
	if c.Engine.MaxImportBytes <= 0 {
		return errors.New("config: engine.max_import_bytes must be positive")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("config: unknown logging format %q", c.Logging.Format)
	}
	return nil
}

// ReadOnly reports whether the engine must refuse writes.
func (c *Config) ReadOnly() bool {
	return c.Engine.Mode == "readonly"
}

// Load reads a configuration file, recognized by extension (.toml,
// .yaml/.yml, .json), applies defaults for absent sections, and
// validates the result. An empty path loads pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse toml config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: unrecognized extension %q", filepath.Ext(path))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
