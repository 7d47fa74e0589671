package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds run settings for the extraction tool.
type Config struct {
	// OutDir is the directory that receives extracted image files.
	OutDir string `yaml:"out_dir"`
	// LogLevel is the minimum logging level (debug, info, warn, error).
	LogLevel string `yaml:"log_level"`
	// InnoextractPath points at the innoextract binary to use for
	// installer archives. Empty means resolve it from PATH.
	InnoextractPath string `yaml:"innoextract_path"`
}

const (
	// DefaultConfigFilename is the default filename for run settings.
	DefaultConfigFilename = "uefi-capsule-extract.yaml"

	// DefaultOutDir is the default output directory for extracted images.
	DefaultOutDir = "out"

	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

// Default returns a configuration with all defaults applied.
func Default() *Config {
	return &Config{
		OutDir:   DefaultOutDir,
		LogLevel: DefaultLogLevel,
	}
}

// Load reads configuration from the provided path and validates it.
// An empty path returns the defaults; a named file must exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills in defaults for missing fields and rejects impossible
// values.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.OutDir == "" {
		cfg.OutDir = DefaultOutDir
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
}
