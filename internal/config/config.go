// Package config loads the YAML configuration of the oifits command.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendFS     = "fs"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Config is the command configuration.
type Config struct {
	Store  StoreConfig  `yaml:"store"`
	Match  MatchConfig  `yaml:"match"`
	Merge  MergeConfig  `yaml:"merge"`
	Log    LogConfig    `yaml:"log"`
	Export ExportConfig `yaml:"export"`
}

// StoreConfig selects where archives live.
type StoreConfig struct {
	Backend    string   `yaml:"backend"`
	Root       string   `yaml:"root"`
	Compressor string   `yaml:"compressor"`
	S3         S3Config `yaml:"s3"`
}

// S3Config reaches an S3-compatible bucket.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// MatchConfig tunes target and instrument mode grouping.
type MatchConfig struct {
	// SeparationArcsec is the like-match radius for targets.
	SeparationArcsec float64 `yaml:"separation_arcsec"`
	// Exact groups targets and modes by name only.
	Exact bool `yaml:"exact"`
	// StaConf splits granules by station configuration.
	StaConf bool `yaml:"sta_conf"`
}

// MergeConfig tunes selection and merging.
type MergeConfig struct {
	Parallelism int  `yaml:"parallelism"`
	Check       bool `yaml:"check"`
}

// LogConfig tunes logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ExportConfig tunes Parquet export.
type ExportConfig struct {
	Compression string `yaml:"compression"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{Backend: BackendFS, Root: ".", Compressor: "noop"},
		Match: MatchConfig{SeparationArcsec: 1},
		Log:   LogConfig{Level: "info", Format: "text"},
		Export: ExportConfig{
			Compression: "snappy",
		},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendFS, BackendMemory:
	case BackendS3:
		if c.Store.S3.Bucket == "" {
			errs = append(errs, errors.New("store.s3.bucket is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want fs, memory or s3", c.Store.Backend))
	}
	switch c.Store.Compressor {
	case "", "noop", "none", "gzip", "zstd":
	default:
		errs = append(errs, fmt.Errorf("store.compressor %q: want noop, gzip or zstd", c.Store.Compressor))
	}
	if c.Match.SeparationArcsec < 0 {
		errs = append(errs, fmt.Errorf("match.separation_arcsec %g is negative", c.Match.SeparationArcsec))
	}
	if c.Merge.Parallelism < 0 {
		errs = append(errs, fmt.Errorf("merge.parallelism %d is negative", c.Merge.Parallelism))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name onto slog.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", s, err)
	}
	return l, nil
}

// NewLogger builds the command logger.
func (c LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
