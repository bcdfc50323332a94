// Copyright 2026 The Spak Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arclight-systems/spak/lib/pack"
	"github.com/arclight-systems/spak/lib/reducestream"
)

// Config is the master configuration for a spak-based tool: the
// packager's tuning knobs plus the log level its structured logger
// runs at.
type Config struct {
	// LogLevel is one of debug, info, warn, error. Empty means info.
	LogLevel string `yaml:"logLevel"`

	// Pack configures the Packager a tool constructs via PackOptions.
	Pack PackConfig `yaml:"pack"`
}

// PackConfig mirrors pack.Options in a form yaml can unmarshal:
// Compression and WriteTimeout are strings on disk, resolved by
// PackOptions.
type PackConfig struct {
	// Cap is the per-member byte budget.
	Cap int64 `yaml:"cap"`

	// Workers sizes the write/fetch pool. 0 uses runtime.NumCPU().
	Workers int `yaml:"workers"`

	// Compression is one of none, lz4, zstd, bg4_lz4.
	Compression string `yaml:"compression"`

	// WriteTimeout is a time.ParseDuration string, e.g. "15s".
	WriteTimeout string `yaml:"writeTimeout"`
}

// Default returns the configuration used as a base before a config
// file is loaded. These exist to give every field a sensible
// zero-value, not as a fallback for a missing config file — Load still
// requires SPAK_CONFIG to be set.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Pack: PackConfig{
			Cap:          pack.DefaultCap,
			Workers:      0,
			Compression:  "lz4",
			WriteTimeout: "15s",
		},
	}
}

// Load loads configuration from the path named by the SPAK_CONFIG
// environment variable. There is no fallback search path: if
// SPAK_CONFIG is unset, Load fails rather than guessing.
func Load() (*Config, error) {
	path := os.Getenv("SPAK_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("config: SPAK_CONFIG environment variable not set; " +
			"set it to the path of your config file, or pass --config explicitly")
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, starting
// from Default and overlaying whatever the file sets.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors, collecting every
// violation rather than stopping at the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Pack.Cap <= 0 {
		errs = append(errs, fmt.Errorf("pack.cap must be positive"))
	}
	if c.Pack.Workers < 0 {
		errs = append(errs, fmt.Errorf("pack.workers must not be negative"))
	}
	if _, err := reducestream.ParseCompressionTag(c.Pack.Compression); err != nil {
		errs = append(errs, fmt.Errorf("pack.compression: %w", err))
	}
	if c.Pack.WriteTimeout != "" {
		if _, err := time.ParseDuration(c.Pack.WriteTimeout); err != nil {
			errs = append(errs, fmt.Errorf("pack.writeTimeout: %w", err))
		}
	}
	if _, err := parseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PackOptions resolves the loaded configuration into pack.Options,
// including a structured logger at the configured level. Callers pass
// the result directly to pack.New.
func (c *Config) PackOptions() (pack.Options, error) {
	tag, err := reducestream.ParseCompressionTag(c.Pack.Compression)
	if err != nil {
		return pack.Options{}, fmt.Errorf("config: pack.compression: %w", err)
	}

	var timeout time.Duration
	if c.Pack.WriteTimeout != "" {
		timeout, err = time.ParseDuration(c.Pack.WriteTimeout)
		if err != nil {
			return pack.Options{}, fmt.Errorf("config: pack.writeTimeout: %w", err)
		}
	}

	level, err := parseLogLevel(c.LogLevel)
	if err != nil {
		return pack.Options{}, fmt.Errorf("config: %w", err)
	}

	return pack.Options{
		Workers:      c.Pack.Workers,
		Cap:          c.Pack.Cap,
		Compression:  tag,
		WriteTimeout: timeout,
		Logger:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})),
	}, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logLevel: unknown level %q", s)
	}
}
