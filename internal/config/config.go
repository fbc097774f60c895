// Package config holds the process-level settings of the stepseq command.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/rs/zerolog"
)

// Journal backends understood by the command.
const (
	JournalSQLite = "sqlite"
	JournalWAL    = "wal"
	JournalMemory = "memory"
)

// Config is read from the environment; command-line flags override it.
type Config struct {
	Journal     string        `env:"STEPSEQ_JOURNAL"`
	JournalKind string        `env:"STEPSEQ_JOURNAL_KIND" envDefault:"sqlite"`
	Parallel    int           `env:"STEPSEQ_PARALLEL" envDefault:"4"`
	LogLevel    string        `env:"STEPSEQ_LOG_LEVEL" envDefault:"info"`
	Style       string        `env:"STEPSEQ_STYLE"`
	Timeout     time.Duration `env:"STEPSEQ_TIMEOUT" envDefault:"30s"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses and validates a Config.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values that env parsing cannot.
func (c Config) Validate() error {
	switch strings.ToLower(c.JournalKind) {
	case JournalSQLite, JournalWAL, JournalMemory:
	default:
		return fmt.Errorf("unknown journal kind %q", c.JournalKind)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level returns the zerolog level named by LogLevel.
func (c Config) Level() (zerolog.Level, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
