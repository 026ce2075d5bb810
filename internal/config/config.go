// Package config loads service configuration from an optional YAML file and
// FCA_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"fca_cleaner/internal/fca"
	"fca_cleaner/internal/logging"
	"fca_cleaner/internal/storage"
)

// Config is the root configuration of every command.
type Config struct {
	Log     logging.LogConfig `mapstructure:"log"`
	Limits  LimitsConfig      `mapstructure:"limits"`
	Tables  TablesConfig      `mapstructure:"tables"`
	Server  ServerConfig      `mapstructure:"server"`
	Storage storage.Config    `mapstructure:",squash"`
	NATS    NATSConfig        `mapstructure:"nats"`
	Batch   BatchConfig       `mapstructure:"batch"`
}

// LimitsConfig bounds the size of a single pattern.
type LimitsConfig struct {
	MaxTokens      int `mapstructure:"max_tokens"`
	MaxTokenLength int `mapstructure:"max_token_length"`
}

// TablesConfig points at a replacement reference table file. An empty path
// keeps the built-in tables.
type TablesConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the REST API.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	AuthEnabled    bool          `mapstructure:"auth_enabled"`
	APIKeys        []string      `mapstructure:"api_keys"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxBatch       int           `mapstructure:"max_batch"`
}

// NATSConfig configures the message feed worker.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Subject       string `mapstructure:"subject"`
	Queue         string `mapstructure:"queue"`
	ResultSubject string `mapstructure:"result_subject"`
	Persist       bool   `mapstructure:"persist"`
}

// BatchConfig configures file batch runs.
type BatchConfig struct {
	Workers int `mapstructure:"workers"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{Storage: storage.DefaultConfig()}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks the configuration for values no command can run with.
func (c *Config) Validate() error {
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format %q is invalid; expected json|console", c.Log.Format)
	}

	if c.Limits.MaxTokens < 1 {
		return fmt.Errorf("limits.max_tokens must be >= 1, got %d", c.Limits.MaxTokens)
	}
	if c.Limits.MaxTokenLength < 1 {
		return fmt.Errorf("limits.max_token_length must be >= 1, got %d", c.Limits.MaxTokenLength)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	if c.Server.AuthEnabled && len(c.Server.APIKeys) == 0 {
		return errors.New("server.api_keys is required when server.auth_enabled is set")
	}
	if c.Server.MaxBatch < 1 {
		return fmt.Errorf("server.max_batch must be >= 1, got %d", c.Server.MaxBatch)
	}

	if pg := c.Storage.Postgres; pg.Enabled {
		if pg.Host == "" || pg.Database == "" {
			return errors.New("postgres.host and postgres.database are required when postgres is enabled")
		}
	}
	if ch := c.Storage.ClickHouse; ch.Enabled && ch.Host == "" {
		return errors.New("clickhouse.host is required when clickhouse is enabled")
	}

	if c.NATS.Subject == "" {
		return errors.New("nats.subject is required")
	}
	if c.Batch.Workers < 1 {
		return fmt.Errorf("batch.workers must be >= 1, got %d", c.Batch.Workers)
	}
	return nil
}

// AnalyzerLimits converts the limits section for fca.New.
func (c *Config) AnalyzerLimits() fca.Limits {
	return fca.Limits{MaxTokens: c.Limits.MaxTokens, MaxTokenLength: c.Limits.MaxTokenLength}
}

// NewAnalyzer builds an analyzer with the configured limits and tables.
func (c *Config) NewAnalyzer() (*fca.Analyzer, error) {
	opts := []fca.Option{fca.WithLimits(c.AnalyzerLimits())}
	if c.Tables.Path != "" {
		f, err := os.Open(c.Tables.Path)
		if err != nil {
			return nil, fmt.Errorf("open tables: %w", err)
		}
		defer f.Close()

		tables, err := fca.LoadTables(f)
		if err != nil {
			return nil, fmt.Errorf("load tables %s: %w", c.Tables.Path, err)
		}
		opts = append(opts, fca.WithTables(tables))
	}
	return fca.New(opts...), nil
}
