package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMaxTokens      = 400
	DefaultMaxTokenLength = 128

	DefaultServerPort     = 8080
	DefaultRequestTimeout = 30 * time.Second
	DefaultMaxBatch       = 100

	DefaultNATSURL       = "nats://127.0.0.1:4222"
	DefaultNATSSubject   = "fca.analyze"
	DefaultNATSQueue     = "fca-workers"
	DefaultResultSubject = "fca.results"

	DefaultBatchWorkers = 8
)

// setDefaults registers every key with viper. AutomaticEnv only overrides
// keys viper already knows, so a key missing here cannot be set from the
// environment without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", DefaultLogLevel)
	v.SetDefault("log.format", DefaultLogFormat)
	v.SetDefault("log.output_paths", []string{})
	v.SetDefault("log.error_output_paths", []string{})

	v.SetDefault("limits.max_tokens", DefaultMaxTokens)
	v.SetDefault("limits.max_token_length", DefaultMaxTokenLength)
	v.SetDefault("tables.path", "")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.auth_enabled", false)
	v.SetDefault("server.api_keys", []string{})
	v.SetDefault("server.request_timeout", DefaultRequestTimeout)
	v.SetDefault("server.max_batch", DefaultMaxBatch)

	v.SetDefault("sqlite.path", "fca.db")

	v.SetDefault("postgres.enabled", false)
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.database", "fca")
	v.SetDefault("postgres.user", "fca")
	v.SetDefault("postgres.password", "fca")
	v.SetDefault("postgres.sslmode", "disable")

	v.SetDefault("clickhouse.enabled", false)
	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "fca")
	v.SetDefault("clickhouse.user", "default")
	v.SetDefault("clickhouse.password", "")

	v.SetDefault("nats.url", DefaultNATSURL)
	v.SetDefault("nats.subject", DefaultNATSSubject)
	v.SetDefault("nats.queue", DefaultNATSQueue)
	v.SetDefault("nats.result_subject", DefaultResultSubject)
	v.SetDefault("nats.persist", false)

	v.SetDefault("batch.workers", DefaultBatchWorkers)
}

// ApplyDefaults fills zero-value fields that have a default. Explicit values
// are left alone. Storage settings are not touched: an empty SQLite path
// disables SQLite.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}

	if cfg.Limits.MaxTokens == 0 {
		cfg.Limits.MaxTokens = DefaultMaxTokens
	}
	if cfg.Limits.MaxTokenLength == 0 {
		cfg.Limits.MaxTokenLength = DefaultMaxTokenLength
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.Server.MaxBatch == 0 {
		cfg.Server.MaxBatch = DefaultMaxBatch
	}

	if cfg.NATS.URL == "" {
		cfg.NATS.URL = DefaultNATSURL
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = DefaultNATSSubject
	}
	if cfg.NATS.Queue == "" {
		cfg.NATS.Queue = DefaultNATSQueue
	}
	if cfg.NATS.ResultSubject == "" {
		cfg.NATS.ResultSubject = DefaultResultSubject
	}

	if cfg.Batch.Workers == 0 {
		cfg.Batch.Workers = DefaultBatchWorkers
	}
}
