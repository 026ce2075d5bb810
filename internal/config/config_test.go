package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, "fca.db", cfg.Storage.SQLite.Path)
	assert.False(t, cfg.Storage.Postgres.Enabled)
	assert.Equal(t, DefaultNATSSubject, cfg.NATS.Subject)
	assert.Equal(t, 400, cfg.AnalyzerLimits().MaxTokens)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FCA_SERVER_PORT", "9090")
	t.Setenv("FCA_SERVER_AUTH_ENABLED", "true")
	t.Setenv("FCA_SERVER_API_KEYS", "k1,k2")
	t.Setenv("FCA_SERVER_REQUEST_TIMEOUT", "5s")
	t.Setenv("FCA_LOG_LEVEL", "debug")
	t.Setenv("FCA_POSTGRES_ENABLED", "true")
	t.Setenv("FCA_POSTGRES_HOST", "db.internal")
	t.Setenv("FCA_LIMITS_MAX_TOKENS", "50")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.True(t, cfg.Server.AuthEnabled)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, 5*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Storage.Postgres.Enabled)
	assert.Equal(t, "db.internal", cfg.Storage.Postgres.Host)
	assert.Equal(t, 5432, cfg.Storage.Postgres.Port)
	assert.Equal(t, 50, cfg.Limits.MaxTokens)
	assert.Equal(t, DefaultMaxTokenLength, cfg.Limits.MaxTokenLength)
}

const testConfigYAML = `
log:
  level: warn
  format: console
server:
  port: 8181
  max_batch: 20
sqlite:
  path: /tmp/history.db
clickhouse:
  enabled: true
  host: ch.internal
nats:
  subject: fares.in
batch:
  workers: 2
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeFile(t, "fca.yaml", testConfigYAML)
	t.Setenv("FCA_BATCH_WORKERS", "6")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Server.MaxBatch)
	assert.Equal(t, "/tmp/history.db", cfg.Storage.SQLite.Path)
	assert.True(t, cfg.Storage.ClickHouse.Enabled)
	assert.Equal(t, "ch.internal", cfg.Storage.ClickHouse.Host)
	assert.Equal(t, 9000, cfg.Storage.ClickHouse.Port)
	assert.Equal(t, "fares.in", cfg.NATS.Subject)
	assert.Equal(t, DefaultNATSQueue, cfg.NATS.Queue)
	assert.Equal(t, 6, cfg.Batch.Workers)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := writeFile(t, "bad.yaml", "log:\n  level: loud\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }, "log.format"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"auth without keys", func(c *Config) { c.Server.AuthEnabled = true }, "server.api_keys"},
		{"auth with keys", func(c *Config) {
			c.Server.AuthEnabled = true
			c.Server.APIKeys = []string{"k"}
		}, ""},
		{"negative tokens", func(c *Config) { c.Limits.MaxTokens = -1 }, "limits.max_tokens"},
		{"postgres without host", func(c *Config) {
			c.Storage.Postgres.Enabled = true
			c.Storage.Postgres.Host = ""
		}, "postgres.host"},
		{"clickhouse without host", func(c *Config) {
			c.Storage.ClickHouse.Enabled = true
			c.Storage.ClickHouse.Host = ""
		}, "clickhouse.host"},
		{"negative workers", func(c *Config) { c.Batch.Workers = -2 }, "batch.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewAnalyzer(t *testing.T) {
	cfg := Default()
	a, err := cfg.NewAnalyzer()
	require.NoError(t, err)
	assert.True(t, a.Analyze("LON BA PAR 100.00 NUC 100.00 END").IsValid)

	cfg.Tables.Path = writeFile(t, "codes.yaml", "airports: [LON, PAR]\nairlines: [BA]\ncurrencies: [EUR]\n")
	a, err = cfg.NewAnalyzer()
	require.NoError(t, err)
	assert.Equal(t, []string{"LON", "PAR"}, a.Tables().Airports())

	cfg.Tables.Path = filepath.Join(t.TempDir(), "none.yaml")
	_, err = cfg.NewAnalyzer()
	assert.Error(t, err)
}
