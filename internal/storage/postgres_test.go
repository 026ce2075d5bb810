package storage

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// setupTestPostgres connects to a test database.
// Returns nil if no PostgreSQL connection is available.
func setupTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()

	cfg := DefaultConfig().Postgres
	cfg.Host = envOr("POSTGRES_HOST", cfg.Host)
	cfg.User = envOr("POSTGRES_USER", cfg.User)
	cfg.Password = envOr("POSTGRES_PASSWORD", cfg.Password)
	cfg.Database = envOr("POSTGRES_DB", cfg.Database)
	if port, err := strconv.Atoi(os.Getenv("POSTGRES_PORT")); err == nil {
		cfg.Port = port
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	pg, err := OpenPostgres(ctx, cfg)
	if err != nil {
		return nil
	}
	if err := pg.CreateSchema(ctx); err != nil {
		_ = pg.Close()
		return nil
	}
	t.Cleanup(func() { _ = pg.Close() })
	return pg
}

func TestPostgres_SaveGetList(t *testing.T) {
	pg := setupTestPostgres(t)
	if pg == nil {
		t.Skip("No PostgreSQL connection available")
	}
	ctx := context.Background()

	source := "test-" + uuid.NewString()
	r := testRecord(uuid.NewString(), "NYC AA LON 100.00 NUC 100.00 END", "NYC AA LON 100.00 NUC 100.00 END",
		true, "matched", "")
	r.Source = source
	r.Result = []byte(`{"is_valid": true}`)

	require.NoError(t, pg.Save(ctx, r))
	require.NoError(t, pg.Save(ctx, r))

	got, err := pg.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.ID, got.ID)
	assert.Equal(t, r.Cleaned, got.Cleaned)
	assert.True(t, r.CreatedAt.Equal(got.CreatedAt))
	assert.JSONEq(t, `{"is_valid": true}`, string(got.Result))

	list, err := pg.List(ctx, QueryParams{Source: source, FullText: "aa lon"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, r.ID, list[0].ID)

	_, err = pg.Get(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrNotFound)

	stats, err := pg.Stats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Total, int64(1))
}

func TestPostgresQuery(t *testing.T) {
	valid := true
	query, args := postgresQuery(QueryParams{
		Valid:      &valid,
		FareStatus: "mismatched",
		FullText:   "BOM",
		Limit:      20,
	})

	assert.Contains(t, query, "SELECT id::text, created_at")
	assert.Contains(t, query, "result::text FROM fca_analyses")
	assert.Contains(t, query, "WHERE is_valid = $1 AND fare_status = $2 AND (original ILIKE $3 OR cleaned ILIKE $3)")
	assert.Contains(t, query, "ORDER BY created_at DESC LIMIT 20 OFFSET 0")
	assert.Equal(t, []any{true, "mismatched", "%BOM%"}, args)
}

func TestPostgresConnString(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5433, Database: "fca", User: "u", Password: "p"}
	assert.Equal(t, "postgres://u:p@db:5433/fca?sslmode=disable", cfg.connString())

	cfg.SSLMode = "require"
	assert.Equal(t, "postgres://u:p@db:5433/fca?sslmode=require", cfg.connString())
}
