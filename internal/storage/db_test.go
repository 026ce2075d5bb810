package storage

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fca_cleaner/internal/fca"
)

func TestFromResult(t *testing.T) {
	res := fca.Analyze("NYC AA LON 250.00 Q25.00 NUC 250.00 END")

	r, err := FromResult(res, "cli")
	require.NoError(t, err)

	_, err = uuid.Parse(r.ID)
	assert.NoError(t, err)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Equal(t, "cli", r.Source)
	assert.Equal(t, res.Original, r.Original)
	assert.Equal(t, res.Cleaned, r.Cleaned)
	assert.True(t, r.Valid)
	assert.Equal(t, "standard", r.Mode)
	assert.Equal(t, "NUC", r.DeclaredCurrency)
	assert.Equal(t, "250.00", r.DeclaredTotal)
	assert.Equal(t, "275.00", r.CalculatedTotal)
	assert.Equal(t, "mismatched", r.FareStatus)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(r.Result, &decoded))
	assert.Equal(t, res.Cleaned, decoded["cleaned"])
}

func TestFromResult_Invalid(t *testing.T) {
	res := fca.Analyze("NYC 250.00 NUC 250.00 END")

	r, err := FromResult(res, "api")
	require.NoError(t, err)
	assert.False(t, r.Valid)
	assert.Equal(t, "incomplete_segment", r.ErrorCode)
	assert.NotEmpty(t, r.Message)
}

func TestFromResult_UniqueIDs(t *testing.T) {
	res := fca.Analyze("LON BA PAR 100.00 NUC 100.00 END")

	a, err := FromResult(res, "")
	require.NoError(t, err)
	b, err := FromResult(res, "")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{})
	assert.EqualError(t, err, "no storage backend enabled")

	cfg := DefaultConfig()
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "open.db")
	m, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer m.Close()

	res := fca.Analyze("LON BA PAR 100.00 NUC 100.00 END")
	r, err := FromResult(res, "test")
	require.NoError(t, err)
	require.NoError(t, m.Save(ctx, r))

	got, err := m.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "LON BA PAR 100.00 NUC 100.00 END", got.Cleaned)
}
