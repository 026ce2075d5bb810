// Package storage persists analysis results. SQLite keeps a local history
// with full-text search, PostgreSQL is the shared store and ClickHouse is an
// append-only analytics sink.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fca_cleaner/internal/fca"
)

var (
	// ErrNotFound is returned by Get when no record has the requested id.
	ErrNotFound = errors.New("record not found")
	// ErrNoBackend is returned by Open when no backend is enabled.
	ErrNoBackend = errors.New("no storage backend enabled")
)

// Record is one stored analysis. Result holds the full AnalysisResult JSON;
// the other columns are copies of its fields for filtering.
type Record struct {
	ID               string          `json:"id"`
	CreatedAt        time.Time       `json:"created_at"`
	Source           string          `json:"source"`
	Original         string          `json:"original"`
	Cleaned          string          `json:"cleaned"`
	Valid            bool            `json:"is_valid"`
	Reconstructed    bool            `json:"reconstructed"`
	ErrorCode        string          `json:"error_code,omitempty"`
	Message          string          `json:"message"`
	Mode             string          `json:"mode"`
	DeclaredCurrency string          `json:"declared_currency,omitempty"`
	DeclaredTotal    string          `json:"declared_total,omitempty"`
	CalculatedTotal  string          `json:"calculated_total"`
	FareStatus       string          `json:"fare_status"`
	GarbageCount     int             `json:"garbage_count"`
	Result           json.RawMessage `json:"result"`
}

// FromResult converts an analysis into a new Record with a fresh id.
func FromResult(res *fca.AnalysisResult, source string) (Record, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return Record{}, fmt.Errorf("marshal result: %w", err)
	}

	r := Record{
		ID:               uuid.NewString(),
		CreatedAt:        time.Now().UTC(),
		Source:           source,
		Original:         res.Original,
		Cleaned:          res.Cleaned,
		Valid:            res.IsValid,
		Reconstructed:    res.Reconstructed,
		ErrorCode:        string(res.ErrorCode),
		Message:          res.Message,
		Mode:             res.Mode.String(),
		DeclaredCurrency: res.Fare.DeclaredCurrency,
		CalculatedTotal:  res.Fare.CalculatedTotal.StringFixed(2),
		FareStatus:       res.Fare.Status.String(),
		GarbageCount:     len(res.GarbageTokens),
		Result:           raw,
	}
	if res.Fare.DeclaredTotal != nil {
		r.DeclaredTotal = res.Fare.DeclaredTotal.StringFixed(2)
	}
	return r, nil
}

// QueryParams filters List. Results are newest first.
type QueryParams struct {
	Valid      *bool  // Filter by validity.
	FareStatus string // matched, mismatched or no_declared_total.
	ErrorCode  string
	Source     string
	FullText   string // Search in original and cleaned text.
	Limit      int    // Max results (default 100).
	Offset     int
}

func (p QueryParams) limit() int {
	if p.Limit > 0 {
		return p.Limit
	}
	return 100
}

// Stats is an aggregate over stored records.
type Stats struct {
	Total         int64            `json:"total"`
	Valid         int64            `json:"valid"`
	Invalid       int64            `json:"invalid"`
	Reconstructed int64            `json:"reconstructed"`
	ByFareStatus  map[string]int64 `json:"by_fare_status"`
	ByErrorCode   map[string]int64 `json:"by_error_code"`
}

func newStats() *Stats {
	return &Stats{
		ByFareStatus: make(map[string]int64),
		ByErrorCode:  make(map[string]int64),
	}
}

// Store is implemented by every backend.
type Store interface {
	Save(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context, p QueryParams) ([]Record, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}

// Config holds the settings of every backend. A backend is used when it is
// enabled; SQLite is enabled by a non-empty path.
type Config struct {
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
}

// DefaultConfig returns local development settings with only SQLite enabled.
func DefaultConfig() Config {
	return Config{
		SQLite: SQLiteConfig{Path: "fca.db"},
		Postgres: PostgresConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "fca",
			User:     "fca",
			Password: "fca",
		},
		ClickHouse: ClickHouseConfig{
			Host:     "localhost",
			Port:     9000,
			Database: "fca",
			User:     "default",
		},
	}
}

// Open opens every enabled backend and combines them. PostgreSQL is the
// primary store when enabled, then SQLite, then ClickHouse.
func Open(ctx context.Context, cfg Config) (*Multi, error) {
	var stores []Store
	closeAll := func() {
		for _, s := range stores {
			_ = s.Close()
		}
	}

	if cfg.Postgres.Enabled {
		pg, err := OpenPostgres(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if err := pg.CreateSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("postgres schema: %w", err)
		}
		stores = append(stores, pg)
	}
	if cfg.SQLite.Path != "" {
		lite, err := OpenSQLite(cfg.SQLite.Path)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		stores = append(stores, lite)
	}
	if cfg.ClickHouse.Enabled {
		ch, err := OpenClickHouse(ctx, cfg.ClickHouse)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		if err := ch.CreateSchema(ctx); err != nil {
			closeAll()
			_ = ch.Close()
			return nil, fmt.Errorf("clickhouse schema: %w", err)
		}
		stores = append(stores, ch)
	}

	if len(stores) == 0 {
		return nil, ErrNoBackend
	}
	return NewMulti(stores[0], stores[1:]...), nil
}
