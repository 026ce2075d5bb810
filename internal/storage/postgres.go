package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

func (c PostgresConfig) connString() string {
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode)
}

// PostgresStore wraps a PostgreSQL connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres opens a connection pool to PostgreSQL.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.connString())
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the connection pool.
func (d *PostgresStore) Close() error {
	d.pool.Close()
	return nil
}

// CreateSchema creates the analyses table.
func (d *PostgresStore) CreateSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS fca_analyses (
		id                  UUID PRIMARY KEY,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		source              TEXT NOT NULL,
		original            TEXT NOT NULL,
		cleaned             TEXT NOT NULL,
		is_valid            BOOLEAN NOT NULL,
		reconstructed       BOOLEAN NOT NULL DEFAULT FALSE,
		error_code          TEXT NOT NULL DEFAULT '',
		message             TEXT NOT NULL DEFAULT '',
		mode                TEXT NOT NULL DEFAULT '',
		declared_currency   TEXT NOT NULL DEFAULT '',
		declared_total      TEXT NOT NULL DEFAULT '',
		calculated_total    TEXT NOT NULL DEFAULT '',
		fare_status         TEXT NOT NULL DEFAULT '',
		garbage_count       INTEGER NOT NULL DEFAULT 0,
		result              JSONB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_fca_analyses_created ON fca_analyses(created_at);
	CREATE INDEX IF NOT EXISTS idx_fca_analyses_fare_status ON fca_analyses(fare_status);
	CREATE INDEX IF NOT EXISTS idx_fca_analyses_error_code ON fca_analyses(error_code);
	`

	if _, err := d.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Partial index created separately so older servers only lose the index.
	_, _ = d.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_fca_analyses_invalid ON fca_analyses(created_at) WHERE is_valid = FALSE`)

	return nil
}

// Save inserts a record. Saving an id twice keeps the first copy.
func (d *PostgresStore) Save(ctx context.Context, r Record) error {
	_, err := d.pool.Exec(ctx, `
		INSERT INTO fca_analyses (id, created_at, source, original, cleaned, is_valid, reconstructed, error_code, message, mode,
			declared_currency, declared_total, calculated_total, fare_status, garbage_count, result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO NOTHING
	`, r.ID, r.CreatedAt, r.Source, r.Original, r.Cleaned, r.Valid, r.Reconstructed, r.ErrorCode, r.Message, r.Mode,
		r.DeclaredCurrency, r.DeclaredTotal, r.CalculatedTotal, r.FareStatus, r.GarbageCount, string(r.Result))
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

// Get retrieves a record by id.
func (d *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+postgresColumns()+` FROM fca_analyses WHERE id::text = $1`, id)
	r, err := scanPostgres(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func postgresColumns() string {
	return selectColumns(map[string]string{"id": "id::text", "result_json": "result::text"})
}

// postgresQuery builds the List query with numbered placeholders.
func postgresQuery(p QueryParams) (string, []any) {
	var conditions []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conditions = append(conditions, fmt.Sprintf(cond, len(args)))
	}

	if p.Valid != nil {
		add("is_valid = $%d", *p.Valid)
	}
	if p.FareStatus != "" {
		add("fare_status = $%d", p.FareStatus)
	}
	if p.ErrorCode != "" {
		add("error_code = $%d", p.ErrorCode)
	}
	if p.Source != "" {
		add("source = $%d", p.Source)
	}
	if p.FullText != "" {
		args = append(args, "%"+p.FullText+"%")
		n := len(args)
		conditions = append(conditions, fmt.Sprintf("(original ILIKE $%d OR cleaned ILIKE $%d)", n, n))
	}

	query := `SELECT ` + postgresColumns() + ` FROM fca_analyses`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", p.limit(), p.Offset)
	return query, args
}

// List retrieves records matching the given parameters.
func (d *PostgresStore) List(ctx context.Context, p QueryParams) ([]Record, error) {
	query, args := postgresQuery(p)
	rows, err := d.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		r, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// Stats returns aggregate counts over all records.
func (d *PostgresStore) Stats(ctx context.Context) (*Stats, error) {
	stats := newStats()

	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE is_valid),
			COUNT(*) FILTER (WHERE reconstructed)
		FROM fca_analyses
	`).Scan(&stats.Total, &stats.Valid, &stats.Reconstructed)
	if err != nil {
		return nil, fmt.Errorf("count analyses: %w", err)
	}
	stats.Invalid = stats.Total - stats.Valid

	for column, into := range map[string]map[string]int64{
		"fare_status": stats.ByFareStatus,
		"error_code":  stats.ByErrorCode,
	} {
		rows, err := d.pool.Query(ctx, fmt.Sprintf(
			"SELECT %s, COUNT(*) FROM fca_analyses WHERE %s != '' GROUP BY %s", column, column, column))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key string
			var count int64
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, err
			}
			into[key] = count
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func scanPostgres(row pgx.Row) (*Record, error) {
	var r Record
	var result string
	err := row.Scan(&r.ID, &r.CreatedAt, &r.Source, &r.Original, &r.Cleaned, &r.Valid, &r.Reconstructed,
		&r.ErrorCode, &r.Message, &r.Mode, &r.DeclaredCurrency, &r.DeclaredTotal, &r.CalculatedTotal,
		&r.FareStatus, &r.GarbageCount, &result)
	if err != nil {
		return nil, err
	}
	r.Result = []byte(result)
	return &r, nil
}
