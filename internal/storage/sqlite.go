package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig holds the SQLite database location.
type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

// SQLiteStore keeps analyses in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection serialises writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}

	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func createSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analyses (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		source TEXT NOT NULL,
		original TEXT NOT NULL,
		cleaned TEXT NOT NULL,
		is_valid INTEGER NOT NULL,
		reconstructed INTEGER NOT NULL DEFAULT 0,
		error_code TEXT,
		message TEXT,
		mode TEXT,
		declared_currency TEXT,
		declared_total TEXT,
		calculated_total TEXT,
		fare_status TEXT,
		garbage_count INTEGER NOT NULL DEFAULT 0,
		result_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_analyses_created ON analyses(created_at);
	CREATE INDEX IF NOT EXISTS idx_analyses_valid ON analyses(is_valid);
	CREATE INDEX IF NOT EXISTS idx_analyses_fare_status ON analyses(fare_status);
	CREATE INDEX IF NOT EXISTS idx_analyses_error_code ON analyses(error_code);

	-- FTS5 over the raw and cleaned pattern text.
	CREATE VIRTUAL TABLE IF NOT EXISTS analyses_fts USING fts5(
		original,
		cleaned,
		content='analyses',
		content_rowid='seq'
	);

	CREATE TRIGGER IF NOT EXISTS analyses_ai AFTER INSERT ON analyses BEGIN
		INSERT INTO analyses_fts(rowid, original, cleaned) VALUES (new.seq, new.original, new.cleaned);
	END;

	CREATE TRIGGER IF NOT EXISTS analyses_ad AFTER DELETE ON analyses BEGIN
		INSERT INTO analyses_fts(analyses_fts, rowid, original, cleaned) VALUES('delete', old.seq, old.original, old.cleaned);
	END;

	CREATE TRIGGER IF NOT EXISTS analyses_au AFTER UPDATE ON analyses BEGIN
		INSERT INTO analyses_fts(analyses_fts, rowid, original, cleaned) VALUES('delete', old.seq, old.original, old.cleaned);
		INSERT INTO analyses_fts(rowid, original, cleaned) VALUES (new.seq, new.original, new.cleaned);
	END;
	`

	_, err := db.Exec(schema)
	return err
}

// Save stores a record. Saving an id twice keeps the first copy.
func (s *SQLiteStore) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analyses (id, created_at, source, original, cleaned, is_valid, reconstructed, error_code, message, mode,
			declared_currency, declared_total, calculated_total, fare_status, garbage_count, result_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, r.ID, r.CreatedAt.UTC().Format(time.RFC3339Nano), r.Source, r.Original, r.Cleaned, boolInt(r.Valid), boolInt(r.Reconstructed),
		r.ErrorCode, r.Message, r.Mode, r.DeclaredCurrency, r.DeclaredTotal, r.CalculatedTotal, r.FareStatus, r.GarbageCount, string(r.Result))
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	return nil
}

var recordColumns = []string{
	"id", "created_at", "source", "original", "cleaned", "is_valid", "reconstructed", "error_code", "message", "mode",
	"declared_currency", "declared_total", "calculated_total", "fare_status", "garbage_count", "result_json",
}

// columnList joins recordColumns, each prefixed with prefix.
func columnList(prefix string) string {
	cols := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}

// selectColumns joins recordColumns, replacing the ones named in exprs.
func selectColumns(exprs map[string]string) string {
	cols := make([]string, len(recordColumns))
	for i, c := range recordColumns {
		cols[i] = c
		if e, ok := exprs[c]; ok {
			cols[i] = e
		}
	}
	return strings.Join(cols, ", ")
}

// Get retrieves a single record by id.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columnList("")+` FROM analyses WHERE id = ?`, id)
	r, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// sqliteQuery builds the List query. Full-text search joins the FTS table.
func sqliteQuery(p QueryParams) (string, []any) {
	var conditions []string
	var args []any

	if p.Valid != nil {
		conditions = append(conditions, "a.is_valid = ?")
		args = append(args, boolInt(*p.Valid))
	}
	if p.FareStatus != "" {
		conditions = append(conditions, "a.fare_status = ?")
		args = append(args, p.FareStatus)
	}
	if p.ErrorCode != "" {
		conditions = append(conditions, "a.error_code = ?")
		args = append(args, p.ErrorCode)
	}
	if p.Source != "" {
		conditions = append(conditions, "a.source = ?")
		args = append(args, p.Source)
	}

	query := `SELECT ` + columnList("a.") + ` FROM analyses a`
	if p.FullText != "" {
		query += ` JOIN analyses_fts ON a.seq = analyses_fts.rowid`
		conditions = append([]string{"analyses_fts MATCH ?"}, conditions...)
		args = append([]any{ftsPhrase(p.FullText)}, args...)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY a.seq DESC LIMIT %d OFFSET %d", p.limit(), p.Offset)
	return query, args
}

// ftsPhrase quotes text as a single FTS5 phrase so that pattern punctuation
// such as X/ or ( is not read as query syntax.
func ftsPhrase(text string) string {
	return `"` + strings.ReplaceAll(text, `"`, `""`) + `"`
}

// List retrieves records matching the given parameters.
func (s *SQLiteStore) List(ctx context.Context, p QueryParams) ([]Record, error) {
	query, args := sqliteQuery(p)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		r, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// Stats returns aggregate counts over all records.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	stats := newStats()

	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(is_valid), 0), COALESCE(SUM(reconstructed), 0) FROM analyses`)
	if err := row.Scan(&stats.Total, &stats.Valid, &stats.Reconstructed); err != nil {
		return nil, err
	}
	stats.Invalid = stats.Total - stats.Valid

	if err := s.countBy(ctx, "fare_status", stats.ByFareStatus); err != nil {
		return nil, err
	}
	if err := s.countBy(ctx, "error_code", stats.ByErrorCode); err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *SQLiteStore) countBy(ctx context.Context, column string, into map[string]int64) error {
	// column is never user input.
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s, COUNT(*) FROM analyses WHERE %s IS NOT NULL AND %s != '' GROUP BY %s", column, column, column, column))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return err
		}
		into[key] = count
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row scanner) (*Record, error) {
	var r Record
	var createdAt, result string
	var valid, reconstructed int
	var errorCode, message, mode, currency, declared, calculated, status sql.NullString

	err := row.Scan(&r.ID, &createdAt, &r.Source, &r.Original, &r.Cleaned, &valid, &reconstructed,
		&errorCode, &message, &mode, &currency, &declared, &calculated, &status, &r.GarbageCount, &result)
	if err != nil {
		return nil, err
	}

	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	r.Valid = valid == 1
	r.Reconstructed = reconstructed == 1
	r.ErrorCode = errorCode.String
	r.Message = message.String
	r.Mode = mode.String
	r.DeclaredCurrency = currency.String
	r.DeclaredTotal = declared.String
	r.CalculatedTotal = calculated.String
	r.FareStatus = status.String
	r.Result = []byte(result)
	return &r, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
