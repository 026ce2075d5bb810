package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

// ClickHouseStore is the analytics sink. Rows are never updated.
type ClickHouseStore struct {
	conn driver.Conn
}

// OpenClickHouse opens a connection to ClickHouse.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig) (*ClickHouseStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout:     10 * time.Second,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping clickhouse: %w", err)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// Close closes the ClickHouse connection.
func (d *ClickHouseStore) Close() error {
	return d.conn.Close()
}

// CreateSchema creates the analyses table.
func (d *ClickHouseStore) CreateSchema(ctx context.Context) error {
	err := d.conn.Exec(ctx, `CREATE TABLE IF NOT EXISTS fca_analyses (
			id                  UUID,
			created_at          DateTime64(3),
			source              LowCardinality(String),
			original            String,
			cleaned             String,
			is_valid            Bool,
			reconstructed       Bool,
			error_code          LowCardinality(String),
			message             String,
			mode                LowCardinality(String),
			declared_currency   LowCardinality(String),
			declared_total      String,
			calculated_total    String,
			fare_status         LowCardinality(String),
			garbage_count       UInt32,
			result_json         String
		)
		ENGINE = MergeTree()
		PARTITION BY toYYYYMM(created_at)
		ORDER BY (fare_status, created_at, id)
		SETTINGS index_granularity = 8192`)
	if err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	// Bloom filter index for pattern search (ignore error if already exists).
	_ = d.conn.Exec(ctx, `ALTER TABLE fca_analyses ADD INDEX IF NOT EXISTS idx_original_bloom original TYPE tokenbf_v1(32768, 3, 0) GRANULARITY 1`)

	return nil
}

// Save inserts a single record.
func (d *ClickHouseStore) Save(ctx context.Context, r Record) error {
	return d.InsertBatch(ctx, []Record{r})
}

// InsertBatch stores multiple records in one round trip.
func (d *ClickHouseStore) InsertBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := d.conn.PrepareBatch(ctx, `INSERT INTO fca_analyses (`+columnList("")+`)`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err := batch.Append(r.ID, r.CreatedAt, r.Source, r.Original, r.Cleaned, r.Valid, r.Reconstructed,
			r.ErrorCode, r.Message, r.Mode, r.DeclaredCurrency, r.DeclaredTotal, r.CalculatedTotal,
			r.FareStatus, uint32(r.GarbageCount), string(r.Result))
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// clickhouseQuery builds the List query.
func clickhouseQuery(p QueryParams, id string) (string, []any) {
	var conditions []string
	var args []any

	if id != "" {
		conditions = append(conditions, "toString(id) = ?")
		args = append(args, id)
	}
	if p.Valid != nil {
		conditions = append(conditions, "is_valid = ?")
		args = append(args, *p.Valid)
	}
	if p.FareStatus != "" {
		conditions = append(conditions, "fare_status = ?")
		args = append(args, p.FareStatus)
	}
	if p.ErrorCode != "" {
		conditions = append(conditions, "error_code = ?")
		args = append(args, p.ErrorCode)
	}
	if p.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, p.Source)
	}
	if p.FullText != "" {
		conditions = append(conditions, "(original LIKE ? OR cleaned LIKE ?)")
		args = append(args, "%"+p.FullText+"%", "%"+p.FullText+"%")
	}

	query := `SELECT ` + selectColumns(map[string]string{"id": "toString(id)"}) + ` FROM fca_analyses`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT %d OFFSET %d", p.limit(), p.Offset)
	return query, args
}

// List retrieves records matching the given parameters.
func (d *ClickHouseStore) List(ctx context.Context, p QueryParams) ([]Record, error) {
	return d.query(ctx, p, "")
}

// Get retrieves a single record by id.
func (d *ClickHouseStore) Get(ctx context.Context, id string) (*Record, error) {
	records, err := d.query(ctx, QueryParams{Limit: 1}, id)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

func (d *ClickHouseStore) query(ctx context.Context, p QueryParams, id string) ([]Record, error) {
	query, args := clickhouseQuery(p, id)
	rows, err := d.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query analyses: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var garbage uint32
		var result string
		err := rows.Scan(&r.ID, &r.CreatedAt, &r.Source, &r.Original, &r.Cleaned, &r.Valid, &r.Reconstructed,
			&r.ErrorCode, &r.Message, &r.Mode, &r.DeclaredCurrency, &r.DeclaredTotal, &r.CalculatedTotal,
			&r.FareStatus, &garbage, &result)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		r.GarbageCount = int(garbage)
		r.Result = []byte(result)
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return records, nil
}

// Stats returns aggregate counts over all records.
func (d *ClickHouseStore) Stats(ctx context.Context) (*Stats, error) {
	stats := newStats()

	var total, valid, reconstructed uint64
	row := d.conn.QueryRow(ctx, "SELECT count(), countIf(is_valid), countIf(reconstructed) FROM fca_analyses")
	if err := row.Scan(&total, &valid, &reconstructed); err != nil {
		return nil, err
	}
	stats.Total = int64(total)
	stats.Valid = int64(valid)
	stats.Invalid = int64(total - valid)
	stats.Reconstructed = int64(reconstructed)

	for column, into := range map[string]map[string]int64{
		"fare_status": stats.ByFareStatus,
		"error_code":  stats.ByErrorCode,
	} {
		rows, err := d.conn.Query(ctx, fmt.Sprintf(
			"SELECT %s, count() FROM fca_analyses WHERE %s != '' GROUP BY %s", column, column, column))
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			var key string
			var count uint64
			if err := rows.Scan(&key, &count); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s stats: %w", column, err)
			}
			into[key] = int64(count)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate %s stats: %w", column, err)
		}
		rows.Close()
	}
	return stats, nil
}
