// Package pgstore implements the reading store on PostgreSQL using pgx.
//
// Readings live in a single append-only table indexed by (channel, ts DESC),
// so both the poll loop's "newest after cursor" query and history queries are
// index scans. The schema is shipped as embedded goose migrations; see
// [Store.Migrate].
package pgstore

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/jpalmerr/sensorsync/internal/store"
)

// migrations holds the schema, compiled into the binary.
//
//go:embed migrations/*.sql
var migrations embed.FS

const (
	insertReading = `INSERT INTO readings (channel, value, ts, source_id) VALUES ($1, $2::jsonb, $3, $4)`

	selectNewer = `SELECT channel, value::text, ts, source_id FROM readings
WHERE channel = $1 AND ($2::timestamptz IS NULL OR ts > $2)
ORDER BY ts DESC, id DESC
LIMIT NULLIF($3::int, 0)`

	selectRecent = `SELECT channel, value::text, ts, source_id FROM readings
WHERE channel = $1
ORDER BY ts DESC, id DESC
LIMIT NULLIF($2::int, 0)`

	// DELETE rather than TRUNCATE: writers usually lack TRUNCATE privilege.
	deleteAll = `DELETE FROM readings`
)

// Options configures the connection pool.
type Options struct {
	// DSN is a PostgreSQL connection string (URL or key=value form).
	DSN string

	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32

	// ConnectTimeout bounds the initial connection attempt. Zero keeps the pgx default.
	ConnectTimeout time.Duration
}

// Store is a [store.Store] backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open creates the pool. The pool connects lazily, so Open succeeds even when
// the database is down; use [Store.Ping] to check connectivity.
func Open(ctx context.Context, opts Options) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.ConnectTimeout > 0 {
		cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Migrate applies all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", classify(err))
	}
	return nil
}

// Append inserts a reading.
func (s *Store) Append(ctx context.Context, r store.Reading) error {
	if r.Channel == "" {
		return errors.New("reading channel is required")
	}
	value := r.Value
	if len(value) == 0 {
		value = json.RawMessage("null")
	}

	if _, err := s.pool.Exec(ctx, insertReading, r.Channel, string(value), r.Timestamp, r.SourceID); err != nil {
		return fmt.Errorf("insert reading: %w", classify(err))
	}
	return nil
}

// QueryNewerThan returns at most limit readings after the cursor, newest first.
func (s *Store) QueryNewerThan(ctx context.Context, channel string, after *time.Time, limit int) ([]store.Reading, error) {
	readings, err := s.query(ctx, selectNewer, channel, after, limit)
	if err != nil {
		return nil, fmt.Errorf("query newer readings for %q: %w", channel, err)
	}
	return readings, nil
}

// QueryRecent returns at most limit readings, newest first.
func (s *Store) QueryRecent(ctx context.Context, channel string, limit int) ([]store.Reading, error) {
	readings, err := s.query(ctx, selectRecent, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent readings for %q: %w", channel, err)
	}
	return readings, nil
}

func (s *Store) query(ctx context.Context, sql string, args ...any) ([]store.Reading, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []store.Reading
	for rows.Next() {
		var (
			r     store.Reading
			value string
		)
		if err := rows.Scan(&r.Channel, &value, &r.Timestamp, &r.SourceID); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.Value = json.RawMessage(value)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// Reset deletes every reading.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, deleteAll); err != nil {
		return fmt.Errorf("delete readings: %w", classify(err))
	}
	return nil
}

// Ping checks that a connection can be acquired and used.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// Close closes the pool, waiting for acquired connections to be released.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// classify marks connectivity failures with store.ErrUnavailable. Errors
// reported by the server itself (syntax, constraint, permission) and context
// cancellation are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08: connection exception; 57P: operator intervention (shutdown)
		if len(pgErr.Code) >= 2 && (pgErr.Code[:2] == "08" || pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03") {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return err
	}

	return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
}
