// Package postgres persists housing collections to a Postgres state table,
// one JSONB payload per bucket.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"housingcore/pkg/domain"
)

var _ domain.Repository = (*Repository)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/housing?sslmode=disable"
	versionName   = "state"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Repository is a domain.Repository backed by Postgres.
type Repository struct {
	db *sql.DB
}

// Open connects to dsn (defaultDSN when empty), pings the server and ensures
// the state table exists.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureStateTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func ensureStateTable(ctx context.Context, db *sql.DB) error {
	for _, ddl := range []string{
		`CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`,
		`CREATE TABLE IF NOT EXISTS state_version (
		name TEXT PRIMARY KEY,
		version BIGINT NOT NULL
	)`,
	} {
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure state table: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO state_version(name,version) VALUES($1,$2) ON CONFLICT(name) DO NOTHING`, versionName, int64(0)); err != nil {
		return fmt.Errorf("init state version: %w", err)
	}
	return nil
}

// Get returns the payload stored under bucket, or nil when absent.
func (r *Repository) Get(ctx context.Context, bucket domain.Bucket) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = $1`, string(bucket)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", bucket, err)
	}
	return payload, nil
}

// Load reads the version row and every bucket in one repeatable-read
// transaction.
func (r *Repository) Load(ctx context.Context) (domain.Snapshot, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM state_version WHERE name = $1`, versionName).Scan(&version); err != nil {
		return domain.Snapshot{}, fmt.Errorf("select version: %w", err)
	}
	rows, err := tx.QueryContext(ctx, `SELECT bucket, payload FROM state`)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	payloads := make(map[domain.Bucket][]byte)
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan state: %w", err)
		}
		payloads[domain.Bucket(bucket)] = payload
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("iterate state: %w", err)
	}
	return domain.Snapshot{Version: uint64(version), Payloads: payloads}, nil
}

// Put upserts every bucket inside one transaction.
func (r *Repository) Put(ctx context.Context, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, nil, payloads)
}

// PutIf upserts the buckets only when the stored version equals expected.
// The conditional UPDATE takes the version row lock, so a concurrent writer
// waits and then sees zero affected rows.
func (r *Repository) PutIf(ctx context.Context, expected uint64, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, &expected, payloads)
}

func (r *Repository) put(ctx context.Context, expected *uint64, payloads map[domain.Bucket][]byte) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	var res sql.Result
	if expected == nil {
		res, err = tx.ExecContext(ctx, `UPDATE state_version SET version = version + 1 WHERE name = $1`, versionName)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE state_version SET version = version + 1 WHERE name = $1 AND version = $2`,
			versionName, int64(*expected))
	}
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if n != 1 {
		if expected == nil {
			return errors.New("state version row missing")
		}
		return fmt.Errorf("postgres state moved past version %d: %w", *expected, domain.ErrVersionConflict)
	}

	buckets := make([]string, 0, len(payloads))
	for b := range payloads {
		buckets = append(buckets, string(b))
	}
	sort.Strings(buckets)
	for _, bucket := range buckets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`,
			bucket, payloads[domain.Bucket(bucket)]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// Close releases the connection pool.
func (r *Repository) Close() error { return r.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (r *Repository) DB() *sql.DB { return r.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
