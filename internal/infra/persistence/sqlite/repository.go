// Package sqlite persists housing collections to a single SQLite table, one
// JSON payload per bucket.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"housingcore/pkg/domain"
)

var _ domain.Repository = (*Repository)(nil)

const (
	defaultPath = "housing.db"
	versionName = "state"
)

// Repository is a domain.Repository backed by SQLite.
type Repository struct {
	db   *sql.DB
	path string
}

// Open creates the database file and state table when missing.
func Open(ctx context.Context, path string) (*Repository, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite permits one writer at a time.
	db.SetMaxOpenConns(1)
	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS state (
			bucket TEXT PRIMARY KEY,
			payload BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS state_version (
			name TEXT PRIMARY KEY,
			version INTEGER NOT NULL
		)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create state tables: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO state_version(name,version) VALUES(?,0) ON CONFLICT(name) DO NOTHING`, versionName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init state version: %w", err)
	}
	return &Repository{db: db, path: path}, nil
}

// Get returns the payload stored under bucket, or nil when absent.
func (r *Repository) Get(ctx context.Context, bucket domain.Bucket) ([]byte, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM state WHERE bucket = ?`, string(bucket)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", bucket, err)
	}
	return payload, nil
}

// Load reads the version row and every bucket inside one transaction.
func (r *Repository) Load(ctx context.Context) (snap domain.Snapshot, retErr error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var version int64
	if err := tx.QueryRowContext(ctx, `SELECT version FROM state_version WHERE name = ?`, versionName).Scan(&version); err != nil {
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

// Put upserts every bucket inside one SQL transaction.
func (r *Repository) Put(ctx context.Context, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, nil, payloads)
}

// PutIf upserts the buckets only when the stored version equals expected. The
// version bump and the upserts share one transaction.
func (r *Repository) PutIf(ctx context.Context, expected uint64, payloads map[domain.Bucket][]byte) error {
	return r.put(ctx, &expected, payloads)
}

func (r *Repository) put(ctx context.Context, expected *uint64, payloads map[domain.Bucket][]byte) (retErr error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	var res sql.Result
	if expected == nil {
		res, err = tx.ExecContext(ctx, `UPDATE state_version SET version = version + 1 WHERE name = ?`, versionName)
	} else {
		res, err = tx.ExecContext(ctx, `UPDATE state_version SET version = version + 1 WHERE name = ? AND version = ?`,
			versionName, int64(*expected))
	}
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if err := checkBumped(res, expected); err != nil {
		return err
	}
	for _, bucket := range orderedBuckets(payloads) {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`,
			string(bucket), payloads[bucket]); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func checkBumped(res sql.Result, expected *uint64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("bump version: %w", err)
	}
	if n == 1 {
		return nil
	}
	if expected == nil {
		return errors.New("state version row missing")
	}
	return fmt.Errorf("sqlite state moved past version %d: %w", *expected, domain.ErrVersionConflict)
}

// Close releases the database handle.
func (r *Repository) Close() error { return r.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (r *Repository) DB() *sql.DB { return r.db }

// Path returns the configured database path.
func (r *Repository) Path() string { return r.path }

// orderedBuckets returns the known buckets first in canonical order, then any
// others.
func orderedBuckets(payloads map[domain.Bucket][]byte) []domain.Bucket {
	out := make([]domain.Bucket, 0, len(payloads))
	seen := make(map[domain.Bucket]struct{}, len(payloads))
	for _, b := range domain.Buckets {
		if _, ok := payloads[b]; ok {
			out = append(out, b)
			seen[b] = struct{}{}
		}
	}
	for b := range payloads {
		if _, ok := seen[b]; !ok {
			out = append(out, b)
		}
	}
	return out
}
