package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a durable Store backed by a single-table SQLite database.
// Expiry is stored as unix milliseconds; 0 means the row never expires.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// kv table exists. Use ":memory:" for a throwaway database.
func OpenSQLite(path string) (*SQLite, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("kv: create sqlite directory: %w", err)
		}
		dsn = "file:" + path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("kv: open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serialises writers.
	db.SetMaxOpenConns(1)

	if err := initSQLite(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLite{db: db, now: time.Now}, nil
}

func initSQLite(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			path TEXT NOT NULL DEFAULT '',
			secure INTEGER NOT NULL DEFAULT 0,
			same_site TEXT NOT NULL DEFAULT '',
			expires_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("kv: init sqlite: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM kv WHERE key=? AND (expires_at=0 OR expires_at>?)`,
		key, s.now().UnixMilli()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("kv: get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string, opts SetOptions) error {
	now := s.now()
	var expires int64
	if at := opts.ExpiresAt(now); !at.IsZero() {
		expires = at.UnixMilli()
	}
	secure := 0
	if opts.Secure {
		secure = 1
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO kv(key, value, path, secure, same_site, expires_at, updated_at)
		VALUES(?,?,?,?,?,?,?)
		ON CONFLICT(key) DO UPDATE SET
			value=excluded.value, path=excluded.path, secure=excluded.secure,
			same_site=excluded.same_site, expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		key, value, opts.Path, secure, string(opts.SameSite), expires, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("kv: set %q: %w", key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key=?`, key); err != nil {
		return fmt.Errorf("kv: delete %q: %w", key, err)
	}
	return nil
}

// Keys returns the live keys in sorted order.
func (s *SQLite) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key FROM kv WHERE expires_at=0 OR expires_at>? ORDER BY key`, s.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("kv: list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("kv: scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Prune deletes expired rows and reports how many were removed.
func (s *SQLite) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE expires_at<>0 AND expires_at<=?`, s.now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("kv: prune: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
