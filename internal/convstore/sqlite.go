package convstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteKV is a file-backed KV implementation. Expiry is enforced on read;
// Sweep removes expired rows and is intended to run on a schedule.
type SQLiteKV struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteKV opens (or creates) the store at path. Use ":memory:" for an
// ephemeral database.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteKV{db: db, now: time.Now}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteKV) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create kv table: %w", err)
	}
	_, err = s.db.Exec("CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at)")
	if err != nil {
		return fmt.Errorf("failed to create expiry index: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE key = ?", key,
	).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read key: %w", err)
	}
	if expiresAt.Valid && s.now().UnixMilli() > expiresAt.Int64 {
		_, _ = s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
		return nil, ErrNotFound
	}
	return value, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt sql.NullInt64
	if ttl > 0 {
		expiresAt = sql.NullInt64{Int64: s.now().Add(ttl).UnixMilli(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO kv (key, value, expires_at) VALUES (?, ?, ?)",
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write key: %w", err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key: %w", err)
	}
	return nil
}

// Sweep deletes expired rows and returns how many were removed.
func (s *SQLiteKV) Sweep(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at < ?",
		s.now().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired keys: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// Close releases the underlying database handle.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}
