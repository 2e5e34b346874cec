package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS responses (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	expires_at INTEGER NOT NULL DEFAULT 0
)`

// SQLiteClient persists cache entries in a local SQLite file.
type SQLiteClient struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteClient opens (or creates) the cache database at path.
// Use ":memory:" for a throwaway cache.
func NewSQLiteClient(path string) (*SQLiteClient, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite cache schema: %w", err)
	}
	return &SQLiteClient{db: db, now: time.Now}, nil
}

func (c *SQLiteClient) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expires int64
	err := c.db.QueryRowContext(ctx,
		`SELECT value, expires_at FROM responses WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite get: %w", err)
	}
	if expires > 0 && c.now().Unix() > expires {
		_ = c.Delete(ctx, key)
		return nil, ErrCacheMiss
	}
	return value, nil
}

func (c *SQLiteClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = c.now().Add(ttl).Unix()
	}
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO responses (key, value, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		key, value, expires,
	)
	if err != nil {
		return fmt.Errorf("sqlite set: %w", err)
	}
	return nil
}

func (c *SQLiteClient) Delete(ctx context.Context, key string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM responses WHERE key = ?`, key); err != nil {
		return fmt.Errorf("sqlite delete: %w", err)
	}
	return nil
}

func (c *SQLiteClient) Close() error {
	return c.db.Close()
}
