package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key           TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	value         BLOB NOT NULL,
	class         TEXT NOT NULL,
	fetched_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_type ON cache_entries (resource_type);
`

// SQLiteStore is the disk-backed Store, used when cached snapshots should
// survive process restarts (cold-start offline support).
//
// database/sql serializes access per connection; no extra locking needed.
type SQLiteStore struct {
	sqlDB *sql.DB

	now func() time.Time
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// OpenSQLite opens (or creates) a SQLite-backed cache at path and applies
// the schema.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("cache path is required")
	}
	// modernc.org/sqlite only applies pragmas in _pragma=name(value) form;
	// the underscore-prefixed mattn-style parameters are silently ignored.
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=synchronous(NORMAL)"

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite cache: %w", err)
	}
	if _, err := sqlDB.Exec(sqliteSchema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply cache schema: %w", err)
	}

	return &SQLiteStore{
		sqlDB: sqlDB,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Get returns the entry for key, stale or not.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	var (
		value     []byte
		class     string
		fetchedAt int64
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT value, class, fetched_at FROM cache_entries WHERE key = ?`,
		key.String(),
	).Scan(&value, &class, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("cache get: %w", err)
	}

	return Entry{
		Value:     json.RawMessage(value),
		FetchedAt: fromMillis(fetchedAt),
		Class:     Class(class),
	}, true, nil
}

// Put overwrites the entry for key (last writer wins).
func (s *SQLiteStore) Put(ctx context.Context, key Key, value json.RawMessage, class Class) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`INSERT INTO cache_entries (key, resource_type, value, class, fetched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET
		   value = excluded.value,
		   class = excluded.class,
		   fetched_at = excluded.fetched_at`,
		key.String(), key.Type, []byte(value), string(class), toMillis(s.now()),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Invalidate removes the entry for key.
func (s *SQLiteStore) Invalidate(ctx context.Context, key Key) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key = ?`, key.String())
	if err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}

// InvalidateType removes every entry of the given resource type.
func (s *SQLiteStore) InvalidateType(ctx context.Context, resourceType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE resource_type = ?`, resourceType)
	if err != nil {
		return fmt.Errorf("cache invalidate type: %w", err)
	}
	return nil
}

// InvalidateAll removes everything.
func (s *SQLiteStore) InvalidateAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	_, err := s.sqlDB.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return fmt.Errorf("cache invalidate all: %w", err)
	}
	return nil
}
