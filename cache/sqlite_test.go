package cache

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	key := Key{Type: TypeEvent, ID: "e9"}
	if err := s.Put(ctx, key, json.RawMessage(`{"title":"Night Market"}`), ClassProfile); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if string(entry.Value) != `{"title":"Night Market"}` {
		t.Fatalf("value=%s", entry.Value)
	}
	if !entry.FetchedAt.Equal(base) {
		t.Fatalf("fetched_at=%v want=%v", entry.FetchedAt, base)
	}
	if entry.Class != ClassProfile {
		t.Fatalf("class=%q", entry.Class)
	}

	if _, ok, _ := s.Get(ctx, Key{Type: TypeEvent, ID: "missing"}); ok {
		t.Fatal("absent key must report ok=false")
	}
}

func TestSQLiteStoreOverwrite(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()
	key := Key{Type: TypeOrder, ID: "o1"}

	if err := s.Put(ctx, key, json.RawMessage(`{"status":"pending"}`), ClassVolatile); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(ctx, key, json.RawMessage(`{"status":"confirmed"}`), ClassVolatile); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, ok, _ := s.Get(ctx, key)
	if !ok || string(entry.Value) != `{"status":"confirmed"}` {
		t.Fatalf("get after overwrite: ok=%v value=%s", ok, entry.Value)
	}
}

func TestSQLiteStoreInvalidateType(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)
	ctx := context.Background()

	put := func(k Key) {
		t.Helper()
		if err := s.Put(ctx, k, json.RawMessage(`{}`), ClassVolatile); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	put(Key{Type: TypeOrderList, ID: "limit=20&page=1"})
	put(Key{Type: TypeOrderList, ID: "limit=20&page=2"})
	put(Key{Type: TypeOrder, ID: "o1"})

	if err := s.InvalidateType(ctx, TypeOrderList); err != nil {
		t.Fatalf("invalidate type: %v", err)
	}

	if _, ok, _ := s.Get(ctx, Key{Type: TypeOrderList, ID: "limit=20&page=1"}); ok {
		t.Fatal("page 1 should be gone")
	}
	if _, ok, _ := s.Get(ctx, Key{Type: TypeOrderList, ID: "limit=20&page=2"}); ok {
		t.Fatal("page 2 should be gone")
	}
	if _, ok, _ := s.Get(ctx, Key{Type: TypeOrder, ID: "o1"}); !ok {
		t.Fatal("single order must survive InvalidateType(order.list)")
	}
}

func TestSQLiteStoreAppliesPragmas(t *testing.T) {
	t.Parallel()

	s := openTestSQLite(t)

	var mode string
	if err := s.sqlDB.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Fatalf("journal_mode=%q want=wal", mode)
	}

	var busy int
	if err := s.sqlDB.QueryRow(`PRAGMA busy_timeout`).Scan(&busy); err != nil {
		t.Fatalf("query busy_timeout: %v", err)
	}
	if busy != 5000 {
		t.Fatalf("busy_timeout=%d want=5000", busy)
	}
}

func TestSQLiteStoreSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()
	key := Key{Type: TypeUser, ID: "me"}

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Put(ctx, key, json.RawMessage(`{"name":"n"}`), ClassProfile); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()

	entry, ok, err := s2.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if string(entry.Value) != `{"name":"n"}` {
		t.Fatalf("value=%s", entry.Value)
	}
}
