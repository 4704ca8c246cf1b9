package cache

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestClassTTL(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   Class
		want time.Duration
	}{
		{in: ClassProfile, want: 300 * time.Second},
		{in: ClassVolatile, want: 60 * time.Second},
		{in: ClassBlob, want: 3600 * time.Second},
		{in: Class("bogus"), want: 60 * time.Second},
	}

	for _, tc := range cases {
		if got := tc.in.TTL(); got != tc.want {
			t.Fatalf("TTL(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestMemoryStoreFreshness(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now := base
	s := NewMemoryStore()
	s.now = func() time.Time { return now }

	ctx := context.Background()
	key := Key{Type: TypeEvent, ID: "42"}

	if err := s.Put(ctx, key, json.RawMessage(`{"title":"A"}`), ClassProfile); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if !entry.Fresh(base.Add(100 * time.Second)) {
		t.Fatal("entry should be fresh at t+100s for a 300s class")
	}
	if entry.Fresh(base.Add(301 * time.Second)) {
		t.Fatal("entry should be stale at t+301s for a 300s class")
	}
	if string(entry.Value) != `{"title":"A"}` {
		t.Fatalf("value=%s", entry.Value)
	}
}

func TestMemoryStoreLastWriterWins(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
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

func TestMemoryStoreInvalidate(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	keys := []Key{
		{Type: TypeOrder, ID: "o1"},
		{Type: TypeOrder, ID: "o2"},
		{Type: TypeOrderList, ID: "limit=20&page=1"},
		{Type: TypeEvent, ID: "e1"},
	}
	for _, k := range keys {
		if err := s.Put(ctx, k, json.RawMessage(`{}`), ClassVolatile); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}

	if err := s.Invalidate(ctx, keys[0]); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, _ := s.Get(ctx, keys[0]); ok {
		t.Fatal("o1 should be gone after Invalidate")
	}
	if _, ok, _ := s.Get(ctx, keys[1]); !ok {
		t.Fatal("o2 should survive a sibling's Invalidate")
	}

	if err := s.InvalidateType(ctx, TypeOrder); err != nil {
		t.Fatalf("invalidate type: %v", err)
	}
	if _, ok, _ := s.Get(ctx, keys[1]); ok {
		t.Fatal("o2 should be gone after InvalidateType(order)")
	}
	if _, ok, _ := s.Get(ctx, keys[2]); !ok {
		t.Fatal("order.list must not match InvalidateType(order)")
	}

	if err := s.InvalidateAll(ctx); err != nil {
		t.Fatalf("invalidate all: %v", err)
	}
	if _, ok, _ := s.Get(ctx, keys[3]); ok {
		t.Fatal("nothing should survive InvalidateAll")
	}
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	key := Key{Type: TypeUser, ID: "u1"}

	src := json.RawMessage(`{"name":"a"}`)
	if err := s.Put(ctx, key, src, ClassProfile); err != nil {
		t.Fatalf("put: %v", err)
	}
	src[10] = 'x'

	entry, _, _ := s.Get(ctx, key)
	if string(entry.Value) != `{"name":"a"}` {
		t.Fatalf("stored value aliased caller slice: %s", entry.Value)
	}

	entry.Value[10] = 'y'
	again, _, _ := s.Get(ctx, key)
	if string(again.Value) != `{"name":"a"}` {
		t.Fatalf("returned value aliased stored slice: %s", again.Value)
	}
}

func TestMemoryStoreConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := Key{Type: TypeEvent, ID: "shared"}
			for j := 0; j < 100; j++ {
				_ = s.Put(ctx, key, json.RawMessage(`{}`), ClassVolatile)
				_, _, _ = s.Get(ctx, key)
				_ = s.Invalidate(ctx, key)
			}
		}()
	}
	wg.Wait()
}
