// Package cache is the process-wide TTL store of entity snapshots.
//
// Repositories hold no private copies; every read and write round-trips
// through a Store so invalidation is consistent across the whole process.
// Freshness policy lives with the caller: Get returns stale entries too,
// because degraded (offline) mode deliberately tolerates staleness.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Key addresses one cacheable entity: a (resource-type, id) pair.
//
// List pages use a list-specific type (e.g. "event.list") with the query
// signature as the ID, so InvalidateType can drop every page for a
// collection at once.
type Key struct {
	Type string
	ID   string
}

func (k Key) String() string { return k.Type + ":" + k.ID }

// Class names a freshness window. The windows come in three flavors
// observed across the client domains; they are named here so no call site
// carries a magic number.
type Class string

const (
	// ClassProfile covers profile and catalog data (users, event details).
	ClassProfile Class = "profile"
	// ClassVolatile covers fast-moving data (orders, availability, feeds).
	ClassVolatile Class = "volatile"
	// ClassBlob covers transport-level blobs such as images.
	ClassBlob Class = "blob"
)

// TTL returns the freshness window for the class.
// Unknown classes get the volatile window (shortest, safest).
func (c Class) TTL() time.Duration {
	switch c {
	case ClassProfile:
		return 300 * time.Second
	case ClassVolatile:
		return 60 * time.Second
	case ClassBlob:
		return 3600 * time.Second
	default:
		return 60 * time.Second
	}
}

// Entry wraps one cached snapshot.
type Entry struct {
	Value     json.RawMessage
	FetchedAt time.Time
	Class     Class
}

// Fresh reports whether the entry is within its TTL at the given time.
func (e Entry) Fresh(now time.Time) bool {
	return now.Sub(e.FetchedAt) <= e.Class.TTL()
}

// Store is the shared snapshot store.
//
// Implementations must be safe for concurrent callers: a single lock or
// serialized access, not per-entry locking, because contention is low and
// simplicity wins here. Put is overwrite-on-write, last writer wins.
type Store interface {
	// Get returns the entry for key, stale or not. ok is false when absent.
	Get(ctx context.Context, key Key) (entry Entry, ok bool, err error)

	// Put overwrites the entry for key with a snapshot taken now.
	Put(ctx context.Context, key Key, value json.RawMessage, class Class) error

	// Invalidate removes the entry for key, if present.
	Invalidate(ctx context.Context, key Key) error

	// InvalidateType removes every entry whose key type matches
	// resourceType. Used after mutations to drop list-page caches.
	InvalidateType(ctx context.Context, resourceType string) error

	// InvalidateAll removes everything (e.g. on logout).
	InvalidateAll(ctx context.Context) error

	Close() error
}
