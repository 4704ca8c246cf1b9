// Package repository implements the fetch/cache/invalidate protocol shared
// by every domain façade: events, users, orders, chat, payments,
// notifications, verification, and search.
//
// Reads degrade silently (stale fallback); writes never do. The cache is
// the only shared mutable state and is always round-tripped, never copied
// privately, so invalidation is process-wide.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"souk/cache"
	"souk/connectivity"
	"souk/transport"
)

// ErrUnavailable is returned when the device is offline and no cached entry
// exists for the requested resource.
var ErrUnavailable = errors.New("unavailable offline")

// Result is a single-resource read result. Stale is set when the value came
// from a cache entry past its TTL (degraded mode or network fallback).
type Result[T any] struct {
	Value T
	Stale bool
}

// ListResult is a page read result. Page boundaries are stable only while
// no intervening mutation invalidates the collection; cross-page
// consistency under concurrent writes is not guaranteed.
type ListResult[T any] struct {
	Items []T
	Page  transport.PageMeta
	Stale bool
}

// ListOptions configures list-read failure behavior per call site.
type ListOptions struct {
	// EmptyOnFailure returns an empty page instead of an error when a list
	// read fails with no cached fallback. Used for non-critical surfaces
	// (notifications, recommendations) that prefer a blank list over an
	// error screen.
	EmptyOnFailure bool
}

// Invalidation names the cache entries a successful mutation must drop:
// individual keys plus whole list-cache types the resource belongs to.
type Invalidation struct {
	Keys  []cache.Key
	Types []string
}

// Core composes the transport client, cache store, and connectivity oracle.
// One Core instance is shared by all domain repositories. It is stateless
// apart from the injected collaborators and safe for concurrent use.
type Core struct {
	log     *slog.Logger
	api     *transport.Client
	store   cache.Store
	online  connectivity.Oracle
	metrics *cache.Metrics

	now func() time.Time
	sf  singleflight.Group
}

// NewCore constructs the shared repository core. metrics may be nil.
func NewCore(log *slog.Logger, api *transport.Client, store cache.Store, online connectivity.Oracle, metrics *cache.Metrics) *Core {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if online == nil {
		online = connectivity.Always
	}
	return &Core{
		log:     log,
		api:     api,
		store:   store,
		online:  online,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FetchOrServe is the canonical read path.
//
//  1. Offline: serve the cached entry if present (stale-flagged when past
//     TTL), else fail with ErrUnavailable.
//  2. Fresh cache hit: return immediately, no network call.
//  3. Otherwise fetch, write through, return. On fetch failure, fall back
//     to a stale entry when one exists; else propagate the transport error.
func FetchOrServe[T any](ctx context.Context, c *Core, key cache.Key, class cache.Class, req transport.Request) (Result[T], error) {
	var zero Result[T]
	now := c.now()

	entry, cached, err := c.store.Get(ctx, key)
	if err != nil {
		// A broken cache backend degrades to a miss, never to a failure.
		c.log.Warn("repository.cache.get.fail", "key", key.String(), "err", err)
		cached = false
	}

	if !c.online.Online(ctx) {
		if !cached {
			c.metrics.Miss(key.Type)
			return zero, fmt.Errorf("%s: %w", key.String(), ErrUnavailable)
		}
		v, derr := decodeValue[T](entry.Value)
		if derr != nil {
			return zero, derr
		}
		stale := !entry.Fresh(now)
		if stale {
			c.metrics.ServedStale(key.Type)
		} else {
			c.metrics.Hit(key.Type)
		}
		return Result[T]{Value: v, Stale: stale}, nil
	}

	if cached && entry.Fresh(now) {
		v, derr := decodeValue[T](entry.Value)
		if derr == nil {
			c.metrics.Hit(key.Type)
			return Result[T]{Value: v}, nil
		}
		// Undecodable snapshot: treat as a miss and refetch.
		c.log.Warn("repository.cache.decode.fail", "key", key.String(), "err", derr)
	}

	c.metrics.Miss(key.Type)

	raw, err := c.fetchThrough(ctx, key, class, req)
	if err != nil {
		if cached && fallbackEligible(err) {
			if v, derr := decodeValue[T](entry.Value); derr == nil {
				c.metrics.ServedStale(key.Type)
				c.log.Warn("repository.serve.stale", "key", key.String(), "err", err)
				return Result[T]{Value: v, Stale: true}, nil
			}
		}
		if errors.Is(err, transport.ErrNotFound) && cached {
			// The server is authoritative: the resource is gone.
			_ = c.store.Invalidate(context.WithoutCancel(ctx), key)
			c.metrics.Invalidated(key.Type)
		}
		return zero, err
	}

	v, derr := decodeValue[T](raw)
	if derr != nil {
		return zero, derr
	}
	return Result[T]{Value: v}, nil
}

// FetchList is FetchOrServe over a page, with populate-on-list: every item
// of a successfully fetched page is seeded into the per-item cache so
// subsequent single-item reads hit.
func FetchList[T any](ctx context.Context, c *Core, listKey cache.Key, class cache.Class, req transport.Request, itemKey func(T) cache.Key, opts ListOptions) (ListResult[T], error) {
	var zero ListResult[T]
	now := c.now()

	entry, cached, err := c.store.Get(ctx, listKey)
	if err != nil {
		c.log.Warn("repository.cache.get.fail", "key", listKey.String(), "err", err)
		cached = false
	}

	if !c.online.Online(ctx) {
		if !cached {
			c.metrics.Miss(listKey.Type)
			if opts.EmptyOnFailure {
				return ListResult[T]{Items: []T{}}, nil
			}
			return zero, fmt.Errorf("%s: %w", listKey.String(), ErrUnavailable)
		}
		res, derr := decodePage[T](entry.Value)
		if derr != nil {
			return zero, derr
		}
		res.Stale = !entry.Fresh(now)
		if res.Stale {
			c.metrics.ServedStale(listKey.Type)
		} else {
			c.metrics.Hit(listKey.Type)
		}
		return res, nil
	}

	if cached && entry.Fresh(now) {
		if res, derr := decodePage[T](entry.Value); derr == nil {
			c.metrics.Hit(listKey.Type)
			return res, nil
		}
	}

	c.metrics.Miss(listKey.Type)

	raw, err := c.fetchPageThrough(ctx, listKey, class, req, func(items json.RawMessage) {
		seedItems(ctx, c, items, itemKey, class)
	})
	if err != nil {
		if cached && fallbackEligible(err) {
			if res, derr := decodePage[T](entry.Value); derr == nil {
				res.Stale = true
				c.metrics.ServedStale(listKey.Type)
				c.log.Warn("repository.serve.stale", "key", listKey.String(), "err", err)
				return res, nil
			}
		}
		if opts.EmptyOnFailure && fallbackEligible(err) {
			c.log.Warn("repository.list.empty_fallback", "key", listKey.String(), "err", err)
			return ListResult[T]{Items: []T{}}, nil
		}
		return zero, err
	}

	return decodePage[T](raw)
}

// Mutate is the canonical write path: call the backend, and only on success
// touch the cache. The server's authoritative resource is written through
// under keyOf(response) when provided, then the listed keys and list types
// are dropped (deletes carry no body and rely on Invalidation alone).
//
// There is no automatic retry and no optimistic local mutation; a failed
// mutation leaves the cache byte-for-byte untouched.
func Mutate[T any](ctx context.Context, c *Core, req transport.Request, keyOf func(T) cache.Key, class cache.Class, inv Invalidation) (T, error) {
	var zero T

	env, err := c.api.Do(ctx, req)
	if err != nil {
		return zero, err
	}

	// A completed mutation is authoritative server state; the cache update
	// must not be dropped because the requesting UI went away.
	wctx := context.WithoutCancel(ctx)

	var out T
	if hasBody(env.Data) {
		out, err = decodeValue[T](env.Data)
		if err != nil {
			// The server accepted the write; invalidate anyway so reads
			// cannot return the pre-mutation snapshot.
			c.applyInvalidation(wctx, inv)
			return zero, err
		}
		if keyOf != nil {
			if key := keyOf(out); key.Type != "" && key.ID != "" {
				if perr := c.store.Put(wctx, key, env.Data, class); perr != nil {
					c.log.Warn("repository.cache.put.fail", "key", key.String(), "err", perr)
				}
			}
		}
	}

	c.applyInvalidation(wctx, inv)
	return out, nil
}

func (c *Core) applyInvalidation(ctx context.Context, inv Invalidation) {
	for _, k := range inv.Keys {
		if err := c.store.Invalidate(ctx, k); err != nil {
			c.log.Warn("repository.cache.invalidate.fail", "key", k.String(), "err", err)
		}
		c.metrics.Invalidated(k.Type)
	}
	for _, t := range inv.Types {
		if err := c.store.InvalidateType(ctx, t); err != nil {
			c.log.Warn("repository.cache.invalidate_type.fail", "type", t, "err", err)
		}
		c.metrics.Invalidated(t)
	}
}

// ---- network paths ----

// fetchThrough performs the network read with write-through. Concurrent
// fetches for the same key are collapsed into one upstream request.
func (c *Core) fetchThrough(ctx context.Context, key cache.Key, class cache.Class, req transport.Request) (json.RawMessage, error) {
	v, err, _ := c.sf.Do(key.String(), func() (any, error) {
		// The flight is shared: the leader's cancellation must not fail the
		// waiters behind it. The transport timeout still bounds the request,
		// and a completed fetch is authoritative server state either way.
		fctx := context.WithoutCancel(ctx)

		env, err := c.api.Do(fctx, req)
		if err != nil {
			return nil, err
		}

		if perr := c.store.Put(fctx, key, env.Data, class); perr != nil {
			c.log.Warn("repository.cache.put.fail", "key", key.String(), "err", perr)
		}
		return env.Data, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// cachedPage is the stored representation of one list page.
type cachedPage struct {
	Items json.RawMessage    `json:"items"`
	Meta  transport.PageMeta `json:"meta"`
}

func (c *Core) fetchPageThrough(ctx context.Context, listKey cache.Key, class cache.Class, req transport.Request, seed func(items json.RawMessage)) (json.RawMessage, error) {
	v, err, _ := c.sf.Do(listKey.String(), func() (any, error) {
		// Shared flight, same discipline as fetchThrough.
		wctx := context.WithoutCancel(ctx)

		env, err := c.api.Do(wctx, req)
		if err != nil {
			return nil, err
		}

		page := cachedPage{Items: env.Data}
		if env.Metadata != nil {
			page.Meta = *env.Metadata
		}
		raw, merr := json.Marshal(page)
		if merr != nil {
			return nil, fmt.Errorf("%w: %v", transport.ErrDecode, merr)
		}

		if perr := c.store.Put(wctx, listKey, raw, class); perr != nil {
			c.log.Warn("repository.cache.put.fail", "key", listKey.String(), "err", perr)
		}
		if seed != nil {
			seed(env.Data)
		}
		return json.RawMessage(raw), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(json.RawMessage), nil
}

// seedItems writes each item of a fetched page into the per-item cache.
func seedItems[T any](ctx context.Context, c *Core, items json.RawMessage, itemKey func(T) cache.Key, class cache.Class) {
	if itemKey == nil || len(items) == 0 {
		return
	}

	var rawItems []json.RawMessage
	if err := json.Unmarshal(items, &rawItems); err != nil {
		c.log.Warn("repository.seed.decode.fail", "err", err)
		return
	}

	wctx := context.WithoutCancel(ctx)
	for _, raw := range rawItems {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			c.log.Warn("repository.seed.item.fail", "err", err)
			continue
		}
		key := itemKey(item)
		if key.Type == "" || key.ID == "" {
			continue
		}
		if err := c.store.Put(wctx, key, raw, class); err != nil {
			c.log.Warn("repository.cache.put.fail", "key", key.String(), "err", err)
		}
	}
}

// ---- helpers ----

// fallbackEligible reports whether a read failure may be papered over with
// cached data. Authentication failures and caller cancellation must always
// surface; serving cached data past a logout would leak another user's
// session view.
func fallbackEligible(err error) bool {
	if errors.Is(err, transport.ErrUnauthenticated) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, transport.ErrNotFound) {
		return false
	}
	return true
}

func decodeValue[T any](raw json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("%w: %v", transport.ErrDecode, err)
	}
	return v, nil
}

func decodePage[T any](raw json.RawMessage) (ListResult[T], error) {
	var page cachedPage
	if err := json.Unmarshal(raw, &page); err != nil {
		return ListResult[T]{}, fmt.Errorf("%w: %v", transport.ErrDecode, err)
	}

	items := []T{}
	if len(page.Items) > 0 {
		if err := json.Unmarshal(page.Items, &items); err != nil {
			return ListResult[T]{}, fmt.Errorf("%w: %v", transport.ErrDecode, err)
		}
	}
	return ListResult[T]{Items: items, Page: page.Meta}, nil
}

func hasBody(raw json.RawMessage) bool {
	s := string(raw)
	return len(raw) > 0 && s != "null" && s != `""`
}
