package repository

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"souk/cache"
	"souk/transport"
)

// Search is the AI-assisted search/recommendation repository. Results are
// events; every returned item seeds the event cache, so opening a result
// is a cache hit.
type Search struct {
	core *Core
}

// NewSearch constructs the search repository over the shared core.
func NewSearch(core *Core) *Search { return &Search{core: core} }

// Query runs a free-text search. Result pages ride the volatile window:
// the ranking model moves faster than the catalog.
func (r *Search) Query(ctx context.Context, query string, page, limit int) (ListResult[Event], error) {
	q := pageQuery(page, limit)
	q.Set("q", strings.TrimSpace(query))

	return FetchList[Event](ctx, r.core,
		cache.Key{Type: cache.TypeSearchList, ID: querySignature(q)},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/search", Query: q},
		func(e Event) cache.Key { return cache.Key{Type: cache.TypeEvent, ID: e.ID} },
		ListOptions{},
	)
}

// Recommendations fetches the personalized feed. A failed read with no
// cache renders an empty feed rather than an error (EmptyOnFailure).
func (r *Search) Recommendations(ctx context.Context, limit int) (ListResult[Event], error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))

	return FetchList[Event](ctx, r.core,
		cache.Key{Type: cache.TypeRecommendationList, ID: querySignature(query)},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/search/recommendations", Query: query},
		func(e Event) cache.Key { return cache.Key{Type: cache.TypeEvent, ID: e.ID} },
		ListOptions{EmptyOnFailure: true},
	)
}
