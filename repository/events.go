package repository

import (
	"context"
	"net/http"
	"strings"
	"time"

	"souk/cache"
	"souk/transport"
)

// Event is the catalog resource for one listed event.
type Event struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	City        string    `json:"city"`
	Venue       string    `json:"venue"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Capacity    int       `json:"capacity"`
	OrganizerID string    `json:"organizer_id"`
	ImageURL    string    `json:"image_url"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Cancelled   bool      `json:"cancelled"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventAvailability is the fast-moving slice of an event: remaining
// capacity. Cached on the volatile window, separately from the catalog
// entry, so availability reads never pin a long-TTL snapshot.
type EventAvailability struct {
	EventID     string    `json:"event_id"`
	TicketsLeft int       `json:"tickets_left"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EventFilters narrows an event list read.
type EventFilters struct {
	Category string
	City     string
	Query    string
	Page     int
	Limit    int
}

// EventInput is the create/update payload for an event.
type EventInput struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    string    `json:"category"`
	City        string    `json:"city"`
	Venue       string    `json:"venue"`
	PriceCents  int64     `json:"price_cents"`
	Currency    string    `json:"currency"`
	Capacity    int       `json:"capacity"`
	ImageURL    string    `json:"image_url"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
}

// Events is the event-domain repository.
type Events struct {
	core *Core
}

// NewEvents constructs the events repository over the shared core.
func NewEvents(core *Core) *Events { return &Events{core: core} }

// Get fetches one event, serving the cache per the canonical read path.
// Catalog data rides the profile TTL window.
func (r *Events) Get(ctx context.Context, id string) (Result[Event], error) {
	return FetchOrServe[Event](ctx, r.core,
		cache.Key{Type: cache.TypeEvent, ID: id},
		cache.ClassProfile,
		transport.Request{Method: http.MethodGet, Path: "/events/" + id},
	)
}

// Availability fetches the remaining capacity for an event (volatile TTL).
func (r *Events) Availability(ctx context.Context, id string) (Result[EventAvailability], error) {
	return FetchOrServe[EventAvailability](ctx, r.core,
		cache.Key{Type: cache.TypeEventAvailability, ID: id},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/events/" + id + "/availability"},
	)
}

// List fetches one page of events matching the filters and seeds the
// per-event cache with every returned item.
func (r *Events) List(ctx context.Context, f EventFilters) (ListResult[Event], error) {
	q := pageQuery(f.Page, f.Limit)
	if s := strings.TrimSpace(f.Category); s != "" {
		q.Set("category", s)
	}
	if s := strings.TrimSpace(f.City); s != "" {
		q.Set("city", s)
	}
	if s := strings.TrimSpace(f.Query); s != "" {
		q.Set("q", s)
	}

	return FetchList[Event](ctx, r.core,
		cache.Key{Type: cache.TypeEventList, ID: querySignature(q)},
		cache.ClassProfile,
		transport.Request{Method: http.MethodGet, Path: "/events", Query: q},
		func(e Event) cache.Key { return cache.Key{Type: cache.TypeEvent, ID: e.ID} },
		ListOptions{},
	)
}

// Create publishes a new event and drops the list caches it now belongs to.
func (r *Events) Create(ctx context.Context, in EventInput) (Event, error) {
	return Mutate[Event](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/events", Body: in},
		func(e Event) cache.Key { return cache.Key{Type: cache.TypeEvent, ID: e.ID} },
		cache.ClassProfile,
		Invalidation{Types: []string{cache.TypeEventList}},
	)
}

// Update replaces an event's catalog data.
func (r *Events) Update(ctx context.Context, id string, in EventInput) (Event, error) {
	return Mutate[Event](ctx, r.core,
		transport.Request{Method: http.MethodPut, Path: "/events/" + id, Body: in},
		func(e Event) cache.Key { return cache.Key{Type: cache.TypeEvent, ID: e.ID} },
		cache.ClassProfile,
		Invalidation{Types: []string{cache.TypeEventList}},
	)
}

// Cancel marks an event cancelled. A repeated cancel surfaces ErrConflict
// from the transport untouched.
func (r *Events) Cancel(ctx context.Context, id string) (Event, error) {
	return Mutate[Event](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/events/" + id + "/cancel"},
		func(e Event) cache.Key { return cache.Key{Type: cache.TypeEvent, ID: e.ID} },
		cache.ClassProfile,
		Invalidation{
			Keys:  []cache.Key{{Type: cache.TypeEventAvailability, ID: id}},
			Types: []string{cache.TypeEventList},
		},
	)
}
