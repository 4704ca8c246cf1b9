package repository

import (
	"context"
	"net/http"
	"time"

	"souk/cache"
	"souk/transport"
)

// Notification is one inbox entry.
type Notification struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

// Notifications is the notification-domain repository.
//
// The inbox is a non-critical surface: list reads use EmptyOnFailure so a
// dead network with no cache renders an empty inbox, not an error screen.
type Notifications struct {
	core *Core
}

// NewNotifications constructs the notifications repository over the shared
// core.
func NewNotifications(core *Core) *Notifications { return &Notifications{core: core} }

// List fetches one page of the caller's notifications.
func (r *Notifications) List(ctx context.Context, page, limit int) (ListResult[Notification], error) {
	q := pageQuery(page, limit)
	return FetchList[Notification](ctx, r.core,
		cache.Key{Type: cache.TypeNotificationList, ID: querySignature(q)},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/notifications", Query: q},
		nil,
		ListOptions{EmptyOnFailure: true},
	)
}

// MarkRead marks one notification read and drops the cached inbox pages.
func (r *Notifications) MarkRead(ctx context.Context, id string) error {
	_, err := Mutate[struct{}](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/notifications/" + id + "/read"},
		nil,
		cache.ClassVolatile,
		Invalidation{Types: []string{cache.TypeNotificationList}},
	)
	return err
}

// MarkAllRead marks the whole inbox read.
func (r *Notifications) MarkAllRead(ctx context.Context) error {
	_, err := Mutate[struct{}](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/notifications/read-all"},
		nil,
		cache.ClassVolatile,
		Invalidation{Types: []string{cache.TypeNotificationList}},
	)
	return err
}
