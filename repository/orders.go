package repository

import (
	"context"
	"net/http"
	"strings"
	"time"

	"souk/cache"
	"souk/transport"
)

// Order lifecycle states (wire-stable).
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
	OrderCancelled = "cancelled"
	OrderRefunded  = "refunded"
)

// Order is one ticket purchase.
type Order struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	BusinessID string    `json:"business_id"`
	Quantity   int       `json:"quantity"`
	TotalCents int64     `json:"total_cents"`
	Currency   string    `json:"currency"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// OrderFilters narrows an order list read. BusinessID scopes the list to
// one seller's orders; Status filters by lifecycle state.
type OrderFilters struct {
	BusinessID string
	Status     string
	Page       int
	Limit      int
}

// PlaceOrderInput is the order creation payload.
type PlaceOrderInput struct {
	EventID  string `json:"event_id"`
	Quantity int    `json:"quantity"`
}

// Orders is the order-domain repository. Orders ride the volatile TTL
// window throughout: status flips matter within a minute.
type Orders struct {
	core *Core
}

// NewOrders constructs the orders repository over the shared core.
func NewOrders(core *Core) *Orders { return &Orders{core: core} }

// Get fetches one order.
func (r *Orders) Get(ctx context.Context, id string) (Result[Order], error) {
	return FetchOrServe[Order](ctx, r.core,
		cache.Key{Type: cache.TypeOrder, ID: id},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/orders/" + id},
	)
}

// List fetches one page of the caller's orders and seeds the per-order
// cache with every returned item.
func (r *Orders) List(ctx context.Context, f OrderFilters) (ListResult[Order], error) {
	q := pageQuery(f.Page, f.Limit)
	if s := strings.TrimSpace(f.BusinessID); s != "" {
		q.Set("business_id", s)
	}
	if s := strings.TrimSpace(f.Status); s != "" {
		q.Set("status", s)
	}

	return FetchList[Order](ctx, r.core,
		cache.Key{Type: cache.TypeOrderList, ID: querySignature(q)},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/orders", Query: q},
		func(o Order) cache.Key { return cache.Key{Type: cache.TypeOrder, ID: o.ID} },
		ListOptions{},
	)
}

// Place creates an order. On success every order list cache is dropped,
// along with the event's availability snapshot (the purchase changed it).
func (r *Orders) Place(ctx context.Context, in PlaceOrderInput) (Order, error) {
	return Mutate[Order](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/orders", Body: in},
		func(o Order) cache.Key { return cache.Key{Type: cache.TypeOrder, ID: o.ID} },
		cache.ClassVolatile,
		Invalidation{
			Keys:  []cache.Key{{Type: cache.TypeEventAvailability, ID: in.EventID}},
			Types: []string{cache.TypeOrderList},
		},
	)
}

// Cancel cancels an order. A duplicate state transition (cancelling a
// cancelled order) surfaces ErrConflict from the transport untouched.
func (r *Orders) Cancel(ctx context.Context, id string) (Order, error) {
	return Mutate[Order](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/orders/" + id + "/cancel"},
		func(o Order) cache.Key { return cache.Key{Type: cache.TypeOrder, ID: o.ID} },
		cache.ClassVolatile,
		Invalidation{Types: []string{cache.TypeOrderList}},
	)
}
