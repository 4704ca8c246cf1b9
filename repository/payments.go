package repository

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"souk/cache"
	"souk/transport"
)

// Payment lifecycle states (wire-stable).
const (
	PaymentRequiresAction = "requires_action"
	PaymentProcessing     = "processing"
	PaymentSucceeded      = "succeeded"
	PaymentFailed         = "failed"
)

// PaymentIntent is the backend's view of one payment attempt. The provider
// token and client secret are opaque pass-throughs: this core never talks
// to a payment SDK and treats provider responses as already validated.
type PaymentIntent struct {
	ID           string    `json:"id"`
	OrderID      string    `json:"order_id"`
	Provider     string    `json:"provider"`
	AmountCents  int64     `json:"amount_cents"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	ClientSecret string    `json:"client_secret,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CreateIntentInput starts a payment for an order. ProviderToken is the
// opaque SDK-produced token forwarded untouched.
type CreateIntentInput struct {
	OrderID       string          `json:"order_id"`
	Provider      string          `json:"provider"`
	ProviderToken json.RawMessage `json:"provider_token,omitempty"`
}

// Payments is the payment-domain repository. Intents are never cached at
// creation (a payment in flight must not be replayed from a snapshot);
// only status reads ride the volatile window.
type Payments struct {
	core *Core
}

// NewPayments constructs the payments repository over the shared core.
func NewPayments(core *Core) *Payments { return &Payments{core: core} }

// CreateIntent starts a payment. The order's cached copy is dropped because
// its status is about to move.
func (r *Payments) CreateIntent(ctx context.Context, in CreateIntentInput) (PaymentIntent, error) {
	return Mutate[PaymentIntent](ctx, r.core,
		transport.Request{Method: http.MethodPost, Path: "/payments/intents", Body: in},
		nil,
		cache.ClassVolatile,
		Invalidation{
			Keys:  []cache.Key{{Type: cache.TypeOrder, ID: in.OrderID}},
			Types: []string{cache.TypeOrderList},
		},
	)
}

// Status fetches the current state of a payment intent.
func (r *Payments) Status(ctx context.Context, id string) (Result[PaymentIntent], error) {
	return FetchOrServe[PaymentIntent](ctx, r.core,
		cache.Key{Type: cache.TypePayment, ID: id},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/payments/" + id},
	)
}
