package repository

import (
	"context"
	"net/http"
	"time"

	"souk/cache"
	"souk/transport"
)

// Verification review states (wire-stable).
const (
	VerificationPending  = "pending"
	VerificationApproved = "approved"
	VerificationRejected = "rejected"
)

// Verification is one identity/business verification request.
type Verification struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Kind        string    `json:"kind"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	ReviewedAt  time.Time `json:"reviewed_at,omitzero"`
}

// SubmitVerificationInput carries the verification kind plus the document
// scans to upload. Documents go up as named multipart parts.
type SubmitVerificationInput struct {
	Kind      string
	Documents []transport.FilePart
}

// Verifications is the verification-domain repository.
type Verifications struct {
	core *Core
}

// NewVerifications constructs the verifications repository over the shared
// core.
func NewVerifications(core *Core) *Verifications { return &Verifications{core: core} }

// Submit uploads verification documents and returns the created request.
func (r *Verifications) Submit(ctx context.Context, in SubmitVerificationInput) (Verification, error) {
	return Mutate[Verification](ctx, r.core,
		transport.Request{
			Method: http.MethodPost,
			Path:   "/verifications",
			Multipart: &transport.Multipart{
				Fields: map[string]string{"kind": in.Kind},
				Files:  in.Documents,
			},
		},
		func(v Verification) cache.Key { return cache.Key{Type: cache.TypeVerification, ID: v.ID} },
		cache.ClassVolatile,
		Invalidation{},
	)
}

// Status fetches the review state of a verification request.
func (r *Verifications) Status(ctx context.Context, id string) (Result[Verification], error) {
	return FetchOrServe[Verification](ctx, r.core,
		cache.Key{Type: cache.TypeVerification, ID: id},
		cache.ClassVolatile,
		transport.Request{Method: http.MethodGet, Path: "/verifications/" + id},
	)
}
