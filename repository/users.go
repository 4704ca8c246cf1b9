package repository

import (
	"context"
	"net/http"
	"time"

	"souk/cache"
	"souk/transport"
)

// The signed-in user's profile is cached under this fixed ID so logout-time
// InvalidateAll is the only way it leaves the cache early.
const selfUserID = "me"

// User is a member profile.
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Bio       string    `json:"bio"`
	City      string    `json:"city"`
	AvatarURL string    `json:"avatar_url"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// ProfileInput is the editable subset of a profile.
type ProfileInput struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Bio   string `json:"bio"`
	City  string `json:"city"`
}

// Users is the user-domain repository.
type Users struct {
	core *Core
}

// NewUsers constructs the users repository over the shared core.
func NewUsers(core *Core) *Users { return &Users{core: core} }

// Get fetches a member profile (profile TTL).
func (r *Users) Get(ctx context.Context, id string) (Result[User], error) {
	return FetchOrServe[User](ctx, r.core,
		cache.Key{Type: cache.TypeUser, ID: id},
		cache.ClassProfile,
		transport.Request{Method: http.MethodGet, Path: "/users/" + id},
	)
}

// Me fetches the signed-in user's own profile.
func (r *Users) Me(ctx context.Context) (Result[User], error) {
	return FetchOrServe[User](ctx, r.core,
		cache.Key{Type: cache.TypeUser, ID: selfUserID},
		cache.ClassProfile,
		transport.Request{Method: http.MethodGet, Path: "/users/me"},
	)
}

// UpdateProfile edits the signed-in user's profile and writes the server's
// authoritative copy back through the cache.
func (r *Users) UpdateProfile(ctx context.Context, in ProfileInput) (User, error) {
	return Mutate[User](ctx, r.core,
		transport.Request{Method: http.MethodPatch, Path: "/users/me", Body: in},
		func(User) cache.Key { return cache.Key{Type: cache.TypeUser, ID: selfUserID} },
		cache.ClassProfile,
		Invalidation{},
	)
}

// UploadAvatar replaces the signed-in user's avatar via a multipart upload.
func (r *Users) UploadAvatar(ctx context.Context, filename, contentType string, data []byte) (User, error) {
	return Mutate[User](ctx, r.core,
		transport.Request{
			Method: http.MethodPost,
			Path:   "/users/me/avatar",
			Multipart: &transport.Multipart{
				Files: []transport.FilePart{{
					Field:       "avatar",
					Filename:    filename,
					ContentType: contentType,
					Data:        data,
				}},
			},
		},
		func(User) cache.Key { return cache.Key{Type: cache.TypeUser, ID: selfUserID} },
		cache.ClassProfile,
		Invalidation{},
	)
}
