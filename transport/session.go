package transport

import "context"

// SessionProvider supplies and maintains the bearer credential.
//
// Implementations live outside this module (keychain, encrypted prefs,
// cookie jar); the core consumes exactly these three operations.
type SessionProvider interface {
	// Token returns the current access token, or "" when unauthenticated.
	Token(ctx context.Context) (string, error)

	// Refresh exchanges the stored refresh credential for a new access
	// token. It must be safe to call concurrently; the Client already
	// collapses concurrent refresh attempts into one.
	Refresh(ctx context.Context) error

	// Clear drops locally stored credentials. Called by the Client exactly
	// once per failed refresh so repositories never manage logout themselves.
	Clear(ctx context.Context) error
}
