package oauth2

import (
	"context"
	"io"
)

// TokenStore is a validated-token cache consulted before the repository on
// resource verification. Implementations live in the cache package.
type TokenStore interface {
	io.Closer

	// Set stores a token in the cache.
	Set(ctx context.Context, token *Token) error

	// Get retrieves a token from the cache by its value.
	// Returns the token and true if found, or nil and false if not found.
	Get(ctx context.Context, tokenValue string) (*Token, bool)

	// Delete removes a token from the cache.
	Delete(ctx context.Context, tokenValue string) error

	// Clear removes all tokens from the cache.
	Clear(ctx context.Context) error

	// DeleteExpired removes all expired tokens from the cache.
	DeleteExpired(ctx context.Context) error

	// Count returns the number of tokens currently in the cache.
	Count(ctx context.Context) int
}
