package cache

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"go.pilab.hu/oauth2"
)

// MemoryTokenStore implements oauth2.TokenStore using ttlcache. Entries are
// keyed by the hash of the token value so the raw token never sits in memory
// as a map key.
type MemoryTokenStore struct {
	cache *ttlcache.Cache[string, *oauth2.Token]
}

// NewMemoryTokenStore creates a new in-memory token store with automatic
// cleanup.
func NewMemoryTokenStore(cleanupInterval time.Duration) *MemoryTokenStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *oauth2.Token](cleanupInterval),
		ttlcache.WithDisableTouchOnHit[string, *oauth2.Token](),
	)

	// Start the cleanup process
	go cache.Start()

	return &MemoryTokenStore{
		cache: cache,
	}
}

// Set implements oauth2.TokenStore. The entry lives until the token expires.
func (s *MemoryTokenStore) Set(_ context.Context, token *oauth2.Token) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	s.cache.Set(oauth2.HashToken(token.TokenValue), token, ttl)
	return nil
}

// Get implements oauth2.TokenStore.
func (s *MemoryTokenStore) Get(_ context.Context, tokenValue string) (*oauth2.Token, bool) {
	item := s.cache.Get(oauth2.HashToken(tokenValue))
	if item == nil {
		return nil, false
	}

	token := item.Value()
	token.LastUsedAt = time.Now()

	return token, true
}

// Delete removes a token from the cache.
func (s *MemoryTokenStore) Delete(_ context.Context, tokenValue string) error {
	s.cache.Delete(oauth2.HashToken(tokenValue))

	return nil
}

// DeleteExpired removes all expired tokens from the cache.
func (s *MemoryTokenStore) DeleteExpired(_ context.Context) error {
	// ttlcache handles expiration automatically
	s.cache.DeleteExpired()

	return nil
}

// Clear removes all tokens from the cache.
func (s *MemoryTokenStore) Clear(_ context.Context) error {
	s.cache.DeleteAll()

	return nil
}

// Count counts the number of tokens in the cache.
func (s *MemoryTokenStore) Count(_ context.Context) int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine.
func (s *MemoryTokenStore) Close() error {
	s.cache.Stop()

	return nil
}
