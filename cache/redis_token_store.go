package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oauth2"
)

// RedisTokenStore implements oauth2.TokenStore on Redis, for deployments
// where several server instances share one token cache. Expiry is delegated
// to Redis key TTLs.
type RedisTokenStore struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenStore creates a new RedisTokenStore. The prefix namespaces
// the keys so one Redis instance can serve several environments.
func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	return &RedisTokenStore{
		client: client,
		prefix: prefix,
	}
}

func (r *RedisTokenStore) redisKey(tokenValue string) string {
	return fmt.Sprintf("%s:token:%s", r.prefix, oauth2.HashToken(tokenValue))
}

// Set stores a token in Redis with a TTL matching its expiry.
func (r *RedisTokenStore) Set(ctx context.Context, token *oauth2.Token) error {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		return nil
	}

	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := r.client.Set(ctx, r.redisKey(token.TokenValue), payload, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set token in Redis: %w", err)
	}
	return nil
}

// Get retrieves a token from Redis.
func (r *RedisTokenStore) Get(ctx context.Context, tokenValue string) (*oauth2.Token, bool) {
	payload, err := r.client.Get(ctx, r.redisKey(tokenValue)).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warn().Err(err).Msg("redis token lookup failed")
		}
		return nil, false
	}

	var token oauth2.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		log.Warn().Err(err).Msg("failed to unmarshal cached token")
		return nil, false
	}

	token.LastUsedAt = time.Now()

	return &token, true
}

// Delete removes a token from Redis.
func (r *RedisTokenStore) Delete(ctx context.Context, tokenValue string) error {
	if err := r.client.Del(ctx, r.redisKey(tokenValue)).Err(); err != nil {
		return fmt.Errorf("failed to delete token from Redis: %w", err)
	}
	return nil
}

// DeleteExpired is a no-op; Redis evicts expired keys on its own.
func (r *RedisTokenStore) DeleteExpired(context.Context) error {
	return nil
}

// Clear removes every cached token under the store's prefix.
func (r *RedisTokenStore) Clear(ctx context.Context) error {
	var cursor uint64
	pattern := fmt.Sprintf("%s:token:*", r.prefix)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan token keys: %w", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("failed to delete token keys: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Count returns the number of cached tokens under the store's prefix.
func (r *RedisTokenStore) Count(ctx context.Context) int {
	var count int
	var cursor uint64
	pattern := fmt.Sprintf("%s:token:*", r.prefix)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			log.Warn().Err(err).Msg("failed to scan token keys")
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Close releases the Redis connection.
func (r *RedisTokenStore) Close() error {
	return r.client.Close()
}
