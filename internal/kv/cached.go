package kv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStore wraps a primary Store (PostgreSQL or SQLite) with a Redis
// read-through cache. Writes go to the primary store and invalidate the
// cache; reads check Redis first then fall back to the primary.
//
// Cache failures are logged and never surface to the caller; the primary
// stays the source of truth.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, cacheKey(key)).Result()
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, redis.Nil) {
		slog.Warn("kv cache read failed", "key", key, "error", err)
	}

	// Cache miss: read from primary.
	v, err = s.primary.Get(ctx, key)
	if err != nil {
		return "", err
	}

	if err := s.rdb.Set(ctx, cacheKey(key), v, s.ttl).Err(); err != nil {
		slog.Warn("kv cache fill failed", "key", key, "error", err)
	}
	return v, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Set(ctx context.Context, key, value string) error {
	if err := s.primary.Set(ctx, key, value); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	if err := s.primary.Delete(ctx, key); err != nil {
		return err
	}
	s.invalidate(ctx, key)
	return nil
}

func (s *CachedStore) invalidate(ctx context.Context, key string) {
	if err := s.rdb.Del(ctx, cacheKey(key)).Err(); err != nil {
		slog.Warn("kv cache invalidate failed", "key", key, "error", err)
	}
}

func cacheKey(key string) string { return fmt.Sprintf("kvcache:%s", key) }
