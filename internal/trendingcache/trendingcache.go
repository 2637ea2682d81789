// Package trendingcache remembers the last successful trending response so
// the recommendation pipeline has something better than a 503 to fall back
// on when the live trending call itself fails. It follows the same
// Redis-or-local shape as internal/ratelimiter: a Redis-backed cache when
// configured, a single in-process slot otherwise, and it never turns a
// cache error into a user-visible failure.
package trendingcache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/brightlane/recoguard/internal/config"
)

const redisKey = "recoguard:trending:last-known-good"

// Cache stores and serves the last known-good trending payload.
type Cache interface {
	// Put records a fresh trending payload as the new last-known-good.
	Put(ctx context.Context, payload []byte)
	// Get returns the last known-good payload and true, or (nil, false) on
	// a miss. A Redis error is never propagated: the Redis-backed cache
	// then answers from its in-process copy of the last Put.
	Get(ctx context.Context) ([]byte, bool)
}

// New builds a Cache from cfg. A zero-value cfg still yields a
// working in-process cache; only the Redis backing is optional.
func New(cfg config.TrendingCacheConfig) Cache {
	ttl := config.ParseDurationOr(cfg.TTL, 10*time.Minute)

	if cfg.RedisURL == "" {
		return &localCache{ttl: ttl}
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return &localCache{ttl: ttl}
	}

	return &redisCache{
		client:   redis.NewClient(opts),
		ttl:      ttl,
		fallback: &localCache{ttl: ttl},
	}
}

// ---------------------------------------------------------------------------
// In-process single-slot cache
// ---------------------------------------------------------------------------

type localCache struct {
	mu      sync.Mutex
	payload []byte
	storedAt time.Time
	ttl     time.Duration
}

func (c *localCache) Put(_ context.Context, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payload = payload
	c.storedAt = time.Now()
}

func (c *localCache) Get(_ context.Context) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.payload == nil {
		return nil, false
	}
	if time.Since(c.storedAt) > c.ttl {
		return nil, false
	}
	out := make([]byte, len(c.payload))
	copy(out, c.payload)
	return out, true
}

// ---------------------------------------------------------------------------
// Redis-backed cache, falling open to the local cache on any Redis error
// ---------------------------------------------------------------------------

type redisCache struct {
	client   *redis.Client
	ttl      time.Duration
	fallback *localCache
}

func (c *redisCache) Put(ctx context.Context, payload []byte) {
	c.fallback.Put(ctx, payload)

	ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_ = c.client.Set(ctx, redisKey, payload, c.ttl).Err()
}

func (c *redisCache) Get(ctx context.Context) ([]byte, bool) {
	rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	val, err := c.client.Get(rctx, redisKey).Bytes()
	if err != nil {
		return c.fallback.Get(ctx)
	}
	if !json.Valid(val) {
		return c.fallback.Get(ctx)
	}
	return val, true
}
