package trendingcache

import (
	"context"
	"testing"
	"time"

	"github.com/brightlane/recoguard/internal/config"
)

func TestLocalCacheMissBeforePut(t *testing.T) {
	c := New(config.TrendingCacheConfig{})
	if _, ok := c.Get(context.Background()); ok {
		t.Fatal("expected miss on empty cache")
	}
}

func TestLocalCacheHitAfterPut(t *testing.T) {
	c := New(config.TrendingCacheConfig{})
	payload := []byte(`{"trending":[{"movieId":1,"title":"X","genre":"Y"}]}`)

	c.Put(context.Background(), payload)

	got, ok := c.Get(context.Background())
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if string(got) != string(payload) {
		t.Fatalf("got %s, want %s", got, payload)
	}
}

func TestLocalCacheExpiresAfterTTL(t *testing.T) {
	c := New(config.TrendingCacheConfig{TTL: "10ms"})
	c.Put(context.Background(), []byte(`{"trending":[]}`))

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Get(context.Background()); ok {
		t.Fatal("expected miss once TTL has elapsed")
	}
}

func TestInvalidRedisURLFallsBackToLocalCache(t *testing.T) {
	c := New(config.TrendingCacheConfig{RedisURL: "://not-a-url"})
	if _, ok := c.(*localCache); !ok {
		t.Fatalf("New with invalid redis url = %T, want *localCache", c)
	}
}
