package urlcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewRedisCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis cache: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })
	return cache, s
}

func TestNewRedisCache(t *testing.T) {
	cache, _ := setupTestRedis(t)
	if err := cache.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisCacheRejectsBadURL(t *testing.T) {
	if _, err := NewRedisCache("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPutAndGet(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.Put(ctx, "prf_1/itm_1.png", "https://blobs/signed", time.Now().Add(15*time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := cache.Get(ctx, "prf_1/itm_1.png", time.Minute)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "https://blobs/signed" {
		t.Errorf("expected cached url, got %s", got)
	}
}

func TestGetTreatsNearlyExpiredAsMiss(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.Put(ctx, "k", "https://blobs/signed", time.Now().Add(30*time.Second)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, err := cache.Get(ctx, "k", time.Minute); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestEntryExpiresWithTTL(t *testing.T) {
	cache, s := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.Put(ctx, "k", "https://blobs/signed", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, err := cache.Get(ctx, "k", 0); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss after expiry, got %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	cache, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := cache.Put(ctx, "k", "https://blobs/signed", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if _, err := cache.Get(ctx, "k", 0); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}
}

func TestPutSkipsExpiredURL(t *testing.T) {
	cache, s := setupTestRedis(t)
	if err := cache.Put(context.Background(), "k", "u", time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if s.Exists("signed-url:k") {
		t.Fatal("expired url should not be stored")
	}
}
