// Package urlcache caches presigned attachment URLs so repeated views reuse
// one signature until shortly before it expires.
package urlcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when no usable URL is cached.
var ErrMiss = errors.New("urlcache: miss")

// entry holds the data stored for each signed URL
type entry struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RedisCache stores signed URLs in Redis keyed by storage path.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache parses redisURL and checks the connection.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client), nil
}

// NewRedisCacheWithClient creates a cache from an existing Redis client
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{
		client: client,
		prefix: "signed-url:",
	}
}

func (c *RedisCache) key(storagePath string) string {
	return c.prefix + storagePath
}

// Put caches url until expiresAt.
func (c *RedisCache) Put(ctx context.Context, storagePath, url string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(entry{URL: url, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return fmt.Errorf("marshal signed url: %w", err)
	}
	if err := c.client.Set(ctx, c.key(storagePath), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache signed url: %w", err)
	}
	return nil
}

// Get returns a cached URL that stays valid for at least minRemaining.
func (c *RedisCache) Get(ctx context.Context, storagePath string, minRemaining time.Duration) (string, error) {
	raw, err := c.client.Get(ctx, c.key(storagePath)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("lookup signed url: %w", err)
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return "", fmt.Errorf("unmarshal signed url: %w", err)
	}
	if time.Until(e.ExpiresAt) < minRemaining {
		return "", ErrMiss
	}
	return e.URL, nil
}

// Invalidate drops the cached URL, for example after the object is deleted.
func (c *RedisCache) Invalidate(ctx context.Context, storagePath string) error {
	if err := c.client.Del(ctx, c.key(storagePath)).Err(); err != nil {
		return fmt.Errorf("invalidate signed url: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
