// Copyright 2026 The Continuwuity Authors
// SPDX-License-Identifier: Apache-2.0

package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/continuwuity/continuwuity-sub001/lib/clock"
	"github.com/continuwuity/continuwuity-sub001/lib/config"
)

// Cache is the graph's lookup cache. Values are opaque bytes; a miss
// is reported as found == false with a nil error.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
	Close() error

	// Backend names the implementation: "memory" or "redis".
	Backend() string
}

// openCache builds the configured backend and verifies it answers.
func openCache(ctx context.Context, cfg config.CacheConfig, clk clock.Clock) (Cache, error) {
	var cache Cache
	switch cfg.Backend {
	case config.CacheMemory:
		cache = newMemoryCache(clk)
	case config.CacheRedis:
		redisCache, err := newRedisCache(cfg)
		if err != nil {
			return nil, err
		}
		cache = redisCache
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}

	if err := cache.Ping(ctx); err != nil {
		closeErr := cache.Close()
		return nil, errors.Join(fmt.Errorf("pinging %s cache: %w", cache.Backend(), err), closeErr)
	}
	return cache, nil
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// memoryCache is a process-local map with per-entry expiry. Expired
// entries are dropped lazily on Get.
type memoryCache struct {
	clock clock.Clock

	mu      sync.Mutex
	entries map[string]memoryEntry
	closed  bool
}

func newMemoryCache(clk clock.Clock) *memoryCache {
	return &memoryCache{clock: clk, entries: make(map[string]memoryEntry)}
}

func (c *memoryCache) Backend() string { return config.CacheMemory }

func (c *memoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !c.clock.Now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *memoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("memory cache closed")
	}
	c.entries[key] = memoryEntry{value: value, expires: c.clock.Now().Add(ttl)}
	return nil
}

func (c *memoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		delete(c.entries, key)
	}
	return nil
}

func (c *memoryCache) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("memory cache closed")
	}
	return nil
}

func (c *memoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = make(map[string]memoryEntry)
	return nil
}

// redisCache stores entries in redis under a configurable prefix so
// several homeservers (or generations built from different configs)
// can share one instance.
type redisCache struct {
	client *redis.Client
	prefix string
}

func newRedisCache(cfg config.CacheConfig) (*redisCache, error) {
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing cache.redis_url: %w", err)
	}
	return &redisCache{client: redis.NewClient(options), prefix: cfg.KeyPrefix}, nil
}

func (c *redisCache) Backend() string { return config.CacheRedis }

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, true, nil
}

func (c *redisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.prefix + key
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
