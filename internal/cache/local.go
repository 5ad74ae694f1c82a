package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"
)

// LocalCache is the in-process cache variant, backed by an otter cache with
// per-entry TTLs. It implements the same sliding adaptive-TTL contract as the
// Redis variant; counters live in a second variable-TTL cache so they expire
// alongside their values and memory stays bounded.
type LocalCache struct {
	mu       sync.Mutex
	values   otter.CacheWithVariableTTL[string, string]
	counters otter.CacheWithVariableTTL[string, int64]
	policy   TTLPolicy
}

// NewLocalCache creates a LocalCache bounded to maxEntries values.
func NewLocalCache(maxEntries int, policy TTLPolicy) (*LocalCache, error) {
	if maxEntries <= 0 {
		maxEntries = 100_000
	}
	values, err := otter.MustBuilder[string, string](maxEntries).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("cache: build value cache: %w", err)
	}
	counters, err := otter.MustBuilder[string, int64](maxEntries).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, fmt.Errorf("cache: build counter cache: %w", err)
	}
	return &LocalCache{
		values:   values,
		counters: counters,
		policy:   policy.normalized(),
	}, nil
}

// Get returns the cached value, sliding its TTL to the tier the bumped
// access count lands in.
func (c *LocalCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, ok := c.values.Get(key)
	if !ok {
		return "", false, nil
	}

	count, _ := c.counters.Get(key)
	count++
	ttl := c.policy.For(count)
	c.counters.Set(key, count, ttl)
	c.values.Set(key, val, ttl)
	return val, true, nil
}

// Put stores value under key. A non-positive ttl uses the cold tier.
func (c *LocalCache) Put(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.policy.Cold
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.Set(key, value, ttl)
	return nil
}

// Remove deletes the entry and its access counter.
func (c *LocalCache) Remove(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.Delete(key)
	c.counters.Delete(key)
	return nil
}

// Exists reports whether key has a value.
func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values.Has(key), nil
}

// Close releases both underlying caches.
func (c *LocalCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values.Close()
	c.counters.Close()
	return nil
}
