package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig configures a RedisCache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	Policy    TTLPolicy
	OpTimeout time.Duration // per-operation ceiling, default 5s
}

// RedisCache is the shared cache variant. Cluster redirect-following and
// connection pooling are delegated to the client library; the cache layer
// only decides keys and TTLs.
type RedisCache struct {
	client    *redis.Client
	policy    TTLPolicy
	opTimeout time.Duration

	// syncMaintenance forces TTL/counter maintenance to run inline instead
	// of in a goroutine. Tests only.
	syncMaintenance bool
}

// NewRedisCache creates a RedisCache. It does not dial eagerly; use Ping to
// verify connectivity at startup.
func NewRedisCache(cfg RedisConfig) *RedisCache {
	opTimeout := cfg.OpTimeout
	if opTimeout <= 0 {
		opTimeout = 5 * time.Second
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		policy:    cfg.Policy.normalized(),
		opTimeout: opTimeout,
	}
}

// Ping verifies connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	return nil
}

// Get returns the cached value. On a hit the access counter is incremented
// and both the value and the counter have their TTLs refreshed to the tier
// the new count lands in. Maintenance runs off the request path.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %q: %w", key, err)
	}

	if c.syncMaintenance {
		c.refreshOnHit(key)
	} else {
		go c.refreshOnHit(key)
	}
	return val, true, nil
}

// refreshOnHit bumps the counter and slides both TTLs. Runs with its own
// deadline: the caller's request context may already be done by the time the
// maintenance writes land.
func (c *RedisCache) refreshOnHit(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opTimeout)
	defer cancel()

	counterKey := AccessCounterPrefix + key
	count, err := c.client.Incr(ctx, counterKey).Result()
	if err != nil {
		log.Printf("[cache] access counter incr for %q failed: %v", key, err)
		return
	}

	ttl := c.policy.For(count)
	pipe := c.client.Pipeline()
	pipe.Expire(ctx, key, ttl)
	pipe.Expire(ctx, counterKey, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Printf("[cache] ttl refresh for %q failed: %v", key, err)
	}
}

// Put stores value under key. A non-positive ttl uses the cold tier.
func (c *RedisCache) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.policy.Cold
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: put %q: %w", key, err)
	}
	return nil
}

// Remove deletes the entry and its access counter.
func (c *RedisCache) Remove(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key, AccessCounterPrefix+key).Err(); err != nil {
		return fmt.Errorf("cache: remove %q: %w", key, err)
	}
	return nil
}

// Exists reports whether key has a value.
func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("cache: exists %q: %w", key, err)
	}
	return n > 0, nil
}

// Close releases the client's connections.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
