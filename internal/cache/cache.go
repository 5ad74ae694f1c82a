// Package cache provides the keyed string cache in front of the mapping
// store. Entries slide on read: every hit refreshes the TTL, and the tier of
// the refreshed TTL adapts to how often the key has been read.
package cache

import (
	"context"
	"time"
)

// Cache is the capability set the lookup path needs. Implementations are
// chosen by configuration: a Redis-backed cache for shared deployments, an
// in-process otter-backed cache for single-node and test topologies. No
// consistency stronger than per-key last-writer-wins is assumed.
type Cache interface {
	// Get returns the cached value. A hit refreshes the entry's TTL
	// (sliding expiration) and bumps its access counter; both maintenance
	// writes are best-effort and never gate the returned value.
	Get(ctx context.Context, key string) (value string, ok bool, err error)

	// Put stores value under key. A non-positive ttl uses the policy's
	// default tier.
	Put(ctx context.Context, key, value string, ttl time.Duration) error

	// Remove deletes the entry and its access counter.
	Remove(ctx context.Context, key string) error

	// Exists reports whether key currently has a value.
	Exists(ctx context.Context, key string) (bool, error)

	// Close releases the underlying resources.
	Close() error
}

// Default adaptive-TTL tiers.
const (
	DefaultColdTTL       = 10 * time.Minute
	DefaultWarmTTL       = 15 * time.Minute
	DefaultHotTTL        = 30 * time.Minute
	DefaultWarmThreshold = 5
	DefaultHotThreshold  = 10
)

// AccessCounterPrefix prepends cache value keys to form their per-key access
// counter key. The counter expires together with the value.
const AccessCounterPrefix = "access:"

// TTLPolicy maps an observed per-key access count to a sliding TTL tier.
type TTLPolicy struct {
	Cold time.Duration
	Warm time.Duration
	Hot  time.Duration

	WarmThreshold int64
	HotThreshold  int64
}

// DefaultTTLPolicy returns the cold/warm/hot tiers at their defaults.
func DefaultTTLPolicy() TTLPolicy {
	return TTLPolicy{
		Cold:          DefaultColdTTL,
		Warm:          DefaultWarmTTL,
		Hot:           DefaultHotTTL,
		WarmThreshold: DefaultWarmThreshold,
		HotThreshold:  DefaultHotThreshold,
	}
}

// normalized fills zero fields with defaults so a partially configured
// policy stays monotone.
func (p TTLPolicy) normalized() TTLPolicy {
	d := DefaultTTLPolicy()
	if p.Cold <= 0 {
		p.Cold = d.Cold
	}
	if p.Warm <= 0 {
		p.Warm = d.Warm
	}
	if p.Hot <= 0 {
		p.Hot = d.Hot
	}
	if p.WarmThreshold <= 0 {
		p.WarmThreshold = d.WarmThreshold
	}
	if p.HotThreshold <= 0 {
		p.HotThreshold = d.HotThreshold
	}
	return p
}

// For returns the TTL tier for a key observed accessCount times.
func (p TTLPolicy) For(accessCount int64) time.Duration {
	switch {
	case accessCount >= p.HotThreshold:
		return p.Hot
	case accessCount >= p.WarmThreshold:
		return p.Warm
	default:
		return p.Cold
	}
}
