// Package codegen produces unique short codes. The store cannot enforce
// global code uniqueness (the partitioned table has no cross-partition unique
// constraint), so the generator is the authority: it consults the store's
// existence predicate and retries on collision.
package codegen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/snaplink/snaplink/internal/base62"
)

// DefaultMaxValue is the generator's default draw ceiling, 62^6 - 1.
// Six-symbol codes keep collision probability sub-ppm at expected fill
// fractions while staying short enough for humans.
const DefaultMaxValue = uint64(62*62*62*62*62*62 - 1)

// DefaultAttempts is the default collision-retry budget per Next call.
const DefaultAttempts = 100

// ErrCapacityExhausted is returned when the attempt budget is spent without
// finding a free code. Callers surface it as URL_GENERATION_FAILED and do not
// retry locally.
var ErrCapacityExhausted = errors.New("codegen: attempt budget exhausted")

// ExistsFunc is the store's existence predicate for a candidate code.
type ExistsFunc func(ctx context.Context, code string) (bool, error)

// Generator yields short codes not currently present in the mapping store.
type Generator interface {
	Next(ctx context.Context) (string, error)
}

// RandomConfig configures a RandomGenerator. Zero values fall back to the
// defaults above.
type RandomConfig struct {
	Exists   ExistsFunc
	MaxValue uint64 // draw range is [1, MaxValue]
	Attempts int

	// Rand overrides the random source. Injectable for testing.
	Rand func(max uint64) uint64
}

// RandomGenerator draws uniform integers in [1, max] and encodes them.
type RandomGenerator struct {
	exists   ExistsFunc
	max      uint64
	attempts int
	rand     func(max uint64) uint64
}

// NewRandomGenerator creates a RandomGenerator.
func NewRandomGenerator(cfg RandomConfig) *RandomGenerator {
	max := cfg.MaxValue
	if max == 0 {
		max = DefaultMaxValue
	}
	attempts := cfg.Attempts
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	rnd := cfg.Rand
	if rnd == nil {
		rnd = rand.Uint64N
	}
	return &RandomGenerator{
		exists:   cfg.Exists,
		max:      max,
		attempts: attempts,
		rand:     rnd,
	}
}

// Next returns a code absent from the store at the time of the check, or
// ErrCapacityExhausted after the attempt budget. Store errors abort
// immediately: a blind retry against a failing store would only amplify load.
func (g *RandomGenerator) Next(ctx context.Context) (string, error) {
	for i := 0; i < g.attempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n := 1 + g.rand(g.max) // uniform in [1, max]
		code := base62.Encode(n)
		taken, err := g.exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("codegen: existence check for %q: %w", code, err)
		}
		if !taken {
			return code, nil
		}
	}
	return "", ErrCapacityExhausted
}
