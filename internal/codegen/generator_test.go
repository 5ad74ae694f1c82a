package codegen

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/snaplink/snaplink/internal/base62"
)

func TestRandomGeneratorReturnsFreeCode(t *testing.T) {
	gen := NewRandomGenerator(RandomConfig{
		Exists: func(_ context.Context, _ string) (bool, error) { return false, nil },
	})
	code, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !base62.Valid(code) {
		t.Fatalf("Next returned malformed code %q", code)
	}
	if len(code) > 6 {
		t.Fatalf("Next returned %q, want at most 6 symbols for default range", code)
	}
	n, err := base62.Decode(code)
	if err != nil {
		t.Fatalf("Decode(%q): %v", code, err)
	}
	if n < 1 || n > DefaultMaxValue {
		t.Fatalf("decoded value %d outside [1, %d]", n, DefaultMaxValue)
	}
}

func TestRandomGeneratorRetriesOnCollision(t *testing.T) {
	var calls int
	gen := NewRandomGenerator(RandomConfig{
		Exists: func(_ context.Context, _ string) (bool, error) {
			calls++
			return calls <= 3, nil // first three candidates taken
		},
	})
	if _, err := gen.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	if calls != 4 {
		t.Fatalf("existence predicate called %d times, want 4", calls)
	}
}

func TestRandomGeneratorExhaustsBudget(t *testing.T) {
	var calls int
	gen := NewRandomGenerator(RandomConfig{
		Exists: func(_ context.Context, _ string) (bool, error) {
			calls++
			return true, nil // everything taken
		},
		Attempts: 7,
	})
	_, err := gen.Next(context.Background())
	if !errors.Is(err, ErrCapacityExhausted) {
		t.Fatalf("Next err = %v, want ErrCapacityExhausted", err)
	}
	if calls != 7 {
		t.Fatalf("existence predicate called %d times, want 7", calls)
	}
}

func TestRandomGeneratorPropagatesStoreError(t *testing.T) {
	storeErr := fmt.Errorf("replica pool dry")
	gen := NewRandomGenerator(RandomConfig{
		Exists: func(_ context.Context, _ string) (bool, error) {
			return false, storeErr
		},
	})
	_, err := gen.Next(context.Background())
	if !errors.Is(err, storeErr) {
		t.Fatalf("Next err = %v, want wrapped store error", err)
	}
}

func TestRandomGeneratorHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := NewRandomGenerator(RandomConfig{
		Exists: func(_ context.Context, _ string) (bool, error) { return true, nil },
	})
	if _, err := gen.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Next err = %v, want context.Canceled", err)
	}
}

func TestRandomGeneratorConfigurableRange(t *testing.T) {
	// With max=1 every draw is the value 1, encoding "1".
	gen := NewRandomGenerator(RandomConfig{
		Exists:   func(_ context.Context, _ string) (bool, error) { return false, nil },
		MaxValue: 1,
	})
	code, err := gen.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if code != "1" {
		t.Fatalf("Next = %q, want %q", code, "1")
	}
}
