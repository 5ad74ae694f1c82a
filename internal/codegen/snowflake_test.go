package codegen

import (
	"context"
	"testing"
	"time"

	"github.com/snaplink/snaplink/internal/base62"
)

func TestSnowflakeUniqueWithinMillisecond(t *testing.T) {
	gen := NewSnowflakeGenerator(42)
	fixed := snowflakeEpoch.Add(90 * 24 * time.Hour)
	ticks := 0
	gen.now = func() time.Time {
		// Advance one millisecond every 5000 calls so the sequence both
		// exercises same-ms increments and ms rollover.
		ticks++
		return fixed.Add(time.Duration(ticks/5000) * time.Millisecond)
	}

	seen := make(map[string]struct{}, 10000)
	for i := 0; i < 10000; i++ {
		code, err := gen.Next(context.Background())
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if _, dup := seen[code]; dup {
			t.Fatalf("duplicate code %q at iteration %d", code, i)
		}
		seen[code] = struct{}{}
		if !base62.Valid(code) {
			t.Fatalf("malformed code %q", code)
		}
	}
}

func TestSnowflakeEmbedsNodeID(t *testing.T) {
	fixed := snowflakeEpoch.Add(time.Hour)
	a := NewSnowflakeGenerator(1)
	b := NewSnowflakeGenerator(2)
	a.now = func() time.Time { return fixed }
	b.now = func() time.Time { return fixed }

	codeA, err := a.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	codeB, err := b.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if codeA == codeB {
		t.Fatalf("different nodes produced identical code %q at the same instant", codeA)
	}

	nA, _ := base62.Decode(codeA)
	if got := (nA >> snowflakeSeqBits) & snowflakeNodeMax; got != 1 {
		t.Fatalf("node bits = %d, want 1", got)
	}
}

func TestSnowflakeRejectsPreEpochClock(t *testing.T) {
	gen := NewSnowflakeGenerator(0)
	gen.now = func() time.Time { return snowflakeEpoch.Add(-time.Second) }
	if _, err := gen.Next(context.Background()); err == nil {
		t.Fatal("Next succeeded with a pre-epoch clock")
	}
}

func TestNodeIDFromHostnameIsStable(t *testing.T) {
	a, err := NodeIDFromHostname()
	if err != nil {
		t.Fatalf("NodeIDFromHostname: %v", err)
	}
	b, err := NodeIDFromHostname()
	if err != nil {
		t.Fatalf("NodeIDFromHostname: %v", err)
	}
	if a != b {
		t.Fatalf("node ID not stable: %d vs %d", a, b)
	}
	if a > snowflakeNodeMax {
		t.Fatalf("node ID %d exceeds 10 bits", a)
	}
}
