package codegen

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/snaplink/snaplink/internal/base62"
)

// snowflakeEpoch anchors the 41-bit millisecond timestamp. A recent epoch
// keeps encoded IDs within 10 base-62 symbols for several years.
var snowflakeEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const (
	snowflakeNodeBits = 10
	snowflakeSeqBits  = 12
	snowflakeNodeMax  = 1<<snowflakeNodeBits - 1
	snowflakeSeqMask  = 1<<snowflakeSeqBits - 1
)

// SnowflakeGenerator produces contention-free monotonic IDs:
// 41-bit millisecond timestamp | 10-bit node | 12-bit sequence.
// IDs are unique across nodes without consulting the store, so Next never
// performs I/O.
type SnowflakeGenerator struct {
	nodeID uint64

	mu     sync.Mutex
	lastMs int64
	seq    uint64

	now func() time.Time
}

// NewSnowflakeGenerator creates a generator for the given node ID
// (masked to 10 bits).
func NewSnowflakeGenerator(nodeID uint64) *SnowflakeGenerator {
	return &SnowflakeGenerator{
		nodeID: nodeID & snowflakeNodeMax,
		now:    time.Now,
	}
}

// NodeIDFromHostname derives a stable 10-bit node ID by hashing the hostname.
// Distinct hosts may collide in 10 bits; the write path's unique-violation
// retry covers the residual risk the same way it does for random draws.
func NodeIDFromHostname() (uint64, error) {
	host, err := os.Hostname()
	if err != nil {
		return 0, fmt.Errorf("codegen: hostname: %w", err)
	}
	return xxh3.HashString(host) & snowflakeNodeMax, nil
}

// Next returns the Base62 encoding of the next ID. The sequence wraps within
// a millisecond by spinning to the next one.
func (g *SnowflakeGenerator) Next(_ context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.now().Sub(snowflakeEpoch).Milliseconds()
	if ms < 0 {
		return "", fmt.Errorf("codegen: clock is before snowflake epoch")
	}
	if ms == g.lastMs {
		g.seq = (g.seq + 1) & snowflakeSeqMask
		if g.seq == 0 {
			// Sequence exhausted for this millisecond; wait for the next.
			for ms <= g.lastMs {
				ms = g.now().Sub(snowflakeEpoch).Milliseconds()
			}
		}
	} else {
		g.seq = 0
	}
	g.lastMs = ms

	id := uint64(ms)<<(snowflakeNodeBits+snowflakeSeqBits) |
		g.nodeID<<snowflakeSeqBits |
		g.seq
	code := base62.Encode(id)
	if len(code) > base62.MaxCodeLen {
		// Unreachable before ~2030 with the current epoch.
		return "", fmt.Errorf("codegen: snowflake id %d exceeds %d symbols", id, base62.MaxCodeLen)
	}
	return code, nil
}
