package clickstream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/snaplink/snaplink/internal/model"
)

// Batcher defaults.
const (
	DefaultBatchSize     = 100
	DefaultFlushInterval = 5 * time.Second
	defaultFlushTimeout  = 10 * time.Second
)

// Inserter persists a batch of raw click events.
type Inserter interface {
	InsertEvents(ctx context.Context, events []model.ClickEvent) error
}

// Batcher buffers events and writes them in batches, by size or by age,
// whichever comes first. A failed flush drops that batch after logging;
// click data is lossy by contract and must never wedge consumption.
type Batcher struct {
	inserter Inserter
	size     int
	interval time.Duration

	mu  sync.Mutex
	buf []model.ClickEvent

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewBatcher creates a Batcher and starts its flush timer. Non-positive
// size or interval fall back to the defaults.
func NewBatcher(inserter Inserter, size int, interval time.Duration) *Batcher {
	if size <= 0 {
		size = DefaultBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	b := &Batcher{
		inserter: inserter,
		size:     size,
		interval: interval,
		buf:      make([]model.ClickEvent, 0, size),
		stopCh:   make(chan struct{}),
	}
	b.wg.Add(1)
	go b.flushLoop()
	return b
}

// Add buffers one event, flushing inline when the batch fills.
func (b *Batcher) Add(e model.ClickEvent) {
	var full []model.ClickEvent
	b.mu.Lock()
	b.buf = append(b.buf, e)
	if len(b.buf) >= b.size {
		full = b.take()
	}
	b.mu.Unlock()
	if full != nil {
		b.flush(full)
	}
}

// Flush synchronously writes whatever is buffered. The consumer calls this
// before committing a poll batch's offsets; a failed write drops the batch
// after logging and is reported to the caller.
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.take()
	b.mu.Unlock()
	if batch == nil {
		return nil
	}
	return b.flushBatch(ctx, batch)
}

// Pending returns the number of buffered events.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Stop terminates the timer and drains whatever is buffered.
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() { close(b.stopCh) })
	b.wg.Wait()

	b.mu.Lock()
	rest := b.take()
	b.mu.Unlock()
	if rest != nil {
		b.flush(rest)
	}
}

// take swaps out the buffer. Caller holds b.mu.
func (b *Batcher) take() []model.ClickEvent {
	if len(b.buf) == 0 {
		return nil
	}
	out := b.buf
	b.buf = make([]model.ClickEvent, 0, b.size)
	return out
}

func (b *Batcher) flushLoop() {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.mu.Lock()
			batch := b.take()
			b.mu.Unlock()
			if batch != nil {
				b.flush(batch)
			}
		}
	}
}

func (b *Batcher) flush(batch []model.ClickEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultFlushTimeout)
	defer cancel()
	_ = b.flushBatch(ctx, batch)
}

// flushBatch writes one batch. A failed write drops the batch after logging.
func (b *Batcher) flushBatch(ctx context.Context, batch []model.ClickEvent) error {
	if err := b.inserter.InsertEvents(ctx, batch); err != nil {
		log.Printf("[clickstream] flush of %d events failed, batch dropped: %v", len(batch), err)
		return fmt.Errorf("clickstream: flush batch: %w", err)
	}
	return nil
}
