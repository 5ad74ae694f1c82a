package clickstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/snaplink/snaplink/internal/model"
)

type recordingInserter struct {
	mu      sync.Mutex
	batches [][]model.ClickEvent
	err     error
}

func (r *recordingInserter) InsertEvents(_ context.Context, events []model.ClickEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	batch := make([]model.ClickEvent, len(events))
	copy(batch, events)
	r.batches = append(r.batches, batch)
	return nil
}

func (r *recordingInserter) snapshot() [][]model.ClickEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]model.ClickEvent, len(r.batches))
	copy(out, r.batches)
	return out
}

func event(code string) model.ClickEvent {
	return model.ClickEvent{ShortCode: code, DeviceType: model.DeviceUnknown, Timestamp: 1}
}

func TestBatcherFlushesOnSize(t *testing.T) {
	ins := &recordingInserter{}
	b := NewBatcher(ins, 3, time.Hour)
	defer b.Stop()

	b.Add(event("a"))
	b.Add(event("b"))
	if got := ins.snapshot(); len(got) != 0 {
		t.Fatalf("flushed before batch filled: %v", got)
	}
	b.Add(event("c"))

	got := ins.snapshot()
	if len(got) != 1 || len(got[0]) != 3 {
		t.Fatalf("batches = %v, want one batch of 3", got)
	}
	if b.Pending() != 0 {
		t.Fatalf("pending = %d after size flush", b.Pending())
	}
}

func TestBatcherFlushesOnInterval(t *testing.T) {
	ins := &recordingInserter{}
	b := NewBatcher(ins, 100, 20*time.Millisecond)
	defer b.Stop()

	b.Add(event("a"))
	deadline := time.After(2 * time.Second)
	for {
		if got := ins.snapshot(); len(got) == 1 {
			if len(got[0]) != 1 || got[0][0].ShortCode != "a" {
				t.Fatalf("unexpected batch: %v", got)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("interval flush never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBatcherStopDrains(t *testing.T) {
	ins := &recordingInserter{}
	b := NewBatcher(ins, 100, time.Hour)

	b.Add(event("a"))
	b.Add(event("b"))
	b.Stop()

	got := ins.snapshot()
	if len(got) != 1 || len(got[0]) != 2 {
		t.Fatalf("batches after Stop = %v, want one batch of 2", got)
	}
}

func TestBatcherFlushWritesBufferedEvents(t *testing.T) {
	ins := &recordingInserter{}
	b := NewBatcher(ins, 100, time.Hour)
	defer b.Stop()

	b.Add(event("a"))
	b.Add(event("b"))
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	got := ins.snapshot()
	if len(got) != 1 || len(got[0]) != 2 || got[0][0].ShortCode != "a" {
		t.Fatalf("batches after Flush = %v, want one batch of 2", got)
	}
	if b.Pending() != 0 {
		t.Fatalf("pending = %d after Flush", b.Pending())
	}

	// Nothing buffered is a no-op, not an error.
	if err := b.Flush(context.Background()); err != nil {
		t.Fatalf("empty Flush: %v", err)
	}
	if got := ins.snapshot(); len(got) != 1 {
		t.Fatalf("empty Flush wrote a batch: %v", got)
	}
}

func TestBatcherFlushReportsFailure(t *testing.T) {
	ins := &recordingInserter{err: errors.New("db down")}
	b := NewBatcher(ins, 100, time.Hour)
	defer b.Stop()

	b.Add(event("a"))
	if err := b.Flush(context.Background()); err == nil {
		t.Fatal("failed flush reported no error")
	}
	// The failed batch is dropped, not retried.
	if b.Pending() != 0 {
		t.Fatalf("pending = %d, failed batch kept", b.Pending())
	}
}

func TestBatcherDropsFailedBatch(t *testing.T) {
	ins := &recordingInserter{err: errors.New("db down")}
	b := NewBatcher(ins, 2, time.Hour)
	defer b.Stop()

	b.Add(event("a"))
	b.Add(event("b"))

	// The failed batch is gone; new events start a fresh buffer.
	if b.Pending() != 0 {
		t.Fatalf("pending = %d, failed batch kept", b.Pending())
	}

	ins.mu.Lock()
	ins.err = nil
	ins.mu.Unlock()

	b.Add(event("c"))
	b.Add(event("d"))
	got := ins.snapshot()
	if len(got) != 1 || len(got[0]) != 2 || got[0][0].ShortCode != "c" {
		t.Fatalf("batches after recovery = %v", got)
	}
}
