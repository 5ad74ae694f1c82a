// Package cleanup deletes expired and long-unaccessed URL mappings on a
// schedule, in small batches so the primary never holds long locks.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Worker defaults.
const (
	DefaultSchedule        = "0 3 * * *" // daily at 03:00
	DefaultRetentionMonths = 6
	DefaultBatchSize       = 1000
	DefaultBatchPause      = 100 * time.Millisecond
	passTimeout            = 30 * time.Minute
)

// Deleter removes one batch of eligible mappings.
type Deleter interface {
	DeleteBatch(ctx context.Context, accessCutoff, now time.Time, limit int) (int64, error)
}

// Config configures a Worker.
type Config struct {
	Schedule        string
	RetentionMonths int
	BatchSize       int
	BatchPause      time.Duration

	now func() time.Time
}

// Worker runs scheduled cleanup passes. Each batch is its own statement and
// the pause between batches happens with no connection held.
type Worker struct {
	deleter   Deleter
	retention int
	batchSize int
	pause     time.Duration
	now       func() time.Time

	cron   *cron.Cron
	passMu sync.Mutex // one pass at a time
}

// NewWorker creates a Worker and validates its schedule. It does not run
// anything until Start.
func NewWorker(deleter Deleter, cfg Config) (*Worker, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.RetentionMonths <= 0 {
		cfg.RetentionMonths = DefaultRetentionMonths
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchPause <= 0 {
		cfg.BatchPause = DefaultBatchPause
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	w := &Worker{
		deleter:   deleter,
		retention: cfg.RetentionMonths,
		batchSize: cfg.BatchSize,
		pause:     cfg.BatchPause,
		now:       cfg.now,
		cron:      cron.New(),
	}
	if _, err := w.cron.AddFunc(cfg.Schedule, func() {
		if err := w.RunPass(context.Background()); err != nil {
			log.Printf("[cleanup] scheduled pass failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("cleanup: invalid schedule %q: %w", cfg.Schedule, err)
	}
	return w, nil
}

// Start begins the schedule.
func (w *Worker) Start() {
	w.cron.Start()
}

// Stop halts the schedule and waits for a running scheduled pass to finish.
func (w *Worker) Stop() {
	<-w.cron.Stop().Done()
}

// RunPass deletes eligible mappings batch by batch until a batch comes back
// short. An error aborts the pass; the next scheduled pass starts fresh.
func (w *Worker) RunPass(ctx context.Context) error {
	w.passMu.Lock()
	defer w.passMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, passTimeout)
	defer cancel()

	now := w.now().UTC()
	accessCutoff := now.AddDate(0, -w.retention, 0)

	var total int64
	for {
		n, err := w.deleter.DeleteBatch(ctx, accessCutoff, now, w.batchSize)
		if err != nil {
			return fmt.Errorf("cleanup: pass aborted after %d deletions: %w", total, err)
		}
		total += n
		if n < int64(w.batchSize) {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cleanup: pass aborted after %d deletions: %w", total, ctx.Err())
		case <-time.After(w.pause):
		}
	}
	if total > 0 {
		log.Printf("[cleanup] pass removed %d mappings", total)
	}
	return nil
}
