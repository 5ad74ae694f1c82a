package stats

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/snaplink/snaplink/internal/model"
)

// Aggregator defaults.
const (
	DefaultAggregateInterval = 10 * time.Minute
	aggregateRunTimeout      = 15 * time.Minute
)

// Rollups is the slice of the store the aggregator needs.
type Rollups interface {
	DistinctCodes(ctx context.Context) ([]string, error)
	ComputeRollup(ctx context.Context, shortCode string, now time.Time, loc *time.Location) (*model.URLStatistics, error)
	UpsertStatistics(ctx context.Context, st *model.URLStatistics) error
}

// AggregatorConfig configures an Aggregator.
type AggregatorConfig struct {
	Interval time.Duration
	Location *time.Location // calendar zone for day/week/month windows

	now func() time.Time
}

// Aggregator periodically recomputes per-code rollups from the raw events.
// Re-running over the same raw data produces the same rows.
type Aggregator struct {
	rollups Rollups
	loc     *time.Location
	now     func() time.Time
	cron    *cron.Cron
}

// NewAggregator creates an Aggregator. Nil location means UTC.
func NewAggregator(rollups Rollups, cfg AggregatorConfig) (*Aggregator, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultAggregateInterval
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}
	a := &Aggregator{
		rollups: rollups,
		loc:     cfg.Location,
		now:     cfg.now,
		cron:    cron.New(),
	}
	spec := fmt.Sprintf("@every %s", cfg.Interval)
	if _, err := a.cron.AddFunc(spec, func() {
		if err := a.RunOnce(context.Background()); err != nil {
			log.Printf("[stats] aggregation run failed: %v", err)
		}
	}); err != nil {
		return nil, fmt.Errorf("stats: schedule aggregator: %w", err)
	}
	return a, nil
}

// Start begins the schedule.
func (a *Aggregator) Start() {
	a.cron.Start()
}

// Stop halts the schedule and waits for a running pass to finish.
func (a *Aggregator) Stop() {
	<-a.cron.Stop().Done()
}

// RunOnce recomputes the rollup of every code seen in the raw events table.
// A failing code is logged and skipped; one bad code must not starve the
// rest of the fleet.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, aggregateRunTimeout)
	defer cancel()

	codes, err := a.rollups.DistinctCodes(ctx)
	if err != nil {
		return err
	}
	now := a.now()
	var failed int
	for _, code := range codes {
		st, err := a.rollups.ComputeRollup(ctx, code, now, a.loc)
		if err != nil {
			log.Printf("[stats] rollup for %q: %v", code, err)
			failed++
			continue
		}
		if err := a.rollups.UpsertStatistics(ctx, st); err != nil {
			log.Printf("[stats] upsert for %q: %v", code, err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("stats: aggregation finished with %d of %d codes failed", failed, len(codes))
	}
	return nil
}
