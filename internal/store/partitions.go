package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
)

// ErrLegacyTablePopulated means url_mappings exists as a plain table with
// rows in it. Converting it in place would mean dropping live data, so
// startup refuses and leaves the migration to an operator.
var ErrLegacyTablePopulated = errors.New(
	"store: url_mappings exists as a populated non-partitioned table; migrate it manually before starting")

// DefaultPartitionLookahead is how many future monthly partitions are kept
// pre-created ahead of the current month.
const DefaultPartitionLookahead = 12

const createParentDDL = `
CREATE TABLE IF NOT EXISTS url_mappings (
	id               BIGSERIAL,
	original_url     TEXT        NOT NULL,
	short_code       VARCHAR(10) NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_date     DATE        NOT NULL DEFAULT CURRENT_DATE,
	expires_at       TIMESTAMPTZ,
	access_count     BIGINT      NOT NULL DEFAULT 0,
	last_accessed_at TIMESTAMPTZ,
	shard_id         INT         NOT NULL DEFAULT 0,
	PRIMARY KEY (id, created_date)
) PARTITION BY RANGE (created_date);

-- a unique index on a partitioned table must include the partition key
CREATE UNIQUE INDEX IF NOT EXISTS idx_url_mappings_short_code ON url_mappings (short_code, created_date);
CREATE INDEX IF NOT EXISTS idx_url_mappings_original_url ON url_mappings (original_url);
CREATE INDEX IF NOT EXISTS idx_url_mappings_expires_at ON url_mappings (expires_at) WHERE expires_at IS NOT NULL;
`

// partitionName returns the child table name for the month containing t.
func partitionName(t time.Time) string {
	return fmt.Sprintf("url_mappings_%04d_%02d", t.Year(), int(t.Month()))
}

// partitionBounds returns the [from, to) month range containing t, in UTC.
func partitionBounds(t time.Time) (from, to time.Time) {
	from = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// EnsureSchema creates the partitioned parent table if missing and
// pre-creates monthly partitions for the current month plus lookahead months.
// If a legacy non-partitioned url_mappings table is found, an empty one is
// replaced in place; a populated one is a hard startup error.
func (s *Store) EnsureSchema(ctx context.Context, now time.Time, lookahead int) error {
	if lookahead < 0 {
		lookahead = DefaultPartitionLookahead
	}
	if err := s.guardLegacyTable(ctx); err != nil {
		return err
	}
	if _, err := s.primary.Exec(ctx, createParentDDL); err != nil {
		return fmt.Errorf("store: create parent table: %w", err)
	}
	return s.EnsurePartitions(ctx, now, lookahead)
}

// partitionMaintSchedule runs shortly after midnight so next month's
// partition exists well before the boundary.
const partitionMaintSchedule = "30 0 * * *"

// StartPartitionMaintenance schedules a daily EnsurePartitions run so
// long-lived processes never write into a missing partition at a month
// boundary. Safe to call once per Store; stopped by Close.
func (s *Store) StartPartitionMaintenance(lookahead int) error {
	if s.partitionCron != nil {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(partitionMaintSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := s.EnsurePartitions(ctx, time.Now().UTC(), lookahead); err != nil {
			log.Printf("[store] partition maintenance: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("store: schedule partition maintenance: %w", err)
	}
	c.Start()
	s.partitionCron = c
	return nil
}

// EnsurePartitions creates the monthly partitions covering now and the next
// lookahead months. Idempotent; StartPartitionMaintenance re-runs it daily
// so long-lived processes stay covered across month boundaries.
func (s *Store) EnsurePartitions(ctx context.Context, now time.Time, lookahead int) error {
	for i := 0; i <= lookahead; i++ {
		month := now.AddDate(0, i, 0)
		from, to := partitionBounds(month)
		name := partitionName(month)
		q := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF url_mappings FOR VALUES FROM ('%s') TO ('%s')`,
			name, from.Format("2006-01-02"), to.Format("2006-01-02"),
		)
		if _, err := s.primary.Exec(ctx, q); err != nil {
			return fmt.Errorf("store: create partition %s: %w", name, err)
		}
	}
	return nil
}

// guardLegacyTable detects a pre-partitioning url_mappings table. relkind 'r'
// is a plain table; the partitioned parent is 'p' and needs no action.
func (s *Store) guardLegacyTable(ctx context.Context) error {
	var relkind string
	err := s.primary.QueryRow(ctx,
		`SELECT c.relkind FROM pg_class c
		 JOIN pg_namespace n ON n.oid = c.relnamespace
		 WHERE c.relname = 'url_mappings' AND n.nspname = current_schema()`,
	).Scan(&relkind)
	if errors.Is(err, pgx.ErrNoRows) {
		// No table yet; EnsureSchema creates the partitioned parent.
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: inspect url_mappings: %w", err)
	}
	if relkind != "r" {
		return nil
	}

	var count int64
	if err := s.primary.QueryRow(ctx, `SELECT count(*) FROM url_mappings`).Scan(&count); err != nil {
		return fmt.Errorf("store: count legacy rows: %w", err)
	}
	if count > 0 {
		return ErrLegacyTablePopulated
	}
	log.Printf("[store] dropping empty legacy url_mappings table before creating partitioned schema")
	if _, err := s.primary.Exec(ctx, `DROP TABLE url_mappings`); err != nil {
		return fmt.Errorf("store: drop empty legacy table: %w", err)
	}
	return nil
}
