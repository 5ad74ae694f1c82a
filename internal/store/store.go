package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/snaplink/snaplink/internal/model"
)

// ErrNotFound is returned when no mapping matches a lookup.
var ErrNotFound = errors.New("store: mapping not found")

// ErrDuplicateShortCode is returned when an insert collides with an existing
// short code.
var ErrDuplicateShortCode = errors.New("store: short code already taken")

// Config configures a Store.
type Config struct {
	PrimaryURL  string
	ReplicaURLs []string

	MaxConns        int32
	MaxConnLifetime time.Duration

	Health HealthMonitorConfig
}

type replica struct {
	name string
	pool *pgxpool.Pool
}

// Store owns the Postgres connection pools and routes every operation to the
// right side of the primary/replica split. Writes and read-after-write reads
// go to the primary; plain reads rotate over healthy replicas and fall back
// to the primary when none qualify.
type Store struct {
	primary  *pgxpool.Pool
	replicas []replica
	health   *HealthMonitor
	rr       atomic.Uint64

	partitionCron *cron.Cron
}

// Open connects the primary and replica pools and starts replica health
// monitoring. Replica endpoints that fail to open are logged and skipped;
// a failed primary is fatal.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	primary, err := openPool(ctx, cfg, cfg.PrimaryURL)
	if err != nil {
		return nil, fmt.Errorf("store: open primary: %w", err)
	}
	if err := primary.Ping(ctx); err != nil {
		primary.Close()
		return nil, fmt.Errorf("store: ping primary: %w", err)
	}

	s := &Store{primary: primary}

	probers := make(map[string]Prober, len(cfg.ReplicaURLs))
	for i, url := range cfg.ReplicaURLs {
		pool, err := openPool(ctx, cfg, url)
		if err != nil {
			log.Printf("[store] replica %d unavailable at startup, skipping: %v", i, err)
			continue
		}
		name := fmt.Sprintf("replica-%d", i)
		s.replicas = append(s.replicas, replica{name: name, pool: pool})
		probers[name] = replicaProber(pool)
	}

	hc := cfg.Health
	hc.Probers = probers
	s.health = NewHealthMonitor(hc)
	s.health.Start()
	return s, nil
}

func openPool(ctx context.Context, cfg Config, url string) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	return pgxpool.NewWithConfig(ctx, pc)
}

// replicaProber reports recovery status and replay lag for one replica pool.
// pg_wal_lsn_diff needs both LSNs; COALESCE covers the idle case where the
// replay LSN is momentarily null.
func replicaProber(pool *pgxpool.Pool) Prober {
	return func(ctx context.Context) (int64, bool, error) {
		const q = `SELECT pg_is_in_recovery(),
			COALESCE(pg_wal_lsn_diff(pg_last_wal_receive_lsn(), pg_last_wal_replay_lsn()), 0)::bigint`
		var isReplica bool
		var lag int64
		if err := pool.QueryRow(ctx, q).Scan(&isReplica, &lag); err != nil {
			return -1, false, err
		}
		return lag, isReplica, nil
	}
}

// Close stops health monitoring and partition maintenance and releases all
// pools.
func (s *Store) Close() {
	if s.partitionCron != nil {
		<-s.partitionCron.Stop().Done()
	}
	if s.health != nil {
		s.health.Stop()
	}
	for _, r := range s.replicas {
		r.pool.Close()
	}
	s.primary.Close()
}

// Ping verifies the primary connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.primary.Ping(ctx)
}

// ReplicaStatus exposes the health snapshot for health endpoints.
func (s *Store) ReplicaStatus() map[string]ProbeResult {
	return s.health.Status()
}

// reader picks the pool for a read. Healthy replicas are rotated round-robin
// starting from a moving offset; with none healthy the primary serves reads.
func (s *Store) reader() *pgxpool.Pool {
	if len(s.replicas) == 0 {
		return s.primary
	}
	healthy := func(name string) bool { return s.health.Healthy(name) }
	idx := pickReplica(len(s.replicas), s.rr.Add(1), func(i int) bool {
		return healthy(s.replicas[i].name)
	})
	if idx < 0 {
		return s.primary
	}
	return s.replicas[idx].pool
}

// pickReplica returns the index of the first healthy replica at or after the
// rotation offset, or -1 when none is healthy. Pure so routing is testable
// without pools.
func pickReplica(n int, turn uint64, healthy func(int) bool) int {
	if n == 0 {
		return -1
	}
	start := int(turn % uint64(n))
	for i := 0; i < n; i++ {
		idx := (start + i) % n
		if healthy(idx) {
			return idx
		}
	}
	return -1
}

const mappingColumns = `id, original_url, short_code, created_at, created_date,
	expires_at, access_count, last_accessed_at, shard_id`

func scanMapping(row pgx.Row) (*model.URLMapping, error) {
	var m model.URLMapping
	err := row.Scan(&m.ID, &m.OriginalURL, &m.ShortCode, &m.CreatedAt, &m.CreatedDate,
		&m.ExpiresAt, &m.AccessCount, &m.LastAccessedAt, &m.ShardID)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindByShort returns the mapping for a short code, served from a replica
// when one is healthy.
func (s *Store) FindByShort(ctx context.Context, shortCode string) (*model.URLMapping, error) {
	q := `SELECT ` + mappingColumns + ` FROM url_mappings WHERE short_code = $1 LIMIT 1`
	m, err := scanMapping(s.reader().QueryRow(ctx, q, shortCode))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by short code: %w", err)
	}
	return m, nil
}

// FindByOriginal returns an existing mapping for the original URL, oldest
// first so repeated shortens are stable. Replica-preferred: a stale miss here
// only costs one redundant mapping, which the dedupe contract tolerates.
func (s *Store) FindByOriginal(ctx context.Context, originalURL string) (*model.URLMapping, error) {
	q := `SELECT ` + mappingColumns + ` FROM url_mappings WHERE original_url = $1 ORDER BY created_at ASC LIMIT 1`
	m, err := scanMapping(s.reader().QueryRow(ctx, q, originalURL))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find by original url: %w", err)
	}
	return m, nil
}

// ExistsShort reports whether a short code is taken. Replica-preferred; the
// rare false negative from a lagging replica is caught again by the unique
// violation on insert.
func (s *Store) ExistsShort(ctx context.Context, shortCode string) (bool, error) {
	var exists bool
	q := `SELECT EXISTS(SELECT 1 FROM url_mappings WHERE short_code = $1)`
	if err := s.reader().QueryRow(ctx, q, shortCode).Scan(&exists); err != nil {
		return false, fmt.Errorf("store: short code exists: %w", err)
	}
	return exists, nil
}

// Insert writes a new mapping and fills in its generated id. A unique
// violation on the short code surfaces as ErrDuplicateShortCode so callers
// can regenerate and retry.
func (s *Store) Insert(ctx context.Context, m *model.URLMapping) error {
	q := `INSERT INTO url_mappings
		(original_url, short_code, created_at, created_date, expires_at, access_count, shard_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`
	err := s.primary.QueryRow(ctx, q,
		m.OriginalURL, m.ShortCode, m.CreatedAt, m.CreatedDate,
		m.ExpiresAt, m.AccessCount, m.ShardID,
	).Scan(&m.ID)
	if isUniqueViolation(err) {
		return ErrDuplicateShortCode
	}
	if err != nil {
		return fmt.Errorf("store: insert mapping: %w", err)
	}
	return nil
}

// TouchAccess bumps the access count and stamps the access time for a short
// code. Best effort on the caller's side; always a primary write.
func (s *Store) TouchAccess(ctx context.Context, shortCode string, at time.Time) error {
	q := `UPDATE url_mappings
		SET access_count = access_count + 1, last_accessed_at = $2
		WHERE short_code = $1`
	if _, err := s.primary.Exec(ctx, q, shortCode, at); err != nil {
		return fmt.Errorf("store: touch access: %w", err)
	}
	return nil
}

// DeleteBatch removes up to limit mappings that are expired at now or have
// gone unaccessed since accessCutoff, and returns how many rows went.
// Deleting via an id subquery keeps each statement short so cleanup sweeps
// never hold long locks.
func (s *Store) DeleteBatch(ctx context.Context, accessCutoff, now time.Time, limit int) (int64, error) {
	q := `DELETE FROM url_mappings
		WHERE (id, created_date) IN (
			SELECT id, created_date FROM url_mappings
			WHERE last_accessed_at < $1
			   OR (last_accessed_at IS NULL AND created_at < $1)
			   OR (expires_at IS NOT NULL AND expires_at < $2)
			LIMIT $3
		)`
	tag, err := s.primary.Exec(ctx, q, accessCutoff, now, limit)
	if err != nil {
		return 0, fmt.Errorf("store: delete batch: %w", err)
	}
	return tag.RowsAffected(), nil
}

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
