// Package stats owns the click analytics domain: raw event storage,
// periodic rollups and the query surface over both.
package stats

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snaplink/snaplink/internal/model"
)

// ErrNoStatistics is returned when a short code has no rollup row yet.
var ErrNoStatistics = errors.New("stats: no statistics for short code")

// Store is the stats database access layer. The stats DB is separate from
// the mapping store; nothing here touches url_mappings.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects the stats pool.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("stats: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("stats: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// InsertEvents bulk-inserts a batch of raw click events in one transaction.
// Event ids are assigned here, at the ingest boundary.
func (s *Store) InsertEvents(ctx context.Context, events []model.ClickEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{
			uuid.New(), e.ShortCode, e.IPAddress, e.UserAgent, e.Referrer,
			e.Country, e.City, string(e.DeviceType), e.ClickedAt(),
		})
	}
	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"url_click_events"},
		[]string{"id", "short_code", "ip_address", "user_agent", "referrer", "country", "city", "device_type", "clicked_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("stats: insert %d events: %w", len(events), err)
	}
	return nil
}

// DistinctCodes returns every short code present in the raw events table.
func (s *Store) DistinctCodes(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT short_code FROM url_click_events`)
	if err != nil {
		return nil, fmt.Errorf("stats: distinct codes: %w", err)
	}
	defer rows.Close()

	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("stats: scan code: %w", err)
		}
		codes = append(codes, code)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: distinct codes: %w", err)
	}
	return codes, nil
}

// windowStarts computes the start of the current day, ISO week and month for
// now in loc. Pure so calendar semantics stay testable.
func windowStarts(now time.Time, loc *time.Location) (day, week, month time.Time) {
	local := now.In(loc)
	day = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	// ISO weeks start on Monday; Go's Sunday is 0.
	offset := (int(local.Weekday()) + 6) % 7
	week = day.AddDate(0, 0, -offset)

	month = time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
	return day, week, month
}

// ComputeRollup recomputes the statistics row for one short code from the
// raw events. Idempotent over the same raw data.
func (s *Store) ComputeRollup(ctx context.Context, shortCode string, now time.Time, loc *time.Location) (*model.URLStatistics, error) {
	day, week, month := windowStarts(now, loc)

	q := `SELECT
		count(*),
		count(*) FILTER (WHERE clicked_at >= $2),
		count(*) FILTER (WHERE clicked_at >= $3),
		count(*) FILTER (WHERE clicked_at >= $4),
		min(clicked_at),
		max(clicked_at)
	FROM url_click_events WHERE short_code = $1`

	var st model.URLStatistics
	var first, last *time.Time
	err := s.pool.QueryRow(ctx, q, shortCode, day, week, month).Scan(
		&st.TotalClicks, &st.ClicksToday, &st.ClicksThisWeek, &st.ClicksThisMonth,
		&first, &last,
	)
	if err != nil {
		return nil, fmt.Errorf("stats: rollup for %q: %w", shortCode, err)
	}
	st.ShortCode = shortCode
	if first != nil {
		st.FirstClickAt = *first
	}
	if last != nil {
		st.LastClickAt = *last
	}
	st.UpdatedAt = now.UTC()
	return &st, nil
}

// UpsertStatistics writes a rollup row, replacing any previous one.
func (s *Store) UpsertStatistics(ctx context.Context, st *model.URLStatistics) error {
	q := `INSERT INTO url_statistics
		(short_code, total_clicks, clicks_today, clicks_this_week, clicks_this_month,
		 first_click_at, last_click_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (short_code) DO UPDATE SET
			total_clicks = EXCLUDED.total_clicks,
			clicks_today = EXCLUDED.clicks_today,
			clicks_this_week = EXCLUDED.clicks_this_week,
			clicks_this_month = EXCLUDED.clicks_this_month,
			first_click_at = EXCLUDED.first_click_at,
			last_click_at = EXCLUDED.last_click_at,
			updated_at = EXCLUDED.updated_at`
	_, err := s.pool.Exec(ctx, q,
		st.ShortCode, st.TotalClicks, st.ClicksToday, st.ClicksThisWeek, st.ClicksThisMonth,
		nullableTime(st.FirstClickAt), nullableTime(st.LastClickAt), st.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("stats: upsert statistics for %q: %w", st.ShortCode, err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// Statistics returns the stored rollup for a short code.
func (s *Store) Statistics(ctx context.Context, shortCode string) (*model.URLStatistics, error) {
	q := `SELECT short_code, total_clicks, clicks_today, clicks_this_week, clicks_this_month,
		COALESCE(first_click_at, 'epoch'::timestamptz),
		COALESCE(last_click_at, 'epoch'::timestamptz),
		updated_at
	FROM url_statistics WHERE short_code = $1`
	var st model.URLStatistics
	err := s.pool.QueryRow(ctx, q, shortCode).Scan(
		&st.ShortCode, &st.TotalClicks, &st.ClicksToday, &st.ClicksThisWeek, &st.ClicksThisMonth,
		&st.FirstClickAt, &st.LastClickAt, &st.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoStatistics
	}
	if err != nil {
		return nil, fmt.Errorf("stats: statistics for %q: %w", shortCode, err)
	}
	return &st, nil
}

// CountryCount is one entry of a per-URL country breakdown.
type CountryCount struct {
	Country string `json:"country"`
	Clicks  int64  `json:"clicks"`
}

// TopCountries returns the most frequent countries for a short code.
// Events without a country are excluded.
func (s *Store) TopCountries(ctx context.Context, shortCode string, limit int) ([]CountryCount, error) {
	q := `SELECT country, count(*) FROM url_click_events
		WHERE short_code = $1 AND country <> ''
		GROUP BY country ORDER BY count(*) DESC, country ASC LIMIT $2`
	rows, err := s.pool.Query(ctx, q, shortCode, limit)
	if err != nil {
		return nil, fmt.Errorf("stats: top countries for %q: %w", shortCode, err)
	}
	defer rows.Close()

	var out []CountryCount
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Country, &c.Clicks); err != nil {
			return nil, fmt.Errorf("stats: scan country: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: top countries for %q: %w", shortCode, err)
	}
	return out, nil
}

// DayCount is one day of a click timeline.
type DayCount struct {
	Date   string `json:"date"` // YYYY-MM-DD in the service time zone
	Clicks int64  `json:"clicks"`
}

// DailyTimeline returns per-day click counts for the last days days,
// bucketed in loc. Days without clicks are omitted.
func (s *Store) DailyTimeline(ctx context.Context, shortCode string, days int, now time.Time, loc *time.Location) ([]DayCount, error) {
	dayStart, _, _ := windowStarts(now, loc)
	since := dayStart.AddDate(0, 0, -(days - 1))

	q := `SELECT to_char(clicked_at AT TIME ZONE $3, 'YYYY-MM-DD') AS day, count(*)
		FROM url_click_events
		WHERE short_code = $1 AND clicked_at >= $2
		GROUP BY day ORDER BY day ASC`
	rows, err := s.pool.Query(ctx, q, shortCode, since, loc.String())
	if err != nil {
		return nil, fmt.Errorf("stats: timeline for %q: %w", shortCode, err)
	}
	defer rows.Close()

	var out []DayCount
	for rows.Next() {
		var d DayCount
		if err := rows.Scan(&d.Date, &d.Clicks); err != nil {
			return nil, fmt.Errorf("stats: scan day: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stats: timeline for %q: %w", shortCode, err)
	}
	return out, nil
}

// PlatformTotals is the fleet-wide rollup snapshot.
type PlatformTotals struct {
	TotalURLs   int64 `json:"total_urls"`
	TotalClicks int64 `json:"total_clicks"`
	ClicksToday int64 `json:"clicks_today"`
}

// Totals sums the statistics table. Served from rollups, not raw events, so
// it never holds a long transaction against the ingest path.
func (s *Store) Totals(ctx context.Context) (*PlatformTotals, error) {
	q := `SELECT count(*), COALESCE(sum(total_clicks), 0), COALESCE(sum(clicks_today), 0) FROM url_statistics`
	var t PlatformTotals
	if err := s.pool.QueryRow(ctx, q).Scan(&t.TotalURLs, &t.TotalClicks, &t.ClicksToday); err != nil {
		return nil, fmt.Errorf("stats: platform totals: %w", err)
	}
	return &t, nil
}
