package stats

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/snaplink/snaplink/internal/apperr"
	"github.com/snaplink/snaplink/internal/httpapi"
	"github.com/snaplink/snaplink/internal/model"
)

const (
	topCountriesLimit = 10
	timelineDays      = 30
)

// Queries is the read surface the handler serves from.
type Queries interface {
	Statistics(ctx context.Context, shortCode string) (*model.URLStatistics, error)
	TopCountries(ctx context.Context, shortCode string, limit int) ([]CountryCount, error)
	DailyTimeline(ctx context.Context, shortCode string, days int, now time.Time, loc *time.Location) ([]DayCount, error)
	Totals(ctx context.Context) (*PlatformTotals, error)
}

// Handler serves the stats query API.
type Handler struct {
	queries Queries
	loc     *time.Location
	now     func() time.Time
}

// NewHandler creates a Handler. Nil location means UTC.
func NewHandler(queries Queries, loc *time.Location) *Handler {
	if loc == nil {
		loc = time.UTC
	}
	return &Handler{queries: queries, loc: loc, now: time.Now}
}

// Register mounts the stats endpoints on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/stats/url/{code}", h.urlStats)
	mux.HandleFunc("GET /api/v1/stats/platform", h.platformStats)
}

type urlStatsResponse struct {
	ShortCode       string         `json:"short_code"`
	TotalClicks     int64          `json:"total_clicks"`
	ClicksToday     int64          `json:"clicks_today"`
	ClicksThisWeek  int64          `json:"clicks_this_week"`
	ClicksThisMonth int64          `json:"clicks_this_month"`
	FirstClickAt    *time.Time     `json:"first_click_at,omitempty"`
	LastClickAt     *time.Time     `json:"last_click_at,omitempty"`
	UpdatedAt       time.Time      `json:"updated_at"`
	TopCountries    []CountryCount `json:"top_countries"`
	DailyTimeline   []DayCount     `json:"daily_timeline"`
}

func (h *Handler) urlStats(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	ctx := r.Context()

	st, err := h.queries.Statistics(ctx, code)
	if errors.Is(err, ErrNoStatistics) {
		// No clicks rolled up yet. An all-zero document is friendlier to
		// dashboards than a 404 for a code that may simply be new.
		st = &model.URLStatistics{ShortCode: code}
	} else if err != nil {
		httpapi.WriteAppError(w, apperr.Wrap(apperr.KindInternal, "statistics unavailable", err))
		return
	}

	countries, err := h.queries.TopCountries(ctx, code, topCountriesLimit)
	if err != nil {
		log.Printf("[stats] top countries for %q: %v", code, err)
		countries = nil
	}
	timeline, err := h.queries.DailyTimeline(ctx, code, timelineDays, h.now(), h.loc)
	if err != nil {
		log.Printf("[stats] timeline for %q: %v", code, err)
		timeline = nil
	}
	if countries == nil {
		countries = []CountryCount{}
	}
	if timeline == nil {
		timeline = []DayCount{}
	}

	resp := urlStatsResponse{
		ShortCode:       st.ShortCode,
		TotalClicks:     st.TotalClicks,
		ClicksToday:     st.ClicksToday,
		ClicksThisWeek:  st.ClicksThisWeek,
		ClicksThisMonth: st.ClicksThisMonth,
		UpdatedAt:       st.UpdatedAt,
		TopCountries:    countries,
		DailyTimeline:   timeline,
	}
	if !st.FirstClickAt.IsZero() {
		resp.FirstClickAt = &st.FirstClickAt
	}
	if !st.LastClickAt.IsZero() {
		resp.LastClickAt = &st.LastClickAt
	}
	httpapi.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) platformStats(w http.ResponseWriter, r *http.Request) {
	totals, err := h.queries.Totals(r.Context())
	if err != nil {
		httpapi.WriteAppError(w, apperr.Wrap(apperr.KindInternal, "platform statistics unavailable", err))
		return
	}
	httpapi.WriteJSON(w, http.StatusOK, totals)
}
