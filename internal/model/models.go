// Package model defines domain structs shared across the persistence and
// event layers.
package model

import (
	"strings"
	"time"
)

// URLMapping is the authoritative record of a short↔long binding.
// The table behind it is range-partitioned by CreatedDate in month-wide
// partitions, so (ID, CreatedDate) is the storage-level primary key.
type URLMapping struct {
	ID             int64      `json:"id"`
	OriginalURL    string     `json:"original_url"`
	ShortCode      string     `json:"short_code"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedDate    time.Time  `json:"created_date"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	AccessCount    int64      `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
	ShardID        int32      `json:"shard_id"`
}

// Expired reports whether the mapping has passed its expiry at the given
// time. A mapping without an expiry never expires.
func (m *URLMapping) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// DeviceType classifies the client device derived from the User-Agent.
type DeviceType string

// Device types carried on click events.
const (
	DeviceMobile  DeviceType = "MOBILE"
	DeviceTablet  DeviceType = "TABLET"
	DeviceDesktop DeviceType = "DESKTOP"
	DeviceUnknown DeviceType = "UNKNOWN"
)

// IsValid reports whether d is one of the known device types.
func (d DeviceType) IsValid() bool {
	switch d {
	case DeviceMobile, DeviceTablet, DeviceDesktop, DeviceUnknown:
		return true
	}
	return false
}

// ClickEvent is the transient record of one resolved redirect. It travels on
// the bus keyed by ShortCode and lands in the stats domain's raw table.
// Country, City and Referrer may be absent.
type ClickEvent struct {
	ShortCode  string     `json:"short_code"`
	IPAddress  string     `json:"ip_address"`
	UserAgent  string     `json:"user_agent"`
	Referrer   string     `json:"referrer,omitempty"`
	Country    string     `json:"country,omitempty"`
	City       string     `json:"city,omitempty"`
	DeviceType DeviceType `json:"device_type"`
	Timestamp  int64      `json:"timestamp"` // milliseconds since epoch
}

// ClickedAt returns the event timestamp as a time.Time in UTC.
func (e ClickEvent) ClickedAt() time.Time {
	return time.UnixMilli(e.Timestamp).UTC()
}

// URLStatistics is the per-code rollup maintained by the aggregator. It is an
// eventually-consistent projection of the raw ClickEvent stream.
type URLStatistics struct {
	ShortCode      string    `json:"short_code"`
	TotalClicks    int64     `json:"total_clicks"`
	ClicksToday    int64     `json:"clicks_today"`
	ClicksThisWeek int64     `json:"clicks_this_week"`
	ClicksThisMonth int64    `json:"clicks_this_month"`
	FirstClickAt   time.Time `json:"first_click_at"`
	LastClickAt    time.Time `json:"last_click_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ParseDeviceType classifies a User-Agent string into a DeviceType.
// Tablet tokens are checked before mobile ones: Android tablets carry
// "Android" without "Mobile", and iPads carry "iPad".
func ParseDeviceType(userAgent string) DeviceType {
	if userAgent == "" {
		return DeviceUnknown
	}
	ua := strings.ToLower(userAgent)
	switch {
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"),
		strings.Contains(ua, "android") && !strings.Contains(ua, "mobile"):
		return DeviceTablet
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "iphone"),
		strings.Contains(ua, "android"):
		return DeviceMobile
	case strings.Contains(ua, "mozilla"), strings.Contains(ua, "macintosh"),
		strings.Contains(ua, "windows"), strings.Contains(ua, "x11"):
		return DeviceDesktop
	default:
		return DeviceUnknown
	}
}
