package stats

import (
	"testing"
	"time"
)

func TestWindowStartsUTC(t *testing.T) {
	// 2026-08-24 is a Monday.
	now := time.Date(2026, time.August, 24, 15, 42, 7, 0, time.UTC)
	day, week, month := windowStarts(now, time.UTC)

	if want := time.Date(2026, time.August, 24, 0, 0, 0, 0, time.UTC); !day.Equal(want) {
		t.Fatalf("day = %v, want %v", day, want)
	}
	// Monday is its own week start.
	if !week.Equal(day) {
		t.Fatalf("week = %v, want %v", week, day)
	}
	if want := time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC); !month.Equal(want) {
		t.Fatalf("month = %v, want %v", month, want)
	}
}

func TestWindowStartsSundayBelongsToPreviousWeek(t *testing.T) {
	// 2026-08-23 is a Sunday; its ISO week started Monday the 17th.
	now := time.Date(2026, time.August, 23, 1, 0, 0, 0, time.UTC)
	_, week, _ := windowStarts(now, time.UTC)
	if want := time.Date(2026, time.August, 17, 0, 0, 0, 0, time.UTC); !week.Equal(want) {
		t.Fatalf("week = %v, want %v", week, want)
	}
}

func TestWindowStartsRespectsLocation(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	// 23:00 UTC on the 23rd is already the 24th in Tokyo.
	now := time.Date(2026, time.August, 23, 23, 0, 0, 0, time.UTC)
	day, _, _ := windowStarts(now, tokyo)
	if want := time.Date(2026, time.August, 24, 0, 0, 0, 0, tokyo); !day.Equal(want) {
		t.Fatalf("day = %v, want %v", day, want)
	}
}

func TestWindowStartsMonthBoundary(t *testing.T) {
	// The 1st of a month that starts mid-week.
	now := time.Date(2026, time.July, 1, 9, 0, 0, 0, time.UTC) // a Wednesday
	day, week, month := windowStarts(now, time.UTC)
	if !day.Equal(month) {
		t.Fatalf("day %v != month %v on the 1st", day, month)
	}
	if want := time.Date(2026, time.June, 29, 0, 0, 0, 0, time.UTC); !week.Equal(want) {
		t.Fatalf("week = %v, want %v (crossing into June)", week, want)
	}
}
