package bizday

import (
	"errors"
	"testing"
	"time"
)

func TestDayBoundsFollowBusinessOffset(t *testing.T) {
	cal := New(2)

	// 23:30 UTC on March 1 is already March 2 at UTC+2.
	at := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC)
	if got := cal.Date(at); got != "2026-03-02" {
		t.Fatalf("expected business date 2026-03-02, got %s", got)
	}

	from, to := cal.Day(at)
	wantFrom := time.Date(2026, 3, 1, 22, 0, 0, 0, time.UTC)
	if !from.Equal(wantFrom) || !to.Equal(wantFrom.Add(24*time.Hour)) {
		t.Fatalf("unexpected bounds %s - %s", from, to)
	}
	if from.Location() != time.UTC {
		t.Fatalf("bounds must be expressed in UTC, got %s", from.Location())
	}
}

func TestMonthBoundsCrossYear(t *testing.T) {
	cal := New(2)

	from, to := cal.Month(time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC))
	if !from.Equal(time.Date(2026, 12, 31, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected January to start at 2026-12-31T22:00Z, got %s", from)
	}
	if !to.Equal(time.Date(2027, 1, 31, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected January to end at 2027-01-31T22:00Z, got %s", to)
	}
}

func TestParseDay(t *testing.T) {
	cal := New(2)
	now := time.Date(2026, 7, 4, 12, 0, 0, 0, time.UTC)

	label, from, to, err := cal.ParseDay("", now)
	if err != nil || label != "2026-07-04" {
		t.Fatalf("expected today's label, got %q err=%v", label, err)
	}
	if to.Sub(from) != 24*time.Hour {
		t.Fatalf("expected a 24h window, got %s", to.Sub(from))
	}

	label, from, _, err = cal.ParseDay("2026-01-15", now)
	if err != nil || label != "2026-01-15" {
		t.Fatalf("parse explicit date: %q err=%v", label, err)
	}
	if !from.Equal(time.Date(2026, 1, 14, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", from)
	}

	if _, _, _, err := cal.ParseDay("15/01/2026", now); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected invalid date error, got %v", err)
	}
}

func TestZeroCalendarIsUTC(t *testing.T) {
	var cal Calendar
	from, _ := cal.Day(time.Date(2026, 2, 2, 5, 0, 0, 0, time.UTC))
	if !from.Equal(time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected start %s", from)
	}
}
