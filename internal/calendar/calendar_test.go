package calendar

import (
	"testing"
	"time"
)

func TestPreviousWeek(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		now  time.Time
		mon  string
		sun  string
	}{
		// 2026-01-12 is a Monday.
		{name: "monday morning", now: time.Date(2026, 1, 12, 8, 0, 0, 0, time.UTC), mon: "2026-01-05", sun: "2026-01-11"},
		// On Wednesday the reference day is Tuesday: Monday..Tuesday.
		{name: "midweek", now: time.Date(2026, 1, 14, 8, 0, 0, 0, time.UTC), mon: "2026-01-12", sun: "2026-01-13"},
		{name: "year boundary", now: time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), mon: "2025-12-29", sun: "2026-01-04"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			mon, sun := PreviousWeek(tt.now)
			if DayKey(mon) != tt.mon || DayKey(sun) != tt.sun {
				t.Fatalf("PreviousWeek = %s..%s, want %s..%s", DayKey(mon), DayKey(sun), tt.mon, tt.sun)
			}
		})
	}
}

func TestReportMonth(t *testing.T) {
	t.Parallel()
	tests := []struct {
		now  time.Time
		want string
	}{
		{time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), "2026-02-01"},
		{time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), "2026-03-01"},
		{time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2025-12-01"},
	}
	for _, tt := range tests {
		if got := DayKey(ReportMonth(tt.now)); got != tt.want {
			t.Fatalf("ReportMonth(%v) = %s, want %s", tt.now, got, tt.want)
		}
	}
}

func TestMonthBoundsAndDays(t *testing.T) {
	t.Parallel()
	first, last := MonthBounds(time.Date(2028, 2, 15, 13, 0, 0, 0, time.UTC))
	if DayKey(first) != "2028-02-01" || DayKey(last) != "2028-02-29" {
		t.Fatalf("bounds = %s..%s", DayKey(first), DayKey(last))
	}
	if n := len(Days(first, last)); n != 29 {
		t.Fatalf("len(Days) = %d, want 29", n)
	}
	if n := len(Days(last, first)); n != 0 {
		t.Fatalf("reversed range len = %d", n)
	}
}

func TestParseDay(t *testing.T) {
	t.Parallel()
	if _, err := ParseDay("2026-13-01", time.UTC); err == nil {
		t.Fatal("expected error")
	}
	d, err := ParseDay("2026-02-03", time.UTC)
	if err != nil || DayKey(d) != "2026-02-03" {
		t.Fatalf("ParseDay = %v, %v", d, err)
	}
}
