// Package calendar holds the server-local calendar-day arithmetic shared by
// goals, sweeps and the insight cache. A day is identified by its key
// "YYYY-MM-DD" in a given location.
package calendar

import (
	"fmt"
	"time"
)

const DayLayout = "2006-01-02"

// DayKey formats t as a calendar day in t's location.
func DayKey(t time.Time) string { return t.Format(DayLayout) }

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// ParseDay parses a day key in loc.
func ParseDay(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DayLayout, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", key, err)
	}
	return t, nil
}

// AddDays moves a day forward by n calendar days, staying at midnight
// across DST changes.
func AddDays(day time.Time, n int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, day.Location())
}

// Days lists every day key from start to end inclusive. Empty when
// start is after end.
func Days(start, end time.Time) []string {
	start, end = StartOfDay(start), StartOfDay(end)
	var out []string
	for d := start; !d.After(end); d = AddDays(d, 1) {
		out = append(out, DayKey(d))
	}
	return out
}

// PreviousWeek returns Monday..Sunday of the week containing the day
// before now. On a Monday this is the week that just ended.
func PreviousWeek(now time.Time) (monday, sunday time.Time) {
	ref := AddDays(StartOfDay(now), -1)
	back := int(ref.Weekday()) - 1
	if ref.Weekday() == time.Sunday {
		back = 6
	}
	monday = AddDays(ref, -back)
	return monday, ref
}

// MonthBounds returns the first and last day of the month containing t.
func MonthBounds(t time.Time) (first, last time.Time) {
	y, m, _ := t.Date()
	first = time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
	last = time.Date(y, m+1, 0, 0, 0, 0, 0, t.Location())
	return first, last
}

// ReportMonth picks the month a progress report should cover: the
// previous month on the 1st, otherwise the current month. The returned
// time is the first of that month.
func ReportMonth(now time.Time) time.Time {
	first, _ := MonthBounds(now)
	if now.Day() == 1 {
		return time.Date(first.Year(), first.Month()-1, 1, 0, 0, 0, 0, now.Location())
	}
	return first
}
