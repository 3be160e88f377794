// Package dates buckets instants into calendar days of the reference
// timezone (Pacific Time) and normalizes due-date strings.
package dates

import (
	"fmt"
	"regexp"
	"sync"
	"time"
	_ "time/tzdata"
)

const (
	ReferenceZone = "America/Los_Angeles"
	DayLayout     = "2006-01-02"
	// ISOLayout matches what the backend emits and accepts for instants.
	ISOLayout = "2006-01-02T15:04:05.000Z"
)

var (
	dateOnlyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

	locOnce sync.Once
	loc     *time.Location
)

// Location returns the reference timezone.
func Location() *time.Location {
	locOnce.Do(func() {
		l, err := time.LoadLocation(ReferenceZone)
		if err != nil {
			// tzdata is embedded, so this only fires on a broken build.
			panic(fmt.Sprintf("failed to load %s: %v", ReferenceZone, err))
		}
		loc = l
	})
	return loc
}

// ToDateStringPT returns the YYYY-MM-DD day key of t in the reference zone.
func ToDateStringPT(t time.Time) string {
	return t.In(Location()).Format(DayLayout)
}

// IsDateOnly reports whether s is a bare YYYY-MM-DD date.
func IsDateOnly(s string) bool {
	return dateOnlyPattern.MatchString(s)
}

// MidnightPT returns the instant of reference-zone midnight on day.
func MidnightPT(day string) (time.Time, error) {
	if !IsDateOnly(day) {
		return time.Time{}, fmt.Errorf("invalid day %q: expected YYYY-MM-DD", day)
	}
	t, err := time.ParseInLocation(DayLayout, day, Location())
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t, nil
}

// NormalizeDueDate converts a date-only string to the ISO instant of its
// reference-zone midnight. Full RFC3339 instants are returned unchanged.
func NormalizeDueDate(s string) (string, error) {
	if IsDateOnly(s) {
		t, err := MidnightPT(s)
		if err != nil {
			return "", err
		}
		return FormatISO(t), nil
	}
	if _, err := time.Parse(time.RFC3339Nano, s); err != nil {
		return "", fmt.Errorf("invalid due date %q: %w", s, err)
	}
	return s, nil
}

// ParseDueDate returns the instant a due-date string denotes.
func ParseDueDate(s string) (time.Time, error) {
	if IsDateOnly(s) {
		return MidnightPT(s)
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: %w", s, err)
	}
	return t, nil
}

// FormatISO renders t as a UTC instant with millisecond precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(ISOLayout)
}

// TodayPT returns the reference-zone day key of now.
func TodayPT(now time.Time) string {
	return ToDateStringPT(now)
}

// AddDaysPT shifts a day key by n calendar days. Arithmetic happens on
// calendar dates, so DST transitions never skip or repeat a day.
func AddDaysPT(day string, n int) (string, error) {
	t, err := time.Parse(DayLayout, day)
	if err != nil {
		return "", fmt.Errorf("invalid day %q: %w", day, err)
	}
	return t.AddDate(0, 0, n).Format(DayLayout), nil
}

// SameDayPT reports whether two instants fall on the same reference day.
func SameDayPT(a, b time.Time) bool {
	return ToDateStringPT(a) == ToDateStringPT(b)
}

// GroupByDay maps each item to the reference-zone day of due(item).
// Relative input order is kept within a bucket.
func GroupByDay[T any](items []T, due func(T) time.Time) map[string][]T {
	out := make(map[string][]T)
	for _, item := range items {
		key := ToDateStringPT(due(item))
		out[key] = append(out[key], item)
	}
	return out
}
