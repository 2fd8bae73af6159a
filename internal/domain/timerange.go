package domain

import (
	"errors"
	"fmt"
	"time"
)

const (
	minutesPerDay = 24 * 60

	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var (
	ErrMinuteOutOfDay = errors.New("minute must be within 0-1439")
	ErrInvalidRange   = errors.New("start_minute must be before end_minute")
)

// TimeRange is a half-open minute interval within a single calendar day.
// Date carries the civil date only, normalized to midnight UTC.
type TimeRange struct {
	Date        time.Time
	StartMinute int
	EndMinute   int
}

func NewTimeRange(date time.Time, startMinute, endMinute int) (TimeRange, error) {
	if startMinute < 0 || startMinute >= minutesPerDay || endMinute < 0 || endMinute >= minutesPerDay {
		return TimeRange{}, ErrMinuteOutOfDay
	}
	if startMinute >= endMinute {
		return TimeRange{}, ErrInvalidRange
	}
	return TimeRange{
		Date:        DateOf(date),
		StartMinute: startMinute,
		EndMinute:   endMinute,
	}, nil
}

// Overlaps reports whether a and b share any minute on the same date.
// Intervals are half-open, so a range ending exactly where another
// starts does not overlap it.
func Overlaps(a, b TimeRange) bool {
	return a.Date.Equal(b.Date) && a.StartMinute < b.EndMinute && b.StartMinute < a.EndMinute
}

func DateOf(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ToMinutes(hour, minute int) int {
	return hour*60 + minute
}

func DaysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// ClampDayOfMonth keeps a day-of-month valid for the given month, so a
// schedule seeded on the 31st lands on the last day of shorter months.
func ClampDayOfMonth(day int, year int, month time.Month) int {
	if max := DaysInMonth(year, month); day > max {
		return max
	}
	return day
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return t, nil
}

func FormatDate(t time.Time) string {
	return DateOf(t).Format(dateLayout)
}

func ParseClock(s string) (int, error) {
	if len(s) != len(clockLayout) {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	t, err := time.Parse(clockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return ToMinutes(t.Hour(), t.Minute()), nil
}

func FormatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
