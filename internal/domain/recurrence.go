package domain

import (
	"sort"
	"time"
)

type Frequency string

const (
	FrequencyNone     Frequency = "none"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
	FrequencyCustom   Frequency = "custom"
)

// Iteration caps bound every generative branch independently of
// EndDate, so a far-future end date cannot cause unbounded work.
// Expansion stops at the cap and reports truncation instead.
const (
	maxWeeklyStrides = 52
	maxMonthlySteps  = 36
)

// CustomEntry is one caller-supplied occurrence for FrequencyCustom.
type CustomEntry struct {
	Date        time.Time
	StartMinute int
	EndMinute   int
}

// RecurrencePattern describes how a base slot repeats. EndDate and
// DaysOfWeek apply to the weekly family and monthly; Entries applies
// to custom only. Weekdays use 0=Sunday through 6=Saturday.
type RecurrencePattern struct {
	Frequency  Frequency
	EndDate    time.Time
	DaysOfWeek []int
	Entries    []CustomEntry
}

// Expand produces the ordered concrete date ranges for a base slot and
// pattern. The base slot's own range is always first, and at most one
// range is emitted per calendar date. The second result is true when
// an iteration cap ended expansion before EndDate was reached.
//
// Degraded inputs recover locally: weekday entries outside 0-6 are
// skipped, custom entries violating the range invariant are dropped,
// and an EndDate before the base date collapses the pattern to the
// base range alone. None of these are errors.
func Expand(base BaseSlot, pattern RecurrencePattern) ([]TimeRange, bool) {
	out := []TimeRange{base.Range}
	seen := map[int64]struct{}{base.Range.Date.Unix(): {}}

	emit := func(r TimeRange) {
		key := r.Date.Unix()
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}

	truncated := false
	switch pattern.Frequency {
	case FrequencyWeekly:
		truncated = expandWeekly(base, pattern, 7, emit)
	case FrequencyBiweekly:
		truncated = expandWeekly(base, pattern, 14, emit)
	case FrequencyMonthly:
		truncated = expandMonthly(base, pattern, emit)
	case FrequencyCustom:
		for _, e := range pattern.Entries {
			r, err := NewTimeRange(e.Date, e.StartMinute, e.EndMinute)
			if err != nil {
				continue
			}
			emit(r)
		}
	}
	return out, truncated
}

func expandWeekly(base BaseSlot, pattern RecurrencePattern, strideDays int, emit func(TimeRange)) bool {
	baseDate := base.Range.Date
	endDate := DateOf(pattern.EndDate)
	if endDate.Before(baseDate) {
		return false
	}

	days := normalizeWeekdays(pattern.DaysOfWeek, baseDate)
	if len(days) == 0 {
		return false
	}

	// Anchor at the Sunday of the base date's week so every selected
	// weekday of that week is considered, not only days after base.
	anchor := baseDate.AddDate(0, 0, -int(baseDate.Weekday()))

	for stride := 0; stride < maxWeeklyStrides; stride++ {
		weekStart := anchor.AddDate(0, 0, stride*strideDays)
		if weekStart.After(endDate) {
			return false
		}
		for _, wd := range days {
			d := weekStart.AddDate(0, 0, wd)
			if d.Before(baseDate) || d.After(endDate) {
				continue
			}
			emit(TimeRange{Date: d, StartMinute: base.Range.StartMinute, EndMinute: base.Range.EndMinute})
		}
	}

	return !anchor.AddDate(0, 0, maxWeeklyStrides*strideDays).After(endDate)
}

func expandMonthly(base BaseSlot, pattern RecurrencePattern, emit func(TimeRange)) bool {
	baseDate := base.Range.Date
	endDate := DateOf(pattern.EndDate)
	if endDate.Before(baseDate) {
		return false
	}

	year, month, day := baseDate.Date()
	for step := 1; step <= maxMonthlySteps; step++ {
		y, m := addMonths(year, month, step)
		d := time.Date(y, m, ClampDayOfMonth(day, y, m), 0, 0, 0, 0, time.UTC)
		if d.After(endDate) {
			return false
		}
		emit(TimeRange{Date: d, StartMinute: base.Range.StartMinute, EndMinute: base.Range.EndMinute})
	}

	y, m := addMonths(year, month, maxMonthlySteps+1)
	next := time.Date(y, m, ClampDayOfMonth(day, y, m), 0, 0, 0, 0, time.UTC)
	return !next.After(endDate)
}

// addMonths advances a year/month pair without the day-overflow
// normalization of time.AddDate, so January 31 plus one month stays in
// February rather than rolling into March.
func addMonths(year int, month time.Month, n int) (int, time.Month) {
	total := int(month) - 1 + n
	return year + total/12, time.Month(total%12 + 1)
}

func normalizeWeekdays(days []int, baseDate time.Time) []int {
	if len(days) == 0 {
		return []int{int(baseDate.Weekday())}
	}

	seen := make(map[int]struct{}, len(days))
	out := make([]int, 0, len(days))
	for _, wd := range days {
		if wd < 0 || wd > 6 {
			continue
		}
		if _, ok := seen[wd]; ok {
			continue
		}
		seen[wd] = struct{}{}
		out = append(out, wd)
	}
	sort.Ints(out)
	return out
}
