package domain

import (
	"fmt"
	"slices"
	"time"
)

// DateRange is a resolved preset. End is inclusive to the millisecond
// (23:59:59.999 of the last day) for display and reporting.
type DateRange struct {
	Key   string
	Start time.Time
	End   time.Time
}

// Interval converts the inclusive range into a half-open interval.
func (r DateRange) Interval() TimeInterval {
	return TimeInterval{Start: r.Start, End: r.End.Add(time.Millisecond)}
}

// DateRangeOptions control preset resolution.
type DateRangeOptions struct {
	// Now is the reference instant. Zero means time.Now().
	Now time.Time
	// Location overrides the zone of Now.
	Location  *time.Location
	WeekStart time.Weekday
	// From and To are the calendar days bounding a "custom" range.
	From time.Time
	To   time.Time
}

// Preset keys.
const (
	PresetToday       = "today"
	PresetYesterday   = "yesterday"
	PresetTomorrow    = "tomorrow"
	PresetThisWeek    = "thisWeek"
	PresetLastWeek    = "lastWeek"
	PresetNextWeek    = "nextWeek"
	PresetThisMonth   = "thisMonth"
	PresetLastMonth   = "lastMonth"
	PresetNextMonth   = "nextMonth"
	PresetThisQuarter = "thisQuarter"
	PresetLastQuarter = "lastQuarter"
	PresetThisYear    = "thisYear"
	PresetLastYear    = "lastYear"
	PresetLast7Days   = "last7Days"
	PresetLast30Days  = "last30Days"
	PresetLast90Days  = "last90Days"
	PresetLast365Days = "last365Days"
	PresetNext7Days   = "next7Days"
	PresetNext30Days  = "next30Days"
	PresetCustom      = "custom"
)

var presetAliases = map[string]string{
	"rolling7":   PresetLast7Days,
	"rolling30":  PresetLast30Days,
	"rolling90":  PresetLast90Days,
	"rolling365": PresetLast365Days,
}

// PresetKeys lists the supported keys in display order.
func PresetKeys() []string {
	return []string{
		PresetToday, PresetYesterday, PresetTomorrow,
		PresetThisWeek, PresetLastWeek, PresetNextWeek,
		PresetThisMonth, PresetLastMonth, PresetNextMonth,
		PresetThisQuarter, PresetLastQuarter,
		PresetThisYear, PresetLastYear,
		PresetLast7Days, PresetLast30Days, PresetLast90Days, PresetLast365Days,
		PresetNext7Days, PresetNext30Days,
		PresetCustom,
	}
}

// ParseDateRange resolves a preset key against opts. It is a pure function of
// its arguments once Now is fixed.
func ParseDateRange(key string, opts DateRangeOptions) (DateRange, error) {
	if alias, ok := presetAliases[key]; ok {
		key = alias
	}
	if !slices.Contains(PresetKeys(), key) {
		return DateRange{}, fmt.Errorf("%w: %q", ErrUnknownPreset, key)
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	loc := opts.Location
	if loc == nil {
		loc = now.Location()
	}
	now = now.In(loc)
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	weekOffset := (int(now.Weekday()) - int(opts.WeekStart) + 7) % 7
	qm := quarterStartMonth(m)

	// Each preset is a [first, next) pair of midnights.
	var first, next time.Time
	switch key {
	case PresetToday:
		first, next = today, days(today, 1)
	case PresetYesterday:
		first, next = days(today, -1), today
	case PresetTomorrow:
		first, next = days(today, 1), days(today, 2)
	case PresetThisWeek:
		first = days(today, -weekOffset)
		next = days(first, 7)
	case PresetLastWeek:
		first = days(today, -weekOffset-7)
		next = days(first, 7)
	case PresetNextWeek:
		first = days(today, -weekOffset+7)
		next = days(first, 7)
	case PresetThisMonth:
		first = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		next = time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	case PresetLastMonth:
		first = time.Date(y, m-1, 1, 0, 0, 0, 0, loc)
		next = time.Date(y, m, 1, 0, 0, 0, 0, loc)
	case PresetNextMonth:
		first = time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
		next = time.Date(y, m+2, 1, 0, 0, 0, 0, loc)
	case PresetThisQuarter:
		first = time.Date(y, qm, 1, 0, 0, 0, 0, loc)
		next = time.Date(y, qm+3, 1, 0, 0, 0, 0, loc)
	case PresetLastQuarter:
		first = time.Date(y, qm-3, 1, 0, 0, 0, 0, loc)
		next = time.Date(y, qm, 1, 0, 0, 0, 0, loc)
	case PresetThisYear:
		first = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		next = time.Date(y+1, time.January, 1, 0, 0, 0, 0, loc)
	case PresetLastYear:
		first = time.Date(y-1, time.January, 1, 0, 0, 0, 0, loc)
		next = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
	case PresetLast7Days:
		first, next = days(today, -6), days(today, 1)
	case PresetLast30Days:
		first, next = days(today, -29), days(today, 1)
	case PresetLast90Days:
		first, next = days(today, -89), days(today, 1)
	case PresetLast365Days:
		first, next = days(today, -364), days(today, 1)
	case PresetNext7Days:
		first, next = today, days(today, 7)
	case PresetNext30Days:
		first, next = today, days(today, 30)
	case PresetCustom:
		if opts.From.IsZero() || opts.To.IsZero() {
			return DateRange{}, fmt.Errorf("%w: custom range needs from and to", ErrInvalidWindow)
		}
		fy, fm, fd := opts.From.In(loc).Date()
		ty, tm, td := opts.To.In(loc).Date()
		first = time.Date(fy, fm, fd, 0, 0, 0, 0, loc)
		next = time.Date(ty, tm, td+1, 0, 0, 0, 0, loc)
		if !first.Before(next) {
			return DateRange{}, fmt.Errorf("%w: custom range ends before it starts", ErrInvalidWindow)
		}
	}

	return DateRange{Key: key, Start: first, End: next.Add(-time.Millisecond)}, nil
}

// days shifts a local midnight by n calendar days.
func days(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+n, 0, 0, 0, 0, t.Location())
}
