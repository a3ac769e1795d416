package domain

import (
	"slices"
	"time"
)

// Source identifies where a busy period came from.
type Source string

const (
	SourceInternal Source = "internal"
	SourceExternal Source = "external"
	SourceManual   Source = "manual"
	// SourceMixed is only produced by merging periods from different sources.
	SourceMixed Source = "mixed"
)

// IsValid checks if the source is known.
func (s Source) IsValid() bool {
	switch s {
	case SourceInternal, SourceExternal, SourceManual, SourceMixed:
		return true
	}
	return false
}

// BusyPeriod is an interval during which a resource cannot be booked.
type BusyPeriod struct {
	TimeInterval
	Source Source
}

// NewBusyPeriod creates a busy period from a validated interval.
func NewBusyPeriod(start, end time.Time, source Source) (BusyPeriod, error) {
	iv, err := NewTimeInterval(start, end)
	if err != nil {
		return BusyPeriod{}, err
	}
	return BusyPeriod{TimeInterval: iv, Source: source}, nil
}

// BusyPeriodsFrom tags every interval with source, dropping empty ones.
func BusyPeriodsFrom(intervals []TimeInterval, source Source) []BusyPeriod {
	out := make([]BusyPeriod, 0, len(intervals))
	for _, iv := range intervals {
		if iv.IsEmpty() {
			continue
		}
		out = append(out, BusyPeriod{TimeInterval: iv, Source: source})
	}
	return out
}

// MergeBusyPeriods collapses overlapping or touching periods into a sorted,
// pairwise-disjoint list. A merged period whose contributors disagree on
// source is tagged SourceMixed. The input is not modified.
func MergeBusyPeriods(periods []BusyPeriod) []BusyPeriod {
	if len(periods) == 0 {
		return []BusyPeriod{}
	}

	sorted := slices.Clone(periods)
	slices.SortFunc(sorted, func(a, b BusyPeriod) int {
		return compareIntervals(a.TimeInterval, b.TimeInterval)
	})

	merged := make([]BusyPeriod, 0, len(sorted))
	current := sorted[0]
	for _, next := range sorted[1:] {
		if next.Start.After(current.End) {
			merged = append(merged, current)
			current = next
			continue
		}
		if next.End.After(current.End) {
			current.End = next.End
		}
		if next.Source != current.Source {
			current.Source = SourceMixed
		}
	}
	return append(merged, current)
}

// CombineBusyPeriods merges two independently gathered sets of busy periods.
func CombineBusyPeriods(a, b []BusyPeriod) []BusyPeriod {
	all := make([]BusyPeriod, 0, len(a)+len(b))
	all = append(all, a...)
	all = append(all, b...)
	return MergeBusyPeriods(all)
}

// ConflictsWith returns the periods that overlap slot, in input order.
func ConflictsWith(periods []BusyPeriod, slot TimeInterval) []BusyPeriod {
	conflicts := make([]BusyPeriod, 0)
	for _, p := range periods {
		if p.Overlaps(slot) {
			conflicts = append(conflicts, p)
		}
	}
	return conflicts
}

// FreeIntervals returns the gaps inside window that are not covered by busy
// and last at least minDuration. busy must already be merged.
func FreeIntervals(window TimeInterval, busy []BusyPeriod, minDuration time.Duration) []TimeInterval {
	gaps := make([]TimeInterval, 0)
	cursor := window.Start
	for _, p := range busy {
		if !p.End.After(window.Start) {
			continue
		}
		if !p.Start.Before(window.End) {
			break
		}
		if p.Start.Sub(cursor) >= minDuration && p.Start.After(cursor) {
			gaps = append(gaps, TimeInterval{Start: cursor, End: p.Start})
		}
		if p.End.After(cursor) {
			cursor = p.End
		}
	}
	if window.End.Sub(cursor) >= minDuration && window.End.After(cursor) {
		gaps = append(gaps, TimeInterval{Start: cursor, End: window.End})
	}
	return gaps
}
