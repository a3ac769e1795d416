package domain

import (
	"slices"
	"time"
)

// TimeInterval is a half-open time span [Start, End).
type TimeInterval struct {
	Start time.Time
	End   time.Time
}

// NewTimeInterval creates an interval, rejecting empty or inverted spans.
func NewTimeInterval(start, end time.Time) (TimeInterval, error) {
	if !start.Before(end) {
		return TimeInterval{}, ErrInvalidInterval
	}
	return TimeInterval{Start: start, End: end}, nil
}

// Overlaps reports whether two intervals share at least one instant.
// Touching intervals (a.End == b.Start) do not overlap.
func Overlaps(a, b TimeInterval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Overlaps checks if the interval overlaps other.
func (i TimeInterval) Overlaps(other TimeInterval) bool {
	return Overlaps(i, other)
}

// Contains reports whether t falls inside the interval.
func (i TimeInterval) Contains(t time.Time) bool {
	return !t.Before(i.Start) && t.Before(i.End)
}

// Duration returns the length of the interval.
func (i TimeInterval) Duration() time.Duration {
	return i.End.Sub(i.Start)
}

// IsEmpty reports whether the interval covers no time.
func (i TimeInterval) IsEmpty() bool {
	return !i.Start.Before(i.End)
}

// Clamp restricts the interval to window. The result is empty when they do not overlap.
func (i TimeInterval) Clamp(window TimeInterval) TimeInterval {
	out := i
	if out.Start.Before(window.Start) {
		out.Start = window.Start
	}
	if out.End.After(window.End) {
		out.End = window.End
	}
	return out
}

// In converts both bounds to loc.
func (i TimeInterval) In(loc *time.Location) TimeInterval {
	return TimeInterval{Start: i.Start.In(loc), End: i.End.In(loc)}
}

// Normalize returns a copy of intervals sorted by start, then end.
func Normalize(intervals []TimeInterval) []TimeInterval {
	out := slices.Clone(intervals)
	slices.SortFunc(out, compareIntervals)
	return out
}

func compareIntervals(a, b TimeInterval) int {
	if c := a.Start.Compare(b.Start); c != 0 {
		return c
	}
	return a.End.Compare(b.End)
}
