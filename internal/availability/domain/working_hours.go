package domain

import (
	"fmt"
	"strings"
	"time"
)

// ClockTime is a wall-clock time of day, independent of date and zone.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime parses "HH:MM".
func ParseClockTime(s string) (ClockTime, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return ClockTime{}, fmt.Errorf("parse clock time %q: %w", s, err)
	}
	return ClockTime{Hour: t.Hour(), Minute: t.Minute()}, nil
}

// Minutes returns the minutes elapsed since midnight.
func (c ClockTime) Minutes() int {
	return c.Hour*60 + c.Minute
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant of c on the calendar date of day, in loc.
func (c ClockTime) On(day time.Time, loc *time.Location) time.Time {
	y, m, d := day.In(loc).Date()
	return time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
}

// DailyHours is the working window for one weekday.
type DailyHours struct {
	Open  ClockTime
	Close ClockTime
}

// NewDailyHours validates that the window closes after it opens.
func NewDailyHours(open, close ClockTime) (DailyHours, error) {
	if close.Minutes() <= open.Minutes() {
		return DailyHours{}, ErrInvalidWorkingHours
	}
	return DailyHours{Open: open, Close: close}, nil
}

// WorkingHours maps weekdays to their working window. Missing weekdays are non-working.
type WorkingHours map[time.Weekday]DailyHours

// DefaultWorkingHours is Monday to Friday, 08:00 to 17:00.
func DefaultWorkingHours() WorkingHours {
	day := DailyHours{Open: ClockTime{Hour: 8}, Close: ClockTime{Hour: 17}}
	return WorkingHours{
		time.Monday:    day,
		time.Tuesday:   day,
		time.Wednesday: day,
		time.Thursday:  day,
		time.Friday:    day,
	}
}

// WindowOn returns the working interval for the calendar date of day in loc.
func (w WorkingHours) WindowOn(day time.Time, loc *time.Location) (TimeInterval, bool) {
	local := day.In(loc)
	hours, ok := w[local.Weekday()]
	if !ok {
		return TimeInterval{}, false
	}
	iv := TimeInterval{Start: hours.Open.On(local, loc), End: hours.Close.On(local, loc)}
	if iv.IsEmpty() {
		return TimeInterval{}, false
	}
	return iv, true
}

// ParseWeekday accepts full or three-letter English weekday names.
func ParseWeekday(s string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if key == name || key == name[:3] {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", s)
}
