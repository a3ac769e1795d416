package domain

import (
	"fmt"
	"iter"
	"strings"
	"time"
)

// Granularity selects how a window is split into candidate slots.
type Granularity string

const (
	// GranularityAuto picks day, week, month or quarter from the window length.
	GranularityAuto    Granularity = "auto"
	GranularityDay     Granularity = "day"
	GranularityWeek    Granularity = "week"
	GranularityMonth   Granularity = "month"
	GranularityQuarter Granularity = "quarter"
	// GranularityFixed steps by a fixed appointment duration inside working hours.
	GranularityFixed Granularity = "fixed"
)

// ParseGranularity parses a granularity name.
func ParseGranularity(s string) (Granularity, error) {
	g := Granularity(strings.ToLower(strings.TrimSpace(s)))
	switch g {
	case GranularityAuto, GranularityDay, GranularityWeek, GranularityMonth, GranularityQuarter, GranularityFixed:
		return g, nil
	case "":
		return GranularityAuto, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidGranularity, s)
}

// CandidateSlot is a generated interval proposed as a bucket or appointment slot.
type CandidateSlot struct {
	TimeInterval
	Label       string
	Granularity Granularity
}

// GranularityThresholds are the inclusive window lengths, in days, at which
// auto granularity switches from day to week, week to month and month to quarter.
type GranularityThresholds struct {
	DayMaxDays   int
	WeekMaxDays  int
	MonthMaxDays int
}

// DefaultGranularityThresholds returns 7/60/365 days.
func DefaultGranularityThresholds() GranularityThresholds {
	return GranularityThresholds{DayMaxDays: 7, WeekMaxDays: 60, MonthMaxDays: 365}
}

// Select returns the bucket granularity for [start, end). Lengths are
// counted in calendar days in start's location, so a week containing a DST
// change is still seven days.
func (t GranularityThresholds) Select(start, end time.Time) Granularity {
	within := func(days int) bool {
		y, m, d := start.Date()
		h, mi, sec := start.Clock()
		limit := time.Date(y, m, d+days, h, mi, sec, start.Nanosecond(), start.Location())
		return !end.After(limit)
	}
	switch {
	case within(t.DayMaxDays):
		return GranularityDay
	case within(t.WeekMaxDays):
		return GranularityWeek
	case within(t.MonthMaxDays):
		return GranularityMonth
	default:
		return GranularityQuarter
	}
}

// SlotGenerator produces lazy candidate slot sequences. The zero value is not
// usable; build one with NewSlotGenerator.
type SlotGenerator struct {
	weekStart    time.Weekday
	thresholds   GranularityThresholds
	workingHours WorkingHours
	slotDuration time.Duration
	location     *time.Location
}

// NewSlotGenerator creates a generator with Sunday week start, 7/60/365 day
// thresholds, Monday to Friday 08:00-17:00 working hours and 60 minute slots.
func NewSlotGenerator() *SlotGenerator {
	return &SlotGenerator{
		weekStart:    time.Sunday,
		thresholds:   DefaultGranularityThresholds(),
		workingHours: DefaultWorkingHours(),
		slotDuration: time.Hour,
	}
}

// WithWeekStart sets the first day of week buckets.
func (g *SlotGenerator) WithWeekStart(d time.Weekday) *SlotGenerator {
	g.weekStart = d
	return g
}

// WithThresholds sets the auto granularity thresholds.
func (g *SlotGenerator) WithThresholds(t GranularityThresholds) *SlotGenerator {
	g.thresholds = t
	return g
}

// WithWorkingHours sets the per-weekday working windows for appointment slots.
func (g *SlotGenerator) WithWorkingHours(w WorkingHours) *SlotGenerator {
	g.workingHours = w
	return g
}

// WithSlotDuration sets the default appointment slot duration.
func (g *SlotGenerator) WithSlotDuration(d time.Duration) *SlotGenerator {
	g.slotDuration = d
	return g
}

// WithLocation pins calendar arithmetic to loc. By default the location of
// the window start is used.
func (g *SlotGenerator) WithLocation(loc *time.Location) *SlotGenerator {
	g.location = loc
	return g
}

// WeekStart returns the configured week start.
func (g *SlotGenerator) WeekStart() time.Weekday { return g.weekStart }

// SlotDuration returns the default appointment slot duration.
func (g *SlotGenerator) SlotDuration() time.Duration { return g.slotDuration }

// Generate yields slots for [start, end) at the requested granularity.
// GranularityFixed uses the configured slot duration.
func (g *SlotGenerator) Generate(start, end time.Time, granularity Granularity) iter.Seq[CandidateSlot] {
	if granularity == GranularityFixed {
		return g.AppointmentSlots(start, end, g.slotDuration)
	}
	return g.Buckets(start, end, granularity)
}

// Buckets yields reporting buckets covering [start, end). The first bucket
// begins at start; every bucket ends at the next natural calendar boundary,
// clamped to end. An empty or inverted window yields nothing.
func (g *SlotGenerator) Buckets(start, end time.Time, granularity Granularity) iter.Seq[CandidateSlot] {
	return func(yield func(CandidateSlot) bool) {
		if !start.Before(end) {
			return
		}
		loc := g.loc(start)
		if granularity == GranularityAuto || granularity == "" {
			granularity = g.thresholds.Select(start.In(loc), end)
		}
		cursor := start.In(loc)
		for cursor.Before(end) {
			next := g.nextBoundary(cursor, granularity)
			if next.After(end) {
				next = end.In(loc)
			}
			slot := CandidateSlot{
				TimeInterval: TimeInterval{Start: cursor, End: next},
				Label:        g.label(cursor, granularity),
				Granularity:  granularity,
			}
			if !yield(slot) {
				return
			}
			cursor = next
		}
	}
}

// AppointmentSlots yields fixed-duration slots inside each day's working
// window, aligned to the window opening. Slots never cross a working window
// boundary or the [start, end) window.
func (g *SlotGenerator) AppointmentSlots(start, end time.Time, duration time.Duration) iter.Seq[CandidateSlot] {
	return func(yield func(CandidateSlot) bool) {
		if !start.Before(end) || duration <= 0 {
			return
		}
		loc := g.loc(start)
		y, m, d := start.In(loc).Date()
		for dayStart := time.Date(y, m, d, 0, 0, 0, 0, loc); dayStart.Before(end); {
			if window, ok := g.workingHours.WindowOn(dayStart, loc); ok {
				for i := 0; ; i++ {
					slotStart := window.Start.Add(time.Duration(i) * duration)
					slotEnd := slotStart.Add(duration)
					if slotEnd.After(window.End) || !slotStart.Before(end) {
						break
					}
					if slotStart.Before(start) || slotEnd.After(end) {
						continue
					}
					slot := CandidateSlot{
						TimeInterval: TimeInterval{Start: slotStart, End: slotEnd},
						Label:        slotStart.Format("Mon Jan 2 15:04"),
						Granularity:  GranularityFixed,
					}
					if !yield(slot) {
						return
					}
				}
			}
			y, m, d = dayStart.Date()
			dayStart = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		}
	}
}

func (g *SlotGenerator) loc(start time.Time) *time.Location {
	if g.location != nil {
		return g.location
	}
	return start.Location()
}

// nextBoundary returns the start of the bucket after the one containing t.
// All boundaries are built with time.Date so DST shifts never accumulate.
func (g *SlotGenerator) nextBoundary(t time.Time, granularity Granularity) time.Time {
	loc := t.Location()
	y, m, d := t.Date()
	switch granularity {
	case GranularityWeek:
		offset := (int(t.Weekday()) - int(g.weekStart) + 7) % 7
		return time.Date(y, m, d-offset+7, 0, 0, 0, 0, loc)
	case GranularityMonth:
		return time.Date(y, m+1, 1, 0, 0, 0, 0, loc)
	case GranularityQuarter:
		return time.Date(y, quarterStartMonth(m)+3, 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d+1, 0, 0, 0, 0, loc)
	}
}

func (g *SlotGenerator) label(t time.Time, granularity Granularity) string {
	switch granularity {
	case GranularityWeek:
		return "Week of " + t.Format("Jan 2")
	case GranularityMonth:
		return t.Format("Jan 2006")
	case GranularityQuarter:
		return fmt.Sprintf("Q%d %d", (int(t.Month())-1)/3+1, t.Year())
	default:
		return t.Format("Mon Jan 2")
	}
}

func quarterStartMonth(m time.Month) time.Month {
	return time.Month((int(m)-1)/3*3 + 1)
}
