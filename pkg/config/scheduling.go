package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// Scheduling holds the rules used to generate slots and resolve date ranges.
type Scheduling struct {
	Location     *time.Location
	WeekStart    time.Weekday
	SlotDuration time.Duration
	WorkingHours domain.WorkingHours
	Thresholds   domain.GranularityThresholds
}

// DefaultScheduling returns UTC, Sunday week start, hourly slots and
// Monday to Friday 08:00-17:00.
func DefaultScheduling() Scheduling {
	return Scheduling{
		Location:     time.UTC,
		WeekStart:    time.Sunday,
		SlotDuration: time.Hour,
		WorkingHours: domain.DefaultWorkingHours(),
		Thresholds:   domain.DefaultGranularityThresholds(),
	}
}

// SlotGenerator builds a generator from the rules.
func (s Scheduling) SlotGenerator() *domain.SlotGenerator {
	return domain.NewSlotGenerator().
		WithWeekStart(s.WeekStart).
		WithThresholds(s.Thresholds).
		WithWorkingHours(s.WorkingHours).
		WithSlotDuration(s.SlotDuration).
		WithLocation(s.Location)
}

type schedulingFile struct {
	Timezone     string               `toml:"timezone"`
	WeekStart    string               `toml:"week_start"`
	SlotDuration string               `toml:"slot_duration"`
	Thresholds   *thresholdsFile      `toml:"thresholds"`
	WorkingHours map[string]hoursFile `toml:"working_hours"`
}

type thresholdsFile struct {
	DayMaxDays   int `toml:"day_max_days"`
	WeekMaxDays  int `toml:"week_max_days"`
	MonthMaxDays int `toml:"month_max_days"`
}

type hoursFile struct {
	Open  string `toml:"open"`
	Close string `toml:"close"`
}

// LoadFile overlays the TOML file at path. A [working_hours] table replaces
// the default week entirely; weekdays it omits are non-working.
func (s *Scheduling) LoadFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	var f schedulingFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	if f.Timezone != "" {
		loc, err := time.LoadLocation(f.Timezone)
		if err != nil {
			return fmt.Errorf("timezone: %w", err)
		}
		s.Location = loc
	}
	if f.WeekStart != "" {
		d, err := domain.ParseWeekday(f.WeekStart)
		if err != nil {
			return fmt.Errorf("week_start: %w", err)
		}
		s.WeekStart = d
	}
	if f.SlotDuration != "" {
		d, err := time.ParseDuration(f.SlotDuration)
		if err != nil || d <= 0 {
			return fmt.Errorf("slot_duration %q: %w", f.SlotDuration, domain.ErrInvalidSlotDuration)
		}
		s.SlotDuration = d
	}
	if f.Thresholds != nil {
		t := *f.Thresholds
		if t.DayMaxDays <= 0 || t.WeekMaxDays < t.DayMaxDays || t.MonthMaxDays < t.WeekMaxDays {
			return fmt.Errorf("thresholds must be positive and ascending, got %d/%d/%d", t.DayMaxDays, t.WeekMaxDays, t.MonthMaxDays)
		}
		s.Thresholds = domain.GranularityThresholds{
			DayMaxDays:   t.DayMaxDays,
			WeekMaxDays:  t.WeekMaxDays,
			MonthMaxDays: t.MonthMaxDays,
		}
	}
	if f.WorkingHours != nil {
		wh := make(domain.WorkingHours, len(f.WorkingHours))
		for name, h := range f.WorkingHours {
			day, err := domain.ParseWeekday(name)
			if err != nil {
				return fmt.Errorf("working_hours: %w", err)
			}
			hours, err := parseHours(h)
			if err != nil {
				return fmt.Errorf("working_hours.%s: %w", name, err)
			}
			wh[day] = hours
		}
		s.WorkingHours = wh
	}
	return nil
}

func parseHours(h hoursFile) (domain.DailyHours, error) {
	open, err := domain.ParseClockTime(h.Open)
	if err != nil {
		return domain.DailyHours{}, err
	}
	closing, err := domain.ParseClockTime(h.Close)
	if err != nil {
		return domain.DailyHours{}, err
	}
	return domain.NewDailyHours(open, closing)
}

func (s *Scheduling) applyEnv() error {
	if tz := os.Getenv("PANDA_TIMEZONE"); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("PANDA_TIMEZONE: %w", err)
		}
		s.Location = loc
	}
	if ws := os.Getenv("PANDA_WEEK_START"); ws != "" {
		d, err := domain.ParseWeekday(ws)
		if err != nil {
			return fmt.Errorf("PANDA_WEEK_START: %w", err)
		}
		s.WeekStart = d
	}
	s.SlotDuration = getDurationEnv("PANDA_SLOT_DURATION", s.SlotDuration)
	if s.SlotDuration <= 0 {
		return fmt.Errorf("PANDA_SLOT_DURATION: %w", domain.ErrInvalidSlotDuration)
	}
	return nil
}

// String renders the working week for diagnostics, e.g. "Mon 08:00-17:00".
func (s Scheduling) String() string {
	var parts []string
	for d := time.Sunday; d <= time.Saturday; d++ {
		if h, ok := s.WorkingHours[d]; ok {
			parts = append(parts, fmt.Sprintf("%s %s-%s", d.String()[:3], h.Open, h.Close))
		}
	}
	return fmt.Sprintf("tz=%s week_start=%s slot=%s hours=[%s]", s.Location, s.WeekStart, s.SlotDuration, strings.Join(parts, ", "))
}
