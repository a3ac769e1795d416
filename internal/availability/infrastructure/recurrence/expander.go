// Package recurrence expands RFC 5545 recurrence rules into concrete intervals.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/teambition/rrule-go"
)

// DefaultMaxOccurrences caps expansion of a single rule within one window.
const DefaultMaxOccurrences = 1000

var ErrEmptyRule = errors.New("empty recurrence rule")

// Series is a recurring event: a first occurrence plus its rule.
type Series struct {
	Start   time.Time
	End     time.Time
	RRule   string
	ExDates []time.Time
	// AllDay occurrences always span whole local days regardless of End.
	AllDay bool
}

// Expander turns recurrence rules into intervals overlapping a window.
type Expander struct {
	maxOccurrences int
}

// NewExpander creates an expander with the default occurrence cap.
func NewExpander() *Expander {
	return &Expander{maxOccurrences: DefaultMaxOccurrences}
}

// WithMaxOccurrences overrides the per-rule occurrence cap.
func (e *Expander) WithMaxOccurrences(n int) *Expander {
	if n > 0 {
		e.maxOccurrences = n
	}
	return e
}

// Occurrences expands a recurring manual block within window.
func (e *Expander) Occurrences(block domain.ManualBlock, window domain.TimeInterval) ([]domain.TimeInterval, error) {
	return e.Expand(Series{Start: block.Start, End: block.End, RRule: block.RRule}, window)
}

// Expand returns the occurrences of s that overlap window, in start order.
// Occurrences starting before the window but running into it are included.
func (e *Expander) Expand(s Series, window domain.TimeInterval) ([]domain.TimeInterval, error) {
	r, err := build(s.RRule, s.Start)
	if err != nil {
		return nil, err
	}

	var set rrule.Set
	set.RRule(r)
	for _, ex := range s.ExDates {
		set.ExDate(ex.In(s.Start.Location()))
	}

	length := s.End.Sub(s.Start)
	if s.AllDay || length <= 0 {
		length = 24 * time.Hour
	}
	loc := s.Start.Location()
	from := window.Start.Add(-length).In(loc)
	to := window.End.In(loc)

	starts := set.Between(from, to, true)
	out := make([]domain.TimeInterval, 0, len(starts))
	for _, start := range starts {
		if len(out) >= e.maxOccurrences {
			break
		}
		end := start.Add(length)
		if s.AllDay {
			y, m, d := start.Date()
			start = time.Date(y, m, d, 0, 0, 0, 0, loc)
			end = time.Date(y, m, d+1, 0, 0, 0, 0, loc)
		}
		iv := domain.TimeInterval{Start: start, End: end}
		if iv.Overlaps(window) {
			out = append(out, iv)
		}
	}
	return out, nil
}

// Validate reports whether rule is a usable recurrence rule for a series
// starting at dtstart.
func Validate(rule string, dtstart time.Time) error {
	_, err := build(rule, dtstart)
	return err
}

func build(rule string, dtstart time.Time) (*rrule.RRule, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(rule), "RRULE:"))
	if raw == "" {
		return nil, ErrEmptyRule
	}
	opt, err := rrule.StrToROption(raw)
	if err != nil {
		return nil, fmt.Errorf("parse rrule %q: %w", raw, err)
	}
	// Defaults such as BYDAY for weekly rules derive from DTSTART, so it
	// must be set before the rule is built.
	opt.Dtstart = dtstart
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule %q: %w", raw, err)
	}
	return r, nil
}
