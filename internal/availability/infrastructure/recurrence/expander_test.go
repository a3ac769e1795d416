package recurrence

import (
	"testing"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(d, h int) time.Time {
	return time.Date(2024, time.March, d, h, 0, 0, 0, time.UTC)
}

func TestExpander_WeeklyLunchBlock(t *testing.T) {
	e := NewExpander()
	block := domain.ManualBlock{
		ResourceID: "r1",
		Start:      day(4, 12),
		End:        day(4, 13),
		RRule:      "FREQ=WEEKLY;BYDAY=MO,WE",
	}

	occ, err := e.Occurrences(block, domain.TimeInterval{Start: day(4, 0), End: day(18, 0)})

	require.NoError(t, err)
	require.Len(t, occ, 4)
	assert.Equal(t, day(4, 12), occ[0].Start)
	assert.Equal(t, day(6, 12), occ[1].Start)
	assert.Equal(t, day(11, 12), occ[2].Start)
	assert.Equal(t, day(13, 13), occ[3].End)
}

func TestExpander_IncludesOccurrenceRunningIntoWindow(t *testing.T) {
	e := NewExpander()
	s := Series{Start: day(4, 22), End: day(5, 2), RRule: "RRULE:FREQ=DAILY"}

	occ, err := e.Expand(s, domain.TimeInterval{Start: day(6, 0), End: day(6, 12)})

	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, day(5, 22), occ[0].Start)
}

func TestExpander_ExDatesAndCount(t *testing.T) {
	e := NewExpander()
	s := Series{
		Start:   day(4, 9),
		End:     day(4, 10),
		RRule:   "FREQ=DAILY;COUNT=5",
		ExDates: []time.Time{day(6, 9)},
	}

	occ, err := e.Expand(s, domain.TimeInterval{Start: day(1, 0), End: day(31, 0)})

	require.NoError(t, err)
	assert.Len(t, occ, 4)
}

func TestExpander_AllDay(t *testing.T) {
	e := NewExpander()
	s := Series{Start: day(4, 0), End: day(4, 0), RRule: "FREQ=WEEKLY", AllDay: true}

	occ, err := e.Expand(s, domain.TimeInterval{Start: day(10, 0), End: day(12, 0)})

	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, day(11, 0), occ[0].Start)
	assert.Equal(t, day(12, 0), occ[0].End)
}

func TestExpander_Cap(t *testing.T) {
	e := NewExpander().WithMaxOccurrences(3)
	s := Series{Start: day(1, 9), End: day(1, 10), RRule: "FREQ=HOURLY"}

	occ, err := e.Expand(s, domain.TimeInterval{Start: day(1, 0), End: day(2, 0)})

	require.NoError(t, err)
	assert.Len(t, occ, 3)
}

func TestExpander_InvalidRule(t *testing.T) {
	e := NewExpander()

	_, err := e.Expand(Series{Start: day(1, 9), End: day(1, 10), RRule: "FREQ=SOMETIMES"}, domain.TimeInterval{Start: day(1, 0), End: day(2, 0)})
	assert.Error(t, err)

	_, err = e.Expand(Series{Start: day(1, 9), End: day(1, 10)}, domain.TimeInterval{Start: day(1, 0), End: day(2, 0)})
	assert.ErrorIs(t, err, ErrEmptyRule)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("FREQ=WEEKLY;BYDAY=MO,WE", day(4, 12)))
	assert.NoError(t, Validate("RRULE:FREQ=DAILY;COUNT=3", day(4, 12)))
	assert.Error(t, Validate("FREQ=SOMETIMES", day(4, 12)))
	assert.ErrorIs(t, Validate("  ", day(4, 12)), ErrEmptyRule)
}
