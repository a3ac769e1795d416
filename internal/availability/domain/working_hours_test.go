package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClockTime(t *testing.T) {
	c, err := ParseClockTime("07:30")
	require.NoError(t, err)
	assert.Equal(t, ClockTime{Hour: 7, Minute: 30}, c)
	assert.Equal(t, "07:30", c.String())

	_, err = ParseClockTime("7h30")
	assert.Error(t, err)
}

func TestNewDailyHours(t *testing.T) {
	_, err := NewDailyHours(ClockTime{Hour: 17}, ClockTime{Hour: 8})
	assert.ErrorIs(t, err, ErrInvalidWorkingHours)

	h, err := NewDailyHours(ClockTime{Hour: 7}, ClockTime{Hour: 15, Minute: 30})
	require.NoError(t, err)
	assert.Equal(t, 15, h.Close.Hour)
}

func TestWorkingHours_WindowOn(t *testing.T) {
	wh := DefaultWorkingHours()

	window, ok := wh.WindowOn(date(2024, time.March, 6), time.UTC)
	require.True(t, ok)
	assert.Equal(t, time.Date(2024, time.March, 6, 8, 0, 0, 0, time.UTC), window.Start)
	assert.Equal(t, time.Date(2024, time.March, 6, 17, 0, 0, 0, time.UTC), window.End)

	_, ok = wh.WindowOn(date(2024, time.March, 9), time.UTC)
	assert.False(t, ok, "Saturday is not a working day")
}

func TestParseWeekday(t *testing.T) {
	d, err := ParseWeekday("monday")
	require.NoError(t, err)
	assert.Equal(t, time.Monday, d)

	d, err = ParseWeekday("Sun")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, d)

	_, err = ParseWeekday("funday")
	assert.Error(t, err)
}
