package domain

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday afternoon.
var refNow = time.Date(2024, time.March, 6, 15, 30, 0, 0, time.UTC)

func endOfDay(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 23, 59, 59, int(999*time.Millisecond), time.UTC)
}

func TestParseDateRange_ThisWeekSundayStart(t *testing.T) {
	r, err := ParseDateRange(PresetThisWeek, DateRangeOptions{Now: refNow, WeekStart: time.Sunday})

	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 3), r.Start)
	assert.Equal(t, endOfDay(2024, time.March, 9), r.End)
	assert.Equal(t, date(2024, time.March, 10), r.Interval().End)
}

func TestParseDateRange_Presets(t *testing.T) {
	tests := []struct {
		key   string
		start time.Time
		end   time.Time
	}{
		{PresetToday, date(2024, time.March, 6), endOfDay(2024, time.March, 6)},
		{PresetYesterday, date(2024, time.March, 5), endOfDay(2024, time.March, 5)},
		{PresetTomorrow, date(2024, time.March, 7), endOfDay(2024, time.March, 7)},
		{PresetLastWeek, date(2024, time.February, 25), endOfDay(2024, time.March, 2)},
		{PresetNextWeek, date(2024, time.March, 10), endOfDay(2024, time.March, 16)},
		{PresetThisMonth, date(2024, time.March, 1), endOfDay(2024, time.March, 31)},
		{PresetLastMonth, date(2024, time.February, 1), endOfDay(2024, time.February, 29)},
		{PresetNextMonth, date(2024, time.April, 1), endOfDay(2024, time.April, 30)},
		{PresetThisQuarter, date(2024, time.January, 1), endOfDay(2024, time.March, 31)},
		{PresetLastQuarter, date(2023, time.October, 1), endOfDay(2023, time.December, 31)},
		{PresetThisYear, date(2024, time.January, 1), endOfDay(2024, time.December, 31)},
		{PresetLastYear, date(2023, time.January, 1), endOfDay(2023, time.December, 31)},
		{PresetLast7Days, date(2024, time.February, 29), endOfDay(2024, time.March, 6)},
		{PresetLast30Days, date(2024, time.February, 6), endOfDay(2024, time.March, 6)},
		{PresetNext7Days, date(2024, time.March, 6), endOfDay(2024, time.March, 12)},
		{"rolling30", date(2024, time.February, 6), endOfDay(2024, time.March, 6)},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			r, err := ParseDateRange(tt.key, DateRangeOptions{Now: refNow})
			require.NoError(t, err)
			assert.Equal(t, tt.start, r.Start)
			assert.Equal(t, tt.end, r.End)
		})
	}
}

func TestParseDateRange_WeekStartMonday(t *testing.T) {
	r, err := ParseDateRange(PresetThisWeek, DateRangeOptions{Now: refNow, WeekStart: time.Monday})

	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 4), r.Start)
	assert.Equal(t, endOfDay(2024, time.March, 10), r.End)
}

func TestParseDateRange_Location(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 15:30 UTC is already Thursday 00:30 in Tokyo.
	r, err := ParseDateRange(PresetToday, DateRangeOptions{Now: refNow, Location: tokyo})

	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, time.March, 7, 0, 0, 0, 0, tokyo), r.Start)
	assert.Equal(t, tokyo, r.Start.Location())
}

func TestParseDateRange_Custom(t *testing.T) {
	r, err := ParseDateRange(PresetCustom, DateRangeOptions{
		Now:  refNow,
		From: date(2024, time.March, 1),
		To:   date(2024, time.March, 3),
	})
	require.NoError(t, err)
	assert.Equal(t, date(2024, time.March, 1), r.Start)
	assert.Equal(t, endOfDay(2024, time.March, 3), r.End)

	_, err = ParseDateRange(PresetCustom, DateRangeOptions{Now: refNow})
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ParseDateRange(PresetCustom, DateRangeOptions{
		Now:  refNow,
		From: date(2024, time.March, 3),
		To:   date(2024, time.March, 1),
	})
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestParseDateRange_UnknownPreset(t *testing.T) {
	_, err := ParseDateRange("fortnight", DateRangeOptions{Now: refNow})

	assert.ErrorIs(t, err, ErrUnknownPreset)
}

func TestParseDateRange_IsPure(t *testing.T) {
	opts := DateRangeOptions{Now: refNow}

	a, err := ParseDateRange(PresetLast90Days, opts)
	require.NoError(t, err)
	b, err := ParseDateRange(PresetLast90Days, opts)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}
