package icsfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

const feed = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//panda//test//EN
BEGIN:VEVENT
UID:single@test
DTSTAMP:20240301T000000Z
DTSTART:20240304T090000Z
DTEND:20240304T100000Z
SUMMARY:Inspection
END:VEVENT
BEGIN:VEVENT
UID:free@test
DTSTAMP:20240301T000000Z
DTSTART:20240304T110000Z
DTEND:20240304T120000Z
TRANSP:TRANSPARENT
SUMMARY:Tentative hold
END:VEVENT
BEGIN:VEVENT
UID:cancelled@test
DTSTAMP:20240301T000000Z
DTSTART:20240304T130000Z
DTEND:20240304T140000Z
STATUS:CANCELLED
END:VEVENT
BEGIN:VEVENT
UID:allday@test
DTSTAMP:20240301T000000Z
DTSTART;VALUE=DATE:20240305
DTEND;VALUE=DATE:20240306
SUMMARY:Training
END:VEVENT
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20240301T000000Z
DTSTART:20240304T080000Z
DURATION:PT30M
RRULE:FREQ=DAILY;COUNT=5
END:VEVENT
BEGIN:VEVENT
UID:standup@test
DTSTAMP:20240301T000000Z
RECURRENCE-ID:20240306T080000Z
DTSTART:20240306T150000Z
DTEND:20240306T153000Z
END:VEVENT
END:VCALENDAR
`

func crlf(s string) string {
	return strings.ReplaceAll(s, "\n", "\r\n")
}

func utc(day, h, m int) time.Time {
	return time.Date(2024, time.March, day, h, m, 0, 0, time.UTC)
}

func TestProvider_FreeBusy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/crew.ics", r.URL.Path)
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(crlf(feed)))
	}))
	defer server.Close()

	provider := NewProvider(nil)
	identity := domain.ExternalIdentity{Provider: domain.ProviderICS, Account: server.URL + "/crew.ics"}

	busy, err := provider.FreeBusy(context.Background(), identity, utc(4, 0, 0), utc(8, 0, 0))
	require.NoError(t, err)

	merged := domain.MergeBusyPeriods(domain.BusyPeriodsFrom(busy, domain.SourceExternal))
	got := make([]domain.TimeInterval, 0, len(merged))
	for _, p := range merged {
		got = append(got, p.TimeInterval)
	}
	assert.Equal(t, []domain.TimeInterval{
		{Start: utc(4, 8, 0), End: utc(4, 8, 30)},
		{Start: utc(4, 9, 0), End: utc(4, 10, 0)},
		{Start: utc(5, 0, 0), End: utc(6, 0, 0)},
		{Start: utc(6, 15, 0), End: utc(6, 15, 30)},
		{Start: utc(7, 8, 0), End: utc(7, 8, 30)},
	}, got)
}

func TestProvider_FreeBusy_WindowFilters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(crlf(feed)))
	}))
	defer server.Close()

	busy, err := NewProvider(nil).FreeBusy(context.Background(),
		domain.ExternalIdentity{Provider: domain.ProviderICS, Account: server.URL},
		utc(4, 9, 30), utc(4, 12, 0))
	require.NoError(t, err)
	assert.Equal(t, []domain.TimeInterval{{Start: utc(4, 9, 0), End: utc(4, 10, 0)}}, busy)
}

func TestProvider_FreeBusy_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewProvider(nil).FreeBusy(context.Background(),
		domain.ExternalIdentity{Provider: domain.ProviderICS, Account: server.URL + "/missing.ics?token=secret"},
		utc(4, 0, 0), utc(5, 0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NotContains(t, err.Error(), "secret")
}

func TestProvider_FreeBusy_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	_, err := NewProvider(nil).FreeBusy(context.Background(),
		domain.ExternalIdentity{Provider: domain.ProviderICS, Account: server.URL},
		utc(4, 0, 0), utc(5, 0, 0))
	assert.ErrorIs(t, err, ErrEmptyFeed)
}

func TestProvider_FreeBusy_RejectsUnsupportedScheme(t *testing.T) {
	_, err := NewProvider(nil).FreeBusy(context.Background(),
		domain.ExternalIdentity{Provider: domain.ProviderICS, Account: "ftp://example.com/feed.ics"},
		utc(4, 0, 0), utc(5, 0, 0))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported feed scheme")
}

func TestProvider_Parse_FloatingTimesUseLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	body := []byte("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:x\r\nBEGIN:VEVENT\r\nUID:a\r\nDTSTART:20240304T090000\r\nDTEND:20240304T100000\r\nEND:VEVENT\r\nEND:VCALENDAR\r\n")
	window := domain.TimeInterval{Start: utc(4, 0, 0), End: utc(5, 0, 0)}

	busy, err := NewProvider(nil).WithLocation(ny).Parse(body, window)
	require.NoError(t, err)
	require.Len(t, busy, 1)
	assert.True(t, busy[0].Start.Equal(utc(4, 14, 0)))
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT30M", 30 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"P1D", 24 * time.Hour},
		{"P1W", 7 * 24 * time.Hour},
		{"P1DT2H", 26 * time.Hour},
		{"-PT15M", -15 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "30M", "P", "PT5X"} {
		_, err := parseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestRedactURL(t *testing.T) {
	assert.Equal(t, "https://cal.example.com/feed.ics", redactURL("https://user:pw@cal.example.com/feed.ics?token=abc"))
}
