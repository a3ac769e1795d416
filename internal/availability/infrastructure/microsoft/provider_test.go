package microsoft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

type stubTokenSourceProvider struct {
	source      oauth2.TokenSource
	err         error
	invalidated int
}

func (s *stubTokenSourceProvider) TokenSource(ctx context.Context, identity domain.ExternalIdentity) (oauth2.TokenSource, error) {
	return s.source, s.err
}

func (s *stubTokenSourceProvider) Invalidate(domain.ExternalIdentity) {
	s.invalidated++
}

func tokens() *stubTokenSourceProvider {
	return &stubTokenSourceProvider{source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "graph-token"})}
}

var crew = domain.ExternalIdentity{Provider: domain.ProviderMicrosoft, Account: "crew@contoso.com"}

func TestProvider_FreeBusy(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/crew@contoso.com/calendar/getSchedule", r.URL.Path)
		assert.Equal(t, "Bearer graph-token", r.Header.Get("Authorization"))

		var req scheduleRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"crew@contoso.com"}, req.Schedules)
		assert.Equal(t, "2024-03-04T00:00:00", req.StartTime.DateTime)
		assert.Equal(t, "UTC", req.EndTime.TimeZone)

		_, _ = w.Write([]byte(`{"value":[{"scheduleId":"crew@contoso.com","scheduleItems":[
			{"status":"busy","start":{"dateTime":"2024-03-04T09:00:00.0000000","timeZone":"UTC"},"end":{"dateTime":"2024-03-04T10:00:00.0000000","timeZone":"UTC"}},
			{"status":"free","start":{"dateTime":"2024-03-04T11:00:00","timeZone":"UTC"},"end":{"dateTime":"2024-03-04T12:00:00","timeZone":"UTC"}},
			{"status":"tentative","start":{"dateTime":"2024-03-04T13:00:00","timeZone":"UTC"},"end":{"dateTime":"2024-03-04T13:30:00","timeZone":"UTC"}},
			{"status":"oof","start":{"dateTime":"garbage","timeZone":"UTC"},"end":{"dateTime":"2024-03-04T18:00:00","timeZone":"UTC"}}
		]}]}`))
	}))
	defer server.Close()

	busy, err := NewProviderWithBaseURL(tokens(), nil, server.URL).FreeBusy(context.Background(), crew, start, start.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []domain.TimeInterval{
		{Start: start.Add(9 * time.Hour), End: start.Add(10 * time.Hour)},
		{Start: start.Add(13 * time.Hour), End: start.Add(13*time.Hour + 30*time.Minute)},
	}, busy)
}

func TestProvider_FreeBusy_ScheduleError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"value":[{"scheduleId":"crew@contoso.com","error":{"message":"mailbox not found","responseCode":"ErrorMailboxNotFound"}}]}`))
	}))
	defer server.Close()

	_, err := NewProviderWithBaseURL(tokens(), nil, server.URL).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mailbox not found")
}

func TestProvider_FreeBusy_Unauthorized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tp := tokens()
	_, err := NewProviderWithBaseURL(tp, nil, server.URL).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrProviderUnauthorized)
	assert.Equal(t, 1, tp.invalidated)
}

func TestProvider_FreeBusy_NoCredentials(t *testing.T) {
	_, err := NewProvider(&stubTokenSourceProvider{err: domain.ErrNoCredentials}, nil).
		FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
}

func TestIsBusy(t *testing.T) {
	for status, want := range map[string]bool{
		"free":             false,
		"unknown":          false,
		"busy":             true,
		"tentative":        true,
		"oof":              true,
		"workingElsewhere": true,
	} {
		assert.Equal(t, want, isBusy(status), status)
	}
}

func TestTokenURLForTenant(t *testing.T) {
	assert.Equal(t, TokenURL, TokenURLForTenant(""))
	assert.Equal(t, "https://login.microsoftonline.com/contoso/oauth2/v2.0/token", TokenURLForTenant("contoso"))
}
