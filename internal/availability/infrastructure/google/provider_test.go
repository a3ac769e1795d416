package google

import (
	"context"
	"encoding/json"
	"errors"
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
	invalidated []string
}

func (s *stubTokenSourceProvider) TokenSource(ctx context.Context, identity domain.ExternalIdentity) (oauth2.TokenSource, error) {
	return s.source, s.err
}

func (s *stubTokenSourceProvider) Invalidate(identity domain.ExternalIdentity) {
	s.invalidated = append(s.invalidated, identity.Key())
}

func tokens() *stubTokenSourceProvider {
	return &stubTokenSourceProvider{
		source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "token", Expiry: time.Now().Add(time.Hour)}),
	}
}

var crew = domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: "crew@example.com"}

func TestProvider_FreeBusy(t *testing.T) {
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/freeBusy", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))

		var req freeBusyRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2024-03-04T00:00:00Z", req.TimeMin)
		assert.Equal(t, "2024-03-05T00:00:00Z", req.TimeMax)
		assert.Equal(t, []freeBusyItem{{ID: "crew@example.com"}}, req.Items)

		_, _ = w.Write([]byte(`{"calendars":{"crew@example.com":{"busy":[
			{"start":"2024-03-04T09:00:00Z","end":"2024-03-04T10:00:00Z"},
			{"start":"2024-03-04T13:00:00-05:00","end":"2024-03-04T14:00:00-05:00"},
			{"start":"2024-03-04T15:00:00Z","end":"2024-03-04T15:00:00Z"}
		]}}}`))
	}))
	defer server.Close()

	busy, err := NewProviderWithBaseURL(tokens(), nil, server.URL).FreeBusy(context.Background(), crew, start, end)
	require.NoError(t, err)
	require.Len(t, busy, 2)
	assert.True(t, busy[0].Start.Equal(start.Add(9*time.Hour)))
	assert.True(t, busy[1].Start.Equal(start.Add(18*time.Hour)))
	assert.Equal(t, time.Hour, busy[1].Duration())
}

func TestProvider_FreeBusy_CalendarError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"calendars":{"crew@example.com":{"errors":[{"domain":"global","reason":"notFound"}]}}}`))
	}))
	defer server.Close()

	_, err := NewProviderWithBaseURL(tokens(), nil, server.URL).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notFound")
}

func TestProvider_FreeBusy_UnauthorizedInvalidatesToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	tp := tokens()
	_, err := NewProviderWithBaseURL(tp, nil, server.URL).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrProviderUnauthorized)
	assert.Equal(t, []string{crew.Key()}, tp.invalidated)
}

func TestProvider_FreeBusy_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("backend down"))
	}))
	defer server.Close()

	_, err := NewProviderWithBaseURL(tokens(), nil, server.URL).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status=503")
	assert.NotErrorIs(t, err, domain.ErrProviderUnauthorized)
}

func TestProvider_FreeBusy_TokenErrors(t *testing.T) {
	_, err := NewProvider(nil, nil).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	require.Error(t, err)

	missing := &stubTokenSourceProvider{err: domain.ErrNoCredentials}
	_, err = NewProvider(missing, nil).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	assert.ErrorIs(t, err, domain.ErrNoCredentials)

	failing := &stubTokenSourceProvider{source: failingSource{}}
	_, err = NewProvider(failing, nil).FreeBusy(context.Background(), crew, time.Now(), time.Now().Add(time.Hour))
	assert.EqualError(t, err, "refresh failed")
}

type failingSource struct{}

func (failingSource) Token() (*oauth2.Token, error) {
	return nil, errors.New("refresh failed")
}
