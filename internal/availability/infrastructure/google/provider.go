// Package google reads busy time from Google Calendar's freeBusy endpoint.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Google OAuth2 endpoints.
const (
	AuthURL  = "https://accounts.google.com/o/oauth2/auth"
	TokenURL = "https://oauth2.googleapis.com/token"
)

// DefaultScopes is the minimum scope needed for free/busy lookups.
var DefaultScopes = []string{
	"https://www.googleapis.com/auth/calendar.freebusy",
}

type tokenSourceProvider interface {
	TokenSource(ctx context.Context, identity domain.ExternalIdentity) (oauth2.TokenSource, error)
}

type invalidator interface {
	Invalidate(identity domain.ExternalIdentity)
}

// Provider queries Google Calendar free/busy for an account's calendar.
type Provider struct {
	tokens  tokenSourceProvider
	logger  *slog.Logger
	baseURL string
	timeout time.Duration
}

// NewProvider creates a Google free/busy provider.
func NewProvider(tokens tokenSourceProvider, logger *slog.Logger) *Provider {
	return NewProviderWithBaseURL(tokens, logger, defaultBaseURL)
}

// NewProviderWithBaseURL creates a provider against a custom API base URL.
func NewProviderWithBaseURL(tokens tokenSourceProvider, logger *slog.Logger, baseURL string) *Provider {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		tokens:  tokens,
		logger:  logger,
		baseURL: baseURL,
		timeout: 15 * time.Second,
	}
}

// WithTimeout sets the HTTP client timeout.
func (p *Provider) WithTimeout(d time.Duration) *Provider {
	if d > 0 {
		p.timeout = d
	}
	return p
}

type freeBusyRequest struct {
	TimeMin string         `json:"timeMin"`
	TimeMax string         `json:"timeMax"`
	Items   []freeBusyItem `json:"items"`
}

type freeBusyItem struct {
	ID string `json:"id"`
}

type freeBusyResponse struct {
	Calendars map[string]struct {
		Busy []struct {
			Start time.Time `json:"start"`
			End   time.Time `json:"end"`
		} `json:"busy"`
		Errors []struct {
			Domain string `json:"domain"`
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"calendars"`
}

// FreeBusy returns the busy blocks of the account's primary calendar.
// The account is the calendar ID, usually the user's email address.
func (p *Provider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	if p.tokens == nil {
		return nil, fmt.Errorf("oauth service not configured")
	}
	client, err := p.httpClient(ctx, identity)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(freeBusyRequest{
		TimeMin: start.UTC().Format(time.RFC3339),
		TimeMax: end.UTC().Format(time.RFC3339),
		Items:   []freeBusyItem{{ID: identity.Account}},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/freeBusy", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		if inv, ok := p.tokens.(invalidator); ok {
			inv.Invalidate(identity)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnauthorized, responseError(resp))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp)
	}

	var payload freeBusyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	cal, ok := payload.Calendars[identity.Account]
	if !ok {
		return nil, fmt.Errorf("google freebusy: calendar %q missing from response", identity.Account)
	}
	if len(cal.Errors) > 0 {
		return nil, fmt.Errorf("google freebusy: calendar %q: %s", identity.Account, cal.Errors[0].Reason)
	}

	busy := make([]domain.TimeInterval, 0, len(cal.Busy))
	for _, b := range cal.Busy {
		if !b.End.After(b.Start) {
			continue
		}
		busy = append(busy, domain.TimeInterval{Start: b.Start, End: b.End})
	}
	return busy, nil
}

func (p *Provider) httpClient(ctx context.Context, identity domain.ExternalIdentity) (*http.Client, error) {
	tokenSource, err := p.tokens.TokenSource(ctx, identity)
	if err != nil {
		return nil, err
	}
	token, err := tokenSource.Token()
	if err != nil {
		p.logger.Warn("oauth token refresh failed", "identity", identity.String(), "error", err)
		return nil, err
	}
	if !token.Expiry.IsZero() && time.Until(token.Expiry) < 5*time.Minute {
		p.logger.Debug("oauth token nearing expiry", "identity", identity.String(), "expires_at", token.Expiry)
	}
	return &http.Client{
		Timeout: p.timeout,
		Transport: &oauthTransport{
			base:   http.DefaultTransport,
			source: tokenSource,
		},
	}, nil
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("google calendar API failed: status=%d body=%s", resp.StatusCode, string(body))
}

type oauthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

func (t *oauthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	token, err := t.source.Token()
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	return t.base.RoundTrip(req)
}
