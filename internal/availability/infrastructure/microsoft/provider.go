// Package microsoft reads busy time from Microsoft Graph calendar schedules.
package microsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

const defaultBaseURL = "https://graph.microsoft.com/v1.0"

// Microsoft OAuth2 endpoints.
const (
	AuthURL  = "https://login.microsoftonline.com/common/oauth2/v2.0/authorize"
	TokenURL = "https://login.microsoftonline.com/common/oauth2/v2.0/token"
)

// DefaultScopes for schedule lookups.
var DefaultScopes = []string{
	"https://graph.microsoft.com/Calendars.Read",
	"https://graph.microsoft.com/Calendars.Read.Shared",
	"offline_access",
}

// TokenURLForTenant returns the token endpoint for a specific tenant.
func TokenURLForTenant(tenant string) string {
	if tenant == "" {
		return TokenURL
	}
	return fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", url.PathEscape(tenant))
}

type tokenSourceProvider interface {
	TokenSource(ctx context.Context, identity domain.ExternalIdentity) (oauth2.TokenSource, error)
}

type invalidator interface {
	Invalidate(identity domain.ExternalIdentity)
}

// Provider queries Graph getSchedule for a mailbox.
type Provider struct {
	tokens  tokenSourceProvider
	logger  *slog.Logger
	baseURL string
	timeout time.Duration
}

// NewProvider creates a Microsoft schedule provider.
func NewProvider(tokens tokenSourceProvider, logger *slog.Logger) *Provider {
	return NewProviderWithBaseURL(tokens, logger, defaultBaseURL)
}

// NewProviderWithBaseURL creates a provider against a custom Graph base URL.
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

type graphDateTime struct {
	DateTime string `json:"dateTime"`
	TimeZone string `json:"timeZone"`
}

type scheduleRequest struct {
	Schedules                []string      `json:"schedules"`
	StartTime                graphDateTime `json:"startTime"`
	EndTime                  graphDateTime `json:"endTime"`
	AvailabilityViewInterval int           `json:"availabilityViewInterval"`
}

type scheduleResponse struct {
	Value []struct {
		ScheduleID    string `json:"scheduleId"`
		ScheduleItems []struct {
			Status string        `json:"status"`
			Start  graphDateTime `json:"start"`
			End    graphDateTime `json:"end"`
		} `json:"scheduleItems"`
		Error *struct {
			Message      string `json:"message"`
			ResponseCode string `json:"responseCode"`
		} `json:"error"`
	} `json:"value"`
}

// FreeBusy returns the non-free schedule items for the account's mailbox.
func (p *Provider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	if p.tokens == nil {
		return nil, fmt.Errorf("oauth service not configured")
	}
	client, err := p.httpClient(ctx, identity)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(scheduleRequest{
		Schedules:                []string{identity.Account},
		StartTime:                graphDateTime{DateTime: start.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		EndTime:                  graphDateTime{DateTime: end.UTC().Format("2006-01-02T15:04:05"), TimeZone: "UTC"},
		AvailabilityViewInterval: 15,
	})
	if err != nil {
		return nil, err
	}

	scheduleURL := fmt.Sprintf("%s/users/%s/calendar/getSchedule", p.baseURL, url.PathEscape(identity.Account))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, scheduleURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "outlook.timezone=\"UTC\"")

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

	var payload scheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}

	busy := make([]domain.TimeInterval, 0)
	for _, schedule := range payload.Value {
		if schedule.Error != nil {
			return nil, fmt.Errorf("microsoft schedule %q: %s", schedule.ScheduleID, schedule.Error.Message)
		}
		for _, item := range schedule.ScheduleItems {
			if !isBusy(item.Status) {
				continue
			}
			s, err := parseGraphTime(item.Start)
			if err != nil {
				p.logger.Warn("schedule item skipped", "identity", identity.String(), "error", err)
				continue
			}
			e, err := parseGraphTime(item.End)
			if err != nil {
				p.logger.Warn("schedule item skipped", "identity", identity.String(), "error", err)
				continue
			}
			if !e.After(s) {
				continue
			}
			busy = append(busy, domain.TimeInterval{Start: s, End: e})
		}
	}
	return busy, nil
}

func (p *Provider) httpClient(ctx context.Context, identity domain.ExternalIdentity) (*http.Client, error) {
	tokenSource, err := p.tokens.TokenSource(ctx, identity)
	if err != nil {
		return nil, err
	}
	if _, err := tokenSource.Token(); err != nil {
		p.logger.Warn("oauth token refresh failed", "identity", identity.String(), "error", err)
		return nil, err
	}
	return &http.Client{
		Timeout: p.timeout,
		Transport: &oauthTransport{
			base:   http.DefaultTransport,
			source: tokenSource,
		},
	}, nil
}

// isBusy reports whether a Graph free/busy status occupies time.
// Tentative holds count as busy so they are never double-booked.
func isBusy(status string) bool {
	switch status {
	case "free", "unknown":
		return false
	default:
		return true
	}
}

func parseGraphTime(v graphDateTime) (time.Time, error) {
	loc := time.UTC
	if v.TimeZone != "" && v.TimeZone != "UTC" {
		if l, err := time.LoadLocation(v.TimeZone); err == nil {
			loc = l
		}
	}
	t, err := time.ParseInLocation("2006-01-02T15:04:05.0000000", v.DateTime, loc)
	if err != nil {
		t, err = time.ParseInLocation("2006-01-02T15:04:05", v.DateTime, loc)
	}
	return t, err
}

func responseError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return fmt.Errorf("microsoft calendar API failed: status=%d body=%s", resp.StatusCode, string(body))
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
