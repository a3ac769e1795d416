// Package caldav reads busy time from CalDAV servers (iCloud, Fastmail,
// Nextcloud and self-hosted servers).
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/credentials"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/recurrence"
)

// Common CalDAV server URLs.
const (
	AppleCalDAVURL    = "https://caldav.icloud.com"
	FastmailCalDAVURL = "https://caldav.fastmail.com"
)

type credentialSource interface {
	BasicAuth(ctx context.Context, identity domain.ExternalIdentity) (credentials.BasicAuth, error)
}

// Provider queries a CalDAV calendar for events inside a window.
type Provider struct {
	creds    credentialSource
	expander *recurrence.Expander
	logger   *slog.Logger
	timeout  time.Duration
}

// NewProvider creates a CalDAV busy-time provider.
func NewProvider(creds credentialSource, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		creds:    creds,
		expander: recurrence.NewExpander(),
		logger:   logger,
		timeout:  30 * time.Second,
	}
}

// WithTimeout sets the HTTP client timeout.
func (p *Provider) WithTimeout(d time.Duration) *Provider {
	if d > 0 {
		p.timeout = d
	}
	return p
}

// FreeBusy runs a calendar-query REPORT for VEVENTs overlapping the window.
func (p *Provider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	window, err := domain.NewTimeInterval(start, end)
	if err != nil {
		return nil, err
	}
	if p.creds == nil {
		return nil, fmt.Errorf("caldav credentials not configured")
	}
	auth, err := p.creds.BasicAuth(ctx, identity)
	if err != nil {
		return nil, err
	}

	client, err := p.client(auth)
	if err != nil {
		return nil, err
	}
	calPath, err := findCalendarPath(ctx, client, auth.CalendarPath)
	if err != nil {
		return nil, fmt.Errorf("failed to find calendar: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: start.UTC(),
					End:   end.UTC(),
				},
			},
		},
	}
	objects, err := client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		if isUnauthorized(err) {
			return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to query calendar: %w", err)
	}
	return p.busyFromObjects(objects, window), nil
}

func (p *Provider) client(auth credentials.BasicAuth) (*caldav.Client, error) {
	httpClient := &http.Client{Timeout: p.timeout}
	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, auth.Username, auth.Password), auth.ServerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return client, nil
}

func findCalendarPath(ctx context.Context, client *caldav.Client, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}
	for _, cal := range cals {
		if supportsEvents(cal) {
			return cal.Path, nil
		}
	}
	return "", fmt.Errorf("no event calendars found")
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if comp == ical.CompEvent {
			return true
		}
	}
	return false
}

type calEvent struct {
	uid        string
	start      time.Time
	end        time.Time
	allDay     bool
	rrule      string
	exDates    []time.Time
	recurrence *time.Time
	blocking   bool
}

// busyFromObjects flattens the VEVENTs of the returned objects into busy
// intervals, expanding recurring masters.
func (p *Provider) busyFromObjects(objects []caldav.CalendarObject, window domain.TimeInterval) []domain.TimeInterval {
	events := make([]calEvent, 0, len(objects))
	for _, obj := range objects {
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			ev, err := parseEvent(child)
			if err != nil {
				p.logger.Warn("caldav event skipped", "path", obj.Path, "error", err)
				continue
			}
			events = append(events, ev)
		}
	}

	overridden := make(map[string][]time.Time)
	for _, ev := range events {
		if ev.recurrence != nil {
			overridden[ev.uid] = append(overridden[ev.uid], *ev.recurrence)
		}
	}

	busy := make([]domain.TimeInterval, 0, len(events))
	for _, ev := range events {
		if !ev.blocking {
			continue
		}
		if ev.rrule != "" && ev.recurrence == nil {
			occ, err := p.expander.Expand(recurrence.Series{
				Start:   ev.start,
				End:     ev.end,
				RRule:   ev.rrule,
				ExDates: append(ev.exDates, overridden[ev.uid]...),
				AllDay:  ev.allDay,
			}, window)
			if err != nil {
				p.logger.Warn("caldav recurrence skipped", "uid", ev.uid, "error", err)
				continue
			}
			busy = append(busy, occ...)
			continue
		}
		iv := domain.TimeInterval{Start: ev.start, End: ev.end}
		if !iv.IsEmpty() && iv.Overlaps(window) {
			busy = append(busy, iv)
		}
	}
	return busy
}

func parseEvent(comp *ical.Component) (calEvent, error) {
	var ev calEvent
	if prop := comp.Props.Get(ical.PropUID); prop != nil {
		ev.uid = prop.Value
	}

	event := &ical.Event{Component: comp}
	start, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return ev, fmt.Errorf("event %q: DTSTART: %w", ev.uid, err)
	}
	end, err := event.DateTimeEnd(time.UTC)
	if err != nil {
		return ev, fmt.Errorf("event %q: DTEND: %w", ev.uid, err)
	}
	ev.start = start
	ev.end = end
	if prop := comp.Props.Get(ical.PropDateTimeStart); prop != nil && prop.ValueType() == ical.ValueDate {
		ev.allDay = true
		if !ev.end.After(ev.start) {
			ev.end = ev.start.AddDate(0, 0, 1)
		}
	}

	ev.blocking = true
	if prop := comp.Props.Get(ical.PropTransparency); prop != nil && strings.EqualFold(prop.Value, "TRANSPARENT") {
		ev.blocking = false
	}
	if prop := comp.Props.Get(ical.PropStatus); prop != nil && strings.EqualFold(prop.Value, "CANCELLED") {
		ev.blocking = false
	}

	if prop := comp.Props.Get(ical.PropRecurrenceRule); prop != nil {
		ev.rrule = prop.Value
	}
	for _, prop := range comp.Props.Values(ical.PropExceptionDates) {
		ev.exDates = append(ev.exDates, exceptionDates(prop)...)
	}
	if prop := comp.Props.Get(ical.PropRecurrenceID); prop != nil {
		if t, err := prop.DateTime(time.UTC); err == nil {
			ev.recurrence = &t
		}
	}
	return ev, nil
}

// exceptionDates splits a possibly comma-separated EXDATE property.
func exceptionDates(prop ical.Prop) []time.Time {
	out := make([]time.Time, 0, 1)
	for _, part := range strings.Split(prop.Value, ",") {
		single := prop
		single.Value = strings.TrimSpace(part)
		if single.Value == "" {
			continue
		}
		if t, err := single.DateTime(time.UTC); err == nil {
			out = append(out, t)
		}
	}
	return out
}

func isUnauthorized(err error) bool {
	return strings.Contains(err.Error(), "401")
}
