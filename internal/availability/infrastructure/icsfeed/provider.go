// Package icsfeed reads busy time from published iCalendar (.ics) feeds.
//
// The external identity's account is the feed URL. Events marked
// TRANSP:TRANSPARENT or STATUS:CANCELLED do not block time. Recurring
// events are expanded inside the requested window and RECURRENCE-ID
// overrides replace the instance they name.
package icsfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/internal/availability/infrastructure/recurrence"
)

const maxFeedBytes = 10 << 20

var ErrEmptyFeed = errors.New("empty ics feed")

// Provider fetches and parses ICS feeds on demand.
type Provider struct {
	client   *http.Client
	expander *recurrence.Expander
	location *time.Location
	logger   *slog.Logger
}

// NewProvider creates an ICS feed provider.
func NewProvider(logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		client:   &http.Client{Timeout: 15 * time.Second},
		expander: recurrence.NewExpander(),
		location: time.UTC,
		logger:   logger,
	}
}

// WithHTTPClient replaces the HTTP client used to download feeds.
func (p *Provider) WithHTTPClient(client *http.Client) *Provider {
	if client != nil {
		p.client = client
	}
	return p
}

// WithTimeout sets the download timeout.
func (p *Provider) WithTimeout(d time.Duration) *Provider {
	if d > 0 {
		p.client.Timeout = d
	}
	return p
}

// WithLocation sets the zone used for floating times and all-day dates.
func (p *Provider) WithLocation(loc *time.Location) *Provider {
	if loc != nil {
		p.location = loc
	}
	return p
}

// WithExpander replaces the recurrence expander.
func (p *Provider) WithExpander(e *recurrence.Expander) *Provider {
	if e != nil {
		p.expander = e
	}
	return p
}

// FreeBusy downloads the feed named by identity.Account and returns the
// busy intervals that overlap [start, end).
func (p *Provider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	window, err := domain.NewTimeInterval(start, end)
	if err != nil {
		return nil, err
	}
	body, err := p.fetch(ctx, identity.Account)
	if err != nil {
		return nil, err
	}
	busy, err := p.Parse(body, window)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", redactURL(identity.Account), err)
	}
	p.logger.Debug("ics feed parsed",
		"feed", redactURL(identity.Account),
		"busy_count", len(busy),
	)
	return busy, nil
}

func (p *Provider) fetch(ctx context.Context, feedURL string) ([]byte, error) {
	u, err := url.Parse(feedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid feed url: %w", err)
	}
	// webcal:// is an alias for http(s) used by calendar apps.
	if u.Scheme == "webcal" || u.Scheme == "webcals" {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported feed scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch feed %s: status %d", redactURL(feedURL), resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyFeed
	}
	return body, nil
}

type feedEvent struct {
	uid        string
	start      time.Time
	end        time.Time
	allDay     bool
	rrule      string
	exDates    []time.Time
	recurrence *time.Time
	blocking   bool
}

// Parse extracts busy intervals overlapping window from an ICS payload.
// Events that cannot be read are skipped and logged.
func (p *Provider) Parse(body []byte, window domain.TimeInterval) ([]domain.TimeInterval, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, ErrEmptyFeed
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]feedEvent, 0)
	for _, ve := range cal.Events() {
		ev, err := p.parseEvent(ve)
		if err != nil {
			p.logger.Warn("ics event skipped", "error", err)
			continue
		}
		events = append(events, ev)
	}

	// Overrides cancel the generated instance they replace.
	overridden := make(map[string][]time.Time)
	for _, ev := range events {
		if ev.recurrence != nil && ev.uid != "" {
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
				p.logger.Warn("ics recurrence skipped", "uid", ev.uid, "error", err)
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
	return busy, nil
}

func (p *Provider) parseEvent(ve *ical.VEvent) (feedEvent, error) {
	var ev feedEvent
	if prop := ve.GetProperty(ical.ComponentPropertyUniqueId); prop != nil {
		ev.uid = prop.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return ev, fmt.Errorf("event %q: missing DTSTART", ev.uid)
	}
	start, allDay, err := p.propertyTime(dtStart)
	if err != nil {
		return ev, fmt.Errorf("event %q: DTSTART: %w", ev.uid, err)
	}
	ev.start = start
	ev.allDay = allDay

	switch {
	case ve.GetProperty(ical.ComponentPropertyDtEnd) != nil:
		end, _, err := p.propertyTime(ve.GetProperty(ical.ComponentPropertyDtEnd))
		if err != nil {
			return ev, fmt.Errorf("event %q: DTEND: %w", ev.uid, err)
		}
		ev.end = end
	case ve.GetProperty(ical.ComponentPropertyDuration) != nil:
		d, err := parseDuration(ve.GetProperty(ical.ComponentPropertyDuration).Value)
		if err != nil {
			return ev, fmt.Errorf("event %q: DURATION: %w", ev.uid, err)
		}
		ev.end = start.Add(d)
	case allDay:
		y, m, d := start.Date()
		ev.end = time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
	default:
		// A timed event without DTEND or DURATION is an instant.
		ev.end = start
	}

	ev.blocking = true
	if prop := ve.GetProperty(ical.ComponentPropertyTransp); prop != nil && strings.EqualFold(prop.Value, "TRANSPARENT") {
		ev.blocking = false
	}
	if prop := ve.GetProperty(ical.ComponentPropertyStatus); prop != nil && strings.EqualFold(prop.Value, "CANCELLED") {
		ev.blocking = false
	}

	if prop := ve.GetProperty(ical.ComponentPropertyRrule); prop != nil {
		ev.rrule = prop.Value
	}
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := p.propertyLocation(prop)
		for _, part := range strings.Split(prop.Value, ",") {
			if t, _, err := parseICSTime(strings.TrimSpace(part), loc); err == nil {
				ev.exDates = append(ev.exDates, t)
			}
		}
	}
	if prop := ve.GetProperty(ical.ComponentPropertyRecurrenceId); prop != nil {
		if t, _, err := p.propertyTime(prop); err == nil {
			ev.recurrence = &t
		}
	}
	return ev, nil
}

func (p *Provider) propertyTime(prop *ical.IANAProperty) (time.Time, bool, error) {
	t, allDay, err := parseICSTime(prop.Value, p.propertyLocation(prop))
	if err != nil {
		return time.Time{}, false, err
	}
	if vs := prop.ICalParameters["VALUE"]; len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		allDay = true
	}
	return t, allDay, nil
}

// propertyLocation resolves a TZID parameter, falling back to the
// provider's zone for floating times.
func (p *Provider) propertyLocation(prop *ical.IANAProperty) *time.Location {
	if tz := prop.ICalParameters["TZID"]; len(tz) > 0 {
		if loc, err := time.LoadLocation(strings.Trim(tz[0], `"`)); err == nil {
			return loc
		}
	}
	return p.location
}

func parseICSTime(v string, loc *time.Location) (time.Time, bool, error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err := time.ParseInLocation("20060102T150405", v, loc)
		return t, false, err
	default:
		t, err := time.ParseInLocation("20060102", v, loc)
		return t, true, err
	}
}

// parseDuration reads the RFC 5545 dur-value subset used by calendar
// servers: [+-]P[nW][nD][T[nH][nM][nS]].
func parseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	sign := time.Duration(1)
	if strings.HasPrefix(v, "-") {
		sign = -1
	}
	v = strings.TrimLeft(v, "+-")
	if !strings.HasPrefix(v, "P") {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	var (
		total  time.Duration
		n      int
		inTime bool
		seen   bool
	)
	for _, r := range v[1:] {
		switch {
		case r >= '0' && r <= '9':
			n = n*10 + int(r-'0')
			continue
		case r == 'T':
			inTime = true
			continue
		case r == 'W' && !inTime:
			total += time.Duration(n) * 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			total += time.Duration(n) * 24 * time.Hour
		case r == 'H' && inTime:
			total += time.Duration(n) * time.Hour
		case r == 'M' && inTime:
			total += time.Duration(n) * time.Minute
		case r == 'S' && inTime:
			total += time.Duration(n) * time.Second
		default:
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		n = 0
		seen = true
	}
	if !seen {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return sign * total, nil
}

// redactURL strips credentials and query tokens from feed URLs before logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
