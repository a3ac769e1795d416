package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ResourceID identifies a schedulable crew or technician.
type ResourceID string

// ProviderType represents an external calendar provider.
type ProviderType string

const (
	// ProviderGoogle is Google Calendar (OAuth2 + freeBusy API).
	ProviderGoogle ProviderType = "google"
	// ProviderMicrosoft is Microsoft 365 (OAuth2 + Graph getSchedule).
	ProviderMicrosoft ProviderType = "microsoft"
	// ProviderCalDAV is generic CalDAV (Fastmail, Nextcloud, iCloud).
	ProviderCalDAV ProviderType = "caldav"
	// ProviderICS is a published read-only iCalendar feed.
	ProviderICS ProviderType = "ics"
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	return string(p)
}

// IsValid returns true if the provider type is recognized.
func (p ProviderType) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderMicrosoft, ProviderCalDAV, ProviderICS:
		return true
	default:
		return false
	}
}

// RequiresOAuth returns true if the provider uses OAuth2 for authentication.
func (p ProviderType) RequiresOAuth() bool {
	return p == ProviderGoogle || p == ProviderMicrosoft
}

// DisplayName returns a human-readable name for the provider.
func (p ProviderType) DisplayName() string {
	switch p {
	case ProviderGoogle:
		return "Google Calendar"
	case ProviderMicrosoft:
		return "Microsoft 365"
	case ProviderCalDAV:
		return "CalDAV"
	case ProviderICS:
		return "iCalendar feed"
	default:
		return string(p)
	}
}

// ExternalIdentity is one account on one external calendar provider.
// Several resources may map to the same identity (a shared crew calendar).
type ExternalIdentity struct {
	Provider ProviderType
	Account  string
}

// Key returns the deduplication key for the identity. Mailbox accounts
// (the OAuth providers) are case-insensitive; CalDAV and ICS accounts are
// URLs whose paths are not, so they keep their case.
func (e ExternalIdentity) Key() string {
	account := strings.TrimSpace(e.Account)
	if e.Provider.RequiresOAuth() {
		account = strings.ToLower(account)
	}
	return string(e.Provider) + ":" + account
}

func (e ExternalIdentity) String() string {
	return e.Key()
}

// ParseExternalIdentity parses "provider:account", for example
// "google:crew@example.com" or "ics:https://example.com/crew.ics".
func ParseExternalIdentity(s string) (ExternalIdentity, error) {
	provider, account, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || strings.TrimSpace(account) == "" {
		return ExternalIdentity{}, fmt.Errorf("%w: %q, want provider:account", ErrInvalidIdentity, s)
	}
	p := ProviderType(strings.ToLower(provider))
	if !p.IsValid() {
		return ExternalIdentity{}, fmt.Errorf("%w: unknown provider %q", ErrInvalidIdentity, provider)
	}
	return ExternalIdentity{Provider: p, Account: strings.TrimSpace(account)}, nil
}

// ResourceIdentity is a read-only snapshot of how a resource maps to external calendars.
type ResourceIdentity struct {
	ResourceID  ResourceID
	Name        string
	SyncEnabled bool
	Calendars   []ExternalIdentity
}

// ExternalIdentities returns the identities to query, deduplicated by key.
// A resource with sync disabled has none.
func (r ResourceIdentity) ExternalIdentities() []ExternalIdentity {
	if !r.SyncEnabled || len(r.Calendars) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(r.Calendars))
	out := make([]ExternalIdentity, 0, len(r.Calendars))
	for _, c := range r.Calendars {
		if _, ok := seen[c.Key()]; ok {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

// ManualBlock is an operator-entered unavailability, optionally repeating.
type ManualBlock struct {
	ID         uuid.UUID
	ResourceID ResourceID
	Start      time.Time
	End        time.Time
	// RRule is an RFC 5545 recurrence rule (without the "RRULE:" prefix). Empty means one-off.
	RRule  string
	Reason string
}

// NewManualBlock creates a one-off block.
func NewManualBlock(resourceID ResourceID, start, end time.Time, reason string) (*ManualBlock, error) {
	if !start.Before(end) {
		return nil, ErrInvalidInterval
	}
	return &ManualBlock{
		ID:         uuid.New(),
		ResourceID: resourceID,
		Start:      start,
		End:        end,
		Reason:     reason,
	}, nil
}

// IsRecurring reports whether the block repeats.
func (b ManualBlock) IsRecurring() bool {
	return b.RRule != ""
}

// Booking is an internal CRM appointment occupying a resource.
type Booking struct {
	ID         uuid.UUID
	ResourceID ResourceID
	Start      time.Time
	End        time.Time
	Status     string
}

// Booking statuses. Cancelled bookings never occupy time.
const (
	BookingScheduled = "scheduled"
	BookingConfirmed = "confirmed"
	BookingCancelled = "cancelled"
)
