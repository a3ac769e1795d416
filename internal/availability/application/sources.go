package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// Failure sources that are not busy-period sources themselves.
const (
	FailureSourceDirectory = "directory"
)

// SourceFailure records a soft failure that was absorbed into "no data".
type SourceFailure struct {
	Source     string
	ResourceID domain.ResourceID
	// Identity is the external identity key, set for external calendar failures.
	Identity string
	Err      error
}

func (f SourceFailure) Error() string {
	if f.Identity != "" {
		return fmt.Sprintf("%s source for %s: %v", f.Source, f.Identity, f.Err)
	}
	return fmt.Sprintf("%s source for resource %s: %v", f.Source, f.ResourceID, f.Err)
}

// FetchResult is what a busy source returns. Sources never return errors;
// failures are reported alongside whatever intervals could be fetched.
type FetchResult struct {
	Source    domain.Source
	Intervals []domain.TimeInterval
	Failures  []SourceFailure
}

// Periods tags the fetched intervals with the result's source.
func (r FetchResult) Periods() []domain.BusyPeriod {
	return domain.BusyPeriodsFrom(r.Intervals, r.Source)
}

// ResourceSource fetches busy data keyed by resource.
type ResourceSource interface {
	FetchBusy(ctx context.Context, id domain.ResourceID, window domain.TimeInterval) FetchResult
}

// IdentitySource fetches busy data keyed by external identity.
type IdentitySource interface {
	FetchIdentity(ctx context.Context, identity domain.ExternalIdentity, window domain.TimeInterval) FetchResult
}

// RecurrenceExpander turns a recurring manual block into concrete occurrences.
type RecurrenceExpander interface {
	Occurrences(block domain.ManualBlock, window domain.TimeInterval) ([]domain.TimeInterval, error)
}

// InternalBookingSource reads CRM bookings.
type InternalBookingSource struct {
	store  domain.BookingStore
	logger *slog.Logger
}

// NewInternalBookingSource creates a booking source.
func NewInternalBookingSource(store domain.BookingStore, logger *slog.Logger) *InternalBookingSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &InternalBookingSource{store: store, logger: logger}
}

// FetchBusy returns the resource's bookings overlapping window.
func (s *InternalBookingSource) FetchBusy(ctx context.Context, id domain.ResourceID, window domain.TimeInterval) FetchResult {
	result := FetchResult{Source: domain.SourceInternal}
	intervals, err := s.store.ListBookings(ctx, id, window.Start, window.End)
	if err != nil {
		s.logger.WarnContext(ctx, "booking lookup failed, treating as no bookings",
			"resource_id", id,
			"error", err,
		)
		result.Failures = append(result.Failures, SourceFailure{
			Source:     string(domain.SourceInternal),
			ResourceID: id,
			Err:        err,
		})
		return result
	}
	result.Intervals = withinWindow(intervals, window)
	return result
}

// ManualBlockSource reads operator-entered blocks and expands recurring ones.
type ManualBlockSource struct {
	store    domain.ManualBlockStore
	expander RecurrenceExpander
	logger   *slog.Logger
}

// NewManualBlockSource creates a manual block source. A nil expander treats
// recurring blocks as their first occurrence only.
func NewManualBlockSource(store domain.ManualBlockStore, expander RecurrenceExpander, logger *slog.Logger) *ManualBlockSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManualBlockSource{store: store, expander: expander, logger: logger}
}

// FetchBusy returns the resource's manual blocks overlapping window.
func (s *ManualBlockSource) FetchBusy(ctx context.Context, id domain.ResourceID, window domain.TimeInterval) FetchResult {
	result := FetchResult{Source: domain.SourceManual}
	blocks, err := s.store.ListBlocks(ctx, id, window.Start, window.End)
	if err != nil {
		s.logger.WarnContext(ctx, "manual block lookup failed, treating as no blocks",
			"resource_id", id,
			"error", err,
		)
		result.Failures = append(result.Failures, SourceFailure{
			Source:     string(domain.SourceManual),
			ResourceID: id,
			Err:        err,
		})
		return result
	}

	for _, block := range blocks {
		if !block.IsRecurring() || s.expander == nil {
			result.Intervals = append(result.Intervals, domain.TimeInterval{Start: block.Start, End: block.End})
			continue
		}
		occurrences, err := s.expander.Occurrences(block, window)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping manual block with unreadable recurrence",
				"resource_id", id,
				"block_id", block.ID,
				"rrule", block.RRule,
				"error", err,
			)
			result.Failures = append(result.Failures, SourceFailure{
				Source:     string(domain.SourceManual),
				ResourceID: id,
				Err:        fmt.Errorf("block %s: %w", block.ID, err),
			})
			continue
		}
		result.Intervals = append(result.Intervals, occurrences...)
	}
	result.Intervals = withinWindow(result.Intervals, window)
	return result
}

// ExternalCalendarSource queries external calendar providers per identity.
type ExternalCalendarSource struct {
	providers map[domain.ProviderType]domain.FreeBusyProvider
	timeout   time.Duration
	logger    *slog.Logger
}

// NewExternalCalendarSource creates a source over the given providers.
func NewExternalCalendarSource(providers map[domain.ProviderType]domain.FreeBusyProvider, logger *slog.Logger) *ExternalCalendarSource {
	if logger == nil {
		logger = slog.Default()
	}
	if providers == nil {
		providers = make(map[domain.ProviderType]domain.FreeBusyProvider)
	}
	return &ExternalCalendarSource{providers: providers, logger: logger}
}

// WithTimeout bounds every provider call. Zero disables the bound.
func (s *ExternalCalendarSource) WithTimeout(d time.Duration) *ExternalCalendarSource {
	s.timeout = d
	return s
}

// Register adds or replaces the provider for a provider type.
func (s *ExternalCalendarSource) Register(provider domain.ProviderType, p domain.FreeBusyProvider) {
	s.providers[provider] = p
}

// Providers returns the registered provider types.
func (s *ExternalCalendarSource) Providers() []domain.ProviderType {
	types := make([]domain.ProviderType, 0, len(s.providers))
	for t := range s.providers {
		types = append(types, t)
	}
	return types
}

// FetchIdentity makes exactly one provider call for identity.
func (s *ExternalCalendarSource) FetchIdentity(ctx context.Context, identity domain.ExternalIdentity, window domain.TimeInterval) FetchResult {
	result := FetchResult{Source: domain.SourceExternal}

	provider, ok := s.providers[identity.Provider]
	if !ok {
		err := fmt.Errorf("no provider registered for %s", identity.Provider)
		s.logger.WarnContext(ctx, "external calendar skipped",
			"provider", identity.Provider,
			"account", identity.Account,
			"error", err,
		)
		result.Failures = append(result.Failures, SourceFailure{
			Source:   string(domain.SourceExternal),
			Identity: identity.Key(),
			Err:      err,
		})
		return result
	}

	callCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	intervals, err := provider.FreeBusy(callCtx, identity, window.Start, window.End)
	if err != nil {
		s.logger.WarnContext(ctx, "external calendar unavailable, treating as free",
			"provider", identity.Provider,
			"account", identity.Account,
			"error", err,
		)
		result.Failures = append(result.Failures, SourceFailure{
			Source:   string(domain.SourceExternal),
			Identity: identity.Key(),
			Err:      err,
		})
		return result
	}
	result.Intervals = withinWindow(intervals, window)
	return result
}

// withinWindow drops empty intervals and those entirely outside window.
func withinWindow(intervals []domain.TimeInterval, window domain.TimeInterval) []domain.TimeInterval {
	out := make([]domain.TimeInterval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.IsEmpty() || !iv.Overlaps(window) {
			continue
		}
		out = append(out, iv)
	}
	return out
}
