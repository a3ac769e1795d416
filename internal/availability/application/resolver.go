package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/pkg/observability"
	"golang.org/x/sync/errgroup"
)

// Metric names recorded by the resolver.
const (
	MetricSourceFailures = "availability.source_failures"
	MetricExternalFetch  = "availability.external_fetches"
	MetricQueryDuration  = "availability.query"
)

// DefaultConcurrency bounds concurrent source calls per query.
const DefaultConcurrency = 8

// SlotCheck is the answer to IsSlotFree.
type SlotCheck struct {
	Free bool
	// Conflicts are merged busy periods overlapping the slot.
	Conflicts []domain.BusyPeriod
	Degraded  []SourceFailure
}

// FreeSlots is the answer to ListFreeSlots.
type FreeSlots struct {
	Slots    []domain.CandidateSlot
	Busy     []domain.BusyPeriod
	Degraded []SourceFailure
}

// BusyView is the merged busy picture for a single resource.
type BusyView struct {
	Periods  []domain.BusyPeriod
	Degraded []SourceFailure
}

// BatchResult maps every requested resource to its merged busy periods.
type BatchResult struct {
	Periods  map[domain.ResourceID][]domain.BusyPeriod
	Degraded []SourceFailure
}

// Resolver answers availability questions by reconciling bookings, manual
// blocks and external calendars. It keeps no state between calls.
type Resolver struct {
	directory   domain.ResourceDirectory
	local       []ResourceSource
	external    IdentitySource
	generator   *domain.SlotGenerator
	metrics     observability.Metrics
	publisher   EventPublisher
	logger      *slog.Logger
	concurrency int
	now         func() time.Time
}

// NewResolver creates a resolver. external may be nil when no calendar
// providers are configured. local sources are queried per resource.
func NewResolver(
	directory domain.ResourceDirectory,
	external IdentitySource,
	generator *domain.SlotGenerator,
	logger *slog.Logger,
	local ...ResourceSource,
) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if generator == nil {
		generator = domain.NewSlotGenerator()
	}
	return &Resolver{
		directory:   directory,
		local:       local,
		external:    external,
		generator:   generator,
		metrics:     observability.NoopMetrics{},
		logger:      logger,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
}

// WithMetrics sets the metrics sink.
func (r *Resolver) WithMetrics(m observability.Metrics) *Resolver {
	if m != nil {
		r.metrics = m
	}
	return r
}

// WithPublisher enables degradation events.
func (r *Resolver) WithPublisher(p EventPublisher) *Resolver {
	r.publisher = p
	return r
}

// WithConcurrency bounds concurrent source calls. Values below one are ignored.
func (r *Resolver) WithConcurrency(n int) *Resolver {
	if n > 0 {
		r.concurrency = n
	}
	return r
}

// Generator returns the slot generator used for appointment slots.
func (r *Resolver) Generator() *domain.SlotGenerator {
	return r.generator
}

// IsSlotFree reports whether [slotStart, slotEnd) is free for the resource.
// Busy data is fetched for the slot only.
func (r *Resolver) IsSlotFree(ctx context.Context, id domain.ResourceID, slotStart, slotEnd time.Time) (*SlotCheck, error) {
	ctx, done := r.begin(ctx, "is_slot_free")
	defer done()

	slot, err := window(slotStart, slotEnd)
	if err != nil {
		return nil, err
	}

	view, err := r.resourceBusy(ctx, id, slot)
	if err != nil {
		return nil, err
	}
	r.reportDegraded(ctx, []domain.ResourceID{id}, slot, view.Degraded)

	conflicts := domain.ConflictsWith(view.Periods, slot)
	return &SlotCheck{
		Free:      len(conflicts) == 0,
		Conflicts: conflicts,
		Degraded:  view.Degraded,
	}, nil
}

// ListFreeSlots returns fixed-duration working-hours slots in the window that
// overlap no busy period, in chronological order.
func (r *Resolver) ListFreeSlots(ctx context.Context, id domain.ResourceID, windowStart, windowEnd time.Time, slotDuration time.Duration) (*FreeSlots, error) {
	return r.FirstFreeSlots(ctx, id, windowStart, windowEnd, slotDuration, 0)
}

// FirstFreeSlots is ListFreeSlots that stops generating once limit free
// slots are found. A limit of zero or less means no limit.
func (r *Resolver) FirstFreeSlots(ctx context.Context, id domain.ResourceID, windowStart, windowEnd time.Time, slotDuration time.Duration, limit int) (*FreeSlots, error) {
	ctx, done := r.begin(ctx, "list_free_slots")
	defer done()

	w, err := window(windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	if slotDuration <= 0 {
		return nil, domain.ErrInvalidSlotDuration
	}

	view, err := r.resourceBusy(ctx, id, w)
	if err != nil {
		return nil, err
	}
	r.reportDegraded(ctx, []domain.ResourceID{id}, w, view.Degraded)

	// Busy periods are merged and sorted, and slots arrive in order, so a
	// single cursor over busy is enough.
	free := make([]domain.CandidateSlot, 0)
	busy := view.Periods
	j := 0
	for slot := range r.generator.AppointmentSlots(w.Start, w.End, slotDuration) {
		for j < len(busy) && !busy[j].End.After(slot.Start) {
			j++
		}
		if j < len(busy) && busy[j].Start.Before(slot.End) {
			continue
		}
		free = append(free, slot)
		if limit > 0 && len(free) == limit {
			break
		}
	}

	return &FreeSlots{Slots: free, Busy: busy, Degraded: view.Degraded}, nil
}

// BusyPeriods returns the merged busy periods for one resource.
func (r *Resolver) BusyPeriods(ctx context.Context, id domain.ResourceID, windowStart, windowEnd time.Time) (*BusyView, error) {
	ctx, done := r.begin(ctx, "busy_periods")
	defer done()

	w, err := window(windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	view, err := r.resourceBusy(ctx, id, w)
	if err != nil {
		return nil, err
	}
	r.reportDegraded(ctx, []domain.ResourceID{id}, w, view.Degraded)
	return view, nil
}

// BatchBusyPeriods returns merged busy periods for many resources. External
// calendars are fetched once per distinct identity, however many resources
// share it. Every requested ID is present in the result.
func (r *Resolver) BatchBusyPeriods(ctx context.Context, ids []domain.ResourceID, windowStart, windowEnd time.Time) (*BatchResult, error) {
	ctx, done := r.begin(ctx, "batch_busy_periods")
	defer done()

	w, err := window(windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	unique := make([]domain.ResourceID, 0, len(ids))
	seen := make(map[domain.ResourceID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	result := &BatchResult{Periods: make(map[domain.ResourceID][]domain.BusyPeriod, len(unique))}
	for _, id := range unique {
		result.Periods[id] = []domain.BusyPeriod{}
	}
	if len(unique) == 0 {
		return result, nil
	}

	// Resolve identities.
	identities := make([]*domain.ResourceIdentity, len(unique))
	lookupFailures := make([][]SourceFailure, len(unique))
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range unique {
		g.Go(func() error {
			identity, failure, err := r.resolve(ctx, id)
			if err != nil {
				r.logger.WarnContext(ctx, "resource not found, returning no busy periods",
					"resource_id", id,
					"error", err,
				)
				failure = &SourceFailure{Source: FailureSourceDirectory, ResourceID: id, Err: err}
				identity = nil
			}
			if failure != nil {
				lookupFailures[i] = append(lookupFailures[i], *failure)
			}
			identities[i] = identity
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Group by distinct external identity.
	var keys []string
	distinct := make(map[string]domain.ExternalIdentity)
	if r.external != nil {
		for _, identity := range identities {
			if identity == nil {
				continue
			}
			for _, ext := range identity.ExternalIdentities() {
				if _, ok := distinct[ext.Key()]; !ok {
					keys = append(keys, ext.Key())
					distinct[ext.Key()] = ext
				}
			}
		}
	}

	externalResults := make([]FetchResult, len(keys))
	local := make([][]FetchResult, len(unique))
	g = errgroup.Group{}
	g.SetLimit(r.concurrency)
	for n, key := range keys {
		g.Go(func() error {
			externalResults[n] = r.fetchExternal(ctx, distinct[key], w)
			return nil
		})
	}
	for i, identity := range identities {
		if identity == nil {
			continue
		}
		local[i] = make([]FetchResult, len(r.local))
		for k, src := range r.local {
			g.Go(func() error {
				local[i][k] = src.FetchBusy(ctx, identity.ResourceID, w)
				return nil
			})
		}
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	external := make(map[string]FetchResult, len(keys))
	for n, key := range keys {
		external[key] = externalResults[n]
		result.Degraded = append(result.Degraded, externalResults[n].Failures...)
	}

	for i, id := range unique {
		result.Degraded = append(result.Degraded, lookupFailures[i]...)
		identity := identities[i]
		if identity == nil {
			continue
		}

		periods := make([]domain.BusyPeriod, 0)
		for _, res := range local[i] {
			periods = append(periods, res.Periods()...)
			result.Degraded = append(result.Degraded, res.Failures...)
		}
		for _, ext := range identity.ExternalIdentities() {
			// Periods allocates a fresh slice, so resources sharing an
			// identity never alias each other's results.
			periods = append(periods, external[ext.Key()].Periods()...)
		}
		result.Periods[id] = domain.MergeBusyPeriods(periods)
	}

	r.reportDegraded(ctx, unique, w, result.Degraded)
	return result, nil
}

// MergeBusyPeriods merges two sets of busy periods.
func (r *Resolver) MergeBusyPeriods(a, b []domain.BusyPeriod) []domain.BusyPeriod {
	return domain.CombineBusyPeriods(a, b)
}

// ParseDateRange resolves a preset. A zero opts.Now uses the resolver's clock.
func (r *Resolver) ParseDateRange(key string, opts domain.DateRangeOptions) (domain.DateRange, error) {
	if opts.Now.IsZero() {
		opts.Now = r.now()
	}
	return domain.ParseDateRange(key, opts)
}

// resourceBusy gathers and merges every source for a single resource.
func (r *Resolver) resourceBusy(ctx context.Context, id domain.ResourceID, w domain.TimeInterval) (*BusyView, error) {
	identity, failure, err := r.resolve(ctx, id)
	if err != nil {
		return nil, err
	}

	externals := identity.ExternalIdentities()
	if r.external == nil {
		externals = nil
	}
	results := make([]FetchResult, len(r.local)+len(externals))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for k, src := range r.local {
		g.Go(func() error {
			results[k] = src.FetchBusy(ctx, id, w)
			return nil
		})
	}
	for k, ext := range externals {
		g.Go(func() error {
			res := r.fetchExternal(ctx, ext, w)
			for n := range res.Failures {
				res.Failures[n].ResourceID = id
			}
			results[len(r.local)+k] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	view := &BusyView{}
	if failure != nil {
		view.Degraded = append(view.Degraded, *failure)
	}
	periods := make([]domain.BusyPeriod, 0)
	for _, res := range results {
		periods = append(periods, res.Periods()...)
		view.Degraded = append(view.Degraded, res.Failures...)
	}
	view.Periods = domain.MergeBusyPeriods(periods)
	return view, nil
}

// resolve looks up a resource identity. Unknown resources are an error;
// any other directory failure degrades to "no external calendars".
func (r *Resolver) resolve(ctx context.Context, id domain.ResourceID) (*domain.ResourceIdentity, *SourceFailure, error) {
	identity, err := r.directory.ResolveIdentity(ctx, id)
	switch {
	case errors.Is(err, domain.ErrUnknownResource):
		return nil, nil, fmt.Errorf("resource %s: %w", id, domain.ErrUnknownResource)
	case err != nil:
		r.logger.WarnContext(ctx, "resource directory unavailable, skipping external calendars",
			"resource_id", id,
			"error", err,
		)
		return &domain.ResourceIdentity{ResourceID: id},
			&SourceFailure{Source: FailureSourceDirectory, ResourceID: id, Err: err},
			nil
	case identity == nil:
		return nil, nil, fmt.Errorf("resource %s: %w", id, domain.ErrUnknownResource)
	}
	return identity, nil, nil
}

func (r *Resolver) fetchExternal(ctx context.Context, ext domain.ExternalIdentity, w domain.TimeInterval) FetchResult {
	r.metrics.Counter(MetricExternalFetch, 1, observability.T("provider", string(ext.Provider)))
	return r.external.FetchIdentity(ctx, ext, w)
}

func (r *Resolver) reportDegraded(ctx context.Context, ids []domain.ResourceID, w domain.TimeInterval, failures []SourceFailure) {
	if len(failures) == 0 {
		return
	}
	for _, f := range failures {
		r.metrics.Counter(MetricSourceFailures, 1, observability.T("source", f.Source))
	}
	if r.publisher == nil {
		return
	}

	op := observability.OperationFromContext(ctx)
	payload, err := newSourceDegradedEvent(op, ids, w, failures, r.now()).marshal()
	if err != nil {
		r.logger.WarnContext(ctx, "failed to encode degradation event", "error", err)
		return
	}
	if err := r.publisher.Publish(ctx, RoutingKeySourceDegraded, payload); err != nil {
		r.logger.WarnContext(ctx, "failed to publish degradation event", "error", err)
	}
}

// begin tags ctx with the operation for logging and returns a func that
// records its duration.
func (r *Resolver) begin(ctx context.Context, op string) (context.Context, func()) {
	ctx = observability.WithOperation(ctx, op)
	start := time.Now()
	return ctx, func() {
		r.metrics.Timing(MetricQueryDuration, time.Since(start), observability.T("operation", op))
	}
}

func window(start, end time.Time) (domain.TimeInterval, error) {
	w, err := domain.NewTimeInterval(start, end)
	if err != nil {
		return domain.TimeInterval{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidWindow, start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return w, nil
}
