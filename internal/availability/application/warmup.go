package application

import (
	"context"
	"log/slog"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

// DefaultWarmupBatch is how many resources are resolved per batch query.
const DefaultWarmupBatch = 50

// ResourceLister lists every known resource.
type ResourceLister interface {
	ListResources(ctx context.Context) ([]domain.ResourceIdentity, error)
}

// WarmupReport summarises one warmup run.
type WarmupReport struct {
	Resources int
	Batches   int
	Failures  int
	Window    domain.TimeInterval
	Duration  time.Duration
}

// Warmer pre-fetches external busy data for every synced resource so that
// interactive queries hit a warm free/busy cache.
type Warmer struct {
	resources ResourceLister
	resolver  *Resolver
	window    time.Duration
	batch     int
	logger    *slog.Logger
	now       func() time.Time
}

// NewWarmer creates a warmer covering [now, now+window).
func NewWarmer(resources ResourceLister, resolver *Resolver, window time.Duration, logger *slog.Logger) *Warmer {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = 14 * 24 * time.Hour
	}
	return &Warmer{
		resources: resources,
		resolver:  resolver,
		window:    window,
		batch:     DefaultWarmupBatch,
		logger:    logger,
		now:       time.Now,
	}
}

// WithBatchSize sets how many resources share one batch query.
func (w *Warmer) WithBatchSize(n int) *Warmer {
	if n > 0 {
		w.batch = n
	}
	return w
}

// Run resolves busy periods for every sync-enabled resource with at least
// one calendar. Source failures are counted, not returned; only listing
// resources or cancellation fails the run.
func (w *Warmer) Run(ctx context.Context) (WarmupReport, error) {
	started := w.now()
	// Truncating keeps the window, and so the cache key, stable between runs.
	start := started.Truncate(time.Hour)
	report := WarmupReport{Window: domain.TimeInterval{Start: start, End: start.Add(w.window)}}

	all, err := w.resources.ListResources(ctx)
	if err != nil {
		return report, err
	}
	ids := make([]domain.ResourceID, 0, len(all))
	for _, r := range all {
		if len(r.ExternalIdentities()) > 0 {
			ids = append(ids, r.ResourceID)
		}
	}
	report.Resources = len(ids)

	for lo := 0; lo < len(ids); lo += w.batch {
		hi := min(lo+w.batch, len(ids))
		result, err := w.resolver.BatchBusyPeriods(ctx, ids[lo:hi], report.Window.Start, report.Window.End)
		if err != nil {
			return report, err
		}
		report.Batches++
		report.Failures += len(result.Degraded)
	}

	report.Duration = w.now().Sub(started)
	w.logger.Info("availability warmup finished",
		"resources", report.Resources,
		"batches", report.Batches,
		"failures", report.Failures,
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}
