package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// DefaultTTL is how long a free/busy answer is reused.
const DefaultTTL = 5 * time.Minute

const (
	metricHit  = "availability.cache.hit"
	metricMiss = "availability.cache.miss"
)

type cachedInterval struct {
	Start time.Time `json:"s"`
	End   time.Time `json:"e"`
}

// Provider wraps a FreeBusyProvider with a read-through cache. Cache
// failures never fail a lookup; they only cost a remote call.
type Provider struct {
	next    domain.FreeBusyProvider
	store   Store
	ttl     time.Duration
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewProvider decorates next with store.
func NewProvider(next domain.FreeBusyProvider, store Store, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		next:    next,
		store:   store,
		ttl:     DefaultTTL,
		logger:  logger,
		metrics: observability.NoopMetrics{},
	}
}

// WithTTL sets the entry lifetime.
func (p *Provider) WithTTL(ttl time.Duration) *Provider {
	if ttl > 0 {
		p.ttl = ttl
	}
	return p
}

// WithMetrics records hit and miss counters.
func (p *Provider) WithMetrics(m observability.Metrics) *Provider {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Key returns the cache key for one identity and window.
func Key(identity domain.ExternalIdentity, start, end time.Time) string {
	return fmt.Sprintf("%s%s:%d:%d", KeyPrefix, identity.Key(), start.UnixMilli(), end.UnixMilli())
}

func (p *Provider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	key := Key(identity, start, end)
	tags := []observability.Tag{observability.T("provider", identity.Provider.String())}

	raw, err := p.store.Get(ctx, key)
	switch {
	case err == nil:
		busy, derr := decode(raw)
		if derr == nil {
			p.metrics.Counter(metricHit, 1, tags...)
			return busy, nil
		}
		p.logger.Warn("cache entry unreadable", "key", key, "error", derr)
	case !errors.Is(err, ErrMiss):
		p.logger.Warn("cache read failed", "key", key, "error", err)
	}
	p.metrics.Counter(metricMiss, 1, tags...)

	busy, err := p.next.FreeBusy(ctx, identity, start, end)
	if err != nil {
		return nil, err
	}
	if raw, err := encode(busy); err == nil {
		if err := p.store.Set(ctx, key, raw, p.ttl); err != nil {
			p.logger.Warn("cache write failed", "key", key, "error", err)
		}
	}
	return busy, nil
}

func encode(busy []domain.TimeInterval) ([]byte, error) {
	out := make([]cachedInterval, len(busy))
	for i, iv := range busy {
		out[i] = cachedInterval{Start: iv.Start, End: iv.End}
	}
	return json.Marshal(out)
}

func decode(raw []byte) ([]domain.TimeInterval, error) {
	var in []cachedInterval
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, err
	}
	out := make([]domain.TimeInterval, len(in))
	for i, c := range in {
		out[i] = domain.TimeInterval{Start: c.Start, End: c.End}
	}
	return out, nil
}
