// Package resilience guards calendar providers with per-identity circuit
// breakers so one failing calendar cannot slow down every query.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// ErrCircuitOpen is returned while an identity's breaker is open.
var ErrCircuitOpen = errors.New("calendar provider circuit open")

const metricStateChange = "availability.breaker.state_change"

// BreakerConfig configures the breakers.
type BreakerConfig struct {
	// MaxRequests allowed through while half-open.
	MaxRequests uint32
	// Interval clears the closed-state counts; zero never clears.
	Interval time.Duration
	// Timeout is how long a breaker stays open.
	Timeout time.Duration
	// FailureThreshold is the consecutive failure count that trips.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:      1,
		Interval:         0,
		Timeout:          time.Minute,
		FailureThreshold: 5,
	}
}

// Provider wraps a FreeBusyProvider with one breaker per identity key.
type Provider struct {
	next    domain.FreeBusyProvider
	config  BreakerConfig
	logger  *slog.Logger
	metrics observability.Metrics

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[[]domain.TimeInterval]
}

// NewProvider decorates next with circuit breakers.
func NewProvider(next domain.FreeBusyProvider, config BreakerConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	if config.FailureThreshold == 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	return &Provider{
		next:     next,
		config:   config,
		logger:   logger,
		metrics:  observability.NoopMetrics{},
		breakers: make(map[string]*gobreaker.CircuitBreaker[[]domain.TimeInterval]),
	}
}

// WithMetrics records breaker state changes.
func (p *Provider) WithMetrics(m observability.Metrics) *Provider {
	if m != nil {
		p.metrics = m
	}
	return p
}

func (p *Provider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	breaker := p.breaker(identity.Key())
	busy, err := breaker.Execute(func() ([]domain.TimeInterval, error) {
		return p.next.FreeBusy(ctx, identity, start, end)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrCircuitOpen
	}
	return busy, err
}

// State reports the breaker state for an identity.
func (p *Provider) State(identity domain.ExternalIdentity) gobreaker.State {
	return p.breaker(identity.Key()).State()
}

func (p *Provider) breaker(key string) *gobreaker.CircuitBreaker[[]domain.TimeInterval] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.breakers[key]; ok {
		return b
	}

	settings := gobreaker.Settings{
		Name:        key,
		MaxRequests: p.config.MaxRequests,
		Interval:    p.config.Interval,
		Timeout:     p.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.config.FailureThreshold
		},
		// A caller giving up says nothing about the calendar's health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Info("circuit breaker state changed",
				"identity", name,
				"from", from.String(),
				"to", to.String(),
			)
			p.metrics.Counter(metricStateChange, 1, observability.T("to", to.String()))
		},
	}
	b := gobreaker.NewCircuitBreaker[[]domain.TimeInterval](settings)
	p.breakers[key] = b
	return b
}
