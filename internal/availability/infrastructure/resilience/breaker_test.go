package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/pkg/observability"
)

type flakyProvider struct {
	calls int
	err   error
}

func (p *flakyProvider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return []domain.TimeInterval{{Start: start, End: start.Add(time.Hour)}}, nil
}

var (
	alice = domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: "alice@example.com"}
	bob   = domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: "bob@example.com"}
	start = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

func TestProvider_TripsPerIdentity(t *testing.T) {
	next := &flakyProvider{err: errors.New("503")}
	metrics := observability.NewInMemoryMetrics()
	p := NewProvider(next, BreakerConfig{Timeout: time.Hour, FailureThreshold: 3}, nil).WithMetrics(metrics)

	for i := 0; i < 3; i++ {
		_, err := p.FreeBusy(context.Background(), alice, start, start.Add(time.Hour))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}
	assert.Equal(t, gobreaker.StateOpen, p.State(alice))

	_, err := p.FreeBusy(context.Background(), alice, start, start.Add(time.Hour))
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, 3, next.calls)
	assert.Equal(t, int64(1), metrics.GetCounter(metricStateChange, observability.T("to", "open")))

	next.err = nil
	busy, err := p.FreeBusy(context.Background(), bob, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, busy, 1)
	assert.Equal(t, gobreaker.StateClosed, p.State(bob))
}

func TestProvider_CancellationDoesNotTrip(t *testing.T) {
	next := &flakyProvider{err: context.Canceled}
	p := NewProvider(next, BreakerConfig{Timeout: time.Hour, FailureThreshold: 1}, nil)

	for i := 0; i < 3; i++ {
		_, err := p.FreeBusy(context.Background(), alice, start, start.Add(time.Hour))
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, p.State(alice))
	assert.Equal(t, 3, next.calls)
}

func TestProvider_RecoversAfterTimeout(t *testing.T) {
	next := &flakyProvider{err: errors.New("down")}
	p := NewProvider(next, BreakerConfig{MaxRequests: 1, Timeout: 10 * time.Millisecond, FailureThreshold: 1}, nil)

	_, err := p.FreeBusy(context.Background(), alice, start, start.Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, gobreaker.StateOpen, p.State(alice))

	time.Sleep(20 * time.Millisecond)
	next.err = nil
	_, err = p.FreeBusy(context.Background(), alice, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, p.State(alice))
}

func TestNewProvider_DefaultsThreshold(t *testing.T) {
	p := NewProvider(&flakyProvider{}, BreakerConfig{}, nil)
	assert.Equal(t, DefaultBreakerConfig().FailureThreshold, p.config.FailureThreshold)
}
