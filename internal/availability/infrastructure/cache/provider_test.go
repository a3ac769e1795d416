package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/internal/availability/domain"
	"github.com/robpanda/panda-crm/pkg/observability"
)

type countingProvider struct {
	calls int
	busy  []domain.TimeInterval
	err   error
}

func (p *countingProvider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, start, end time.Time) ([]domain.TimeInterval, error) {
	p.calls++
	return p.busy, p.err
}

type brokenStore struct{}

func (brokenStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection refused")
}

func (brokenStore) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenStore) Delete(context.Context, ...string) error { return nil }

var (
	crew  = domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: "crew@example.com"}
	start = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	end   = start.Add(24 * time.Hour)
	busy  = []domain.TimeInterval{{Start: start.Add(9 * time.Hour), End: start.Add(10 * time.Hour)}}
)

func TestProvider_ReadThrough(t *testing.T) {
	next := &countingProvider{busy: busy}
	metrics := observability.NewInMemoryMetrics()
	p := NewProvider(next, NewMemoryStore(), nil).WithMetrics(metrics)

	got, err := p.FreeBusy(context.Background(), crew, start, end)
	require.NoError(t, err)
	assert.Equal(t, busy, got)

	got, err = p.FreeBusy(context.Background(), crew, start, end)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.True(t, got[0].Start.Equal(busy[0].Start))
	assert.True(t, got[0].End.Equal(busy[0].End))

	assert.Equal(t, 1, next.calls)
	tag := observability.T("provider", "google")
	assert.Equal(t, int64(1), metrics.GetCounter(metricHit, tag))
	assert.Equal(t, int64(1), metrics.GetCounter(metricMiss, tag))
}

func TestProvider_DifferentWindowsMiss(t *testing.T) {
	next := &countingProvider{busy: busy}
	p := NewProvider(next, NewMemoryStore(), nil)

	_, err := p.FreeBusy(context.Background(), crew, start, end)
	require.NoError(t, err)
	_, err = p.FreeBusy(context.Background(), crew, start, end.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestProvider_ErrorsAreNotCached(t *testing.T) {
	next := &countingProvider{err: errors.New("upstream down")}
	p := NewProvider(next, NewMemoryStore(), nil)

	_, err := p.FreeBusy(context.Background(), crew, start, end)
	require.Error(t, err)
	_, err = p.FreeBusy(context.Background(), crew, start, end)
	require.Error(t, err)
	assert.Equal(t, 2, next.calls)
}

func TestProvider_BrokenStoreFallsThrough(t *testing.T) {
	next := &countingProvider{busy: busy}
	p := NewProvider(next, brokenStore{}, nil)

	got, err := p.FreeBusy(context.Background(), crew, start, end)
	require.NoError(t, err)
	assert.Equal(t, busy, got)
}

func TestProvider_CorruptEntryIsRefetched(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), Key(crew, start, end), []byte("{not json"), time.Minute))

	next := &countingProvider{busy: busy}
	got, err := NewProvider(next, store, nil).FreeBusy(context.Background(), crew, start, end)
	require.NoError(t, err)
	assert.Equal(t, busy, got)
	assert.Equal(t, 1, next.calls)
}

func TestMemoryStore_Expiry(t *testing.T) {
	store := NewMemoryStore()
	now := start
	store.now = func() time.Time { return now }

	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), time.Minute))
	v, err := store.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)

	now = now.Add(time.Minute)
	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(context.Background(), "k", []byte("v"), 0))
	require.NoError(t, store.Delete(context.Background(), "k"))
	_, err = store.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestKey(t *testing.T) {
	upper := domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: " Crew@Example.com "}
	assert.Equal(t, Key(crew, start, end), Key(upper, start, end))
	assert.Contains(t, Key(crew, start, end), KeyPrefix+"google:crew@example.com:")
}

func TestKey_SubSecondWindowsDoNotCollide(t *testing.T) {
	shifted := start.Add(500 * time.Millisecond)
	assert.NotEqual(t, Key(crew, start, end), Key(crew, shifted, end))
	assert.NotEqual(t, Key(crew, start, end), Key(crew, start, end.Add(500*time.Millisecond)))
	assert.Equal(t, Key(crew, start, end), Key(crew, start.Add(100*time.Microsecond), end))
}

func TestKey_FeedURLKeepsCase(t *testing.T) {
	a := domain.ExternalIdentity{Provider: domain.ProviderICS, Account: "https://cal.example.com/Crew-A.ics"}
	b := domain.ExternalIdentity{Provider: domain.ProviderICS, Account: "https://cal.example.com/crew-a.ics"}
	assert.NotEqual(t, Key(a, start, end), Key(b, start, end))
}
