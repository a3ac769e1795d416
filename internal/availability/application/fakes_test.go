package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robpanda/panda-crm/internal/availability/domain"
)

type fakeDirectory struct {
	identities map[domain.ResourceID]*domain.ResourceIdentity
	err        error
}

func (d *fakeDirectory) ResolveIdentity(_ context.Context, id domain.ResourceID) (*domain.ResourceIdentity, error) {
	if d.err != nil {
		return nil, d.err
	}
	identity, ok := d.identities[id]
	if !ok {
		return nil, domain.ErrUnknownResource
	}
	return identity, nil
}

type fakeBookings struct {
	byResource map[domain.ResourceID][]domain.TimeInterval
	err        error
}

func (b *fakeBookings) ListBookings(_ context.Context, id domain.ResourceID, _, _ time.Time) ([]domain.TimeInterval, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.byResource[id], nil
}

type fakeBlocks struct {
	byResource map[domain.ResourceID][]domain.ManualBlock
	err        error
}

func (b *fakeBlocks) ListBlocks(_ context.Context, id domain.ResourceID, _, _ time.Time) ([]domain.ManualBlock, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.byResource[id], nil
}

type fakeProvider struct {
	mu       sync.Mutex
	busy     map[string][]domain.TimeInterval
	failures map[string]error
	calls    map[string]int
	block    bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		busy:     make(map[string][]domain.TimeInterval),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (p *fakeProvider) FreeBusy(ctx context.Context, identity domain.ExternalIdentity, _, _ time.Time) ([]domain.TimeInterval, error) {
	p.mu.Lock()
	p.calls[identity.Account]++
	err := p.failures[identity.Account]
	busy := p.busy[identity.Account]
	block := p.block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return busy, nil
}

func (p *fakeProvider) callCount(account string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[account]
}

func (p *fakeProvider) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, n := range p.calls {
		total += n
	}
	return total
}

type fakeExpander struct {
	occurrences []domain.TimeInterval
	err         error
}

func (e *fakeExpander) Occurrences(domain.ManualBlock, domain.TimeInterval) ([]domain.TimeInterval, error) {
	return e.occurrences, e.err
}

type recordedMessage struct {
	routingKey string
	payload    []byte
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []recordedMessage
	err      error
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, recordedMessage{routingKey: routingKey, payload: payload})
	return p.err
}

var errBackend = errors.New("backend unavailable")

func at(day, hour, minute int) time.Time {
	// March 2024: the 4th is a Monday.
	return time.Date(2024, time.March, day, hour, minute, 0, 0, time.UTC)
}

func iv(start, end time.Time) domain.TimeInterval {
	return domain.TimeInterval{Start: start, End: end}
}

func google(account string) domain.ExternalIdentity {
	return domain.ExternalIdentity{Provider: domain.ProviderGoogle, Account: account}
}
