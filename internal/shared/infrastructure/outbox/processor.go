package outbox

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/robpanda/panda-crm/internal/shared/infrastructure/eventbus"
	"github.com/robpanda/panda-crm/pkg/observability"
)

// Metric names recorded by the relay.
const (
	MetricPublished  = "outbox.published"
	MetricRetried    = "outbox.retried"
	MetricBuried     = "outbox.dead_lettered"
	MetricLag        = "outbox.lag_seconds"
	MetricPublishDur = "outbox.publish"
)

// Config tunes the relay.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxAttempts is the number of publish attempts before a message is
	// buried. Values below one mean a single attempt.
	MaxAttempts int
	BackoffBase time.Duration
	BackoffMax  time.Duration
	// Retention is how long published messages are kept. Zero keeps them.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		PollInterval: time.Second,
		BatchSize:    100,
		MaxAttempts:  5,
		BackoffBase:  time.Second,
		BackoffMax:   time.Minute,
		Retention:    7 * 24 * time.Hour,
	}
}

// Stats is a snapshot of relay activity since the processor was created.
type Stats struct {
	Running       bool
	Published     uint64
	Retried       uint64
	Buried        uint64
	Lag           time.Duration
	LastPoll      time.Time
	LastFailure   string
	LastFailureAt time.Time
}

// Processor relays due outbox messages to a Publisher. Delivery is at least
// once: a crash between publish and MarkPublished sends the message again
// with the same envelope ID.
type Processor struct {
	store   Store
	pub     eventbus.Publisher
	cfg     Config
	logger  *slog.Logger
	metrics observability.Metrics
	now     func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	statsMu sync.Mutex
	stats   Stats
}

func NewProcessor(store Store, pub eventbus.Publisher, cfg Config, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &Processor{
		store:   store,
		pub:     pub,
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NoopMetrics{},
		now:     time.Now,
	}
}

// WithMetrics records relay outcomes on m.
func (p *Processor) WithMetrics(m observability.Metrics) *Processor {
	if m != nil {
		p.metrics = m
	}
	return p
}

// Start relays in the background until Stop or ctx is cancelled. A second
// Start while running is a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(runCtx, p.done)

	p.logger.Info("outbox relay started",
		"poll_interval", p.cfg.PollInterval,
		"batch_size", p.cfg.BatchSize,
		"max_attempts", p.cfg.MaxAttempts,
	)
	return nil
}

// Stop cancels the loop and waits for the in-flight batch.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	p.logger.Info("outbox relay stopped")
}

func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Processor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		p.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// drain relays full batches back to back so a backlog clears faster than
// one batch per tick. It stops early when a batch settled nothing, since
// the same messages would come straight back.
func (p *Processor) drain(ctx context.Context) {
	for ctx.Err() == nil {
		n, settled, err := p.relay(ctx)
		if err != nil {
			p.logger.Error("outbox poll failed", "error", err)
			return
		}
		if n < p.cfg.BatchSize || settled == 0 {
			return
		}
	}
}

// ProcessOnce relays a single batch.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	_, _, err := p.relay(ctx)
	return err
}

// relay sends one batch and reports how many messages were due and how many
// of those had their outcome recorded in the store.
func (p *Processor) relay(ctx context.Context) (int, int, error) {
	now := p.now()
	due, err := p.store.Due(ctx, now, p.cfg.BatchSize)
	if err != nil {
		p.noteFailure(err.Error())
		return 0, 0, err
	}
	p.notePoll(now, due)

	settled := 0
	for _, msg := range due {
		if ctx.Err() != nil {
			break
		}
		if p.send(ctx, msg) {
			settled++
		}
	}
	return len(due), settled, nil
}

// send publishes msg and records the outcome. It returns false when the
// store could not be updated, leaving msg due again.
func (p *Processor) send(ctx context.Context, msg *Message) bool {
	start := time.Now()
	err := p.pub.Publish(ctx, msg.Envelope())
	p.metrics.Timing(MetricPublishDur, time.Since(start))

	if err == nil {
		if markErr := p.store.MarkPublished(ctx, msg.ID, p.now()); markErr != nil {
			p.logger.Error("published message not marked", "id", msg.ID, "error", markErr)
			return false
		}
		p.metrics.Counter(MetricPublished, 1)
		p.bump(func(s *Stats) { s.Published++ })
		return true
	}

	attempt := msg.Attempts + 1
	cause := err.Error()
	p.noteFailure(cause)
	log := p.logger.With("id", msg.ID, "routing_key", msg.RoutingKey, "attempt", attempt, "error", err)

	if attempt >= p.cfg.MaxAttempts {
		log.Warn("outbox message dead-lettered")
		if markErr := p.store.Bury(ctx, msg.ID, cause, p.now()); markErr != nil {
			log.Error("dead letter not recorded", "mark_error", markErr)
			return false
		}
		p.metrics.Counter(MetricBuried, 1)
		p.bump(func(s *Stats) { s.Buried++ })
		return true
	}

	next := p.now().Add(p.retryDelay(attempt))
	log.Warn("outbox publish failed, will retry", "next_attempt_at", next)
	if markErr := p.store.Reschedule(ctx, msg.ID, cause, next); markErr != nil {
		log.Error("retry not recorded", "mark_error", markErr)
		return false
	}
	p.metrics.Counter(MetricRetried, 1)
	p.bump(func(s *Stats) { s.Retried++ })
	return true
}

// retryDelay is the jittered exponential delay before attempt+1.
func (p *Processor) retryDelay(attempt int) time.Duration {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.cfg.BackoffBase,
		RandomizationFactor: 0.2,
		Multiplier:          2,
		MaxInterval:         p.cfg.BackoffMax,
	}
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Cleanup purges published messages older than the retention period.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	if p.cfg.Retention <= 0 {
		return 0, nil
	}
	n, err := p.store.Purge(ctx, p.now().Add(-p.cfg.Retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("outbox purged", "deleted", n)
	}
	return n, nil
}

func (p *Processor) Stats() Stats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()
	s.Running = p.IsRunning()
	return s
}

func (p *Processor) bump(f func(*Stats)) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	f(&p.stats)
}

func (p *Processor) noteFailure(cause string) {
	at := p.now()
	p.bump(func(s *Stats) {
		s.LastFailure = cause
		s.LastFailureAt = at
	})
}

// notePoll records the age of the oldest due message as the relay lag.
func (p *Processor) notePoll(now time.Time, due []*Message) {
	var lag time.Duration
	if len(due) > 0 {
		lag = now.Sub(due[0].CreatedAt)
	}
	p.bump(func(s *Stats) {
		s.LastPoll = now
		s.Lag = lag
	})
	p.metrics.Gauge(MetricLag, lag.Seconds())
}
