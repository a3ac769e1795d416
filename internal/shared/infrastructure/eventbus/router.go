package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/robpanda/panda-crm/pkg/observability"
)

// DefaultDedupWindow is how many delivered envelope IDs a Router remembers.
const DefaultDedupWindow = 1024

// Router fans envelopes out to the handlers whose topics match. It drops an
// envelope whose ID it already delivered successfully, since the outbox
// relay publishes at least once.
type Router struct {
	logger *slog.Logger

	mu       sync.RWMutex
	handlers []route

	seenMu sync.Mutex
	seen   map[string]struct{}
	ring   []string
	next   int
}

type route struct {
	topic   string
	handler Handler
}

// NewRouter creates a router remembering the last window delivered IDs.
// window <= 0 means DefaultDedupWindow.
func NewRouter(window int, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Router{
		logger: logger,
		seen:   make(map[string]struct{}, window),
		ring:   make([]string, window),
	}
}

// Subscribe adds h under each of its topics.
func (r *Router) Subscribe(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, topic := range h.Topics() {
		r.handlers = append(r.handlers, route{topic: topic, handler: h})
		r.logger.Debug("handler subscribed", "topic", topic)
	}
}

// Topics returns the distinct subscribed topics in subscription order.
func (r *Router) Topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var topics []string
	for _, rt := range r.handlers {
		if !slices.Contains(topics, rt.topic) {
			topics = append(topics, rt.topic)
		}
	}
	return topics
}

// Match returns the handlers for routingKey, each at most once.
func (r *Router) Match(routingKey string) []Handler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Handler
	for _, rt := range r.handlers {
		if MatchTopic(rt.topic, routingKey) && !slices.Contains(out, rt.handler) {
			out = append(out, rt.handler)
		}
	}
	return out
}

// Route delivers env to every matching handler, all of them even when one
// fails, and joins their errors. The envelope's correlation ID is put on
// the handler context.
func (r *Router) Route(ctx context.Context, env Envelope) error {
	if r.delivered(env.ID) {
		r.logger.Debug("duplicate envelope dropped", "id", env.ID, "routing_key", env.RoutingKey)
		return nil
	}
	handlers := r.Match(env.RoutingKey)
	if len(handlers) == 0 {
		r.logger.Debug("no handlers for routing key", "routing_key", env.RoutingKey)
		return nil
	}
	if env.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, env.CorrelationID)
	}

	var errs []error
	for _, h := range handlers {
		if err := h.Handle(ctx, env); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", h, err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	r.remember(env.ID)
	return nil
}

func (r *Router) delivered(id string) bool {
	if id == "" {
		return false
	}
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	_, ok := r.seen[id]
	return ok
}

func (r *Router) remember(id string) {
	if id == "" {
		return
	}
	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if _, ok := r.seen[id]; ok {
		return
	}
	if old := r.ring[r.next]; old != "" {
		delete(r.seen, old)
	}
	r.ring[r.next] = id
	r.seen[id] = struct{}{}
	r.next = (r.next + 1) % len(r.ring)
}

// MatchTopic reports whether routingKey matches an AMQP topic pattern.
func MatchTopic(pattern, routingKey string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	switch pattern[0] {
	case "#":
		for skip := 0; skip <= len(key); skip++ {
			if matchWords(pattern[1:], key[skip:]) {
				return true
			}
		}
		return false
	case "*":
		return len(key) > 0 && matchWords(pattern[1:], key[1:])
	default:
		return len(key) > 0 && key[0] == pattern[0] && matchWords(pattern[1:], key[1:])
	}
}
