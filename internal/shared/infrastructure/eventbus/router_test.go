package eventbus

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robpanda/panda-crm/pkg/observability"
)

type recordingHandler struct {
	topics  []string
	err     error
	got     []Envelope
	corrIDs []string
}

func (h *recordingHandler) Topics() []string { return h.topics }

func (h *recordingHandler) Handle(ctx context.Context, env Envelope) error {
	h.got = append(h.got, env)
	h.corrIDs = append(h.corrIDs, observability.CorrelationIDFromContext(ctx))
	return h.err
}

func TestMatchTopic(t *testing.T) {
	tests := []struct {
		pattern string
		key     string
		want    bool
	}{
		{"availability.source.degraded", "availability.source.degraded", true},
		{"availability.source.degraded", "availability.source.restored", false},
		{"availability.*.degraded", "availability.source.degraded", true},
		{"availability.*", "availability.source.degraded", false},
		{"availability.#", "availability.source.degraded", true},
		{"availability.#", "availability", true},
		{"#", "anything.at.all", true},
		{"#.degraded", "availability.source.degraded", true},
		{"*.source.#", "availability.source", true},
		{"*", "", true},
		{"calendar.*", "availability.source", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchTopic(tt.pattern, tt.key))
		})
	}
}

func TestRouter_RouteToMatchingHandlersOnce(t *testing.T) {
	r := NewRouter(0, nil)
	both := &recordingHandler{topics: []string{"availability.#", "availability.source.*"}}
	other := &recordingHandler{topics: []string{"billing.#"}}
	r.Subscribe(both)
	r.Subscribe(other)

	assert.Equal(t, []string{"availability.#", "availability.source.*", "billing.#"}, r.Topics())

	err := r.Route(context.Background(), Envelope{ID: "e1", RoutingKey: "availability.source.degraded", CorrelationID: "corr-1"})
	require.NoError(t, err)
	require.Len(t, both.got, 1)
	assert.Equal(t, []string{"corr-1"}, both.corrIDs)
	assert.Empty(t, other.got)
}

func TestRouter_DropsRedeliveredEnvelope(t *testing.T) {
	r := NewRouter(0, nil)
	h := &recordingHandler{topics: []string{"#"}}
	r.Subscribe(h)

	env := Envelope{ID: "e1", RoutingKey: "a.b"}
	require.NoError(t, r.Route(context.Background(), env))
	require.NoError(t, r.Route(context.Background(), env))
	assert.Len(t, h.got, 1)

	// No ID means no way to tell retries apart.
	require.NoError(t, r.Route(context.Background(), Envelope{RoutingKey: "a.b"}))
	require.NoError(t, r.Route(context.Background(), Envelope{RoutingKey: "a.b"}))
	assert.Len(t, h.got, 3)
}

func TestRouter_FailedEnvelopeIsRetried(t *testing.T) {
	r := NewRouter(0, nil)
	h := &recordingHandler{topics: []string{"#"}, err: errors.New("boom")}
	r.Subscribe(h)

	env := Envelope{ID: "e1", RoutingKey: "a.b"}
	require.Error(t, r.Route(context.Background(), env))
	h.err = nil
	require.NoError(t, r.Route(context.Background(), env))
	assert.Len(t, h.got, 2)
}

func TestRouter_JoinsHandlerErrors(t *testing.T) {
	r := NewRouter(0, nil)
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	a := &recordingHandler{topics: []string{"x"}, err: errA}
	b := &recordingHandler{topics: []string{"x"}, err: errB}
	ok := &recordingHandler{topics: []string{"x"}}
	r.Subscribe(a)
	r.Subscribe(ok)
	r.Subscribe(b)

	err := r.Route(context.Background(), Envelope{ID: "e1", RoutingKey: "x"})
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Len(t, ok.got, 1, "later handlers still run after a failure")
}

func TestRouter_DedupWindowIsBounded(t *testing.T) {
	r := NewRouter(2, nil)
	h := &recordingHandler{topics: []string{"#"}}
	r.Subscribe(h)

	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, r.Route(context.Background(), Envelope{ID: id, RoutingKey: "k"}))
	}
	// e1 was evicted by e3; e3 is still remembered.
	require.NoError(t, r.Route(context.Background(), Envelope{ID: "e1", RoutingKey: "k"}))
	require.NoError(t, r.Route(context.Background(), Envelope{ID: "e3", RoutingKey: "k"}))
	assert.Len(t, h.got, 4)
}

func TestRouter_NoHandlers(t *testing.T) {
	r := NewRouter(0, nil)
	assert.NoError(t, r.Route(context.Background(), Envelope{ID: "e1", RoutingKey: "nobody.listens"}))
	assert.Empty(t, r.Topics())
}
