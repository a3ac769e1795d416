package observability

import (
	"slices"
	"strings"
	"sync"
	"time"
)

// Metrics records application metrics. Names are dotted ("outbox.published");
// backends turn them into their own naming scheme.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Histogram(name string, value float64, tags ...Tag)
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a metric label.
type Tag struct {
	Key   string
	Value string
}

func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)        {}
func (NoopMetrics) Gauge(string, float64, ...Tag)        {}
func (NoopMetrics) Histogram(string, float64, ...Tag)    {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// series identifies one metric and label set. Tags are sorted by key, so
// the order they were passed in does not matter.
type series string

func seriesOf(name string, tags []Tag) series {
	if len(tags) == 0 {
		return series(name)
	}
	sorted := slices.Clone(tags)
	slices.SortFunc(sorted, func(a, b Tag) int { return strings.Compare(a.Key, b.Key) })
	var b strings.Builder
	b.WriteString(name)
	b.WriteByte('{')
	for i, t := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	b.WriteByte('}')
	return series(b.String())
}

type samples struct {
	count   int64
	gauge   float64
	values  []float64
	timings []time.Duration
}

// InMemoryMetrics keeps every series in memory. Tests assert on it.
type InMemoryMetrics struct {
	mu   sync.RWMutex
	data map[series]*samples
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{data: make(map[series]*samples)}
}

func (m *InMemoryMetrics) record(name string, tags []Tag, f func(*samples)) {
	key := seriesOf(name, tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.data[key]
	if !ok {
		s = &samples{}
		m.data[key] = s
	}
	f(s)
}

func (m *InMemoryMetrics) read(name string, tags []Tag) samples {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.data[seriesOf(name, tags)]; ok {
		return *s
	}
	return samples{}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.record(name, tags, func(s *samples) { s.count += value })
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.record(name, tags, func(s *samples) { s.gauge = value })
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.record(name, tags, func(s *samples) { s.values = append(s.values, value) })
}

func (m *InMemoryMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.record(name, tags, func(s *samples) { s.timings = append(s.timings, duration) })
}

func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	return m.read(name, tags).count
}

func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	return m.read(name, tags).gauge
}

func (m *InMemoryMetrics) GetHistogram(name string, tags ...Tag) []float64 {
	return slices.Clone(m.read(name, tags).values)
}

func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	return slices.Clone(m.read(name, tags).timings)
}

// Reset drops every series.
func (m *InMemoryMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.data)
}
