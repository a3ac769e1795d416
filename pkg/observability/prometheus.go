package observability

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a dedicated Prometheus registry.
// Collectors are created on first use; the label names of a metric are fixed
// by the tags of that first call and later calls with other keys are dropped.
type PrometheusMetrics struct {
	namespace string
	registry  *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetrics creates a registry with Go runtime and process collectors.
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		namespace:  sanitizeMetricName(namespace),
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry exposes the underlying registry.
func (m *PrometheusMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *PrometheusMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name) + "_total",
			Help:      name,
		}, labelNames(tags))
		if err := m.registry.Register(vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.counters[name] = vec
	}
	m.mu.Unlock()

	if c, err := vec.GetMetricWith(labels(tags)); err == nil {
		c.Add(float64(value))
	}
}

func (m *PrometheusMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      sanitizeMetricName(name),
			Help:      name,
		}, labelNames(tags))
		if err := m.registry.Register(vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.gauges[name] = vec
	}
	m.mu.Unlock()

	if g, err := vec.GetMetricWith(labels(tags)); err == nil {
		g.Set(value)
	}
}

func (m *PrometheusMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.observe(sanitizeMetricName(name), name, value, tags)
}

// Timing records the duration in seconds.
func (m *PrometheusMetrics) Timing(name string, duration time.Duration, tags ...Tag) {
	m.observe(sanitizeMetricName(name)+"_seconds", name, duration.Seconds(), tags)
}

func (m *PrometheusMetrics) observe(metricName, help string, value float64, tags []Tag) {
	m.mu.Lock()
	vec, ok := m.histograms[metricName]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      metricName,
			Help:      help,
			Buckets:   prometheus.DefBuckets,
		}, labelNames(tags))
		if err := m.registry.Register(vec); err != nil {
			m.mu.Unlock()
			return
		}
		m.histograms[metricName] = vec
	}
	m.mu.Unlock()

	if h, err := vec.GetMetricWith(labels(tags)); err == nil {
		h.Observe(value)
	}
}

func labelNames(tags []Tag) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, sanitizeMetricName(t.Key))
	}
	slices.Sort(names)
	return slices.Compact(names)
}

func labels(tags []Tag) prometheus.Labels {
	l := make(prometheus.Labels, len(tags))
	for _, t := range tags {
		l[sanitizeMetricName(t.Key)] = t.Value
	}
	return l
}

func sanitizeMetricName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
