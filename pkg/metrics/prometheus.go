package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultBuckets are the histogram buckets in milliseconds.
var DefaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// PrometheusSink is a Sink backed by a Prometheus registry. Vectors are
// created on first use; the label set of a metric is fixed by the tags of
// its first sample. Later tags outside that set are dropped and missing
// ones are recorded as "".
type PrometheusSink struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry
	logger    *slog.Logger

	mu         sync.Mutex
	histograms map[string]*histogramEntry
	counters   map[string]*counterEntry
}

type histogramEntry struct {
	vec    *prometheus.HistogramVec
	labels []string
}

type counterEntry struct {
	vec    *prometheus.CounterVec
	labels []string
}

// PrometheusOption configures a PrometheusSink.
type PrometheusOption func(*PrometheusSink)

// WithBuckets overrides DefaultBuckets.
func WithBuckets(b []float64) PrometheusOption {
	return func(s *PrometheusSink) {
		if len(b) > 0 {
			s.buckets = b
		}
	}
}

// WithRegistry registers into r instead of a fresh registry.
func WithRegistry(r *prometheus.Registry) PrometheusOption {
	return func(s *PrometheusSink) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithLogger sets the logger used for registration failures.
func WithLogger(l *slog.Logger) PrometheusOption {
	return func(s *PrometheusSink) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewPrometheusSink creates a sink whose metrics are prefixed with namespace.
// A fresh registry also carries the Go runtime and process collectors.
func NewPrometheusSink(namespace string, opts ...PrometheusOption) *PrometheusSink {
	s := &PrometheusSink{
		namespace:  namespace,
		buckets:    DefaultBuckets,
		logger:     slog.Default(),
		histograms: make(map[string]*histogramEntry),
		counters:   make(map[string]*counterEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
		s.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return s
}

// Registry returns the underlying Prometheus registry.
func (s *PrometheusSink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// RecordHistogram implements Sink.
func (s *PrometheusSink) RecordHistogram(name string, value float64, tags map[string]string) {
	s.mu.Lock()
	entry, ok := s.histograms[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      name,
			Help:      "Gateway histogram " + name + ".",
			Buckets:   s.buckets,
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			s.logger.Warn("register histogram", "metric", name, "error", err)
			return
		}
		entry = &histogramEntry{vec: vec, labels: labels}
		s.histograms[name] = entry
	}
	s.mu.Unlock()

	entry.vec.With(labelValues(entry.labels, tags)).Observe(value)
}

// IncrCounter implements Sink.
func (s *PrometheusSink) IncrCounter(name string, tags map[string]string) {
	s.mu.Lock()
	entry, ok := s.counters[name]
	if !ok {
		labels := labelNames(tags)
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      name,
			Help:      "Gateway counter " + name + ".",
		}, labels)
		if err := s.registry.Register(vec); err != nil {
			s.mu.Unlock()
			s.logger.Warn("register counter", "metric", name, "error", err)
			return
		}
		entry = &counterEntry{vec: vec, labels: labels}
		s.counters[name] = entry
	}
	s.mu.Unlock()

	entry.vec.With(labelValues(entry.labels, tags)).Inc()
}

func labelNames(tags map[string]string) []string {
	names := make([]string, 0, len(tags))
	for k := range tags {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, tags map[string]string) prometheus.Labels {
	values := make(prometheus.Labels, len(names))
	for _, n := range names {
		values[n] = tags[n]
	}
	return values
}
