package prometheus

import (
	"context"
	"errors"
	"strings"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/goliatone/go-paygrants/core"
)

// DefaultLabels are the tag keys core.Service attaches to operation metrics.
var DefaultLabels = []string{"operation", "status", "grant_kind", "intent", "error_key"}

type Option func(*MetricsRecorder)

func WithRegisterer(registerer prom.Registerer) Option {
	return func(r *MetricsRecorder) {
		if registerer != nil {
			r.registerer = registerer
		}
	}
}

func WithLabels(labels ...string) Option {
	return func(r *MetricsRecorder) {
		if len(labels) > 0 {
			r.labels = append([]string(nil), labels...)
		}
	}
}

func WithBuckets(buckets []float64) Option {
	return func(r *MetricsRecorder) {
		if len(buckets) > 0 {
			r.buckets = append([]float64(nil), buckets...)
		}
	}
}

// MetricsRecorder implements core.MetricsRecorder on Prometheus vectors.
// Each metric name gets one vector with a fixed label set; tags outside the
// set are dropped and missing ones are recorded as empty.
type MetricsRecorder struct {
	registerer prom.Registerer
	labels     []string
	buckets    []float64

	mu         sync.Mutex
	counters   map[string]*prom.CounterVec
	histograms map[string]*prom.HistogramVec
	lastErr    error
}

func NewMetricsRecorder(opts ...Option) *MetricsRecorder {
	r := &MetricsRecorder{
		registerer: prom.DefaultRegisterer,
		labels:     append([]string(nil), DefaultLabels...),
		buckets:    []float64{5, 25, 100, 250, 1000, 5000, 30000, 120000, 600000},
		counters:   map[string]*prom.CounterVec{},
		histograms: map[string]*prom.HistogramVec{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

func (r *MetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	if r == nil || value < 0 {
		return
	}
	counter := r.counter(name)
	if counter == nil {
		return
	}
	counter.With(r.labelValues(tags)).Add(float64(value))
}

func (r *MetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	if r == nil {
		return
	}
	histogram := r.histogram(name)
	if histogram == nil {
		return
	}
	histogram.With(r.labelValues(tags)).Observe(value)
}

// Err returns the last registration failure, if any.
func (r *MetricsRecorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *MetricsRecorder) counter(name string) *prom.CounterVec {
	metric := core.MetricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.counters[metric]; ok {
		return existing
	}
	vec := prom.NewCounterVec(prom.CounterOpts{
		Name: metric,
		Help: "Count of " + strings.TrimSpace(name) + ".",
	}, r.labels)
	registered, err := r.register(vec)
	if err != nil {
		r.lastErr = err
		return nil
	}
	vec, ok := registered.(*prom.CounterVec)
	if !ok {
		r.lastErr = errors.New("prometheus: metric " + metric + " is registered with another type")
		return nil
	}
	r.counters[metric] = vec
	return vec
}

func (r *MetricsRecorder) histogram(name string) *prom.HistogramVec {
	metric := core.MetricName(name)
	if metric == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.histograms[metric]; ok {
		return existing
	}
	vec := prom.NewHistogramVec(prom.HistogramOpts{
		Name:    metric,
		Help:    "Distribution of " + strings.TrimSpace(name) + ".",
		Buckets: r.buckets,
	}, r.labels)
	registered, err := r.register(vec)
	if err != nil {
		r.lastErr = err
		return nil
	}
	vec, ok := registered.(*prom.HistogramVec)
	if !ok {
		r.lastErr = errors.New("prometheus: metric " + metric + " is registered with another type")
		return nil
	}
	r.histograms[metric] = vec
	return vec
}

// register returns the collector that ended up registered, reusing one a
// previous recorder already registered under the same name.
func (r *MetricsRecorder) register(collector prom.Collector) (prom.Collector, error) {
	err := r.registerer.Register(collector)
	if err == nil {
		return collector, nil
	}
	var already prom.AlreadyRegisteredError
	if errors.As(err, &already) {
		return already.ExistingCollector, nil
	}
	return nil, err
}

func (r *MetricsRecorder) labelValues(tags map[string]string) prom.Labels {
	values := make(prom.Labels, len(r.labels))
	for _, label := range r.labels {
		values[label] = strings.TrimSpace(tags[label])
	}
	return values
}

var _ core.MetricsRecorder = (*MetricsRecorder)(nil)
