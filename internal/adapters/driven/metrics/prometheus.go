// Package metrics implements the metrics sink on Prometheus.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/custodia-labs/marketlink-core/internal/core/domain"
	"github.com/custodia-labs/marketlink-core/internal/core/ports/driven"
)

// Verify interface compliance
var _ driven.MetricsSink = (*Sink)(nil)

// MetricErrorsTotal counts failed operations by error class.
const MetricErrorsTotal = "marketlink_errors_total"

// Error classes reported on MetricErrorsTotal.
const (
	ErrorClassValidation   = "validation"
	ErrorClassNotConnected = "not_connected"
	ErrorClassAuth         = "auth"
	ErrorClassRateLimited  = "rate_limited"
	ErrorClassTimeout      = "timeout"
	ErrorClassProvider     = "provider"
	ErrorClassNotFound     = "not_found"
	ErrorClassCanceled     = "canceled"
	ErrorClassUnknown      = "unknown"
)

// Sink implements driven.MetricsSink. Collectors are created on first use
// from the metric name: a _total suffix makes a counter, _seconds a
// histogram, anything else a gauge. The label set of a metric is fixed by
// its first observation; later observations with other labels are dropped.
type Sink struct {
	registry *prometheus.Registry
	logger   *slog.Logger

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
	labels     map[string][]string

	errors *prometheus.CounterVec
}

// NewSink creates a sink on a dedicated registry that also carries the Go
// runtime and process collectors.
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	errorsVec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: MetricErrorsTotal,
		Help: "Failed operations by error class.",
	}, []string{"operation", "provider", "class"})
	registry.MustRegister(errorsVec)

	return &Sink{
		registry:   registry,
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labels:     make(map[string][]string),
		errors:     errorsVec,
	}
}

// Registry returns the underlying registry.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// RecordMetric records one observation. It never panics or blocks on I/O.
func (s *Sink) RecordMetric(name string, value float64, tags map[string]string) {
	labelNames := sortedKeys(tags)

	s.mu.Lock()
	defer s.mu.Unlock()

	if known, ok := s.labels[name]; ok && !equalStrings(known, labelNames) {
		s.logger.Debug("dropping metric with unexpected labels",
			"metric", name,
			"labels", labelNames,
			"expected", known,
		)
		return
	}

	switch {
	case strings.HasSuffix(name, "_total"):
		if value < 0 {
			return
		}
		vec, ok := s.counters[name]
		if !ok {
			vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, labelNames)
			if !s.register(name, vec, labelNames) {
				return
			}
			s.counters[name] = vec
		}
		vec.With(tags).Add(value)

	case strings.HasSuffix(name, "_seconds"):
		vec, ok := s.histograms[name]
		if !ok {
			vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    name,
				Help:    help(name),
				Buckets: prometheus.DefBuckets,
			}, labelNames)
			if !s.register(name, vec, labelNames) {
				return
			}
			s.histograms[name] = vec
		}
		vec.With(tags).Observe(value)

	default:
		vec, ok := s.gauges[name]
		if !ok {
			vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help(name)}, labelNames)
			if !s.register(name, vec, labelNames) {
				return
			}
			s.gauges[name] = vec
		}
		vec.With(tags).Set(value)
	}
}

// RecordError counts a failed operation under its error class.
func (s *Sink) RecordError(ec driven.ErrorContext) {
	s.errors.WithLabelValues(ec.Operation, string(ec.Provider), Classify(ec.Err)).Inc()
}

// register must be called with mu held.
func (s *Sink) register(name string, c prometheus.Collector, labelNames []string) bool {
	if err := s.registry.Register(c); err != nil {
		s.logger.Warn("failed to register metric", "metric", name, "error", err)
		return false
	}
	s.labels[name] = labelNames
	return true
}

// Classify maps an error to a low-cardinality class label.
func Classify(err error) string {
	switch {
	case err == nil:
		return ErrorClassUnknown
	case errors.Is(err, domain.ErrValidation):
		return ErrorClassValidation
	case errors.Is(err, domain.ErrNotConnected), errors.Is(err, domain.ErrCredentialsUnavailable):
		return ErrorClassNotConnected
	case errors.Is(err, domain.ErrReauthRequired), errors.Is(err, domain.ErrAuthRejected):
		return ErrorClassAuth
	case errors.Is(err, domain.ErrRateLimited):
		return ErrorClassRateLimited
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrorClassTimeout
	case errors.Is(err, domain.ErrNotFound):
		return ErrorClassNotFound
	case errors.Is(err, domain.ErrProviderError):
		return ErrorClassProvider
	case errors.Is(err, context.Canceled):
		return ErrorClassCanceled
	}
	return ErrorClassUnknown
}

func help(name string) string {
	return strings.ReplaceAll(strings.TrimPrefix(name, "marketlink_"), "_", " ")
}

func sortedKeys(tags map[string]string) []string {
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
