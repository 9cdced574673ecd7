// Package metrics provides Prometheus instrumentation for the rmcloud server.
//
// A Metrics value owns its own registry so tests and multiple servers in one
// process never collide. All methods are safe on a nil *Metrics, which makes
// instrumentation optional for callers.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rmcloud/internal/api"
	"rmcloud/internal/artifactcache"
	"rmcloud/internal/convert"
	"rmcloud/internal/services"
)

const namespace = "rmcloud"

// Metrics holds every collector exported by the server.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	cacheLookups    *prometheus.CounterVec
	resolves        *prometheus.CounterVec
	resolveDuration *prometheus.HistogramVec
	cloudRequests   *prometheus.CounterVec
	cloudDuration   *prometheus.HistogramVec
	conversions     *prometheus.CounterVec
	convertDuration prometheus.Histogram
	sessionsActive  prometheus.Gauge
	sessionsEvicted prometheus.Counter
	reconcileRuns   *prometheus.CounterVec
	reconcileEvicts prometheus.Counter
}

// New creates a Metrics value with Go runtime and process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Artifact cache lookups by format and result",
		}, []string{"format", "result"}),
		resolves: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolves_total",
			Help:      "Download requests by format and outcome",
		}, []string{"format", "outcome"}),
		resolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Time to resolve a download request",
			Buckets:   []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"format"}),
		cloudRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cloud_requests_total",
			Help:      "Upstream cloud calls by operation and result",
		}, []string{"operation", "result"}),
		cloudDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cloud_request_duration_seconds",
			Help:      "Upstream cloud call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		conversions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Converter runs by result",
		}, []string{"result"}),
		convertDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "conversion_duration_seconds",
			Help:      "Converter run duration in seconds",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live client sessions",
		}),
		sessionsEvicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_evicted_total",
			Help:      "Sessions removed by the idle sweep",
		}),
		reconcileRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_runs_total",
			Help:      "Cache reconciliation passes by result",
		}, []string{"result"}),
		reconcileEvicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_evictions_total",
			Help:      "Artifacts removed by reconciliation",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns the Prometheus exposition handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one served request. route must be the registered
// pattern, never the raw path, to bound label cardinality.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// CacheLookup implements download.Observer.
func (m *Metrics) CacheLookup(format artifactcache.Format, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(string(format), result).Inc()
}

// Conversion implements download.Observer.
func (m *Metrics) Conversion(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.conversions.WithLabelValues(conversionResult(err)).Inc()
	m.convertDuration.Observe(elapsed.Seconds())
}

// Resolved implements download.Observer.
func (m *Metrics) Resolved(format artifactcache.Format, errorType api.ErrorType, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if errorType != "" {
		outcome = string(errorType)
	}
	m.resolves.WithLabelValues(string(format), outcome).Inc()
	m.resolveDuration.WithLabelValues(string(format)).Observe(elapsed.Seconds())
}

// CloudCall records one upstream call.
func (m *Metrics) CloudCall(operation string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = services.Kind(err)
	}
	m.cloudRequests.WithLabelValues(operation, result).Inc()
	m.cloudDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// SessionsSwept matches session.Janitor.OnSweep.
func (m *Metrics) SessionsSwept(removed, remaining int) {
	if m == nil {
		return
	}
	m.sessionsEvicted.Add(float64(removed))
	m.sessionsActive.Set(float64(remaining))
}

// SetActiveSessions updates the live session gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}

// Reconciled matches reconcile.Reconciler.OnReconcile.
func (m *Metrics) Reconciled(removed int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.reconcileRuns.WithLabelValues(result).Inc()
	m.reconcileEvicts.Add(float64(removed))
}

// RegisterCacheStats exports cache size gauges computed on scrape.
func (m *Metrics) RegisterCacheStats(stats func() (entries int, bytes int64, ok bool)) {
	if m == nil || stats == nil {
		return
	}
	factory := promauto.With(m.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Artifacts currently cached",
	}, func() float64 {
		entries, _, _ := stats()
		return float64(entries)
	})
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_bytes",
		Help:      "Bytes currently cached",
	}, func() float64 {
		_, bytes, _ := stats()
		return float64(bytes)
	})
}

func conversionResult(err error) string {
	if err == nil {
		return "success"
	}
	if failure, ok := convert.AsFailure(err); ok {
		if failure.TimedOut {
			return "timeout"
		}
		return "failed"
	}
	if errors.Is(err, convert.ErrUnsupported) {
		return "unsupported"
	}
	return "error"
}
