// Package metrics exposes Prometheus instruments for the PartsMarket backend.
// Instruments live on a caller-owned registry so tests and multiple servers
// never share global state.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "partsmarket"

// Metrics groups the service instruments. A nil *Metrics is a no-op.
type Metrics struct {
	registry *prometheus.Registry

	compressions        *prometheus.CounterVec
	compressionDuration *prometheus.HistogramVec
	compressionRatio    *prometheus.HistogramVec
	telegramLogins      *prometheus.CounterVec
	telegramDuration    prometheus.Histogram
	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	rateLimited         *prometheus.CounterVec
}

// New registers every instrument on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		compressions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_compressions_total",
				Help:      "Total number of image compression tasks by policy and result code",
			},
			[]string{"policy", "code"},
		),
		compressionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "image_compression_duration_seconds",
				Help:      "Duration of image compression tasks in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"policy"},
		),
		compressionRatio: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "image_compression_ratio",
				Help:      "Compressed size divided by original size for successful tasks",
				Buckets:   []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.75, 1, 1.5},
			},
			[]string{"policy"},
		),
		telegramLogins: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "telegram_logins_total",
				Help:      "Total number of Telegram login attempts by outcome",
			},
			[]string{"outcome"},
		),
		telegramDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "telegram_login_duration_seconds",
				Help:      "Duration of Telegram login handling in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests by method and status",
			},
			[]string{"method", "status"},
		),
		httpDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limited_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),
	}
}

// Registry returns the registry backing m.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveCompression records one compression task.
func (m *Metrics) ObserveCompression(policy, code string, originalSize, compressedSize int, duration time.Duration) {
	if m == nil {
		return
	}
	m.compressions.WithLabelValues(policy, code).Inc()
	m.compressionDuration.WithLabelValues(policy).Observe(duration.Seconds())
	if code == "OK" && originalSize > 0 {
		m.compressionRatio.WithLabelValues(policy).Observe(float64(compressedSize) / float64(originalSize))
	}
}

// ObserveTelegramLogin records one Telegram login attempt.
func (m *Metrics) ObserveTelegramLogin(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.telegramLogins.WithLabelValues(outcome).Inc()
	m.telegramDuration.Observe(duration.Seconds())
}

// ObserveHTTPRequest records one served request.
func (m *Metrics) ObserveHTTPRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// ObserveRateLimited records a request rejected by the limiter for scope.
func (m *Metrics) ObserveRateLimited(scope string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(scope).Inc()
}
