// Package metrics exposes transcription and HTTP metrics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Collector owns a private registry so several collectors (one per test, say)
// never collide on metric names.
type Collector struct {
	registry *prometheus.Registry

	sessionsStarted  prometheus.Counter
	sessionsFinished *prometheus.CounterVec
	sessionDuration  *prometheus.HistogramVec
	segments         *prometheus.HistogramVec
	utterances       *prometheus.CounterVec
	skipped          *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector registers every metric under namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		sessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Transcription sessions that began listening",
		}),
		sessionsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Transcription sessions that reached done, by style and stop reason",
		}, []string{"style", "reason"}),
		sessionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Wall time from start to done",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 300, 900, 3600},
		}, []string{"style"}),
		segments: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_segments",
			Help:      "Segments per finished session",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"style"}),
		utterances: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_accepted_total",
			Help:      "Recognized utterances applied to a session, by whether they opened a segment",
		}, []string{"segment"}),
		skipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_skipped_total",
			Help:      "Recognized utterances dropped before segmentation",
		}, []string{"reason"}),
		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
		logger: logger.With(zap.String("component", "metrics")),
	}
}

func (c *Collector) SessionStarted() { c.sessionsStarted.Inc() }

func (c *Collector) UtteranceAccepted(newSegment bool) {
	label := "merged"
	if newSegment {
		label = "opened"
	}
	c.utterances.WithLabelValues(label).Inc()
}

func (c *Collector) UtteranceSkipped(reason string) {
	c.skipped.WithLabelValues(reason).Inc()
}

func (c *Collector) SessionFinished(style, reason string, segments int, elapsed time.Duration) {
	c.sessionsFinished.WithLabelValues(style, reason).Inc()
	c.sessionDuration.WithLabelValues(style).Observe(elapsed.Seconds())
	c.segments.WithLabelValues(style).Observe(float64(segments))
	c.logger.Debug("session recorded",
		zap.String("style", style),
		zap.String("reason", reason),
		zap.Int("segments", segments),
		zap.Duration("elapsed", elapsed),
	)
}

// RecordHTTPRequest counts one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry is exposed for tests and for callers adding their own collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
