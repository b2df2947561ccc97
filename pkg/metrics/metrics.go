// Package metrics exposes delivery, retry queue and broadcast counters in
// Prometheus format.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-pantera/pkg/delivery"
	"github.com/teslashibe/go-pantera/pkg/protocol"
)

const namespace = "pantera"

// Metrics holds the process's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	rounds       *prometheus.CounterVec
	sends        *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
	queueDepth   prometheus.Gauge
	evictions    prometheus.Counter
	drained      prometheus.Counter
	sessions     prometheus.Gauge
	signaling    *prometheus.CounterVec
	httpRequests prometheus.Counter
	httpErrors   prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rounds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_total",
			Help:      "Fan-out rounds by result (success, failed, skipped)",
		}, []string{"result"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "Per-destination sends by transport and resulting state",
		}, []string{"transport", "state"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "send_duration_seconds",
			Help:      "Time spent on one destination send",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"transport"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "retry_queue_depth",
			Help:      "Samples waiting in the retry queue",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_queue_evictions_total",
			Help:      "Samples dropped because the retry queue was full",
		}),
		drained: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_queue_drained_total",
			Help:      "Queued samples successfully re-sent",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "viewer_sessions",
			Help:      "Live viewer sessions",
		}),
		signaling: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_messages_total",
			Help:      "Inbound signaling messages by type",
		}, []string{"type"}),
		httpRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Dashboard API requests",
		}),
		httpErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Dashboard API responses with status >= 400",
		}),
	}

	m.registry.MustRegister(
		m.rounds,
		m.sends,
		m.sendDuration,
		m.queueDepth,
		m.evictions,
		m.drained,
		m.sessions,
		m.signaling,
		m.httpRequests,
		m.httpErrors,
	)
	return m
}

// ObserveSend implements delivery.Observer.
func (m *Metrics) ObserveSend(target delivery.Target, state delivery.State, elapsed time.Duration) {
	transport := target.Transport.String()
	m.sends.WithLabelValues(transport, state.String()).Inc()
	m.sendDuration.WithLabelValues(transport).Observe(elapsed.Seconds())
}

// ObserveRound implements delivery.Observer.
func (m *Metrics) ObserveRound(success, skipped bool) {
	switch {
	case skipped:
		m.rounds.WithLabelValues("skipped").Inc()
	case success:
		m.rounds.WithLabelValues("success").Inc()
	default:
		m.rounds.WithLabelValues("failed").Inc()
	}
}

// SetQueueDepth sets the retry queue depth gauge.
func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

// IncEvictions counts one sample dropped from a full queue.
func (m *Metrics) IncEvictions() {
	m.evictions.Inc()
}

// IncDrained counts one successfully re-sent sample.
func (m *Metrics) IncDrained() {
	m.drained.Inc()
}

// SetSessions sets the live viewer session gauge.
func (m *Metrics) SetSessions(n int) {
	m.sessions.Set(float64(n))
}

// IncSignaling counts one inbound signaling message.
func (m *Metrics) IncSignaling(t protocol.MessageType) {
	m.signaling.WithLabelValues(string(t)).Inc()
}

// Middleware counts dashboard requests and error responses.
func (m *Metrics) Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()
		m.httpRequests.Inc()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		if status >= 400 {
			m.httpErrors.Inc()
		}
		return err
	}
}

// Handler serves the registry. updateGauges, if set, runs before each
// scrape to refresh sampled values such as queue depth.
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		h.ServeHTTP(w, r)
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
