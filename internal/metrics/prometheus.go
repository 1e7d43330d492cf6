package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/satriahrh/bridgetalk/server/internal/pipeline"
)

// Metrics contains all Prometheus metrics for the relay server
type Metrics struct {
	registry *prometheus.Registry

	// Relay turn metrics
	Turns         *prometheus.CounterVec
	TurnDuration  prometheus.Histogram
	StepDuration  *prometheus.HistogramVec
	StepFailures  *prometheus.CounterVec
	ProviderFails *prometheus.CounterVec

	// WebSocket metrics
	ActiveClients    prometheus.Gauge
	AudioChunks      prometheus.Counter
	ListeningStarted prometheus.Counter

	// Housekeeping
	ExpiredConversations prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on a fresh registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		Turns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgetalk_turns_total",
			Help: "Total number of relay turns by outcome",
		}, []string{"outcome"}),
		TurnDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridgetalk_turn_duration_seconds",
			Help:    "End to end duration of relay turns",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),
		StepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridgetalk_step_duration_seconds",
			Help:    "Duration of relay pipeline steps",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
		}, []string{"step"}),
		StepFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgetalk_step_failures_total",
			Help: "Total number of failed or skipped relay steps",
		}, []string{"step"}),
		ProviderFails: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgetalk_llm_provider_failures_total",
			Help: "Total number of failed dialogue model attempts by provider",
		}, []string{"provider"}),

		ActiveClients: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bridgetalk_ws_active_clients",
			Help: "Current number of connected WebSocket clients",
		}),
		AudioChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridgetalk_ws_audio_chunks_total",
			Help: "Total number of binary audio chunks received",
		}),
		ListeningStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridgetalk_ws_listening_sessions_total",
			Help: "Total number of streaming recognition sessions started",
		}),

		ExpiredConversations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bridgetalk_conversations_expired_total",
			Help: "Total number of conversations expired for inactivity",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bridgetalk_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bridgetalk_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObservePipeline records relay pipeline events
func (m *Metrics) ObservePipeline(e pipeline.Event) {
	switch e.Type {
	case pipeline.EventStepCompleted:
		m.StepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
	case pipeline.EventStepFailed, pipeline.EventStepSkipped:
		m.StepDuration.WithLabelValues(e.Step).Observe(e.Duration.Seconds())
		m.StepFailures.WithLabelValues(e.Step).Inc()
	case pipeline.EventRunCompleted:
		m.Turns.WithLabelValues("completed").Inc()
		m.TurnDuration.Observe(e.Duration.Seconds())
	case pipeline.EventRunCompensated:
		m.Turns.WithLabelValues("compensated").Inc()
		m.TurnDuration.Observe(e.Duration.Seconds())
	}
}

// ProviderFailed counts a failed dialogue model attempt
func (m *Metrics) ProviderFailed(provider string) {
	m.ProviderFails.WithLabelValues(provider).Inc()
}

// Middleware records request counts and durations per route
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			m.HTTPRequests.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			m.HTTPRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
