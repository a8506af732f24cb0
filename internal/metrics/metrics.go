// Package metrics exposes the engine's Prometheus metrics and OpenTelemetry
// tracer. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sniper"

type Metrics struct {
	registry *prometheus.Registry

	Decisions          *prometheus.CounterVec
	EvaluationDuration prometheus.Histogram
	ItemTransitions    *prometheus.CounterVec
	ProviderCalls      *prometheus.CounterVec
	ProviderDuration   *prometheus.HistogramVec
	InFlight           prometheus.Gauge
	DispatchCycles     prometheus.Counter
	SessionChanges     *prometheus.CounterVec
	JobsFinished       *prometheus.CounterVec
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec
}

// New registers every metric on a fresh registry that also carries the Go
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission decisions by outcome, reason and action type",
		}, []string{"decision", "reason", "action"}),
		EvaluationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_evaluation_duration_seconds",
			Help:      "Time to evaluate one admission request, including the account lock",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
		ItemTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "item_transitions_total",
			Help:      "Job item status transitions by target status",
		}, []string{"to"}),
		ProviderCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Provider actions by action type and outcome",
		}, []string{"action", "outcome"}),
		ProviderDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Provider action latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}, []string{"action"}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "executor_in_flight",
			Help:      "Provider calls currently running",
		}),
		DispatchCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_dispatch_cycles_total",
			Help:      "Executor dispatch ticks",
		}),
		SessionChanges: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_status_changes_total",
			Help:      "Session status changes by new status",
		}, []string{"status"}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal status",
		}, []string{"status"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry for /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry is exposed for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveDecision(decision, reason, action string, took time.Duration) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(decision, reason, action).Inc()
	m.EvaluationDuration.Observe(took.Seconds())
}

func (m *Metrics) ObserveTransition(to string) {
	if m == nil {
		return
	}
	m.ItemTransitions.WithLabelValues(to).Inc()
}

func (m *Metrics) ObserveProviderCall(action, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(action, outcome).Inc()
	m.ProviderDuration.WithLabelValues(action).Observe(took.Seconds())
}

func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) ObserveDispatch() {
	if m == nil {
		return
	}
	m.DispatchCycles.Inc()
}

func (m *Metrics) ObserveSessionStatus(status string) {
	if m == nil {
		return
	}
	m.SessionChanges.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveJobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status).Inc()
}

// GinMiddleware records request counts and latency keyed by route template.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
