package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harun/toolbox/pkg/toolregistry"
)

const namespace = "toolbox"

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// UnknownLabel replaces caller-chosen names that match nothing configured,
// keeping label cardinality bounded.
const UnknownLabel = "unknown"

// Metrics holds all Prometheus metrics for the application
type Metrics struct {
	registry *prometheus.Registry

	// Tool metrics
	ToolCallsTotal     *prometheus.CounterVec
	ToolCallDuration   *prometheus.HistogramVec
	ToolErrorsTotal    *prometheus.CounterVec
	ToolTruncatedTotal *prometheus.CounterVec
	ToolsRegistered    prometheus.Gauge

	// Protocol metrics
	RequestsTotal     *prometheus.CounterVec
	ConnectionsActive prometheus.Gauge

	// Config metrics
	ConfigReloadsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls",
			},
			[]string{"tool", "status"},
		),
		ToolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"tool"},
		),
		ToolErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_errors_total",
				Help:      "Total number of failed tool calls by error kind",
			},
			[]string{"tool", "kind"},
		),
		ToolTruncatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_output_truncated_total",
				Help:      "Total number of tool calls whose output was truncated",
			},
			[]string{"tool"},
		),
		ToolsRegistered: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tools_registered",
				Help:      "Number of tools currently registered",
			},
		),

		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of protocol requests by method and status",
			},
			[]string{"method", "status"},
		),
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connections_active",
				Help:      "Number of open websocket connections",
			},
		),

		ConfigReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Total number of config reload attempts by status",
			},
			[]string{"status"},
		),
	}

	m.registerMetrics()

	return m
}

func (m *Metrics) registerMetrics() {
	m.registry.MustRegister(
		m.ToolCallsTotal,
		m.ToolCallDuration,
		m.ToolErrorsTotal,
		m.ToolTruncatedTotal,
		m.ToolsRegistered,
		m.RequestsTotal,
		m.ConnectionsActive,
		m.ConfigReloadsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// ObserveCall implements toolregistry.Observer
func (m *Metrics) ObserveCall(_ context.Context, rec toolregistry.CallRecord) {
	// unknown tools never ran, so they only count as errors
	if rec.ErrorKind == toolregistry.KindToolNotFound {
		m.ToolErrorsTotal.WithLabelValues(UnknownLabel, rec.ErrorKind).Inc()
		return
	}

	status := StatusSuccess
	if rec.Err != nil {
		status = StatusError
		m.ToolErrorsTotal.WithLabelValues(rec.Tool, rec.ErrorKind).Inc()
	}

	m.ToolCallsTotal.WithLabelValues(rec.Tool, status).Inc()
	m.ToolCallDuration.WithLabelValues(rec.Tool).Observe(rec.Duration.Seconds())
	if rec.Truncated {
		m.ToolTruncatedTotal.WithLabelValues(rec.Tool).Inc()
	}
}

// ObserveRequest counts one protocol request
func (m *Metrics) ObserveRequest(method, status string) {
	m.RequestsTotal.WithLabelValues(method, status).Inc()
}

// ConnectionOpened tracks a new websocket client
func (m *Metrics) ConnectionOpened() {
	m.ConnectionsActive.Inc()
}

// ConnectionClosed tracks a websocket client going away
func (m *Metrics) ConnectionClosed() {
	m.ConnectionsActive.Dec()
}

// SetToolsRegistered records the size of the active tool set
func (m *Metrics) SetToolsRegistered(n int) {
	m.ToolsRegistered.Set(float64(n))
}

// ObserveReload counts one config reload attempt
func (m *Metrics) ObserveReload(err error) {
	if err != nil {
		m.ConfigReloadsTotal.WithLabelValues(StatusError).Inc()
		return
	}
	m.ConfigReloadsTotal.WithLabelValues(StatusSuccess).Inc()
}

// Handler returns an HTTP handler for the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
