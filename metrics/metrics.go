// Package metrics holds the Prometheus collectors for the HTTP surface,
// remote API calls and automation runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/tasksync/automation"
)

// Metrics owns a registry and the collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests    *prometheus.CounterVec
	remoteCalls     *prometheus.CounterVec
	automationItems *prometheus.CounterVec
	runDuration     *prometheus.HistogramVec
}

// New creates a Metrics with its own registry, including the Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_http_requests_total",
			Help: "HTTP requests served, by route, method and status code.",
		}, []string{"route", "method", "code"}),
		remoteCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_remote_calls_total",
			Help: "Calls made to the remote database API, by method and status code.",
		}, []string{"method", "code"}),
		automationItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tasksync_automation_items_total",
			Help: "Automation items processed, by action and result.",
		}, []string{"action", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tasksync_automation_run_duration_seconds",
			Help:    "Wall time of automation runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"action"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.remoteCalls,
		m.automationItems,
		m.runDuration,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// InstrumentHandler counts requests served by next under route.
func (m *Metrics) InstrumentHandler(route string, next http.Handler) http.Handler {
	counter := m.httpRequests.MustCurryWith(prometheus.Labels{"route": route})
	return promhttp.InstrumentHandlerCounter(counter, next)
}

// InstrumentTransport counts round trips made through next. A nil next
// means http.DefaultTransport.
func (m *Metrics) InstrumentTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperCounter(m.remoteCalls, next)
}

// RunStarted implements automation.Observer.
func (m *Metrics) RunStarted(*automation.Report) {}

// ItemDone implements automation.Observer.
func (m *Metrics) ItemDone(r *automation.Report, o automation.Outcome) {
	m.automationItems.WithLabelValues(string(r.Action), string(o.Result)).Inc()
}

// RunFinished implements automation.Observer.
func (m *Metrics) RunFinished(r *automation.Report) {
	m.runDuration.WithLabelValues(string(r.Action)).Observe(r.Duration().Seconds())
}
