// Package metrics exposes the node's Prometheus collectors on a dedicated
// registry. A *Metrics satisfies the observer and recorder interfaces of the
// connection, dispatch, and pipeline packages.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"captioner/internal/connection"
)

const namespace = "captioner"

var connectionStates = []connection.State{
	connection.StateDisconnected,
	connection.StateConnecting,
	connection.StateConnected,
}

// Metrics holds every collector the node exports.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionState   *prometheus.GaugeVec
	ReconnectAttempts prometheus.Counter
	ReconnectGiveUps  prometheus.Counter
	RPCInvocations    *prometheus.CounterVec
	TasksStarted      prometheus.Counter
	TasksFinished     *prometheus.CounterVec
	TaskDuration      prometheus.Histogram
	TaskActive        prometheus.Gauge
}

// New registers the node collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		ConnectionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "connection_state",
			Help:      "1 for the current coordinator connection state, 0 otherwise.",
		}, []string{"state"}),
		ReconnectAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "reconnect_attempts_total",
			Help:      "Reconnect attempts after the coordinator channel dropped.",
		}),
		ReconnectGiveUps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "reconnect_giveups_total",
			Help:      "Reconnect loops abandoned after reaching the attempt cap.",
		}),
		RPCInvocations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "invocations_total",
			Help:      "Coordinator method invocations by method and outcome.",
		}, []string{"method", "outcome"}),
		TasksStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tasks_started_total",
			Help:      "Pipeline runs started.",
		}),
		TasksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tasks_finished_total",
			Help:      "Pipeline runs finished, by outcome.",
		}, []string{"outcome"}),
		TaskDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "task_duration_seconds",
			Help:      "Wall time of pipeline runs.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 7200},
		}),
		TaskActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "task_active",
			Help:      "1 while a pipeline run is in flight.",
		}),
	}
	m.ConnectionStateChanged(connection.StateDisconnected)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectionStateChanged sets the state gauge so exactly one label is 1.
func (m *Metrics) ConnectionStateChanged(state connection.State) {
	for _, s := range connectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ConnectionState.WithLabelValues(string(s)).Set(value)
	}
}

// RPCInvocation counts one coordinator call.
func (m *Metrics) RPCInvocation(method, outcome string) {
	m.RPCInvocations.WithLabelValues(method, outcome).Inc()
}

// TaskStarted marks a pipeline run as in flight.
func (m *Metrics) TaskStarted() {
	m.TasksStarted.Inc()
	m.TaskActive.Set(1)
}

// TaskFinished records the outcome and duration of a run.
func (m *Metrics) TaskFinished(outcome string, elapsed time.Duration) {
	m.TasksFinished.WithLabelValues(outcome).Inc()
	m.TaskDuration.Observe(elapsed.Seconds())
	m.TaskActive.Set(0)
}

// ConnectionObserver adapts Metrics to connection.Observer.
func (m *Metrics) ConnectionObserver() connection.Observer {
	return connectionObserver{m}
}

type connectionObserver struct{ m *Metrics }

func (o connectionObserver) ConnectionState(state connection.State) { o.m.ConnectionStateChanged(state) }
func (o connectionObserver) ReconnectAttempt()                      { o.m.ReconnectAttempts.Inc() }
func (o connectionObserver) ReconnectGaveUp()                       { o.m.ReconnectGiveUps.Inc() }
