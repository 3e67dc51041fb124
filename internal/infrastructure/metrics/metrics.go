// Package metrics exposes the bridge's Prometheus collectors.
//
// Collectors live on a private registry owned by a Metrics value, so tests
// and multiple bridges in one process never collide. All methods are safe
// on a nil *Metrics, which disables recording.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "greemqtt"

// Result labels.
const (
	ResultOK      = "ok"
	ResultTimeout = "timeout"
	ResultError   = "error"
)

// Use buckets ranging from 10 ms to 10 seconds.
var exchangeBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// Metrics holds every collector the bridge records to.
type Metrics struct {
	registry *prometheus.Registry

	polls       *prometheus.CounterVec
	commands    *prometheus.CounterVec
	binds       *prometheus.CounterVec
	publishes   prometheus.Counter
	evictions   prometheus.Counter
	exchange    *prometheus.HistogramVec
	bound       prometheus.Gauge
	missing     prometheus.Gauge
	queueDepth  prometheus.Gauge
	pollingMode *prometheus.GaugeVec
}

// New creates the collectors and registers them, along with the Go and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Status polls by device and result (ok, timeout, error).",
		}, []string{"device_id", "result"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands delivered to devices by result.",
		}, []string{"device_id", "result"}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "binds_total",
			Help:      "Discovery and bind attempts by result.",
		}, []string{"result"}),
		publishes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_publishes_total",
			Help:      "Device states published to MQTT.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_evictions_total",
			Help:      "Commands dropped because the queue was full.",
		}),
		exchange: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_exchange_duration_seconds",
			Help:      "Latency of request/response exchanges with devices.",
			Buckets:   exchangeBuckets,
		}, []string{"operation"}),
		bound: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "bound_devices",
			Help:      "Devices currently bound and polled.",
		}),
		missing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "missing_devices",
			Help:      "Configured devices awaiting rediscovery.",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Commands waiting for a worker.",
		}),
		pollingMode: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_devices",
			Help:      "Devices currently in each adaptive polling mode.",
		}, []string{"mode"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.polls, m.commands, m.binds, m.publishes, m.evictions,
		m.exchange, m.bound, m.missing, m.queueDepth, m.pollingMode,
	)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Poll records one status poll.
func (m *Metrics) Poll(deviceID, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(deviceID, result).Inc()
	m.exchange.WithLabelValues("status").Observe(took.Seconds())
}

// Command records one delivered command.
func (m *Metrics) Command(deviceID, result string, took time.Duration) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(deviceID, result).Inc()
	m.exchange.WithLabelValues("cmd").Observe(took.Seconds())
}

// Bind records a discovery and bind attempt.
func (m *Metrics) Bind(result string) {
	if m == nil {
		return
	}
	m.binds.WithLabelValues(result).Inc()
}

// Published records a state publish.
func (m *Metrics) Published() {
	if m == nil {
		return
	}
	m.publishes.Inc()
}

// Evicted records a command dropped from a full queue.
func (m *Metrics) Evicted() {
	if m == nil {
		return
	}
	m.evictions.Inc()
}

// SetBound sets the number of bound devices.
func (m *Metrics) SetBound(n int) {
	if m == nil {
		return
	}
	m.bound.Set(float64(n))
}

// SetMissing sets the number of devices awaiting rediscovery.
func (m *Metrics) SetMissing(n int) {
	if m == nil {
		return
	}
	m.missing.Set(float64(n))
}

// SetQueueDepth sets the number of queued commands.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

// SetModes replaces the per-mode device counts.
func (m *Metrics) SetModes(counts map[string]int) {
	if m == nil {
		return
	}
	m.pollingMode.Reset()
	for mode, n := range counts {
		m.pollingMode.WithLabelValues(mode).Set(float64(n))
	}
}
