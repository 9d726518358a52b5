// Package metrics exposes Prometheus collectors for connection, tool and
// shutdown activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vinayprograms/winsys-mcp/shutdown"
)

const namespace = "winsys_mcp"

// Collector holds the service's metrics on its own registry.
type Collector struct {
	registry *prometheus.Registry

	shutdownStatus   prometheus.Gauge
	shutdownTotal    *prometheus.CounterVec
	shutdownDuration prometheus.Histogram
	hookDuration     *prometheus.HistogramVec
	hookFailures     *prometheus.CounterVec
	closesPending    prometheus.Gauge
	closeDuration    prometheus.Histogram

	connections *prometheus.GaugeVec
	toolCalls   *prometheus.CounterVec
	toolLatency *prometheus.HistogramVec
}

var _ shutdown.Observer = (*Collector)(nil)

// New creates a collector and registers everything, including the Go and
// process collectors.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		shutdownStatus: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_status",
			Help:      "Shutdown lifecycle state (0 not started, 1 in progress, 2 completed, 3 forced, 4 failed)",
		}),
		shutdownTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdowns_total",
			Help:      "Shutdown runs, partitioned by reason",
		}, []string{"reason"}),
		shutdownDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_duration_seconds",
			Help:      "Time taken by a shutdown run",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
		}),
		hookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_hook_duration_seconds",
			Help:      "Time taken by each shutdown hook",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "hook"}),
		hookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shutdown_hook_failures_total",
			Help:      "Shutdown hooks and connection closes that failed",
		}, []string{"phase"}),
		closesPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown_closes_pending",
			Help:      "Connections still closing when the close deadline passed",
		}),
		closeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "shutdown_close_duration_seconds",
			Help:      "Time taken by the connection close fan-out",
			Buckets:   []float64{.01, .05, .1, .5, 1, 2, 5},
		}),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Open connections, partitioned by transport",
		}, []string{"transport"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations, partitioned by tool and outcome",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool invocation latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}

	c.registry.MustRegister(
		c.shutdownStatus, c.shutdownTotal, c.shutdownDuration,
		c.hookDuration, c.hookFailures, c.closesPending, c.closeDuration,
		c.connections, c.toolCalls, c.toolLatency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ShutdownStarted implements shutdown.Observer.
func (c *Collector) ShutdownStarted(reason shutdown.Reason) {
	c.shutdownStatus.Set(float64(shutdown.StatusInProgress))
	c.shutdownTotal.WithLabelValues(reason.String()).Inc()
}

// HookFinished implements shutdown.Observer.
func (c *Collector) HookFinished(r shutdown.HandlerResult) {
	phase := r.Phase.String()
	if r.Close {
		phase = "close"
	} else {
		c.hookDuration.WithLabelValues(phase, r.Name).Observe(r.Duration.Seconds())
	}
	if r.Err != nil {
		c.hookFailures.WithLabelValues(phase).Inc()
	}
}

// ConnectionsClosed implements shutdown.Observer.
func (c *Collector) ConnectionsClosed(closed, pending int, elapsed time.Duration) {
	c.closesPending.Set(float64(pending))
	c.closeDuration.Observe(elapsed.Seconds())
}

// ShutdownFinished implements shutdown.Observer.
func (c *Collector) ShutdownFinished(status shutdown.Status, elapsed time.Duration) {
	c.shutdownStatus.Set(float64(status))
	c.shutdownDuration.Observe(elapsed.Seconds())
}

// ConnectionOpened counts a new connection on transport.
func (c *Collector) ConnectionOpened(transport string) {
	c.connections.WithLabelValues(transport).Inc()
}

// ConnectionClosed counts a finished connection on transport.
func (c *Collector) ConnectionClosed(transport string) {
	c.connections.WithLabelValues(transport).Dec()
}

// ToolCalled records one tool invocation.
func (c *Collector) ToolCalled(tool string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.toolCalls.WithLabelValues(tool, outcome).Inc()
	c.toolLatency.WithLabelValues(tool).Observe(elapsed.Seconds())
}
