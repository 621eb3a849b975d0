// Package metrics exposes Prometheus counters and gauges for the
// monitor supervisor: records emitted per monitor kind, monitor
// restarts triggered by config reload, and trace session buffer loss
// (spec: "Loss of events reported by the session (buffer overruns) is
// counted and emitted as a warning record").
package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "logmonitor"

// Collector is the central place for all process metrics.
type Collector struct {
	RecordsEmitted   *prometheus.CounterVec
	MonitorsActive   *prometheus.GaugeVec
	MonitorRestarts  *prometheus.CounterVec
	MonitorErrors    *prometheus.CounterVec
	TraceBufferLoss  prometheus.Counter
	ConfigReloads    *prometheus.CounterVec
	SystemGoroutines prometheus.Gauge

	registry *prometheus.Registry
	mu       sync.Mutex
	started  bool
	stop     chan struct{}
}

// NewCollector builds a Collector on a private registry, so tests and
// multiple instances never collide on prometheus's default registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{registry: registry, stop: make(chan struct{})}

	c.RecordsEmitted = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_emitted_total",
			Help:      "Total number of records written by each monitor kind.",
		},
		[]string{"source_kind"},
	)

	c.MonitorsActive = promauto.With(registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monitors_active",
			Help:      "Number of currently running monitors by kind.",
		},
		[]string{"source_kind"},
	)

	c.MonitorRestarts = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_restarts_total",
			Help:      "Total number of times a monitor was stopped and restarted by a config reload.",
		},
		[]string{"source_kind"},
	)

	c.MonitorErrors = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "monitor_errors_total",
			Help:      "Total number of monitors that failed to (re)start.",
		},
		[]string{"source_kind"},
	)

	c.TraceBufferLoss = promauto.With(registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trace_buffer_loss_total",
			Help:      "Total number of trace events dropped due to session buffer overruns.",
		},
	)

	c.ConfigReloads = promauto.With(registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of config reload attempts by outcome.",
		},
		[]string{"outcome"},
	)

	c.SystemGoroutines = promauto.With(registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines.",
		},
	)

	return c
}

// Start begins periodic collection of runtime metrics.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return
	}
	c.started = true

	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.SystemGoroutines.Set(float64(runtime.NumGoroutine()))
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop halts periodic collection.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return
	}
	c.started = false
	close(c.stop)
}

// Registry returns the Prometheus registry backing this Collector, for
// wiring into an HTTP handler.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordEmitted implements monitor.MetricsRecorder: it counts one more
// record written by the given source kind.
func (c *Collector) RecordEmitted(sourceKind string) {
	c.RecordsEmitted.WithLabelValues(sourceKind).Inc()
}

// AddBufferLoss implements monitor.MetricsRecorder: it adds n dropped
// trace events to the running buffer-loss total.
func (c *Collector) AddBufferLoss(n uint64) {
	c.TraceBufferLoss.Add(float64(n))
}

// SetMonitorsActive records how many monitors of a given source kind
// are currently running (0 or 1 for EventLog/Trace, an arbitrary count
// for File).
func (c *Collector) SetMonitorsActive(sourceKind string, n int) {
	c.MonitorsActive.WithLabelValues(sourceKind).Set(float64(n))
}

// IncMonitorRestart counts one config-reload-triggered stop+start of a
// source kind.
func (c *Collector) IncMonitorRestart(sourceKind string) {
	c.MonitorRestarts.WithLabelValues(sourceKind).Inc()
}

// IncConfigReload counts one reload attempt by its outcome ("applied",
// "invalid", "partial").
func (c *Collector) IncConfigReload(outcome string) {
	c.ConfigReloads.WithLabelValues(outcome).Inc()
}

// IncMonitorError counts one failed (re)start of a monitor of the given
// source kind.
func (c *Collector) IncMonitorError(sourceKind string) {
	c.MonitorErrors.WithLabelValues(sourceKind).Inc()
}
