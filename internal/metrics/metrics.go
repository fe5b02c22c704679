// Package metrics exposes the control plane's Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "raydock"

// Metric label values.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"

	DirectionUp   = "up"
	DirectionDown = "down"
)

// Metrics holds the traffic and lifecycle metrics. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	accountedBytes  *prometheus.CounterVec
	quotaDisables   prometheus.Counter
	pollFailures    prometheus.Counter
	applies         *prometheus.CounterVec
	restarts        *prometheus.CounterVec
	enabledInbounds prometheus.Gauge
	pollDuration    prometheus.Histogram
	xrayRunning     prometheus.Gauge
	hostCPU         prometheus.Gauge
	hostMemUsed     prometheus.Gauge
	hostConns       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg when reg is
// not nil.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		accountedBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traffic_accounted_bytes_total",
			Help:      "Bytes added to inbound usage counters.",
		}, []string{"direction"}),
		quotaDisables: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_disables_total",
			Help:      "Inbounds disabled for reaching their traffic quota.",
		}),
		pollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traffic_poll_failures_total",
			Help:      "Traffic polling cycles that ended with an error.",
		}),
		applies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_applies_total",
			Help:      "Configuration apply attempts.",
		}, []string{"result"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "xray_restarts_total",
			Help:      "xray restart attempts.",
		}, []string{"result"}),
		enabledInbounds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inbounds_enabled",
			Help:      "Enabled inbounds seen by the last polling cycle.",
		}),
		pollDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "traffic_poll_duration_seconds",
			Help:      "Duration of traffic polling cycles.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		xrayRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "xray_running",
			Help:      "1 when xray is believed to be running.",
		}),
		hostCPU: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_percent",
			Help:      "Host CPU utilisation.",
		}),
		hostMemUsed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_bytes",
			Help:      "Host memory in use.",
		}),
		hostConns: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_connections",
			Help:      "Open host sockets by protocol.",
		}, []string{"protocol"}),
	}

	if reg != nil {
		for _, c := range []prometheus.Collector{
			m.accountedBytes, m.quotaDisables, m.pollFailures, m.applies,
			m.restarts, m.enabledInbounds, m.pollDuration, m.xrayRunning,
			m.hostCPU, m.hostMemUsed, m.hostConns,
		} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}

	return m, nil
}

func result(err error) string {
	if err != nil {
		return ResultFailed
	}
	return ResultSuccess
}

// RecordTraffic adds accounted deltas.
func (m *Metrics) RecordTraffic(up, down int64) {
	if m == nil {
		return
	}
	if up > 0 {
		m.accountedBytes.WithLabelValues(DirectionUp).Add(float64(up))
	}
	if down > 0 {
		m.accountedBytes.WithLabelValues(DirectionDown).Add(float64(down))
	}
}

// RecordQuotaDisable counts an inbound disabled by its quota.
func (m *Metrics) RecordQuotaDisable() {
	if m == nil {
		return
	}
	m.quotaDisables.Inc()
}

// RecordPoll records one polling cycle.
func (m *Metrics) RecordPoll(enabled int, took time.Duration, err error) {
	if m == nil {
		return
	}
	m.pollDuration.Observe(took.Seconds())
	if err != nil {
		m.pollFailures.Inc()
		return
	}
	m.enabledInbounds.Set(float64(enabled))
}

// RecordApply records an apply attempt.
func (m *Metrics) RecordApply(err error) {
	if m == nil {
		return
	}
	m.applies.WithLabelValues(result(err)).Inc()
}

// RecordRestart records a restart attempt and the resulting run state.
func (m *Metrics) RecordRestart(err error, running bool) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(result(err)).Inc()
	m.SetRunning(running)
}

// SetRunning publishes the run state.
func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.xrayRunning.Set(1)
	} else {
		m.xrayRunning.Set(0)
	}
}

// RecordHost publishes host gauges.
func (m *Metrics) RecordHost(cpuPercent float64, memUsed uint64, tcp, udp int) {
	if m == nil {
		return
	}
	m.hostCPU.Set(cpuPercent)
	m.hostMemUsed.Set(float64(memUsed))
	m.hostConns.WithLabelValues("tcp").Set(float64(tcp))
	m.hostConns.WithLabelValues("udp").Set(float64(udp))
}
