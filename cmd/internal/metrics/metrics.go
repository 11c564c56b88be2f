// Package metrics exposes Prometheus collectors for the tracker and HTTP layer.
package metrics

import (
	"net/http"
	"strconv"

	"chattrack/cmd/internal/tracker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chattrack"

// Metrics owns a private registry so tests can build independent instances.
type Metrics struct {
	reg *prometheus.Registry

	ops        *prometheus.CounterVec
	live       prometheus.Gauge
	departed   prometheus.Gauge
	terminated prometheus.Histogram

	httpRequests *prometheus.CounterVec
	wsSessions   prometheus.Gauge
}

// New constructs and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "operations_total",
			Help:      "Tracker operations by op and result (found, not_found).",
		}, []string{"op", "result"}),
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "live_records",
			Help:      "Live membership records in the index.",
		}),
		departed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "tracker",
			Name:      "departed_records",
			Help:      "Departed membership records awaiting termination.",
		}),
		terminated: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "terminate_total_contributions",
			Help:      "Contribution totals returned by chat terminations.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		wsSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ws",
			Name:      "sessions",
			Help:      "Open websocket sessions.",
		}),
	}

	reg.MustRegister(
		m.ops, m.live, m.departed, m.terminated, m.httpRequests, m.wsSessions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe implements tracker.Observer.
func (m *Metrics) Observe(ev tracker.Event) {
	if m == nil {
		return
	}
	result := "found"
	if !ev.Found {
		result = "not_found"
	}
	m.ops.WithLabelValues(ev.Op, result).Inc()
	m.live.Set(float64(ev.Live))
	m.departed.Set(float64(ev.Departed))
	if ev.Op == tracker.OpTerminate {
		m.terminated.Observe(float64(ev.Count))
	}
}

// ObserveHTTP counts one served request.
func (m *Metrics) ObserveHTTP(method string, status int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status/100)+"xx").Inc()
}

// SessionOpened and SessionClosed track websocket session count.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.wsSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.wsSessions.Dec()
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
