// Package metrics implements the gateway's analytics counters. No call
// history is persisted, only aggregate counters. A nil *Metrics is safe
// to call methods on (every exported method no-ops), so wiring metrics
// in is opt-in at every call site.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gateway's Prometheus collectors.
type Metrics struct {
	CallsTotal      *prometheus.CounterVec
	CallDuration    *prometheus.HistogramVec
	RefreshDuration prometheus.Histogram
	CacheSize       prometheus.Gauge
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		CallsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "toolgateway",
				Name:      "calls_total",
				Help:      "Total tool calls routed to upstreams, by server, tool, and outcome",
			},
			[]string{"server_id", "tool_name", "status"},
		),
		CallDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "toolgateway",
				Name:      "call_duration_seconds",
				Help:      "Upstream call duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"server_id"},
		),
		RefreshDuration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "toolgateway",
				Name:      "refresh_duration_seconds",
				Help:      "Catalog refresh duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),
		CacheSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Namespace: "toolgateway",
				Name:      "cache_size",
				Help:      "Number of tool records currently cached",
			},
		),
	}
}

// ObserveCall records the outcome of one upstream tool call.
func (m *Metrics) ObserveCall(serverID, toolName, status string, seconds float64) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(serverID, toolName, status).Inc()
	m.CallDuration.WithLabelValues(serverID).Observe(seconds)
}

// ObserveRefresh records one completed catalog refresh.
func (m *Metrics) ObserveRefresh(seconds float64, cacheSize int) {
	if m == nil {
		return
	}
	m.RefreshDuration.Observe(seconds)
	m.CacheSize.Set(float64(cacheSize))
}
