package infra

import (
	"strconv"
	"sync/atomic"
	"time"

	"stealth_twap/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "stwap"

// Metrics exports execution counters to Prometheus and keeps atomic
// totals for in-process snapshots. Thread-safe.
type Metrics struct {
	slices      *prometheus.CounterVec
	volume      *prometheus.CounterVec
	sliceSize   prometheus.Histogram
	deferrals   prometheus.Counter
	rejections  *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	connections prometheus.Gauge

	slicesTotal      atomic.Uint64
	deferralsTotal   atomic.Uint64
	rejectionsTotal  atomic.Uint64
	alertsTotal      atomic.Uint64
	activeConnection atomic.Int32
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		slices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "slices_executed_total",
			Help:      "Slices accepted by the venue.",
		}, []string{"asset"}),
		volume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "executed_volume_total",
			Help:      "Executed size in base units.",
		}, []string{"asset"}),
		sliceSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "slice_size",
			Help:      "Size of executed slices in base units.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		deferrals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "mev_deferrals_total",
			Help:      "Slice attempts rescheduled by the deferral check.",
		}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "rejections_total",
			Help:      "Rejected calls by error kind.",
		}, []string{"kind"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "alerts_total",
			Help:      "Execution quality alerts by kind.",
		}, []string{"kind"}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "feed_connections",
			Help:      "Open price feed connections.",
		}),
	}

	reg.MustRegister(m.slices, m.volume, m.sliceSize, m.deferrals, m.rejections, m.alerts, m.connections)
	return m
}

// SliceExecuted records one executed slice.
func (m *Metrics) SliceExecuted(asset uint32, size int64) {
	label := strconv.FormatUint(uint64(asset), 10)
	m.slices.WithLabelValues(label).Inc()
	m.volume.WithLabelValues(label).Add(float64(size))
	m.sliceSize.Observe(float64(size))
	m.slicesTotal.Add(1)
}

// Deferred records one deferral.
func (m *Metrics) Deferred() {
	m.deferrals.Inc()
	m.deferralsTotal.Add(1)
}

// Rejected records one rejection.
func (m *Metrics) Rejected(kind domain.Kind) {
	m.rejections.WithLabelValues(kind.String()).Inc()
	m.rejectionsTotal.Add(1)
}

// Alert records one tracker alert.
func (m *Metrics) Alert(kind string) {
	m.alerts.WithLabelValues(kind).Inc()
	m.alertsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.connections.Inc()
	m.activeConnection.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.connections.Dec()
	m.activeConnection.Add(-1)
}

// MetricsSnapshot is a point-in-time view of the totals.
type MetricsSnapshot struct {
	SlicesExecuted    uint64
	Deferrals         uint64
	Rejections        uint64
	Alerts            uint64
	ActiveConnections int32
	Timestamp         time.Time
}

// Snapshot returns current totals.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		SlicesExecuted:    m.slicesTotal.Load(),
		Deferrals:         m.deferralsTotal.Load(),
		Rejections:        m.rejectionsTotal.Load(),
		Alerts:            m.alertsTotal.Load(),
		ActiveConnections: m.activeConnection.Load(),
		Timestamp:         time.Now(),
	}
}
