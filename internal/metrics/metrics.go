// Package metrics holds the Prometheus collectors of the point store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pointstore"

// Metrics groups every collector. A nil *Metrics is valid and records
// nothing, so components can run without a registry in tests.
type Metrics struct {
	Requests        *prometheus.CounterVec
	RequestErrors   prometheus.Counter
	RequestDuration *prometheus.HistogramVec
	RecordsWritten  prometheus.Counter
	RecordsRead     prometheus.Counter
	UnitsCreated    prometheus.Counter
	UnitsRenamed    prometheus.Counter
	ConnectionsOpen prometheus.Gauge
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	JournalReplayed prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests handled, by type.",
		}, []string{"type"}),
		RequestErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_errors_total",
			Help:      "Requests that closed their connection with an error.",
		}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time spent handling a decoded request, by type.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"type"}),
		RecordsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Records appended to storage units.",
		}),
		RecordsRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Records returned by range queries.",
		}),
		UnitsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_created_total",
			Help:      "Storage units created.",
		}),
		UnitsRenamed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_renamed_total",
			Help:      "Storage units renamed to match their content on close.",
		}),
		ConnectionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Client connections currently open.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Range queries answered from the result cache.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Range queries that had to read storage units.",
		}),
		JournalReplayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "journal_replayed_records_total",
			Help:      "Records re-applied from the PUT journal at startup.",
		}),
	}
}

func (m *Metrics) ObserveRequest(typ string, seconds float64) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(typ).Inc()
	m.RequestDuration.WithLabelValues(typ).Observe(seconds)
}

func (m *Metrics) RequestFailed() {
	if m != nil {
		m.RequestErrors.Inc()
	}
}

func (m *Metrics) AddRecordsWritten(n int) {
	if m != nil {
		m.RecordsWritten.Add(float64(n))
	}
}

func (m *Metrics) AddRecordsRead(n int) {
	if m != nil {
		m.RecordsRead.Add(float64(n))
	}
}

func (m *Metrics) UnitCreated() {
	if m != nil {
		m.UnitsCreated.Inc()
	}
}

func (m *Metrics) UnitRenamed() {
	if m != nil {
		m.UnitsRenamed.Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.ConnectionsOpen.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.ConnectionsOpen.Dec()
	}
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.CacheHits.Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.CacheMisses.Inc()
	}
}

func (m *Metrics) AddJournalReplayed(n int) {
	if m != nil {
		m.JournalReplayed.Add(float64(n))
	}
}
