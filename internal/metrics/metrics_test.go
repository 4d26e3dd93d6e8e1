package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveRequest("get", 0.1)
	m.RequestFailed()
	m.AddRecordsWritten(3)
	m.UnitCreated()
	m.ConnectionOpened()
	m.ConnectionClosed()
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveRequest("put", 0.01)
	m.ObserveRequest("put", 0.02)
	m.AddRecordsWritten(5)
	m.UnitCreated()
	m.UnitRenamed()
	m.ConnectionOpened()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("put")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.RecordsWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UnitsRenamed))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsOpen))
}
