package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.BatchCommitted(10)
	m.BatchCommitted(5)
	m.Rejected("outlier", 3)
	m.Rejected("date", 0)
	m.Job("refresh", nil, time.Second)
	m.Job("refresh", errors.New("boom"), time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.BatchesCommitted))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.RowsIngested))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RowsRejected.WithLabelValues("outlier")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("refresh", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsTotal.WithLabelValues("refresh", "success")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.BatchCommitted(1)
		m.Rejected("outlier", 1)
		m.ObserveFetch("dvf", time.Second)
		m.Communes(1)
		m.Groups(1)
		m.Job("x", nil, time.Second)
		m.SetQueueDepth(1)
		m.HTTPRequest("GET", "/health", 200, time.Millisecond)
	})
}

func TestStatusLabel(t *testing.T) {
	assert.Equal(t, "2xx", statusLabel(204))
	assert.Equal(t, "4xx", statusLabel(404))
	assert.Equal(t, "5xx", statusLabel(503))
}
