// Package metrics declares the Prometheus collectors of the pipeline and the
// HTTP surface.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion
	BatchesCommitted prometheus.Counter
	RowsIngested     prometheus.Counter
	RowsRejected     *prometheus.CounterVec // by reason: outlier, date, malformed, duplicate
	FetchDuration    *prometheus.HistogramVec

	// Reference data and analysis
	CommunesSynced prometheus.Counter
	AnalysisGroups prometheus.Counter

	// Jobs
	JobsTotal   *prometheus.CounterVec // by kind and outcome
	JobDuration *prometheus.HistogramVec
	QueueDepth  prometheus.Gauge

	// HTTP
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg, the default registerer when nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BatchesCommitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dvf_batches_committed_total",
			Help: "Number of transaction batches committed",
		}),
		RowsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "dvf_rows_ingested_total",
			Help: "Number of transaction rows stored",
		}),
		RowsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dvf_rows_rejected_total",
			Help: "Number of source rows not stored, by reason",
		}, []string{"reason"}),
		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "upstream_fetch_duration_seconds",
			Help:    "Duration of upstream downloads",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"source"}),

		CommunesSynced: factory.NewCounter(prometheus.CounterOpts{
			Name: "communes_synced_total",
			Help: "Number of commune rows upserted",
		}),
		AnalysisGroups: factory.NewCounter(prometheus.CounterOpts{
			Name: "market_analysis_groups_total",
			Help: "Number of market analysis groups written",
		}),

		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "jobs_total",
			Help: "Number of processed jobs by kind and outcome",
		}, []string{"kind", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "job_duration_seconds",
			Help:    "Duration of processed jobs",
			Buckets: prometheus.ExponentialBuckets(0.5, 4, 8),
		}, []string{"kind"}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "job_queue_depth",
			Help: "Number of jobs waiting in the queue",
		}),

		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests by method, path and status code",
		}, []string{"method", "path", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

func (m *Metrics) BatchCommitted(rows int) {
	if m == nil {
		return
	}
	m.BatchesCommitted.Inc()
	m.RowsIngested.Add(float64(rows))
}

func (m *Metrics) Rejected(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.RowsRejected.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) ObserveFetch(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.WithLabelValues(source).Observe(d.Seconds())
}

func (m *Metrics) Communes(n int) {
	if m == nil {
		return
	}
	m.CommunesSynced.Add(float64(n))
}

func (m *Metrics) Groups(n int) {
	if m == nil {
		return
	}
	m.AnalysisGroups.Add(float64(n))
}

func (m *Metrics) Job(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.JobsTotal.WithLabelValues(kind, outcome).Inc()
	m.JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) HTTPRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
