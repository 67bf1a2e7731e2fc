// Package jobs provides metrics for the pipeline's background engines.
package jobs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricBackgroundJobsTotal      = "background_jobs_total"
	MetricBackgroundJobsDuration   = "background_jobs_duration_seconds"
	MetricBackgroundJobErrorsTotal = "background_job_errors_total"
	MetricIngestQueueDepth         = "ingest_queue_depth"
	MetricIngestBatchSize          = "ingest_batch_size"
	MetricRecordsWrittenTotal      = "audit_records_written_total"
	MetricRelayEventsTotal         = "relay_events_total"
	MetricEscalationsTotal         = "sla_escalations_total"
	MetricRecordsArchivedTotal     = "retention_records_archived_total"
	MetricRecordsDeletedTotal      = "retention_records_deleted_total"
)

// Job type constants for labeling.
const (
	JobTypeIngestFlush    = "ingest_flush"
	JobTypeSlaReconcile   = "sla_reconcile"
	JobTypeRetentionCycle = "retention_cycle"
	JobTypeRelayDispatch  = "relay_dispatch"
)

// Status constants for job completion.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics contains Prometheus metrics for the background engines.
// All operations are thread-safe.
type Metrics struct {
	jobsTotal    *prometheus.CounterVec
	jobsDuration *prometheus.HistogramVec
	jobErrors    *prometheus.CounterVec

	queueDepth      prometheus.Gauge
	batchSize       prometheus.Histogram
	recordsWritten  prometheus.Counter
	relayEvents     *prometheus.CounterVec
	escalations     *prometheus.CounterVec
	recordsArchived prometheus.Counter
	recordsDeleted  prometheus.Counter
}

// NewMetrics creates and returns a new Metrics instance with all collectors
// initialized. The metrics are not registered; call Register to register them
// with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobsTotal,
				Help: "Total number of background job executions by type and status",
			},
			[]string{"job_type", "status"},
		),
		jobsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricBackgroundJobsDuration,
				Help:    "Histogram of background job duration in seconds by job type",
				Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0, 120.0},
			},
			[]string{"job_type"},
		),
		jobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricBackgroundJobErrorsTotal,
				Help: "Total number of background job errors by type and error type",
			},
			[]string{"job_type", "error_type"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: MetricIngestQueueDepth,
				Help: "Current number of records waiting in the ingest queue",
			},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    MetricIngestBatchSize,
				Help:    "Histogram of flushed ingest batch sizes",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
			},
		),
		recordsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRecordsWrittenTotal,
				Help: "Total number of audit records flushed to storage",
			},
		),
		relayEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRelayEventsTotal,
				Help: "Total number of domain events relayed by action and status",
			},
			[]string{"action", "status"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricEscalationsTotal,
				Help: "Total number of SLA escalations by level",
			},
			[]string{"level"},
		),
		recordsArchived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRecordsArchivedTotal,
				Help: "Total number of audit records written to the archive sink",
			},
		),
		recordsDeleted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricRecordsDeletedTotal,
				Help: "Total number of audit records deleted by retention",
			},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncJobsTotal increments the jobs total counter.
func (m *Metrics) IncJobsTotal(jobType, status string) {
	m.jobsTotal.WithLabelValues(jobType, status).Inc()
}

// ObserveJobDuration records a job duration sample in seconds.
func (m *Metrics) ObserveJobDuration(jobType string, seconds float64) {
	m.jobsDuration.WithLabelValues(jobType).Observe(seconds)
}

// IncJobErrors increments the job errors counter.
func (m *Metrics) IncJobErrors(jobType, errorType string) {
	m.jobErrors.WithLabelValues(jobType, errorType).Inc()
}

// SetQueueDepth records the current ingest queue depth.
func (m *Metrics) SetQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

// ObserveBatchSize records the size of a flushed batch and counts its records.
func (m *Metrics) ObserveBatchSize(size int) {
	m.batchSize.Observe(float64(size))
	m.recordsWritten.Add(float64(size))
}

// IncRelayEvents increments the relayed events counter.
func (m *Metrics) IncRelayEvents(action, status string) {
	m.relayEvents.WithLabelValues(action, status).Inc()
}

// IncEscalations increments the escalation counter for a level.
func (m *Metrics) IncEscalations(level string) {
	m.escalations.WithLabelValues(level).Inc()
}

// AddRecordsArchived counts records written to the archive sink.
func (m *Metrics) AddRecordsArchived(n int) {
	m.recordsArchived.Add(float64(n))
}

// AddRecordsDeleted counts records deleted by retention.
func (m *Metrics) AddRecordsDeleted(n int) {
	m.recordsDeleted.Add(float64(n))
}

// Collectors returns all Prometheus collectors for registration and testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.jobsTotal,
		m.jobsDuration,
		m.jobErrors,
		m.queueDepth,
		m.batchSize,
		m.recordsWritten,
		m.relayEvents,
		m.escalations,
		m.recordsArchived,
		m.recordsDeleted,
	}
}
