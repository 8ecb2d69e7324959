package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the compliance core.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	EncryptionOps      *prometheus.CounterVec
	AuditEntriesLogged *prometheus.CounterVec
	DeletionRequests   *prometheus.CounterVec
	DeletionEntities   *prometheus.CounterVec
	ArchiveJobs        *prometheus.CounterVec
	ArchivedEntries    prometheus.Counter
	ArchiveBatchBytes  prometheus.Histogram
	CleanupDeleted     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EncryptionOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_encryption_operations_total",
			Help: "Encryption engine operations by operation and result",
		}, []string{"operation", "result"}),
		AuditEntriesLogged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_audit_entries_logged_total",
			Help: "Audit entries written, by action",
		}, []string{"action"}),
		DeletionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_deletion_requests_total",
			Help: "Deletion requests reaching a status",
		}, []string{"status"}),
		DeletionEntities: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_deletion_entities_total",
			Help: "Entities handled by deletion cascades, by outcome",
		}, []string{"action"}),
		ArchiveJobs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_archive_jobs_total",
			Help: "Archive jobs finished, by status",
		}, []string{"status"}),
		ArchivedEntries: f.NewCounter(prometheus.CounterOpts{
			Name: "compliance_archived_entries_total",
			Help: "Audit entries moved to cold storage",
		}),
		ArchiveBatchBytes: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "compliance_archive_batch_bytes",
			Help:    "Size of stored archive batches",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		CleanupDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "compliance_cleanup_deleted_total",
			Help: "Records removed by retention cleanup, by kind",
		}, []string{"kind"}),
	}
}

// ObserveEncryption records one engine operation.
func (m *Metrics) ObserveEncryption(operation string, ok bool) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.EncryptionOps.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) IncAuditEntries(action string, n int) {
	if m == nil {
		return
	}
	m.AuditEntriesLogged.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) IncDeletionRequests(status string) {
	if m == nil {
		return
	}
	m.DeletionRequests.WithLabelValues(status).Inc()
}

func (m *Metrics) AddDeletionEntities(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.DeletionEntities.WithLabelValues(action).Add(float64(n))
}

func (m *Metrics) IncArchiveJobs(status string) {
	if m == nil {
		return
	}
	m.ArchiveJobs.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveArchiveBatch(entries int, bytes int64) {
	if m == nil {
		return
	}
	m.ArchivedEntries.Add(float64(entries))
	m.ArchiveBatchBytes.Observe(float64(bytes))
}

func (m *Metrics) AddCleanupDeleted(kind string, n int64) {
	if m == nil || n == 0 {
		return
	}
	m.CleanupDeleted.WithLabelValues(kind).Add(float64(n))
}
