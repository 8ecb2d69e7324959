package retention

import (
	"time"

	"compliance-core/internal/models"
)

// JobStatus is the lifecycle state of an archive run
type JobStatus string

const (
	JobPending    JobStatus = "PENDING"
	JobInProgress JobStatus = "IN_PROGRESS"
	JobCompleted  JobStatus = "COMPLETED"
	JobFailed     JobStatus = "FAILED"
)

// IsFinished reports whether the job reached a terminal state
func (s JobStatus) IsFinished() bool {
	return s == JobCompleted || s == JobFailed
}

// ArchiveJob is the ephemeral record of one archive run
type ArchiveJob struct {
	ID               string     `json:"id"`
	TenantID         string     `json:"tenantId,omitempty"`
	Status           JobStatus  `json:"status"`
	WindowStart      time.Time  `json:"windowStart"`
	WindowEnd        time.Time  `json:"windowEnd"`
	EntriesEligible  int64      `json:"entriesEligible"`
	EntriesProcessed int        `json:"entriesProcessed"`
	BatchIDs         []string   `json:"batchIds"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
}

// ArchiveBatch is the durable record of one archived slice of entries
type ArchiveBatch struct {
	ID          string    `json:"id" bson:"_id"`
	TenantID    string    `json:"tenantId,omitempty" bson:"tenant_id"`
	ArchiveID   string    `json:"archiveId" bson:"archive_id"`
	WindowStart time.Time `json:"windowStart" bson:"window_start"`
	WindowEnd   time.Time `json:"windowEnd" bson:"window_end"`
	EntryCount  int       `json:"entryCount" bson:"entry_count"`
	SizeBytes   int64     `json:"sizeBytes" bson:"size_bytes"`
	Compressed  bool      `json:"compressed" bson:"compressed"`
	StoragePath string    `json:"storagePath" bson:"storage_path"`
	CreatedAt   time.Time `json:"createdAt" bson:"created_at"`
	ExpiresAt   time.Time `json:"expiresAt" bson:"expires_at"`
}

// RestoreStatus is the state of a restore request
type RestoreStatus string

const (
	RestorePending  RestoreStatus = "PENDING"
	RestoreRestored RestoreStatus = "RESTORED"
	RestoreFailed   RestoreStatus = "FAILED"
)

// RestoreRequest records an attempt to bring a batch back from cold storage
type RestoreRequest struct {
	ID          string        `json:"id"`
	BatchID     string        `json:"batchId"`
	TenantID    string        `json:"tenantId,omitempty"`
	Status      RestoreStatus `json:"status"`
	EntryCount  int           `json:"entryCount"`
	Error       string        `json:"error,omitempty"`
	RequestedAt time.Time     `json:"requestedAt"`
	CompletedAt *time.Time    `json:"completedAt,omitempty"`
}

// BatchFilter narrows a batch listing. An empty TenantID lists every tenant.
type BatchFilter struct {
	TenantID      string
	ExpiredBefore *time.Time
	Limit         int
	Offset        int
}

// CleanupResult summarizes a cleanup sweep
type CleanupResult struct {
	DeletedEntries int64          `json:"deletedEntries"`
	DeletedBatches int            `json:"deletedBatches"`
	Failures       []BatchFailure `json:"failures,omitempty"`
}

// BatchFailure is one batch that could not be removed
type BatchFailure struct {
	BatchID string `json:"batchId"`
	Error   string `json:"error"`
}

// Stats describes how entries are spread across the retention tiers
type Stats struct {
	TenantID          string    `json:"tenantId,omitempty"`
	ActiveEntries     int64     `json:"activeEntries"`
	ArchivableEntries int64     `json:"archivableEntries"`
	ArchivedEntries   int64     `json:"archivedEntries"`
	ExpiredEntries    int64     `json:"expiredEntries"`
	BatchCount        int64     `json:"batchCount"`
	ArchivedBytes     int64     `json:"archivedBytes"`
	Policy            Policy    `json:"policy"`
	GeneratedAt       time.Time `json:"generatedAt"`
}

// Policy controls when entries move between tiers
type Policy struct {
	ActiveRetentionDays  int  `json:"activeRetentionDays"`
	ArchiveRetentionDays int  `json:"archiveRetentionDays"`
	ArchiveBatchSize     int  `json:"archiveBatchSize"`
	CompressArchive      bool `json:"compressArchive"`
}

// Policy defaults
const (
	DefaultActiveRetentionDays  = 730
	DefaultArchiveRetentionDays = 1825
	DefaultArchiveBatchSize     = 10000
	DefaultCompressArchive      = true
)

// DefaultPolicy returns the built-in retention policy
func DefaultPolicy() Policy {
	return Policy{
		ActiveRetentionDays:  DefaultActiveRetentionDays,
		ArchiveRetentionDays: DefaultArchiveRetentionDays,
		ArchiveBatchSize:     DefaultArchiveBatchSize,
		CompressArchive:      DefaultCompressArchive,
	}
}

// PolicyUpdate is a partial policy change. Unset fields are left alone,
// cleared fields return to their default.
type PolicyUpdate struct {
	ActiveRetentionDays  models.Optional[int]  `json:"activeRetentionDays"`
	ArchiveRetentionDays models.Optional[int]  `json:"archiveRetentionDays"`
	ArchiveBatchSize     models.Optional[int]  `json:"archiveBatchSize"`
	CompressArchive      models.Optional[bool] `json:"compressArchive"`
}
