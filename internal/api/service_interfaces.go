package api

import (
	"context"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/deletion"
	"compliance-core/internal/export"
	"compliance-core/internal/retention"
)

// ExportService is the read side of the audit log used by the audit routes
type ExportService interface {
	ExportToJSON(ctx context.Context, opts export.Options) ([]byte, error)
	ExportToCSV(ctx context.Context, opts export.Options) ([]byte, error)
	GetAggregations(ctx context.Context, tenantID string, start, end *time.Time) (*export.Aggregations, error)
	Search(ctx context.Context, tenantID, term string, limit int) ([]audit.AuditEntry, bool, error)
	GetDailySummary(ctx context.Context, tenantID string, day time.Time) (*export.DailySummary, error)
	GetEntityHistory(ctx context.Context, tenantID string, entityType audit.EntityType, entityID string) ([]audit.AuditEntry, error)
}

// DeletionService manages right-to-be-forgotten requests
type DeletionService interface {
	CreateRequest(ctx context.Context, actor audit.Actor, in deletion.CreateRequestInput) (*deletion.DeletionRequest, error)
	ProcessRequest(ctx context.Context, actor audit.Actor, id string) (*deletion.DeletionRequest, error)
	CancelRequest(ctx context.Context, actor audit.Actor, id, reason string) (*deletion.DeletionRequest, error)
	GetRequest(ctx context.Context, tenantID, id string) (*deletion.DeletionRequest, error)
	ListRequests(ctx context.Context, filter deletion.ListFilter) ([]deletion.DeletionRequest, int64, error)
	GetDependentEntities(entityType audit.EntityType) ([]deletion.EntityDependency, error)
}

// RetentionService manages archival of the audit log
type RetentionService interface {
	GetPolicy() retention.Policy
	UpdatePolicy(update retention.PolicyUpdate) (retention.Policy, error)
	ArchiveOldEntries(ctx context.Context, tenantID string) (*retention.ArchiveJob, error)
	CleanupExpired(ctx context.Context, tenantID string) (*retention.CleanupResult, error)
	RestoreArchive(ctx context.Context, batchID, tenantID string) (*retention.RestoreRequest, []audit.AuditEntry, error)
	GetJob(ctx context.Context, id string) (*retention.ArchiveJob, error)
	ListBatches(ctx context.Context, filter retention.BatchFilter) ([]retention.ArchiveBatch, int64, error)
	GetStats(ctx context.Context, tenantID string) (*retention.Stats, error)
}

var (
	_ ExportService    = (*export.Service)(nil)
	_ DeletionService  = (*deletion.Orchestrator)(nil)
	_ RetentionService = (*retention.Service)(nil)
)
