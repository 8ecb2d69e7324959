package audit

import (
	"context"
	"time"
)

// Repository defines the interface for audit data persistence
type Repository interface {
	Create(ctx context.Context, entry AuditEntry) error
	CreateMany(ctx context.Context, entries []AuditEntry) error
	FindByID(ctx context.Context, id, tenantID string) (*AuditEntry, error)
	Query(ctx context.Context, opts QueryOptions) ([]AuditEntry, int64, error)
	FindByEntity(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]AuditEntry, error)
	Count(ctx context.Context, filter Filter) (int64, error)

	// Retention
	DeleteOlderThan(ctx context.Context, before time.Time, tenantID string) (int64, error)
	Archive(ctx context.Context, start, end time.Time, tenantID string) (*ArchiveResult, error)
	Unarchive(ctx context.Context, archiveID string) error
}
