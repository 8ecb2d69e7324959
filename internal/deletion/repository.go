package deletion

import (
	"context"
)

// Repository defines the interface for deletion request persistence
type Repository interface {
	Create(ctx context.Context, req DeletionRequest) error
	FindByID(ctx context.Context, id, tenantID string) (*DeletionRequest, error)
	// UpdateStatus moves a request to status and appends update.LogEntries to its
	// log. It returns a conflict error when ExpectedStatus is set and does not match.
	UpdateStatus(ctx context.Context, id, tenantID string, status Status, update StatusUpdate) (*DeletionRequest, error)
	Query(ctx context.Context, filter ListFilter) ([]DeletionRequest, int64, error)
}
