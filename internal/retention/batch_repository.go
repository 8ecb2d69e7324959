package retention

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"compliance-core/internal/models"
)

// BatchRepository persists archive batch records
type BatchRepository interface {
	Create(ctx context.Context, batch ArchiveBatch) error
	FindByID(ctx context.Context, id string) (*ArchiveBatch, error)
	// List returns batches newest first
	List(ctx context.Context, filter BatchFilter) ([]ArchiveBatch, int64, error)
	Delete(ctx context.Context, id string) error
	// Totals returns the batch count and stored bytes for a tenant, or all tenants when empty
	Totals(ctx context.Context, tenantID string) (count int64, sizeBytes int64, err error)
}

func batchNotFound(id string) error {
	return models.NewNotFoundError(models.CodeBatchNotFound, fmt.Sprintf("archive batch not found: %s", id))
}

// MemoryBatchRepository keeps batch records in process memory
type MemoryBatchRepository struct {
	mu      sync.RWMutex
	batches map[string]ArchiveBatch
}

// NewMemoryBatchRepository creates an empty repository
func NewMemoryBatchRepository() *MemoryBatchRepository {
	return &MemoryBatchRepository{batches: make(map[string]ArchiveBatch)}
}

func (r *MemoryBatchRepository) Create(ctx context.Context, batch ArchiveBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.batches[batch.ID]; exists {
		return fmt.Errorf("failed to create archive batch: duplicate id %s", batch.ID)
	}
	r.batches[batch.ID] = batch
	return nil
}

func (r *MemoryBatchRepository) FindByID(ctx context.Context, id string) (*ArchiveBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch, ok := r.batches[id]
	if !ok {
		return nil, batchNotFound(id)
	}
	return &batch, nil
}

func (r *MemoryBatchRepository) List(ctx context.Context, filter BatchFilter) ([]ArchiveBatch, int64, error) {
	r.mu.RLock()
	matched := make([]ArchiveBatch, 0)
	for _, b := range r.batches {
		if !visibleTo(b, filter.TenantID) {
			continue
		}
		if filter.ExpiredBefore != nil && !b.ExpiresAt.Before(*filter.ExpiredBefore) {
			continue
		}
		matched = append(matched, b)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	if filter.Offset >= len(matched) {
		return []ArchiveBatch{}, total, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func (r *MemoryBatchRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.batches[id]; !ok {
		return batchNotFound(id)
	}
	delete(r.batches, id)
	return nil
}

func (r *MemoryBatchRepository) Totals(ctx context.Context, tenantID string) (int64, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var count, size int64
	for _, b := range r.batches {
		if !visibleTo(b, tenantID) {
			continue
		}
		count++
		size += b.SizeBytes
	}
	return count, size, nil
}

// visibleTo reports whether a tenant can see the batch. Batches archived
// across all tenants carry no tenant and are visible to everyone.
func visibleTo(b ArchiveBatch, tenantID string) bool {
	return tenantID == "" || b.TenantID == "" || b.TenantID == tenantID
}
