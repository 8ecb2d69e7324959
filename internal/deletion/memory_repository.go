package deletion

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"compliance-core/internal/models"
)

// MemoryRepository keeps deletion requests in process memory
type MemoryRepository struct {
	mu       sync.RWMutex
	requests map[string]DeletionRequest
	now      func() time.Time
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		requests: make(map[string]DeletionRequest),
		now:      time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, req DeletionRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.requests[req.ID]; exists {
		return fmt.Errorf("failed to create deletion request: duplicate id %s", req.ID)
	}
	r.requests[req.ID] = copyRequest(req)
	return nil
}

func (r *MemoryRepository) FindByID(ctx context.Context, id, tenantID string) (*DeletionRequest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	req, ok := r.requests[id]
	if !ok || req.TenantID != tenantID {
		return nil, requestNotFound(id)
	}
	out := copyRequest(req)
	return &out, nil
}

func (r *MemoryRepository) UpdateStatus(ctx context.Context, id, tenantID string, status Status, update StatusUpdate) (*DeletionRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	req, ok := r.requests[id]
	if !ok || req.TenantID != tenantID {
		return nil, requestNotFound(id)
	}
	if update.ExpectedStatus != "" && req.Status != update.ExpectedStatus {
		return nil, statusMismatch(id, req.Status, update.ExpectedStatus)
	}

	applyUpdate(&req, status, update, r.now().UTC())
	r.requests[id] = req

	out := copyRequest(req)
	return &out, nil
}

func (r *MemoryRepository) Query(ctx context.Context, filter ListFilter) ([]DeletionRequest, int64, error) {
	r.mu.RLock()
	matched := make([]DeletionRequest, 0)
	for _, req := range r.requests {
		if req.TenantID != filter.TenantID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.EntityType != "" && req.EntityType != filter.EntityType {
			continue
		}
		if filter.SubjectID != "" && req.SubjectID != filter.SubjectID {
			continue
		}
		matched = append(matched, copyRequest(req))
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
		return []DeletionRequest{}, total, nil
	}
	end := len(matched)
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}
	return matched[filter.Offset:end], total, nil
}

func applyUpdate(req *DeletionRequest, status Status, update StatusUpdate, now time.Time) {
	req.Status = status
	req.UpdatedAt = now
	req.DeletionLog = append(req.DeletionLog, update.LogEntries...)
	if update.Error != "" {
		req.Error = update.Error
	}
	if update.Tally != nil {
		req.Tally = *update.Tally
	}
	if update.StartedAt != nil {
		req.StartedAt = update.StartedAt
	}
	if update.CompletedAt != nil {
		req.CompletedAt = update.CompletedAt
	}
}

func copyRequest(req DeletionRequest) DeletionRequest {
	req.DeletionLog = append([]LogEntry(nil), req.DeletionLog...)
	if req.DeletionLog == nil {
		req.DeletionLog = []LogEntry{}
	}
	return req
}

func requestNotFound(id string) error {
	return models.NewNotFoundError(models.CodeRequestNotFound, fmt.Sprintf("deletion request not found: %s", id))
}

func statusMismatch(id string, actual, expected Status) error {
	return models.NewConflictError(models.CodeAlreadyProcessed,
		fmt.Sprintf("deletion request %s is %s, expected %s", id, actual, expected))
}
