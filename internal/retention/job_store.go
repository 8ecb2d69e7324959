package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"compliance-core/internal/models"
)

// Retention of job and restore records once they finish
const (
	RunningRecordTTL  = 24 * time.Hour
	FinishedRecordTTL = time.Hour
)

// JobStore keeps ephemeral archive jobs and restore requests
type JobStore interface {
	SaveJob(ctx context.Context, job ArchiveJob) error
	GetJob(ctx context.Context, id string) (*ArchiveJob, error)
	SaveRestore(ctx context.Context, req RestoreRequest) error
	GetRestore(ctx context.Context, id string) (*RestoreRequest, error)
}

func jobNotFound(id string) error {
	return models.NewNotFoundError(models.CodeJobNotFound, fmt.Sprintf("archive job not found: %s", id))
}

func restoreNotFound(id string) error {
	return models.NewNotFoundError(models.CodeJobNotFound, fmt.Sprintf("restore request not found: %s", id))
}

// MemoryJobStore keeps records in process memory and evicts finished ones
// after FinishedRecordTTL
type MemoryJobStore struct {
	mu       sync.Mutex
	jobs     map[string]ArchiveJob
	restores map[string]RestoreRequest
	now      func() time.Time
}

// MemoryJobStoreOption configures a MemoryJobStore
type MemoryJobStoreOption func(*MemoryJobStore)

// WithStoreClock sets the clock eviction is measured against. It must be the
// clock that stamps CompletedAt on the records.
func WithStoreClock(now func() time.Time) MemoryJobStoreOption {
	return func(s *MemoryJobStore) { s.now = now }
}

// NewMemoryJobStore creates an empty store
func NewMemoryJobStore(opts ...MemoryJobStoreOption) *MemoryJobStore {
	s := &MemoryJobStore{
		jobs:     make(map[string]ArchiveJob),
		restores: make(map[string]RestoreRequest),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryJobStore) SaveJob(ctx context.Context, job ArchiveJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job.BatchIDs = append([]string(nil), job.BatchIDs...)
	s.jobs[job.ID] = job
	s.evictLocked()
	return nil
}

func (s *MemoryJobStore) GetJob(ctx context.Context, id string) (*ArchiveJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	job, ok := s.jobs[id]
	if !ok {
		return nil, jobNotFound(id)
	}
	job.BatchIDs = append([]string(nil), job.BatchIDs...)
	return &job, nil
}

func (s *MemoryJobStore) SaveRestore(ctx context.Context, req RestoreRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restores[req.ID] = req
	s.evictLocked()
	return nil
}

func (s *MemoryJobStore) GetRestore(ctx context.Context, id string) (*RestoreRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictLocked()
	req, ok := s.restores[id]
	if !ok {
		return nil, restoreNotFound(id)
	}
	return &req, nil
}

// Len returns the number of retained jobs and restore requests
func (s *MemoryJobStore) Len() (jobs, restores int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs), len(s.restores)
}

func (s *MemoryJobStore) evictLocked() {
	cutoff := s.now().Add(-FinishedRecordTTL)
	for id, job := range s.jobs {
		if job.Status.IsFinished() && job.CompletedAt != nil && job.CompletedAt.Before(cutoff) {
			delete(s.jobs, id)
		}
	}
	for id, req := range s.restores {
		if req.Status != RestorePending && req.CompletedAt != nil && req.CompletedAt.Before(cutoff) {
			delete(s.restores, id)
		}
	}
}
