package retention

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/metrics"
	"compliance-core/internal/models"
	"compliance-core/pkg/logger"

	"github.com/google/uuid"
)

// archivePayload is the document written to cold storage for one batch
type archivePayload struct {
	BatchID     string             `json:"batchId"`
	ArchiveID   string             `json:"archiveId"`
	TenantID    string             `json:"tenantId,omitempty"`
	WindowStart time.Time          `json:"windowStart"`
	WindowEnd   time.Time          `json:"windowEnd"`
	CreatedAt   time.Time          `json:"createdAt"`
	Entries     []audit.AuditEntry `json:"entries"`
}

// Service moves audit entries from the active tier to cold storage and
// removes them once the retention window has passed
type Service struct {
	audit   audit.Service
	repo    audit.Repository
	storage ArchiveStorage
	batches BatchRepository
	jobs    JobStore

	mu     sync.RWMutex
	policy Policy

	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithPolicy sets the initial policy
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithBatchRepository sets where batch records are kept. Defaults to memory.
func WithBatchRepository(r BatchRepository) Option {
	return func(s *Service) { s.batches = r }
}

// WithJobStore sets where job and restore records are kept. Defaults to memory.
func WithJobStore(j JobStore) Option {
	return func(s *Service) { s.jobs = j }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a retention service
func NewService(auditService audit.Service, repo audit.Repository, storage ArchiveStorage, opts ...Option) *Service {
	s := &Service{
		audit:   auditService,
		repo:    repo,
		storage: storage,
		batches: NewMemoryBatchRepository(),
		policy:  DefaultPolicy(),
		logger:  logger.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.jobs == nil {
		s.jobs = NewMemoryJobStore(WithStoreClock(s.now))
	}
	return s
}

// GetPolicy returns a copy of the current policy
func (s *Service) GetPolicy() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

// UpdatePolicy applies a partial update and returns the resulting policy
func (s *Service) UpdatePolicy(update PolicyUpdate) (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := update.Apply(s.policy)
	if err != nil {
		return s.policy, err
	}
	s.policy = next

	s.logger.Info("Retention policy updated", map[string]interface{}{
		"active_retention_days":  next.ActiveRetentionDays,
		"archive_retention_days": next.ArchiveRetentionDays,
		"archive_batch_size":     next.ArchiveBatchSize,
		"compress_archive":       next.CompressArchive,
	})
	return next, nil
}

// ArchiveOldEntries archives entries in the archive window. An empty tenantID
// covers all tenants. Failures are reported on the returned job; the error is
// only set when the job itself could not be recorded.
func (s *Service) ArchiveOldEntries(ctx context.Context, tenantID string) (*ArchiveJob, error) {
	policy := s.GetPolicy()
	now := s.now().UTC()
	start, end := policy.ArchiveWindow(now)

	job := ArchiveJob{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Status:      JobPending,
		WindowStart: start,
		WindowEnd:   end,
		BatchIDs:    []string{},
		CreatedAt:   now,
	}
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to record archive job: %w", err)
	}

	startedAt := s.now().UTC()
	job.Status = JobInProgress
	job.StartedAt = &startedAt
	s.saveJob(ctx, job)

	runErr := s.runArchive(ctx, &job, policy)

	completedAt := s.now().UTC()
	job.CompletedAt = &completedAt
	fields := map[string]interface{}{
		"job_id":            job.ID,
		"tenant_id":         tenantID,
		"entries_eligible":  job.EntriesEligible,
		"entries_processed": job.EntriesProcessed,
		"batches":           len(job.BatchIDs),
	}
	if runErr != nil {
		job.Status = JobFailed
		job.Error = runErr.Error()
		s.logger.Error("Archive job failed", runErr, fields)
	} else {
		job.Status = JobCompleted
		s.logger.Info("Archive job completed", fields)
	}

	s.saveJob(context.WithoutCancel(ctx), job)
	s.metrics.IncArchiveJobs(string(job.Status))
	return &job, nil
}

func (s *Service) runArchive(ctx context.Context, job *ArchiveJob, policy Policy) error {
	notArchived := false
	eligible, err := s.audit.Count(ctx, audit.Filter{
		TenantID:  job.TenantID,
		StartDate: &job.WindowStart,
		EndDate:   &job.WindowEnd,
		Archived:  &notArchived,
	})
	if err != nil {
		return fmt.Errorf("failed to count eligible entries: %w", err)
	}
	job.EntriesEligible = eligible
	if eligible == 0 {
		return nil
	}

	result, err := s.repo.Archive(ctx, job.WindowStart, job.WindowEnd, job.TenantID)
	if err != nil {
		return err
	}
	if result.ArchivedCount == 0 {
		return nil
	}

	stored, err := s.storeBatches(ctx, job, result, policy)
	if err != nil {
		s.rollback(context.WithoutCancel(ctx), result.ArchiveID, stored)
		return err
	}

	for _, b := range stored {
		job.BatchIDs = append(job.BatchIDs, b.ID)
	}
	job.EntriesProcessed = result.ArchivedCount
	s.logArchived(ctx, job, stored)
	return nil
}

// storeBatches splits the archived entries into batches of at most
// ArchiveBatchSize and writes each one. It returns the batches stored so far.
func (s *Service) storeBatches(ctx context.Context, job *ArchiveJob, result *audit.ArchiveResult, policy Policy) ([]ArchiveBatch, error) {
	size := policy.ArchiveBatchSize
	if size <= 0 {
		size = DefaultArchiveBatchSize
	}

	stored := make([]ArchiveBatch, 0, len(result.Entries)/size+1)
	for offset := 0; offset < len(result.Entries); offset += size {
		chunk := result.Entries[offset:min(offset+size, len(result.Entries))]
		batch, err := s.storeBatch(ctx, job, result.ArchiveID, chunk, policy)
		if err != nil {
			return stored, err
		}
		stored = append(stored, *batch)
	}
	return stored, nil
}

func (s *Service) storeBatch(ctx context.Context, job *ArchiveJob, archiveID string, entries []audit.AuditEntry, policy Policy) (*ArchiveBatch, error) {
	batchID := uuid.New().String()
	createdAt := s.now().UTC()

	payload, err := json.Marshal(archivePayload{
		BatchID:     batchID,
		ArchiveID:   archiveID,
		TenantID:    job.TenantID,
		WindowStart: entries[0].Timestamp,
		WindowEnd:   entries[len(entries)-1].Timestamp,
		CreatedAt:   createdAt,
		Entries:     entries,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode archive batch: %w", err)
	}
	if policy.CompressArchive {
		if payload, err = compress(payload); err != nil {
			return nil, err
		}
	}

	path, err := s.storage.Store(ctx, batchID, payload, policy.CompressArchive)
	if err != nil {
		if !errors.Is(err, models.ErrStorage) {
			err = models.NewStorageError(fmt.Sprintf("failed to store archive batch %s", batchID), err)
		}
		return nil, err
	}

	batch := ArchiveBatch{
		ID:          batchID,
		TenantID:    job.TenantID,
		ArchiveID:   archiveID,
		WindowStart: entries[0].Timestamp,
		WindowEnd:   entries[len(entries)-1].Timestamp,
		EntryCount:  len(entries),
		SizeBytes:   int64(len(payload)),
		Compressed:  policy.CompressArchive,
		StoragePath: path,
		CreatedAt:   createdAt,
		ExpiresAt:   policy.BatchExpiry(createdAt),
	}
	if err := s.batches.Create(ctx, batch); err != nil {
		if delErr := s.storage.Delete(context.WithoutCancel(ctx), path); delErr != nil {
			s.logger.Warn("Failed to remove orphaned archive blob", map[string]interface{}{"path": path, "error": delErr.Error()})
		}
		return nil, err
	}

	s.metrics.ObserveArchiveBatch(len(entries), batch.SizeBytes)
	return &batch, nil
}

// rollback removes what a failed run wrote and clears the archive stamp so
// the entries are picked up again by the next run
func (s *Service) rollback(ctx context.Context, archiveID string, stored []ArchiveBatch) {
	for _, b := range stored {
		if err := s.deleteBatch(ctx, b); err != nil {
			s.logger.Warn("Failed to roll back archive batch", map[string]interface{}{"batch_id": b.ID, "error": err.Error()})
		}
	}
	if err := s.repo.Unarchive(ctx, archiveID); err != nil {
		s.logger.Error("Failed to clear archive stamp", err, map[string]interface{}{"archive_id": archiveID})
	}
}

func (s *Service) logArchived(ctx context.Context, job *ArchiveJob, stored []ArchiveBatch) {
	tenantID := job.TenantID
	if tenantID == "" {
		tenantID = audit.SystemUserID
	}

	inputs := make([]audit.LogInput, 0, len(stored))
	for _, b := range stored {
		inputs = append(inputs, audit.LogInput{
			Actor:      audit.SystemActor(tenantID),
			Action:     audit.ActionArchive,
			EntityType: audit.EntityAuditArchive,
			EntityID:   b.ID,
			Metadata: map[string]interface{}{
				"jobId":      job.ID,
				"archiveId":  b.ArchiveID,
				"entryCount": b.EntryCount,
				"sizeBytes":  b.SizeBytes,
				"compressed": b.Compressed,
				"expiresAt":  b.ExpiresAt,
			},
		})
	}
	if _, err := s.audit.LogBatch(ctx, inputs); err != nil {
		s.logger.Warn("Failed to write archive audit entries", map[string]interface{}{"job_id": job.ID, "error": err.Error()})
	}
}

// CleanupExpired deletes entries past the combined retention window and
// batches past their expiry. A batch that cannot be removed is reported and
// the sweep continues.
func (s *Service) CleanupExpired(ctx context.Context, tenantID string) (*CleanupResult, error) {
	policy := s.GetPolicy()
	now := s.now().UTC()
	result := &CleanupResult{Failures: []BatchFailure{}}

	var rowErr error
	deleted, err := s.repo.DeleteOlderThan(ctx, policy.ExpiryCutoff(now), tenantID)
	if err != nil {
		rowErr = fmt.Errorf("failed to delete expired entries: %w", err)
		s.logger.Error("Failed to delete expired audit entries", err, map[string]interface{}{"tenant_id": tenantID})
	} else {
		result.DeletedEntries = deleted
		s.metrics.AddCleanupDeleted("entries", deleted)
	}

	expired, _, err := s.batches.List(ctx, BatchFilter{TenantID: tenantID, ExpiredBefore: &now})
	if err != nil {
		return result, errors.Join(rowErr, fmt.Errorf("failed to list expired batches: %w", err))
	}

	for _, b := range expired {
		if err := s.deleteBatch(ctx, b); err != nil {
			result.Failures = append(result.Failures, BatchFailure{BatchID: b.ID, Error: err.Error()})
			s.logger.Warn("Failed to delete expired archive batch", map[string]interface{}{"batch_id": b.ID, "error": err.Error()})
			continue
		}
		result.DeletedBatches++
	}
	s.metrics.AddCleanupDeleted("batches", int64(result.DeletedBatches))

	s.logger.Info("Retention cleanup finished", map[string]interface{}{
		"tenant_id":       tenantID,
		"deleted_entries": result.DeletedEntries,
		"deleted_batches": result.DeletedBatches,
		"failed_batches":  len(result.Failures),
	})
	return result, rowErr
}

// deleteBatch removes the blob first so a failed blob delete leaves the
// record in place for the next sweep
func (s *Service) deleteBatch(ctx context.Context, b ArchiveBatch) error {
	if err := s.storage.Delete(ctx, b.StoragePath); err != nil {
		return err
	}
	return s.batches.Delete(ctx, b.ID)
}

// RestoreArchive reads a batch back from cold storage. The entries are
// returned for the caller to re-insert. A storage failure marks the restore
// request FAILED rather than returning an error.
func (s *Service) RestoreArchive(ctx context.Context, batchID, tenantID string) (*RestoreRequest, []audit.AuditEntry, error) {
	batch, err := s.GetBatch(ctx, batchID, tenantID)
	if err != nil {
		return nil, nil, err
	}

	req := RestoreRequest{
		ID:          uuid.New().String(),
		BatchID:     batch.ID,
		TenantID:    tenantID,
		Status:      RestorePending,
		RequestedAt: s.now().UTC(),
	}
	if err := s.jobs.SaveRestore(ctx, req); err != nil {
		return nil, nil, fmt.Errorf("failed to record restore request: %w", err)
	}

	entries, loadErr := s.loadBatch(ctx, batch)

	completedAt := s.now().UTC()
	req.CompletedAt = &completedAt
	if loadErr != nil {
		req.Status = RestoreFailed
		req.Error = loadErr.Error()
		entries = nil
		s.logger.Error("Archive restore failed", loadErr, map[string]interface{}{"batch_id": batchID, "restore_id": req.ID})
	} else {
		if tenantID != "" && batch.TenantID == "" {
			entries = entriesForTenant(entries, tenantID)
		}
		req.Status = RestoreRestored
		req.EntryCount = len(entries)
		s.logger.Info("Archive restored", map[string]interface{}{"batch_id": batchID, "restore_id": req.ID, "entries": len(entries)})
	}

	if err := s.jobs.SaveRestore(context.WithoutCancel(ctx), req); err != nil {
		s.logger.Warn("Failed to record restore outcome", map[string]interface{}{"restore_id": req.ID, "error": err.Error()})
	}
	return &req, entries, nil
}

func (s *Service) loadBatch(ctx context.Context, batch *ArchiveBatch) ([]audit.AuditEntry, error) {
	data, err := s.storage.Retrieve(ctx, batch.StoragePath)
	if err != nil {
		return nil, err
	}
	if batch.Compressed {
		if data, err = decompress(data); err != nil {
			return nil, err
		}
	}

	var payload archivePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode archive batch %s: %w", batch.ID, err)
	}
	return payload.Entries, nil
}

func entriesForTenant(entries []audit.AuditEntry, tenantID string) []audit.AuditEntry {
	out := make([]audit.AuditEntry, 0, len(entries))
	for _, e := range entries {
		if e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out
}

// GetJob returns an archive job
func (s *Service) GetJob(ctx context.Context, id string) (*ArchiveJob, error) {
	return s.jobs.GetJob(ctx, id)
}

// GetRestoreRequest returns a restore request
func (s *Service) GetRestoreRequest(ctx context.Context, id string) (*RestoreRequest, error) {
	return s.jobs.GetRestore(ctx, id)
}

// GetBatch returns a batch visible to the tenant. Batches archived across all
// tenants are visible to every tenant.
func (s *Service) GetBatch(ctx context.Context, id, tenantID string) (*ArchiveBatch, error) {
	batch, err := s.batches.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(*batch, tenantID) {
		return nil, batchNotFound(id)
	}
	return batch, nil
}

// ListBatches returns a page of batches, newest first. A tenant's listing
// includes batches archived across all tenants.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]ArchiveBatch, int64, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = audit.DefaultLimit
	case filter.Limit > audit.MaxLimit:
		filter.Limit = audit.MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.batches.List(ctx, filter)
}

// GetStats counts entries per retention tier
func (s *Service) GetStats(ctx context.Context, tenantID string) (*Stats, error) {
	policy := s.GetPolicy()
	now := s.now().UTC()
	activeCutoff := policy.ActiveCutoff(now)
	windowStart, windowEnd := policy.ArchiveWindow(now)
	expiredBefore := windowStart.Add(-time.Millisecond)
	notArchived, archived := false, true

	stats := &Stats{TenantID: tenantID, Policy: policy, GeneratedAt: now}
	counts := []struct {
		dest   *int64
		filter audit.Filter
	}{
		{&stats.ActiveEntries, audit.Filter{TenantID: tenantID, StartDate: &activeCutoff}},
		{&stats.ArchivableEntries, audit.Filter{TenantID: tenantID, StartDate: &windowStart, EndDate: &windowEnd, Archived: &notArchived}},
		{&stats.ArchivedEntries, audit.Filter{TenantID: tenantID, Archived: &archived}},
		{&stats.ExpiredEntries, audit.Filter{TenantID: tenantID, EndDate: &expiredBefore}},
	}
	for _, c := range counts {
		n, err := s.audit.Count(ctx, c.filter)
		if err != nil {
			return nil, fmt.Errorf("failed to compute retention stats: %w", err)
		}
		*c.dest = n
	}

	count, size, err := s.batches.Totals(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	stats.BatchCount = count
	stats.ArchivedBytes = size
	return stats, nil
}

func (s *Service) saveJob(ctx context.Context, job ArchiveJob) {
	if err := s.jobs.SaveJob(ctx, job); err != nil {
		s.logger.Warn("Failed to record archive job state", map[string]interface{}{
			"job_id": job.ID,
			"status": job.Status,
			"error":  err.Error(),
		})
	}
}
