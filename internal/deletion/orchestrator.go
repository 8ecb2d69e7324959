package deletion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"compliance-core/internal/audit"
	"compliance-core/internal/metrics"
	"compliance-core/internal/models"
	"compliance-core/pkg/logger"

	"github.com/google/uuid"
)

// Orchestrator creates and executes deletion requests
type Orchestrator struct {
	registry *Registry
	repo     Repository
	audit    audit.Service
	executor Executor
	locker   Locker
	lockTTL  time.Duration
	logger   logger.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithExecutor sets the adapter that changes business data
func WithExecutor(e Executor) Option {
	return func(o *Orchestrator) { o.executor = e }
}

// WithLocker serializes processing of the same request id
func WithLocker(l Locker, ttl time.Duration) Option {
	return func(o *Orchestrator) {
		o.locker = l
		o.lockTTL = ttl
	}
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(registry *Registry, repo Repository, auditService audit.Service, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		repo:     repo,
		audit:    auditService,
		executor: NoopExecutor{},
		lockTTL:  5 * time.Minute,
		logger:   logger.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// CreateRequest validates and persists a PENDING request
func (o *Orchestrator) CreateRequest(ctx context.Context, actor audit.Actor, in CreateRequestInput) (*DeletionRequest, error) {
	if actor.TenantID == "" || actor.UserID == "" {
		return nil, models.NewValidationError(models.CodeInvalidInput, "tenant id and requesting user are required")
	}
	if strings.TrimSpace(in.EntityID) == "" {
		return nil, models.NewValidationError(models.CodeInvalidInput, "entity id is required")
	}

	cfg, ok := o.registry.Get(in.EntityType)
	if !ok {
		return nil, models.NewValidationError(models.CodeUnregisteredEntity,
			fmt.Sprintf("no deletion config registered for entity type %q", in.EntityType))
	}

	strategy := in.Strategy
	if strategy == "" {
		strategy = cfg.Strategy
	}
	if !strategy.IsValid() {
		return nil, models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown deletion strategy %q", strategy))
	}

	subjectID := in.SubjectID
	if subjectID == "" {
		subjectID = in.EntityID
	}

	now := o.now().UTC()
	req := DeletionRequest{
		ID:          uuid.New().String(),
		TenantID:    actor.TenantID,
		RequestedBy: actor.UserID,
		SubjectID:   subjectID,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		Reason:      in.Reason,
		Strategy:    strategy,
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
		DeletionLog: []LogEntry{},
	}

	if err := o.repo.Create(ctx, req); err != nil {
		return nil, err
	}
	o.metrics.IncDeletionRequests(string(StatusPending))

	_, err := o.audit.Log(ctx, audit.LogInput{
		Actor:      actor,
		Action:     audit.ActionDelete,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		Reason:     req.Reason,
		Metadata: map[string]interface{}{
			"requestId": req.ID,
			"strategy":  string(req.Strategy),
			"status":    string(req.Status),
		},
	})
	if err != nil {
		return &req, fmt.Errorf("deletion request %s created but audit entry failed: %w", req.ID, err)
	}

	o.logger.Info("Deletion request created", map[string]interface{}{
		"request_id":  req.ID,
		"tenant_id":   req.TenantID,
		"entity_type": req.EntityType,
		"strategy":    req.Strategy,
	})
	return &req, nil
}

// ProcessRequest executes a PENDING request: the primary entity first, then
// every configured dependent with its own strategy.
func (o *Orchestrator) ProcessRequest(ctx context.Context, actor audit.Actor, id string) (*DeletionRequest, error) {
	if o.locker != nil {
		lock, err := o.locker.Acquire(ctx, "deletion:"+id, o.lockTTL)
		if err != nil {
			return nil, err
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
				o.logger.Warn("Failed to release deletion lock", map[string]interface{}{"request_id": id, "error": err.Error()})
			}
		}()
	}

	req, err := o.repo.FindByID(ctx, id, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, models.NewConflictError(models.CodeAlreadyProcessed,
			fmt.Sprintf("deletion request %s has already been processed (status %s)", id, req.Status))
	}

	startedAt := o.now().UTC()
	req, err = o.repo.UpdateStatus(ctx, id, actor.TenantID, StatusProcessing, StatusUpdate{
		ExpectedStatus: StatusPending,
		StartedAt:      &startedAt,
	})
	if err != nil {
		return nil, err
	}
	o.metrics.IncDeletionRequests(string(StatusProcessing))

	entries, tally, runErr := o.runCascade(ctx, req)

	completedAt := o.now().UTC()
	update := StatusUpdate{
		ExpectedStatus: StatusProcessing,
		LogEntries:     entries,
		Tally:          &tally,
		CompletedAt:    &completedAt,
	}

	status := StatusCompleted
	switch {
	case runErr != nil:
		status = StatusFailed
		update.Error = runErr.Error()
	case tally.FailedEntities > 0:
		status = StatusPartiallyCompleted
		update.Error = fmt.Sprintf("%d of %d entities failed", tally.FailedEntities, len(entries))
	}

	// The outcome must be recorded even if the caller went away mid-cascade
	persistCtx := context.WithoutCancel(ctx)
	final, err := o.repo.UpdateStatus(persistCtx, id, actor.TenantID, status, update)
	if err != nil {
		o.logger.Error("Failed to record deletion outcome", err, map[string]interface{}{"request_id": id, "status": status})
		return nil, err
	}

	o.metrics.IncDeletionRequests(string(status))
	o.metrics.AddDeletionEntities(string(OutcomeDeleted), tally.DeletedEntities)
	o.metrics.AddDeletionEntities(string(OutcomeAnonymized), tally.AnonymizedEntities)
	o.metrics.AddDeletionEntities(string(OutcomeSoftDeleted), tally.SoftDeletedEntities)
	o.metrics.AddDeletionEntities(string(OutcomeRetained), tally.RetainedEntities)
	o.metrics.AddDeletionEntities(string(OutcomeFailed), tally.FailedEntities)

	fields := map[string]interface{}{
		"request_id":  id,
		"tenant_id":   final.TenantID,
		"status":      final.Status,
		"deleted":     tally.DeletedEntities,
		"anonymized":  tally.AnonymizedEntities,
		"soft_delete": tally.SoftDeletedEntities,
		"retained":    tally.RetainedEntities,
		"failed":      tally.FailedEntities,
	}
	if runErr != nil {
		o.logger.Error("Deletion request failed", runErr, fields)
	} else {
		o.logger.Info("Deletion request processed", fields)
	}

	if _, err := o.audit.Log(persistCtx, audit.LogInput{
		Actor:      actor,
		Action:     audit.ActionDelete,
		EntityType: final.EntityType,
		EntityID:   final.EntityID,
		Reason:     final.Reason,
		Metadata: map[string]interface{}{
			"requestId":          final.ID,
			"strategy":           string(final.Strategy),
			"status":             string(final.Status),
			"deletedEntities":    tally.DeletedEntities,
			"anonymizedEntities": tally.AnonymizedEntities,
			"failedEntities":     tally.FailedEntities,
		},
	}); err != nil {
		return final, fmt.Errorf("deletion request %s processed but audit entry failed: %w", id, err)
	}

	return final, nil
}

// runCascade executes the strategies. A panic in the executor is converted
// into an error so the request ends FAILED instead of stuck in PROCESSING.
func (o *Orchestrator) runCascade(ctx context.Context, req *DeletionRequest) (entries []LogEntry, tally Tally, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected error during deletion: %v", r)
		}
	}()

	cfg, ok := o.registry.Get(req.EntityType)
	if !ok {
		return nil, tally, fmt.Errorf("no deletion config registered for entity type %q", req.EntityType)
	}

	primary := o.executeStrategy(ctx, Target{
		RequestID:       req.ID,
		TenantID:        req.TenantID,
		EntityType:      req.EntityType,
		EntityID:        req.EntityID,
		Strategy:        req.Strategy,
		AnonymizeFields: cfg.AnonymizeFields,
		RetentionDays:   cfg.RetentionDays,
	})
	entries = append(entries, primary)
	tally.add(primary.Action)

	for i, dep := range cfg.Dependencies {
		if err := ctx.Err(); err != nil {
			return entries, tally, err
		}

		target := Target{
			RequestID:  req.ID,
			TenantID:   req.TenantID,
			EntityType: dep.EntityType,
			EntityID:   req.EntityID,
			ForeignKey: dep.ForeignKey,
			Strategy:   dep.Strategy,
		}
		if depCfg, ok := o.registry.Get(dep.EntityType); ok {
			target.AnonymizeFields = depCfg.AnonymizeFields
			target.RetentionDays = depCfg.RetentionDays
		}

		entry := o.executeStrategy(ctx, target)
		entries = append(entries, entry)
		tally.add(entry.Action)

		if entry.Action == OutcomeFailed && dep.Blocking {
			o.logger.Warn("Blocking dependency failed, skipping remaining dependents", map[string]interface{}{
				"request_id":  req.ID,
				"entity_type": dep.EntityType,
				"skipped":     len(cfg.Dependencies) - i - 1,
			})
			break
		}
	}

	return entries, tally, nil
}

// executeStrategy maps a strategy to its outcome and asks the executor to apply it
func (o *Orchestrator) executeStrategy(ctx context.Context, target Target) LogEntry {
	entry := LogEntry{
		EntityType: target.EntityType,
		EntityID:   target.EntityID,
		ForeignKey: target.ForeignKey,
		Strategy:   target.Strategy,
		Timestamp:  o.now().UTC(),
	}

	outcome, ok := outcomeFor(target.Strategy)
	if !ok {
		entry.Action = OutcomeFailed
		entry.Error = fmt.Sprintf("unknown deletion strategy %q", target.Strategy)
		return entry
	}

	if err := o.executor.Execute(ctx, target); err != nil {
		entry.Action = OutcomeFailed
		entry.Error = err.Error()
		return entry
	}

	entry.Action = outcome
	return entry
}

func outcomeFor(s Strategy) (Outcome, bool) {
	switch s {
	case StrategyCascade:
		return OutcomeDeleted, true
	case StrategyAnonymize:
		return OutcomeAnonymized, true
	case StrategySoftDelete:
		return OutcomeSoftDeleted, true
	case StrategyRetain:
		return OutcomeRetained, true
	}
	return "", false
}

// CancelRequest fails a PENDING request with a cancellation note
func (o *Orchestrator) CancelRequest(ctx context.Context, actor audit.Actor, id, reason string) (*DeletionRequest, error) {
	req, err := o.repo.FindByID(ctx, id, actor.TenantID)
	if err != nil {
		return nil, err
	}
	if req.Status != StatusPending {
		return nil, models.NewConflictError(models.CodeNotCancellable,
			fmt.Sprintf("only pending requests can be cancelled, request %s is %s", id, req.Status))
	}

	completedAt := o.now().UTC()
	updated, err := o.repo.UpdateStatus(ctx, id, actor.TenantID, StatusFailed, StatusUpdate{
		ExpectedStatus: StatusPending,
		Error:          "Cancelled: " + reason,
		CompletedAt:    &completedAt,
	})
	if err != nil {
		return nil, err
	}
	o.metrics.IncDeletionRequests("CANCELLED")

	if _, err := o.audit.Log(ctx, audit.LogInput{
		Actor:      actor,
		Action:     audit.ActionReject,
		EntityType: audit.EntityDeletionRequest,
		EntityID:   updated.ID,
		Reason:     reason,
		Metadata: map[string]interface{}{
			"requestId":  updated.ID,
			"entityType": string(updated.EntityType),
			"entityId":   updated.EntityID,
		},
	}); err != nil {
		return updated, fmt.Errorf("deletion request %s cancelled but audit entry failed: %w", id, err)
	}

	return updated, nil
}

// GetRequest returns a request scoped to the tenant
func (o *Orchestrator) GetRequest(ctx context.Context, tenantID, id string) (*DeletionRequest, error) {
	return o.repo.FindByID(ctx, id, tenantID)
}

// ListRequests returns a page of the tenant's requests, newest first
func (o *Orchestrator) ListRequests(ctx context.Context, filter ListFilter) ([]DeletionRequest, int64, error) {
	if filter.TenantID == "" {
		return nil, 0, models.NewValidationError(models.CodeInvalidInput, "tenant id is required")
	}
	switch {
	case filter.Limit <= 0:
		filter.Limit = audit.DefaultLimit
	case filter.Limit > audit.MaxLimit:
		filter.Limit = audit.MaxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return o.repo.Query(ctx, filter)
}

// GetDependentEntities reports the configured dependency shape of an entity type.
// It does not count live rows.
func (o *Orchestrator) GetDependentEntities(entityType audit.EntityType) ([]EntityDependency, error) {
	cfg, ok := o.registry.Get(entityType)
	if !ok {
		return nil, models.NewValidationError(models.CodeUnregisteredEntity,
			fmt.Sprintf("no deletion config registered for entity type %q", entityType))
	}
	deps := make([]EntityDependency, len(cfg.Dependencies))
	copy(deps, cfg.Dependencies)
	return deps, nil
}

// Registry exposes the policy registry
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}
