package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"compliance-core/internal/metrics"
	"compliance-core/internal/models"
	"compliance-core/pkg/logger"

	"github.com/google/uuid"
)

// Service defines the interface for audit operations
type Service interface {
	// Audit logging
	Log(ctx context.Context, in LogInput) (*AuditEntry, error)
	LogBatch(ctx context.Context, inputs []LogInput) ([]AuditEntry, error)
	LogCreate(ctx context.Context, actor Actor, entityType EntityType, entityID string, data map[string]interface{}, opts ...LogOption) (*AuditEntry, error)
	LogRead(ctx context.Context, actor Actor, entityType EntityType, entityID string, fieldsAccessed []string, opts ...LogOption) (*AuditEntry, error)
	LogUpdate(ctx context.Context, actor Actor, entityType EntityType, entityID string, before, after map[string]interface{}, opts ...LogOption) (*AuditEntry, error)
	LogDelete(ctx context.Context, actor Actor, entityType EntityType, entityID string, data map[string]interface{}, opts ...LogOption) (*AuditEntry, error)
	LogOverride(ctx context.Context, actor Actor, entityType EntityType, entityID string, before, after map[string]interface{}, reason string, opts ...LogOption) (*AuditEntry, error)

	// Audit querying
	FindByID(ctx context.Context, id, tenantID string) (*AuditEntry, error)
	Query(ctx context.Context, opts QueryOptions) (*QueryResult, error)
	GetEntityHistory(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]AuditEntry, error)
	Count(ctx context.Context, filter Filter) (int64, error)
}

// LogOption adds optional detail to a typed logging helper
type LogOption func(*LogInput)

// WithReason attaches a free-text justification
func WithReason(reason string) LogOption {
	return func(in *LogInput) { in.Reason = reason }
}

// WithMetadata merges extra metadata into the entry
func WithMetadata(metadata map[string]interface{}) LogOption {
	return func(in *LogInput) {
		if in.Metadata == nil {
			in.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			in.Metadata[k] = v
		}
	}
}

// ServiceOption configures the audit service
type ServiceOption func(*serviceImpl)

func WithLogger(l logger.Logger) ServiceOption {
	return func(s *serviceImpl) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *serviceImpl) { s.metrics = m }
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *serviceImpl) { s.now = now }
}

// serviceImpl implements the audit Service interface. It holds no mutable state.
type serviceImpl struct {
	repo    Repository
	logger  logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewService creates a new audit service
func NewService(repo Repository, opts ...ServiceOption) Service {
	s := &serviceImpl{
		repo:   repo,
		logger: logger.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log validates and writes a single entry
func (s *serviceImpl) Log(ctx context.Context, in LogInput) (*AuditEntry, error) {
	entry, err := s.buildEntry(in)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		s.logger.Error("Failed to write audit entry", err, map[string]interface{}{
			"tenant_id":   entry.TenantID,
			"action":      entry.Action,
			"entity_type": entry.EntityType,
		})
		return nil, err
	}

	s.metrics.IncAuditEntries(string(entry.Action), 1)
	return &entry, nil
}

// LogBatch validates every input before writing any of them
func (s *serviceImpl) LogBatch(ctx context.Context, inputs []LogInput) ([]AuditEntry, error) {
	if len(inputs) == 0 {
		return []AuditEntry{}, nil
	}

	entries := make([]AuditEntry, 0, len(inputs))
	for i, in := range inputs {
		entry, err := s.buildEntry(in)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		entries = append(entries, entry)
	}

	if err := s.repo.CreateMany(ctx, entries); err != nil {
		s.logger.Error("Failed to write audit batch", err, map[string]interface{}{"count": len(entries)})
		return nil, err
	}

	for _, e := range entries {
		s.metrics.IncAuditEntries(string(e.Action), 1)
	}
	return entries, nil
}

func (s *serviceImpl) buildEntry(in LogInput) (AuditEntry, error) {
	if err := validateInput(in); err != nil {
		return AuditEntry{}, err
	}

	return AuditEntry{
		ID:         uuid.New().String(),
		TenantID:   in.TenantID,
		UserID:     in.UserID,
		UserEmail:  in.UserEmail,
		UserName:   in.UserName,
		Action:     in.Action,
		EntityType: in.EntityType,
		EntityID:   in.EntityID,
		Timestamp:  s.now().UTC(),
		IPAddress:  in.IPAddress,
		UserAgent:  in.UserAgent,
		Reason:     strings.TrimSpace(in.Reason),
		Changes:    in.Changes,
		Metadata:   in.Metadata,
	}, nil
}

func validateInput(in LogInput) error {
	switch {
	case strings.TrimSpace(in.TenantID) == "":
		return models.NewValidationError(models.CodeInvalidInput, "tenant id is required")
	case strings.TrimSpace(in.UserID) == "":
		return models.NewValidationError(models.CodeInvalidInput, "user id is required")
	case strings.TrimSpace(in.EntityID) == "":
		return models.NewValidationError(models.CodeInvalidInput, "entity id is required")
	case !in.Action.IsValid():
		return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown action %q", in.Action))
	case !in.EntityType.IsValid():
		return models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown entity type %q", in.EntityType))
	case in.Action == ActionOverride && strings.TrimSpace(in.Reason) == "":
		return models.NewValidationError(models.CodeOverrideReasonRequired, "a reason is required for override actions")
	}
	return nil
}

func newInput(actor Actor, action Action, entityType EntityType, entityID string, opts []LogOption) LogInput {
	in := LogInput{Actor: actor, Action: action, EntityType: entityType, EntityID: entityID}
	for _, opt := range opts {
		opt(&in)
	}
	return in
}

// LogCreate records the creation of an entity with its initial state
func (s *serviceImpl) LogCreate(ctx context.Context, actor Actor, entityType EntityType, entityID string, data map[string]interface{}, opts ...LogOption) (*AuditEntry, error) {
	in := newInput(actor, ActionCreate, entityType, entityID, opts)
	if data != nil {
		in.Changes = &Changes{After: data, Fields: sortedKeys(data)}
	}
	return s.Log(ctx, in)
}

// LogRead records subject data access, listing the fields that were read
func (s *serviceImpl) LogRead(ctx context.Context, actor Actor, entityType EntityType, entityID string, fieldsAccessed []string, opts ...LogOption) (*AuditEntry, error) {
	in := newInput(actor, ActionRead, entityType, entityID, opts)
	if len(fieldsAccessed) > 0 {
		WithMetadata(map[string]interface{}{"fieldsAccessed": fieldsAccessed})(&in)
	}
	return s.Log(ctx, in)
}

// LogUpdate records a change with the computed field diff
func (s *serviceImpl) LogUpdate(ctx context.Context, actor Actor, entityType EntityType, entityID string, before, after map[string]interface{}, opts ...LogOption) (*AuditEntry, error) {
	in := newInput(actor, ActionUpdate, entityType, entityID, opts)
	in.Changes = ComputeChanges(before, after)
	return s.Log(ctx, in)
}

// LogDelete records the removal of an entity with its last known state
func (s *serviceImpl) LogDelete(ctx context.Context, actor Actor, entityType EntityType, entityID string, data map[string]interface{}, opts ...LogOption) (*AuditEntry, error) {
	in := newInput(actor, ActionDelete, entityType, entityID, opts)
	if data != nil {
		in.Changes = &Changes{Before: data, Fields: sortedKeys(data)}
	}
	return s.Log(ctx, in)
}

// LogOverride records a manual override. The reason is mandatory.
func (s *serviceImpl) LogOverride(ctx context.Context, actor Actor, entityType EntityType, entityID string, before, after map[string]interface{}, reason string, opts ...LogOption) (*AuditEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, models.NewValidationError(models.CodeOverrideReasonRequired, "a reason is required for override actions")
	}
	in := newInput(actor, ActionOverride, entityType, entityID, opts)
	in.Reason = reason
	in.Changes = ComputeChanges(before, after)
	return s.Log(ctx, in)
}

// FindByID returns an entry scoped to the tenant
func (s *serviceImpl) FindByID(ctx context.Context, id, tenantID string) (*AuditEntry, error) {
	if id == "" || tenantID == "" {
		return nil, models.NewValidationError(models.CodeInvalidInput, "id and tenant id are required")
	}
	return s.repo.FindByID(ctx, id, tenantID)
}

// Query returns one page of entries ordered exactly as requested
func (s *serviceImpl) Query(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	normalized, err := NormalizeQuery(opts)
	if err != nil {
		return nil, err
	}

	entries, total, err := s.repo.Query(ctx, normalized)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []AuditEntry{}
	}

	return &QueryResult{
		Entries: entries,
		Total:   total,
		Limit:   normalized.Limit,
		Offset:  normalized.Offset,
		HasMore: int64(normalized.Offset+len(entries)) < total,
	}, nil
}

// GetEntityHistory returns every entry for one entity, oldest first
func (s *serviceImpl) GetEntityHistory(ctx context.Context, tenantID string, entityType EntityType, entityID string) ([]AuditEntry, error) {
	if tenantID == "" || entityID == "" {
		return nil, models.NewValidationError(models.CodeInvalidInput, "tenant id and entity id are required")
	}
	if !entityType.IsValid() {
		return nil, models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown entity type %q", entityType))
	}
	return s.repo.FindByEntity(ctx, tenantID, entityType, entityID)
}

// Count counts matching entries. An empty tenant counts across all tenants.
func (s *serviceImpl) Count(ctx context.Context, filter Filter) (int64, error) {
	return s.repo.Count(ctx, filter)
}

// NormalizeQuery applies defaults and rejects unsupported options
func NormalizeQuery(opts QueryOptions) (QueryOptions, error) {
	if opts.TenantID == "" {
		return opts, models.NewValidationError(models.CodeInvalidInput, "tenant id is required")
	}
	if opts.Offset < 0 {
		return opts, models.NewValidationError(models.CodeInvalidInput, "offset must not be negative")
	}
	if opts.StartDate != nil && opts.EndDate != nil && opts.StartDate.After(*opts.EndDate) {
		return opts, models.NewValidationError(models.CodeInvalidInput, "start date must not be after end date")
	}
	for _, a := range opts.Actions {
		if !a.IsValid() {
			return opts, models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown action %q", a))
		}
	}
	if opts.EntityType != "" && !opts.EntityType.IsValid() {
		return opts, models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("unknown entity type %q", opts.EntityType))
	}

	switch {
	case opts.Limit <= 0:
		opts.Limit = DefaultLimit
	case opts.Limit > MaxLimit:
		opts.Limit = MaxLimit
	}

	if opts.OrderBy == "" {
		opts.OrderBy = "timestamp"
	}
	if _, ok := orderFields[opts.OrderBy]; !ok {
		return opts, models.NewValidationError(models.CodeInvalidInput, fmt.Sprintf("cannot order by %q", opts.OrderBy))
	}

	opts.OrderDirection = strings.ToLower(opts.OrderDirection)
	if opts.OrderDirection == "" {
		opts.OrderDirection = OrderDesc
	}
	if opts.OrderDirection != OrderAsc && opts.OrderDirection != OrderDesc {
		return opts, models.NewValidationError(models.CodeInvalidInput, "order direction must be asc or desc")
	}

	return opts, nil
}
