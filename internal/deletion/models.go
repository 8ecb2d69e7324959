package deletion

import (
	"time"

	"compliance-core/internal/audit"
)

// Strategy is how an entity is removed
type Strategy string

const (
	StrategyCascade    Strategy = "CASCADE"
	StrategyAnonymize  Strategy = "ANONYMIZE"
	StrategySoftDelete Strategy = "SOFT_DELETE"
	StrategyRetain     Strategy = "RETAIN"
)

// IsValid reports whether s is a known strategy
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyCascade, StrategyAnonymize, StrategySoftDelete, StrategyRetain:
		return true
	}
	return false
}

// Status of a deletion request
type Status string

const (
	StatusPending            Status = "PENDING"
	StatusProcessing         Status = "PROCESSING"
	StatusCompleted          Status = "COMPLETED"
	StatusPartiallyCompleted Status = "PARTIALLY_COMPLETED"
	StatusFailed             Status = "FAILED"
)

// IsTerminal reports whether no further transition is allowed
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusPartiallyCompleted || s == StatusFailed
}

// Outcome of executing a strategy against one entity
type Outcome string

const (
	OutcomeDeleted     Outcome = "DELETED"
	OutcomeAnonymized  Outcome = "ANONYMIZED"
	OutcomeSoftDeleted Outcome = "SOFT_DELETED"
	OutcomeRetained    Outcome = "RETAINED"
	OutcomeFailed      Outcome = "FAILED"
)

// EntityDependency describes an entity type that references the parent
type EntityDependency struct {
	EntityType audit.EntityType `json:"entityType" yaml:"entityType" bson:"entity_type"`
	ForeignKey string           `json:"foreignKey" yaml:"foreignKey" bson:"foreign_key"`
	Strategy   Strategy         `json:"strategy" yaml:"strategy" bson:"strategy"`
	Blocking   bool             `json:"blocking" yaml:"blocking" bson:"blocking"`
}

// EntityDeletionConfig is the deletion policy for one entity type
type EntityDeletionConfig struct {
	EntityType      audit.EntityType   `json:"entityType" yaml:"entityType"`
	Strategy        Strategy           `json:"strategy" yaml:"strategy"`
	AnonymizeFields []string           `json:"anonymizeFields,omitempty" yaml:"anonymizeFields"`
	Dependencies    []EntityDependency `json:"dependentEntities,omitempty" yaml:"dependencies"`
	RetentionDays   int                `json:"retentionDays,omitempty" yaml:"retentionDays"`
}

// LogEntry records what happened to one entity during processing
type LogEntry struct {
	EntityType audit.EntityType `json:"entityType" bson:"entity_type"`
	EntityID   string           `json:"entityId" bson:"entity_id"`
	ForeignKey string           `json:"foreignKey,omitempty" bson:"foreign_key,omitempty"`
	Strategy   Strategy         `json:"strategy" bson:"strategy"`
	Action     Outcome          `json:"action" bson:"action"`
	Timestamp  time.Time        `json:"timestamp" bson:"timestamp"`
	Error      string           `json:"error,omitempty" bson:"error,omitempty"`
}

// Tally accumulates outcomes across the primary entity and its dependents
type Tally struct {
	DeletedEntities     int `json:"deletedEntities" bson:"deleted_entities"`
	AnonymizedEntities  int `json:"anonymizedEntities" bson:"anonymized_entities"`
	SoftDeletedEntities int `json:"softDeletedEntities" bson:"soft_deleted_entities"`
	RetainedEntities    int `json:"retainedEntities" bson:"retained_entities"`
	FailedEntities      int `json:"failedEntities" bson:"failed_entities"`
}

func (t *Tally) add(o Outcome) {
	switch o {
	case OutcomeDeleted:
		t.DeletedEntities++
	case OutcomeAnonymized:
		t.AnonymizedEntities++
	case OutcomeSoftDeleted:
		t.SoftDeletedEntities++
	case OutcomeRetained:
		t.RetainedEntities++
	default:
		t.FailedEntities++
	}
}

// DeletionRequest is a right-to-be-forgotten request and its processing record
type DeletionRequest struct {
	ID          string           `json:"id" bson:"_id"`
	TenantID    string           `json:"tenantId" bson:"tenant_id"`
	RequestedBy string           `json:"requestedBy" bson:"requested_by"`
	SubjectID   string           `json:"subjectId" bson:"subject_id"`
	EntityType  audit.EntityType `json:"entityType" bson:"entity_type"`
	EntityID    string           `json:"entityId" bson:"entity_id"`
	Reason      string           `json:"reason" bson:"reason"`
	Strategy    Strategy         `json:"strategy" bson:"strategy"`
	Status      Status           `json:"status" bson:"status"`
	CreatedAt   time.Time        `json:"createdAt" bson:"created_at"`
	UpdatedAt   time.Time        `json:"updatedAt" bson:"updated_at"`
	StartedAt   *time.Time       `json:"startedAt,omitempty" bson:"started_at,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty" bson:"completed_at,omitempty"`
	DeletionLog []LogEntry       `json:"deletionLog" bson:"deletion_log"`
	Error       string           `json:"error,omitempty" bson:"error,omitempty"`
	Tally       `bson:",inline"`
}

// CreateRequestInput is the input to Orchestrator.CreateRequest. An empty
// Strategy falls back to the entity type's configured strategy.
type CreateRequestInput struct {
	SubjectID  string           `json:"subjectId"`
	EntityType audit.EntityType `json:"entityType" binding:"required"`
	EntityID   string           `json:"entityId" binding:"required"`
	Reason     string           `json:"reason"`
	Strategy   Strategy         `json:"strategy,omitempty"`
}

// StatusUpdate carries the fields written alongside a status transition.
// When ExpectedStatus is set the update only applies if the stored status matches.
type StatusUpdate struct {
	ExpectedStatus Status
	LogEntries     []LogEntry
	Error          string
	Tally          *Tally
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// ListFilter narrows ListRequests
type ListFilter struct {
	TenantID   string
	Status     Status
	EntityType audit.EntityType
	SubjectID  string
	Limit      int
	Offset     int
}
