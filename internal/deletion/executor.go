package deletion

import (
	"context"

	"compliance-core/internal/audit"
)

// Target is one entity the executor must delete, anonymize, soft-delete or keep.
// For dependents, ForeignKey names the column holding the parent's id.
type Target struct {
	RequestID       string
	TenantID        string
	EntityType      audit.EntityType
	EntityID        string
	ForeignKey      string
	Strategy        Strategy
	AnonymizeFields []string
	RetentionDays   int
}

// Executor performs the actual row changes in the business data stores
type Executor interface {
	Execute(ctx context.Context, target Target) error
}

// ExecutorFunc adapts a function to Executor
type ExecutorFunc func(ctx context.Context, target Target) error

func (f ExecutorFunc) Execute(ctx context.Context, target Target) error {
	return f(ctx, target)
}

// NoopExecutor records outcomes without touching business data
type NoopExecutor struct{}

func (NoopExecutor) Execute(ctx context.Context, target Target) error {
	return nil
}
