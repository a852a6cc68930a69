package tactile

import (
	"context"
)

// Executor is the interface for command execution.
type Executor interface {
	// Execute runs a command and returns a comprehensive result.
	// The context can be used for cancellation.
	Execute(ctx context.Context, cmd Command) (*ExecutionResult, error)

	// Validate checks if a command can be executed by this executor.
	Validate(cmd Command) error
}

// AuditedExecutor wraps an executor to provide audit event generation.
type AuditedExecutor interface {
	Executor

	// SetAuditCallback sets the callback for audit events.
	SetAuditCallback(callback func(AuditEvent))
}
