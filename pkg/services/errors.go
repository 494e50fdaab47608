// Package services wraps the engine and the store with the policies callers
// need: definition validation, ID assignment, listing and error classification.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/persistence"
)

// Business Logic Errors - These indicate client errors (4xx responses).
var (
	// Validation Errors (400 Bad Request).
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidSortField = errors.New("invalid sort field")
	ErrInvalidSortOrder = errors.New("invalid sort order")
	ErrInvalidStatus    = errors.New("invalid workflow status")
	ErrEmptyOwnerID     = errors.New("owner ID cannot be empty")
	ErrWorkflowNil      = errors.New("workflow cannot be nil")
	ErrInvalidWorkflow  = errors.New("invalid workflow definition")

	// Business Logic Conflicts (409 Conflict).
	ErrWorkflowExists = errors.New("workflow already exists")

	// ErrWorkflowNotFound is returned when a workflow is not found (404 Not Found).
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidSortField) ||
		errors.Is(err, ErrInvalidSortOrder) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEmptyOwnerID) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, ErrInvalidWorkflow) ||
		errors.Is(err, engine.ErrApprovalDecisionRequired)
}

// IsConflictError checks if an error conflicts with the current state of a
// workflow or node and should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrWorkflowExists) ||
		errors.Is(err, engine.ErrNodeAlreadyCompleted) ||
		errors.Is(err, engine.ErrNodeNotResumable) ||
		persistence.IsVersionConflict(err)
}

// IsNotFoundError checks if an error names a workflow or node that does not exist.
func IsNotFoundError(err error) bool {
	return persistence.IsWorkflowNotFound(err) || engine.IsNotFound(err)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}
