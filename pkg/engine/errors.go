package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

// ErrNodeNotFound indicates the workflow has no node with the given ID.
var ErrNodeNotFound = errors.New("node not found")

// ErrValidation is the parent of every error caused by bad caller input or a
// node state that does not allow the requested operation.
var ErrValidation = errors.New("validation error")

var (
	// ErrApprovalDecisionRequired indicates an approval resume without a boolean "approved".
	ErrApprovalDecisionRequired error = &validationError{msg: "Approval decision (approved: true/false) is required."}

	// ErrNodeAlreadyCompleted indicates a resume of a node that already completed.
	ErrNodeAlreadyCompleted error = &validationError{msg: "node is already completed"}

	// ErrNodeNotResumable indicates a resume of a node that is neither suspended nor failed.
	ErrNodeNotResumable error = &validationError{msg: "node is not waiting to be resumed"}
)

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func (e *validationError) Is(target error) bool {
	return target == ErrValidation
}

// NodeExecutionError records a handler failure. It is stored on the node and
// logged; traversal callers never receive it.
type NodeExecutionError struct {
	NodeID   string
	NodeType models.NodeType
	Err      error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeExecutionError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err means the workflow or node does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrWorkflowNotFound) || errors.Is(err, ErrNodeNotFound)
}

// IsValidationError reports whether err was caused by the request rather than the system.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}
