package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		notFound := persistence.NewWorkflowError("WorkflowByID", "workflow-123", persistence.ErrWorkflowNotFound)
		conflict := persistence.NewWorkflowError("SaveWorkflow", "workflow-123", persistence.ErrVersionConflict)

		assert.True(t, persistence.IsWorkflowNotFound(notFound))
		assert.False(t, persistence.IsVersionConflict(notFound))
		assert.True(t, persistence.IsVersionConflict(conflict))
		assert.True(t, errors.Is(notFound, persistence.ErrWorkflowNotFound))
	})

	t.Run("wrapped twice still matches", func(t *testing.T) {
		err := fmt.Errorf("engine: %w", persistence.NewWorkflowError("SaveWorkflow", "wf", persistence.ErrVersionConflict))

		assert.True(t, persistence.IsVersionConflict(err))

		var workflowErr *persistence.WorkflowError
		assert.True(t, errors.As(err, &workflowErr))
		assert.Equal(t, "SaveWorkflow", workflowErr.Op)
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("SaveWorkflow", "workflow-123", persistence.ErrVersionConflict)

		assert.Contains(t, err.Error(), "SaveWorkflow")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow version conflict")
	})
}
