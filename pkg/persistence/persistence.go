// Package persistence provides the data storage abstraction for workflow records.
package persistence

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
)

// Persistence stores workflow records, nodes and edges embedded.
//
// SaveWorkflow is conditional on workflow.Version: the stored record must
// carry the same version (an absent record counts as version 0), otherwise
// the save fails with ErrVersionConflict. On success the store increments
// workflow.Version in place.
type Persistence interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error
	HealthCheck(ctx context.Context) error

	Close(ctx context.Context) error
}
