package engine

import (
	"context"
	"errors"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// StartWorkflow resets every node to pending, marks the workflow active and
// runs its roots. Calling it again restarts the workflow from scratch.
//
// Handler failures are recorded on their nodes and do not make StartWorkflow
// fail; only load and save errors are returned.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, data map[string]any) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.StartWorkflow",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
	)
	defer span.End()

	now := e.now()

	var roots []*models.Node

	_, err := e.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		wf.Status = models.WorkflowStatusActive
		wf.StartedAt = &now

		for _, node := range wf.Nodes {
			node.Status = models.NodeStatusPending
			node.Output = nil
			node.Error = ""
			node.UpdatedAt = &now
		}

		roots = roots[:0]

		for _, root := range graph.RootNodes(wf) {
			root.Status = models.NodeStatusInProgress
			roots = append(roots, root.Clone())
		}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "workflow started", "workflow_id", workflowID, "roots", len(roots))

	run := models.RunContext{WorkflowID: workflowID, Data: data}

	if err := e.runRoots(ctx, workflowID, roots, run); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	return e.persistence.WorkflowByID(ctx, workflowID)
}

func (e *Engine) runRoots(ctx context.Context, workflowID string, roots []*models.Node, run models.RunContext) error {
	if !e.parallelBranches || len(roots) < 2 {
		var errs []error

		for _, root := range roots {
			if err := e.executeNode(ctx, workflowID, root, run); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	}

	var g errgroup.Group

	for _, root := range roots {
		g.Go(func() error {
			return e.executeNode(ctx, workflowID, root, run)
		})
	}

	return g.Wait()
}
