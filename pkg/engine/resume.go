package engine

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
)

// Values recorded under completedBy.
const (
	CompletedByUser  = "user"
	CompletedByTimer = "timer"
)

// ResumeWorkflow completes a suspended or failed node with caller input and
// continues traversal from it. Approval nodes require a boolean "approved".
// A node left in-progress for longer than the stale claim timeout, because
// its outcome could not be saved, may be resumed as well.
//
// The status check and the completion are a single save, so a failed save
// leaves the node resumable.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID, nodeID string, input map[string]any) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.ResumeWorkflow",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
	)
	defer span.End()

	now := e.now()
	run := models.RunContext{WorkflowID: workflowID, Data: input, Now: now}

	err := e.finishNode(ctx, workflowID, nodeID, run, func(node *models.Node) (map[string]any, error) {
		if err := e.checkResumable(node, now); err != nil {
			return nil, err
		}

		return resumeOutput(node, input, now)
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "node resumed", "workflow_id", workflowID, "node_id", nodeID)

	return e.persistence.WorkflowByID(ctx, workflowID)
}

// checkResumable rejects nodes that are not waiting for outside input.
func (e *Engine) checkResumable(node *models.Node, now time.Time) error {
	switch node.Status {
	case models.NodeStatusCompleted:
		return ErrNodeAlreadyCompleted
	case models.NodeStatusSuspended, models.NodeStatusError:
		return nil
	case models.NodeStatusInProgress:
		if node.UpdatedAt != nil && now.Sub(*node.UpdatedAt) >= e.staleClaimTimeout {
			return nil
		}
	}

	return fmt.Errorf("%w: node %s is %s", ErrNodeNotResumable, node.ID, node.Status)
}

// resumeOutput builds the output a resumed node completes with.
func resumeOutput(node *models.Node, input map[string]any, now time.Time) (map[string]any, error) {
	completedAt := now.Format(time.RFC3339)

	if node.Type == models.NodeTypeApproval {
		approved, ok := input[models.OutputKeyApproved].(bool)
		if !ok {
			return nil, ErrApprovalDecisionRequired
		}

		comment, _ := input[models.OutputKeyComment].(string)

		return map[string]any{
			models.OutputKeyApproved:    approved,
			models.OutputKeyComment:     comment,
			models.OutputKeyCompletedBy: CompletedByUser,
			models.OutputKeyCompletedAt: completedAt,
		}, nil
	}

	output := maps.Clone(input)
	if output == nil {
		output = make(map[string]any, 2)
	}

	output[models.OutputKeyCompletedBy] = CompletedByUser
	output[models.OutputKeyCompletedAt] = completedAt

	return output, nil
}
