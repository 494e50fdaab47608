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

// FireTimer completes a suspended delay node whose resume time has passed
// and continues traversal from it. A node that is not due yet, or is not a
// suspended delay, is rejected with ErrNodeNotResumable.
func (e *Engine) FireTimer(ctx context.Context, workflowID, nodeID string) (*models.Workflow, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.FireTimer",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.NodeIDKey, nodeID),
	)
	defer span.End()

	now := e.now()
	run := models.RunContext{WorkflowID: workflowID, Now: now}

	err := e.finishNode(ctx, workflowID, nodeID, run, func(node *models.Node) (map[string]any, error) {
		if node.Status == models.NodeStatusCompleted {
			return nil, ErrNodeAlreadyCompleted
		}

		if node.Type != models.NodeTypeDelay || node.Status != models.NodeStatusSuspended {
			return nil, fmt.Errorf("%w: node %s is not a waiting delay", ErrNodeNotResumable, nodeID)
		}

		if resumeAt, ok := node.ResumeAt(); ok && resumeAt.After(now) {
			return nil, fmt.Errorf("%w: node %s is due at %s", ErrNodeNotResumable, nodeID, resumeAt.Format(time.RFC3339))
		}

		output := maps.Clone(node.Output)
		if output == nil {
			output = make(map[string]any, 2)
		}

		output[models.OutputKeyCompletedBy] = CompletedByTimer
		output[models.OutputKeyCompletedAt] = now.Format(time.RFC3339)

		return output, nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	e.logger.InfoContext(ctx, "delay elapsed", "workflow_id", workflowID, "node_id", nodeID)

	return e.persistence.WorkflowByID(ctx, workflowID)
}

// DueTimers lists the suspended delay nodes of wf whose resume time is at or
// before now.
func DueTimers(wf *models.Workflow, now time.Time) []*models.Node {
	due := make([]*models.Node, 0)

	for _, node := range wf.Nodes {
		if node.Type != models.NodeTypeDelay || node.Status != models.NodeStatusSuspended {
			continue
		}

		if resumeAt, ok := node.ResumeAt(); ok && !resumeAt.After(now) {
			due = append(due, node)
		}
	}

	return due
}
