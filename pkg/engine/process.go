package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
)

// processNode claims a pending node whose parents have all completed and
// executes it. Anything else is a no-op, so a node reached by several
// parents runs once, and a completed node never runs again.
func (e *Engine) processNode(ctx context.Context, workflowID, nodeID string, run models.RunContext) error {
	var claimed *models.Node

	_, err := e.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		node := graph.FindNode(wf, nodeID)
		if node == nil || node.Status != models.NodeStatusPending {
			return errSkip
		}

		if !graph.AllParentsCompleted(wf, nodeID) {
			return errSkip
		}

		now := e.now()
		node.Status = models.NodeStatusInProgress
		node.UpdatedAt = &now
		claimed = node.Clone()

		return nil
	})

	if errors.Is(err, errSkip) {
		e.logger.DebugContext(ctx, "node not ready", "workflow_id", workflowID, "node_id", nodeID)

		return nil
	}

	if err != nil {
		return err
	}

	return e.executeNode(ctx, workflowID, claimed, run)
}

// executeNode runs the handler of an in-progress node and records the outcome.
func (e *Engine) executeNode(ctx context.Context, workflowID string, node *models.Node, run models.RunContext) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.executeNode",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
	)
	defer span.End()

	run.WorkflowID = workflowID
	run.Now = e.now()

	result, err := e.runHandler(ctx, node, run)
	if err != nil {
		execErr := &NodeExecutionError{NodeID: node.ID, NodeType: node.Type, Err: err}
		otelhelper.SetError(span, execErr)

		return e.recordOutcome(ctx, workflowID, node, e.failNode(ctx, workflowID, execErr))
	}

	span.SetAttributes(attribute.String(otelhelper.NodeStatusKey, string(result.Status)))

	switch result.Status {
	case models.NodeStatusCompleted:
		return e.recordOutcome(ctx, workflowID, node, e.completeNode(ctx, workflowID, node.ID, result.Output, run))
	case models.NodeStatusSuspended:
		return e.recordOutcome(ctx, workflowID, node, e.suspendNode(ctx, workflowID, node.ID, result.Output))
	default:
		return e.recordOutcome(ctx, workflowID, node, e.failNode(ctx, workflowID, &NodeExecutionError{
			NodeID:   node.ID,
			NodeType: node.Type,
			Err:      fmt.Errorf("handler returned unsupported status %q", result.Status),
		}))
	}
}

// recordOutcome handles a failed outcome save of a node the engine claimed.
// The node is moved from in-progress to error so it can be resumed. When
// even that save fails the node stays in-progress until the stale claim
// timeout lets a resume take it over. err is returned either way.
func (e *Engine) recordOutcome(ctx context.Context, workflowID string, node *models.Node, err error) error {
	if err == nil {
		return nil
	}

	_, rollbackErr := e.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		current := graph.FindNode(wf, node.ID)
		if current == nil || current.Status != models.NodeStatusInProgress {
			return errSkip
		}

		now := e.now()
		current.Status = models.NodeStatusError
		current.Error = "failed to record node outcome: " + err.Error()
		current.Output = map[string]any{models.OutputKeyError: current.Error}
		current.UpdatedAt = &now

		return nil
	})

	if errors.Is(rollbackErr, errSkip) {
		return err
	}

	if rollbackErr != nil {
		e.logger.ErrorContext(ctx, "node left in-progress",
			"workflow_id", workflowID, "node_id", node.ID, "error", err, "rollback_error", rollbackErr)

		return errors.Join(err, rollbackErr)
	}

	e.logger.ErrorContext(ctx, "node outcome not saved, marked as error",
		"workflow_id", workflowID, "node_id", node.ID, "error", err)

	return err
}

// runHandler dispatches to the node's handler and turns a panic into an error.
func (e *Engine) runHandler(ctx context.Context, node *models.Node, run models.RunContext) (result protocol.Result, err error) {
	handler, known := e.handlers.Handler(node.Type)
	if handler == nil {
		return protocol.Result{}, fmt.Errorf("no handler for node type %q", node.Type)
	}

	if !known {
		e.logger.DebugContext(ctx, "unknown node type, using fallback handler",
			"workflow_id", run.WorkflowID, "node_id", node.ID, "node_type", node.Type)
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "node handler panicked",
				"workflow_id", run.WorkflowID, "node_id", node.ID, "panic", r, "stack", string(debug.Stack()))

			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()

	return handler.Execute(ctx, node.Clone(), run)
}

func (e *Engine) suspendNode(ctx context.Context, workflowID, nodeID string, output map[string]any) error {
	_, err := e.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		node := graph.FindNode(wf, nodeID)
		if node == nil || !node.Status.CanTransitionTo(models.NodeStatusSuspended) {
			return errSkip
		}

		now := e.now()
		node.Status = models.NodeStatusSuspended
		node.Output = output
		node.UpdatedAt = &now

		return nil
	})

	if errors.Is(err, errSkip) {
		return nil
	}

	if err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "node suspended", "workflow_id", workflowID, "node_id", nodeID)

	return nil
}

func (e *Engine) failNode(ctx context.Context, workflowID string, execErr *NodeExecutionError) error {
	e.logger.ErrorContext(ctx, "node execution failed",
		"workflow_id", workflowID, "node_id", execErr.NodeID, "node_type", execErr.NodeType, "error", execErr.Err)

	_, err := e.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		node := graph.FindNode(wf, execErr.NodeID)
		if node == nil || !node.Status.CanTransitionTo(models.NodeStatusError) {
			return errSkip
		}

		now := e.now()
		node.Status = models.NodeStatusError
		node.Error = execErr.Err.Error()
		node.Output = map[string]any{models.OutputKeyError: node.Error}
		node.UpdatedAt = &now

		return nil
	})

	if errors.Is(err, errSkip) {
		return nil
	}

	return err
}

// completeNode marks an in-progress node completed with output and follows
// its edges. A node that is already completed is left alone.
func (e *Engine) completeNode(ctx context.Context, workflowID, nodeID string, output map[string]any, run models.RunContext) error {
	return e.finishNode(ctx, workflowID, nodeID, run, func(node *models.Node) (map[string]any, error) {
		if !node.Status.CanTransitionTo(models.NodeStatusCompleted) {
			return nil, errSkip
		}

		return output, nil
	})
}

// finishNode completes a node in a single save, notifies the integration
// hook once and follows the node's outgoing edges in stored order. accept
// sees the fresh node and returns its output; errSkip from accept makes
// finishNode a no-op, any other error is returned unchanged.
func (e *Engine) finishNode(
	ctx context.Context,
	workflowID, nodeID string,
	run models.RunContext,
	accept func(node *models.Node) (map[string]any, error),
) error {
	wf, err := e.mutate(ctx, workflowID, func(wf *models.Workflow) error {
		node := graph.FindNode(wf, nodeID)
		if node == nil {
			return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
		}

		output, err := accept(node)
		if err != nil {
			return err
		}

		now := e.now()
		node.Status = models.NodeStatusCompleted
		node.Output = output
		node.Error = ""
		node.UpdatedAt = &now

		return nil
	})

	if errors.Is(err, errSkip) {
		e.logger.DebugContext(ctx, "node not completable", "workflow_id", workflowID, "node_id", nodeID)

		return nil
	}

	if err != nil {
		return err
	}

	node := graph.FindNode(wf, nodeID).Clone()

	e.logger.InfoContext(ctx, "node completed", "workflow_id", workflowID, "node_id", nodeID, "node_type", node.Type)

	e.notify(ctx, node, workflowID)

	var errs []error

	for _, edge := range graph.OutgoingEdges(wf, nodeID) {
		if graph.FindNode(wf, edge.Target) == nil {
			e.logger.WarnContext(ctx, "edge target missing", "workflow_id", workflowID, "source", edge.Source, "target", edge.Target)

			continue
		}

		if !follows(node, edge) {
			continue
		}

		if err := e.processNode(ctx, workflowID, edge.Target, run); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// follows reports whether traversal continues along edge once node completed.
// Only decision nodes gate edges, and only edges carrying a source handle.
func follows(node *models.Node, edge *models.Edge) bool {
	if node.Type != models.NodeTypeDecision || edge.SourceHandle == "" {
		return true
	}

	decision, ok := node.Output[models.OutputKeyDecision]
	if !ok {
		return false
	}

	return edge.SourceHandle == fmt.Sprint(decision)
}

// notify calls the integration hook. Its failures are logged and dropped.
func (e *Engine) notify(ctx context.Context, node *models.Node, workflowID string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "integration hook panicked", "workflow_id", workflowID, "node_id", node.ID, "panic", r)
		}
	}()

	if err := e.hook.Notify(ctx, node, workflowID); err != nil {
		e.logger.ErrorContext(ctx, "integration hook failed", "workflow_id", workflowID, "node_id", node.ID, "error", err)
	}
}
