// Package protocol defines the interfaces and contracts for pluggable nodes.
package protocol

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
)

// Result is what a handler reports after executing a node. Status is either
// completed or suspended; failures are reported through the returned error.
type Result struct {
	Status models.NodeStatus
	Output map[string]any
}

// Completed builds a result that lets traversal continue past the node.
func Completed(output map[string]any) Result {
	return Result{Status: models.NodeStatusCompleted, Output: output}
}

// Suspended builds a result that parks the node until it is resumed.
func Suspended(output map[string]any) Result {
	return Result{Status: models.NodeStatusSuspended, Output: output}
}

// NodeHandler executes one node type.
type NodeHandler interface {
	// Type returns the node type this handler serves
	Type() models.NodeType

	// Execute runs the node. It must not block waiting for external input;
	// nodes that need it return a suspended result instead.
	Execute(ctx context.Context, node *models.Node, run models.RunContext) (Result, error)

	// Schema returns the JSON schema a node definition of this type must satisfy
	Schema() map[string]any
}
