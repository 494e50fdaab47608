// Package task provides the handler for manual task nodes. It also serves
// node types the registry does not know.
package task

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// OutputKeyAutoCompleted marks a task that finished without human input.
const OutputKeyAutoCompleted = "auto_completed"

// Handler suspends a task until someone resumes it, unless the node is
// flagged to auto-complete.
type Handler struct {
	nodeType models.NodeType
}

// NewHandler creates a task handler registered under nodeType. An empty type
// means task.
func NewHandler(nodeType models.NodeType) *Handler {
	if nodeType == "" {
		nodeType = models.NodeTypeTask
	}

	return &Handler{nodeType: nodeType}
}

// Type returns the node type.
func (h *Handler) Type() models.NodeType {
	return h.nodeType
}

// Execute completes auto-complete tasks and suspends the rest.
func (h *Handler) Execute(_ context.Context, node *models.Node, _ models.RunContext) (protocol.Result, error) {
	if node.AutoComplete() {
		return protocol.Completed(map[string]any{OutputKeyAutoCompleted: true}), nil
	}

	return protocol.Suspended(map[string]any{}), nil
}

// Schema returns the JSON schema for task node definitions.
func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Manual step. Waits for a resume unless automation.auto_complete is set.",
		"properties": map[string]any{
			"id":       map[string]any{"type": "string", "minLength": 1},
			"type":     map[string]any{"type": "string"},
			"label":    map[string]any{"type": "string"},
			"assignee": map[string]any{"type": "string"},
			"automation": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"auto_complete": map[string]any{"type": "boolean", "default": false},
				},
			},
		},
		"required": []string{"id", "type"},
	}
}
