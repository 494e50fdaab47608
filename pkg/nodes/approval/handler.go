// Package approval provides the handler for human sign-off nodes.
package approval

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// Handler always suspends; the decision arrives through a resume.
type Handler struct{}

// NewHandler creates an approval node handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Type returns the node type.
func (h *Handler) Type() models.NodeType {
	return models.NodeTypeApproval
}

// Execute suspends the node.
func (h *Handler) Execute(context.Context, *models.Node, models.RunContext) (protocol.Result, error) {
	return protocol.Suspended(map[string]any{}), nil
}

// Schema returns the JSON schema for approval node definitions.
func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Waits for an approve or reject decision from the assignee.",
		"properties": map[string]any{
			"id":       map[string]any{"type": "string", "minLength": 1},
			"type":     map[string]any{"const": string(models.NodeTypeApproval)},
			"label":    map[string]any{"type": "string"},
			"assignee": map[string]any{"type": "string"},
		},
		"required": []string{"id", "type"},
	}
}
