// Package start provides the handler for workflow entry nodes.
package start

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// Handler completes start nodes immediately, stamping the run time.
type Handler struct{}

// NewHandler creates a start node handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Type returns the node type.
func (h *Handler) Type() models.NodeType {
	return models.NodeTypeStart
}

// Execute completes the node with the time the run began.
func (h *Handler) Execute(_ context.Context, _ *models.Node, run models.RunContext) (protocol.Result, error) {
	return protocol.Completed(map[string]any{
		models.OutputKeyStartedAt: run.Now.UTC().Format(time.RFC3339),
	}), nil
}

// Schema returns the JSON schema for start node definitions.
func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Entry point of a workflow. Completes as soon as the workflow starts.",
		"properties": map[string]any{
			"id":    map[string]any{"type": "string", "minLength": 1},
			"type":  map[string]any{"const": string(models.NodeTypeStart)},
			"label": map[string]any{"type": "string"},
		},
		"required": []string{"id", "type"},
	}
}
