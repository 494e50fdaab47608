// Package email provides the handler for notification nodes.
package email

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// OutputKeyTo holds the recipient the notification was addressed to.
const OutputKeyTo = "to"

// Handler completes email nodes and records whether a notification is due.
// Delivery itself belongs to the integration hook.
type Handler struct{}

// NewHandler creates an email node handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Type returns the node type.
func (h *Handler) Type() models.NodeType {
	return models.NodeTypeEmail
}

// Execute always completes. sent is true only when the node has an assignee
// and the send-email flag.
func (h *Handler) Execute(_ context.Context, node *models.Node, _ models.RunContext) (protocol.Result, error) {
	sent := node.Assignee != "" && node.SendEmail()

	output := map[string]any{models.OutputKeySent: sent}
	if sent {
		output[OutputKeyTo] = node.Assignee
	}

	return protocol.Completed(output), nil
}

// Schema returns the JSON schema for email node definitions.
func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Notifies the assignee when automation.send_email is set. Never blocks.",
		"properties": map[string]any{
			"id":       map[string]any{"type": "string", "minLength": 1},
			"type":     map[string]any{"const": string(models.NodeTypeEmail)},
			"label":    map[string]any{"type": "string"},
			"assignee": map[string]any{"type": "string"},
			"automation": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"send_email": map[string]any{"type": "boolean", "default": false},
				},
			},
		},
		"required": []string{"id", "type"},
	}
}
