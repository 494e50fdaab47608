// Package decision provides the handler for branching nodes. The boolean it
// records under "decision" is matched against outgoing edge handles.
package decision

import (
	"context"
	"strings"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// DefaultTruthyValues are the condition strings read as true unless
// WithTruthyValues replaces them.
var DefaultTruthyValues = []string{"true", "approved"}

// Option configures a Handler.
type Option func(*Handler)

// WithTruthyValues replaces the strings a string condition must equal,
// case-insensitively after trimming, to evaluate to true.
func WithTruthyValues(values ...string) Option {
	return func(h *Handler) {
		h.truthy = normalize(values)
	}
}

// Handler evaluates decision node conditions.
type Handler struct {
	truthy map[string]struct{}
}

// NewHandler creates a decision handler.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{truthy: normalize(DefaultTruthyValues)}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func normalize(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}

	return set
}

// Type returns the node type.
func (h *Handler) Type() models.NodeType {
	return models.NodeTypeDecision
}

// Execute completes the node with the evaluated condition.
func (h *Handler) Execute(_ context.Context, node *models.Node, _ models.RunContext) (protocol.Result, error) {
	return protocol.Completed(map[string]any{
		models.OutputKeyDecision: h.Evaluate(node.Condition),
	}), nil
}

// Evaluate reads a bool as-is and a string through the truthy set. Anything
// else, including a missing condition, is false.
func (h *Handler) Evaluate(condition any) bool {
	switch v := condition.(type) {
	case bool:
		return v
	case string:
		_, ok := h.truthy[strings.ToLower(strings.TrimSpace(v))]

		return ok
	default:
		return false
	}
}

// Schema returns the JSON schema for decision node definitions.
func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Evaluates condition and routes to the edges whose source_handle matches the result.",
		"properties": map[string]any{
			"id":    map[string]any{"type": "string", "minLength": 1},
			"type":  map[string]any{"const": string(models.NodeTypeDecision)},
			"label": map[string]any{"type": "string"},
			"condition": map[string]any{
				"type":     []string{"boolean", "string"},
				"examples": []any{true, "approved", "false"},
			},
		},
		"required": []string{"id", "type"},
	}
}
