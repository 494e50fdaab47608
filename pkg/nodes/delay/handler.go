// Package delay provides the handler for timed wait nodes. The handler never
// sleeps: it records when the node is due and suspends, and the scheduler
// fires the node once that time has passed.
package delay

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// Handler computes the resume time of delay nodes.
type Handler struct{}

// NewHandler creates a delay node handler.
func NewHandler() *Handler {
	return &Handler{}
}

// Type returns the node type.
func (h *Handler) Type() models.NodeType {
	return models.NodeTypeDelay
}

// Execute suspends until run.Now plus the node duration, or until the
// deadline when no duration is set. A node with neither, or with a deadline
// already behind run.Now, completes immediately.
func (h *Handler) Execute(_ context.Context, node *models.Node, run models.RunContext) (protocol.Result, error) {
	var resumeAt time.Time

	switch {
	case node.Duration != "":
		d, err := time.ParseDuration(node.Duration)
		if err != nil {
			return protocol.Result{}, fmt.Errorf("invalid delay duration %q: %w", node.Duration, err)
		}

		if d < 0 {
			return protocol.Result{}, fmt.Errorf("invalid delay duration %q: must not be negative", node.Duration)
		}

		resumeAt = run.Now.Add(d)
	case node.Deadline != nil:
		resumeAt = *node.Deadline
	default:
		return protocol.Completed(map[string]any{}), nil
	}

	if !resumeAt.After(run.Now) {
		return protocol.Completed(map[string]any{
			models.OutputKeyResumeAt: resumeAt.UTC().Format(time.RFC3339Nano),
		}), nil
	}

	return protocol.Suspended(map[string]any{
		models.OutputKeyResumeAt: resumeAt.UTC().Format(time.RFC3339Nano),
	}), nil
}

// Schema returns the JSON schema for delay node definitions.
func (h *Handler) Schema() map[string]any {
	return map[string]any{
		"type":        "object",
		"description": "Waits for duration (Go duration syntax) or until deadline before continuing.",
		"properties": map[string]any{
			"id":       map[string]any{"type": "string", "minLength": 1},
			"type":     map[string]any{"const": string(models.NodeTypeDelay)},
			"label":    map[string]any{"type": "string"},
			"duration": map[string]any{"type": "string", "examples": []string{"30s", "15m", "24h"}},
			"deadline": map[string]any{"type": "string", "format": "date-time"},
		},
		"required": []string{"id", "type"},
	}
}
