package models

import "time"

// RunContext is what a node handler sees of the traversal that invoked it.
type RunContext struct {
	WorkflowID string         `json:"workflow_id"`
	Data       map[string]any `json:"data,omitempty"`
	Now        time.Time      `json:"now"`
}
