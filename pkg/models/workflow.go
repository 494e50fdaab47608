// Package models defines the core domain models for graph-based workflow execution
package models

import (
	"maps"
	"time"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft     WorkflowStatus = "draft"     // Authored, never started
	WorkflowStatusActive    WorkflowStatus = "active"    // Started, nodes are being advanced
	WorkflowStatusCompleted WorkflowStatus = "completed" // Set by caller policy, never by the engine
	WorkflowStatusError     WorkflowStatus = "error"     // Set by caller policy, never by the engine
)

// IsValid reports whether the status is one of the known workflow statuses.
func (s WorkflowStatus) IsValid() bool {
	switch s {
	case WorkflowStatusDraft, WorkflowStatusActive, WorkflowStatusCompleted, WorkflowStatusError:
		return true
	default:
		return false
	}
}

// Workflow is a directed graph of typed nodes. The record owns its nodes and
// edges and is always persisted as a whole.
type Workflow struct {
	ID              string         `json:"id"                         validate:"omitempty,max=128,printascii,excludesall=/\\,excludes=.."`
	Name            string         `json:"name"                       validate:"required,min=3"`
	Description     string         `json:"description"`
	Owner           string         `json:"owner"`
	Status          WorkflowStatus `json:"status"                     validate:"required"`
	Nodes           []*Node        `json:"nodes"                      validate:"dive"`
	Edges           []*Edge        `json:"edges"                      validate:"dive"`
	IntegrationID   string         `json:"integration_id,omitempty"`   // Opaque, handed to integrations as-is
	IntegrationType string         `json:"integration_type,omitempty"` // Opaque, handed to integrations as-is
	Settings        map[string]any `json:"settings,omitempty"`

	// Version is the optimistic concurrency token. Stores reject a save whose
	// version differs from the stored one and bump it on success.
	Version   int64      `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Clone returns a copy of the workflow that shares no nodes, edges or maps
// with the receiver.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}

	clone := *w
	clone.Settings = maps.Clone(w.Settings)

	if w.StartedAt != nil {
		startedAt := *w.StartedAt
		clone.StartedAt = &startedAt
	}

	clone.Nodes = make([]*Node, 0, len(w.Nodes))
	for _, node := range w.Nodes {
		clone.Nodes = append(clone.Nodes, node.Clone())
	}

	clone.Edges = make([]*Edge, 0, len(w.Edges))
	for _, edge := range w.Edges {
		e := *edge
		clone.Edges = append(clone.Edges, &e)
	}

	return &clone
}

// CountByStatus returns how many nodes are in each status.
func (w *Workflow) CountByStatus() map[NodeStatus]int {
	counts := make(map[NodeStatus]int)
	for _, node := range w.Nodes {
		counts[node.Status]++
	}

	return counts
}
