// Package models defines core node-based workflow models for graph execution
package models

import (
	"maps"
	"time"
)

// NodeType is the tag used to dispatch a node to its handler.
type NodeType string

const (
	NodeTypeStart    NodeType = "start"
	NodeTypeInput    NodeType = "input"
	NodeTypeTask     NodeType = "task"
	NodeTypeEmail    NodeType = "email"
	NodeTypeDecision NodeType = "decision"
	NodeTypeDelay    NodeType = "delay"
	NodeTypeApproval NodeType = "approval"
	NodeTypeDefault  NodeType = "default"
)

// IsRoot reports whether nodes of this type mark an explicit entry point.
func (t NodeType) IsRoot() bool {
	return t == NodeTypeStart || t == NodeTypeInput
}

// Output keys written by handlers and resume calls. Downstream routing and
// integrations read them, so they are part of the external contract.
const (
	OutputKeyStartedAt   = "started_at"
	OutputKeySent        = "sent"
	OutputKeyDecision    = "decision"
	OutputKeyResumeAt    = "resume_at"
	OutputKeyApproved    = "approved"
	OutputKeyComment     = "comment"
	OutputKeyCompletedBy = "completedBy"
	OutputKeyCompletedAt = "completedAt"
	OutputKeyError       = "error"
)

// Automation carries capability flags. The engine only reads AutoComplete and
// SendEmail, everything else is for integrations.
type Automation struct {
	AutoComplete bool           `json:"auto_complete,omitempty"`
	SendEmail    bool           `json:"send_email,omitempty"`
	Flags        map[string]any `json:"flags,omitempty"`
}

// Node is a unit of work in a workflow graph.
type Node struct {
	ID         string         `json:"id"                   validate:"required"`
	Type       NodeType       `json:"type"                 validate:"required"`
	Label      string         `json:"label"`
	Status     NodeStatus     `json:"status"`
	Assignee   string         `json:"assignee,omitempty"`
	Automation *Automation    `json:"automation,omitempty"`
	Condition  any            `json:"condition,omitempty"` // bool or string, read by decision nodes
	Duration   string         `json:"duration,omitempty"`  // Go duration string, read by delay nodes
	Deadline   *time.Time     `json:"deadline,omitempty"`
	Output     map[string]any `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	UpdatedAt  *time.Time     `json:"updated_at,omitempty"`
}

// AutoComplete reports whether the node is flagged to complete without human input.
func (n *Node) AutoComplete() bool {
	return n.Automation != nil && n.Automation.AutoComplete
}

// SendEmail reports whether the node carries the send-email automation flag.
func (n *Node) SendEmail() bool {
	return n.Automation != nil && n.Automation.SendEmail
}

// Clone returns a copy of the node that shares no maps with the receiver.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	clone := *n
	clone.Output = maps.Clone(n.Output)

	if n.Automation != nil {
		automation := *n.Automation
		automation.Flags = maps.Clone(n.Automation.Flags)
		clone.Automation = &automation
	}

	if n.Deadline != nil {
		deadline := *n.Deadline
		clone.Deadline = &deadline
	}

	if n.UpdatedAt != nil {
		updatedAt := *n.UpdatedAt
		clone.UpdatedAt = &updatedAt
	}

	return &clone
}

// ResumeAt returns the time a suspended delay node is due, as recorded in its output.
func (n *Node) ResumeAt() (time.Time, bool) {
	switch v := n.Output[OutputKeyResumeAt].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, false
		}

		return t, true
	default:
		return time.Time{}, false
	}
}

// Edge routes completion of Source to Target. SourceHandle is a branch label
// that only matters when Source is a decision node.
type Edge struct {
	ID           string `json:"id,omitempty"`
	Source       string `json:"source"                  validate:"required"`
	Target       string `json:"target"                  validate:"required"`
	SourceHandle string `json:"source_handle,omitempty"`
	Label        string `json:"label,omitempty"`
}
