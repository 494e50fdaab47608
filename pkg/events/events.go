// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

type EventType string

// Topic carries every flowrun event; consumers dispatch on the event type metadata.
const Topic = "flowrun.events"

const (
	EventMetadataKey     = "key"
	EventTypeMetadataKey = "event_type"
)

const (
	// NodeCompletedEvent is published once per node completion.
	NodeCompletedEvent EventType = "node.completed"

	// WorkflowStartRequestedEvent asks a worker to start a workflow.
	WorkflowStartRequestedEvent EventType = "workflow.start.requested"

	// NodeResumeRequestedEvent asks a worker to resume a suspended node.
	NodeResumeRequestedEvent EventType = "node.resume.requested"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// NodeCompleted reports a node that reached completed. The integration fields
// are copied from the workflow so subscribers can route without loading it.
type NodeCompleted struct {
	BaseEvent

	NodeID          string             `json:"node_id"`
	NodeType        models.NodeType    `json:"node_type"`
	Label           string             `json:"label,omitempty"`
	Assignee        string             `json:"assignee,omitempty"`
	Automation      *models.Automation `json:"automation,omitempty"`
	Output          map[string]any     `json:"output,omitempty"`
	IntegrationID   string             `json:"integration_id,omitempty"`
	IntegrationType string             `json:"integration_type,omitempty"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type WorkflowStartRequested struct {
	BaseEvent

	Data map[string]any `json:"data,omitempty"`
}

func (e WorkflowStartRequested) GetType() EventType {
	return WorkflowStartRequestedEvent
}

type NodeResumeRequested struct {
	BaseEvent

	NodeID string         `json:"node_id"`
	Input  map[string]any `json:"input,omitempty"`
}

func (e NodeResumeRequested) GetType() EventType {
	return NodeResumeRequestedEvent
}
