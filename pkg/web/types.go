package web

import "github.com/dukex/flowrun/pkg/models"

// CreateWorkflowRequest represents the request body for creating a new workflow.
type CreateWorkflowRequest struct {
	ID              string         `json:"id,omitempty"               validate:"omitempty,max=128,printascii,excludesall=/\\,excludes=.."`
	Name            string         `json:"name"                       validate:"required,min=3"`
	Description     string         `json:"description"`
	Owner           string         `json:"owner"                      validate:"required"`
	Nodes           []*models.Node `json:"nodes"                      validate:"dive,required"`
	Edges           []*models.Edge `json:"edges"                      validate:"dive,required"`
	IntegrationID   string         `json:"integration_id,omitempty"`
	IntegrationType string         `json:"integration_type,omitempty"`
	Settings        map[string]any `json:"settings,omitempty"`
}

// Workflow converts the request into a draft definition.
func (r CreateWorkflowRequest) Workflow() *models.Workflow {
	return &models.Workflow{
		ID:              r.ID,
		Name:            r.Name,
		Description:     r.Description,
		Owner:           r.Owner,
		Nodes:           r.Nodes,
		Edges:           r.Edges,
		IntegrationID:   r.IntegrationID,
		IntegrationType: r.IntegrationType,
		Settings:        r.Settings,
	}
}

// StartWorkflowRequest is the optional body of a start request. Async hands
// the start to a worker through the event bus.
type StartWorkflowRequest struct {
	Data  map[string]any `json:"data,omitempty"`
	Async bool           `json:"async,omitempty"`
}

// ResumeNodeRequest is the body of a resume request. For approval nodes Input
// must carry a boolean "approved".
type ResumeNodeRequest struct {
	Input map[string]any `json:"input"`
	Async bool           `json:"async,omitempty"`
}

// AcceptedResponse acknowledges a request handed to a worker.
type AcceptedResponse struct {
	EventID    string `json:"event_id"`
	WorkflowID string `json:"workflow_id"`
	NodeID     string `json:"node_id,omitempty"`
}

// NodeTypeResponse describes a registered node type.
type NodeTypeResponse struct {
	Type   models.NodeType `json:"type"`
	Schema map[string]any  `json:"schema"`
}
