// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/flowrun/pkg/models"
	"github.com/google/uuid"
)

// CreateTestWorkflow creates a draft workflow holding the given nodes and edges.
func CreateTestWorkflow(nodes []*models.Node, edges []*models.Edge, overrides ...func(*models.Workflow)) *models.Workflow {
	workflow := &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "Workflow built for tests",
		Owner:       "test-user",
		Status:      models.WorkflowStatusDraft,
		Nodes:       nodes,
		Edges:       edges,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// CreateTestNode creates a pending node of the given type that can be overridden.
func CreateTestNode(id string, nodeType models.NodeType, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:     id,
		Type:   nodeType,
		Label:  "Node " + id,
		Status: models.NodeStatusPending,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// Edge creates an edge from source to target.
func Edge(source, target string) *models.Edge {
	return &models.Edge{
		ID:     source + "->" + target,
		Source: source,
		Target: target,
	}
}

// BranchEdge creates an edge from source to target guarded by a branch label.
func BranchEdge(source, target, handle string) *models.Edge {
	edge := Edge(source, target)
	edge.SourceHandle = handle

	return edge
}

// WithAutoComplete flags the node to complete without human input.
func WithAutoComplete() func(*models.Node) {
	return func(n *models.Node) {
		if n.Automation == nil {
			n.Automation = &models.Automation{}
		}

		n.Automation.AutoComplete = true
	}
}

// WithSendEmail sets the assignee and the send-email automation flag.
func WithSendEmail(assignee string) func(*models.Node) {
	return func(n *models.Node) {
		if n.Automation == nil {
			n.Automation = &models.Automation{}
		}

		n.Assignee = assignee
		n.Automation.SendEmail = true
	}
}

// WithCondition sets the decision condition.
func WithCondition(condition any) func(*models.Node) {
	return func(n *models.Node) {
		n.Condition = condition
	}
}

// WithDuration sets the delay duration.
func WithDuration(duration string) func(*models.Node) {
	return func(n *models.Node) {
		n.Duration = duration
	}
}

// WithStatus sets the node status.
func WithStatus(status models.NodeStatus) func(*models.Node) {
	return func(n *models.Node) {
		n.Status = status
	}
}

// Chain returns edges linking ids in order.
func Chain(ids ...string) []*models.Edge {
	edges := make([]*models.Edge, 0, len(ids))
	for i := 1; i < len(ids); i++ {
		edges = append(edges, Edge(ids[i-1], ids[i]))
	}

	return edges
}
