// Package graph provides structural queries over a workflow's nodes and edges.
// Nothing here performs I/O or mutates the workflow.
package graph

import "github.com/dukex/flowrun/pkg/models"

// FindNode returns the node with the given ID, or nil.
func FindNode(workflow *models.Workflow, nodeID string) *models.Node {
	for _, node := range workflow.Nodes {
		if node.ID == nodeID {
			return node
		}
	}

	return nil
}

// RootNodes returns the nodes traversal starts from: every start or input
// node, or, when the workflow has none, every node that no edge targets.
// Both forms keep the stored node order.
func RootNodes(workflow *models.Workflow) []*models.Node {
	roots := make([]*models.Node, 0)

	for _, node := range workflow.Nodes {
		if node.Type.IsRoot() {
			roots = append(roots, node)
		}
	}

	if len(roots) > 0 {
		return roots
	}

	targets := make(map[string]struct{}, len(workflow.Edges))
	for _, edge := range workflow.Edges {
		targets[edge.Target] = struct{}{}
	}

	for _, node := range workflow.Nodes {
		if _, targeted := targets[node.ID]; !targeted {
			roots = append(roots, node)
		}
	}

	return roots
}

// OutgoingEdges returns the edges leaving nodeID in stored order.
func OutgoingEdges(workflow *models.Workflow, nodeID string) []*models.Edge {
	edges := make([]*models.Edge, 0)

	for _, edge := range workflow.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// IncomingEdges returns the edges entering nodeID in stored order.
func IncomingEdges(workflow *models.Workflow, nodeID string) []*models.Edge {
	edges := make([]*models.Edge, 0)

	for _, edge := range workflow.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// AllParentsCompleted reports whether every node feeding nodeID is completed.
// A node without incoming edges trivially qualifies; an edge whose source is
// missing never does.
func AllParentsCompleted(workflow *models.Workflow, nodeID string) bool {
	for _, edge := range IncomingEdges(workflow, nodeID) {
		parent := FindNode(workflow, edge.Source)
		if parent == nil || parent.Status != models.NodeStatusCompleted {
			return false
		}
	}

	return true
}
