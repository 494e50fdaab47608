package graph

import (
	"errors"
	"fmt"

	"github.com/dukex/flowrun/pkg/models"
	yb "github.com/yourbasic/graph"
)

var (
	// ErrEmptyNodeID indicates a node without an identifier.
	ErrEmptyNodeID = errors.New("node id is required")

	// ErrDuplicateNodeID indicates two nodes sharing an identifier.
	ErrDuplicateNodeID = errors.New("duplicate node id")

	// ErrUnknownEdgeEndpoint indicates an edge pointing at a node that does not exist.
	ErrUnknownEdgeEndpoint = errors.New("edge references unknown node")

	// ErrSelfLoop indicates an edge whose source and target are the same node.
	ErrSelfLoop = errors.New("edge connects node to itself")

	// ErrCyclicGraph indicates the edges form a cycle, which would leave the
	// nodes on it waiting for each other forever.
	ErrCyclicGraph = errors.New("workflow graph contains a cycle")
)

// Validate checks the structural soundness of a workflow definition and
// returns every problem found, joined.
func Validate(workflow *models.Workflow) error {
	var errs []error

	index := make(map[string]int, len(workflow.Nodes))

	for i, node := range workflow.Nodes {
		if node.ID == "" {
			errs = append(errs, fmt.Errorf("node at position %d: %w", i, ErrEmptyNodeID))

			continue
		}

		if _, exists := index[node.ID]; exists {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID))

			continue
		}

		index[node.ID] = i
	}

	g := yb.New(len(workflow.Nodes))
	structural := true

	for _, edge := range workflow.Edges {
		source, sourceOK := index[edge.Source]
		target, targetOK := index[edge.Target]

		switch {
		case !sourceOK:
			errs = append(errs, fmt.Errorf("%w: source %q", ErrUnknownEdgeEndpoint, edge.Source))
			structural = false
		case !targetOK:
			errs = append(errs, fmt.Errorf("%w: target %q", ErrUnknownEdgeEndpoint, edge.Target))
			structural = false
		case source == target:
			errs = append(errs, fmt.Errorf("%w: %s", ErrSelfLoop, edge.Source))
			structural = false
		default:
			g.Add(source, target)
		}
	}

	if structural && !yb.Acyclic(g) {
		errs = append(errs, ErrCyclicGraph)
	}

	return errors.Join(errs...)
}
