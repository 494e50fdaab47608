package models

// NodeStatus defines the possible states of a node.
type NodeStatus string

const (
	NodeStatusPending    NodeStatus = "pending"
	NodeStatusInProgress NodeStatus = "in-progress"
	NodeStatusCompleted  NodeStatus = "completed"
	NodeStatusSuspended  NodeStatus = "suspended"
	NodeStatusError      NodeStatus = "error"
)

// nodeTransitions lists the forward moves a node may make. Resetting to
// pending is not a transition, only a full workflow restart does that.
var nodeTransitions = map[NodeStatus][]NodeStatus{
	NodeStatusPending:    {NodeStatusInProgress},
	NodeStatusInProgress: {NodeStatusCompleted, NodeStatusSuspended, NodeStatusError},
	NodeStatusSuspended:  {NodeStatusInProgress},
	NodeStatusError:      {NodeStatusInProgress},
}

// CanTransitionTo reports whether a node may move from s to next.
func (s NodeStatus) CanTransitionTo(next NodeStatus) bool {
	for _, allowed := range nodeTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// IsTerminal reports whether automatic traversal leaves a node in this status alone.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusCompleted || s == NodeStatusError
}
