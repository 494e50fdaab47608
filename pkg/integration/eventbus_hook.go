package integration

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
)

// Publisher is the part of eventbus.EventBus the hook needs.
type Publisher interface {
	eventbus.EventPublisher
	GenerateID() string
}

// WorkflowReader loads the workflow a completed node belongs to.
type WorkflowReader interface {
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
}

// EventBusHook publishes a NodeCompleted event for each completion, keyed by
// workflow ID so one workflow's events stay ordered on partitioned transports.
type EventBusHook struct {
	publisher Publisher
	workflows WorkflowReader
	logger    *slog.Logger
	clock     func() time.Time
}

// NewEventBusHook creates the hook. workflows may be nil, in which case the
// integration fields of the event stay empty.
func NewEventBusHook(publisher Publisher, workflows WorkflowReader, logger *slog.Logger) *EventBusHook {
	return &EventBusHook{
		publisher: publisher,
		workflows: workflows,
		logger:    logger.With("module", "integration"),
		clock:     time.Now,
	}
}

func (h *EventBusHook) Notify(ctx context.Context, node *models.Node, workflowID string) error {
	event := events.NodeCompleted{
		BaseEvent: events.BaseEvent{
			ID:         h.publisher.GenerateID(),
			Type:       events.NodeCompletedEvent,
			Timestamp:  h.clock().UTC(),
			WorkflowID: workflowID,
		},
		NodeID:     node.ID,
		NodeType:   node.Type,
		Label:      node.Label,
		Assignee:   node.Assignee,
		Automation: node.Automation,
		Output:     node.Output,
	}

	if h.workflows != nil {
		wf, err := h.workflows.WorkflowByID(ctx, workflowID)
		if err != nil {
			h.logger.WarnContext(ctx, "publishing without integration fields", "workflow_id", workflowID, "error", err)
		} else {
			event.IntegrationID = wf.IntegrationID
			event.IntegrationType = wf.IntegrationType
		}
	}

	if err := h.publisher.Publish(ctx, workflowID, event); err != nil {
		return fmt.Errorf("failed to publish node completion %s/%s: %w", workflowID, node.ID, err)
	}

	h.logger.DebugContext(ctx, "node completion published", "workflow_id", workflowID, "node_id", node.ID, "event_id", event.ID)

	return nil
}
