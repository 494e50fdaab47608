package main

import (
	"context"
	"log/slog"

	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/services"
)

// Runner is the part of the engine the worker drives.
type Runner interface {
	StartWorkflow(ctx context.Context, workflowID string, data map[string]any) (*models.Workflow, error)
	ResumeWorkflow(ctx context.Context, workflowID, nodeID string, input map[string]any) (*models.Workflow, error)
}

// Scheduler fires due delay timers until its context ends.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
}

type WorkerManager struct {
	id        string
	logger    *slog.Logger
	runner    Runner
	eventBus  eventbus.EventBus
	scheduler Scheduler
}

// NewWorkerManager creates a worker. eventBus may be nil, in which case the
// worker only fires delay timers.
func NewWorkerManager(
	id string,
	runner Runner,
	eventBus eventbus.EventBus,
	scheduler Scheduler,
	logger *slog.Logger,
) *WorkerManager {
	return &WorkerManager{
		id:        id,
		logger:    logger.With("module", "flowrun-worker", "worker_id", id),
		runner:    runner,
		eventBus:  eventBus,
		scheduler: scheduler,
	}
}

// Start subscribes to start and resume requests, starts the delay scheduler
// and blocks until ctx is done.
func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	if w.eventBus != nil {
		err := w.eventBus.Handle(events.WorkflowStartRequestedEvent, w.handleWorkflowStartRequested)
		if err != nil {
			return err
		}

		err = w.eventBus.Handle(events.NodeResumeRequestedEvent, w.handleNodeResumeRequested)
		if err != nil {
			return err
		}

		err = w.eventBus.Subscribe(ctx)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

			return err
		}
	}

	if err := w.scheduler.Start(ctx); err != nil {
		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	<-ctx.Done()

	w.logger.InfoContext(context.WithoutCancel(ctx), "Shutting down worker...")
	w.scheduler.Stop()

	return nil
}

func (w *WorkerManager) handleWorkflowStartRequested(ctx context.Context, event any) error {
	startEvent, ok := event.(*events.WorkflowStartRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for WorkflowStartRequested")

		return nil
	}

	logger := w.logger.With("workflow_id", startEvent.WorkflowID, "event_id", startEvent.ID)
	logger.InfoContext(ctx, "Processing workflow start request")

	_, err := w.runner.StartWorkflow(ctx, startEvent.WorkflowID, startEvent.Data)

	return w.settle(ctx, logger, err)
}

func (w *WorkerManager) handleNodeResumeRequested(ctx context.Context, event any) error {
	resumeEvent, ok := event.(*events.NodeResumeRequested)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for NodeResumeRequested")

		return nil
	}

	logger := w.logger.With("workflow_id", resumeEvent.WorkflowID, "node_id", resumeEvent.NodeID, "event_id", resumeEvent.ID)
	logger.InfoContext(ctx, "Processing node resume request")

	_, err := w.runner.ResumeWorkflow(ctx, resumeEvent.WorkflowID, resumeEvent.NodeID, resumeEvent.Input)

	return w.settle(ctx, logger, err)
}

// settle drops requests that can never succeed and returns the rest so the
// message is redelivered. A lost version race is retried.
func (w *WorkerManager) settle(ctx context.Context, logger *slog.Logger, err error) error {
	switch {
	case err == nil:
		return nil
	case persistence.IsVersionConflict(err):
		logger.WarnContext(ctx, "Workflow changed concurrently, request will be retried", "error", err)

		return err
	case services.IsNotFoundError(err), services.IsValidationError(err), services.IsConflictError(err):
		logger.WarnContext(ctx, "Rejected request", "error", err)

		return nil
	default:
		logger.ErrorContext(ctx, "Failed to process request", "error", err)

		return err
	}
}
