package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/dukex/flowrun/pkg/channels/gochannel"
	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/eventbus"
	"github.com/dukex/flowrun/pkg/events"
	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/dukex/flowrun/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubScheduler struct {
	started atomic.Bool
	stopped atomic.Bool
}

func (s *stubScheduler) Start(context.Context) error {
	s.started.Store(true)

	return nil
}

func (s *stubScheduler) Stop() {
	s.stopped.Store(true)
}

type workerFixture struct {
	store     persistence.Persistence
	bus       eventbus.EventBus
	scheduler *stubScheduler
	done      chan error
	cancel    context.CancelFunc
}

func startWorker(t *testing.T) *workerFixture {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())

	handlers := registry.NewRegistry(logger)
	handlers.RegisterDefaultHandlers()

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, logger)
	t.Cleanup(func() { _ = bus.Close() })

	f := &workerFixture{
		store:     store,
		bus:       bus,
		scheduler: &stubScheduler{},
		done:      make(chan error, 1),
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel

	worker := NewWorkerManager("worker-test", engine.New(store, handlers, nil, logger), bus, f.scheduler, logger)

	go func() { f.done <- worker.Start(ctx) }()

	require.Eventually(t, f.scheduler.started.Load, 5*time.Second, 10*time.Millisecond)

	return f
}

func (f *workerFixture) seed(t *testing.T) *models.Workflow {
	t.Helper()

	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("review", models.NodeTypeApproval),
		},
		testutil.Chain("start", "review"),
	)
	require.NoError(t, f.store.SaveWorkflow(context.Background(), wf))

	return wf
}

func (f *workerFixture) nodeCompleted(workflowID, nodeID string) func() bool {
	return func() bool {
		wf, err := f.store.WorkflowByID(context.Background(), workflowID)
		if err != nil {
			return false
		}

		return graph.FindNode(wf, nodeID).Status == models.NodeStatusCompleted
	}
}

func TestWorkerManager_StartAndResumeRequests(t *testing.T) {
	f := startWorker(t)
	wf := f.seed(t)
	ctx := context.Background()

	require.NoError(t, f.bus.Publish(ctx, wf.ID, events.WorkflowStartRequested{
		BaseEvent: events.BaseEvent{ID: "evt-1", Type: events.WorkflowStartRequestedEvent, WorkflowID: wf.ID},
	}))

	require.Eventually(t, f.nodeCompleted(wf.ID, "start"), 5*time.Second, 20*time.Millisecond)

	require.NoError(t, f.bus.Publish(ctx, wf.ID, events.NodeResumeRequested{
		BaseEvent: events.BaseEvent{ID: "evt-2", Type: events.NodeResumeRequestedEvent, WorkflowID: wf.ID},
		NodeID:    "review",
		Input:     map[string]any{"approved": true},
	}))

	require.Eventually(t, f.nodeCompleted(wf.ID, "review"), 5*time.Second, 20*time.Millisecond)

	stored, err := f.store.WorkflowByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, stored.Status)
	assert.Equal(t, true, graph.FindNode(stored, "review").Output[models.OutputKeyApproved])

	f.cancel()

	select {
	case err := <-f.done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	assert.True(t, f.scheduler.stopped.Load())
}

type failingRunner struct {
	err error
}

func (r failingRunner) StartWorkflow(context.Context, string, map[string]any) (*models.Workflow, error) {
	return nil, r.err
}

func (r failingRunner) ResumeWorkflow(context.Context, string, string, map[string]any) (*models.Workflow, error) {
	return nil, r.err
}

func TestWorkerManager_Settle(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		retried bool
	}{
		{name: "success"},
		{name: "unknown workflow", err: persistence.ErrWorkflowNotFound},
		{name: "bad approval", err: engine.ErrApprovalDecisionRequired},
		{name: "already completed", err: engine.ErrNodeAlreadyCompleted},
		{name: "store failure", err: errors.New("disk full"), retried: true},
		{
			name:    "version conflict after retries",
			err:     fmt.Errorf("failed to save workflow wf: %w", persistence.NewWorkflowError("SaveWorkflow", "wf", persistence.ErrVersionConflict)),
			retried: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			worker := NewWorkerManager("w", failingRunner{err: tt.err}, nil, &stubScheduler{}, slog.New(slog.DiscardHandler))

			resumeErr := worker.handleNodeResumeRequested(context.Background(), &events.NodeResumeRequested{NodeID: "n"})
			startErr := worker.handleWorkflowStartRequested(context.Background(), &events.WorkflowStartRequested{})

			if tt.retried {
				require.Error(t, resumeErr)
				require.Error(t, startErr)
			} else {
				require.NoError(t, resumeErr)
				require.NoError(t, startErr)
			}
		})
	}
}

func TestWorkerManager_IgnoresWrongPayload(t *testing.T) {
	worker := NewWorkerManager("w", failingRunner{}, nil, &stubScheduler{}, slog.New(slog.DiscardHandler))

	assert.NoError(t, worker.handleWorkflowStartRequested(context.Background(), "garbage"))
}
