package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/graph"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/persistence/file"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/registry"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2025, 5, 12, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testStart}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(d)
}

// recordingHook counts notifications per node.
type recordingHook struct {
	mu    sync.Mutex
	calls []string
}

func (h *recordingHook) Notify(_ context.Context, node *models.Node, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, node.ID)

	return nil
}

func (h *recordingHook) count(nodeID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := 0

	for _, id := range h.calls {
		if id == nodeID {
			n++
		}
	}

	return n
}

func (h *recordingHook) ids() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.calls...)
}

type fixture struct {
	engine *Engine
	store  persistence.Persistence
	hook   *recordingHook
	clock  *testClock
	reg    *registry.Registry
	wfID   string
}

func newFixture(t *testing.T, wf *models.Workflow, opts ...Option) *fixture {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.SaveWorkflow(t.Context(), wf))

	reg := registry.NewRegistry(discardLogger())
	reg.RegisterDefaultHandlers()

	f := &fixture{
		store: store,
		hook:  &recordingHook{},
		clock: newTestClock(),
		reg:   reg,
		wfID:  wf.ID,
	}

	f.engine = f.newEngine(opts...)

	return f
}

func (f *fixture) newEngine(opts ...Option) *Engine {
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)

	return New(f.store, f.reg, f.hook, discardLogger(), opts...)
}

func (f *fixture) load(t *testing.T) *models.Workflow {
	t.Helper()

	wf, err := f.store.WorkflowByID(t.Context(), f.wfID)
	require.NoError(t, err)

	return wf
}

func (f *fixture) node(t *testing.T, nodeID string) *models.Node {
	t.Helper()

	node := graph.FindNode(f.load(t), nodeID)
	require.NotNil(t, node, "node %s", nodeID)

	return node
}

func (f *fixture) status(t *testing.T, nodeID string) models.NodeStatus {
	t.Helper()

	return f.node(t, nodeID).Status
}

// funcHandler adapts a function to protocol.NodeHandler for tests.
type funcHandler struct {
	nodeType models.NodeType
	execute  func(ctx context.Context, node *models.Node, run models.RunContext) (protocol.Result, error)
}

func (h funcHandler) Type() models.NodeType { return h.nodeType }

func (h funcHandler) Execute(ctx context.Context, node *models.Node, run models.RunContext) (protocol.Result, error) {
	return h.execute(ctx, node, run)
}

func (h funcHandler) Schema() map[string]any { return map[string]any{"type": "object"} }

// conflictingStore fails the first saves with a version conflict.
type conflictingStore struct {
	persistence.Persistence

	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) SaveWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()

		return persistence.NewWorkflowError("SaveWorkflow", wf.ID, persistence.ErrVersionConflict)
	}
	s.mu.Unlock()

	return s.Persistence.SaveWorkflow(ctx, wf)
}

var errBoom = errors.New("boom")
