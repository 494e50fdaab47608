package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWorkflow_LinearChain(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("prepare", models.NodeTypeTask, testutil.WithAutoComplete()),
			testutil.CreateTestNode("notify", models.NodeTypeEmail, testutil.WithSendEmail("ana@example.com")),
			testutil.CreateTestNode("sign-off", models.NodeTypeApproval),
		},
		testutil.Chain("start", "prepare", "notify", "sign-off"),
	)

	f := newFixture(t, wf)

	started, err := f.engine.StartWorkflow(t.Context(), wf.ID, map[string]any{"invoice": 42})
	require.NoError(t, err)

	assert.Equal(t, models.WorkflowStatusActive, started.Status)
	require.NotNil(t, started.StartedAt)
	assert.True(t, started.StartedAt.Equal(testStart))

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "start"))
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "prepare"))
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "notify"))
	assert.Equal(t, models.NodeStatusSuspended, f.status(t, "sign-off"))

	assert.Equal(t, "2025-05-12T08:00:00Z", f.node(t, "start").Output[models.OutputKeyStartedAt])
	assert.Equal(t, true, f.node(t, "notify").Output[models.OutputKeySent])

	assert.Equal(t, []string{"start", "prepare", "notify"}, f.hook.ids())
}

func TestStartWorkflow_EmptyWorkflow(t *testing.T) {
	f := newFixture(t, testutil.CreateTestWorkflow(nil, nil))

	started, err := f.engine.StartWorkflow(t.Context(), f.wfID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.WorkflowStatusActive, started.Status)
	assert.Empty(t, f.hook.ids())
}

func TestStartWorkflow_NotFound(t *testing.T) {
	f := newFixture(t, testutil.CreateTestWorkflow(nil, nil))

	_, err := f.engine.StartWorkflow(t.Context(), "missing", nil)
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestStartWorkflow_RestartResetsNodes(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("review", models.NodeTypeTask),
			testutil.CreateTestNode("done", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "review", "done"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "review", map[string]any{"ok": true})
	require.NoError(t, err)
	require.Equal(t, models.NodeStatusCompleted, f.status(t, "done"))

	restarted, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "start"))
	assert.Equal(t, models.NodeStatusSuspended, f.status(t, "review"))
	assert.Equal(t, models.NodeStatusPending, f.status(t, "done"))
	assert.Empty(t, f.node(t, "done").Output)
	assert.Equal(t, models.WorkflowStatusActive, restarted.Status)
}

func diamondWorkflow() *models.Workflow {
	return testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("a", models.NodeTypeStart),
			testutil.CreateTestNode("b", models.NodeTypeTask),
			testutil.CreateTestNode("c", models.NodeTypeTask),
			testutil.CreateTestNode("d", models.NodeTypeEmail),
		},
		[]*models.Edge{
			testutil.Edge("a", "b"),
			testutil.Edge("a", "c"),
			testutil.Edge("b", "d"),
			testutil.Edge("c", "d"),
		},
	)
}

func TestDiamondJoin_BothOrders(t *testing.T) {
	for _, order := range [][]string{{"b", "c"}, {"c", "b"}} {
		t.Run(order[0]+" first", func(t *testing.T) {
			f := newFixture(t, diamondWorkflow())

			_, err := f.engine.StartWorkflow(t.Context(), f.wfID, nil)
			require.NoError(t, err)

			assert.Equal(t, models.NodeStatusSuspended, f.status(t, "b"))
			assert.Equal(t, models.NodeStatusSuspended, f.status(t, "c"))
			assert.Equal(t, models.NodeStatusPending, f.status(t, "d"))

			_, err = f.engine.ResumeWorkflow(t.Context(), f.wfID, order[0], nil)
			require.NoError(t, err)

			assert.Equal(t, models.NodeStatusPending, f.status(t, "d"), "join waits for every parent")
			assert.Zero(t, f.hook.count("d"))

			_, err = f.engine.ResumeWorkflow(t.Context(), f.wfID, order[1], nil)
			require.NoError(t, err)

			assert.Equal(t, models.NodeStatusCompleted, f.status(t, "d"))
			assert.Equal(t, 1, f.hook.count("d"))
		})
	}
}

func TestDiamondJoin_ConcurrentResumes(t *testing.T) {
	for i := range 20 {
		f := newFixture(t, diamondWorkflow())

		_, err := f.engine.StartWorkflow(t.Context(), f.wfID, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup

		errs := make([]error, 2)

		for j, nodeID := range []string{"b", "c"} {
			wg.Add(1)

			go func() {
				defer wg.Done()

				_, errs[j] = f.engine.ResumeWorkflow(context.Background(), f.wfID, nodeID, nil)
			}()
		}

		wg.Wait()

		require.NoError(t, errs[0], "iteration %d", i)
		require.NoError(t, errs[1], "iteration %d", i)
		assert.Equal(t, models.NodeStatusCompleted, f.status(t, "d"), "iteration %d", i)
		assert.Equal(t, 1, f.hook.count("d"), "iteration %d", i)
	}
}

func TestDiamondJoin_TwoEnginesShareStore(t *testing.T) {
	for i := range 10 {
		f := newFixture(t, diamondWorkflow())
		other := f.newEngine()

		_, err := f.engine.StartWorkflow(t.Context(), f.wfID, nil)
		require.NoError(t, err)

		var wg sync.WaitGroup

		errs := make([]error, 2)

		for j, e := range []*Engine{f.engine, other} {
			nodeID := []string{"b", "c"}[j]

			wg.Add(1)

			go func() {
				defer wg.Done()

				_, errs[j] = e.ResumeWorkflow(context.Background(), f.wfID, nodeID, nil)
			}()
		}

		wg.Wait()

		require.NoError(t, errs[0], "iteration %d", i)
		require.NoError(t, errs[1], "iteration %d", i)
		assert.Equal(t, models.NodeStatusCompleted, f.status(t, "d"), "iteration %d", i)
		assert.Equal(t, 1, f.hook.count("d"), "iteration %d", i)
	}
}

func TestDecisionBranching(t *testing.T) {
	tests := []struct {
		name      string
		condition any
		taken     string
		skipped   string
	}{
		{name: "truthy string", condition: "Approved", taken: "yes", skipped: "no"},
		{name: "bool false", condition: false, taken: "no", skipped: "yes"},
		{name: "unknown string", condition: "maybe", taken: "no", skipped: "yes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wf := testutil.CreateTestWorkflow(
				[]*models.Node{
					testutil.CreateTestNode("start", models.NodeTypeStart),
					testutil.CreateTestNode("check", models.NodeTypeDecision, testutil.WithCondition(tt.condition)),
					testutil.CreateTestNode("yes", models.NodeTypeTask, testutil.WithAutoComplete()),
					testutil.CreateTestNode("no", models.NodeTypeTask, testutil.WithAutoComplete()),
					testutil.CreateTestNode("always", models.NodeTypeEmail),
				},
				[]*models.Edge{
					testutil.Edge("start", "check"),
					testutil.BranchEdge("check", "yes", "true"),
					testutil.BranchEdge("check", "no", "false"),
					testutil.Edge("check", "always"),
				},
			)

			f := newFixture(t, wf)

			_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
			require.NoError(t, err)

			assert.Equal(t, models.NodeStatusCompleted, f.status(t, tt.taken))
			assert.Equal(t, models.NodeStatusPending, f.status(t, tt.skipped))
			assert.Equal(t, models.NodeStatusCompleted, f.status(t, "always"), "unlabelled edges are always followed")
		})
	}
}

func TestRootFallback(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("x", models.NodeTypeTask, testutil.WithAutoComplete()),
			testutil.CreateTestNode("y", models.NodeTypeEmail),
			testutil.CreateTestNode("z", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		[]*models.Edge{testutil.Edge("x", "z"), testutil.Edge("y", "z")},
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "x"))
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "y"))
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "z"))
	assert.Equal(t, []string{"x", "y", "z"}, f.hook.ids())
}

func TestParallelRoots_JoinOnce(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("s1", models.NodeTypeStart),
			testutil.CreateTestNode("s2", models.NodeTypeStart),
			testutil.CreateTestNode("s3", models.NodeTypeStart),
			testutil.CreateTestNode("join", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		[]*models.Edge{testutil.Edge("s1", "join"), testutil.Edge("s2", "join"), testutil.Edge("s3", "join")},
	)

	f := newFixture(t, wf, WithParallelBranches(true))

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "join"))
	assert.Equal(t, 1, f.hook.count("join"))
}

func TestProcessNode_CompletedNodeIsNoOp(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("next", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "next"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)
	require.Len(t, f.hook.ids(), 2)

	before := f.load(t)

	run := models.RunContext{WorkflowID: wf.ID}
	require.NoError(t, f.engine.processNode(t.Context(), wf.ID, "start", run))
	require.NoError(t, f.engine.processNode(t.Context(), wf.ID, "next", run))
	require.NoError(t, f.engine.completeNode(t.Context(), wf.ID, "start", map[string]any{"again": true}, run))

	after := f.load(t)

	assert.Len(t, f.hook.ids(), 2, "no new notifications")
	assert.Equal(t, before.Version, after.Version, "nothing written")
	assert.NotContains(t, f.node(t, "start").Output, "again")
}

func TestProcessNode_MissingNodeIsNoOp(t *testing.T) {
	f := newFixture(t, testutil.CreateTestWorkflow([]*models.Node{testutil.CreateTestNode("a", models.NodeTypeTask)}, nil))

	assert.NoError(t, f.engine.processNode(t.Context(), f.wfID, "ghost", models.RunContext{}))
}

func TestEdgeToMissingTargetIsSkipped(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("next", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		[]*models.Edge{testutil.Edge("start", "ghost"), testutil.Edge("start", "next")},
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "next"))
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("failing", "boom"),
			testutil.CreateTestNode("panicking", "explode"),
			testutil.CreateTestNode("after-failing", models.NodeTypeTask, testutil.WithAutoComplete()),
			testutil.CreateTestNode("sibling", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		[]*models.Edge{
			testutil.Edge("start", "failing"),
			testutil.Edge("start", "panicking"),
			testutil.Edge("start", "sibling"),
			testutil.Edge("failing", "after-failing"),
		},
	)

	f := newFixture(t, wf)
	f.reg.Register(funcHandler{nodeType: "boom", execute: func(context.Context, *models.Node, models.RunContext) (protocol.Result, error) {
		return protocol.Result{}, errBoom
	}})
	f.reg.Register(funcHandler{nodeType: "explode", execute: func(context.Context, *models.Node, models.RunContext) (protocol.Result, error) {
		panic("kaboom")
	}})

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err, "handler failures are not returned")

	failing := f.node(t, "failing")
	assert.Equal(t, models.NodeStatusError, failing.Status)
	assert.Equal(t, "boom", failing.Error)
	assert.Equal(t, "boom", failing.Output[models.OutputKeyError])

	panicking := f.node(t, "panicking")
	assert.Equal(t, models.NodeStatusError, panicking.Status)
	assert.Contains(t, panicking.Error, "kaboom")

	assert.Equal(t, models.NodeStatusPending, f.status(t, "after-failing"))
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "sibling"))
	assert.Zero(t, f.hook.count("failing"))
}

func TestUnsupportedHandlerStatusFailsNode(t *testing.T) {
	wf := testutil.CreateTestWorkflow([]*models.Node{testutil.CreateTestNode("odd", "odd")}, nil)

	f := newFixture(t, wf)
	f.reg.Register(funcHandler{nodeType: "odd", execute: func(context.Context, *models.Node, models.RunContext) (protocol.Result, error) {
		return protocol.Result{Status: models.NodeStatusPending}, nil
	}})

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusError, f.status(t, "odd"))
}

func TestHandlerSeesRunContext(t *testing.T) {
	wf := testutil.CreateTestWorkflow([]*models.Node{testutil.CreateTestNode("recorder", "recorder")}, nil)

	var seen models.RunContext

	f := newFixture(t, wf)
	f.reg.Register(funcHandler{nodeType: "recorder", execute: func(_ context.Context, _ *models.Node, run models.RunContext) (protocol.Result, error) {
		seen = run

		return protocol.Completed(nil), nil
	}})

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, map[string]any{"customer": "acme"})
	require.NoError(t, err)

	assert.Equal(t, wf.ID, seen.WorkflowID)
	assert.Equal(t, "acme", seen.Data["customer"])
	assert.True(t, seen.Now.Equal(testStart))
}

func TestVersionConflictIsRetried(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("next", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "next"),
	)

	f := newFixture(t, wf)
	store := &conflictingStore{Persistence: f.store, conflicts: 3}
	e := New(store, f.reg, f.hook, discardLogger(), WithClock(f.clock.Now))

	_, err := e.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "next"))
}

func TestVersionConflictRetriesAreBounded(t *testing.T) {
	wf := testutil.CreateTestWorkflow([]*models.Node{testutil.CreateTestNode("start", models.NodeTypeStart)}, nil)

	f := newFixture(t, wf)
	store := &conflictingStore{Persistence: f.store, conflicts: 10}
	e := New(store, f.reg, f.hook, discardLogger(), WithClock(f.clock.Now), WithMaxConflictRetries(2))

	_, err := e.StartWorkflow(t.Context(), wf.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrVersionConflict)
	assert.Equal(t, models.WorkflowStatusDraft, f.load(t).Status)
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	k := newKeyedMutex()

	unlock := k.Lock("wf")
	done := make(chan struct{})

	go func() {
		defer close(done)

		k.Lock("wf")()
	}()

	select {
	case <-done:
		t.Fatal("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	<-done

	assert.Empty(t, k.locks)
}
