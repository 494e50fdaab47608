package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukex/flowrun/pkg/mocks"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestResumeWorkflow_TaskWithInput(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("collect", models.NodeTypeTask),
			testutil.CreateTestNode("archive", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "collect", "archive"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)
	require.Equal(t, models.NodeStatusSuspended, f.status(t, "collect"))

	f.clock.Advance(time.Hour)

	resumed, err := f.engine.ResumeWorkflow(t.Context(), wf.ID, "collect", map[string]any{"note": "signed"})
	require.NoError(t, err)

	collect := f.node(t, "collect")
	assert.Equal(t, models.NodeStatusCompleted, collect.Status)
	assert.Equal(t, "signed", collect.Output["note"])
	assert.Equal(t, CompletedByUser, collect.Output[models.OutputKeyCompletedBy])
	assert.Equal(t, "2025-05-12T09:00:00Z", collect.Output[models.OutputKeyCompletedAt])

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "archive"))
	assert.Equal(t, f.load(t).Version, resumed.Version, "returns the reloaded workflow")
}

func TestResumeWorkflow_Approval(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("approve", models.NodeTypeApproval),
			testutil.CreateTestNode("route", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "approve", "route"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	for _, input := range []map[string]any{nil, {"comment": "ok"}, {"approved": "yes"}, {"approved": 1}} {
		_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "approve", input)
		require.ErrorIs(t, err, ErrApprovalDecisionRequired)
		assert.True(t, IsValidationError(err))
		assert.Equal(t, "Approval decision (approved: true/false) is required.", err.Error())
	}

	assert.Equal(t, models.NodeStatusSuspended, f.status(t, "approve"), "rejected input leaves the node untouched")

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "approve", map[string]any{
		"approved": false,
		"comment":  "budget exceeded",
		"extra":    "dropped",
	})
	require.NoError(t, err)

	approve := f.node(t, "approve")
	assert.Equal(t, models.NodeStatusCompleted, approve.Status)
	assert.Equal(t, map[string]any{
		models.OutputKeyApproved:    false,
		models.OutputKeyComment:     "budget exceeded",
		models.OutputKeyCompletedBy: CompletedByUser,
		models.OutputKeyCompletedAt: "2025-05-12T08:00:00Z",
	}, approve.Output)

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "route"))
}

func TestResumeWorkflow_Errors(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("wait", models.NodeTypeTask),
			testutil.CreateTestNode("later", models.NodeTypeTask),
		},
		testutil.Chain("start", "wait", "later"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.ResumeWorkflow(t.Context(), "missing", "wait", nil)
	assert.True(t, IsNotFound(err))

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "ghost", nil)
	assert.ErrorIs(t, err, ErrNodeNotFound)
	assert.True(t, IsNotFound(err))

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "start", nil)
	assert.ErrorIs(t, err, ErrNodeAlreadyCompleted)
	assert.True(t, IsValidationError(err))

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "later", nil)
	assert.ErrorIs(t, err, ErrNodeNotResumable)
	assert.True(t, IsValidationError(err))

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "wait", nil)
	require.NoError(t, err)

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "wait", nil)
	assert.ErrorIs(t, err, ErrNodeAlreadyCompleted, "second resume is rejected")
	assert.Equal(t, 1, f.hook.count("wait"))
}

func TestResumeWorkflow_FailedNodeCanBeRedriven(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("sync", "sync"),
			testutil.CreateTestNode("after", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "sync", "after"),
	)

	f := newFixture(t, wf)
	f.reg.Register(funcHandler{nodeType: "sync", execute: func(context.Context, *models.Node, models.RunContext) (protocol.Result, error) {
		return protocol.Result{}, errBoom
	}})

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)
	require.Equal(t, models.NodeStatusError, f.status(t, "sync"))

	_, err = f.engine.ResumeWorkflow(t.Context(), wf.ID, "sync", map[string]any{"fixed": true})
	require.NoError(t, err)

	sync := f.node(t, "sync")
	assert.Equal(t, models.NodeStatusCompleted, sync.Status)
	assert.Empty(t, sync.Error)
	assert.Equal(t, true, sync.Output["fixed"])
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "after"))
}

func TestFireTimer(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("cool-off", models.NodeTypeDelay, testutil.WithDuration("1h")),
			testutil.CreateTestNode("follow-up", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "cool-off", "follow-up"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	delay := f.node(t, "cool-off")
	require.Equal(t, models.NodeStatusSuspended, delay.Status)
	assert.Equal(t, "2025-05-12T09:00:00Z", delay.Output[models.OutputKeyResumeAt])
	assert.Empty(t, DueTimers(f.load(t), f.clock.Now()))

	_, err = f.engine.FireTimer(t.Context(), wf.ID, "cool-off")
	require.ErrorIs(t, err, ErrNodeNotResumable, "not due yet")
	assert.Equal(t, models.NodeStatusSuspended, f.status(t, "cool-off"))

	f.clock.Advance(time.Hour)

	due := DueTimers(f.load(t), f.clock.Now())
	require.Len(t, due, 1)
	assert.Equal(t, "cool-off", due[0].ID)

	_, err = f.engine.FireTimer(t.Context(), wf.ID, "cool-off")
	require.NoError(t, err)

	delay = f.node(t, "cool-off")
	assert.Equal(t, models.NodeStatusCompleted, delay.Status)
	assert.Equal(t, CompletedByTimer, delay.Output[models.OutputKeyCompletedBy])
	assert.Equal(t, "2025-05-12T09:00:00Z", delay.Output[models.OutputKeyResumeAt])
	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "follow-up"))

	_, err = f.engine.FireTimer(t.Context(), wf.ID, "cool-off")
	assert.ErrorIs(t, err, ErrNodeAlreadyCompleted)

	_, err = f.engine.FireTimer(t.Context(), wf.ID, "follow-up")
	assert.ErrorIs(t, err, ErrNodeAlreadyCompleted)
}

func TestFireTimer_RejectsNonDelayNodes(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("approve", models.NodeTypeApproval),
		},
		testutil.Chain("start", "approve"),
	)

	f := newFixture(t, wf)

	_, err := f.engine.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	_, err = f.engine.FireTimer(t.Context(), wf.ID, "approve")
	assert.ErrorIs(t, err, ErrNodeNotResumable)
	assert.Equal(t, models.NodeStatusSuspended, f.status(t, "approve"))
}

func TestHookFailureIsIsolated(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("a", models.NodeTypeTask, testutil.WithAutoComplete()),
			testutil.CreateTestNode("b", models.NodeTypeEmail),
		},
		testutil.Chain("start", "a", "b"),
	)

	f := newFixture(t, wf)

	hook := &mocks.MockIntegrationHook{}
	hook.On("Notify", mock.Anything, mock.MatchedBy(func(n *models.Node) bool { return n.ID == "start" }), wf.ID).
		Return(errors.New("crm unavailable"))
	hook.On("Notify", mock.Anything, mock.MatchedBy(func(n *models.Node) bool { return n.ID != "start" }), wf.ID).
		Return(nil)

	e := New(f.store, f.reg, hook, discardLogger(), WithClock(f.clock.Now))

	_, err := e.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "b"))
	hook.AssertNumberOfCalls(t, "Notify", 3)
}

func TestHookPanicIsIsolated(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{
			testutil.CreateTestNode("start", models.NodeTypeStart),
			testutil.CreateTestNode("next", models.NodeTypeTask, testutil.WithAutoComplete()),
		},
		testutil.Chain("start", "next"),
	)

	f := newFixture(t, wf)

	calls := 0
	hook := protocol.HookFunc(func(context.Context, *models.Node, string) error {
		calls++

		panic("integration bug")
	})

	e := New(f.store, f.reg, hook, discardLogger(), WithClock(f.clock.Now))

	_, err := e.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	assert.Equal(t, models.NodeStatusCompleted, f.status(t, "next"))
	assert.Equal(t, 2, calls)
}

func TestHookReceivesCompletedNode(t *testing.T) {
	wf := testutil.CreateTestWorkflow(
		[]*models.Node{testutil.CreateTestNode("start", models.NodeTypeStart)},
		nil,
	)

	f := newFixture(t, wf)

	var got *models.Node

	hook := protocol.HookFunc(func(_ context.Context, node *models.Node, workflowID string) error {
		assert.Equal(t, wf.ID, workflowID)
		got = node

		return nil
	})

	e := New(f.store, f.reg, hook, discardLogger(), WithClock(f.clock.Now))

	_, err := e.StartWorkflow(t.Context(), wf.ID, nil)
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, models.NodeStatusCompleted, got.Status)
	assert.Contains(t, got.Output, models.OutputKeyStartedAt)
}
