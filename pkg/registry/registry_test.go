package registry

import (
	"context"
	"log/slog"
	"testing"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/nodes/decision"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(opts ...decision.Option) *Registry {
	r := NewRegistry(slog.Default())
	r.RegisterDefaultHandlers(opts...)

	return r
}

func TestRegistry_DefaultTypes(t *testing.T) {
	r := newTestRegistry()

	assert.Equal(t, []models.NodeType{
		models.NodeTypeApproval,
		models.NodeTypeDecision,
		models.NodeTypeDefault,
		models.NodeTypeDelay,
		models.NodeTypeEmail,
		models.NodeTypeInput,
		models.NodeTypeStart,
		models.NodeTypeTask,
	}, r.Types())
}

func TestRegistry_Handler(t *testing.T) {
	r := newTestRegistry()

	handler, ok := r.Handler(models.NodeTypeDecision)
	require.True(t, ok)
	assert.Equal(t, models.NodeTypeDecision, handler.Type())

	handler, ok = r.Handler(models.NodeTypeInput)
	require.True(t, ok)
	assert.Equal(t, models.NodeTypeInput, handler.Type())

	handler, ok = r.Handler("webhook")
	assert.False(t, ok)
	require.NotNil(t, handler)
	assert.Equal(t, models.NodeTypeTask, handler.Type(), "unknown types fall back to task")
}

func TestRegistry_DecisionOptions(t *testing.T) {
	r := newTestRegistry(decision.WithTruthyValues("yes"))

	handler, _ := r.Handler(models.NodeTypeDecision)
	result, err := handler.Execute(context.Background(), &models.Node{Condition: "Yes"}, models.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, true, result.Output[models.OutputKeyDecision])
}

type stubHandler struct{}

func (stubHandler) Type() models.NodeType { return models.NodeTypeTask }

func (stubHandler) Execute(context.Context, *models.Node, models.RunContext) (protocol.Result, error) {
	return protocol.Completed(map[string]any{"stub": true}), nil
}

func (stubHandler) Schema() map[string]any { return map[string]any{"type": "object"} }

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := newTestRegistry()
	r.Register(stubHandler{})

	handler, _ := r.Handler("unknown")
	result, err := handler.Execute(context.Background(), &models.Node{}, models.RunContext{})
	require.NoError(t, err)
	assert.Equal(t, true, result.Output["stub"])
}

func TestRegistry_ValidateNode(t *testing.T) {
	r := newTestRegistry()

	tests := []struct {
		name    string
		node    *models.Node
		wantErr bool
	}{
		{
			name: "valid decision",
			node: &models.Node{ID: "d", Type: models.NodeTypeDecision, Condition: "approved"},
		},
		{
			name:    "decision condition must be bool or string",
			node:    &models.Node{ID: "d", Type: models.NodeTypeDecision, Condition: 42},
			wantErr: true,
		},
		{
			name: "valid delay",
			node: &models.Node{ID: "w", Type: models.NodeTypeDelay, Duration: "5m"},
		},
		{
			name:    "missing id",
			node:    &models.Node{Type: models.NodeTypeEmail},
			wantErr: true,
		},
		{
			name: "unknown type validated as task",
			node: &models.Node{ID: "x", Type: "custom", Assignee: "bob"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateNode(tt.node)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRegistry_HealthCheck(t *testing.T) {
	empty := NewRegistry(slog.Default())

	_, ok := empty.HealthCheck()
	assert.False(t, ok)

	message, ok := newTestRegistry().HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "8 node handlers registered", message)
}

func TestRegistry_Schemas(t *testing.T) {
	schemas := newTestRegistry().Schemas()

	require.Contains(t, schemas, models.NodeTypeDelay)
	assert.Equal(t, "object", schemas[models.NodeTypeDelay]["type"])
}
