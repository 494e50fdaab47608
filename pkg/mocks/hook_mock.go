package mocks

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockIntegrationHook is a mock implementation of protocol.IntegrationHook interface.
type MockIntegrationHook struct {
	mock.Mock
}

func (m *MockIntegrationHook) Notify(ctx context.Context, node *models.Node, workflowID string) error {
	args := m.Called(ctx, node, workflowID)

	return args.Error(0)
}
