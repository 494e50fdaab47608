package protocol

import (
	"context"

	"github.com/dukex/flowrun/pkg/models"
)

// IntegrationHook is notified once each time a node transitions to completed.
// Errors are logged by the caller and never affect traversal.
type IntegrationHook interface {
	Notify(ctx context.Context, node *models.Node, workflowID string) error
}

// HookFunc adapts a function to IntegrationHook.
type HookFunc func(ctx context.Context, node *models.Node, workflowID string) error

// Notify calls f.
func (f HookFunc) Notify(ctx context.Context, node *models.Node, workflowID string) error {
	return f(ctx, node, workflowID)
}

// NopHook ignores every notification.
type NopHook struct{}

// Notify does nothing.
func (NopHook) Notify(context.Context, *models.Node, string) error { return nil }
