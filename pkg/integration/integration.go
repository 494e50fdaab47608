// Package integration provides IntegrationHook implementations that carry
// node completions out of the engine.
package integration

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
)

// Multi fans a notification out to every hook and joins their errors.
func Multi(hooks ...protocol.IntegrationHook) protocol.IntegrationHook {
	return protocol.HookFunc(func(ctx context.Context, node *models.Node, workflowID string) error {
		var errs []error

		for _, hook := range hooks {
			if err := hook.Notify(ctx, node, workflowID); err != nil {
				errs = append(errs, err)
			}
		}

		return errors.Join(errs...)
	})
}

// LogHook writes every completion to the logger.
type LogHook struct {
	logger *slog.Logger
}

func NewLogHook(logger *slog.Logger) *LogHook {
	return &LogHook{logger: logger.With("module", "integration")}
}

func (h *LogHook) Notify(ctx context.Context, node *models.Node, workflowID string) error {
	attrs := []any{"workflow_id", workflowID, "node_id", node.ID, "node_type", node.Type}
	if node.Assignee != "" {
		attrs = append(attrs, "assignee", node.Assignee)
	}

	h.logger.InfoContext(ctx, "node completion delivered", attrs...)

	return nil
}
