package registry

import (
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/nodes/approval"
	"github.com/dukex/flowrun/pkg/nodes/decision"
	"github.com/dukex/flowrun/pkg/nodes/delay"
	"github.com/dukex/flowrun/pkg/nodes/email"
	"github.com/dukex/flowrun/pkg/nodes/start"
	"github.com/dukex/flowrun/pkg/nodes/task"
)

// RegisterDefaultHandlers registers all built-in node handlers with the registry.
func (r *Registry) RegisterDefaultHandlers(decisionOpts ...decision.Option) {
	r.Register(start.NewHandler())

	// task also serves default and input nodes
	r.Register(task.NewHandler(models.NodeTypeTask))
	r.Register(task.NewHandler(models.NodeTypeDefault))
	r.Register(task.NewHandler(models.NodeTypeInput))

	r.Register(email.NewHandler())
	r.Register(decision.NewHandler(decisionOpts...))
	r.Register(delay.NewHandler())
	r.Register(approval.NewHandler())
}
