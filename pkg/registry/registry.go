// Package registry maps node types to the handlers that execute them.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/xeipuuv/gojsonschema"
)

// ErrNoFallbackHandler is returned by HealthCheck when no task handler is
// registered to serve unknown node types.
var ErrNoFallbackHandler = errors.New("no task handler registered")

// Registry maps node types to their handlers. It is safe for concurrent use.
type Registry struct {
	logger   *slog.Logger
	mu       sync.RWMutex
	handlers map[models.NodeType]protocol.NodeHandler
}

// NewRegistry returns an empty registry. Call RegisterDefaultHandlers to
// install the built-in node types.
func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:   log,
		handlers: make(map[models.NodeType]protocol.NodeHandler),
	}
}

// Register installs handler under its own type, replacing any previous one.
func (r *Registry) Register(handler protocol.NodeHandler) {
	r.RegisterAs(handler.Type(), handler)
}

// RegisterAs installs handler under nodeType.
func (r *Registry) RegisterAs(nodeType models.NodeType, handler protocol.NodeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[nodeType] = handler
	r.logger.Debug("Registered node handler", "node_type", nodeType)
}

// Handler returns the handler for nodeType. Unknown types get the task
// handler; ok is false in that case.
func (r *Registry) Handler(nodeType models.NodeType) (protocol.NodeHandler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if handler, found := r.handlers[nodeType]; found {
		return handler, true
	}

	return r.handlers[models.NodeTypeTask], false
}

// Types returns every registered node type, sorted.
func (r *Registry) Types() []models.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]models.NodeType, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}

	slices.Sort(types)

	return types
}

// Schemas returns the definition schema of every registered node type.
func (r *Registry) Schemas() map[models.NodeType]map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make(map[models.NodeType]map[string]any, len(r.handlers))
	for t, handler := range r.handlers {
		schemas[t] = handler.Schema()
	}

	return schemas
}

// ValidateNode checks a node definition against the schema of the handler
// that would execute it.
func (r *Registry) ValidateNode(node *models.Node) error {
	handler, _ := r.Handler(node.Type)
	if handler == nil {
		return fmt.Errorf("node %s: %w", node.ID, ErrNoFallbackHandler)
	}

	schemaLoader := gojsonschema.NewGoLoader(handler.Schema())
	dataLoader := gojsonschema.NewGoLoader(node)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return fmt.Errorf("node %s: %w", node.ID, err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}

		return fmt.Errorf("node %s: validation errors: %s", node.ID, strings.Join(errs, "; "))
	}

	return nil
}

// HealthCheck reports whether unknown node types can still be executed.
func (r *Registry) HealthCheck() (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.handlers[models.NodeTypeTask]; !ok {
		return ErrNoFallbackHandler.Error(), false
	}

	return fmt.Sprintf("%d node handlers registered", len(r.handlers)), true
}
