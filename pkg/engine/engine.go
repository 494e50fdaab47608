// Package engine advances workflow graphs: it runs node handlers, persists
// every node transition, and routes completions along outgoing edges.
//
// All node state changes go through mutate, which serializes writers per
// workflow inside the process and relies on the store's version check
// across processes. The lock is never held while a handler runs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxConflictRetries bounds how often a mutation is re-applied after
// losing a version race.
const DefaultMaxConflictRetries = 5

// DefaultStaleClaimTimeout is how long a node may sit in-progress before a
// resume may take it over.
const DefaultStaleClaimTimeout = 5 * time.Minute

// HandlerResolver finds the handler for a node type. ok is false when the
// returned handler is a fallback.
type HandlerResolver interface {
	Handler(nodeType models.NodeType) (handler protocol.NodeHandler, ok bool)
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithTracer sets the tracer used for engine spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// WithParallelBranches runs each root of a started workflow on its own goroutine.
func WithParallelBranches(enabled bool) Option {
	return func(e *Engine) {
		e.parallelBranches = enabled
	}
}

// WithMaxConflictRetries overrides DefaultMaxConflictRetries.
func WithMaxConflictRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxConflictRetries = n
		}
	}
}

// WithStaleClaimTimeout overrides DefaultStaleClaimTimeout.
func WithStaleClaimTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.staleClaimTimeout = d
		}
	}
}

// Engine is the traversal engine. It is safe for concurrent use.
type Engine struct {
	persistence persistence.Persistence
	handlers    HandlerResolver
	hook        protocol.IntegrationHook
	logger      *slog.Logger
	tracer      trace.Tracer

	clock              func() time.Time
	parallelBranches   bool
	maxConflictRetries int
	staleClaimTimeout  time.Duration

	locks *keyedMutex
}

// New creates an engine. A nil hook disables notifications.
func New(p persistence.Persistence, handlers HandlerResolver, hook protocol.IntegrationHook, logger *slog.Logger, opts ...Option) *Engine {
	if hook == nil {
		hook = protocol.NopHook{}
	}

	e := &Engine{
		persistence:        p,
		handlers:           handlers,
		hook:               hook,
		logger:             logger.With("module", "engine"),
		tracer:             otelhelper.Tracer("github.com/dukex/flowrun/pkg/engine"),
		clock:              time.Now,
		maxConflictRetries: DefaultMaxConflictRetries,
		staleClaimTimeout:  DefaultStaleClaimTimeout,
		locks:              newKeyedMutex(),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// errSkip aborts a mutation without saving and without failing the caller.
var errSkip = errors.New("skip mutation")

// mutate loads the workflow, applies fn to the fresh copy and saves it, all
// under the workflow lock. A lost version race reloads and re-applies fn.
// fn returning errSkip leaves the record untouched; mutate then returns the
// loaded workflow together with errSkip.
func (e *Engine) mutate(ctx context.Context, workflowID string, fn func(wf *models.Workflow) error) (*models.Workflow, error) {
	unlock := e.locks.Lock(workflowID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		wf, err := e.persistence.WorkflowByID(ctx, workflowID)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
		}

		if err := fn(wf); err != nil {
			return wf, err
		}

		err = e.persistence.SaveWorkflow(ctx, wf)
		if err == nil {
			return wf, nil
		}

		if !persistence.IsVersionConflict(err) || attempt >= e.maxConflictRetries {
			return nil, fmt.Errorf("failed to save workflow %s: %w", workflowID, err)
		}

		e.logger.DebugContext(ctx, "version conflict, retrying", "workflow_id", workflowID, "attempt", attempt+1)
	}
}
