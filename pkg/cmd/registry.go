// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dukex/flowrun/pkg/engine"
	"github.com/dukex/flowrun/pkg/nodes/decision"
	"github.com/dukex/flowrun/pkg/otelhelper"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/registry"
)

// NewRegistry registers the built-in node handlers. truthy is a comma
// separated decision vocabulary; empty keeps the default.
func NewRegistry(logger *slog.Logger, truthy string) *registry.Registry {
	reg := registry.NewRegistry(logger)

	var opts []decision.Option

	if values := splitList(truthy); len(values) > 0 {
		opts = append(opts, decision.WithTruthyValues(values...))
	}

	reg.RegisterDefaultHandlers(opts...)

	return reg
}

// NewEngine builds the traversal engine used by every binary.
func NewEngine(store persistence.Persistence, reg *registry.Registry, hook protocol.IntegrationHook, logger *slog.Logger, parallelBranches bool) *engine.Engine {
	return engine.New(store, reg, hook, logger, engine.WithParallelBranches(parallelBranches))
}

// SetupTracing installs the OTLP exporter when enabled. The returned
// function flushes and stops it.
func SetupTracing(ctx context.Context, enabled bool, serviceName string, logger *slog.Logger) func() {
	if !enabled {
		return func() {}
	}

	_, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to initialize tracing", "error", err)

		return func() {}
	}

	return func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Error("Failed to shutdown tracer provider", "error", err)
		}
	}
}

func splitList(list string) []string {
	values := make([]string, 0)

	for _, value := range strings.Split(list, ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}

	return values
}
