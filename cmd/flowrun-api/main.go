// Package main provides the flowrun HTTP API server.
package main

import (
	"context"
	"os"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/integration"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/services"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "flowrun-api",
		Usage:                 "Create, start and resume workflows over HTTP",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file path, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel); required for async requests",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.BoolFlag{
				Name:    "parallel-branches",
				Usage:   "Run the root branches of a started workflow concurrently",
				Sources: cli.EnvVars("PARALLEL_BRANCHES"),
			},
			&cli.StringFlag{
				Name:    "decision-truthy",
				Usage:   "Comma separated strings a decision condition treats as true",
				Sources: cli.EnvVars("DECISION_TRUTHY_VALUES"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("TRACING_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json, pretty)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing flowrun API")

			shutdownTracing := cmd.SetupTracing(ctx, command.Bool("tracing"), "flowrun-api", logger)
			defer shutdownTracing()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "flowrun-api", logger)
			if err != nil {
				return err
			}

			var hook protocol.IntegrationHook = integration.NewLogHook(logger)

			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()

				hook = integration.Multi(hook, integration.NewEventBusHook(eventBus, persistence, logger))
			}

			registry := cmd.NewRegistry(logger, command.String("decision-truthy"))
			engine := cmd.NewEngine(persistence, registry, hook, logger, command.Bool("parallel-branches"))
			workflowService := services.NewWorkflow(persistence, engine, registry, logger)

			api := NewAPI(logger, workflowService, registry, eventBus)

			return api.Start(command.Int("port"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
