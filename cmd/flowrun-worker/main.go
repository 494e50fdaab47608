// Package main provides the flowrun worker: it executes start and resume
// requests from the event bus and fires delay timers.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/integration"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/protocol"
	"github.com/dukex/flowrun/pkg/scheduler"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "flowrun-worker",
		EnableShellCompletion: true,
		Usage:                 "Execute workflow start and resume requests and fire delay timers",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file path, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel); empty runs timers only",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "delay-poll-interval",
				Usage:   "How often due delay nodes are looked up",
				Value:   scheduler.DefaultPollInterval,
				Sources: cli.EnvVars("DELAY_POLL_INTERVAL"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowrun-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing flowrun worker")

			shutdownTracing := cmd.SetupTracing(ctx, command.Bool("tracing"), "flowrun-worker", logger)
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

			eventBus, err := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "flowrun-worker", logger)
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
			delays := scheduler.NewDelayScheduler(persistence, engine, logger, command.Duration("delay-poll-interval"))

			worker := NewWorkerManager(workerID, engine, eventBus, delays, logger)

			return worker.Start(ctx)
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Run(ctx, os.Args); err != nil {
		stop()
		panic(err)
	}
}
