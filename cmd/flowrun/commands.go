package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"

	"github.com/dukex/flowrun/pkg/cmd"
	"github.com/dukex/flowrun/pkg/config"
	"github.com/dukex/flowrun/pkg/integration"
	"github.com/dukex/flowrun/pkg/log"
	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
	"github.com/dukex/flowrun/pkg/scheduler"
	"github.com/dukex/flowrun/pkg/services"
	cli "github.com/urfave/cli/v3"
)

func newApp() *cli.Command {
	return &cli.Command{
		Name:                  "flowrun",
		Usage:                 "Create and run workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Database connection URL for persistence (file path, postgres://, redis://)",
				Value:   "./data",
				Sources: cli.EnvVars("DATABASE_URL"),
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
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json, pretty)",
				Value:   "pretty",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			log.Setup(command.String("log-level"), command.String("log-format"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			{
				Name:      "import",
				Aliases:   []string{"i"},
				Usage:     "Create a draft workflow from a YAML definition",
				ArgsUsage: "<file.yaml>",
				Action: withRuntime(func(ctx context.Context, command *cli.Command, rt *runtime) error {
					path, err := requiredArg(command, 0, "file")
					if err != nil {
						return err
					}

					definition, err := config.LoadWorkflowDefinition(path)
					if err != nil {
						return err
					}

					created, err := rt.service.Create(ctx, definition)
					if err != nil {
						return err
					}

					fmt.Fprintln(command.Root().Writer, created.ID)

					return nil
				}),
			},
			{
				Name:      "validate",
				Aliases:   []string{"v"},
				Usage:     "Check a YAML definition without storing it",
				ArgsUsage: "<file.yaml>",
				Action: func(_ context.Context, command *cli.Command) error {
					path, err := requiredArg(command, 0, "file")
					if err != nil {
						return err
					}

					definition, err := config.LoadWorkflowDefinition(path)
					if err != nil {
						return err
					}

					logger := log.WithModule("cli")
					service := services.NewWorkflow(nil, nil, cmd.NewRegistry(logger, command.String("decision-truthy")), logger)

					if err := service.Validate(definition); err != nil {
						return err
					}

					fmt.Fprintf(command.Root().Writer, "%s: valid (%d nodes, %d edges)\n", path, len(definition.Nodes), len(definition.Edges))

					return nil
				},
			},
			{
				Name:      "start",
				Usage:     "Reset and start a stored workflow",
				ArgsUsage: "<workflow-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "data", Usage: "JSON object handed to the start node"},
				},
				Action: withRuntime(func(ctx context.Context, command *cli.Command, rt *runtime) error {
					id, err := requiredArg(command, 0, "workflow-id")
					if err != nil {
						return err
					}

					data, err := jsonObject(command.String("data"))
					if err != nil {
						return fmt.Errorf("--data: %w", err)
					}

					wf, err := rt.service.Start(ctx, id, data)
					if err != nil {
						return err
					}

					return printNodes(command.Root().Writer, wf)
				}),
			},
			{
				Name:      "resume",
				Usage:     "Resume a suspended or failed node",
				ArgsUsage: "<workflow-id> <node-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "input", Usage: `JSON object, e.g. '{"approved": true}'`},
				},
				Action: withRuntime(func(ctx context.Context, command *cli.Command, rt *runtime) error {
					id, err := requiredArg(command, 0, "workflow-id")
					if err != nil {
						return err
					}

					nodeID, err := requiredArg(command, 1, "node-id")
					if err != nil {
						return err
					}

					input, err := jsonObject(command.String("input"))
					if err != nil {
						return fmt.Errorf("--input: %w", err)
					}

					wf, err := rt.service.Resume(ctx, id, nodeID, input)
					if err != nil {
						return err
					}

					return printNodes(command.Root().Writer, wf)
				}),
			},
			{
				Name:      "show",
				Usage:     "Print a stored workflow",
				ArgsUsage: "<workflow-id>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "json", Usage: "Print the full record as JSON"},
				},
				Action: withRuntime(func(ctx context.Context, command *cli.Command, rt *runtime) error {
					id, err := requiredArg(command, 0, "workflow-id")
					if err != nil {
						return err
					}

					wf, err := rt.service.FetchByID(ctx, id)
					if err != nil {
						return err
					}

					if command.Bool("json") {
						encoder := json.NewEncoder(command.Root().Writer)
						encoder.SetIndent("", "  ")

						return encoder.Encode(wf)
					}

					return printNodes(command.Root().Writer, wf)
				}),
			},
			{
				Name:  "list",
				Usage: "List stored workflows",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "status", Usage: "Only workflows in this status"},
					&cli.StringFlag{Name: "owner", Usage: "Only workflows of this owner"},
				},
				Action: withRuntime(func(ctx context.Context, command *cli.Command, rt *runtime) error {
					req := services.ListWorkflowsRequest{OwnerID: command.String("owner"), Limit: 100}

					if status := command.String("status"); status != "" {
						s := models.WorkflowStatus(status)
						req.Status = &s
					}

					result, err := rt.service.ListWorkflows(ctx, req)
					if err != nil {
						return err
					}

					w := tabwriter.NewWriter(command.Root().Writer, 0, 0, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tNAME\tOWNER\tSTATUS\tNODES")

					for _, wf := range result.Workflows {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", wf.ID, wf.Name, wf.Owner, wf.Status, len(wf.Nodes))
					}

					return w.Flush()
				}),
			},
			{
				Name:  "timers",
				Usage: "Fire every delay node that is due, once",
				Action: withRuntime(func(ctx context.Context, command *cli.Command, rt *runtime) error {
					fired, err := rt.delays.Poll(ctx)

					fmt.Fprintf(command.Root().Writer, "%d timers fired\n", fired)

					return err
				}),
			},
		},
	}
}

type runtime struct {
	service *services.Workflow
	delays  *scheduler.DelayScheduler
}

func withRuntime(action func(ctx context.Context, command *cli.Command, rt *runtime) error) cli.ActionFunc {
	return func(ctx context.Context, command *cli.Command) error {
		logger := log.WithModule("cli")

		store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
		if err != nil {
			return err
		}

		defer func() {
			if err := store.Close(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
			}
		}()

		rt := newRuntime(store, command.String("decision-truthy"), command.Bool("parallel-branches"), logger)

		return action(ctx, command, rt)
	}
}

func newRuntime(store persistence.Persistence, truthy string, parallel bool, logger *slog.Logger) *runtime {
	reg := cmd.NewRegistry(logger, truthy)
	engine := cmd.NewEngine(store, reg, integration.NewLogHook(logger), logger, parallel)

	return &runtime{
		service: services.NewWorkflow(store, engine, reg, logger),
		delays:  scheduler.NewDelayScheduler(store, engine, logger, 0),
	}
}

func requiredArg(command *cli.Command, index int, name string) (string, error) {
	value := command.Args().Get(index)
	if value == "" {
		return "", fmt.Errorf("missing argument <%s>", name)
	}

	return value, nil
}

func jsonObject(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(raw), &object); err != nil {
		return nil, err
	}

	if object == nil {
		return nil, errors.New("expected a JSON object")
	}

	return object, nil
}

func printNodes(out io.Writer, wf *models.Workflow) error {
	fmt.Fprintf(out, "%s (%s) %s\n", wf.Name, wf.ID, wf.Status)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NODE\tTYPE\tSTATUS\tERROR")

	for _, node := range wf.Nodes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", node.ID, node.Type, node.Status, node.Error)
	}

	return w.Flush()
}
