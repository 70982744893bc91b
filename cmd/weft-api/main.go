package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/weftflow/weft/pkg/cmd"
	"github.com/weftflow/weft/pkg/executor"
	"github.com/weftflow/weft/pkg/log"
	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
	"github.com/weftflow/weft/pkg/otelhelper"
	"github.com/weftflow/weft/pkg/runner"
	"github.com/weftflow/weft/pkg/sse"
	"github.com/weftflow/weft/pkg/triggers/queue"
	"github.com/weftflow/weft/pkg/triggers/schedule"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "weft-api",
		Usage:                 "Run workflows and stream execution events",
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
				Name:    "ollama-url",
				Usage:   "Base URL of the generation backend",
				Value:   "http://localhost:11434",
				Sources: cli.EnvVars("OLLAMA_URL"),
			},
			&cli.StringFlag{
				Name:    "default-model",
				Usage:   "Model used by agent nodes that do not configure one",
				Value:   executor.DefaultModel,
				Sources: cli.EnvVars("DEFAULT_MODEL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (gochannel, kafka)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "redis-addr",
				Usage:   "Redis address for the queue run source (disabled when empty)",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-queue",
				Usage:   "Redis list consumed by the queue run source",
				Value:   "weft:runs",
				Sources: cli.EnvVars("REDIS_QUEUE"),
			},
			&cli.StringFlag{
				Name:    "schedule",
				Usage:   "Cron expression for the schedule run source (disabled when empty)",
				Sources: cli.EnvVars("SCHEDULE_CRON"),
			},
			&cli.StringFlag{
				Name:    "schedule-workflow",
				Usage:   "Path to the workflow graph fired by the schedule run source",
				Sources: cli.EnvVars("SCHEDULE_WORKFLOW"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Enable OpenTelemetry span export for workflow runs",
				Sources: cli.EnvVars("OTEL_TRACING"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Weft API")

			bus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := bus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			var runnerOpts []runner.Option

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "weft-api")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				runnerOpts = append(runnerOpts, runner.WithTracer(tracer))
			}

			broker := sse.NewBroker(logger)
			client := ollama.NewClient(command.String("ollama-url"), logger)
			runs := runner.New(
				logger,
				executor.NewRegistry(),
				bus,
				client,
				command.String("default-model"),
				runnerOpts...,
			)

			if addr := command.String("redis-addr"); addr != "" {
				source, err := queue.NewSource(addr, "", 0, command.String("redis-queue"), logger)
				if err != nil {
					return err
				}

				err = source.Start(ctx, func(ctx context.Context, req runner.RunRequest) error {
					_, err := runs.Schedule(ctx, req)

					return err
				})
				if err != nil {
					return err
				}

				defer func() {
					if err := source.Stop(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to stop queue source", "error", err)
					}
				}()
			}

			if cronExpr := command.String("schedule"); cronExpr != "" {
				source, err := scheduleSource(ctx, cronExpr, command.String("schedule-workflow"), runs, logger)
				if err != nil {
					return err
				}

				defer func() {
					if err := source.Stop(ctx); err != nil {
						logger.ErrorContext(ctx, "Failed to stop schedule source", "error", err)
					}
				}()
			}

			api := NewAPI(logger, runs, broker, bus, client)

			if err := api.Start(ctx, command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

func scheduleSource(
	ctx context.Context,
	cronExpr, workflowPath string,
	runs *runner.Runner,
	logger *slog.Logger,
) (*schedule.Source, error) {
	if workflowPath == "" {
		return nil, errors.New("--schedule requires --schedule-workflow")
	}

	data, err := os.ReadFile(workflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduled workflow: %w", err)
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("invalid scheduled workflow: %w", err)
	}

	source, err := schedule.NewSource("schedule", cronExpr, logger)
	if err != nil {
		return nil, err
	}

	err = source.Start(ctx, func(ctx context.Context, triggerData map[string]any) error {
		_, err := runs.Schedule(ctx, runner.RunRequest{
			Workflow: graph,
			Context:  triggerData,
		})

		return err
	})
	if err != nil {
		return nil, err
	}

	return source, nil
}
