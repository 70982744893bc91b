// Package main provides the weft CLI for running a workflow file locally and
// printing its event stream.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	cli "github.com/urfave/cli/v3"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/executor"
	"github.com/weftflow/weft/pkg/log"
	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
)

func main() {
	command := &cli.Command{
		Name:  "weft",
		Usage: "Run a workflow file against a generation backend",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "workflow",
				Aliases:  []string{"w"},
				Usage:    "Path to the workflow graph JSON file",
				Required: true,
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
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("cli")

	raw, err := os.ReadFile(command.String("workflow"))
	if err != nil {
		return fmt.Errorf("reading workflow file: %w", err)
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal(raw, &graph); err != nil {
		return fmt.Errorf("parsing workflow file: %w", err)
	}

	client := ollama.NewClient(command.String("ollama-url"), logger)

	execution, err := executor.New(graph, nil, client, logger,
		executor.WithDefaultModel(command.String("default-model")))
	if err != nil {
		return err
	}

	printer := newEventPrinter(os.Stdout, logger)
	execution.OnEvent(printer.print)

	return execution.Execute(ctx)
}

// eventPrinter writes events as JSON lines. Agent-phase events arrive from
// concurrent goroutines, so encoding is serialized behind a mutex.
type eventPrinter struct {
	mu      sync.Mutex
	encoder *json.Encoder
	logger  *slog.Logger
}

func newEventPrinter(w io.Writer, logger *slog.Logger) *eventPrinter {
	return &eventPrinter{encoder: json.NewEncoder(w), logger: logger}
}

func (p *eventPrinter) print(event events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.encoder.Encode(event); err != nil {
		p.logger.Error("Failed to encode event", "error", err)
	}
}
