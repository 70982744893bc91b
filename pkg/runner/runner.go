// Package runner schedules workflow runs: it owns the active-run registry
// and the event publishing glue shared by every way a run can start (HTTP,
// queue messages, cron schedules).
package runner

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/weftflow/weft/pkg/eventbus"
	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/executor"
	"github.com/weftflow/weft/pkg/models"
)

// RunRequest is one ask to execute a workflow graph, however it arrives.
type RunRequest struct {
	Workflow    models.WorkflowGraph `json:"workflow"`
	Context     map[string]any       `json:"context"`
	RecipientID string               `json:"recipientId"`
}

type Runner struct {
	logger       *slog.Logger
	registry     *executor.Registry
	bus          eventbus.EventPublisher
	client       executor.GenerationClient
	defaultModel string
	tracer       trace.Tracer
}

// Option configures a Runner at construction.
type Option func(*Runner)

// WithTracer enables span emission for every run the Runner schedules.
func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

func New(
	logger *slog.Logger,
	registry *executor.Registry,
	bus eventbus.EventPublisher,
	client executor.GenerationClient,
	defaultModel string,
	opts ...Option,
) *Runner {
	r := &Runner{
		logger:       logger.With("module", "runner"),
		registry:     registry,
		bus:          bus,
		client:       client,
		defaultModel: defaultModel,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Schedule validates the graph, starts the run asynchronously and returns its
// execution id. Events flow to the request's recipient id via the event bus.
func (r *Runner) Schedule(ctx context.Context, req RunRequest) (string, error) {
	recipientID := req.RecipientID
	if recipientID == "" {
		recipientID = "anonymous"
	}

	execOpts := []executor.Option{executor.WithDefaultModel(r.defaultModel)}
	if r.tracer != nil {
		execOpts = append(execOpts, executor.WithTracer(r.tracer))
	}

	run, err := executor.New(req.Workflow, req.Context, r.client, r.logger, execOpts...)
	if err != nil {
		return "", err
	}

	executionID := run.ExecutionID()

	run.OnEvent(func(event events.Event) {
		if err := r.bus.Publish(context.Background(), recipientID, event); err != nil {
			r.logger.Error("Failed to publish execution event",
				"execution_id", executionID,
				"event_type", event.GetType(),
				"error", err)
		}
	})

	r.registry.Register(run)

	r.logger.Info("Scheduling workflow execution",
		"execution_id", executionID,
		"recipient_id", recipientID,
		"nodes", len(req.Workflow.Nodes))

	go func() {
		defer r.registry.Deregister(executionID)

		if err := run.Execute(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("Workflow execution finished with error",
				"execution_id", executionID,
				"error", err)
		}
	}()

	return executionID, nil
}

// Cancel requests cooperative cancellation of an in-flight run.
func (r *Runner) Cancel(executionID string) bool {
	return r.registry.Cancel(executionID)
}

// IsActive reports whether a run is still in flight.
func (r *Runner) IsActive(executionID string) bool {
	return r.registry.IsActive(executionID)
}

// Status returns the lifecycle state of an in-flight run. The second return
// is false once the run has terminated and left the registry.
func (r *Runner) Status(executionID string) (models.ExecutionStatus, bool) {
	run, ok := r.registry.Get(executionID)
	if !ok {
		return "", false
	}

	return run.Status(), true
}

// ActiveCount returns the number of in-flight runs.
func (r *Runner) ActiveCount() int {
	return r.registry.Count()
}
