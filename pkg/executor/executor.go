// Package executor runs one workflow graph: triggers sequentially, agents as
// a single concurrent batch, every remaining node sequentially, emitting
// lifecycle events at each transition.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
	"github.com/weftflow/weft/pkg/otelhelper"
)

// DefaultModel is used for agent nodes that do not configure one.
const DefaultModel = "qwen3:latest"

const (
	defaultSystemPrompt = "You are a helpful AI assistant."
	defaultTemperature  = 0.7
	defaultMaxTokens    = 2000
)

// GenerationClient is the slice of the backend client the agent handler
// needs.
type GenerationClient interface {
	Generate(ctx context.Context, opts ollama.GenerateOptions) (*ollama.GenerateResponse, error)
}

// EmitFunc receives every event the run produces. Events from the agent
// phase are emitted by concurrent goroutines, so implementations must be
// safe for concurrent calls.
type EmitFunc func(event events.Event)

// Option configures an Executor at construction.
type Option func(*Executor)

// WithDefaultModel overrides the model used by agent nodes without one.
func WithDefaultModel(model string) Option {
	return func(e *Executor) {
		e.defaultModel = model
	}
}

// WithTracer enables span emission for the run and its nodes.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// Executor owns exactly one run of a workflow graph. Instances are single
// use: once a terminal event has been emitted the executor is disposed.
type Executor struct {
	graph        models.WorkflowGraph
	client       GenerationClient
	executionID  string
	defaultModel string
	logger       *slog.Logger
	tracer       trace.Tracer

	handlers []EmitFunc

	mu         sync.Mutex
	runContext map[string]any
	status     models.ExecutionStatus

	started   atomic.Bool
	cancelled atomic.Bool
	terminal  atomic.Bool
}

// New validates the graph and prepares a run over it. The initial context is
// copied; the caller's map is never aliased.
func New(
	graph models.WorkflowGraph,
	initialContext map[string]any,
	client GenerationClient,
	logger *slog.Logger,
	opts ...Option,
) (*Executor, error) {
	if err := graph.Validate(); err != nil {
		return nil, err
	}

	runContext := make(map[string]any, len(initialContext)+len(graph.Nodes))
	for k, v := range initialContext {
		runContext[k] = v
	}

	executionID := "exec-" + uuid.NewString()

	e := &Executor{
		graph:        graph,
		client:       client,
		executionID:  executionID,
		defaultModel: DefaultModel,
		logger:       logger.With("module", "executor", "execution_id", executionID),
		tracer:       noop.NewTracerProvider().Tracer(""),
		runContext:   runContext,
		status:       models.ExecutionStatusCreated,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e, nil
}

// ExecutionID returns the run's stable identifier.
func (e *Executor) ExecutionID() string {
	return e.executionID
}

// Context returns a snapshot copy of the run context. Safe to call at any
// point, including after failure, when it holds the outputs of every node
// that completed.
func (e *Executor) Context() map[string]any {
	e.mu.Lock()
	defer e.mu.Unlock()

	snapshot := make(map[string]any, len(e.runContext))
	for k, v := range e.runContext {
		snapshot[k] = v
	}

	return snapshot
}

// Status returns the run's current lifecycle state.
func (e *Executor) Status() models.ExecutionStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

func (e *Executor) setStatus(status models.ExecutionStatus) {
	e.mu.Lock()
	e.status = status
	e.mu.Unlock()
}

// OnEvent registers a handler for every event the run emits. Must be called
// before Execute.
func (e *Executor) OnEvent(fn EmitFunc) {
	e.handlers = append(e.handlers, fn)
}

// Cancel requests cooperative cancellation: nodes not yet dispatched will not
// start, and the terminal cancelled event is emitted immediately. In-flight
// generation calls are left to finish. Idempotent.
func (e *Executor) Cancel() {
	if !e.cancelled.CompareAndSwap(false, true) {
		return
	}

	if !e.terminal.CompareAndSwap(false, true) {
		return
	}

	e.setStatus(models.ExecutionStatusCancelled)
	e.logger.Info("Execution cancelled")
	e.emit(events.ExecutionCancelled{
		BaseEvent: e.base(events.ExecutionCancelledEvent),
		Message:   "execution cancelled by user",
	})
}

// Execute runs the graph. It returns once every node has run, the first node
// failure has been observed, or cancellation stopped dispatch. Node-level
// failures surface both as events and as the returned error. Single use.
func (e *Executor) Execute(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if e.cancelled.Load() {
		return ErrCancelled
	}

	e.setStatus(models.ExecutionStatusRunning)

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.ExecutionIDKey, e.executionID))
	defer span.End()

	triggers, agents, others := e.graph.NodesByKind()
	totalSteps := len(e.graph.Nodes)

	e.logger.Info("Starting workflow execution",
		"total_nodes", totalSteps,
		"agent_nodes", len(agents))

	e.emit(events.ExecutionStart{
		BaseEvent:  e.base(events.ExecutionStartEvent),
		TotalSteps: totalSteps,
		Message: fmt.Sprintf(
			"Executing workflow: %d nodes, %d agent nodes run concurrently",
			totalSteps, len(agents)),
	})

	if err := e.runPhases(ctx, triggers, agents, others, totalSteps); err != nil {
		if e.cancelled.Load() {
			// The terminal cancelled event was already emitted by Cancel.
			return ErrCancelled
		}

		if !e.terminal.CompareAndSwap(false, true) {
			return err
		}

		e.setStatus(models.ExecutionStatusFailed)
		e.logger.Error("Workflow execution failed", "error", err)
		e.emit(events.ExecutionError{
			BaseEvent: e.base(events.ExecutionErrorEvent),
			Error:     err.Error(),
		})

		return err
	}

	if e.cancelled.Load() {
		return ErrCancelled
	}

	if !e.terminal.CompareAndSwap(false, true) {
		return ErrCancelled
	}

	e.setStatus(models.ExecutionStatusCompleted)
	e.logger.Info("Workflow execution completed")
	e.emit(events.ExecutionComplete{
		BaseEvent: e.base(events.ExecutionCompleteEvent),
		Result:    e.Context(),
		Message:   "all nodes completed",
	})

	return nil
}

// runPhases dispatches the three phases in order. Trigger and trailing nodes
// run strictly sequentially in declaration order; agent nodes run as one
// concurrent batch that fully settles before the next phase starts.
func (e *Executor) runPhases(
	ctx context.Context,
	triggers, agents, others []models.Node,
	totalSteps int,
) error {
	for i, node := range triggers {
		if e.cancelled.Load() {
			return ErrCancelled
		}

		if err := e.executeNode(ctx, node, i+1, totalSteps); err != nil {
			return err
		}
	}

	if len(agents) > 0 && !e.cancelled.Load() {
		e.logger.Info("Dispatching agent nodes concurrently", "count", len(agents))

		group := new(errgroup.Group)

		for i, node := range agents {
			stepNumber := len(triggers) + i + 1

			group.Go(func() error {
				return e.executeNode(ctx, node, stepNumber, totalSteps)
			})
		}

		if err := group.Wait(); err != nil {
			return err
		}
	}

	for i, node := range others {
		if e.cancelled.Load() {
			return ErrCancelled
		}

		stepNumber := len(triggers) + len(agents) + i + 1
		if err := e.executeNode(ctx, node, stepNumber, totalSteps); err != nil {
			return err
		}
	}

	return nil
}

// executeNode dispatches one node to its kind handler and folds the output
// into the run context.
func (e *Executor) executeNode(ctx context.Context, node models.Node, stepNumber, totalSteps int) error {
	stepID := uuid.NewString()

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "node.execute",
		attribute.String(otelhelper.ExecutionIDKey, e.executionID),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeKindKey, string(node.Kind)))
	defer span.End()

	e.emit(events.StepStart{
		BaseEvent:  e.base(events.StepStartEvent),
		StepID:     stepID,
		StepNumber: stepNumber,
		TotalSteps: totalSteps,
		StepName:   node.Name(),
		NodeType:   node.Kind,
	})

	output, err := e.dispatch(ctx, node)
	if err != nil {
		otelhelper.RecordError(span, err)
		e.emit(events.StepError{
			BaseEvent: e.base(events.StepErrorEvent),
			StepID:    stepID,
			StepName:  node.Name(),
			Error:     err.Error(),
		})

		return &NodeExecutionError{NodeID: node.ID, Kind: node.Kind, Err: err}
	}

	e.mu.Lock()
	e.runContext[node.ID] = output
	e.mu.Unlock()

	e.emit(events.StepComplete{
		BaseEvent: e.base(events.StepCompleteEvent),
		StepID:    stepID,
		StepName:  node.Name(),
		Input:     e.Context(),
		Output:    output,
	})

	return nil
}

func (e *Executor) dispatch(ctx context.Context, node models.Node) (any, error) {
	e.logger.Debug("Executing node", "node_id", node.ID, "kind", node.Kind)

	switch node.Kind {
	case models.NodeKindTrigger:
		return e.executeTrigger(node), nil
	case models.NodeKindAgent:
		return e.executeAgent(ctx, node)
	case models.NodeKindCondition:
		return e.executeCondition(node), nil
	case models.NodeKindAction:
		return e.executeAction(node), nil
	default:
		return e.executeDefault(node), nil
	}
}

func (e *Executor) emit(event events.Event) {
	for _, fn := range e.handlers {
		fn(event)
	}
}

func (e *Executor) base(eventType events.EventType) events.BaseEvent {
	return events.BaseEvent{
		Type:        eventType,
		ExecutionID: e.executionID,
		Timestamp:   time.Now().UTC(),
	}
}
