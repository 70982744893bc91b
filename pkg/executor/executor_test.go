package executor

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, nil))
}

// fakeGenerationClient records every call and can delay, block or fail on
// demand to exercise the scheduling behaviour around agent nodes.
type fakeGenerationClient struct {
	mu    sync.Mutex
	calls []ollama.GenerateOptions

	delay   time.Duration
	failFor map[string]error
	entered chan string
	release chan struct{}

	inflight    atomic.Int32
	maxInflight atomic.Int32
}

func (f *fakeGenerationClient) Generate(_ context.Context, opts ollama.GenerateOptions) (*ollama.GenerateResponse, error) {
	current := f.inflight.Add(1)
	defer f.inflight.Add(-1)

	for {
		peak := f.maxInflight.Load()
		if current <= peak || f.maxInflight.CompareAndSwap(peak, current) {
			break
		}
	}

	f.mu.Lock()
	f.calls = append(f.calls, opts)
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- opts.Prompt
	}

	if f.release != nil {
		<-f.release
	}

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	if err, ok := f.failFor[opts.Prompt]; ok {
		return nil, err
	}

	return &ollama.GenerateResponse{
		Model:           opts.Model,
		Response:        "generated: " + opts.Prompt,
		Done:            true,
		PromptEvalCount: 10,
		EvalCount:       20,
	}, nil
}

func (f *fakeGenerationClient) prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	prompts := make([]string, len(f.calls))
	for i, call := range f.calls {
		prompts[i] = call.Prompt
	}

	return prompts
}

// eventRecorder collects events from concurrent emitters.
type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]events.Event(nil), r.events...)
}

func (r *eventRecorder) types() []events.EventType {
	all := r.all()

	types := make([]events.EventType, len(all))
	for i, event := range all {
		types[i] = event.GetType()
	}

	return types
}

func (r *eventRecorder) count(eventType events.EventType) int {
	count := 0

	for _, t := range r.types() {
		if t == eventType {
			count++
		}
	}

	return count
}

func mixedGraph() models.WorkflowGraph {
	return models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "t1", Kind: models.NodeKindTrigger, Data: models.NodeData{
				Label: "Start", TriggerKind: models.TriggerKindManual,
			}},
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{
				Label: "Researcher", Prompt: "research",
			}},
			{ID: "a2", Kind: models.NodeKindAgent, Data: models.NodeData{
				Label: "Writer", Prompt: "write",
			}},
			{ID: "c1", Kind: models.NodeKindCondition, Data: models.NodeData{Label: "Check"}},
			{ID: "x1", Kind: models.NodeKindAction, Data: models.NodeData{Label: "Publish"}},
		},
	}
}

func TestExecuteEmitsPhasesInOrder(t *testing.T) {
	client := &fakeGenerationClient{}
	recorder := &eventRecorder{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	run.OnEvent(recorder.record)
	assert.Equal(t, models.ExecutionStatusCreated, run.Status())

	require.NoError(t, run.Execute(context.Background()))
	assert.Equal(t, models.ExecutionStatusCompleted, run.Status())

	types := recorder.types()
	require.NotEmpty(t, types)
	assert.Equal(t, events.ExecutionStartEvent, types[0])
	assert.Equal(t, events.ExecutionCompleteEvent, types[len(types)-1])

	// One step_start/step_complete pair per node, no errors.
	assert.Equal(t, 5, recorder.count(events.StepStartEvent))
	assert.Equal(t, 5, recorder.count(events.StepCompleteEvent))
	assert.Equal(t, 0, recorder.count(events.StepErrorEvent))
	assert.Equal(t, 2, recorder.count(events.AgentStartEvent))
	assert.Equal(t, 2, recorder.count(events.AgentCompleteEvent))
	assert.Equal(t, 1, recorder.count(events.ExecutionCompleteEvent))

	// The trigger settles before any agent starts, and both agents settle
	// before the trailing nodes start.
	positions := make(map[string]int)

	for i, event := range recorder.all() {
		if start, ok := event.(events.StepStart); ok {
			positions["start:"+start.StepName] = i
		}

		if complete, ok := event.(events.StepComplete); ok {
			positions["complete:"+complete.StepName] = i
		}
	}

	assert.Less(t, positions["complete:Start"], positions["start:Researcher"])
	assert.Less(t, positions["complete:Start"], positions["start:Writer"])
	assert.Less(t, positions["complete:Researcher"], positions["start:Check"])
	assert.Less(t, positions["complete:Writer"], positions["start:Check"])
	assert.Less(t, positions["complete:Check"], positions["start:Publish"])

	// Every node's output lands in the run context under its id.
	snapshot := run.Context()
	for _, id := range []string{"t1", "a1", "a2", "c1", "x1"} {
		assert.Contains(t, snapshot, id)
	}
}

func TestExecuteStartEventCountsAllNodes(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "t1", Kind: models.NodeKindTrigger},
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "one"}},
			{ID: "a2", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "two"}},
		},
	}

	client := &fakeGenerationClient{}
	recorder := &eventRecorder{}

	run, err := New(graph, nil, client, testLogger())
	require.NoError(t, err)

	run.OnEvent(recorder.record)
	require.NoError(t, run.Execute(context.Background()))

	var start events.ExecutionStart

	for _, event := range recorder.all() {
		if s, ok := event.(events.ExecutionStart); ok {
			start = s

			break
		}
	}

	assert.Equal(t, 3, start.TotalSteps)
	assert.Contains(t, start.Message, "3 nodes")
	assert.Contains(t, start.Message, "2 agent nodes")

	// Agent step numbers continue after the trigger phase, in either order.
	stepNumbers := map[string]int{}

	for _, event := range recorder.all() {
		if s, ok := event.(events.StepStart); ok && s.NodeType == models.NodeKindAgent {
			stepNumbers[s.StepName] = s.StepNumber
			assert.Equal(t, 3, s.TotalSteps)
		}
	}

	assert.ElementsMatch(t, []int{2, 3}, []int{stepNumbers["a1"], stepNumbers["a2"]})
}

func TestAgentNodesRunConcurrently(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "one"}},
			{ID: "a2", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "two"}},
			{ID: "a3", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "three"}},
		},
	}

	client := &fakeGenerationClient{delay: 50 * time.Millisecond}

	run, err := New(graph, nil, client, testLogger())
	require.NoError(t, err)

	require.NoError(t, run.Execute(context.Background()))

	assert.Equal(t, int32(3), client.maxInflight.Load(),
		"all agent nodes should be in flight at the same time")
	assert.ElementsMatch(t, []string{"one", "two", "three"}, client.prompts())
}

func TestAgentFailureKeepsSiblingOutputs(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{Label: "Bad", Prompt: "bad"}},
			{ID: "a2", Kind: models.NodeKindAgent, Data: models.NodeData{Label: "Good", Prompt: "good"}},
		},
	}

	backendErr := errors.New("model exploded")
	client := &fakeGenerationClient{failFor: map[string]error{"bad": backendErr}}
	recorder := &eventRecorder{}

	run, err := New(graph, nil, client, testLogger())
	require.NoError(t, err)

	run.OnEvent(recorder.record)

	err = run.Execute(context.Background())
	require.Error(t, err)

	var nodeErr *NodeExecutionError

	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "a1", nodeErr.NodeID)
	assert.Equal(t, models.NodeKindAgent, nodeErr.Kind)
	require.ErrorIs(t, err, backendErr)

	assert.Equal(t, 1, recorder.count(events.StepErrorEvent))
	assert.Equal(t, 1, recorder.count(events.AgentErrorEvent))
	assert.Equal(t, 1, recorder.count(events.ExecutionErrorEvent))
	assert.Equal(t, 0, recorder.count(events.ExecutionCompleteEvent))

	// The failing agent leaves no output; its sibling's survives.
	snapshot := run.Context()
	assert.NotContains(t, snapshot, "a1")
	assert.Contains(t, snapshot, "a2")

	assert.Equal(t, models.ExecutionStatusFailed, run.Status())
}

func TestCancelBeforeExecute(t *testing.T) {
	client := &fakeGenerationClient{}
	recorder := &eventRecorder{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	run.OnEvent(recorder.record)
	run.Cancel()

	err = run.Execute(context.Background())
	require.ErrorIs(t, err, ErrCancelled)

	types := recorder.types()
	require.Len(t, types, 1)
	assert.Equal(t, events.ExecutionCancelledEvent, types[0])
	assert.Empty(t, client.prompts())
	assert.Equal(t, models.ExecutionStatusCancelled, run.Status())
}

func TestCancelDuringRunEmitsSingleTerminalEvent(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "slow"}},
			{ID: "c1", Kind: models.NodeKindCondition, Data: models.NodeData{Label: "After"}},
		},
	}

	client := &fakeGenerationClient{
		entered: make(chan string, 1),
		release: make(chan struct{}),
	}
	recorder := &eventRecorder{}

	run, err := New(graph, nil, client, testLogger())
	require.NoError(t, err)

	run.OnEvent(recorder.record)

	done := make(chan error, 1)

	go func() {
		done <- run.Execute(context.Background())
	}()

	select {
	case <-client.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("agent call never started")
	}

	run.Cancel()
	close(client.release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(5 * time.Second):
		t.Fatal("execute did not return")
	}

	assert.Equal(t, 1, recorder.count(events.ExecutionCancelledEvent))
	assert.Equal(t, 0, recorder.count(events.ExecutionCompleteEvent))
	assert.Equal(t, 0, recorder.count(events.ExecutionErrorEvent))

	// The trailing condition node never dispatches after cancellation.
	for _, event := range recorder.all() {
		if start, ok := event.(events.StepStart); ok {
			assert.NotEqual(t, "After", start.StepName)
		}
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	client := &fakeGenerationClient{}
	recorder := &eventRecorder{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	run.OnEvent(recorder.record)

	run.Cancel()
	run.Cancel()
	run.Cancel()

	assert.Equal(t, 1, recorder.count(events.ExecutionCancelledEvent))
}

func TestExecuteIsSingleUse(t *testing.T) {
	client := &fakeGenerationClient{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	require.NoError(t, run.Execute(context.Background()))
	require.ErrorIs(t, run.Execute(context.Background()), ErrAlreadyStarted)
}

func TestNewRejectsInvalidGraph(t *testing.T) {
	client := &fakeGenerationClient{}

	_, err := New(models.WorkflowGraph{}, nil, client, testLogger())
	require.ErrorIs(t, err, models.ErrInvalidGraph)
}

func TestNewCopiesInitialContext(t *testing.T) {
	client := &fakeGenerationClient{}
	initial := map[string]any{"topic": "go"}

	run, err := New(mixedGraph(), initial, client, testLogger())
	require.NoError(t, err)

	initial["topic"] = "mutated"

	assert.Equal(t, "go", run.Context()["topic"])
}

func TestExecutionIDFormat(t *testing.T) {
	client := &fakeGenerationClient{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	id := run.ExecutionID()
	assert.True(t, strings.HasPrefix(id, "exec-"))

	_, err = uuid.Parse(strings.TrimPrefix(id, "exec-"))
	assert.NoError(t, err, "execution id must carry a full UUID")

	other, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)
	assert.NotEqual(t, id, other.ExecutionID())
}

func TestAgentDefaultsApplied(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "hello"}},
		},
	}

	client := &fakeGenerationClient{}

	run, err := New(graph, nil, client, testLogger(), WithDefaultModel("llama3.2"))
	require.NoError(t, err)

	require.NoError(t, run.Execute(context.Background()))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, "llama3.2", call.Model)
	assert.Equal(t, defaultSystemPrompt, call.System)
	assert.InDelta(t, defaultTemperature, call.Temperature, 1e-9)
	assert.Equal(t, defaultMaxTokens, call.MaxTokens)
}

func TestAgentConfigOverridesDefaults(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{
				Prompt: "hello",
				Config: models.AgentConfig{
					Model:        "mistral",
					SystemPrompt: "You are terse.",
					Temperature:  0.2,
					MaxTokens:    128,
				},
			}},
		},
	}

	client := &fakeGenerationClient{}

	run, err := New(graph, nil, client, testLogger())
	require.NoError(t, err)

	require.NoError(t, run.Execute(context.Background()))

	require.Len(t, client.calls, 1)
	call := client.calls[0]
	assert.Equal(t, "mistral", call.Model)
	assert.Equal(t, "You are terse.", call.System)
	assert.InDelta(t, 0.2, call.Temperature, 1e-9)
	assert.Equal(t, 128, call.MaxTokens)
}

func TestAgentOutputTokenUsage(t *testing.T) {
	graph := models.WorkflowGraph{
		Nodes: []models.Node{
			{ID: "a1", Kind: models.NodeKindAgent, Data: models.NodeData{Prompt: "count"}},
		},
	}

	client := &fakeGenerationClient{}

	run, err := New(graph, nil, client, testLogger())
	require.NoError(t, err)

	require.NoError(t, run.Execute(context.Background()))

	output, ok := run.Context()["a1"].(models.AgentOutput)
	require.True(t, ok)
	assert.Equal(t, "generated: count", output.Response)
	assert.Equal(t, 10, output.Tokens.Prompt)
	assert.Equal(t, 20, output.Tokens.Completion)
	assert.Equal(t, 30, output.Tokens.Total)
}

func TestBuildPromptIncludesContextSorted(t *testing.T) {
	client := &fakeGenerationClient{}

	run, err := New(mixedGraph(), map[string]any{
		"zeta":  "last",
		"alpha": "first",
	}, client, testLogger())
	require.NoError(t, err)

	prompt := run.buildPrompt(models.Node{
		ID:   "a1",
		Kind: models.NodeKindAgent,
		Data: models.NodeData{Prompt: "summarize"},
	})

	assert.True(t, strings.HasPrefix(prompt, "summarize\n\nCurrent context:\n"))
	assert.Less(t, strings.Index(prompt, `alpha: "first"`), strings.Index(prompt, `zeta: "last"`))
}

func TestBuildPromptFallsBackToDescription(t *testing.T) {
	client := &fakeGenerationClient{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	prompt := run.buildPrompt(models.Node{
		ID:   "a1",
		Kind: models.NodeKindAgent,
		Data: models.NodeData{Description: "summarize the findings"},
	})

	assert.Equal(t, "Perform the task: summarize the findings", prompt)
}

func TestTriggerOutputMessages(t *testing.T) {
	client := &fakeGenerationClient{}

	run, err := New(mixedGraph(), nil, client, testLogger())
	require.NoError(t, err)

	tests := []struct {
		kind    models.TriggerKind
		message string
	}{
		{models.TriggerKindManual, "run started manually"},
		{models.TriggerKindSchedule, "run started by schedule"},
		{models.TriggerKindWebhook, "run started by webhook"},
		{"", "trigger fired"},
	}

	for _, tt := range tests {
		output := run.executeTrigger(models.Node{
			ID:   "t1",
			Kind: models.NodeKindTrigger,
			Data: models.NodeData{TriggerKind: tt.kind},
		})
		assert.Equal(t, tt.message, output.Message)
		assert.False(t, output.Timestamp.IsZero())
	}
}
