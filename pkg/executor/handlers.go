package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/weftflow/weft/pkg/events"
	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
)

// executeTrigger produces the informational start-of-run record. Never fails.
func (e *Executor) executeTrigger(node models.Node) models.TriggerOutput {
	var message string

	switch node.Data.TriggerKind {
	case models.TriggerKindManual:
		message = "run started manually"
	case models.TriggerKindSchedule:
		message = "run started by schedule"
	case models.TriggerKindWebhook:
		message = "run started by webhook"
	default:
		message = "trigger fired"
	}

	return models.TriggerOutput{
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

// executeAgent builds the node's prompt from the current run context and
// issues one blocking generation call, bracketed by agent events.
func (e *Executor) executeAgent(ctx context.Context, node models.Node) (any, error) {
	config := node.Data.Config

	model := config.Model
	if model == "" {
		model = e.defaultModel
	}

	system := config.SystemPrompt
	if system == "" {
		system = defaultSystemPrompt
	}

	temperature := config.Temperature
	if temperature == 0 {
		temperature = defaultTemperature
	}

	maxTokens := config.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	prompt := e.buildPrompt(node)

	interaction := events.AgentInteraction{
		Prompt: prompt,
		Model:  model,
	}

	e.emit(events.AgentStart{
		BaseEvent:        e.base(events.AgentStartEvent),
		NodeID:           node.ID,
		StepName:         node.Name(),
		AgentInteraction: interaction,
	})

	response, err := e.client.Generate(ctx, ollama.GenerateOptions{
		Model:       model,
		Prompt:      prompt,
		System:      system,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		interaction.Response = fmt.Sprintf("execution failed: %v", err)
		e.emit(events.AgentError{
			BaseEvent:        e.base(events.AgentErrorEvent),
			NodeID:           node.ID,
			StepName:         node.Name(),
			AgentInteraction: interaction,
		})

		return nil, err
	}

	interaction.Response = response.Response
	e.emit(events.AgentComplete{
		BaseEvent:        e.base(events.AgentCompleteEvent),
		NodeID:           node.ID,
		StepName:         node.Name(),
		AgentInteraction: interaction,
	})

	return models.AgentOutput{
		Response: response.Response,
		Model:    response.Model,
		Tokens: models.TokenUsage{
			Prompt:     response.PromptEvalCount,
			Completion: response.EvalCount,
			Total:      response.PromptEvalCount + response.EvalCount,
		},
		Duration: response.TotalDuration,
	}, nil
}

// executeCondition is a deterministic placeholder; branching is an extension
// point, not a decision node.
func (e *Executor) executeCondition(_ models.Node) models.ConditionOutput {
	return models.ConditionOutput{Condition: true, Message: "condition passed"}
}

func (e *Executor) executeAction(_ models.Node) models.ActionOutput {
	return models.ActionOutput{Action: "completed", Message: "action executed"}
}

func (e *Executor) executeDefault(node models.Node) models.GenericOutput {
	return models.GenericOutput{Message: "node executed", Kind: node.Kind}
}

// buildPrompt concatenates the node's prompt template with a serialized dump
// of the run context as it stands now. Concurrently running agents may or may
// not see each other's outputs here; agent nodes are assumed independent.
func (e *Executor) buildPrompt(node models.Node) string {
	basePrompt := node.Data.Prompt
	if basePrompt == "" {
		task := node.Data.Description
		if task == "" {
			task = node.Data.Label
		}

		basePrompt = "Perform the task: " + task
	}

	snapshot := e.Context()
	if len(snapshot) == 0 {
		return basePrompt
	}

	keys := make([]string, 0, len(snapshot))
	for key := range snapshot {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	var sb strings.Builder

	sb.WriteString(basePrompt)
	sb.WriteString("\n\nCurrent context:\n")

	for i, key := range keys {
		if i > 0 {
			sb.WriteByte('\n')
		}

		value, err := json.Marshal(snapshot[key])
		if err != nil {
			value = []byte(fmt.Sprintf("%v", snapshot[key]))
		}

		sb.WriteString(key)
		sb.WriteString(": ")
		sb.Write(value)
	}

	return sb.String()
}
