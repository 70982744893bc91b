// Package events defines the event stream emitted over the lifetime of one
// workflow execution run.
package events

import (
	"time"

	"github.com/weftflow/weft/pkg/models"
)

type EventType string

// Watermill topic carrying execution events from the engine to the forwarder.
const Topic = "weft.execution.events"

const EventTypeMetadataKey = "event_type"
const RecipientMetadataKey = "recipient_id"

const (
	// Run lifecycle events. Exactly one terminal event per run.
	ExecutionStartEvent     EventType = "execution_start"
	ExecutionCompleteEvent  EventType = "execution_complete"
	ExecutionErrorEvent     EventType = "execution_error"
	ExecutionCancelledEvent EventType = "cancelled"

	// Per-node step events, emitted for every node kind.
	StepStartEvent    EventType = "step_start"
	StepCompleteEvent EventType = "step_complete"
	StepErrorEvent    EventType = "step_error"

	// Agent events bracket the generation call inside an agent step.
	AgentStartEvent    EventType = "agent_start"
	AgentCompleteEvent EventType = "agent_complete"
	AgentErrorEvent    EventType = "agent_error"

	// Transport-level events, produced by the SSE layer rather than the engine.
	ConnectedEvent EventType = "connected"
	PingEvent      EventType = "ping"
)

// Event is any record broadcast to subscribers of a run.
type Event interface {
	GetType() EventType
}

// BaseEvent carries the fields common to every execution event.
type BaseEvent struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"executionId"`
	Timestamp   time.Time `json:"timestamp,omitzero"`
}

type ExecutionStart struct {
	BaseEvent

	TotalSteps int    `json:"totalSteps"`
	Message    string `json:"message"`
}

func (e ExecutionStart) GetType() EventType { return ExecutionStartEvent }

type StepStart struct {
	BaseEvent

	StepID     string          `json:"stepId"`
	StepNumber int             `json:"stepNumber"`
	TotalSteps int             `json:"totalSteps"`
	StepName   string          `json:"stepName"`
	NodeType   models.NodeKind `json:"nodeType"`
}

func (e StepStart) GetType() EventType { return StepStartEvent }

type StepComplete struct {
	BaseEvent

	StepID   string         `json:"stepId"`
	StepName string         `json:"stepName"`
	Input    map[string]any `json:"input"`
	Output   any            `json:"output"`
}

func (e StepComplete) GetType() EventType { return StepCompleteEvent }

type StepError struct {
	BaseEvent

	StepID   string `json:"stepId"`
	StepName string `json:"stepName"`
	Error    string `json:"error"`
}

func (e StepError) GetType() EventType { return StepErrorEvent }

// AgentInteraction is the prompt/response pair shown to the client while an
// agent node runs. Response is empty on agent_start and holds the error text
// on agent_error.
type AgentInteraction struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Model    string `json:"model"`
}

type AgentStart struct {
	BaseEvent

	NodeID           string           `json:"nodeId"`
	StepName         string           `json:"stepName"`
	AgentInteraction AgentInteraction `json:"agentInteraction"`
}

func (e AgentStart) GetType() EventType { return AgentStartEvent }

type AgentComplete struct {
	BaseEvent

	NodeID           string           `json:"nodeId"`
	StepName         string           `json:"stepName"`
	AgentInteraction AgentInteraction `json:"agentInteraction"`
}

func (e AgentComplete) GetType() EventType { return AgentCompleteEvent }

type AgentError struct {
	BaseEvent

	NodeID           string           `json:"nodeId"`
	StepName         string           `json:"stepName"`
	AgentInteraction AgentInteraction `json:"agentInteraction"`
}

func (e AgentError) GetType() EventType { return AgentErrorEvent }

type ExecutionComplete struct {
	BaseEvent

	Result  map[string]any `json:"result"`
	Message string         `json:"message,omitempty"`
}

func (e ExecutionComplete) GetType() EventType { return ExecutionCompleteEvent }

type ExecutionError struct {
	BaseEvent

	Error string `json:"error"`
}

func (e ExecutionError) GetType() EventType { return ExecutionErrorEvent }

type ExecutionCancelled struct {
	BaseEvent

	Message string `json:"message"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

type Connected struct {
	BaseEvent

	RecipientID string `json:"recipientId"`
}

func (e Connected) GetType() EventType { return ConnectedEvent }

type Ping struct {
	BaseEvent
}

func (e Ping) GetType() EventType { return PingEvent }

// New builds an empty event value for the given type, for decoding events off
// the wire. Returns nil for unknown types.
func New(eventType EventType) Event {
	switch eventType {
	case ExecutionStartEvent:
		return &ExecutionStart{}
	case StepStartEvent:
		return &StepStart{}
	case StepCompleteEvent:
		return &StepComplete{}
	case StepErrorEvent:
		return &StepError{}
	case AgentStartEvent:
		return &AgentStart{}
	case AgentCompleteEvent:
		return &AgentComplete{}
	case AgentErrorEvent:
		return &AgentError{}
	case ExecutionCompleteEvent:
		return &ExecutionComplete{}
	case ExecutionErrorEvent:
		return &ExecutionError{}
	case ExecutionCancelledEvent:
		return &ExecutionCancelled{}
	case ConnectedEvent:
		return &Connected{}
	case PingEvent:
		return &Ping{}
	default:
		return nil
	}
}
