package models

import "time"

// ExecutionStatus is the lifecycle state of one run. Terminal states are
// final; there is no resume.
type ExecutionStatus string

const (
	ExecutionStatusCreated   ExecutionStatus = "created"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	default:
		return false
	}
}

// TriggerOutput is the informational result of a trigger node.
type TriggerOutput struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// TokenUsage reports prompt and completion token counts for one generation.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// AgentOutput is the result of an agent node's generation call.
type AgentOutput struct {
	Response string        `json:"response"`
	Model    string        `json:"model"`
	Tokens   TokenUsage    `json:"tokens"`
	Duration time.Duration `json:"duration"`
}

// ConditionOutput is the placeholder result of a condition node. Branching is
// an extension point, not implemented.
type ConditionOutput struct {
	Condition bool   `json:"condition"`
	Message   string `json:"message"`
}

// ActionOutput is the placeholder result of an action node.
type ActionOutput struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// GenericOutput is the result of any node kind without a dedicated handler.
type GenericOutput struct {
	Message string   `json:"message"`
	Kind    NodeKind `json:"type"`
}
