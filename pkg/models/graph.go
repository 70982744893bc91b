// Package models defines the core domain models for node-based workflow execution.
package models

import (
	"errors"
	"fmt"
)

// NodeKind classifies a workflow node and decides which phase of a run it
// executes in: triggers first, agents concurrently, everything else last.
type NodeKind string

const (
	NodeKindTrigger   NodeKind = "trigger"
	NodeKindAgent     NodeKind = "agent"
	NodeKindCondition NodeKind = "condition"
	NodeKindAction    NodeKind = "action"
	NodeKindTransform NodeKind = "transform"
	NodeKindOther     NodeKind = "other"
)

// TriggerKind describes how a run was started. It only affects the trigger
// node's informational output.
type TriggerKind string

const (
	TriggerKindManual   TriggerKind = "manual"
	TriggerKindSchedule TriggerKind = "schedule"
	TriggerKindWebhook  TriggerKind = "webhook"
)

// Position is the node's placement in the graph editor. Opaque to the engine.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// AgentConfig holds the generation parameters for an agent node. Zero values
// fall back to engine defaults at dispatch time.
type AgentConfig struct {
	Model        string  `json:"model,omitempty"`
	SystemPrompt string  `json:"systemPrompt,omitempty"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"maxTokens,omitempty"`
}

// NodeData carries the kind-dependent payload of a node. Trigger nodes use
// TriggerKind, agent nodes use Prompt/Config/AgentID, the rest use
// Label/Description only.
type NodeData struct {
	Label       string      `json:"label,omitempty"`
	Description string      `json:"description,omitempty"`
	TriggerKind TriggerKind `json:"triggerKind,omitempty"`
	Prompt      string      `json:"prompt,omitempty"`
	Config      AgentConfig `json:"config,omitempty"`
	AgentID     string      `json:"agentId,omitempty"`
}

// Node is one unit of work in a workflow graph.
type Node struct {
	ID       string   `json:"id"       validate:"required"`
	Kind     NodeKind `json:"kind"     validate:"required"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// Name returns the human-readable label for events, falling back to the id.
func (n *Node) Name() string {
	if n.Data.Label != "" {
		return n.Data.Label
	}

	return n.ID
}

// Edge connects two nodes. Edges are carried through for the caller's benefit
// (UI layout, a future topological scheduler) and never consulted to order
// execution.
type Edge struct {
	ID     string         `json:"id"`
	Source string         `json:"source" validate:"required"`
	Target string         `json:"target" validate:"required"`
	Kind   string         `json:"kind,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// WorkflowGraph is the immutable input to one execution run.
type WorkflowGraph struct {
	Nodes []Node `json:"nodes" validate:"required,min=1,dive"`
	Edges []Edge `json:"edges" validate:"dive"`
}

// ErrInvalidGraph is the sentinel wrapped by every graph validation failure.
var ErrInvalidGraph = errors.New("invalid workflow graph")

// Validate rejects graphs the engine cannot run: duplicate node ids, nodes
// without a kind, agent nodes with nothing to build a prompt from, and edges
// referencing unknown nodes.
func (g *WorkflowGraph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrInvalidGraph)
	}

	seen := make(map[string]struct{}, len(g.Nodes))

	for _, node := range g.Nodes {
		if node.ID == "" {
			return fmt.Errorf("%w: node with empty id", ErrInvalidGraph)
		}

		if _, dup := seen[node.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %q", ErrInvalidGraph, node.ID)
		}

		seen[node.ID] = struct{}{}

		if node.Kind == "" {
			return fmt.Errorf("%w: node %q has no kind", ErrInvalidGraph, node.ID)
		}

		if node.Kind == NodeKindAgent && node.Data.Prompt == "" &&
			node.Data.Description == "" && node.Data.Label == "" {
			return fmt.Errorf(
				"%w: agent node %q has no prompt, description or label",
				ErrInvalidGraph, node.ID)
		}
	}

	for _, edge := range g.Edges {
		if _, ok := seen[edge.Source]; !ok {
			return fmt.Errorf("%w: edge %q references unknown source node %q",
				ErrInvalidGraph, edge.ID, edge.Source)
		}

		if _, ok := seen[edge.Target]; !ok {
			return fmt.Errorf("%w: edge %q references unknown target node %q",
				ErrInvalidGraph, edge.ID, edge.Target)
		}
	}

	return nil
}

// NodesByKind partitions nodes into the three execution phases, preserving
// declaration order within each.
func (g *WorkflowGraph) NodesByKind() (triggers, agents, others []Node) {
	for _, node := range g.Nodes {
		switch node.Kind {
		case NodeKindTrigger:
			triggers = append(triggers, node)
		case NodeKindAgent:
			agents = append(agents, node)
		default:
			others = append(others, node)
		}
	}

	return triggers, agents, others
}
