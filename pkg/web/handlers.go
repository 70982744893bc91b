// Package web provides the HTTP surface: run scheduling, cancellation,
// status, the SSE event stream and generation backend management.
package web

import (
	"encoding/json"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
	"github.com/weftflow/weft/pkg/runner"
	"github.com/weftflow/weft/pkg/sse"
)

// anonymousRecipient receives events for callers that do not identify
// themselves. Auth is an external collaborator.
const anonymousRecipient = "anonymous"

type APIHandlers struct {
	logger    *slog.Logger
	validator *validator.Validate
	runs      *runner.Runner
	broker    *sse.Broker
	client    *ollama.Client
}

func NewAPIHandlers(
	logger *slog.Logger,
	validator *validator.Validate,
	runs *runner.Runner,
	broker *sse.Broker,
	client *ollama.Client,
) *APIHandlers {
	return &APIHandlers{
		logger:    logger.With("module", "api_handlers"),
		validator: validator,
		runs:      runs,
		broker:    broker,
		client:    client,
	}
}

type executeRequest struct {
	Workflow    json.RawMessage `json:"workflow"`
	Context     map[string]any  `json:"context"`
	RecipientID string          `json:"recipientId"`
}

type cancelRequest struct {
	ExecutionID string `json:"executionId" validate:"required"`
}

// ExecuteWorkflow schedules one run and returns its execution id immediately.
// Events stream to the caller's recipient id over the SSE endpoint.
func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req executeRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if len(req.Workflow) == 0 {
		return badRequest(c, "workflow is required")
	}

	if err := validateGraphJSON(req.Workflow); err != nil {
		return badRequest(c, err.Error())
	}

	var graph models.WorkflowGraph
	if err := json.Unmarshal(req.Workflow, &graph); err != nil {
		return badRequest(c, "invalid workflow graph: "+err.Error())
	}

	recipientID := req.RecipientID
	if recipientID == "" {
		recipientID = anonymousRecipient
	}

	executionID, err := h.runs.Schedule(c.Context(), runner.RunRequest{
		Workflow:    graph,
		Context:     req.Context,
		RecipientID: recipientID,
	})
	if err != nil {
		return handleGraphError(c, err)
	}

	return c.JSON(fiber.Map{
		"executionId": executionID,
		"message":     "workflow execution started",
	})
}

// CancelExecution requests cooperative cancellation of an in-flight run.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	var req cancelRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if !h.runs.Cancel(req.ExecutionID) {
		return notFound(c, "execution not found or already completed")
	}

	return c.JSON(fiber.Map{
		"executionId": req.ExecutionID,
		"message":     "execution cancelled",
	})
}

// ExecutionStatus reports whether a run is still in flight and, if so, its
// lifecycle state.
func (h *APIHandlers) ExecutionStatus(c fiber.Ctx) error {
	executionID := c.Params("executionId")

	status, active := h.runs.Status(executionID)

	response := fiber.Map{
		"executionId": executionID,
		"isActive":    active,
	}
	if active {
		response["status"] = status
	}

	return c.JSON(response)
}

// HealthCheck reports process liveness and subscriber counts.
func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":           "ok",
		"activeExecutions": h.runs.ActiveCount(),
		"sseSubscribers":   h.broker.SubscriberCount(""),
	})
}
