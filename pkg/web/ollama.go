package web

import (
	"bufio"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v3"

	"github.com/weftflow/weft/pkg/ollama"
)

// ListModels returns the models installed on the generation backend.
func (h *APIHandlers) ListModels(c fiber.Ctx) error {
	models, err := h.client.ListModels(c.Context())
	if err != nil {
		return handleBackendError(c, err)
	}

	return c.JSON(fiber.Map{"models": models})
}

// ShowModel returns backend-defined metadata for one model.
func (h *APIHandlers) ShowModel(c fiber.Ctx) error {
	name := c.Params("modelName")

	info, err := h.client.ShowModel(c.Context(), name)
	if err != nil {
		return handleBackendError(c, err)
	}

	return c.JSON(info)
}

// ModelExists reports whether the backend has the named model installed.
func (h *APIHandlers) ModelExists(c fiber.Ctx) error {
	name := c.Params("modelName")

	return c.JSON(fiber.Map{
		"model":  name,
		"exists": h.client.HasModel(c.Context(), name),
	})
}

// PullModel downloads a model, returning once the pull settles. Progress
// records are collected rather than streamed; pulls are an operator action.
func (h *APIHandlers) PullModel(c fiber.Ctx) error {
	name := c.Params("modelName")

	var progress []ollama.PullProgress

	err := h.client.PullModel(c.Context(), name, func(p ollama.PullProgress) {
		progress = append(progress, p)
	})
	if err != nil {
		return handleBackendError(c, err)
	}

	return c.JSON(fiber.Map{
		"message":  fmt.Sprintf("model %s pulled successfully", name),
		"progress": progress,
	})
}

// DeleteModel removes a model from the backend.
func (h *APIHandlers) DeleteModel(c fiber.Ctx) error {
	name := c.Params("modelName")

	if err := h.client.DeleteModel(c.Context(), name); err != nil {
		return handleBackendError(c, err)
	}

	return c.JSON(fiber.Map{
		"message": fmt.Sprintf("model %s deleted", name),
	})
}

// Generate proxies a single non-streaming completion call.
func (h *APIHandlers) Generate(c fiber.Ctx) error {
	var opts ollama.GenerateOptions
	if err := c.Bind().JSON(&opts); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	response, err := h.client.Generate(c.Context(), opts)
	if err != nil {
		return handleBackendError(c, err)
	}

	return c.JSON(response)
}

// Chat proxies a single non-streaming chat completion call.
func (h *APIHandlers) Chat(c fiber.Ctx) error {
	var opts ollama.ChatOptions
	if err := c.Bind().JSON(&opts); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	response, err := h.client.Chat(c.Context(), opts)
	if err != nil {
		return handleBackendError(c, err)
	}

	return c.JSON(response)
}

// GenerateStream proxies a streaming completion call as SSE frames, closing
// with a final done frame.
func (h *APIHandlers) GenerateStream(c fiber.Ctx) error {
	var opts ollama.GenerateOptions
	if err := c.Bind().JSON(&opts); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	setStreamHeaders(c)

	ctx := c.Context()

	return c.SendStreamWriter(func(w *bufio.Writer) {
		err := h.client.GenerateStream(ctx, opts, func(chunk ollama.GenerateResponse) error {
			return writeStreamFrame(w, chunk)
		})

		finishStream(w, err)
	})
}

// ChatStream proxies a streaming chat completion call as SSE frames.
func (h *APIHandlers) ChatStream(c fiber.Ctx) error {
	var opts ollama.ChatOptions
	if err := c.Bind().JSON(&opts); err != nil {
		return badRequest(c, "invalid request body: "+err.Error())
	}

	setStreamHeaders(c)

	ctx := c.Context()

	return c.SendStreamWriter(func(w *bufio.Writer) {
		err := h.client.ChatStream(ctx, opts, func(chunk ollama.ChatResponse) error {
			return writeStreamFrame(w, chunk)
		})

		finishStream(w, err)
	})
}

func setStreamHeaders(c fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
}

func writeStreamFrame(w *bufio.Writer, chunk any) error {
	encoded, err := json.Marshal(chunk)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", encoded); err != nil {
		return err
	}

	return w.Flush()
}

// finishStream closes the SSE stream with either a done frame or an error
// frame. By this point headers are already on the wire, so errors cannot
// become problem responses.
func finishStream(w *bufio.Writer, err error) {
	if err != nil {
		_ = writeStreamFrame(w, fiber.Map{"error": err.Error()})

		return
	}

	_ = writeStreamFrame(w, fiber.Map{"done": true})
}
