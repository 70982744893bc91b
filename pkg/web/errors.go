package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/weftflow/weft/pkg/models"
	"github.com/weftflow/weft/pkg/ollama"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleBackendError maps generation client failures onto problem responses:
// backend-reported errors pass their status through, transport failures
// become 502.
func handleBackendError(c fiber.Ctx, err error) error {
	var genErr *ollama.GenerationError
	if errors.As(err, &genErr) {
		problem := problems.NewStatusProblem(genErr.Status).
			WithInstance(c.Path()).
			WithType("generation_failed").
			WithDetail(genErr.Message)

		return c.Status(genErr.Status).JSON(problem)
	}

	if errors.Is(err, ollama.ErrBackendUnavailable) {
		problem := problems.NewStatusProblem(502).
			WithInstance(c.Path()).
			WithType("backend_unavailable").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadGateway).JSON(problem)
	}

	return internalError(c, err)
}

// handleGraphError distinguishes malformed input from everything else.
func handleGraphError(c fiber.Ctx, err error) error {
	if errors.Is(err, models.ErrInvalidGraph) {
		return badRequest(c, err.Error())
	}

	return internalError(c, err)
}
