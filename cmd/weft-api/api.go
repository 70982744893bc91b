// Package main provides the weft API server implementation.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/weftflow/weft/pkg/eventbus"
	"github.com/weftflow/weft/pkg/ollama"
	"github.com/weftflow/weft/pkg/runner"
	"github.com/weftflow/weft/pkg/sse"
	"github.com/weftflow/weft/pkg/web"
)

type API struct {
	logger   *slog.Logger
	runs     *runner.Runner
	broker   *sse.Broker
	bus      eventbus.EventBus
	client   *ollama.Client
	validate *validator.Validate
}

func NewAPI(
	logger *slog.Logger,
	runs *runner.Runner,
	broker *sse.Broker,
	bus eventbus.EventBus,
	client *ollama.Client,
) *API {
	return &API{
		logger:   logger,
		runs:     runs,
		broker:   broker,
		bus:      bus,
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (a *API) App() *fiber.App {
	handlers := web.NewAPIHandlers(
		a.logger,
		a.validate,
		a.runs,
		a.broker,
		a.client,
	)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("Weft API")
	})

	w := app.Group("/workflows")
	w.Post("/execute", handlers.ExecuteWorkflow)
	w.Post("/cancel", handlers.CancelExecution)
	w.Get("/status/:executionId", handlers.ExecutionStatus)

	app.Get("/events", handlers.StreamEvents)

	o := app.Group("/ollama")
	o.Get("/models", handlers.ListModels)
	o.Get("/models/:modelName", handlers.ShowModel)
	o.Get("/models/:modelName/exists", handlers.ModelExists)
	o.Post("/models/:modelName/pull", handlers.PullModel)
	o.Delete("/models/:modelName", handlers.DeleteModel)
	o.Post("/generate", handlers.Generate)
	o.Post("/chat", handlers.Chat)
	o.Post("/generate/stream", handlers.GenerateStream)
	o.Post("/chat/stream", handlers.ChatStream)

	app.Get("/health", handlers.HealthCheck)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	go a.broker.Run(ctx)

	forwarder := eventbus.NewForwarder(a.bus, a.broker, a.logger)
	if err := forwarder.Start(ctx); err != nil {
		return err
	}

	return a.App().Listen(":" + strconv.Itoa(port))
}
