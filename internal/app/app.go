// Package app assembles the fiber application.
package app

import (
	"github.com/gofiber/fiber/v2"

	"github.com/docuflow/docuflow/internal/api/v1/handlers"
	"github.com/docuflow/docuflow/internal/api/v1/middleware"
	v1 "github.com/docuflow/docuflow/internal/api/v1/routes"
	"github.com/docuflow/docuflow/internal/config"
	"github.com/docuflow/docuflow/internal/governor"
	"github.com/docuflow/docuflow/internal/pipeline"
	"github.com/docuflow/docuflow/internal/registry"
)

// Deps are the constructed collaborators the HTTP layer serves.
type Deps struct {
	Settings *config.Store
	Registry *registry.Registry
	Pipeline *pipeline.Orchestrator
	Governor *governor.Governor
}

// NewApp builds the fiber app with middleware, health check and v1 routes.
func NewApp(deps Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: errorHandler,
	})

	app.Use(middleware.Logger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})

	v1.Register(app,
		handlers.NewJobHandler(deps.Pipeline, deps.Registry),
		handlers.NewConfigHandler(deps.Settings, deps.Governor),
	)
	return app
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
