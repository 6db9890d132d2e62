// Package routes registers the versioned API routes.
package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/docuflow/docuflow/internal/api/v1/handlers"
)

// SetupRoutes configures all the v1 routes
func SetupRoutes(router fiber.Router, jobs *handlers.JobHandler, cfg *handlers.ConfigHandler) {
	jobGroup := router.Group("/jobs")
	jobGroup.Post("/", jobs.SubmitJob)
	jobGroup.Get("/", jobs.ListJobs)
	jobGroup.Get("/:id", jobs.GetJob)
	jobGroup.Delete("/:id", jobs.CancelJob)

	cfgGroup := router.Group("/config")
	cfgGroup.Get("/", cfg.GetConfig)
	cfgGroup.Put("/", cfg.UpdateConfig)
}

// Register registers the v1 routes
func Register(app *fiber.App, jobs *handlers.JobHandler, cfg *handlers.ConfigHandler) {
	v1Group := app.Group("/api/v1")
	SetupRoutes(v1Group, jobs, cfg)
}
