package api

import (
	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docsentry/internal/api/handlers"
)

func SetupRouter(
	docHandler *handlers.DocumentHandler,
	anomalyHandler *handlers.AnomalyHandler,
	passHandler *handlers.PassHandler,
) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))
	app.Use(logger.New())

	app.Get("/health", handlers.Health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api")
	api.Get("/stats", docHandler.GetStats)
	api.Get("/documents", docHandler.ListDocuments)
	api.Get("/anomalies", anomalyHandler.ListAnomalies)
	api.Post("/anomalies/:id/resolve", anomalyHandler.ResolveAnomaly)

	// Manual pass triggers
	api.Post("/scan", passHandler.TriggerScan)
	api.Post("/sync", passHandler.TriggerSync)
	api.Post("/recheck", passHandler.TriggerRecheck)
	api.Post("/backfill", passHandler.TriggerBackfill)

	return app
}
