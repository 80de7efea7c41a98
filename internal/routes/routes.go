package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/shipmate/carrier-webhook-svc/internal/handlers"
)

// SetupRoutes configures all application routes with dependencies
func SetupRoutes(
	app *fiber.App,
	webhook *handlers.WebhookHandler,
	admin *handlers.AdminHandler,
	health *handlers.HealthHandler,
) {
	app.Get("/health", health.HealthCheck)

	// Carrier-facing ingestion endpoint
	app.Post("/webhook", webhook.Handle)

	// Operator surface
	adminGroup := app.Group("/admin")
	{
		adminGroup.Get("/retries", admin.GetRetries)
		adminGroup.Get("/retries/stats", admin.GetRetryStats)
		adminGroup.Post("/retries/process", admin.ProcessRetries)
		adminGroup.Delete("/orders/:order_ref/retries", admin.CancelOrderRetries)
		adminGroup.Get("/attempts", admin.GetAttempts)
		adminGroup.Delete("/logs", admin.ClearOldRecords)
	}
}
