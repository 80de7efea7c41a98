package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/shipmate/carrier-webhook-svc/internal/database"
	"github.com/shipmate/carrier-webhook-svc/internal/rabbitmq"
)

// HealthHandler reports the health of the service dependencies.
type HealthHandler struct {
	db     *gorm.DB
	rabbit *rabbitmq.Connection // nil when the notifier is disabled
}

func NewHealthHandler(db *gorm.DB, rabbit *rabbitmq.Connection) *HealthHandler {
	return &HealthHandler{
		db:     db,
		rabbit: rabbit,
	}
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// HealthCheck handles the health check endpoint
func (h *HealthHandler) HealthCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	services := make(map[string]string)
	status := "healthy"

	if err := database.HealthCheck(ctx, h.db); err != nil {
		services["database"] = "unhealthy: " + err.Error()
		status = "unhealthy"
	} else {
		services["database"] = "healthy"
	}

	switch {
	case h.rabbit == nil:
		services["rabbitmq"] = "disabled"
	case !h.rabbit.IsHealthy():
		services["rabbitmq"] = "unhealthy: connection closed"
		status = "unhealthy"
	default:
		services["rabbitmq"] = "healthy"
	}

	response := HealthResponse{
		Status:    status,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Services:  services,
	}

	if status == "unhealthy" {
		return c.Status(fiber.StatusServiceUnavailable).JSON(response)
	}

	return c.JSON(response)
}
