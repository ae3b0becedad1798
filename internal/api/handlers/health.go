package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"docsentry/internal/dto"
)

func Health(c *fiber.Ctx) error {
	return c.JSON(dto.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
