package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"docsentry/internal/dto"
	"docsentry/internal/models"
	"docsentry/internal/repository"
)

const maxAnomalyPageSize = 500

type anomalyStore interface {
	List(ctx context.Context, filter repository.AnomalyFilter) ([]*models.AnomalyLog, int64, error)
	Resolve(ctx context.Context, id int64, resolved bool) error
}

type AnomalyHandler struct {
	anomalies anomalyStore
	logger    *zap.Logger
}

func NewAnomalyHandler(anomalies anomalyStore, logger *zap.Logger) *AnomalyHandler {
	return &AnomalyHandler{
		anomalies: anomalies,
		logger:    logger,
	}
}

// ListAnomalies returns anomaly log rows matching the query filters, newest
// detection first.
func (h *AnomalyHandler) ListAnomalies(c *fiber.Ctx) error {
	filter := repository.AnomalyFilter{
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > maxAnomalyPageSize {
		filter.Limit = maxAnomalyPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if v := c.Query("anomaly_type"); v != "" {
		t := models.AnomalyType(v)
		filter.Type = &t
	}
	if v := c.Query("severity"); v != "" {
		s := models.Severity(v)
		filter.Severity = &s
	}
	if v := c.Query("resolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": fmt.Sprintf("invalid resolved: %q", v),
			})
		}
		filter.Resolved = &b
	}

	logs, total, err := h.anomalies.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list anomalies", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list anomalies",
		})
	}

	results := make([]dto.AnomalyResponse, 0, len(logs))
	for _, log := range logs {
		results = append(results, dto.AnomalyResponse{
			ID:             log.ID,
			PaperlessDocID: log.PaperlessDocID,
			DetectedAt:     log.DetectedAt.UTC().Format(time.RFC3339),
			AnomalyType:    string(log.Type),
			Severity:       string(log.Severity),
			Description:    log.Description,
			Amount:         log.Amount,
			Resolved:       log.Resolved,
		})
	}

	return c.JSON(dto.AnomalyListResponse{
		Total:   total,
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		Results: results,
	})
}

// ResolveAnomaly flips one anomaly's resolved flag. Without a body the
// anomaly is marked resolved.
func (h *AnomalyHandler) ResolveAnomaly(c *fiber.Ctx) error {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid anomaly ID",
		})
	}

	resolved := true
	if len(c.Body()) > 0 {
		var req dto.ResolveRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid request body",
			})
		}
		if req.Resolved != nil {
			resolved = *req.Resolved
		}
	}

	if err := h.anomalies.Resolve(c.Context(), id, resolved); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "Anomaly not found",
			})
		}
		h.logger.Error("Failed to update anomaly", zap.Error(err), zap.Int64("id", id))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update anomaly",
		})
	}

	return c.JSON(fiber.Map{
		"id":       id,
		"resolved": resolved,
	})
}
