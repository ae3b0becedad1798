package handlers

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"docsentry/internal/dto"
	"docsentry/internal/models"
	"docsentry/internal/repository"
)

const maxDocumentPageSize = 1000

type documentStore interface {
	List(ctx context.Context, filter repository.DocumentFilter) ([]*models.ProcessedDocument, int64, error)
	Stats(ctx context.Context) (*models.DashboardStats, error)
}

type anomalyTypeIndex interface {
	TypesByDocument(ctx context.Context) (map[int64][]models.AnomalyType, error)
}

type remoteLinks interface {
	DocumentURL(docID int64) string
}

type DocumentHandler struct {
	docs      documentStore
	anomalies anomalyTypeIndex
	links     remoteLinks
	logger    *zap.Logger
}

func NewDocumentHandler(docs documentStore, anomalies anomalyTypeIndex, links remoteLinks, logger *zap.Logger) *DocumentHandler {
	return &DocumentHandler{
		docs:      docs,
		anomalies: anomalies,
		links:     links,
		logger:    logger,
	}
}

// GetStats returns the aggregated detection state for the dashboard.
func (h *DocumentHandler) GetStats(c *fiber.Ctx) error {
	stats, err := h.docs.Stats(c.Context())
	if err != nil {
		h.logger.Error("Failed to aggregate stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to aggregate stats",
		})
	}

	return c.JSON(stats)
}

// ListDocuments returns processed documents matching the query filters,
// newest pass first.
func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	filter, err := parseDocumentFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	docs, total, err := h.docs.List(c.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	typesByDoc, err := h.anomalies.TypesByDocument(c.Context())
	if err != nil {
		h.logger.Error("Failed to load anomaly types", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	results := make([]dto.DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		results = append(results, toDocumentResponse(
			doc,
			typesByDoc[doc.PaperlessDocID],
			h.links.DocumentURL(doc.PaperlessDocID),
		))
	}

	return c.JSON(dto.DocumentListResponse{
		Total:   total,
		Offset:  filter.Offset,
		Limit:   filter.Limit,
		Results: results,
	})
}

func parseDocumentFilter(c *fiber.Ctx) (repository.DocumentFilter, error) {
	filter := repository.DocumentFilter{
		Limit:  c.QueryInt("limit", 100),
		Offset: c.QueryInt("offset", 0),
	}
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	if filter.Limit > maxDocumentPageSize {
		filter.Limit = maxDocumentPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	if v := c.Query("has_anomalies"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid has_anomalies: %q", v)
		}
		filter.HasAnomalies = &b
	}
	if v := c.Query("anomaly_type"); v != "" {
		t := models.AnomalyType(v)
		filter.AnomalyType = &t
	}
	if v := c.Query("document_type"); v != "" {
		t := models.DocumentType(v)
		filter.DocumentType = &t
	}
	if v := c.Query("balance_status"); v != "" {
		s := models.BalanceStatus(v)
		filter.BalanceStatus = &s
	}
	if v := c.Query("min_amount"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid min_amount: %q", v)
		}
		filter.MinAmount = &f
	}
	if v := c.Query("max_amount"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid max_amount: %q", v)
		}
		filter.MaxAmount = &f
	}
	if v := c.Query("date_from"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, fmt.Errorf("invalid date_from: %q, want YYYY-MM-DD", v)
		}
		filter.DateFrom = &t
	}
	if v := c.Query("date_to"); v != "" {
		t, err := time.Parse("2006-01-02", v)
		if err != nil {
			return filter, fmt.Errorf("invalid date_to: %q, want YYYY-MM-DD", v)
		}
		filter.DateTo = &t
	}

	return filter, nil
}

func toDocumentResponse(doc *models.ProcessedDocument, types []models.AnomalyType, url string) dto.DocumentResponse {
	resp := dto.DocumentResponse{
		ID:               doc.ID,
		PaperlessDocID:   doc.PaperlessDocID,
		Title:            doc.Title,
		DocumentType:     string(doc.DocumentType),
		CreatedDate:      formatTimePtr(doc.CreatedDate),
		ProcessedAt:      doc.ProcessedAt.UTC().Format(time.RFC3339),
		RemoteModified:   formatTimePtr(doc.RemoteModified),
		HasAnomalies:     doc.HasAnomalies,
		AnomalyTypes:     make([]string, 0, len(types)),
		BalanceStatus:    string(doc.BalanceStatus),
		BalanceDiff:      doc.BalanceDiff,
		BeginningBalance: doc.BeginningBalance,
		EndingBalance:    doc.EndingBalance,
		TotalCredits:     doc.TotalCredits,
		TotalDebits:      doc.TotalDebits,
		LayoutScore:      doc.LayoutScore,
		LayoutIssues:     make([]dto.LayoutIssueResponse, 0, len(doc.LayoutIssues)),
		Narrative:        doc.Narrative,
		PaperlessURL:     url,
	}

	for _, t := range types {
		resp.AnomalyTypes = append(resp.AnomalyTypes, string(t))
	}
	for _, issue := range doc.LayoutIssues {
		resp.LayoutIssues = append(resp.LayoutIssues, dto.LayoutIssueResponse{
			Line:   issue.Line,
			Sample: issue.Sample,
			Issue:  issue.Issue,
		})
	}

	return resp
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
