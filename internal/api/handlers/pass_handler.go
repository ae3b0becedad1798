package handlers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"docsentry/internal/dto"
	"docsentry/internal/service"
)

type passRunner interface {
	Busy() bool
	ScanNew(ctx context.Context) (service.Stats, error)
	SyncTags(ctx context.Context) (service.Stats, error)
	RecheckModified(ctx context.Context) (service.Stats, error)
	Backfill(ctx context.Context) (service.Stats, error)
}

// PassHandler exposes the reconciliation entry points as fire-and-forget
// triggers. Passes run on baseCtx so they outlive the HTTP request and stop
// only on process shutdown.
type PassHandler struct {
	baseCtx    context.Context
	reconciler passRunner
	logger     *zap.Logger
}

func NewPassHandler(baseCtx context.Context, reconciler passRunner, logger *zap.Logger) *PassHandler {
	return &PassHandler{
		baseCtx:    baseCtx,
		reconciler: reconciler,
		logger:     logger,
	}
}

func (h *PassHandler) TriggerScan(c *fiber.Ctx) error {
	return h.trigger(c, "scan", h.reconciler.ScanNew)
}

func (h *PassHandler) TriggerSync(c *fiber.Ctx) error {
	return h.trigger(c, "tag sync", h.reconciler.SyncTags)
}

func (h *PassHandler) TriggerRecheck(c *fiber.Ctx) error {
	return h.trigger(c, "recheck", h.reconciler.RecheckModified)
}

func (h *PassHandler) TriggerBackfill(c *fiber.Ctx) error {
	return h.trigger(c, "backfill", h.reconciler.Backfill)
}

func (h *PassHandler) trigger(c *fiber.Ctx, pass string, run func(context.Context) (service.Stats, error)) error {
	if h.reconciler.Busy() {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a reconciliation pass is already running",
		})
	}

	go func() {
		// Completion and failure are logged by the pass itself; only the
		// lost race to the pass lock needs reporting here.
		if _, err := run(h.baseCtx); errors.Is(err, service.ErrPassActive) {
			h.logger.Info("trigger ignored, pass already running", zap.String("pass", pass))
		}
	}()

	return c.Status(fiber.StatusAccepted).JSON(dto.TriggerResponse{
		Status:  "triggered",
		Message: pass + " pass started",
	})
}
