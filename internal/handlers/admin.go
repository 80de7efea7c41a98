package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/attemptlog"
	"github.com/shipmate/carrier-webhook-svc/internal/config"
	"github.com/shipmate/carrier-webhook-svc/internal/retryqueue"
	"github.com/shipmate/carrier-webhook-svc/internal/scheduler"
)

// statsWindow bounds the retry statistics shown to operators.
const statsWindow = 30 * 24 * time.Hour

// AdminHandler exposes the operator surface: retry-queue inspection,
// statistics, a manual scheduler trigger, per-order cancellation and
// audit-log housekeeping.
type AdminHandler struct {
	queue     *retryqueue.Queue
	attempts  *attemptlog.Log
	scheduler *scheduler.Scheduler
	retryCfg  config.RetryConfig
	logger    *zap.Logger
}

func NewAdminHandler(
	queue *retryqueue.Queue,
	attempts *attemptlog.Log,
	sched *scheduler.Scheduler,
	retryCfg config.RetryConfig,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		queue:     queue,
		attempts:  attempts,
		scheduler: sched,
		retryCfg:  retryCfg,
		logger:    logger,
	}
}

// GetRetries handles GET /admin/retries.
func (h *AdminHandler) GetRetries(c *fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"), 50)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be a positive integer",
		})
	}

	records, err := h.queue.Recent(limit)
	if err != nil {
		h.logger.Error("failed to load retry records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch retries",
		})
	}

	return c.JSON(fiber.Map{"retries": records})
}

// GetRetryStats handles GET /admin/retries/stats.
func (h *AdminHandler) GetRetryStats(c *fiber.Ctx) error {
	stats, err := h.queue.StatsSince(statsWindow)
	if err != nil {
		h.logger.Error("failed to aggregate retry stats", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch retry stats",
		})
	}

	return c.JSON(stats)
}

// ProcessRetries handles POST /admin/retries/process, the manual
// scheduler trigger.
func (h *AdminHandler) ProcessRetries(c *fiber.Ctx) error {
	h.logger.Info("manual retry processing triggered")

	processed, err := h.scheduler.RunOnce(c.UserContext())
	if err != nil {
		h.logger.Error("manual retry processing failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "retry processing failed",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "ok",
		"processed": processed,
	})
}

// CancelOrderRetries handles DELETE /admin/orders/:order_ref/retries,
// used when an order is deleted or voided.
func (h *AdminHandler) CancelOrderRetries(c *fiber.Ctx) error {
	orderRef, err := strconv.ParseInt(c.Params("order_ref"), 10, 64)
	if err != nil || orderRef <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "order_ref must be a positive integer",
		})
	}

	cancelled, err := h.queue.CancelForOrder(orderRef)
	if err != nil {
		h.logger.Error("failed to cancel retries",
			zap.Int64("order_ref", orderRef),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to cancel retries",
		})
	}

	return c.JSON(fiber.Map{
		"status":    "ok",
		"cancelled": cancelled,
	})
}

// GetAttempts handles GET /admin/attempts.
func (h *AdminHandler) GetAttempts(c *fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"), 50)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "limit must be a positive integer",
		})
	}

	records, err := h.attempts.Recent(limit)
	if err != nil {
		h.logger.Error("failed to load attempt records", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to fetch attempts",
		})
	}

	return c.JSON(fiber.Map{"attempts": records})
}

// ClearOldRecords handles DELETE /admin/logs: drop attempt records and
// terminal retry records outside their retention windows.
func (h *AdminHandler) ClearOldRecords(c *fiber.Ctx) error {
	attemptsPurged, err := h.attempts.PurgeOlderThan(h.retryCfg.LogRetention)
	if err != nil {
		h.logger.Error("failed to purge attempt log", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to purge attempt log",
		})
	}

	retriesPurged, err := h.queue.PurgeStale(h.retryCfg.QueueRetention)
	if err != nil {
		h.logger.Error("failed to purge retry queue", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to purge retry queue",
		})
	}

	return c.JSON(fiber.Map{
		"status":          "ok",
		"attempts_purged": attemptsPurged,
		"retries_purged":  retriesPurged,
	})
}

func parseLimit(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fiber.ErrBadRequest
	}
	return limit, nil
}
