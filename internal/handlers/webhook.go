package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/attemptlog"
	"github.com/shipmate/carrier-webhook-svc/internal/models"
	"github.com/shipmate/carrier-webhook-svc/internal/orders"
	"github.com/shipmate/carrier-webhook-svc/internal/processor"
	"github.com/shipmate/carrier-webhook-svc/internal/retryqueue"
	"github.com/shipmate/carrier-webhook-svc/internal/secrets"
	"github.com/shipmate/carrier-webhook-svc/internal/verifier"
)

// WebhookHandler is the synchronous receiver for carrier webhook
// deliveries: audit, validate, authenticate, apply, and queue a retry
// when processing fails. Only processing failures are retried;
// validation and authentication failures cannot become valid later.
type WebhookHandler struct {
	verifier  *verifier.Verifier
	attempts  *attemptlog.Log
	processor *processor.Processor
	queue     *retryqueue.Queue
	orders    orders.Store
	secrets   secrets.Store
	sigHeader string
	logger    *zap.Logger
}

func NewWebhookHandler(
	v *verifier.Verifier,
	attempts *attemptlog.Log,
	proc *processor.Processor,
	queue *retryqueue.Queue,
	orderStore orders.Store,
	secretStore secrets.Store,
	signatureHeader string,
	logger *zap.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:  v,
		attempts:  attempts,
		processor: proc,
		queue:     queue,
		orders:    orderStore,
		secrets:   secretStore,
		sigHeader: signatureHeader,
		logger:    logger,
	}
}

// Handle handles POST /webhook.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	start := time.Now()
	attemptID := uuid.NewString()

	// Fiber reuses its buffers after the handler returns; the payload
	// outlives the request inside the attempt log and the retry queue.
	rawBody := make([]byte, len(c.Body()))
	copy(rawBody, c.Body())

	h.logger.Info("webhook received",
		zap.String("attempt_id", attemptID),
		zap.Int("payload_length", len(rawBody)),
	)

	// Best-effort peek for the audit row; full validation follows.
	var probe struct {
		Event string `json:"event"`
		Data  struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	_ = json.Unmarshal(rawBody, &probe)

	var orderRef *int64
	if probe.Data.ID != "" {
		if ref, err := h.orders.FindByExternalID(c.UserContext(), probe.Data.ID); err == nil {
			orderRef = &ref
		}
	}

	if err := h.attempts.Begin(attemptID, orderRef, probe.Data.ID, probe.Event, rawBody); err != nil {
		h.logger.Error("failed to record webhook attempt",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
	}

	if !h.verifier.ValidatePayload(rawBody) {
		// Structurally invalid payloads cannot become valid on retry.
		return h.errorResponse(c, attemptID, fiber.StatusBadRequest, "invalid payload structure", start)
	}

	secret, ok := h.secrets.WebhookSecret()
	if !ok {
		// Operator misconfiguration, not transient; no retry.
		return h.errorResponse(c, attemptID, fiber.StatusInternalServerError, "webhook secret not configured", start)
	}

	if !h.verifier.VerifySignature(rawBody, c.Get(h.sigHeader), secret) {
		// Authentication failures are never queued.
		return h.errorResponse(c, attemptID, fiber.StatusUnauthorized, "invalid signature", start)
	}

	h.logger.Info("webhook signature verified",
		zap.String("attempt_id", attemptID),
	)

	event, err := models.ParseInboundEvent(rawBody)
	if err != nil {
		return h.errorResponse(c, attemptID, fiber.StatusBadRequest, err.Error(), start)
	}

	summary, procErr := h.processor.Process(c.UserContext(), event)
	if procErr != nil {
		if processor.Retryable(procErr) {
			var ref int64
			if orderRef != nil {
				ref = *orderRef
			}
			if qErr := h.queue.Enqueue(ref, event.Data.ID, string(event.Event), rawBody, procErr.Error()); qErr != nil {
				h.logger.Error("failed to queue webhook retry",
					zap.String("attempt_id", attemptID),
					zap.Error(qErr),
				)
			}
		} else {
			h.logger.Warn("non-retryable processing failure",
				zap.String("attempt_id", attemptID),
				zap.String("error", procErr.Error()),
			)
		}
		return h.errorResponse(c, attemptID, fiber.StatusInternalServerError, procErr.Error(), start)
	}

	response, _ := json.Marshal(summary)
	if err := h.attempts.CompleteSuccess(attemptID, string(response), time.Since(start)); err != nil {
		h.logger.Error("failed to finalize webhook attempt",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
	}

	return c.JSON(fiber.Map{
		"status":     "success",
		"message":    "webhook processed successfully",
		"attempt_id": attemptID,
		"summary":    summary,
	})
}

func (h *WebhookHandler) errorResponse(c *fiber.Ctx, attemptID string, statusCode int, message string, start time.Time) error {
	if err := h.attempts.CompleteError(attemptID, statusCode, message, time.Since(start)); err != nil {
		h.logger.Error("failed to finalize webhook attempt",
			zap.String("attempt_id", attemptID),
			zap.Error(err),
		)
	}

	h.logger.Warn("webhook rejected",
		zap.String("attempt_id", attemptID),
		zap.Int("status_code", statusCode),
		zap.String("message", message),
	)

	return c.Status(statusCode).JSON(fiber.Map{
		"status":     "error",
		"message":    message,
		"attempt_id": attemptID,
	})
}
