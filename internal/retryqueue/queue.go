package retryqueue

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shipmate/carrier-webhook-svc/internal/models"
)

// Queue is the durable retry queue for failed processing attempts.
// Each record is a small state machine: pending until it completes,
// permanently fails or is cancelled; every transition out of pending
// is guarded by an atomic claim on (status, retry_count).
type Queue struct {
	db         *gorm.DB
	logger     *zap.Logger
	maxRetries int
	baseDelay  time.Duration
	nowFunc    func() time.Time
}

type Option func(*Queue)

// WithClock overrides the clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.nowFunc = now
	}
}

func New(db *gorm.DB, logger *zap.Logger, maxRetries int, baseDelay time.Duration, opts ...Option) *Queue {
	q := &Queue{
		db:         db,
		logger:     logger,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		nowFunc:    time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue inserts a pending retry record, unless one already exists for
// the same (external_id, event_type) pair. The first attempt is scheduled
// one base delay from now.
func (q *Queue) Enqueue(orderRef int64, externalID string, eventType string, payload []byte, reason string) error {
	var count int64
	err := q.db.Model(&models.RetryRecord{}).
		Where("external_id = ? AND event_type = ? AND status = ?",
			externalID, eventType, models.RetryStatusPending).
		Count(&count).Error
	if err != nil {
		return fmt.Errorf("failed to check for queued retry: %w", err)
	}
	if count > 0 {
		q.logger.Info("retry already queued",
			zap.String("external_id", externalID),
			zap.String("event_type", eventType),
		)
		return nil
	}

	now := q.nowFunc()
	record := models.RetryRecord{
		OrderRef:     orderRef,
		ExternalID:   externalID,
		EventType:    eventType,
		Payload:      string(payload),
		RetryCount:   0,
		MaxRetries:   q.maxRetries,
		NextRetryAt:  now.Add(q.baseDelay),
		Status:       models.RetryStatusPending,
		ErrorMessage: &reason,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := q.db.Create(&record).Error; err != nil {
		// The partial unique index backstops the check above under
		// concurrent enqueues for the same pair.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			q.logger.Info("retry already queued",
				zap.String("external_id", externalID),
				zap.String("event_type", eventType),
			)
			return nil
		}
		return fmt.Errorf("failed to queue retry: %w", err)
	}

	q.logger.Info("webhook queued for retry",
		zap.String("external_id", externalID),
		zap.String("event_type", eventType),
		zap.Time("next_retry_at", record.NextRetryAt),
	)
	return nil
}

// DueItems returns pending records whose next attempt is due and whose
// retries are not exhausted, oldest-created first, capped at limit to
// bound per-cycle work.
func (q *Queue) DueItems(limit int) ([]models.RetryRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	var records []models.RetryRecord
	err := q.db.
		Where("status = ? AND next_retry_at <= ? AND retry_count < max_retries",
			models.RetryStatusPending, q.nowFunc()).
		Order("created_at ASC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load due retries: %w", err)
	}
	return records, nil
}

// RecordResult advances a record after a retry attempt. The update only
// lands if the record is still pending with the retry count the caller
// read, so overlapping scheduler runs cannot double-advance an item.
func (q *Queue) RecordResult(item *models.RetryRecord, procErr error) error {
	now := q.nowFunc()
	newCount := item.RetryCount + 1

	var updates map[string]interface{}
	switch {
	case procErr == nil:
		updates = map[string]interface{}{
			"status":        models.RetryStatusCompleted,
			"retry_count":   newCount,
			"error_message": nil,
			"updated_at":    now,
		}
	case newCount >= item.MaxRetries:
		updates = map[string]interface{}{
			"status":        models.RetryStatusFailed,
			"retry_count":   newCount,
			"error_message": procErr.Error(),
			"updated_at":    now,
		}
	default:
		updates = map[string]interface{}{
			"retry_count":   newCount,
			"next_retry_at": now.Add(BackoffDelay(q.baseDelay, newCount)),
			"error_message": procErr.Error(),
			"updated_at":    now,
		}
	}

	result := q.db.Model(&models.RetryRecord{}).
		Where("id = ? AND status = ? AND retry_count = ?",
			item.ID, models.RetryStatusPending, item.RetryCount).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to record retry result: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		q.logger.Warn("retry record claimed elsewhere, skipping update",
			zap.Int64("id", item.ID),
			zap.Int("retry_count", item.RetryCount),
		)
		return nil
	}

	switch {
	case procErr == nil:
		q.logger.Info("retry succeeded",
			zap.String("external_id", item.ExternalID),
			zap.String("event_type", item.EventType),
			zap.Int("retry_count", newCount),
		)
	case newCount >= item.MaxRetries:
		q.logger.Warn("retry permanently failed",
			zap.String("external_id", item.ExternalID),
			zap.String("event_type", item.EventType),
			zap.Int("retry_count", newCount),
			zap.String("error", procErr.Error()),
		)
	default:
		q.logger.Info("retry rescheduled",
			zap.String("external_id", item.ExternalID),
			zap.String("event_type", item.EventType),
			zap.Int("retry_count", newCount),
			zap.Duration("backoff", BackoffDelay(q.baseDelay, newCount)),
		)
	}
	return nil
}

// MarkPermanentlyFailed moves a pending record straight to failed,
// bypassing remaining retries. Used for failures that can never succeed,
// such as an unsupported event type in a stored payload.
func (q *Queue) MarkPermanentlyFailed(item *models.RetryRecord, reason string) error {
	now := q.nowFunc()

	result := q.db.Model(&models.RetryRecord{}).
		Where("id = ? AND status = ? AND retry_count = ?",
			item.ID, models.RetryStatusPending, item.RetryCount).
		Updates(map[string]interface{}{
			"status":        models.RetryStatusFailed,
			"retry_count":   item.RetryCount + 1,
			"error_message": reason,
			"updated_at":    now,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark retry as failed: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		q.logger.Warn("retry marked permanently failed",
			zap.String("external_id", item.ExternalID),
			zap.String("event_type", item.EventType),
			zap.String("reason", reason),
		)
	}
	return nil
}

// CancelForOrder cancels all pending retries for an order, e.g. when the
// order is deleted or voided.
func (q *Queue) CancelForOrder(orderRef int64) (int64, error) {
	result := q.db.Model(&models.RetryRecord{}).
		Where("order_ref = ? AND status = ?", orderRef, models.RetryStatusPending).
		Updates(map[string]interface{}{
			"status":     models.RetryStatusCancelled,
			"updated_at": q.nowFunc(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to cancel retries for order: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		q.logger.Info("cancelled pending retries for order",
			zap.Int64("order_ref", orderRef),
			zap.Int64("cancelled", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}

// PurgeStale deletes terminal records older than the retention window.
func (q *Queue) PurgeStale(retention time.Duration) (int64, error) {
	cutoff := q.nowFunc().Add(-retention)

	result := q.db.
		Where("status IN ? AND updated_at < ?",
			[]string{models.RetryStatusCompleted, models.RetryStatusFailed}, cutoff).
		Delete(&models.RetryRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge retry records: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		q.logger.Info("purged old retry records",
			zap.Int64("deleted", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}

// Stats summarizes queue activity inside the given window.
type Stats struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

// StatsSince aggregates record counts by status for records created
// inside the window.
func (q *Queue) StatsSince(window time.Duration) (*Stats, error) {
	since := q.nowFunc().Add(-window)

	var stats Stats
	err := q.db.Model(&models.RetryRecord{}).
		Select(`COUNT(*) AS total,
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0) AS completed,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled`).
		Where("created_at > ?", since).
		Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate retry stats: %w", err)
	}
	return &stats, nil
}

// Recent returns the newest retry records, newest first.
func (q *Queue) Recent(limit int) ([]models.RetryRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []models.RetryRecord
	err := q.db.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load retry records: %w", err)
	}
	return records, nil
}
