package attemptlog

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/shipmate/carrier-webhook-svc/internal/models"
)

// Log is the audit trail of webhook ingestion attempts. Each attempt gets
// one row at receipt time and exactly one terminal update.
type Log struct {
	db      *gorm.DB
	logger  *zap.Logger
	nowFunc func() time.Time
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.nowFunc = now
	}
}

func New(db *gorm.DB, logger *zap.Logger, opts ...Option) *Log {
	l := &Log{
		db:      db,
		logger:  logger,
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Begin inserts the attempt record with status=received. The caller
// generates a fresh attempt ID per request, so rows are never shared
// between concurrent attempts.
func (l *Log) Begin(attemptID string, orderRef *int64, externalID, eventType string, payload []byte) error {
	record := models.AttemptRecord{
		AttemptID:  attemptID,
		OrderRef:   orderRef,
		ExternalID: externalID,
		EventType:  eventType,
		Status:     models.AttemptStatusReceived,
		Payload:    string(payload),
		CreatedAt:  l.nowFunc(),
	}

	if err := l.db.Create(&record).Error; err != nil {
		return fmt.Errorf("failed to insert attempt record: %w", err)
	}
	return nil
}

// CompleteSuccess updates the matching record to status=success. The 200
// is recorded so successful and failed attempts audit uniformly.
func (l *Log) CompleteSuccess(attemptID, response string, elapsed time.Duration) error {
	ms := elapsed.Milliseconds()
	return l.finalize(attemptID, map[string]interface{}{
		"status":             models.AttemptStatusSuccess,
		"http_status_code":   200,
		"response":           response,
		"processing_time_ms": ms,
	})
}

// CompleteError updates the matching record to status=error.
func (l *Log) CompleteError(attemptID string, httpStatusCode int, message string, elapsed time.Duration) error {
	ms := elapsed.Milliseconds()
	return l.finalize(attemptID, map[string]interface{}{
		"status":             models.AttemptStatusError,
		"http_status_code":   httpStatusCode,
		"error_message":      message,
		"processing_time_ms": ms,
	})
}

// finalize applies the terminal update. The status guard makes a second
// terminal update for the same attempt a no-op.
func (l *Log) finalize(attemptID string, updates map[string]interface{}) error {
	result := l.db.Model(&models.AttemptRecord{}).
		Where("attempt_id = ? AND status = ?", attemptID, models.AttemptStatusReceived).
		Updates(updates)

	if result.Error != nil {
		return fmt.Errorf("failed to finalize attempt record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		l.logger.Warn("attempt record already finalized or missing",
			zap.String("attempt_id", attemptID),
		)
	}
	return nil
}

// PurgeOlderThan deletes attempt records outside the audit window.
func (l *Log) PurgeOlderThan(retention time.Duration) (int64, error) {
	cutoff := l.nowFunc().Add(-retention)

	result := l.db.Where("created_at < ?", cutoff).Delete(&models.AttemptRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to purge attempt records: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		l.logger.Info("purged old attempt records",
			zap.Int64("deleted", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}

// Recent returns the newest attempt records, newest first.
func (l *Log) Recent(limit int) ([]models.AttemptRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	var records []models.AttemptRecord
	err := l.db.Order("created_at DESC").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load attempt records: %w", err)
	}
	return records, nil
}
