package models

import (
	"time"
)

const (
	RetryStatusPending   = "pending"
	RetryStatusCompleted = "completed"
	RetryStatusFailed    = "failed"
	RetryStatusCancelled = "cancelled"
)

// RetryRecord is a durable queue entry for a failed processing attempt.
// At most one pending record exists per (external_id, event_type) pair.
// Terminal statuses (completed, failed, cancelled) freeze every field
// except error_message and updated_at.
type RetryRecord struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderRef     int64     `gorm:"index" json:"order_ref"` // 0 when the order could not yet be resolved
	ExternalID   string    `gorm:"type:varchar(255);not null;index:idx_retry_dedupe" json:"external_id"`
	EventType    string    `gorm:"type:varchar(50);not null;index:idx_retry_dedupe" json:"event_type"`
	Payload      string    `gorm:"type:text;not null" json:"payload"`
	RetryCount   int       `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries   int       `gorm:"not null;default:3" json:"max_retries"`
	NextRetryAt  time.Time `gorm:"index:idx_retry_due,priority:2" json:"next_retry_at"`
	Status       string    `gorm:"type:varchar(20);not null;index:idx_retry_due,priority:1" json:"status"`
	ErrorMessage *string   `gorm:"type:text" json:"error_message"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (RetryRecord) TableName() string {
	return "retry_queue"
}

// Terminal reports whether no further transition can occur.
func (r *RetryRecord) Terminal() bool {
	switch r.Status {
	case RetryStatusCompleted, RetryStatusFailed, RetryStatusCancelled:
		return true
	}
	return false
}
