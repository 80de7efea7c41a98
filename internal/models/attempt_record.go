package models

import (
	"time"
)

const (
	AttemptStatusReceived = "received"
	AttemptStatusSuccess  = "success"
	AttemptStatusError    = "error"
)

// AttemptRecord is the audit row for one inbound webhook delivery attempt.
// It is created with status=received and updated exactly once to a terminal
// status (success or error). Never mutated afterwards.
type AttemptRecord struct {
	ID               int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	AttemptID        string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"attempt_id"`
	OrderRef         *int64    `gorm:"index" json:"order_ref"`
	ExternalID       string    `gorm:"type:varchar(255);index" json:"external_id"`
	EventType        string    `gorm:"type:varchar(50);index" json:"event_type"`
	Status           string    `gorm:"type:varchar(20);not null;index" json:"status"`
	HTTPStatusCode   *int      `json:"http_status_code"`
	Payload          string    `gorm:"type:text" json:"payload"`
	Response         *string   `gorm:"type:text" json:"response"`
	ErrorMessage     *string   `gorm:"type:text" json:"error_message"`
	ProcessingTimeMs *int64    `json:"processing_time_ms"`
	CreatedAt        time.Time `gorm:"not null;index" json:"created_at"`
}

func (AttemptRecord) TableName() string {
	return "attempt_log"
}
