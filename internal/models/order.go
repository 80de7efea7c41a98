package models

import (
	"time"
)

// Order statuses reachable from this pipeline. The order store may carry
// other statuses set by unrelated order-management flows.
const (
	OrderStatusShipped   = "shipped"
	OrderStatusCompleted = "completed"
)

// Order is the local shipment/order record, keyed by the carrier-assigned
// external identifier.
type Order struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID string    `gorm:"type:varchar(255);uniqueIndex;not null" json:"external_id"`
	Status     string    `gorm:"type:varchar(32);not null" json:"status"`
	CreatedAt  time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt  time.Time `gorm:"not null" json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

// OrderMeta is one key/value metadata entry for an order.
type OrderMeta struct {
	ID       int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID  int64  `gorm:"not null;index:idx_order_meta,unique" json:"order_id"`
	MetaKey  string `gorm:"type:varchar(255);not null;index:idx_order_meta,unique" json:"meta_key"`
	MetaValue string `gorm:"type:text" json:"meta_value"`
}

func (OrderMeta) TableName() string {
	return "order_metadata"
}

// OrderNote is one human-readable, append-only note on an order.
type OrderNote struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64     `gorm:"not null;index" json:"order_id"`
	Note      string    `gorm:"type:text;not null" json:"note"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (OrderNote) TableName() string {
	return "order_notes"
}
