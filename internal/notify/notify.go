package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/rabbitmq"
)

// StatusChange describes a successfully applied order-state transition,
// published for downstream consumers.
type StatusChange struct {
	OrderRef     int64     `json:"order_ref"`
	ExternalID   string    `json:"external_id"`
	EventType    string    `json:"event_type"`
	Status       string    `json:"status"`
	TrackingCode string    `json:"tracking_code,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Notifier announces applied order-state transitions. Failures must not
// affect the ingestion outcome; callers log and move on.
type Notifier interface {
	OrderStatusChanged(ctx context.Context, change StatusChange) error
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) OrderStatusChanged(ctx context.Context, change StatusChange) error {
	return nil
}

// AMQP publishes status changes to a RabbitMQ exchange.
type AMQP struct {
	conn       *rabbitmq.Connection
	exchange   string
	routingKey string
	logger     *zap.Logger
}

func NewAMQP(conn *rabbitmq.Connection, exchange, routingKey string, logger *zap.Logger) *AMQP {
	return &AMQP{
		conn:       conn,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger,
	}
}

func (n *AMQP) OrderStatusChanged(ctx context.Context, change StatusChange) error {
	body, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal status change: %w", err)
	}

	if err := n.conn.PublishMessage(n.exchange, n.routingKey, body); err != nil {
		return fmt.Errorf("failed to publish status change: %w", err)
	}

	n.logger.Debug("published order status change",
		zap.Int64("order_ref", change.OrderRef),
		zap.String("event_type", change.EventType),
		zap.String("status", change.Status),
	)
	return nil
}
