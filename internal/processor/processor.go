package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shipmate/carrier-webhook-svc/internal/models"
	"github.com/shipmate/carrier-webhook-svc/internal/notify"
	"github.com/shipmate/carrier-webhook-svc/internal/orders"
)

// Metadata keys written onto orders by this pipeline.
const (
	MetaTrackingCode = "tracking_code"
	MetaTrackingURL  = "tracking_url"
	MetaPostedAt     = "posted_at"
	MetaDeliveredAt  = "delivered_at"

	appliedMetaPrefix = "webhook_applied:"
)

// Summary describes a successfully applied event.
type Summary struct {
	OrderRef   int64  `json:"order_ref"`
	ExternalID string `json:"external_id"`
	EventType  string `json:"event_type"`
	Status     string `json:"status"`
	Duplicate  bool   `json:"duplicate,omitempty"`
	Message    string `json:"message"`
}

// Processor applies one validated inbound event to the order store,
// synchronously, and reports success or a classified failure. It never
// lets a panic escape and never leaves an order partially transitioned
// reported as success.
type Processor struct {
	orders   orders.Store
	notifier notify.Notifier
	logger   *zap.Logger
	nowFunc  func() time.Time
}

type Option func(*Processor)

// WithClock overrides the clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(p *Processor) {
		p.nowFunc = now
	}
}

func New(store orders.Store, notifier notify.Notifier, logger *zap.Logger, opts ...Option) *Processor {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	p := &Processor{
		orders:   store,
		notifier: notifier,
		logger:   logger,
		nowFunc:  time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process resolves the order for the event and applies the matching
// state transition. Every failure comes back as a classified *Error.
func (p *Processor) Process(ctx context.Context, event *models.InboundEvent) (summary *Summary, procErr error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing event",
				zap.Any("panic", r),
				zap.String("event_type", string(event.Event)),
				zap.String("external_id", event.Data.ID),
			)
			summary = nil
			procErr = internalError("event processing panicked", fmt.Errorf("%v", r))
		}
	}()

	orderRef, err := p.orders.FindByExternalID(ctx, event.Data.ID)
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			return nil, orderNotFoundError(event.Data.ID)
		}
		return nil, internalError("order lookup failed", err)
	}

	p.logger.Info("processing carrier event",
		zap.String("event_type", string(event.Event)),
		zap.String("external_id", event.Data.ID),
		zap.Int64("order_ref", orderRef),
	)

	switch event.Event {
	case models.EventOrderPosted:
		return p.applyPosted(ctx, orderRef, event)
	case models.EventOrderDelivered:
		return p.applyDelivered(ctx, orderRef, event)
	default:
		// Unreachable given upstream validation; kept as defense in depth.
		return nil, unsupportedEventError(string(event.Event))
	}
}

func (p *Processor) applyPosted(ctx context.Context, orderRef int64, event *models.InboundEvent) (*Summary, error) {
	if dup, err := p.alreadyApplied(ctx, orderRef, event.Event); err != nil {
		return nil, err
	} else if dup {
		return p.duplicateSummary(orderRef, event, models.OrderStatusShipped), nil
	}

	if err := p.orders.SetStatus(ctx, orderRef, models.OrderStatusShipped); err != nil {
		return nil, internalError("failed to update order status", err)
	}

	meta := map[string]string{
		MetaTrackingCode: event.Data.Tracking,
		MetaTrackingURL:  event.Data.TrackingURL,
		MetaPostedAt:     event.Data.PostedAt,
	}
	if err := p.setMetadata(ctx, orderRef, meta); err != nil {
		return nil, err
	}

	note := buildPostedNote(event.Data)
	if err := p.orders.AppendNote(ctx, orderRef, note); err != nil {
		return nil, internalError("failed to append order note", err)
	}

	if err := p.markApplied(ctx, orderRef, event); err != nil {
		return nil, err
	}
	if err := p.orders.Persist(ctx, orderRef); err != nil {
		return nil, internalError("failed to persist order", err)
	}

	p.logger.Info("order marked as shipped",
		zap.Int64("order_ref", orderRef),
		zap.String("tracking", event.Data.Tracking),
	)

	p.publishChange(ctx, orderRef, event, models.OrderStatusShipped)

	return &Summary{
		OrderRef:   orderRef,
		ExternalID: event.Data.ID,
		EventType:  string(event.Event),
		Status:     models.OrderStatusShipped,
		Message:    "order marked as shipped",
	}, nil
}

func (p *Processor) applyDelivered(ctx context.Context, orderRef int64, event *models.InboundEvent) (*Summary, error) {
	if dup, err := p.alreadyApplied(ctx, orderRef, event.Event); err != nil {
		return nil, err
	} else if dup {
		return p.duplicateSummary(orderRef, event, models.OrderStatusCompleted), nil
	}

	if err := p.orders.SetStatus(ctx, orderRef, models.OrderStatusCompleted); err != nil {
		return nil, internalError("failed to update order status", err)
	}

	meta := map[string]string{
		MetaDeliveredAt: event.Data.DeliveredAt,
	}
	if err := p.setMetadata(ctx, orderRef, meta); err != nil {
		return nil, err
	}

	note := buildDeliveredNote(event.Data)
	if err := p.orders.AppendNote(ctx, orderRef, note); err != nil {
		return nil, internalError("failed to append order note", err)
	}

	if err := p.markApplied(ctx, orderRef, event); err != nil {
		return nil, err
	}
	if err := p.orders.Persist(ctx, orderRef); err != nil {
		return nil, internalError("failed to persist order", err)
	}

	p.logger.Info("order marked as delivered",
		zap.Int64("order_ref", orderRef),
	)

	p.publishChange(ctx, orderRef, event, models.OrderStatusCompleted)

	return &Summary{
		OrderRef:   orderRef,
		ExternalID: event.Data.ID,
		EventType:  string(event.Event),
		Status:     models.OrderStatusCompleted,
		Message:    "order marked as delivered",
	}, nil
}

// alreadyApplied checks the idempotency marker for this event type.
// Duplicate carrier redeliveries are acknowledged without re-applying.
func (p *Processor) alreadyApplied(ctx context.Context, orderRef int64, eventType models.EventType) (bool, error) {
	_, present, err := p.orders.Metadata(ctx, orderRef, appliedMetaPrefix+string(eventType))
	if err != nil {
		return false, internalError("failed to read idempotency marker", err)
	}
	return present, nil
}

func (p *Processor) markApplied(ctx context.Context, orderRef int64, event *models.InboundEvent) error {
	key := appliedMetaPrefix + string(event.Event)
	if err := p.orders.SetMetadata(ctx, orderRef, key, event.Data.ID); err != nil {
		return internalError("failed to write idempotency marker", err)
	}
	return nil
}

// setMetadata stores the non-empty entries; absent event fields are
// omitted, not defaulted.
func (p *Processor) setMetadata(ctx context.Context, orderRef int64, meta map[string]string) error {
	for key, value := range meta {
		if value == "" {
			continue
		}
		if err := p.orders.SetMetadata(ctx, orderRef, key, value); err != nil {
			return internalError("failed to store order metadata", err)
		}
	}
	return nil
}

// publishChange is best-effort: a notifier failure never fails the event.
func (p *Processor) publishChange(ctx context.Context, orderRef int64, event *models.InboundEvent, status string) {
	change := notify.StatusChange{
		OrderRef:     orderRef,
		ExternalID:   event.Data.ID,
		EventType:    string(event.Event),
		Status:       status,
		TrackingCode: event.Data.Tracking,
		OccurredAt:   p.nowFunc(),
	}
	if err := p.notifier.OrderStatusChanged(ctx, change); err != nil {
		p.logger.Warn("failed to publish order status change",
			zap.Int64("order_ref", orderRef),
			zap.Error(err),
		)
	}
}

func (p *Processor) duplicateSummary(orderRef int64, event *models.InboundEvent, status string) *Summary {
	p.logger.Info("duplicate event delivery acknowledged",
		zap.Int64("order_ref", orderRef),
		zap.String("event_type", string(event.Event)),
	)
	return &Summary{
		OrderRef:   orderRef,
		ExternalID: event.Data.ID,
		EventType:  string(event.Event),
		Status:     status,
		Duplicate:  true,
		Message:    "event already applied",
	}
}

func buildPostedNote(data models.EventData) string {
	var b strings.Builder
	b.WriteString("Carrier: order posted")
	if data.Tracking != "" {
		b.WriteString("\nTracking code: " + data.Tracking)
	}
	if data.TrackingURL != "" {
		b.WriteString("\nTracking URL: " + data.TrackingURL)
	}
	return b.String()
}

func buildDeliveredNote(data models.EventData) string {
	var b strings.Builder
	b.WriteString("Carrier: order delivered")
	if data.DeliveredAt != "" {
		b.WriteString("\nDelivered at: " + data.DeliveredAt)
	}
	if data.Tracking != "" {
		b.WriteString("\nTracking code: " + data.Tracking)
	}
	return b.String()
}
