package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventType represents the type of a carrier delivery-status event
type EventType string

const (
	EventOrderPosted    EventType = "order.posted"
	EventOrderDelivered EventType = "order.delivered"
)

// SupportedEventTypes lists every event type the pipeline applies.
var SupportedEventTypes = []EventType{
	EventOrderPosted,
	EventOrderDelivered,
}

// ParseEventType parses a string into an EventType
// Returns an error if the event type is unknown
func ParseEventType(name string) (EventType, error) {
	name = strings.ToLower(strings.TrimSpace(name))

	for _, eventType := range SupportedEventTypes {
		if string(eventType) == name {
			return eventType, nil
		}
	}

	return "", fmt.Errorf("unknown event type: %s", name)
}

// InboundEvent is one carrier webhook delivery, parsed from the request body.
type InboundEvent struct {
	Event EventType `json:"event"`
	Data  EventData `json:"data"`
}

// EventData carries the event-specific fields. Absent fields stay empty
// and are omitted rather than defaulted when applied to an order.
type EventData struct {
	ID          string `json:"id"`
	Tracking    string `json:"tracking,omitempty"`
	TrackingURL string `json:"tracking_url,omitempty"`
	PostedAt    string `json:"posted_at,omitempty"`
	DeliveredAt string `json:"delivered_at,omitempty"`
}

// ParseInboundEvent decodes a raw webhook body (or a retry payload snapshot)
// into an InboundEvent. The event type is normalized so downstream dispatch
// sees the canonical form regardless of the casing the carrier sent.
func ParseInboundEvent(raw []byte) (*InboundEvent, error) {
	var event InboundEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("failed to decode event payload: %w", err)
	}
	eventType, err := ParseEventType(string(event.Event))
	if err != nil {
		return nil, err
	}
	event.Event = eventType
	if event.Data.ID == "" {
		return nil, fmt.Errorf("event payload is missing data.id")
	}
	return &event, nil
}
