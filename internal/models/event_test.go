package models

import (
	"testing"
)

func TestParseEventType(t *testing.T) {
	cases := []struct {
		in      string
		want    EventType
		wantErr bool
	}{
		{"order.posted", EventOrderPosted, false},
		{"order.delivered", EventOrderDelivered, false},
		{"  ORDER.POSTED  ", EventOrderPosted, false},
		{"order.cancelled", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := ParseEventType(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseEventType(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEventType(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseEventType(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestParseInboundEvent(t *testing.T) {
	event, err := ParseInboundEvent([]byte(`{"event":"order.posted","data":{"id":"ext-1","tracking":"TRK1"}}`))
	if err != nil {
		t.Fatalf("ParseInboundEvent: %v", err)
	}
	if event.Event != EventOrderPosted || event.Data.ID != "ext-1" || event.Data.Tracking != "TRK1" {
		t.Errorf("event = %+v", event)
	}

	// Carriers are inconsistent about casing; the parsed event must carry
	// the canonical type so dispatch never sees the raw form.
	event, err = ParseInboundEvent([]byte(`{"event":"ORDER.POSTED","data":{"id":"ext-1"}}`))
	if err != nil {
		t.Fatalf("ParseInboundEvent mixed case: %v", err)
	}
	if event.Event != EventOrderPosted {
		t.Errorf("event type = %q, want normalized %q", event.Event, EventOrderPosted)
	}

	for _, raw := range []string{
		`not json`,
		`{"event":"order.cancelled","data":{"id":"ext-1"}}`,
		`{"event":"order.posted","data":{}}`,
	} {
		if _, err := ParseInboundEvent([]byte(raw)); err == nil {
			t.Errorf("ParseInboundEvent(%s): expected error", raw)
		}
	}
}
