// Package clickstream carries click events from the redirect path to the
// stats domain: producing onto the bus, consuming in groups, and batching
// into raw storage.
package clickstream

import (
	"encoding/json"
	"fmt"

	"github.com/snaplink/snaplink/internal/model"
)

// Topic is the bus topic click events travel on, keyed by short code so all
// clicks for one code land in one partition in order.
const Topic = "url-click-events"

// EncodeEvent serializes an event to its wire form.
func EncodeEvent(e model.ClickEvent) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("clickstream: encode event: %w", err)
	}
	return b, nil
}

// DecodeEvent parses a wire payload into an event and normalizes it.
// Payloads without a short code are rejected; unknown device types collapse
// to UNKNOWN rather than poisoning the batch.
func DecodeEvent(payload []byte) (model.ClickEvent, error) {
	var e model.ClickEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return model.ClickEvent{}, fmt.Errorf("clickstream: decode event: %w", err)
	}
	if e.ShortCode == "" {
		return model.ClickEvent{}, fmt.Errorf("clickstream: event without short code")
	}
	if !e.DeviceType.IsValid() {
		e.DeviceType = model.DeviceUnknown
	}
	return e, nil
}
