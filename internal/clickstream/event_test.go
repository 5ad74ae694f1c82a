package clickstream

import (
	"strings"
	"testing"
	"time"

	"github.com/snaplink/snaplink/internal/model"
)

func TestEncodeDecodeEvent(t *testing.T) {
	at := time.Date(2026, time.May, 4, 12, 30, 0, 0, time.UTC)
	in := model.ClickEvent{
		ShortCode:  "abc123",
		IPAddress:  "203.0.113.9",
		UserAgent:  "Mozilla/5.0 (iPhone)",
		Referrer:   "https://example.com",
		Country:    "DE",
		City:       "Berlin",
		DeviceType: model.DeviceMobile,
		Timestamp:  at.UnixMilli(),
	}
	payload, err := EncodeEvent(in)
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	out, err := DecodeEvent(payload)
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out != in {
		t.Fatalf("round trip changed event:\n in: %+v\nout: %+v", in, out)
	}
	if !out.ClickedAt().Equal(at) {
		t.Fatalf("ClickedAt = %v, want %v", out.ClickedAt(), at)
	}
}

func TestEncodeEventOmitsEmptyGeo(t *testing.T) {
	payload, err := EncodeEvent(model.ClickEvent{
		ShortCode:  "abc123",
		IPAddress:  "203.0.113.9",
		DeviceType: model.DeviceUnknown,
	})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}
	s := string(payload)
	for _, field := range []string{"country", "city", "referrer"} {
		if strings.Contains(s, field) {
			t.Fatalf("payload carries empty %q field: %s", field, s)
		}
	}
}

func TestDecodeEventRejectsGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte("{not json")); err == nil {
		t.Fatal("malformed payload accepted")
	}
}

func TestDecodeEventRejectsMissingShortCode(t *testing.T) {
	if _, err := DecodeEvent([]byte(`{"ip_address":"203.0.113.9","device_type":"MOBILE","timestamp":1}`)); err == nil {
		t.Fatal("payload without short code accepted")
	}
}

func TestDecodeEventNormalizesDeviceType(t *testing.T) {
	out, err := DecodeEvent([]byte(`{"short_code":"abc","device_type":"FRIDGE","timestamp":1}`))
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if out.DeviceType != model.DeviceUnknown {
		t.Fatalf("device type = %q, want UNKNOWN", out.DeviceType)
	}
}
