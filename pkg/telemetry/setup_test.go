package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestNewResource(t *testing.T) {
	res, err := newResource(context.Background(), Config{
		ServiceName:    "gate-scanner",
		ServiceVersion: "1.4.0",
		DeviceID:       "a1b2c3",
		DeviceName:     "north-gate",
	})
	if err != nil {
		t.Fatalf("newResource failed: %v", err)
	}

	want := map[attribute.Key]string{
		"service.name":    "gate-scanner",
		"service.version": "1.4.0",
		"device.id":       "a1b2c3",
		"device.name":     "north-gate",
	}
	for key, expected := range want {
		v, ok := res.Set().Value(key)
		if !ok {
			t.Errorf("expected attribute %s", key)
			continue
		}
		if v.AsString() != expected {
			t.Errorf("expected %s=%q, got %q", key, expected, v.AsString())
		}
	}
}

func TestNewResourceSkipsEmptyDevice(t *testing.T) {
	res, err := newResource(context.Background(), Config{ServiceName: "gate-scanner"})
	if err != nil {
		t.Fatalf("newResource failed: %v", err)
	}
	for _, key := range []attribute.Key{"service.version", "device.id", "device.name"} {
		if _, ok := res.Set().Value(key); ok {
			t.Errorf("expected no %s attribute", key)
		}
	}
}
