package config

import (
	"testing"
	"time"
)

func TestDecodeStreamConfigurationIgnoresUnknownKeys(t *testing.T) {
	raw := map[string]interface{}{
		"name":          "front-door",
		"url":           "rtsp://camera.local/stream1",
		"protocol":      "rtsp",
		"future_option": "should be ignored, not rejected",
	}
	cfg, err := DecodeStreamConfiguration(raw)
	if err != nil {
		t.Fatalf("DecodeStreamConfiguration failed: %v", err)
	}
	if cfg.Name != "front-door" || cfg.URL != "rtsp://camera.local/stream1" {
		t.Fatalf("decoded cfg = %+v", cfg)
	}
}

func TestDecodeStreamConfigurationRejectsMissingRequired(t *testing.T) {
	raw := map[string]interface{}{"protocol": "rtsp"}
	if _, err := DecodeStreamConfiguration(raw); err == nil {
		t.Fatalf("DecodeStreamConfiguration with no name/url succeeded, want validation error")
	}
}

func TestDecodeStreamConfigurationRejectsBadURL(t *testing.T) {
	raw := map[string]interface{}{
		"name":     "bad",
		"url":      "not a url",
		"protocol": "rtsp",
	}
	if _, err := DecodeStreamConfiguration(raw); err == nil {
		t.Fatalf("DecodeStreamConfiguration with invalid url succeeded")
	}
}

func TestSegmentDurationDefault(t *testing.T) {
	cfg := &StreamConfiguration{}
	if got := cfg.SegmentDuration(); got != DefaultSegmentDuration {
		t.Fatalf("SegmentDuration() = %v, want default %v", got, DefaultSegmentDuration)
	}
}

func TestSegmentDurationConfigured(t *testing.T) {
	cfg := &StreamConfiguration{SegmentDurationSeconds: 2}
	if got := cfg.SegmentDuration(); got != 2*time.Second {
		t.Fatalf("SegmentDuration() = %v, want 2s", got)
	}
}

func TestDetectionIntervalZeroByDefault(t *testing.T) {
	cfg := &StreamConfiguration{}
	if got := cfg.DetectionInterval(); got != 0 {
		t.Fatalf("DetectionInterval() = %v, want 0", got)
	}
}

func TestDetectionThresholdOutOfRangeRejected(t *testing.T) {
	raw := map[string]interface{}{
		"name":                "cam",
		"url":                 "rtsp://camera.local/stream1",
		"protocol":            "rtsp",
		"detection_threshold": 1.5,
	}
	if _, err := DecodeStreamConfiguration(raw); err == nil {
		t.Fatalf("DecodeStreamConfiguration accepted detection_threshold=1.5")
	}
}
