package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// MaxStreamNameLength bounds the `name` field per the data model.
const MaxStreamNameLength = 64

// DefaultSegmentDuration is substituted whenever `segment_duration` is
// unset or non-positive.
const DefaultSegmentDuration = 500 * time.Millisecond

// StreamConfiguration is the immutable per-run snapshot resolved from the
// untyped configuration document the out-of-scope API/UI layer manages.
// Field order and mapstructure tags mirror the external interface table.
type StreamConfiguration struct {
	Name    string `mapstructure:"name" validate:"required,max=64"`
	URL     string `mapstructure:"url" validate:"required,url"`
	Protocol string `mapstructure:"protocol" validate:"required"`

	SegmentDurationSeconds float64 `mapstructure:"segment_duration" validate:"gte=0"`

	RecordAudio bool `mapstructure:"record_audio"`

	DetectionBasedRecording bool    `mapstructure:"detection_based_recording"`
	DetectionModel          string  `mapstructure:"detection_model"`
	DetectionThreshold      float64 `mapstructure:"detection_threshold" validate:"gte=0,lte=1"`
	DetectionIntervalSeconds float64 `mapstructure:"detection_interval" validate:"gte=0"`

	MemoryConstrained bool `mapstructure:"memory_constrained"`
}

// SegmentDuration returns the effective HLS segment duration: the
// configured value when positive, else the 0.5s default (spec §3, §4.1
// step 5).
func (c *StreamConfiguration) SegmentDuration() time.Duration {
	if c.SegmentDurationSeconds > 0 {
		return time.Duration(c.SegmentDurationSeconds * float64(time.Second))
	}
	return DefaultSegmentDuration
}

// DetectionInterval returns the minimum spacing between detection
// submissions for this stream.
func (c *StreamConfiguration) DetectionInterval() time.Duration {
	return time.Duration(c.DetectionIntervalSeconds * float64(time.Second))
}

var structValidator = validator.New()

// DecodeStreamConfiguration decodes an untyped configuration document (as
// produced by the out-of-scope API/UI layer, e.g. from JSON or YAML) into a
// StreamConfiguration. Unknown keys are ignored rather than rejected, per
// the external interface contract.
func DecodeStreamConfiguration(raw map[string]interface{}) (*StreamConfiguration, error) {
	cfg := &StreamConfiguration{}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: false,
		Result:      cfg,
		TagName:     "mapstructure",
	})
	if err != nil {
		return nil, fmt.Errorf("build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode stream configuration: %w", err)
	}

	if err := structValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate stream configuration %q: %w", cfg.Name, err)
	}

	return cfg, nil
}

// LoadStreamConfigurations reads a JSON document of stream configuration
// objects from path and decodes each one. This is the process's own
// bootstrap path into the same decode/validate pipeline the out-of-scope
// API/UI layer uses at runtime — both funnel through
// DecodeStreamConfiguration so the ignore-unknown-keys contract is
// identical either way.
func LoadStreamConfigurations(path string) ([]*StreamConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stream configuration file %s: %w", path, err)
	}

	var raw []map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse stream configuration file %s: %w", path, err)
	}

	configs := make([]*StreamConfiguration, 0, len(raw))
	for i, entry := range raw {
		cfg, err := DecodeStreamConfiguration(entry)
		if err != nil {
			return nil, fmt.Errorf("stream configuration entry %d: %w", i, err)
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}
