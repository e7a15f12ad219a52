package tracking

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/armarker/utils"
)

// DefaultThreshold is the manual binarization threshold a new session starts with.
const DefaultThreshold = 100

// Config is the serialized form of a session's tracker settings.
type Config struct {
	CalibrationURL       string            `json:"calibration_url"`
	Threshold            float64           `json:"threshold"`
	ThresholdMode        ThresholdMode     `json:"threshold_mode"`
	DetectionMode        DetectionMode     `json:"detection_mode"`
	ProcessingMode       ProcessingMode    `json:"processing_mode"`
	LabelingMode         LabelingMode      `json:"labeling_mode"`
	MatrixCodeType       MatrixCodeType    `json:"matrix_code_type"`
	TrackerResolution    TrackerResolution `json:"tracker_resolution"`
	DebugOverlay         bool              `json:"debug_overlay"`
	TrackAlternateFrames bool              `json:"track_alternate_frames"`
}

// DefaultConfig returns the settings a session uses when none are given.
func DefaultConfig() Config {
	return Config{
		Threshold:    DefaultThreshold,
		LabelingMode: LabelBlackRegion,
	}
}

// Validate ensures all parts of the config are valid. It returns no implicit dependencies.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 255 {
		return nil, utils.NewConfigValidationError(path,
			&ConfigError{Option: OptionThreshold, Value: cfg.Threshold, Reason: "must be between 0 and 255"})
	}
	checks := []struct {
		opt   Option
		valid bool
		value interface{}
	}{
		{OptionThresholdMode, cfg.ThresholdMode.Valid(), int(cfg.ThresholdMode)},
		{OptionDetectionMode, cfg.DetectionMode.Valid(), int(cfg.DetectionMode)},
		{OptionProcessingMode, cfg.ProcessingMode.Valid(), int(cfg.ProcessingMode)},
		{OptionLabelingMode, cfg.LabelingMode.Valid(), int(cfg.LabelingMode)},
		{OptionMatrixCodeType, cfg.MatrixCodeType.Valid(), int(cfg.MatrixCodeType)},
		{OptionTrackerResolution, cfg.TrackerResolution.Valid(), int(cfg.TrackerResolution)},
	}
	for _, c := range checks {
		if !c.valid {
			return nil, utils.NewConfigValidationError(path,
				&ConfigError{Option: c.opt, Value: c.value, Reason: "out of range"})
		}
	}
	return nil, nil
}

// DecodeConfig decodes an attribute map over DefaultConfig and validates the result. Enum
// attributes may be given by name or by number.
func DecodeConfig(path string, attrs map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return Config{}, errors.Wrap(err, "error creating decoder for config")
	}
	if err := decoder.Decode(attrs); err != nil {
		return Config{}, utils.NewConfigValidationError(path, err)
	}
	if _, err := cfg.Validate(path); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
