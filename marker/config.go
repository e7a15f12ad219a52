package marker

import (
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/armarker/utils"
)

// Config describes one physical marker. A marker with a Pattern is matched by template; one
// without is matched by its MatrixID.
type Config struct {
	Name                string   `json:"name"`
	Pattern             string   `json:"pattern,omitempty"`
	MatrixID            int      `json:"matrix_id"`
	Width               float64  `json:"width"`
	DeactivationTimeSec *float64 `json:"deactivation_time_sec,omitempty"`
	Shadow              *bool    `json:"shadow,omitempty"`
}

// DefaultConfig returns a one-unit-wide matrix marker with id 0.
func DefaultConfig() Config {
	return Config{Width: 1}
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) ([]string, error) {
	if cfg.Name == "" {
		return nil, utils.NewConfigValidationFieldRequiredError(path, "name")
	}
	if cfg.Pattern == "" && cfg.MatrixID < 0 {
		return nil, utils.NewConfigValidationError(path, errors.New("matrix_id must not be negative"))
	}
	if cfg.DeactivationTimeSec != nil && *cfg.DeactivationTimeSec < 0 {
		return nil, utils.NewConfigValidationError(path, errors.New("deactivation_time_sec must not be negative"))
	}
	return nil, nil
}

// IsPattern reports whether the marker is matched by template pattern.
func (cfg *Config) IsPattern() bool {
	return cfg.Pattern != ""
}

// DeactivationTime returns the configured deactivation time, or DefaultDeactivationTime.
func (cfg *Config) DeactivationTime() time.Duration {
	if cfg.DeactivationTimeSec == nil {
		return DefaultDeactivationTime
	}
	return time.Duration(*cfg.DeactivationTimeSec * float64(time.Second))
}

// ShadowEnabled reports whether the marker gets a shadow. Shadows are on unless disabled.
func (cfg *Config) ShadowEnabled() bool {
	return cfg.Shadow == nil || *cfg.Shadow
}

// DecodeConfig decodes an attribute map over DefaultConfig and validates the result.
func DecodeConfig(path string, attrs map[string]interface{}) (Config, error) {
	cfg := DefaultConfig()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
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
