package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/armarker/marker"
	"go.viam.com/armarker/scene"
	"go.viam.com/armarker/tracking"
	"go.viam.com/armarker/tracking/fake"
	"go.viam.com/armarker/utils"
)

// DefaultTickInterval is the time between scripted frames when a scenario does not set one.
const DefaultTickInterval = 33 * time.Millisecond

// ShadowConfig configures the shadow material shared by every marker with a shadow.
type ShadowConfig struct {
	Blend    scene.BlendMode `json:"blend"`
	Strength float64         `json:"strength"`
}

// Scenario is a scripted AR session: a calibration, the tracking options, the markers to bind and
// the detections the fake tracker reports frame by frame.
type Scenario struct {
	Calibration  string                     `json:"calibration"`
	Video        tracking.Size              `json:"video"`
	Render       tracking.Size              `json:"render"`
	TickInterval time.Duration              `json:"tick_interval"`
	Tracking     map[string]interface{}     `json:"tracking"`
	Markers      []map[string]interface{}   `json:"markers"`
	Shadow       ShadowConfig               `json:"shadow"`
	Frames       [][]fake.ScriptedDetection `json:"frames"`
}

// Validate ensures all parts of the scenario are valid.
func (sc *Scenario) Validate(path string) error {
	if sc.Calibration == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "calibration")
	}
	if !sc.Video.Valid() {
		return utils.NewConfigValidationError(path,
			errors.Errorf("invalid video size %dx%d", sc.Video.Width, sc.Video.Height))
	}
	if sc.Render != (tracking.Size{}) && !sc.Render.Valid() {
		return utils.NewConfigValidationError(path,
			errors.Errorf("invalid render size %dx%d", sc.Render.Width, sc.Render.Height))
	}
	if sc.TickInterval <= 0 {
		return utils.NewConfigValidationError(path, errors.New("tick_interval must be positive"))
	}
	for i, frame := range sc.Frames {
		for j, det := range frame {
			if (det.Pattern == "") == (det.Barcode == nil) {
				return utils.NewConfigValidationError(utils.JoinPath(path, "frames"),
					errors.Errorf("frame %d detection %d needs exactly one of pattern and barcode", i, j))
			}
		}
	}
	return nil
}

// TrackingConfig decodes the scenario's tracking options.
func (sc *Scenario) TrackingConfig() (tracking.Config, error) {
	cfg, err := tracking.DecodeConfig("tracking", sc.Tracking)
	if err != nil {
		return tracking.Config{}, err
	}
	if cfg.CalibrationURL == "" {
		cfg.CalibrationURL = sc.Calibration
	}
	return cfg, nil
}

// MarkerConfigs decodes the scenario's markers.
func (sc *Scenario) MarkerConfigs() ([]marker.Config, error) {
	cfgs := make([]marker.Config, 0, len(sc.Markers))
	for i, attrs := range sc.Markers {
		cfg, err := marker.DecodeConfig(fmt.Sprintf("markers.%d", i), attrs)
		if err != nil {
			return nil, err
		}
		cfgs = append(cfgs, cfg)
	}
	return cfgs, nil
}

// LoadScenario reads a scenario from a JSON file. A relative calibration path is resolved against
// the scenario's directory.
func LoadScenario(path string) (*Scenario, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read scenario")
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "cannot parse scenario %q", path)
	}
	sc, err := DecodeScenario(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid scenario %q", path)
	}
	if !filepath.IsAbs(sc.Calibration) {
		sc.Calibration = filepath.Join(filepath.Dir(path), sc.Calibration)
	}
	return sc, nil
}

// DecodeScenario builds a scenario from its attribute map, filling in defaults.
func DecodeScenario(attrs map[string]interface{}) (*Scenario, error) {
	sc := &Scenario{
		TickInterval: DefaultTickInterval,
		Shadow:       ShadowConfig{Blend: scene.BlendMultiplicative, Strength: marker.DefaultShadowStrength},
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      sc,
		ErrorUnused: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.TextUnmarshallerHookFunc(),
		),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, errors.Wrap(err, "cannot decode scenario")
	}
	if err := sc.Validate("scenario"); err != nil {
		return nil, err
	}
	return sc, nil
}
