package tracking

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.viam.com/armarker/utils"
)

// Option names a tracker setting. The names double as config keys.
type Option string

// The settings a session accepts.
const (
	OptionThreshold            Option = "threshold"
	OptionThresholdMode        Option = "threshold_mode"
	OptionDetectionMode        Option = "detection_mode"
	OptionProcessingMode       Option = "processing_mode"
	OptionLabelingMode         Option = "labeling_mode"
	OptionMatrixCodeType       Option = "matrix_code_type"
	OptionTrackerResolution    Option = "tracker_resolution"
	OptionDebugOverlay         Option = "debug_overlay"
	OptionTrackAlternateFrames Option = "track_alternate_frames"
)

// ConfigError is returned when a setting is given a value it cannot take. The setting keeps its
// previous value.
type ConfigError struct {
	Option Option
	Value  interface{}
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%v is an invalid %s: %s", e.Value, strings.ReplaceAll(string(e.Option), "_", " "), e.Reason)
}

// ThresholdMode selects how the binarization threshold is chosen.
type ThresholdMode int

// Threshold modes.
const (
	ThresholdManual ThresholdMode = iota
	ThresholdAutoMedian
	ThresholdAutoOtsu
	ThresholdAutoAdaptive
	ThresholdAutoBracketing
)

var thresholdModeNames = []string{"manual", "auto_median", "auto_otsu", "auto_adaptive", "auto_bracketing"}

func (m ThresholdMode) String() string { return enumString(m, thresholdModeNames) }

// Valid reports whether m is a known threshold mode.
func (m ThresholdMode) Valid() bool { return enumValid(m, thresholdModeNames) }

// UnmarshalText parses a threshold mode name.
func (m *ThresholdMode) UnmarshalText(text []byte) error {
	return enumUnmarshal(m, OptionThresholdMode, text, thresholdModeNames)
}

// DetectionMode selects which kinds of markers are searched for.
type DetectionMode int

// Pattern detection modes.
const (
	DetectColorTemplate DetectionMode = iota
	DetectMonoTemplate
	DetectMatrix
	DetectColorTemplateAndMatrix
	DetectMonoTemplateAndMatrix
)

var detectionModeNames = []string{
	"color_template", "mono_template", "matrix", "color_template_and_matrix", "mono_template_and_matrix",
}

func (m DetectionMode) String() string { return enumString(m, detectionModeNames) }

// Valid reports whether m is a known detection mode.
func (m DetectionMode) Valid() bool { return enumValid(m, detectionModeNames) }

// UnmarshalText parses a detection mode name.
func (m *DetectionMode) UnmarshalText(text []byte) error {
	return enumUnmarshal(m, OptionDetectionMode, text, detectionModeNames)
}

// ProcessingMode selects whether whole frames or single interlaced fields are processed. Field
// mode looks at every second row and column only.
type ProcessingMode int

// Image processing modes.
const (
	ProcessFrame ProcessingMode = iota
	ProcessField
)

var processingModeNames = []string{"frame", "field"}

func (m ProcessingMode) String() string { return enumString(m, processingModeNames) }

// Valid reports whether m is a known processing mode.
func (m ProcessingMode) Valid() bool { return enumValid(m, processingModeNames) }

// UnmarshalText parses a processing mode name.
func (m *ProcessingMode) UnmarshalText(text []byte) error {
	return enumUnmarshal(m, OptionProcessingMode, text, processingModeNames)
}

// LabelingMode selects the marker border polarity.
type LabelingMode int

// Labeling modes.
const (
	LabelWhiteRegion LabelingMode = iota
	LabelBlackRegion
)

var labelingModeNames = []string{"white_region", "black_region"}

func (m LabelingMode) String() string { return enumString(m, labelingModeNames) }

// Valid reports whether m is a known labeling mode.
func (m LabelingMode) Valid() bool { return enumValid(m, labelingModeNames) }

// UnmarshalText parses a labeling mode name.
func (m *LabelingMode) UnmarshalText(text []byte) error {
	return enumUnmarshal(m, OptionLabelingMode, text, labelingModeNames)
}

// MatrixCodeType is the barcode size and error correction matrix markers were printed with. Only
// one type can be in use per session.
type MatrixCodeType int

// Matrix code types.
const (
	MatrixCode3x3 MatrixCodeType = iota
	MatrixCode3x3Hamming63
	MatrixCode3x3Parity65
	MatrixCode4x4
	MatrixCode4x4BCH1393
	MatrixCode4x4BCH1355
)

var matrixCodeTypeNames = []string{"3x3", "3x3_hamming63", "3x3_parity65", "4x4", "4x4_bch_13_9_3", "4x4_bch_13_5_5"}

func (t MatrixCodeType) String() string { return enumString(t, matrixCodeTypeNames) }

// Valid reports whether t is a known matrix code type.
func (t MatrixCodeType) Valid() bool { return enumValid(t, matrixCodeTypeNames) }

// UnmarshalText parses a matrix code type name.
func (t *MatrixCodeType) UnmarshalText(text []byte) error {
	return enumUnmarshal(t, OptionMatrixCodeType, text, matrixCodeTypeNames)
}

// TrackerResolution scales the video down before detection.
type TrackerResolution int

// Tracker resolutions.
const (
	ResolutionFull TrackerResolution = iota
	ResolutionThreeQuarters
	ResolutionHalf
	ResolutionQuarter
)

var trackerResolutionNames = []string{"full", "three_quarters", "half", "quarter"}

func (r TrackerResolution) String() string { return enumString(r, trackerResolutionNames) }

// Valid reports whether r is a known resolution.
func (r TrackerResolution) Valid() bool { return enumValid(r, trackerResolutionNames) }

// UnmarshalText parses a resolution name.
func (r *TrackerResolution) UnmarshalText(text []byte) error {
	return enumUnmarshal(r, OptionTrackerResolution, text, trackerResolutionNames)
}

// Scale returns the factor applied to the video size: 1, 0.75, 0.5 or 0.25.
func (r TrackerResolution) Scale() float64 {
	return 1 - float64(r)/4
}

// ClampThreshold limits a threshold to [0, 255] and rounds it down.
func ClampThreshold(v float64) int {
	return int(math.Floor(utils.Clamp(v, 0, 255)))
}

func enumString[T ~int](v T, names []string) string {
	if v < 0 || int(v) >= len(names) {
		return fmt.Sprintf("unknown(%d)", int(v))
	}
	return names[v]
}

func enumValid[T ~int](v T, names []string) bool {
	return v >= 0 && int(v) < len(names)
}

// enumUnmarshal accepts either a name or the enum's integer value.
func enumUnmarshal[T ~int](dst *T, opt Option, text []byte, names []string) error {
	s := strings.ToLower(strings.TrimSpace(string(text)))
	for i, name := range names {
		if s == name {
			*dst = T(i)
			return nil
		}
	}
	if n, err := strconv.Atoi(s); err == nil && enumValid(T(n), names) {
		*dst = T(n)
		return nil
	}
	return &ConfigError{Option: opt, Value: string(text), Reason: "expected one of " + strings.Join(names, ", ")}
}
