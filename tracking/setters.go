package tracking

import (
	"math"
	"strconv"

	"github.com/spf13/cast"
)

// apply records a settings change and sends cmd to the controller, or queues it when there is no
// controller yet. cmd may be nil for settings only the session itself uses.
func (s *Session) apply(opt Option, update func(*Config), cmd func(Controller)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update(&s.settings)
	if cmd == nil {
		return
	}
	if s.ctrl != nil {
		cmd(s.ctrl)
		return
	}
	s.queue.put(opt, cmd)
}

func (s *Session) rejectOption(opt Option, value interface{}, reason string) error {
	err := &ConfigError{Option: opt, Value: value, Reason: reason}
	s.logger.Errorw("invalid tracking setting", "session", s.id, "option", opt, "error", err)
	return err
}

// SetThreshold sets the manual binarization threshold. Values outside [0, 255] are clamped and
// fractions are dropped.
func (s *Session) SetThreshold(threshold float64) error {
	if math.IsNaN(threshold) {
		return s.rejectOption(OptionThreshold, threshold, "not a number")
	}
	v := ClampThreshold(threshold)
	s.apply(OptionThreshold,
		func(cfg *Config) { cfg.Threshold = float64(v) },
		func(c Controller) { c.SetThreshold(v) })
	return nil
}

// SetThresholdMode sets how the threshold is chosen.
func (s *Session) SetThresholdMode(mode ThresholdMode) error {
	if !mode.Valid() {
		return s.rejectOption(OptionThresholdMode, int(mode), "out of range")
	}
	s.apply(OptionThresholdMode,
		func(cfg *Config) { cfg.ThresholdMode = mode },
		func(c Controller) { c.SetThresholdMode(mode) })
	return nil
}

// SetDetectionMode sets which kinds of marker are searched for.
func (s *Session) SetDetectionMode(mode DetectionMode) error {
	if !mode.Valid() {
		return s.rejectOption(OptionDetectionMode, int(mode), "out of range")
	}
	s.apply(OptionDetectionMode,
		func(cfg *Config) { cfg.DetectionMode = mode },
		func(c Controller) { c.SetPatternDetectionMode(mode) })
	return nil
}

// SetProcessingMode sets whether frames or fields are processed.
func (s *Session) SetProcessingMode(mode ProcessingMode) error {
	if !mode.Valid() {
		return s.rejectOption(OptionProcessingMode, int(mode), "out of range")
	}
	s.apply(OptionProcessingMode,
		func(cfg *Config) { cfg.ProcessingMode = mode },
		func(c Controller) { c.SetImageProcMode(mode) })
	return nil
}

// SetLabelingMode sets the marker border polarity.
func (s *Session) SetLabelingMode(mode LabelingMode) error {
	if !mode.Valid() {
		return s.rejectOption(OptionLabelingMode, int(mode), "out of range")
	}
	s.apply(OptionLabelingMode,
		func(cfg *Config) { cfg.LabelingMode = mode },
		func(c Controller) { c.SetLabelingMode(mode) })
	return nil
}

// SetMatrixCodeType sets the matrix code type barcode markers are decoded as.
func (s *Session) SetMatrixCodeType(codeType MatrixCodeType) error {
	if !codeType.Valid() {
		return s.rejectOption(OptionMatrixCodeType, int(codeType), "out of range")
	}
	s.apply(OptionMatrixCodeType,
		func(cfg *Config) { cfg.MatrixCodeType = codeType },
		func(c Controller) { c.SetMatrixCodeType(codeType) })
	return nil
}

// SetTrackerResolution sets how far frames are scaled down before detection. It takes effect the
// next time a controller is created.
func (s *Session) SetTrackerResolution(resolution TrackerResolution) error {
	if !resolution.Valid() {
		return s.rejectOption(OptionTrackerResolution, int(resolution), "out of range")
	}
	s.apply(OptionTrackerResolution, func(cfg *Config) { cfg.TrackerResolution = resolution }, nil)
	return nil
}

// SetDebugOverlay turns the library's debug rendering on or off.
func (s *Session) SetDebugOverlay(enabled bool) {
	s.apply(OptionDebugOverlay,
		func(cfg *Config) { cfg.DebugOverlay = enabled },
		func(c Controller) { c.SetDebugMode(enabled) })
}

// SetTrackAlternateFrames makes ProcessFrame skip every other call.
func (s *Session) SetTrackAlternateFrames(enabled bool) {
	s.apply(OptionTrackAlternateFrames, func(cfg *Config) { cfg.TrackAlternateFrames = enabled }, nil)
}

// SetOption sets the option called name. Enum options accept a name or a number; the others
// accept anything that converts to their type.
func (s *Session) SetOption(name string, value interface{}) error {
	opt := Option(name)
	switch opt {
	case OptionThreshold:
		v, err := cast.ToFloat64E(value)
		if err != nil {
			return s.rejectOption(opt, value, err.Error())
		}
		return s.SetThreshold(v)
	case OptionThresholdMode:
		var m ThresholdMode
		if err := s.parseEnum(opt, value, &m); err != nil {
			return err
		}
		return s.SetThresholdMode(m)
	case OptionDetectionMode:
		var m DetectionMode
		if err := s.parseEnum(opt, value, &m); err != nil {
			return err
		}
		return s.SetDetectionMode(m)
	case OptionProcessingMode:
		var m ProcessingMode
		if err := s.parseEnum(opt, value, &m); err != nil {
			return err
		}
		return s.SetProcessingMode(m)
	case OptionLabelingMode:
		var m LabelingMode
		if err := s.parseEnum(opt, value, &m); err != nil {
			return err
		}
		return s.SetLabelingMode(m)
	case OptionMatrixCodeType:
		var t MatrixCodeType
		if err := s.parseEnum(opt, value, &t); err != nil {
			return err
		}
		return s.SetMatrixCodeType(t)
	case OptionTrackerResolution:
		var r TrackerResolution
		if err := s.parseEnum(opt, value, &r); err != nil {
			return err
		}
		return s.SetTrackerResolution(r)
	case OptionDebugOverlay:
		v, err := cast.ToBoolE(value)
		if err != nil {
			return s.rejectOption(opt, value, err.Error())
		}
		s.SetDebugOverlay(v)
		return nil
	case OptionTrackAlternateFrames:
		v, err := cast.ToBoolE(value)
		if err != nil {
			return s.rejectOption(opt, value, err.Error())
		}
		s.SetTrackAlternateFrames(v)
		return nil
	default:
		return s.rejectOption(opt, value, "unknown option")
	}
}

type textEnum interface {
	UnmarshalText(text []byte) error
}

// parseEnum fills dst from a name or a number.
func (s *Session) parseEnum(opt Option, value interface{}, dst textEnum) error {
	text, ok := value.(string)
	if !ok {
		n, err := cast.ToIntE(value)
		if err != nil {
			return s.rejectOption(opt, value, err.Error())
		}
		text = strconv.Itoa(n)
	}
	if err := dst.UnmarshalText([]byte(text)); err != nil {
		s.logger.Errorw("invalid tracking setting", "session", s.id, "option", opt, "error", err)
		return err
	}
	return nil
}
