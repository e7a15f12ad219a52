package fake

import (
	"context"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"

	"go.viam.com/armarker/tracking"
)

// ErrProcessing is returned by Process for frames marked with FailProcessingAt.
var ErrProcessing = errors.New("scripted processing failure")

// Settings is a snapshot of everything a Controller has been told.
type Settings struct {
	Width          int
	Height         int
	Near           float64
	Far            float64
	Threshold      int
	ThresholdMode  tracking.ThresholdMode
	DetectionMode  tracking.DetectionMode
	ProcessingMode tracking.ProcessingMode
	LabelingMode   tracking.LabelingMode
	MatrixCodeType tracking.MatrixCodeType
	DebugMode      bool
	LogLevel       int
	// Calls lists the setters invoked, by option name, in call order.
	Calls []string
}

// Controller is a tracking.Controller that replays its library's script.
type Controller struct {
	lib        *Library
	intrinsics Intrinsics

	mu       sync.Mutex
	settings Settings
	frames   int
	patterns map[string]int
	closed   bool
}

func newController(lib *Library, width, height int, intrinsics Intrinsics) *Controller {
	return &Controller{
		lib:        lib,
		intrinsics: intrinsics,
		settings:   Settings{Width: width, Height: height, Near: 0.1, Far: 1000},
		patterns:   map[string]int{},
	}
}

// Settings returns a copy of the controller's current settings.
func (c *Controller) Settings() Settings {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.settings
	s.Calls = append([]string(nil), c.settings.Calls...)
	return s
}

// Frames returns how many frames were processed.
func (c *Controller) Frames() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// Closed reports whether Close has been called.
func (c *Controller) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Controller) set(call string, fn func(s *Settings)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.settings)
	c.settings.Calls = append(c.settings.Calls, call)
}

// Process returns the script entry for the next frame. Patterns that were never loaded are not
// found, and each marker kind is only found when the detection mode looks for it.
func (c *Controller) Process(ctx context.Context, frame tracking.Frame) ([]tracking.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, errors.New("controller is closed")
	}
	index := c.frames
	c.frames++

	scripted, fail := c.lib.scriptFrame(index)
	if fail {
		return nil, errors.Wrapf(ErrProcessing, "frame %d", index)
	}
	findPatterns, findBarcodes := detects(c.settings.DetectionMode)
	var out []tracking.Detection
	for _, sd := range scripted {
		det := tracking.Detection{Matrix: append([]float64(nil), sd.Matrix...), Confidence: sd.Confidence}
		if det.Confidence == 0 {
			det.Confidence = 1
		}
		switch {
		case sd.Barcode != nil:
			if !findBarcodes {
				continue
			}
			det.Kind = tracking.BarcodeMarker
			det.ID = *sd.Barcode
		case sd.Pattern != "":
			id, ok := c.patterns[sd.Pattern]
			if !ok || !findPatterns {
				continue
			}
			det.Kind = tracking.PatternMarker
			det.ID = id
		default:
			continue
		}
		out = append(out, det)
	}
	return out, nil
}

func detects(mode tracking.DetectionMode) (patterns, barcodes bool) {
	switch mode {
	case tracking.DetectColorTemplate, tracking.DetectMonoTemplate:
		return true, false
	case tracking.DetectMatrix:
		return false, true
	case tracking.DetectColorTemplateAndMatrix, tracking.DetectMonoTemplateAndMatrix:
		return true, true
	default:
		return false, false
	}
}

// ProjectionMatrix returns an OpenGL style projection built from the calibration intrinsics and
// the current clip planes.
func (c *Controller) ProjectionMatrix() mgl64.Mat4 {
	c.mu.Lock()
	defer c.mu.Unlock()
	in := c.intrinsics
	w, h := float64(in.Width), float64(in.Height)
	n, f := c.settings.Near, c.settings.Far

	var m mgl64.Mat4
	m[0] = 2 * in.Fx / w
	m[5] = 2 * in.Fy / h
	m[8] = 1 - 2*in.Ppx/w
	m[9] = 2*in.Ppy/h - 1
	m[10] = -(f + n) / (f - n)
	m[11] = -1
	m[14] = -2 * f * n / (f - n)
	return m
}

// LoadPattern issues ids in load order. Loading the same url twice returns the same id.
func (c *Controller) LoadPattern(ctx context.Context, url string) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	if err := c.lib.patternError(url); err != nil {
		return -1, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.patterns[url]; ok {
		return id, nil
	}
	id := len(c.patterns)
	c.patterns[url] = id
	return id, nil
}

// SetProjectionNearPlane implements tracking.Controller.
func (c *Controller) SetProjectionNearPlane(near float64) {
	c.set("near_plane", func(s *Settings) { s.Near = near })
}

// SetProjectionFarPlane implements tracking.Controller.
func (c *Controller) SetProjectionFarPlane(far float64) {
	c.set("far_plane", func(s *Settings) { s.Far = far })
}

// SetThreshold implements tracking.Controller.
func (c *Controller) SetThreshold(threshold int) {
	c.set(string(tracking.OptionThreshold), func(s *Settings) { s.Threshold = threshold })
}

// SetThresholdMode implements tracking.Controller.
func (c *Controller) SetThresholdMode(mode tracking.ThresholdMode) {
	c.set(string(tracking.OptionThresholdMode), func(s *Settings) { s.ThresholdMode = mode })
}

// SetPatternDetectionMode implements tracking.Controller.
func (c *Controller) SetPatternDetectionMode(mode tracking.DetectionMode) {
	c.set(string(tracking.OptionDetectionMode), func(s *Settings) { s.DetectionMode = mode })
}

// SetImageProcMode implements tracking.Controller.
func (c *Controller) SetImageProcMode(mode tracking.ProcessingMode) {
	c.set(string(tracking.OptionProcessingMode), func(s *Settings) { s.ProcessingMode = mode })
}

// SetLabelingMode implements tracking.Controller.
func (c *Controller) SetLabelingMode(mode tracking.LabelingMode) {
	c.set(string(tracking.OptionLabelingMode), func(s *Settings) { s.LabelingMode = mode })
}

// SetMatrixCodeType implements tracking.Controller.
func (c *Controller) SetMatrixCodeType(codeType tracking.MatrixCodeType) {
	c.set(string(tracking.OptionMatrixCodeType), func(s *Settings) { s.MatrixCodeType = codeType })
}

// SetDebugMode implements tracking.Controller.
func (c *Controller) SetDebugMode(enabled bool) {
	c.set(string(tracking.OptionDebugOverlay), func(s *Settings) { s.DebugMode = enabled })
}

// SetLogLevel implements tracking.Controller.
func (c *Controller) SetLogLevel(level int) {
	c.set("log_level", func(s *Settings) { s.LogLevel = level })
}

// Close implements tracking.Controller.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("controller already closed")
	}
	c.closed = true
	return nil
}
