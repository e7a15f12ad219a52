// Package fake implements a scripted tracking library. It does no image processing: each processed
// frame returns the next entry of a script, filtered the way the real library would filter it.
package fake

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"go.viam.com/armarker/logging"
	"go.viam.com/armarker/tracking"
	"go.viam.com/armarker/utils"
)

// ErrNoIntrinsics is returned when a calibration carries no usable camera intrinsics.
var ErrNoIntrinsics = errors.New("camera intrinsic parameters are not available")

// Intrinsics are pinhole camera parameters in pixels, measured at Width x Height.
type Intrinsics struct {
	Width  int     `json:"width_px"`
	Height int     `json:"height_px"`
	Fx     float64 `json:"fx"`
	Fy     float64 `json:"fy"`
	Ppx    float64 `json:"ppx"`
	Ppy    float64 `json:"ppy"`
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (params *Intrinsics) CheckValid() error {
	if params == nil {
		return errors.Wrap(ErrNoIntrinsics, "intrinsics do not exist")
	}
	if params.Width <= 0 || params.Height <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid size (%d, %d)", params.Width, params.Height)
	}
	if params.Fx <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fx = %v", params.Fx)
	}
	if params.Fy <= 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid focal length Fy = %v", params.Fy)
	}
	if params.Ppx < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid principal X point Ppx = %v", params.Ppx)
	}
	if params.Ppy < 0 {
		return errors.Wrapf(ErrNoIntrinsics, "invalid principal Y point Ppy = %v", params.Ppy)
	}
	return nil
}

// NewIntrinsicsFromJSONFile reads Intrinsics from a JSON file.
func NewIntrinsicsFromJSONFile(jsonPath string) (*Intrinsics, error) {
	//nolint:gosec
	jsonFile, err := os.Open(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, "error opening JSON file")
	}
	defer goutils.UncheckedErrorFunc(jsonFile.Close)
	byteValue, err := io.ReadAll(jsonFile)
	if err != nil {
		return nil, errors.Wrap(err, "error reading JSON data")
	}
	intrinsics := &Intrinsics{}
	if err := json.Unmarshal(byteValue, intrinsics); err != nil {
		return nil, errors.Wrap(err, "error parsing JSON string")
	}
	return intrinsics, nil
}

// Calibration is the fake library's calibration handle.
type Calibration struct {
	URL        string
	Intrinsics Intrinsics

	mu     sync.Mutex
	closed bool
}

// Close releases the calibration. Closing twice is an error.
func (c *Calibration) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.Errorf("calibration %q already closed", c.URL)
	}
	c.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (c *Calibration) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ScriptedDetection is one marker the script makes visible in a frame. Exactly one of Pattern and
// Barcode identifies it: Pattern is the url a pattern was registered from, Barcode a matrix code
// id.
type ScriptedDetection struct {
	Pattern    string    `json:"pattern,omitempty"`
	Barcode    *int      `json:"barcode,omitempty"`
	Matrix     []float64 `json:"matrix"`
	Confidence float64   `json:"confidence,omitempty"`
}

// Library is a tracking.Library whose controllers replay a script.
type Library struct {
	logger logging.Logger

	mu               sync.Mutex
	calibrations     map[string]Intrinsics
	script           [][]ScriptedDetection
	calibrationErr   error
	controllerErr    error
	processErrAt     int
	failingPatterns  map[string]error
	calibrationGate  chan struct{}
	controllers      []*Controller
	loadedCalibCount int
}

// NewLibrary returns an empty fake library. Calibrations not added with AddCalibration are read
// from the file system.
func NewLibrary(logger logging.Logger) *Library {
	return &Library{
		logger:          logger,
		calibrations:    map[string]Intrinsics{},
		failingPatterns: map[string]error{},
		processErrAt:    -1,
	}
}

// AddCalibration makes url resolve to intrinsics without touching the file system.
func (lib *Library) AddCalibration(url string, intrinsics Intrinsics) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.calibrations[url] = intrinsics
}

// SetScript sets the detections returned frame by frame. Frames past the end see nothing.
func (lib *Library) SetScript(frames [][]ScriptedDetection) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.script = frames
}

// FailCalibration makes every following LoadCalibration return err. A nil err clears it.
func (lib *Library) FailCalibration(err error) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.calibrationErr = err
}

// FailController makes every following NewController return err. A nil err clears it.
func (lib *Library) FailController(err error) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.controllerErr = err
}

// FailProcessingAt makes the frame with the given zero-based index fail on every controller.
func (lib *Library) FailProcessingAt(frame int) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.processErrAt = frame
}

// FailPattern makes loading the pattern at url return err.
func (lib *Library) FailPattern(url string, err error) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	lib.failingPatterns[url] = err
}

// HoldCalibration makes LoadCalibration block until the returned function is called or the load's
// context is done.
func (lib *Library) HoldCalibration() (release func()) {
	gate := make(chan struct{})
	lib.mu.Lock()
	lib.calibrationGate = gate
	lib.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Controllers returns every controller created so far, oldest first.
func (lib *Library) Controllers() []*Controller {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	return append([]*Controller(nil), lib.controllers...)
}

// LastController returns the newest controller, or nil.
func (lib *Library) LastController() *Controller {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if len(lib.controllers) == 0 {
		return nil
	}
	return lib.controllers[len(lib.controllers)-1]
}

// LoadedCalibrations returns how many calibrations were loaded successfully.
func (lib *Library) LoadedCalibrations() int {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	return lib.loadedCalibCount
}

// LoadCalibration implements tracking.Library.
func (lib *Library) LoadCalibration(ctx context.Context, url string) (tracking.Calibration, error) {
	lib.mu.Lock()
	gate, failErr := lib.calibrationGate, lib.calibrationErr
	intrinsics, known := lib.calibrations[url]
	lib.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if failErr != nil {
		return nil, failErr
	}
	if !known {
		fromFile, err := NewIntrinsicsFromJSONFile(strings.TrimPrefix(url, "file://"))
		if err != nil {
			return nil, errors.Wrapf(err, "cannot load calibration %q", url)
		}
		intrinsics = *fromFile
	}
	if err := intrinsics.CheckValid(); err != nil {
		return nil, err
	}

	lib.mu.Lock()
	lib.loadedCalibCount++
	lib.mu.Unlock()
	lib.logger.Debugw("loaded calibration", "url", url, "width", intrinsics.Width, "height", intrinsics.Height)
	return &Calibration{URL: url, Intrinsics: intrinsics}, nil
}

// NewController implements tracking.Library.
func (lib *Library) NewController(width, height int, calib tracking.Calibration) (tracking.Controller, error) {
	c, ok := calib.(*Calibration)
	if !ok {
		return nil, utils.NewUnexpectedTypeError(&Calibration{}, calib)
	}
	if c.Closed() {
		return nil, errors.Errorf("calibration %q is closed", c.URL)
	}
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid controller size %dx%d", width, height)
	}

	lib.mu.Lock()
	defer lib.mu.Unlock()
	if lib.controllerErr != nil {
		return nil, lib.controllerErr
	}
	ctrl := newController(lib, width, height, c.Intrinsics)
	lib.controllers = append(lib.controllers, ctrl)
	return ctrl, nil
}

// scriptFrame returns the script entry for frame and whether that frame should fail.
func (lib *Library) scriptFrame(frame int) ([]ScriptedDetection, bool) {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	if frame == lib.processErrAt {
		return nil, true
	}
	if frame < 0 || frame >= len(lib.script) {
		return nil, false
	}
	return lib.script[frame], false
}

func (lib *Library) patternError(url string) error {
	lib.mu.Lock()
	defer lib.mu.Unlock()
	return lib.failingPatterns[url]
}
