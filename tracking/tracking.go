// Package tracking drives a black-box optical marker tracking library: it loads the camera
// calibration, owns the library handle, forwards configuration, runs frames through the library
// and fans the resulting detections out to subscribed listeners.
package tracking

import (
	"context"
	"image"

	"github.com/go-gl/mathgl/mgl64"

	"go.viam.com/armarker/spatialmath"
)

// Size is a width/height pair in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// Aspect returns width / height.
func (s Size) Aspect() float64 {
	return float64(s.Width) / float64(s.Height)
}

// Frame is one video frame handed to the tracker. The session only reads its dimensions; the
// image itself is passed through to the library untouched.
type Frame struct {
	Width  int
	Height int
	Image  image.Image
}

// Calibration is opaque camera calibration data produced by the library.
type Calibration interface {
	Close() error
}

// Library creates calibration data and tracker handles.
type Library interface {
	// LoadCalibration loads the calibration asset at url. It may block.
	LoadCalibration(ctx context.Context, url string) (Calibration, error)
	// NewController creates a tracker for frames of the given size.
	NewController(width, height int, calib Calibration) (Controller, error)
}

// Controller is a live tracker handle. The session serializes calls to it, except for LoadPattern
// which it runs on a worker goroutine.
type Controller interface {
	// Process runs detection on one frame and returns every marker seen in it.
	Process(ctx context.Context, frame Frame) ([]Detection, error)
	// ProjectionMatrix returns the column-major projection derived from the calibration.
	ProjectionMatrix() mgl64.Mat4
	// LoadPattern registers a template pattern and returns the id detections will carry.
	LoadPattern(ctx context.Context, url string) (int, error)

	SetProjectionNearPlane(near float64)
	SetProjectionFarPlane(far float64)
	SetThreshold(threshold int)
	SetThresholdMode(mode ThresholdMode)
	SetPatternDetectionMode(mode DetectionMode)
	SetImageProcMode(mode ProcessingMode)
	SetLabelingMode(mode LabelingMode)
	SetMatrixCodeType(codeType MatrixCodeType)
	SetDebugMode(enabled bool)
	SetLogLevel(level int)

	Close() error
}

// RenderCamera is the scene camera whose frustum must match the video.
type RenderCamera interface {
	NearClip() float64
	FarClip() float64
	SetFieldOfView(degrees float64)
}

// VideoSource produces the camera stream frames come from.
type VideoSource interface {
	// Start acquires the stream and returns the frame size once the first frame is ready.
	Start(ctx context.Context) (Size, error)
}

// MarkerKind tells template-pattern detections from matrix-code detections.
type MarkerKind int

const (
	// PatternMarker is a pictorial template marker whose id was issued by LoadPattern.
	PatternMarker MarkerKind = iota
	// BarcodeMarker is a 2D matrix-code marker whose id is encoded in the marker itself.
	BarcodeMarker
)

func (k MarkerKind) String() string {
	switch k {
	case PatternMarker:
		return "pattern"
	case BarcodeMarker:
		return "barcode"
	default:
		return "unknown"
	}
}

// Detection is one sighting of one marker in one frame.
type Detection struct {
	Kind MarkerKind
	ID   int
	// Matrix is the camera-relative marker pose: 16 values for a column-major 4x4 matrix or 12
	// values for a row-major 3x4 matrix.
	Matrix     []float64
	Confidence float64
}

// DetectionEvent is a Detection as delivered to listeners.
type DetectionEvent struct {
	Detection
	// Orientation is the session's feed orientation when the frame was processed.
	Orientation spatialmath.ScreenOrientation
	// FrameNumber counts processed frames since the session was created.
	FrameNumber uint64
}

// Registrar lets a listener register patterns with the tracker while handling
// TrackingInitialized. It must not be retained past that call.
type Registrar interface {
	// RegisterPattern loads the pattern at url in the background. done runs on the goroutine
	// driving the session, during a later Update.
	RegisterPattern(url string, done func(id int, err error))
}

// Listener receives the session's notifications. Both methods run on the goroutine driving the
// session.
type Listener interface {
	TrackingInitialized(reg Registrar)
	Detection(ev DetectionEvent)
}
