// Package inject provides function-field test doubles for the tracking interfaces.
package inject

import (
	"context"

	"github.com/go-gl/mathgl/mgl64"

	"go.viam.com/armarker/tracking"
)

// TrackingLibrary is an injected tracking library.
type TrackingLibrary struct {
	tracking.Library
	LoadCalibrationFunc func(ctx context.Context, url string) (tracking.Calibration, error)
	NewControllerFunc   func(width, height int, calib tracking.Calibration) (tracking.Controller, error)
}

// LoadCalibration calls the injected LoadCalibration or the real version.
func (l *TrackingLibrary) LoadCalibration(ctx context.Context, url string) (tracking.Calibration, error) {
	if l.LoadCalibrationFunc == nil {
		return l.Library.LoadCalibration(ctx, url)
	}
	return l.LoadCalibrationFunc(ctx, url)
}

// NewController calls the injected NewController or the real version.
func (l *TrackingLibrary) NewController(width, height int, calib tracking.Calibration) (tracking.Controller, error) {
	if l.NewControllerFunc == nil {
		return l.Library.NewController(width, height, calib)
	}
	return l.NewControllerFunc(width, height, calib)
}

// TrackingController is an injected tracking controller. Setters without an injected function are
// passed to the embedded controller.
type TrackingController struct {
	tracking.Controller
	ProcessFunc          func(ctx context.Context, frame tracking.Frame) ([]tracking.Detection, error)
	ProjectionMatrixFunc func() mgl64.Mat4
	LoadPatternFunc      func(ctx context.Context, url string) (int, error)
	SetThresholdFunc     func(threshold int)
	CloseFunc            func() error
}

// Process calls the injected Process or the real version.
func (c *TrackingController) Process(ctx context.Context, frame tracking.Frame) ([]tracking.Detection, error) {
	if c.ProcessFunc == nil {
		return c.Controller.Process(ctx, frame)
	}
	return c.ProcessFunc(ctx, frame)
}

// ProjectionMatrix calls the injected ProjectionMatrix or the real version.
func (c *TrackingController) ProjectionMatrix() mgl64.Mat4 {
	if c.ProjectionMatrixFunc == nil {
		return c.Controller.ProjectionMatrix()
	}
	return c.ProjectionMatrixFunc()
}

// LoadPattern calls the injected LoadPattern or the real version.
func (c *TrackingController) LoadPattern(ctx context.Context, url string) (int, error) {
	if c.LoadPatternFunc == nil {
		return c.Controller.LoadPattern(ctx, url)
	}
	return c.LoadPatternFunc(ctx, url)
}

// SetThreshold calls the injected SetThreshold or the real version.
func (c *TrackingController) SetThreshold(threshold int) {
	if c.SetThresholdFunc == nil {
		c.Controller.SetThreshold(threshold)
		return
	}
	c.SetThresholdFunc(threshold)
}

// Close calls the injected Close or the real version.
func (c *TrackingController) Close() error {
	if c.CloseFunc == nil {
		return c.Controller.Close()
	}
	return c.CloseFunc()
}

// VideoSource is an injected video source.
type VideoSource struct {
	StartFunc func(ctx context.Context) (tracking.Size, error)
}

// Start calls the injected Start.
func (v *VideoSource) Start(ctx context.Context) (tracking.Size, error) {
	return v.StartFunc(ctx)
}

// TrackingListener is an injected tracking listener. Methods without an injected function do
// nothing.
type TrackingListener struct {
	TrackingInitializedFunc func(reg tracking.Registrar)
	DetectionFunc           func(ev tracking.DetectionEvent)
}

// TrackingInitialized calls the injected TrackingInitialized.
func (l *TrackingListener) TrackingInitialized(reg tracking.Registrar) {
	if l.TrackingInitializedFunc != nil {
		l.TrackingInitializedFunc(reg)
	}
}

// Detection calls the injected Detection.
func (l *TrackingListener) Detection(ev tracking.DetectionEvent) {
	if l.DetectionFunc != nil {
		l.DetectionFunc(ev)
	}
}
