package tracking_test

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/armarker/logging"
	"go.viam.com/armarker/scene"
	"go.viam.com/armarker/spatialmath"
	"go.viam.com/armarker/testutils/inject"
	"go.viam.com/armarker/tracking"
	"go.viam.com/armarker/tracking/fake"
)

const calibrationURL = "data/camera_para.json"

// fy = height / 2 gives a projection with m[5] == 1, a 90 degree vertical field of view.
var testIntrinsics = fake.Intrinsics{Width: 640, Height: 480, Fx: 240, Fy: 240, Ppx: 320, Ppy: 240}

func newTestSession(t *testing.T, cfg tracking.Config, logger logging.Logger) (*tracking.Session, *fake.Library, *scene.PerspectiveCamera) {
	t.Helper()
	lib := fake.NewLibrary(logger)
	lib.AddCalibration(calibrationURL, testIntrinsics)
	camera := scene.NewPerspectiveCamera(0.5, 500, 45)
	s, err := tracking.NewSession(lib, camera, cfg, logger)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { s.Stop() })
	return s, lib, camera
}

func startAndAwait(t *testing.T, s *tracking.Session, width, height int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	test.That(t, s.Start(ctx, calibrationURL, width, height), test.ShouldBeNil)
	test.That(t, s.Await(ctx), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, tracking.StateReady)
}

func barcode(id int) *int {
	return &id
}

type recorder struct {
	inject.TrackingListener
	initialized int
	events      []tracking.DetectionEvent
}

func newRecorder() *recorder {
	r := &recorder{}
	r.TrackingInitializedFunc = func(tracking.Registrar) { r.initialized++ }
	r.DetectionFunc = func(ev tracking.DetectionEvent) { r.events = append(r.events, ev) }
	return r
}

func TestSessionStart(t *testing.T) {
	logger := logging.NewTestLogger(t)
	s, lib, camera := newTestSession(t, tracking.DefaultConfig(), logger)
	rec := newRecorder()
	s.Subscribe(rec)

	test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)
	startAndAwait(t, s, 640, 480)

	test.That(t, rec.initialized, test.ShouldEqual, 1)
	test.That(t, lib.LoadedCalibrations(), test.ShouldEqual, 1)
	ctrl := lib.LastController()
	test.That(t, ctrl, test.ShouldNotBeNil)
	settings := ctrl.Settings()
	test.That(t, settings.Width, test.ShouldEqual, 640)
	test.That(t, settings.Height, test.ShouldEqual, 480)
	test.That(t, settings.LogLevel, test.ShouldEqual, 4)
	test.That(t, settings.Near, test.ShouldEqual, 0.5)
	test.That(t, settings.Far, test.ShouldEqual, 500.0)
	test.That(t, settings.Threshold, test.ShouldEqual, tracking.DefaultThreshold)
	test.That(t, settings.LabelingMode, test.ShouldEqual, tracking.LabelBlackRegion)
	test.That(t, camera.FieldOfView(), test.ShouldAlmostEqual, 90.0)
	test.That(t, s.Orientation(), test.ShouldEqual, spatialmath.Landscape)

	err := s.Start(context.Background(), calibrationURL, 640, 480)
	test.That(t, err, test.ShouldBeError, tracking.ErrAlreadyStarted)
}

func TestSessionStartErrors(t *testing.T) {
	t.Run("missing calibration", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logger)
		err := s.Start(context.Background(), "", 640, 480)
		test.That(t, err, test.ShouldBeError, tracking.ErrMissingCalibration)
		test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)
		test.That(t, s.Err(), test.ShouldBeError, tracking.ErrMissingCalibration)
		test.That(t, logs.FilterMessage("cannot start tracking").Len(), test.ShouldEqual, 1)
		test.That(t, lib.LoadedCalibrations(), test.ShouldEqual, 0)
	})

	t.Run("invalid frame size", func(t *testing.T) {
		s, _, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		err := s.Start(context.Background(), calibrationURL, 0, 480)
		test.That(t, errors.Is(err, tracking.ErrInvalidFrameSize), test.ShouldBeTrue)
		test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)
	})

	t.Run("calibration load failure", func(t *testing.T) {
		logger, logs := logging.NewObservedTestLogger(t)
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logger)
		lib.FailCalibration(errors.New("no such file"))
		rec := newRecorder()
		s.Subscribe(rec)

		test.That(t, s.Start(context.Background(), calibrationURL, 640, 480), test.ShouldBeNil)
		err := s.Await(context.Background())
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no such file")
		test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)
		test.That(t, s.Err(), test.ShouldEqual, err)
		test.That(t, lib.Controllers(), test.ShouldBeEmpty)
		test.That(t, rec.initialized, test.ShouldEqual, 0)
		test.That(t, logs.FilterMessage("tracking initialization failed").Len(), test.ShouldEqual, 1)

		// nothing retries on its own, but a later Start can succeed
		lib.FailCalibration(nil)
		startAndAwait(t, s, 640, 480)
		test.That(t, s.Err(), test.ShouldBeNil)
		test.That(t, rec.initialized, test.ShouldEqual, 1)
	})

	t.Run("controller creation failure", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		lib.FailController(errors.New("out of memory"))
		test.That(t, s.Start(context.Background(), calibrationURL, 640, 480), test.ShouldBeNil)
		err := s.Await(context.Background())
		test.That(t, err.Error(), test.ShouldContainSubstring, "out of memory")
		test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)
	})
}

func TestSessionOptionReplay(t *testing.T) {
	t.Run("threshold is clamped and cached until the controller exists", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		test.That(t, s.SetThreshold(300), test.ShouldBeNil)
		test.That(t, s.Settings().Threshold, test.ShouldEqual, 255.0)
		test.That(t, lib.LastController(), test.ShouldBeNil)

		startAndAwait(t, s, 640, 480)
		test.That(t, lib.LastController().Settings().Threshold, test.ShouldEqual, 255)
	})

	t.Run("threshold rounding", func(t *testing.T) {
		s, _, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		test.That(t, s.SetThreshold(-5), test.ShouldBeNil)
		test.That(t, s.Settings().Threshold, test.ShouldEqual, 0.0)
		test.That(t, s.SetThreshold(12.7), test.ShouldBeNil)
		test.That(t, s.Settings().Threshold, test.ShouldEqual, 12.0)
	})

	t.Run("caller settings replay after the defaults in first-set order", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		test.That(t, s.SetDetectionMode(tracking.DetectMatrix), test.ShouldBeNil)
		test.That(t, s.SetThresholdMode(tracking.ThresholdAutoOtsu), test.ShouldBeNil)
		test.That(t, s.SetDetectionMode(tracking.DetectMonoTemplateAndMatrix), test.ShouldBeNil)
		test.That(t, s.SetMatrixCodeType(tracking.MatrixCode4x4BCH1393), test.ShouldBeNil)
		s.SetDebugOverlay(true)

		startAndAwait(t, s, 640, 480)
		settings := lib.LastController().Settings()
		test.That(t, settings.DetectionMode, test.ShouldEqual, tracking.DetectMonoTemplateAndMatrix)
		test.That(t, settings.ThresholdMode, test.ShouldEqual, tracking.ThresholdAutoOtsu)
		test.That(t, settings.MatrixCodeType, test.ShouldEqual, tracking.MatrixCode4x4BCH1393)
		test.That(t, settings.DebugMode, test.ShouldBeTrue)
		test.That(t, settings.Calls, test.ShouldResemble, []string{
			"log_level", "near_plane", "far_plane",
			"processing_mode", "labeling_mode", "threshold",
			"detection_mode", "threshold_mode", "matrix_code_type", "debug_overlay",
		})
	})

	t.Run("settings apply immediately once started", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		startAndAwait(t, s, 640, 480)
		test.That(t, s.SetThreshold(50), test.ShouldBeNil)
		test.That(t, s.SetProcessingMode(tracking.ProcessField), test.ShouldBeNil)
		settings := lib.LastController().Settings()
		test.That(t, settings.Threshold, test.ShouldEqual, 50)
		test.That(t, settings.ProcessingMode, test.ShouldEqual, tracking.ProcessField)
	})

	t.Run("settings survive a restart", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		startAndAwait(t, s, 640, 480)
		test.That(t, s.SetThreshold(42), test.ShouldBeNil)
		test.That(t, s.Stop(), test.ShouldBeNil)

		startAndAwait(t, s, 640, 480)
		test.That(t, len(lib.Controllers()), test.ShouldEqual, 2)
		test.That(t, lib.LastController().Settings().Threshold, test.ShouldEqual, 42)
	})

	t.Run("tracker resolution scales the controller", func(t *testing.T) {
		cfg := tracking.DefaultConfig()
		cfg.TrackerResolution = tracking.ResolutionHalf
		s, lib, _ := newTestSession(t, cfg, logging.NewTestLogger(t))
		startAndAwait(t, s, 640, 480)
		settings := lib.LastController().Settings()
		test.That(t, settings.Width, test.ShouldEqual, 320)
		test.That(t, settings.Height, test.ShouldEqual, 240)
	})
}

func TestSessionInvalidOption(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logger)
	startAndAwait(t, s, 640, 480)
	test.That(t, s.SetThresholdMode(tracking.ThresholdAutoMedian), test.ShouldBeNil)

	err := s.SetThresholdMode(tracking.ThresholdMode(99))
	var cfgErr *tracking.ConfigError
	test.That(t, errors.As(err, &cfgErr), test.ShouldBeTrue)
	test.That(t, cfgErr.Option, test.ShouldEqual, tracking.OptionThresholdMode)
	test.That(t, err.Error(), test.ShouldEqual, "99 is an invalid threshold mode: out of range")
	test.That(t, logs.FilterMessage("invalid tracking setting").Len(), test.ShouldEqual, 1)

	test.That(t, s.Settings().ThresholdMode, test.ShouldEqual, tracking.ThresholdAutoMedian)
	test.That(t, lib.LastController().Settings().ThresholdMode, test.ShouldEqual, tracking.ThresholdAutoMedian)

	test.That(t, s.SetThreshold(math.NaN()), test.ShouldNotBeNil)
	test.That(t, s.Settings().Threshold, test.ShouldEqual, float64(tracking.DefaultThreshold))
}

func TestSessionSetOption(t *testing.T) {
	s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
	startAndAwait(t, s, 640, 480)

	test.That(t, s.SetOption("threshold", "128"), test.ShouldBeNil)
	test.That(t, s.SetOption("threshold_mode", "auto_otsu"), test.ShouldBeNil)
	test.That(t, s.SetOption("detection_mode", 2), test.ShouldBeNil)
	test.That(t, s.SetOption("labeling_mode", "WHITE_REGION"), test.ShouldBeNil)
	test.That(t, s.SetOption("debug_overlay", "true"), test.ShouldBeNil)
	test.That(t, s.SetOption("track_alternate_frames", 1), test.ShouldBeNil)
	test.That(t, s.SetOption("tracker_resolution", "quarter"), test.ShouldBeNil)

	settings := lib.LastController().Settings()
	test.That(t, settings.Threshold, test.ShouldEqual, 128)
	test.That(t, settings.ThresholdMode, test.ShouldEqual, tracking.ThresholdAutoOtsu)
	test.That(t, settings.DetectionMode, test.ShouldEqual, tracking.DetectMatrix)
	test.That(t, settings.LabelingMode, test.ShouldEqual, tracking.LabelWhiteRegion)
	test.That(t, settings.DebugMode, test.ShouldBeTrue)
	test.That(t, s.Settings().TrackAlternateFrames, test.ShouldBeTrue)
	test.That(t, s.Settings().TrackerResolution, test.ShouldEqual, tracking.ResolutionQuarter)

	var cfgErr *tracking.ConfigError
	err := s.SetOption("exposure", 3)
	test.That(t, errors.As(err, &cfgErr), test.ShouldBeTrue)
	test.That(t, cfgErr.Reason, test.ShouldEqual, "unknown option")

	test.That(t, errors.As(s.SetOption("threshold_mode", "sometimes"), &cfgErr), test.ShouldBeTrue)
	test.That(t, errors.As(s.SetOption("matrix_code_type", 17), &cfgErr), test.ShouldBeTrue)
	test.That(t, errors.As(s.SetOption("threshold", []int{1}), &cfgErr), test.ShouldBeTrue)
	test.That(t, errors.As(s.SetOption("debug_overlay", "perhaps"), &cfgErr), test.ShouldBeTrue)
	test.That(t, lib.LastController().Settings().ThresholdMode, test.ShouldEqual, tracking.ThresholdAutoOtsu)
}

func TestSessionProcessFrame(t *testing.T) {
	s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
	rec := newRecorder()
	s.Subscribe(rec)
	ctx := context.Background()
	identity := mgl64.Ident4()

	lib.SetScript([][]fake.ScriptedDetection{
		{{Barcode: barcode(5), Matrix: identity[:]}, {Pattern: "hiro.patt", Matrix: identity[:]}},
		{{Barcode: barcode(7), Matrix: identity[:], Confidence: 0.5}},
	})

	// nothing happens before the controller exists
	test.That(t, s.ProcessFrame(ctx, tracking.Frame{Width: 640, Height: 480}), test.ShouldBeNil)
	test.That(t, rec.events, test.ShouldBeEmpty)

	test.That(t, s.SetDetectionMode(tracking.DetectMatrix), test.ShouldBeNil)
	startAndAwait(t, s, 480, 640)

	test.That(t, s.ProcessFrame(ctx, tracking.Frame{Width: 480, Height: 640}), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, tracking.StateIdle)
	test.That(t, rec.events, test.ShouldHaveLength, 1)
	test.That(t, rec.events[0].Kind, test.ShouldEqual, tracking.BarcodeMarker)
	test.That(t, rec.events[0].ID, test.ShouldEqual, 5)
	test.That(t, rec.events[0].Orientation, test.ShouldEqual, spatialmath.Portrait)
	test.That(t, rec.events[0].FrameNumber, test.ShouldEqual, uint64(1))

	test.That(t, s.ProcessFrame(ctx, tracking.Frame{Width: 480, Height: 640}), test.ShouldBeNil)
	test.That(t, rec.events, test.ShouldHaveLength, 2)
	test.That(t, rec.events[1].ID, test.ShouldEqual, 7)
	test.That(t, rec.events[1].Confidence, test.ShouldEqual, 0.5)
	test.That(t, rec.events[1].FrameNumber, test.ShouldEqual, uint64(2))

	second := newRecorder()
	sub := s.Subscribe(second)
	s.Unsubscribe(sub)
	lib.SetScript([][]fake.ScriptedDetection{nil, nil, {{Barcode: barcode(1), Matrix: identity[:]}}})
	test.That(t, s.ProcessFrame(ctx, tracking.Frame{Width: 480, Height: 640}), test.ShouldBeNil)
	test.That(t, rec.events, test.ShouldHaveLength, 3)
	test.That(t, second.events, test.ShouldBeEmpty)
}

func TestSessionAlternateFrames(t *testing.T) {
	cfg := tracking.DefaultConfig()
	cfg.TrackAlternateFrames = true
	s, lib, _ := newTestSession(t, cfg, logging.NewTestLogger(t))
	startAndAwait(t, s, 640, 480)

	for i := 0; i < 5; i++ {
		test.That(t, s.ProcessFrame(context.Background(), tracking.Frame{Width: 640, Height: 480}), test.ShouldBeNil)
	}
	test.That(t, lib.LastController().Frames(), test.ShouldEqual, 3)

	s.SetTrackAlternateFrames(false)
	for i := 0; i < 4; i++ {
		test.That(t, s.ProcessFrame(context.Background(), tracking.Frame{Width: 640, Height: 480}), test.ShouldBeNil)
	}
	test.That(t, lib.LastController().Frames(), test.ShouldEqual, 7)
}

func TestSessionFaulted(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logger)
	lib.FailProcessingAt(1)
	startAndAwait(t, s, 640, 480)
	ctx := context.Background()
	frame := tracking.Frame{Width: 640, Height: 480}

	test.That(t, s.ProcessFrame(ctx, frame), test.ShouldBeNil)
	err := s.ProcessFrame(ctx, frame)
	test.That(t, errors.Is(err, fake.ErrProcessing), test.ShouldBeTrue)
	test.That(t, s.State(), test.ShouldEqual, tracking.StateFaulted)
	test.That(t, logs.FilterMessage("tracking faulted").Len(), test.ShouldEqual, 1)

	test.That(t, s.ProcessFrame(ctx, frame), test.ShouldBeNil)
	test.That(t, lib.LastController().Frames(), test.ShouldEqual, 2)
	test.That(t, s.Start(ctx, calibrationURL, 640, 480), test.ShouldBeError, tracking.ErrFaulted)

	lib.FailProcessingAt(-1)
	test.That(t, s.Stop(), test.ShouldBeNil)
	startAndAwait(t, s, 640, 480)
	test.That(t, s.ProcessFrame(ctx, frame), test.ShouldBeNil)
	test.That(t, lib.LastController().Frames(), test.ShouldEqual, 1)
}

func TestSessionStop(t *testing.T) {
	t.Run("idempotent", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		test.That(t, s.Stop(), test.ShouldBeNil)
		test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)

		startAndAwait(t, s, 640, 480)
		ctrl := lib.LastController()
		test.That(t, s.Stop(), test.ShouldBeNil)
		test.That(t, ctrl.Closed(), test.ShouldBeTrue)
		test.That(t, s.State(), test.ShouldEqual, tracking.StateStopped)
		test.That(t, s.Stop(), test.ShouldBeNil)
		test.That(t, s.State(), test.ShouldEqual, tracking.StateStopped)

		test.That(t, s.ProcessFrame(context.Background(), tracking.Frame{Width: 640, Height: 480}), test.ShouldBeNil)
		test.That(t, ctrl.Frames(), test.ShouldEqual, 0)
	})

	t.Run("while the calibration is loading", func(t *testing.T) {
		s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		release := lib.HoldCalibration()
		defer release()
		rec := newRecorder()
		s.Subscribe(rec)

		test.That(t, s.Start(context.Background(), calibrationURL, 640, 480), test.ShouldBeNil)
		test.That(t, s.State(), test.ShouldEqual, tracking.StateAwaitingCalibration)
		test.That(t, s.Stop(), test.ShouldBeNil)
		s.Update()
		test.That(t, s.State(), test.ShouldEqual, tracking.StateStopped)
		test.That(t, lib.Controllers(), test.ShouldBeEmpty)
		test.That(t, rec.initialized, test.ShouldEqual, 0)
	})

	t.Run("release errors are combined", func(t *testing.T) {
		logger := logging.NewTestLogger(t)
		lib := fake.NewLibrary(logger)
		lib.AddCalibration(calibrationURL, testIntrinsics)
		injected := &inject.TrackingLibrary{Library: lib}
		injected.NewControllerFunc = func(w, h int, calib tracking.Calibration) (tracking.Controller, error) {
			ctrl, err := lib.NewController(w, h, calib)
			if err != nil {
				return nil, err
			}
			return &inject.TrackingController{
				Controller: ctrl,
				CloseFunc:  func() error { return errors.New("busy") },
			}, nil
		}
		s, err := tracking.NewSession(injected, scene.NewPerspectiveCamera(0.1, 100, 45), tracking.DefaultConfig(), logger)
		test.That(t, err, test.ShouldBeNil)
		startAndAwait(t, s, 640, 480)

		err = s.Stop()
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "busy")
		test.That(t, s.State(), test.ShouldEqual, tracking.StateStopped)
		test.That(t, s.Stop(), test.ShouldBeNil)
	})
}

func TestSessionWait(t *testing.T) {
	s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
	release := lib.HoldCalibration()
	defer release()
	test.That(t, s.Start(context.Background(), calibrationURL, 640, 480), test.ShouldBeNil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	test.That(t, s.Wait(ctx), test.ShouldBeError, context.DeadlineExceeded)

	release()
	ctx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	test.That(t, s.Wait(ctx), test.ShouldBeNil)
	test.That(t, s.State(), test.ShouldEqual, tracking.StateAwaitingCalibration)
	s.Update()
	test.That(t, s.State(), test.ShouldEqual, tracking.StateReady)
}

func TestSessionPatternRegistration(t *testing.T) {
	s, lib, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
	lib.FailPattern("broken.patt", errors.New("bad pattern file"))

	type result struct {
		id  int
		err error
	}
	results := map[string]*result{}
	listener := &inject.TrackingListener{}
	listener.TrackingInitializedFunc = func(reg tracking.Registrar) {
		for _, url := range []string{"hiro.patt", "kanji.patt", "broken.patt"} {
			url := url
			reg.RegisterPattern(url, func(id int, err error) {
				results[url] = &result{id: id, err: err}
			})
		}
	}
	s.Subscribe(listener)
	startAndAwait(t, s, 640, 480)

	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		s.Update()
		test.That(tb, results, test.ShouldHaveLength, 3)
	})
	test.That(t, results["hiro.patt"].err, test.ShouldBeNil)
	test.That(t, results["kanji.patt"].err, test.ShouldBeNil)
	test.That(t, results["hiro.patt"].id, test.ShouldNotEqual, results["kanji.patt"].id)
	test.That(t, results["broken.patt"].err.Error(), test.ShouldContainSubstring, "bad pattern file")
	test.That(t, results["broken.patt"].id, test.ShouldEqual, -1)

	identity := mgl64.Ident4()
	lib.SetScript([][]fake.ScriptedDetection{{{Pattern: "kanji.patt", Matrix: identity[:]}}})
	rec := newRecorder()
	s.Subscribe(rec)
	test.That(t, s.ProcessFrame(context.Background(), tracking.Frame{Width: 640, Height: 480}), test.ShouldBeNil)
	test.That(t, rec.events, test.ShouldHaveLength, 1)
	test.That(t, rec.events[0].Kind, test.ShouldEqual, tracking.PatternMarker)
	test.That(t, rec.events[0].ID, test.ShouldEqual, results["kanji.patt"].id)

	// late subscribers are initialized on the next update
	test.That(t, rec.initialized, test.ShouldEqual, 0)
	s.Update()
	test.That(t, rec.initialized, test.ShouldEqual, 1)
}

func TestSessionPatternRegistrationAfterStop(t *testing.T) {
	s, _, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
	var gotErr error
	called := false
	listener := &inject.TrackingListener{
		TrackingInitializedFunc: func(reg tracking.Registrar) {
			reg.RegisterPattern("hiro.patt", func(id int, err error) {
				called = true
				gotErr = err
			})
		},
	}
	s.Subscribe(listener)
	startAndAwait(t, s, 640, 480)
	test.That(t, s.Stop(), test.ShouldBeNil)
	s.Update()
	test.That(t, called, test.ShouldBeTrue)
	test.That(t, gotErr, test.ShouldBeError, tracking.ErrSessionStopped)
}

func TestFieldOfView(t *testing.T) {
	var proj mgl64.Mat4
	proj[5] = 1
	test.That(t, tracking.FieldOfView(proj, 4.0/3, 4.0/3), test.ShouldAlmostEqual, 90.0)
	test.That(t, tracking.FieldOfView(proj, 4.0/3, 1), test.ShouldAlmostEqual, 90.0)
	test.That(t, tracking.FieldOfView(proj, 4.0/3, 16.0/9), test.ShouldAlmostEqual, 67.5)

	proj[5] = -1
	test.That(t, tracking.FieldOfView(proj, 1, 1), test.ShouldAlmostEqual, 90.0)
}

func TestSessionResize(t *testing.T) {
	s, _, camera := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))

	// orientation follows the video even before the controller exists
	s.Resize(tracking.Size{Width: 480, Height: 640}, tracking.Size{Width: 480, Height: 640})
	test.That(t, s.Orientation(), test.ShouldEqual, spatialmath.Portrait)
	test.That(t, camera.FieldOfView(), test.ShouldEqual, 45.0)

	startAndAwait(t, s, 640, 480)
	test.That(t, s.Orientation(), test.ShouldEqual, spatialmath.Landscape)

	s.Resize(tracking.Size{Width: 640, Height: 480}, tracking.Size{Width: 1280, Height: 720})
	test.That(t, camera.FieldOfView(), test.ShouldAlmostEqual, 67.5)
	s.Resize(tracking.Size{Width: 640, Height: 480}, tracking.Size{Width: 600, Height: 600})
	test.That(t, camera.FieldOfView(), test.ShouldAlmostEqual, 90.0)
}

func TestSessionEnterAR(t *testing.T) {
	t.Run("capture failure", func(t *testing.T) {
		s, _, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		source := &inject.VideoSource{StartFunc: func(ctx context.Context) (tracking.Size, error) {
			return tracking.Size{}, errors.New("permission denied")
		}}
		var reported error
		err := s.EnterAR(context.Background(), source, nil, func(err error) { reported = err })
		test.That(t, errors.Is(err, tracking.ErrCaptureUnavailable), test.ShouldBeTrue)
		test.That(t, reported, test.ShouldEqual, err)
		test.That(t, err.Error(), test.ShouldContainSubstring, "permission denied")
		test.That(t, s.State(), test.ShouldEqual, tracking.StateUninitialized)
	})

	t.Run("starts tracking at the video size", func(t *testing.T) {
		cfg := tracking.DefaultConfig()
		cfg.CalibrationURL = calibrationURL
		s, lib, _ := newTestSession(t, cfg, logging.NewTestLogger(t))
		source := &inject.VideoSource{StartFunc: func(ctx context.Context) (tracking.Size, error) {
			return tracking.Size{Width: 1280, Height: 720}, nil
		}}
		var started tracking.Size
		err := s.EnterAR(context.Background(), source, func(size tracking.Size) { started = size }, nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, started, test.ShouldResemble, tracking.Size{Width: 1280, Height: 720})
		test.That(t, s.Await(context.Background()), test.ShouldBeNil)
		test.That(t, lib.LastController().Settings().Width, test.ShouldEqual, 1280)
	})

	t.Run("no calibration configured", func(t *testing.T) {
		s, _, _ := newTestSession(t, tracking.DefaultConfig(), logging.NewTestLogger(t))
		source := &inject.VideoSource{StartFunc: func(ctx context.Context) (tracking.Size, error) {
			return tracking.Size{Width: 640, Height: 480}, nil
		}}
		calls := 0
		err := s.EnterAR(context.Background(), source, nil, func(error) { calls++ })
		test.That(t, err, test.ShouldBeError, tracking.ErrMissingCalibration)
		test.That(t, calls, test.ShouldEqual, 1)
	})
}
