package tracking

import (
	"context"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	goutils "go.viam.com/utils"

	"go.viam.com/armarker/logging"
	"go.viam.com/armarker/spatialmath"
)

// quietLibraryLogLevel keeps the tracking library from logging every frame.
const quietLibraryLogLevel = 4

var (
	// ErrMissingCalibration is returned by Start when no calibration asset is given.
	ErrMissingCalibration = errors.New("no camera calibration given")
	// ErrInvalidFrameSize is returned by Start when the frame size is not positive.
	ErrInvalidFrameSize = errors.New("frame width and height must be positive")
	// ErrAlreadyStarted is returned by Start while a calibration load or a controller is live.
	ErrAlreadyStarted = errors.New("tracking already started")
	// ErrFaulted is returned by Start after a processing failure until the session is stopped.
	ErrFaulted = errors.New("tracking faulted; stop the session before starting it again")
	// ErrSessionStopped is reported to pattern registrations that finish after the controller
	// they were made against went away.
	ErrSessionStopped = errors.New("tracking session stopped")
	// ErrCaptureUnavailable is reported by EnterAR when the video source cannot be started.
	ErrCaptureUnavailable = errors.New("video capture unavailable")
)

// State is the lifecycle state of a Session.
type State int

// Session states.
const (
	StateUninitialized State = iota
	StateAwaitingCalibration
	StateReady
	StateProcessing
	StateIdle
	StateStopped
	StateFaulted
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateAwaitingCalibration:
		return "awaiting_calibration"
	case StateReady:
		return "ready"
	case StateProcessing:
		return "processing"
	case StateIdle:
		return "idle"
	case StateStopped:
		return "stopped"
	case StateFaulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Subscription identifies a subscribed Listener.
type Subscription struct {
	ID uuid.UUID
}

type subscriber struct {
	id       uuid.UUID
	listener Listener
}

// Session owns a tracking library controller and the calibration it was built from. Start,
// Update, ProcessFrame, the setters and Stop are meant to be called from one goroutine, the one
// driving the render loop. Resize may be called from any goroutine.
type Session struct {
	id     uuid.UUID
	lib    Library
	camera RenderCamera
	logger logging.Logger

	mu          sync.Mutex
	state       State
	err         error
	settings    Config
	queue       *commandQueue
	calib       Calibration
	ctrl        Controller
	generation  uint64
	videoSize   Size
	renderSize  Size
	orientation spatialmath.ScreenOrientation
	skipNext    bool
	frameNumber uint64
	listeners   []subscriber
	completions []func()
	workers     *goutils.StoppableWorkers

	wake chan struct{}
}

// NewSession returns an uninitialized session that will drive lib with the given settings and
// keep camera's field of view matched to the video.
func NewSession(lib Library, camera RenderCamera, cfg Config, logger logging.Logger) (*Session, error) {
	if lib == nil {
		return nil, errors.New("tracking library is required")
	}
	if camera == nil {
		return nil, errors.New("render camera is required")
	}
	if _, err := cfg.Validate("tracking"); err != nil {
		return nil, err
	}
	cfg.Threshold = float64(ClampThreshold(cfg.Threshold))
	s := &Session{
		id:       uuid.New(),
		lib:      lib,
		camera:   camera,
		logger:   logger,
		settings: cfg,
		queue:    newCommandQueue(),
		wake:     make(chan struct{}, 1),
	}
	s.queue.seed(cfg)
	return s, nil
}

// ID returns the session's unique id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the last initialization or processing error, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Settings returns the current tracker settings.
func (s *Session) Settings() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

// Orientation returns the orientation of the video feed.
func (s *Session) Orientation() spatialmath.ScreenOrientation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orientation
}

// Start begins loading the calibration at calibrationURL for frames of the given size. The load
// runs in the background and is picked up by a later Update; Await blocks until it has been.
// Cancelling ctx does not abandon the load, Stop does.
func (s *Session) Start(ctx context.Context, calibrationURL string, frameWidth, frameHeight int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized, StateStopped:
	case StateFaulted:
		return ErrFaulted
	default:
		return ErrAlreadyStarted
	}

	var initErr error
	switch {
	case calibrationURL == "":
		initErr = ErrMissingCalibration
	case frameWidth <= 0 || frameHeight <= 0:
		initErr = errors.Wrapf(ErrInvalidFrameSize, "got %dx%d", frameWidth, frameHeight)
	}
	if initErr != nil {
		s.logger.Warnw("cannot start tracking", "session", s.id, "error", initErr)
		s.err = initErr
		return initErr
	}

	s.err = nil
	s.state = StateAwaitingCalibration
	s.generation++
	gen := s.generation
	s.videoSize = Size{Width: frameWidth, Height: frameHeight}
	if !s.renderSize.Valid() {
		s.renderSize = s.videoSize
	}
	s.orientation = spatialmath.OrientationForSize(frameWidth, frameHeight)

	s.workers = goutils.NewBackgroundStoppableWorkers(func(ctx context.Context) {
		calib, err := s.lib.LoadCalibration(ctx, calibrationURL)
		s.post(func() { s.finishStart(gen, calibrationURL, calib, err) })
	})
	s.logger.Debugw("loading camera calibration", "session", s.id, "url", calibrationURL)
	return nil
}

// finishStart runs on the driving goroutine once the calibration load returns.
func (s *Session) finishStart(gen uint64, url string, calib Calibration, loadErr error) {
	s.mu.Lock()
	if gen != s.generation || s.state != StateAwaitingCalibration {
		s.mu.Unlock()
		if calib != nil {
			if err := calib.Close(); err != nil {
				s.logger.Debugw("error releasing stale calibration", "error", err)
			}
		}
		return
	}

	if loadErr != nil {
		s.failStartLocked(errors.Wrapf(loadErr, "error loading camera calibration %q", url), calib)
		s.mu.Unlock()
		return
	}

	scale := s.settings.TrackerResolution.Scale()
	width := int(math.Max(1, math.Floor(float64(s.videoSize.Width)*scale)))
	height := int(math.Max(1, math.Floor(float64(s.videoSize.Height)*scale)))
	ctrl, err := s.lib.NewController(width, height, calib)
	if err != nil {
		s.failStartLocked(errors.Wrap(err, "error creating tracking controller"), calib)
		s.mu.Unlock()
		return
	}

	ctrl.SetLogLevel(quietLibraryLogLevel)
	ctrl.SetProjectionNearPlane(s.camera.NearClip())
	ctrl.SetProjectionFarPlane(s.camera.FarClip())
	replayed := s.queue.len()
	s.queue.replay(ctrl)

	s.ctrl = ctrl
	s.calib = calib
	s.state = StateReady
	s.updateFieldOfViewLocked()
	listeners := s.listenersLocked()
	reg := &registrar{session: s, generation: gen}
	s.mu.Unlock()

	s.logger.Infow("tracking initialized",
		"session", s.id,
		"width", width,
		"height", height,
		"orientation", s.Orientation(),
		"replayed_settings", replayed)
	for _, l := range listeners {
		l.TrackingInitialized(reg)
	}
}

func (s *Session) failStartLocked(err error, calib Calibration) {
	if calib != nil {
		err = multierr.Combine(err, calib.Close())
	}
	s.logger.Errorw("tracking initialization failed", "session", s.id, "error", err)
	s.err = err
	s.state = StateUninitialized
}

// post queues fn to run during the next Update.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	s.completions = append(s.completions, fn)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Update runs the continuations of finished background work on the calling goroutine.
func (s *Session) Update() {
	s.mu.Lock()
	pending := s.completions
	s.completions = nil
	s.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// Wait blocks until background work has posted a result for Update to run, or until ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.wake:
		return nil
	}
}

// Await drives Update until a pending calibration load has been consumed. It returns the
// initialization error if the load failed.
func (s *Session) Await(ctx context.Context) error {
	for {
		s.Update()
		s.mu.Lock()
		state, err := s.state, s.err
		s.mu.Unlock()
		if state != StateAwaitingCalibration {
			if state == StateUninitialized {
				return err
			}
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.wake:
		}
	}
}

// ProcessFrame runs frame through the tracker and delivers every detection to every listener
// before returning. It does nothing unless the session is ready.
func (s *Session) ProcessFrame(ctx context.Context, frame Frame) error {
	s.mu.Lock()
	if s.state != StateReady && s.state != StateIdle {
		s.mu.Unlock()
		return nil
	}
	if s.settings.TrackAlternateFrames {
		skip := s.skipNext
		s.skipNext = !s.skipNext
		if skip {
			s.mu.Unlock()
			return nil
		}
	}
	s.state = StateProcessing
	s.frameNumber++
	frameNumber := s.frameNumber
	orientation := s.orientation
	listeners := s.listenersLocked()
	detections, err := s.ctrl.Process(ctx, frame)
	if err != nil {
		err = errors.Wrapf(err, "error processing frame %d", frameNumber)
		s.state = StateFaulted
		s.err = err
		s.mu.Unlock()
		s.logger.Errorw("tracking faulted", "session", s.id, "error", err)
		return err
	}
	s.mu.Unlock()

	for _, det := range detections {
		ev := DetectionEvent{Detection: det, Orientation: orientation, FrameNumber: frameNumber}
		for _, l := range listeners {
			l.Detection(ev)
		}
	}

	s.mu.Lock()
	if s.state == StateProcessing {
		s.state = StateIdle
	}
	s.mu.Unlock()
	return nil
}

// Stop releases the controller and the calibration and abandons any background work. Calling
// it again does nothing.
func (s *Session) Stop() error {
	s.mu.Lock()
	workers := s.workers
	s.workers = nil
	s.generation++
	s.mu.Unlock()

	// Workers post their results, so they must be waited on without holding the lock.
	if workers != nil {
		workers.Stop()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	if s.ctrl != nil {
		err = multierr.Combine(err, s.ctrl.Close())
		s.ctrl = nil
	}
	if s.calib != nil {
		err = multierr.Combine(err, s.calib.Close())
		s.calib = nil
	}
	if s.state != StateUninitialized && s.state != StateStopped {
		s.logger.Infow("tracking stopped", "session", s.id, "previous_state", s.state)
		s.state = StateStopped
	}
	s.skipNext = false
	s.queue.seed(s.settings)
	if err != nil {
		s.logger.Warnw("error releasing tracking resources", "session", s.id, "error", err)
	}
	return err
}

// Resize records new video and render sizes. The feed orientation follows the video size, and
// once a controller exists the render camera's field of view is recomputed to match.
func (s *Session) Resize(video, render Size) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if video.Valid() {
		s.videoSize = video
		s.orientation = spatialmath.OrientationForSize(video.Width, video.Height)
	}
	if render.Valid() {
		s.renderSize = render
	}
	s.updateFieldOfViewLocked()
}

func (s *Session) updateFieldOfViewLocked() {
	if s.ctrl == nil || !s.videoSize.Valid() || !s.renderSize.Valid() {
		return
	}
	fov := FieldOfView(s.ctrl.ProjectionMatrix(), s.videoSize.Aspect(), s.renderSize.Aspect())
	s.camera.SetFieldOfView(fov)
	s.logger.Debugw("updated field of view", "fov", fov, "orientation", s.orientation)
}

// FieldOfView returns the vertical field of view in degrees a render camera needs so the video
// described by projection lines up with the rendered scene. When the render target is wider than
// the video the video is stretched horizontally and the field of view narrows to match.
func FieldOfView(projection mgl64.Mat4, videoAspect, renderAspect float64) float64 {
	fovy := math.Abs(mgl64.RadToDeg(2 * math.Atan(1/projection[5])))
	if renderAspect > videoAspect {
		return fovy * videoAspect / renderAspect
	}
	return fovy
}

// Subscribe adds l to the listeners. If the session is already initialized, l is sent
// TrackingInitialized during the next Update.
func (s *Session) Subscribe(l Listener) Subscription {
	sub := Subscription{ID: uuid.New()}
	s.mu.Lock()
	s.listeners = append(s.listeners, subscriber{id: sub.ID, listener: l})
	initialized := s.ctrl != nil && s.state != StateFaulted
	gen := s.generation
	s.mu.Unlock()

	if initialized {
		s.post(func() {
			s.mu.Lock()
			live := gen == s.generation && lo.ContainsBy(s.listeners, func(sb subscriber) bool { return sb.id == sub.ID })
			s.mu.Unlock()
			if live {
				l.TrackingInitialized(&registrar{session: s, generation: gen})
			}
		})
	}
	return sub
}

// Unsubscribe removes the listener sub refers to. Unknown subscriptions are ignored.
func (s *Session) Unsubscribe(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = lo.Filter(s.listeners, func(sb subscriber, _ int) bool {
		return sb.id != sub.ID
	})
}

func (s *Session) listenersLocked() []Listener {
	return lo.Map(s.listeners, func(sb subscriber, _ int) Listener {
		return sb.listener
	})
}

// EnterAR starts source, waits for its first frame and then starts tracking at that frame size
// with the configured calibration. Capture failures are reported to onError as
// ErrCaptureUnavailable; tracking failures are reported as they are. Either callback may be nil.
func (s *Session) EnterAR(ctx context.Context, source VideoSource, onSuccess func(Size), onError func(error)) error {
	fail := func(err error) error {
		s.logger.Warnw("cannot enter AR", "session", s.id, "error", err)
		if onError != nil {
			onError(err)
		}
		return err
	}

	size, err := source.Start(ctx)
	if err != nil {
		return fail(errors.Wrap(ErrCaptureUnavailable, err.Error()))
	}
	if !size.Valid() {
		return fail(errors.Wrapf(ErrCaptureUnavailable, "video source reported a %dx%d frame", size.Width, size.Height))
	}
	if err := s.Start(ctx, s.Settings().CalibrationURL, size.Width, size.Height); err != nil {
		return fail(err)
	}
	if onSuccess != nil {
		onSuccess(size)
	}
	return nil
}

type registrar struct {
	session    *Session
	generation uint64
}

func (r *registrar) RegisterPattern(url string, done func(id int, err error)) {
	r.session.registerPattern(r.generation, url, done)
}

func (s *Session) registerPattern(gen uint64, url string, done func(int, error)) {
	s.mu.Lock()
	ctrl := s.ctrl
	if gen != s.generation || ctrl == nil || s.workers == nil {
		s.mu.Unlock()
		s.post(func() { done(-1, ErrSessionStopped) })
		return
	}
	// Added under the lock so that Stop cannot drop the worker before it runs.
	defer s.mu.Unlock()
	s.workers.Add(func(ctx context.Context) {
		id, err := ctrl.LoadPattern(ctx, url)
		s.post(func() {
			s.mu.Lock()
			stale := gen != s.generation
			s.mu.Unlock()
			switch {
			case stale:
				done(-1, ErrSessionStopped)
			case err != nil:
				err = errors.Wrapf(err, "error loading pattern %q", url)
				s.logger.Errorw("pattern registration failed", "session", s.id, "error", err)
				done(-1, err)
			default:
				s.logger.Debugw("registered pattern", "session", s.id, "url", url, "id", id)
				done(id, nil)
			}
		})
	})
}
