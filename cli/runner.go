package cli

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/armarker/logging"
	"go.viam.com/armarker/marker"
	"go.viam.com/armarker/scene"
	"go.viam.com/armarker/spatialmath"
	"go.viam.com/armarker/tracking"
	"go.viam.com/armarker/tracking/fake"
)

const (
	cameraNear = 0.1
	cameraFar  = 1000
	cameraFOV  = 45

	patternWaitTimeout = 2 * time.Second
)

// Transition records a marker's content being shown or hidden.
type Transition struct {
	Marker  string
	Visible bool
	Frame   int
	At      time.Time
	Pose    spatialmath.MarkerPose
}

// Runner plays a Scenario through a tracking session backed by the fake library.
type Runner struct {
	scenario *Scenario
	logger   logging.Logger
	clock    clock.Clock

	graph    *scene.Graph
	camera   *scene.PerspectiveCamera
	library  *fake.Library
	session  *tracking.Session
	bindings []*marker.Binding

	frame       int
	transitions []Transition
}

// NewRunner builds the scene, the markers and the session for sc. With a *clock.Mock, frames are
// played as fast as possible and the mock is advanced by the tick interval between frames.
func NewRunner(sc *Scenario, clk clock.Clock, logger logging.Logger) (*Runner, error) {
	trackingCfg, err := sc.TrackingConfig()
	if err != nil {
		return nil, err
	}
	markerCfgs, err := sc.MarkerConfigs()
	if err != nil {
		return nil, err
	}
	shadows, err := marker.NewShadowMaterials(sc.Shadow.Blend, sc.Shadow.Strength)
	if err != nil {
		return nil, err
	}

	r := &Runner{
		scenario: sc,
		logger:   logger,
		clock:    clk,
		graph:    scene.NewGraph(),
		camera:   scene.NewPerspectiveCamera(cameraNear, cameraFar, cameraFOV),
		library:  fake.NewLibrary(logger.Sublogger("library")),
	}
	r.library.SetScript(sc.Frames)

	r.session, err = tracking.NewSession(r.library, r.camera, trackingCfg, logger.Sublogger("tracking"))
	if err != nil {
		return nil, err
	}

	layers := scene.NewLayerAllocator()
	deps := marker.Deps{Layers: layers, Shadows: shadows, Clock: clk, Logger: logger.Sublogger("marker")}
	for _, cfg := range markerCfgs {
		b, err := r.bindMarker(cfg, deps)
		if err != nil {
			return nil, multierr.Combine(err, r.Close())
		}
		r.bindings = append(r.bindings, b)
	}
	return r, nil
}

// bindMarker adds a root with a model and a light for the marker and binds it.
func (r *Runner) bindMarker(cfg marker.Config, deps marker.Deps) (*marker.Binding, error) {
	root, err := r.graph.AddNode(r.graph.Root(), cfg.Name, 0)
	if err != nil {
		return nil, err
	}
	if _, err := r.graph.AddNode(root, cfg.Name+"-model", scene.Renderable); err != nil {
		return nil, err
	}
	if _, err := r.graph.AddNode(root, cfg.Name+"-light", scene.Light); err != nil {
		return nil, err
	}
	b, err := marker.NewBinding(r.graph, root, cfg, deps)
	if err != nil {
		return nil, err
	}
	b.OnVisibilityChange(r.recordTransition)
	if err := b.Attach(r.session); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *Runner) recordTransition(b *marker.Binding, visible bool) {
	t := Transition{Marker: b.Name(), Visible: visible, Frame: r.frame, At: r.clock.Now(), Pose: b.Pose()}
	r.transitions = append(r.transitions, t)
	if visible {
		r.logger.Infow("marker shown", "marker", t.Marker, "frame", t.Frame,
			"position", t.Pose.Position, "rotation", t.Pose.Rotation)
		return
	}
	r.logger.Infow("marker hidden", "marker", t.Marker, "frame", t.Frame)
}

// Session returns the runner's tracking session.
func (r *Runner) Session() *tracking.Session {
	return r.session
}

// Bindings returns the runner's markers in scenario order.
func (r *Runner) Bindings() []*marker.Binding {
	return r.bindings
}

// Transitions returns every visibility change seen so far.
func (r *Runner) Transitions() []Transition {
	return append([]Transition(nil), r.transitions...)
}

// Run (re)starts tracking and plays every scripted frame. A session left running by an earlier
// Run is stopped first, so each Run replays the script against a fresh tracker.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.session.Stop(); err != nil {
		r.logger.Warnw("error stopping previous tracking run", "error", err)
	}
	sc := r.scenario
	if err := r.session.Start(ctx, sc.Calibration, sc.Video.Width, sc.Video.Height); err != nil {
		return err
	}
	if err := r.session.Await(ctx); err != nil {
		return errors.Wrap(err, "cannot start tracking")
	}
	if sc.Render.Valid() {
		r.session.Resize(sc.Video, sc.Render)
	}
	r.logger.Debugw("tracking ready", "session", r.session.ID(), "fov", r.camera.FieldOfView())
	r.waitForPatterns(ctx)

	var ticker *clock.Ticker
	mock, simulated := r.clock.(*clock.Mock)
	if !simulated {
		ticker = r.clock.Ticker(sc.TickInterval)
		defer ticker.Stop()
	}
	frame := tracking.Frame{Width: sc.Video.Width, Height: sc.Video.Height}
	for i := range sc.Frames {
		r.frame = i
		r.session.Update()
		if err := r.session.ProcessFrame(ctx, frame); err != nil {
			return err
		}
		if simulated {
			mock.Add(sc.TickInterval)
		} else {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
		now := r.clock.Now()
		for _, b := range r.bindings {
			b.Update(now)
		}
	}
	return nil
}

// waitForPatterns drives the session until every pattern registration has reported back, giving
// up after patternWaitTimeout on the runner's clock. Failed registrations are logged by the
// bindings themselves.
func (r *Runner) waitForPatterns(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	timeout := r.clock.AfterFunc(patternWaitTimeout, cancel)
	defer timeout.Stop()
	for {
		r.session.Update()
		pending := 0
		for _, b := range r.bindings {
			if b.RegistrationPending() {
				pending++
			}
		}
		if pending == 0 {
			return
		}
		if err := r.session.Wait(ctx); err != nil {
			r.logger.Warnw("some patterns were not registered", "pending", pending)
			return
		}
	}
}

// Close detaches every marker and stops the session.
func (r *Runner) Close() error {
	var err error
	for _, b := range r.bindings {
		err = multierr.Combine(err, b.Close())
	}
	return multierr.Combine(err, r.session.Stop())
}
