// Package marker binds scene content to physical markers seen by a tracking session.
package marker

import (
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/armarker/logging"
	"go.viam.com/armarker/scene"
	"go.viam.com/armarker/spatialmath"
	"go.viam.com/armarker/tracking"
)

// unresolved is the pattern id of a binding whose pattern has not been registered yet.
const unresolved = -1

// Source is what a Binding subscribes to for detections. *tracking.Session implements it.
type Source interface {
	Subscribe(l tracking.Listener) tracking.Subscription
	Unsubscribe(sub tracking.Subscription)
}

// Deps are the shared objects a Binding needs.
type Deps struct {
	// Layers hands out the binding's render layer. Required.
	Layers *scene.LayerAllocator
	// Shadows provides the shared shadow material. Required only for bindings with shadows.
	Shadows *ShadowMaterials
	// Clock timestamps detections. Defaults to the wall clock.
	Clock  clock.Clock
	Logger logging.Logger
}

// Binding drives one scene subtree from the detections of one physical marker. Its content is
// shown when the marker is found and hidden once the marker has been lost for the deactivation
// time. All methods must be called from the goroutine driving the tracking session.
type Binding struct {
	name    string
	cfg     Config
	graph   *scene.Graph
	root    scene.NodeID
	layers  scene.LayerMask
	shadows *ShadowMaterials
	shadow  scene.NodeID
	clock   clock.Clock
	logger  logging.Logger

	visibility  *VisibilityTracker
	onVisible   func(b *Binding, visible bool)
	patternID   int
	registering int
	pose        spatialmath.MarkerPose
	detections  uint64

	source Source
	sub    tracking.Subscription
}

// NewBinding binds the subtree under root to the marker cfg describes. It takes the next render
// layer from deps.Layers, adds a shadow if enabled, moves every renderable and light in the
// subtree to that layer and hides root's children until the marker is found.
func NewBinding(g *scene.Graph, root scene.NodeID, cfg Config, deps Deps) (*Binding, error) {
	if _, err := cfg.Validate("marker"); err != nil {
		return nil, err
	}
	if !g.Has(root) {
		return nil, errors.Errorf("marker %q: node %d is not in the scene", cfg.Name, root)
	}
	if deps.Layers == nil {
		return nil, errors.Errorf("marker %q: a layer allocator is required", cfg.Name)
	}
	if cfg.ShadowEnabled() && deps.Shadows == nil {
		return nil, errors.Errorf("marker %q: shadows are enabled but no shadow materials were given", cfg.Name)
	}
	mask, err := deps.Layers.Allocate()
	if err != nil {
		return nil, errors.Wrapf(err, "marker %q", cfg.Name)
	}
	if deps.Clock == nil {
		deps.Clock = clock.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.Global()
	}

	b := &Binding{
		name:      cfg.Name,
		cfg:       cfg,
		graph:     g,
		root:      root,
		layers:    mask,
		shadows:   deps.Shadows,
		shadow:    scene.NoNode,
		clock:     deps.Clock,
		logger:    deps.Logger.Sublogger(cfg.Name),
		patternID: unresolved,
	}
	b.visibility = NewVisibilityTracker(cfg.DeactivationTime(), b.show, b.hide)

	if cfg.ShadowEnabled() {
		if err := b.createShadow(); err != nil {
			return nil, err
		}
	}
	deps.Layers.Apply(g, root, mask)
	g.SetChildrenEnabled(root, false)
	b.logger.Debugw("marker bound", "root", g.Name(root), "layers", uint32(mask), "pattern", cfg.Pattern, "matrix_id", cfg.MatrixID)
	return b, nil
}

// Name returns the marker's name.
func (b *Binding) Name() string {
	return b.name
}

// Root returns the node the marker's pose is applied to.
func (b *Binding) Root() scene.NodeID {
	return b.root
}

// Layers returns the render layer the binding's content was moved to.
func (b *Binding) Layers() scene.LayerMask {
	return b.layers
}

// Active reports whether the marker's content is shown.
func (b *Binding) Active() bool {
	return b.visibility.Active()
}

// Pose returns the last pose applied to the root.
func (b *Binding) Pose() spatialmath.MarkerPose {
	return b.pose
}

// Detections returns how many detections the binding has accepted.
func (b *Binding) Detections() uint64 {
	return b.detections
}

// PatternID returns the id the tracker issued for the binding's pattern, and whether it has been
// issued yet. Matrix markers report their matrix id.
func (b *Binding) PatternID() (int, bool) {
	if !b.cfg.IsPattern() {
		return b.cfg.MatrixID, true
	}
	return b.patternID, b.patternID != unresolved
}

// RegistrationPending reports whether a pattern registration has not yet reported back, whether
// it will succeed or fail.
func (b *Binding) RegistrationPending() bool {
	return b.registering > 0
}

// OnVisibilityChange sets a function called after the marker's content is shown or hidden.
func (b *Binding) OnVisibilityChange(fn func(b *Binding, visible bool)) {
	b.onVisible = fn
}

// SetDeactivationTime changes how long the marker may go unseen before its content is hidden.
func (b *Binding) SetDeactivationTime(d time.Duration) {
	b.visibility.SetDeactivationTime(d)
}

// Attach subscribes the binding to src's detections. A binding can be attached to one source at
// a time.
func (b *Binding) Attach(src Source) error {
	if b.source != nil {
		return errors.Errorf("marker %q is already attached", b.name)
	}
	b.source = src
	b.sub = src.Subscribe(b)
	return nil
}

// Close unsubscribes the binding from its source. The subtree and its shadow are left in place.
func (b *Binding) Close() error {
	if b.source == nil {
		return nil
	}
	b.source.Unsubscribe(b.sub)
	b.source = nil
	return nil
}

// TrackingInitialized registers the binding's pattern with a freshly created tracker. Pattern ids
// from an earlier tracker are forgotten.
func (b *Binding) TrackingInitialized(reg tracking.Registrar) {
	if !b.cfg.IsPattern() {
		return
	}
	b.patternID = unresolved
	b.registering++
	reg.RegisterPattern(b.cfg.Pattern, func(id int, err error) {
		b.registering--
		if err != nil {
			b.logger.Errorw("cannot track marker", "pattern", b.cfg.Pattern, "error", err)
			return
		}
		b.patternID = id
		b.logger.Debugw("pattern registered", "pattern", b.cfg.Pattern, "id", id)
	})
}

// Detection applies the pose of a matching detection to the root and marks the marker as seen.
// Detections of other markers are ignored.
func (b *Binding) Detection(ev tracking.DetectionEvent) {
	if !b.matches(ev.Detection) {
		return
	}
	raw, err := spatialmath.NewRawPose(ev.Matrix)
	if err != nil {
		b.logger.Warnw("ignoring detection with a malformed pose", "frame", ev.FrameNumber, "error", err)
		return
	}
	b.pose = spatialmath.CorrectMarkerPose(raw, ev.Orientation)
	b.graph.SetPosition(b.root, b.pose.Position)
	b.graph.SetRotation(b.root, b.pose.Rotation)
	if b.cfg.Width > 0 {
		s := 1 / b.cfg.Width
		b.graph.SetScale(b.root, r3.Vector{X: s, Y: s, Z: s})
	}
	b.detections++
	b.visibility.Detected(b.clock.Now())
}

func (b *Binding) matches(det tracking.Detection) bool {
	if b.cfg.IsPattern() {
		return det.Kind == tracking.PatternMarker && b.patternID != unresolved && det.ID == b.patternID
	}
	return det.Kind == tracking.BarcodeMarker && det.ID == b.cfg.MatrixID
}

// Update hides the marker's content if it has gone unseen for too long.
func (b *Binding) Update(now time.Time) {
	b.visibility.Tick(now)
}

func (b *Binding) show() {
	b.graph.SetChildrenEnabled(b.root, true)
	b.logger.Debugw("marker found", "position", b.pose.Position)
	if b.onVisible != nil {
		b.onVisible(b, true)
	}
}

func (b *Binding) hide() {
	b.graph.SetChildrenEnabled(b.root, false)
	b.logger.Debugw("marker lost", "last_seen", b.visibility.LastSeen())
	if b.onVisible != nil {
		b.onVisible(b, false)
	}
}

// Shadow returns the shadow node, or scene.NoNode.
func (b *Binding) Shadow() scene.NodeID {
	return b.shadow
}

// SetShadow adds or removes the marker's shadow.
func (b *Binding) SetShadow(enabled bool) error {
	switch {
	case enabled && b.shadow == scene.NoNode:
		return b.createShadow()
	case !enabled && b.shadow != scene.NoNode:
		return b.destroyShadow()
	default:
		return nil
	}
}

// SetShadowStrength changes the strength of every shadow sharing this binding's material.
func (b *Binding) SetShadowStrength(strength float64) error {
	if b.shadows == nil {
		return errors.Errorf("marker %q has no shadow materials", b.name)
	}
	b.shadows.SetStrength(strength)
	return nil
}

func (b *Binding) createShadow() error {
	if b.shadows == nil {
		return errors.Errorf("marker %q has no shadow materials", b.name)
	}
	id, err := b.graph.AddNode(b.root, ShadowNodeName, scene.Renderable)
	if err != nil {
		return errors.Wrapf(err, "marker %q: cannot add shadow", b.name)
	}
	b.graph.SetMaterial(id, b.shadows.Material())
	b.graph.SetScale(id, shadowScale)
	b.graph.SetLayers(id, b.layers)
	b.graph.SetEnabled(id, b.visibility.Active())
	b.shadow = id
	return nil
}

func (b *Binding) destroyShadow() error {
	if err := b.graph.Remove(b.shadow); err != nil {
		return errors.Wrapf(err, "marker %q: cannot remove shadow", b.name)
	}
	b.shadow = scene.NoNode
	return nil
}
