package marker

import "time"

// DefaultDeactivationTime is how long a marker may go unseen before its content is hidden.
const DefaultDeactivationTime = 250 * time.Millisecond

// VisibilityTracker turns per-frame sightings into a stable shown/hidden state. A marker becomes
// active the first time it is seen and stays active until it has gone unseen for longer than the
// deactivation time. It is not safe for concurrent use.
type VisibilityTracker struct {
	active           bool
	lastSeen         time.Time
	deactivationTime time.Duration
	onShow           func()
	onHide           func()
}

// NewVisibilityTracker returns an inactive tracker. onShow and onHide may be nil.
func NewVisibilityTracker(deactivationTime time.Duration, onShow, onHide func()) *VisibilityTracker {
	return &VisibilityTracker{
		deactivationTime: deactivationTime,
		onShow:           onShow,
		onHide:           onHide,
	}
}

// Detected records a sighting at now and activates the tracker if it was inactive.
func (v *VisibilityTracker) Detected(now time.Time) {
	v.lastSeen = now
	if v.active {
		return
	}
	v.active = true
	if v.onShow != nil {
		v.onShow()
	}
}

// Tick deactivates the tracker if it has gone unseen for longer than the deactivation time. It
// reports whether the tracker is still active.
func (v *VisibilityTracker) Tick(now time.Time) bool {
	if !v.active {
		return false
	}
	if now.Sub(v.lastSeen) <= v.deactivationTime {
		return true
	}
	v.active = false
	if v.onHide != nil {
		v.onHide()
	}
	return false
}

// Active reports whether the marker is currently considered visible.
func (v *VisibilityTracker) Active() bool {
	return v.active
}

// LastSeen returns the time of the last sighting, or the zero time if there was none.
func (v *VisibilityTracker) LastSeen() time.Time {
	return v.lastSeen
}

// DeactivationTime returns the current deactivation time.
func (v *VisibilityTracker) DeactivationTime() time.Duration {
	return v.deactivationTime
}

// SetDeactivationTime changes the deactivation time used by later ticks.
func (v *VisibilityTracker) SetDeactivationTime(d time.Duration) {
	v.deactivationTime = d
}
