package scene

import "sync"

// PerspectiveCamera holds the projection parameters of the render camera. The tracking session
// updates its field of view from resize notifications, which can arrive from any goroutine.
type PerspectiveCamera struct {
	mu   sync.Mutex
	near float64
	far  float64
	fov  float64
}

// NewPerspectiveCamera returns a camera with the given clip planes and vertical field of view in
// degrees.
func NewPerspectiveCamera(near, far, fovDegrees float64) *PerspectiveCamera {
	return &PerspectiveCamera{near: near, far: far, fov: fovDegrees}
}

// NearClip returns the near clip plane distance.
func (c *PerspectiveCamera) NearClip() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.near
}

// FarClip returns the far clip plane distance.
func (c *PerspectiveCamera) FarClip() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.far
}

// SetFieldOfView sets the vertical field of view in degrees.
func (c *PerspectiveCamera) SetFieldOfView(degrees float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fov = degrees
}

// FieldOfView returns the vertical field of view in degrees.
func (c *PerspectiveCamera) FieldOfView() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fov
}
