// Package spatialmath defines the pose math that turns tracker output into scene transforms.
package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"
)

// ScreenOrientation is the orientation of the video feed the tracker is looking at.
type ScreenOrientation int

const (
	// Landscape is a feed at least as wide as it is tall.
	Landscape ScreenOrientation = iota
	// Portrait is a feed taller than it is wide.
	Portrait
)

func (o ScreenOrientation) String() string {
	switch o {
	case Landscape:
		return "landscape"
	case Portrait:
		return "portrait"
	default:
		return "unknown"
	}
}

// OrientationForSize returns Portrait iff width < height.
func OrientationForSize(width, height int) ScreenOrientation {
	if width < height {
		return Portrait
	}
	return Landscape
}

var (
	// The tracker reports poses relative to a camera looking down its own -Z with Y down the
	// image; flipping about X brings that into the scene's camera frame. Portrait feeds are
	// additionally rolled a quarter turn about the viewing axis.
	landscapeCorrection = mgl64.HomogRotate3DX(math.Pi).Inv()
	portraitCorrection  = mgl64.HomogRotate3DZ(math.Pi / 2).Mul4(mgl64.HomogRotate3DX(math.Pi)).Inv()

	// Marker-local Z points out of the marker plane; content expects Y up.
	markerUpCorrection = mgl64.HomogRotate3DX(math.Pi / 2)
)

// MarkerPose is a marker pose expressed in the scene's convention.
type MarkerPose struct {
	Position r3.Vector
	Rotation EulerAngles
	// Matrix is the fully corrected homogeneous transform the position and rotation came from.
	Matrix mgl64.Mat4
}

// Quaternion returns the rotation of the pose as a unit quaternion.
func (mp *MarkerPose) Quaternion() quat.Number {
	q := mgl64.Mat4ToQuat(mp.Rotation.RotationMatrix()).Normalize()
	return quat.Number{Real: q.W, Imag: q.X(), Jmag: q.Y(), Kmag: q.Z()}
}

// OrientationCorrection returns the basis change applied to raw tracker poses for the given feed
// orientation.
func OrientationCorrection(o ScreenOrientation) mgl64.Mat4 {
	if o == Portrait {
		return portraitCorrection
	}
	return landscapeCorrection
}

// CorrectMarkerPose converts a raw tracker pose (camera relative, Z up on the marker) into a scene
// pose (Y up on the marker) for a feed with orientation o. It has no side effects.
func CorrectMarkerPose(raw mgl64.Mat4, o ScreenOrientation) MarkerPose {
	final := OrientationCorrection(o).Mul4(raw).Mul4(markerUpCorrection)
	return MarkerPose{
		Position: r3.Vector{X: final[12], Y: final[13], Z: final[14]},
		Rotation: *EulerAnglesFromMatrix(final),
		Matrix:   final,
	}
}

// NewRawPose builds a tracker pose matrix from the values a tracker reports. Sixteen values are a
// column-major 4x4 matrix; twelve values are a row-major 3x4 matrix whose missing bottom row is
// (0, 0, 0, 1).
func NewRawPose(values []float64) (mgl64.Mat4, error) {
	var m mgl64.Mat4
	switch len(values) {
	case 16:
		copy(m[:], values)
	case 12:
		m = mgl64.Ident4()
		for row := 0; row < 3; row++ {
			for col := 0; col < 4; col++ {
				m.Set(row, col, values[row*4+col])
			}
		}
	default:
		return mgl64.Mat4{}, errors.Errorf("a pose matrix needs 12 or 16 values, got %d", len(values))
	}
	return m, nil
}
