package spatialmath

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// EulerAngles are three angles (in radians) used to represent the rotation of an object in 3D
// Euclidean space. Roll is about X, Pitch about Y and Yaw about Z. The rotation they describe is
// R = Rz(Yaw) * Ry(Pitch) * Rx(Roll): roll is applied first, then pitch, then yaw, all about the
// fixed parent axes.
type EulerAngles struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// NewEulerAngles creates an empty EulerAngles struct.
func NewEulerAngles() *EulerAngles {
	return &EulerAngles{}
}

// Degrees returns the roll, pitch and yaw in degrees.
func (ea *EulerAngles) Degrees() (roll, pitch, yaw float64) {
	return mgl64.RadToDeg(ea.Roll), mgl64.RadToDeg(ea.Pitch), mgl64.RadToDeg(ea.Yaw)
}

// RotationMatrix returns the homogeneous rotation matrix these angles describe.
func (ea *EulerAngles) RotationMatrix() mgl64.Mat4 {
	return mgl64.HomogRotate3DZ(ea.Yaw).
		Mul4(mgl64.HomogRotate3DY(ea.Pitch)).
		Mul4(mgl64.HomogRotate3DX(ea.Roll))
}

// EulerAnglesFromMatrix decomposes the rotation part of m into EulerAngles. Any per-axis scale in
// m is divided out first. When the pitch reaches +/-90 degrees the decomposition is not unique;
// yaw is pinned to zero and the whole residual rotation is reported as roll. No further gimbal
// lock handling is attempted.
func EulerAnglesFromMatrix(m mgl64.Mat4) *EulerAngles {
	sx := m.Col(0).Vec3().Len()
	sy := m.Col(1).Vec3().Len()
	sz := m.Col(2).Vec3().Len()
	if sx == 0 || sy == 0 || sz == 0 {
		return NewEulerAngles()
	}

	// mgl64 matrices are column major: m[2] is row 2 of column 0 and so on.
	pitch := math.Asin(clampUnit(-m[2] / sx))
	var roll, yaw float64
	const halfPi = math.Pi / 2
	switch {
	case pitch >= halfPi:
		roll = math.Atan2(m[4]/sy, m[5]/sy)
	case pitch <= -halfPi:
		roll = -math.Atan2(m[4]/sy, m[5]/sy)
	default:
		roll = math.Atan2(m[6]/sy, m[10]/sz)
		yaw = math.Atan2(m[1]/sx, m[0]/sx)
	}
	return &EulerAngles{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// asin is only defined on [-1, 1]; rounding can push a unit value just past it.
func clampUnit(v float64) float64 {
	return math.Min(math.Max(v, -1), 1)
}
