package remux

import (
	"math"

	"github.com/bagtools/remux/internal/config"
)

// quaternionFromEuler converts euler angles in degrees (roll about x,
// pitch about y, yaw about z, applied in that fixed-axis order) into an
// (x, y, z, w) quaternion.
func quaternionFromEuler(rollDeg, pitchDeg, yawDeg float64) [4]float64 {
	r := rollDeg * math.Pi / 360
	p := pitchDeg * math.Pi / 360
	y := yawDeg * math.Pi / 360

	cr, sr := math.Cos(r), math.Sin(r)
	cp, sp := math.Cos(p), math.Sin(p)
	cy, sy := math.Cos(y), math.Sin(y)

	return [4]float64{
		sr*cp*cy - cr*sp*sy,
		cr*sp*cy + sr*cp*sy,
		cr*cp*sy - sr*sp*cy,
		cr*cp*cy + sr*sp*sy,
	}
}

// rotationQuaternion resolves a rotation setting into a quaternion. The
// second result is false when the setting amounts to the identity, so
// callers can skip the rotation entirely.
func rotationQuaternion(cfg config.SettingRotation) ([4]float64, bool) {
	var q [4]float64
	switch {
	case cfg.Quaternion != nil:
		q = *cfg.Quaternion
	case cfg.EulerDeg != nil:
		q = quaternionFromEuler(cfg.EulerDeg[0], cfg.EulerDeg[1], cfg.EulerDeg[2])
	default:
		return [4]float64{0, 0, 0, 1}, false
	}
	if q[0] == 0 && q[1] == 0 && q[2] == 0 {
		return [4]float64{0, 0, 0, 1}, false
	}
	return q, true
}

// rotateVector applies an (x, y, z, w) quaternion to a vector.
func rotateVector(q [4]float64, x, y, z float64) (float64, float64, float64) {
	qx, qy, qz, qw := q[0], q[1], q[2], q[3]

	// t = 2 * cross(q.xyz, v)
	tx := 2 * (qy*z - qz*y)
	ty := 2 * (qz*x - qx*z)
	tz := 2 * (qx*y - qy*x)

	// v' = v + w*t + cross(q.xyz, t)
	rx := x + qw*tx + qy*tz - qz*ty
	ry := y + qw*ty + qz*tx - qx*tz
	rz := z + qw*tz + qx*ty - qy*tx
	return rx, ry, rz
}
