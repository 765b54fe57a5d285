// Package attitude holds the orientation math shared by the DMP decoder and
// the magnetometer yaw filter: quaternions, Tait-Bryan angles and angle wrapping.
//
// Angles are radians. Euler angles follow the ZYX (yaw, pitch, roll) order,
// with Roll about X, Pitch about Y and Yaw about Z.
package attitude

import "math"

// Vec3 is a body-frame vector (x, y, z).
type Vec3 [3]float64

// Quaternion is a rotation quaternion with scalar part W.
type Quaternion struct {
	W, X, Y, Z float64
}

// Identity is the no-rotation quaternion.
var Identity = Quaternion{W: 1}

// Euler is a Tait-Bryan attitude in radians.
type Euler struct {
	Roll  float64
	Pitch float64
	Yaw   float64
}

func (q Quaternion) Norm() float64 {
	return math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
}

// Normalize returns q scaled to unit length. A zero quaternion maps to Identity.
func (q Quaternion) Normalize() Quaternion {
	n := q.Norm()
	if n == 0 || math.IsNaN(n) {
		return Identity
	}
	return Quaternion{W: q.W / n, X: q.X / n, Y: q.Y / n, Z: q.Z / n}
}

func (q Quaternion) Conjugate() Quaternion {
	return Quaternion{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z}
}

// Multiply returns the Hamilton product q*r.
func (q Quaternion) Multiply(r Quaternion) Quaternion {
	return Quaternion{
		W: q.W*r.W - q.X*r.X - q.Y*r.Y - q.Z*r.Z,
		X: q.W*r.X + q.X*r.W + q.Y*r.Z - q.Z*r.Y,
		Y: q.W*r.Y - q.X*r.Z + q.Y*r.W + q.Z*r.X,
		Z: q.W*r.Z + q.X*r.Y - q.Y*r.X + q.Z*r.W,
	}
}

// Rotate returns q (0,v) q*. q is expected to be unit length.
func (q Quaternion) Rotate(v Vec3) Vec3 {
	p := Quaternion{X: v[0], Y: v[1], Z: v[2]}
	out := q.Multiply(p).Multiply(q.Conjugate())
	return Vec3{out.X, out.Y, out.Z}
}

// Euler converts a unit quaternion to Tait-Bryan angles.
func (q Quaternion) Euler() Euler {
	roll := math.Atan2(2*(q.W*q.X+q.Y*q.Z), 1-2*(q.X*q.X+q.Y*q.Y))

	// Clamp so rounding near +/-90 degrees of pitch cannot produce NaN.
	s := 2 * (q.W*q.Y - q.Z*q.X)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	pitch := math.Asin(s)

	yaw := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return Euler{Roll: roll, Pitch: pitch, Yaw: yaw}
}

// Quaternion converts Tait-Bryan angles back to a unit quaternion.
func (e Euler) Quaternion() Quaternion {
	cx, sx := math.Cos(e.Roll/2), math.Sin(e.Roll/2)
	cy, sy := math.Cos(e.Pitch/2), math.Sin(e.Pitch/2)
	cz, sz := math.Cos(e.Yaw/2), math.Sin(e.Yaw/2)
	return Quaternion{
		W: cx*cy*cz + sx*sy*sz,
		X: sx*cy*cz - cx*sy*sz,
		Y: cx*sy*cz + sx*cy*sz,
		Z: cx*cy*sz - sx*sy*cz,
	}
}

// Wrap2Pi maps a into [0, 2pi).
func Wrap2Pi(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	if a >= 2*math.Pi {
		a = 0
	}
	return a
}

// WrapPi maps a into [-pi, pi).
func WrapPi(a float64) float64 {
	return Wrap2Pi(a+math.Pi) - math.Pi
}

// ToSigned shifts an angle in [0, 2pi) into (-pi, pi].
func ToSigned(a float64) float64 {
	if a > math.Pi {
		return a - 2*math.Pi
	}
	return a
}
