package attitude

import (
	"errors"
	"fmt"
	"math"
)

// ErrHeading is returned when the compass heading cannot be computed
// (for example a zero or NaN field vector).
var ErrHeading = errors.New("attitude: compass heading is NaN")

// DefaultMixFactor is the yaw mix factor used when none is configured.
// Larger values trust the gyro longer before the compass pulls yaw back.
const DefaultMixFactor = 4

// Fused is the result of one yaw filter update.
type Fused struct {
	Euler Euler
	Quat  Quaternion
	// CompassHeading is the raw tilt-compensated heading, -atan2(y, x), unwrapped.
	CompassHeading float64
}

// YawFilter is a complementary filter correcting DMP yaw drift with the
// magnetometer heading. Roll and pitch pass through untouched.
//
// The blend fraction per update is 100/(MixFactor*SampleRateHz), which keeps
// the time constant the same across sample rates. Not safe for concurrent use.
type YawFilter struct {
	MixFactor    float64
	SampleRateHz float64

	seeded       bool
	lastDmpYaw   float64
	lastFusedYaw float64 // [0, 2pi)
}

func NewYawFilter(mixFactor, sampleRateHz float64) *YawFilter {
	if mixFactor <= 0 {
		mixFactor = DefaultMixFactor
	}
	return &YawFilter{MixFactor: mixFactor, SampleRateHz: sampleRateHz}
}

// Reset forgets filter history; the next update seeds from the compass.
func (f *YawFilter) Reset() {
	f.seeded = false
	f.lastDmpYaw = 0
	f.lastFusedYaw = 0
}

// Seeded reports whether the filter has accepted at least one update.
func (f *YawFilter) Seeded() bool { return f.seeded }

// Update blends the DMP attitude with a body-frame magnetic field vector
// (already remapped to the mounting orientation). The DMP yaw reference
// advances on every call, so a NaN heading skips the correction but the
// next update only propagates the DMP change since this one.
func (f *YawFilter) Update(dmp Euler, magBody Vec3) (Fused, error) {
	if f.MixFactor <= 0 || f.SampleRateHz <= 0 {
		return Fused{}, fmt.Errorf("attitude: invalid yaw filter mix=%v rate=%v", f.MixFactor, f.SampleRateHz)
	}

	deltaDmp := f.lastDmpYaw - dmp.Yaw
	f.lastDmpYaw = dmp.Yaw

	level := Euler{Roll: dmp.Roll, Pitch: dmp.Pitch}.Quaternion()
	tilted := level.Rotate(magBody)

	compass := -math.Atan2(tilted[1], tilted[0])
	if math.IsNaN(compass) {
		return Fused{}, ErrHeading
	}
	magYaw := Wrap2Pi(compass)

	if !f.seeded {
		f.lastFusedYaw = magYaw
		deltaDmp = 0
		f.seeded = true
	}

	predicted := Wrap2Pi(f.lastFusedYaw + deltaDmp)
	diff := WrapPi(magYaw - predicted)
	fused := Wrap2Pi(predicted + diff*100/(f.MixFactor*f.SampleRateHz))
	f.lastFusedYaw = fused

	e := Euler{Roll: dmp.Roll, Pitch: dmp.Pitch, Yaw: ToSigned(fused)}
	return Fused{Euler: e, Quat: e.Quaternion(), CompassHeading: compass}, nil
}
