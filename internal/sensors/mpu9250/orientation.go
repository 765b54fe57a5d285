package mpu9250

import (
	"fmt"
	"strings"

	"dmpimu/internal/attitude"
)

// Orientation is the mounting of the chip relative to the body frame.
// The name says which chip axis points up.
type Orientation int

const (
	OrientationZUp Orientation = iota
	OrientationZDown
	OrientationXUp
	OrientationXDown
	OrientationYUp
	OrientationYDown
)

// axisMap describes a signed axis permutation: body axis i reads chip axis
// Axis[i] multiplied by Sign[i].
type axisMap struct {
	Axis [3]int
	Sign [3]int
}

type orientationInfo struct {
	name string
	m    axisMap
}

// orientations drives both the DMP chip-to-body registers and the
// magnetometer remap in fusion.
var orientations = map[Orientation]orientationInfo{
	OrientationZUp:   {"z_up", axisMap{Axis: [3]int{0, 1, 2}, Sign: [3]int{1, 1, 1}}},
	OrientationZDown: {"z_down", axisMap{Axis: [3]int{0, 1, 2}, Sign: [3]int{-1, 1, -1}}},
	OrientationXUp:   {"x_up", axisMap{Axis: [3]int{2, 1, 0}, Sign: [3]int{-1, 1, 1}}},
	OrientationXDown: {"x_down", axisMap{Axis: [3]int{2, 1, 0}, Sign: [3]int{1, 1, -1}}},
	OrientationYUp:   {"y_up", axisMap{Axis: [3]int{0, 2, 1}, Sign: [3]int{1, -1, 1}}},
	OrientationYDown: {"y_down", axisMap{Axis: [3]int{0, 2, 1}, Sign: [3]int{1, 1, -1}}},
}

func (o Orientation) String() string {
	if info, ok := orientations[o]; ok {
		return info.name
	}
	return fmt.Sprintf("Orientation(%d)", int(o))
}

func ParseOrientation(s string) (Orientation, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	for o, info := range orientations {
		if info.name == t {
			return o, nil
		}
	}
	return 0, fmt.Errorf("%w: orientation %q (want z_up, z_down, x_up, x_down, y_up or y_down)", ErrConfig, s)
}

// Matrix returns the chip-to-body rotation matrix, row major.
func (o Orientation) Matrix() [9]int {
	var m [9]int
	a := orientations[o].m
	for row := 0; row < 3; row++ {
		m[row*3+a.Axis[row]] = a.Sign[row]
	}
	return m
}

// Scalar is the InvenSense packed form of Matrix: three bits per row
// (axis index, plus 4 when negative).
func (o Orientation) Scalar() uint16 {
	a := orientations[o].m
	var s uint16
	for row := 0; row < 3; row++ {
		r := uint16(a.Axis[row])
		if a.Sign[row] < 0 {
			r |= 4
		}
		s |= r << (3 * row)
	}
	return s
}

// Remap converts a chip-frame vector into the body frame.
func (o Orientation) Remap(v attitude.Vec3) attitude.Vec3 {
	a := orientations[o].m
	var out attitude.Vec3
	for i := 0; i < 3; i++ {
		out[i] = float64(a.Sign[i]) * v[a.Axis[i]]
	}
	return out
}

// dmpRegisters returns the FCFG_1/2 axis selectors and FCFG_3/7 sign
// selectors for gyro and accel.
func (o Orientation) dmpRegisters() (gyroAxes, accelAxes, gyroSign, accelSign [3]byte) {
	s := o.Scalar()
	for row := 0; row < 3; row++ {
		r := (s >> (3 * row)) & 7
		gyroAxes[row] = orientGyroAxes[r&3]
		accelAxes[row] = orientAccelAxes[r&3]
		gyroSign[row] = orientGyroSign[row]
		accelSign[row] = orientAccelSign[row]
		if r&4 != 0 {
			gyroSign[row] |= 1
			accelSign[row] |= 1
		}
	}
	return
}
