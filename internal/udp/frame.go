package udp

import (
	"time"

	"dmpimu/internal/ahrs"
)

// Frame is one attitude datagram. Angles are degrees, rates deg/s.
type Frame struct {
	Type    string    `json:"type"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"time"`
	Valid   bool      `json:"valid"`
	Roll    float64   `json:"roll"`
	Pitch   float64   `json:"pitch"`
	Heading float64   `json:"heading"`

	Compass *float64    `json:"compass,omitempty"`
	Mag     *[3]float64 `json:"mag_ut,omitempty"`
	Temp    *float64    `json:"temp_c,omitempty"`

	Gyro  [3]float64 `json:"gyro_dps"`
	Accel [3]float64 `json:"accel_g"`
	Error string     `json:"error,omitempty"`
}

// NewFrame builds the frame for a snapshot. Seq is filled in by SendFrame.
func NewFrame(s ahrs.Snapshot) Frame {
	f := Frame{
		Type:    "ahrs",
		Time:    s.IMULastUpdateAt.UTC(),
		Valid:   s.Valid,
		Roll:    s.RollDeg,
		Pitch:   s.PitchDeg,
		Heading: s.HeadingDeg,
		Gyro:    s.GyroDegPerSec,
		Accel:   s.AccelG,
		Error:   s.LastError,
	}
	if s.MagEnabled {
		c, m := s.CompassDeg, s.MagMicroTesla
		f.Compass = &c
		f.Mag = &m
	}
	if s.TempValid {
		t := s.TempC
		f.Temp = &t
	}
	return f
}
