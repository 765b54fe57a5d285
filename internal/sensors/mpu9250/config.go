package mpu9250

import (
	"fmt"
	"strings"

	"dmpimu/internal/attitude"
)

// AccelFSR selects the accelerometer full-scale range.
type AccelFSR int

const (
	Accel2G AccelFSR = iota
	Accel4G
	Accel8G
	Accel16G
)

var accelFSRNames = map[AccelFSR]string{Accel2G: "2g", Accel4G: "4g", Accel8G: "8g", Accel16G: "16g"}

func (a AccelFSR) String() string {
	if s, ok := accelFSRNames[a]; ok {
		return s
	}
	return fmt.Sprintf("AccelFSR(%d)", int(a))
}

// G returns the range in units of g.
func (a AccelFSR) G() float64 { return float64(int(2) << uint(a)) }

func (a AccelFSR) valid() bool { return a >= Accel2G && a <= Accel16G }

// GyroFSR selects the gyro full-scale range.
type GyroFSR int

const (
	Gyro250DPS GyroFSR = iota
	Gyro500DPS
	Gyro1000DPS
	Gyro2000DPS
)

var gyroFSRNames = map[GyroFSR]string{Gyro250DPS: "250dps", Gyro500DPS: "500dps", Gyro1000DPS: "1000dps", Gyro2000DPS: "2000dps"}

func (g GyroFSR) String() string {
	if s, ok := gyroFSRNames[g]; ok {
		return s
	}
	return fmt.Sprintf("GyroFSR(%d)", int(g))
}

// DPS returns the range in deg/s.
func (g GyroFSR) DPS() float64 { return float64(int(250) << uint(g)) }

func (g GyroFSR) valid() bool { return g >= Gyro250DPS && g <= Gyro2000DPS }

// DLPF selects the digital low-pass filter bandwidth.
type DLPF int

const (
	DLPFOff DLPF = iota
	DLPF184
	DLPF92
	DLPF41
	DLPF20
	DLPF10
	DLPF5
)

var dlpfNames = map[DLPF]string{DLPFOff: "off", DLPF184: "184", DLPF92: "92", DLPF41: "41", DLPF20: "20", DLPF10: "10", DLPF5: "5"}

func (d DLPF) String() string {
	if s, ok := dlpfNames[d]; ok {
		return s
	}
	return fmt.Sprintf("DLPF(%d)", int(d))
}

func (d DLPF) valid() bool { return d >= DLPFOff && d <= DLPF5 }

// gyroReg is the CONFIG register value. Off means the 8800 Hz path.
func (d DLPF) gyroReg() byte {
	if d == DLPFOff {
		return 0x07
	}
	return byte(d)
}

// accelReg is the ACCEL_CONFIG_2 value. Off sets ACCEL_FCHOICE_B.
func (d DLPF) accelReg() byte {
	if d == DLPFOff {
		return 0x08
	}
	return byte(d)
}

func ParseAccelFSR(s string) (AccelFSR, error) {
	for k, v := range accelFSRNames {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: accel fsr %q (want 2g, 4g, 8g or 16g)", ErrConfig, s)
}

func ParseGyroFSR(s string) (GyroFSR, error) {
	for k, v := range gyroFSRNames {
		if strings.EqualFold(strings.TrimSpace(s), v) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: gyro fsr %q (want 250dps, 500dps, 1000dps or 2000dps)", ErrConfig, s)
}

func ParseDLPF(s string) (DLPF, error) {
	t := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(s)), "hz")
	for k, v := range dlpfNames {
		if t == v {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: dlpf %q (want off, 184, 92, 41, 20, 10 or 5)", ErrConfig, s)
}

// Config is the device configuration. It is copied at Open and never
// changes afterwards.
type Config struct {
	AccelFSR  AccelFSR
	GyroFSR   GyroFSR
	AccelDLPF DLPF
	GyroDLPF  DLPF

	EnableMagnetometer bool

	// SampleRateHz is the DMP output rate. It must divide 200.
	SampleRateHz int

	Orientation Orientation

	// InterruptPriority is the SCHED_FIFO priority of the sampler thread.
	// Zero leaves the default scheduler in place.
	InterruptPriority int

	ShowWarnings bool

	// YawMixFactor slows the magnetometer yaw correction; see attitude.YawFilter.
	YawMixFactor float64
}

const (
	MinSampleRateHz = 4
	MaxSampleRateHz = dmpSampleRate
)

func DefaultConfig() Config {
	return Config{
		AccelFSR:     Accel4G,
		GyroFSR:      Gyro1000DPS,
		AccelDLPF:    DLPF184,
		GyroDLPF:     DLPF184,
		SampleRateHz: 100,
		Orientation:  OrientationZUp,
		YawMixFactor: attitude.DefaultMixFactor,
	}
}

// Validate checks every field without touching hardware.
func (c Config) Validate() error {
	if c.SampleRateHz < MinSampleRateHz || c.SampleRateHz > MaxSampleRateHz {
		return fieldErr("SampleRateHz", "sample rate %d Hz must be between %d and %d", c.SampleRateHz, MinSampleRateHz, MaxSampleRateHz)
	}
	if MaxSampleRateHz%c.SampleRateHz != 0 {
		return fieldErr("SampleRateHz", "sample rate %d Hz must divide %d (200, 100, 50, 40, 25, 20, 10, 8, 5, 4)", c.SampleRateHz, MaxSampleRateHz)
	}
	if !c.AccelFSR.valid() {
		return fieldErr("AccelFSR", "invalid accel fsr %v", c.AccelFSR)
	}
	if !c.GyroFSR.valid() {
		return fieldErr("GyroFSR", "invalid gyro fsr %v", c.GyroFSR)
	}
	if !c.AccelDLPF.valid() {
		return fieldErr("AccelDLPF", "invalid accel dlpf %v", c.AccelDLPF)
	}
	if !c.GyroDLPF.valid() {
		return fieldErr("GyroDLPF", "invalid gyro dlpf %v", c.GyroDLPF)
	}
	if _, ok := orientations[c.Orientation]; !ok {
		return fieldErr("Orientation", "invalid orientation %v", c.Orientation)
	}
	if c.InterruptPriority < 0 || c.InterruptPriority > 99 {
		return fieldErr("InterruptPriority", "interrupt priority %d must be between 0 and 99", c.InterruptPriority)
	}
	if !(c.YawMixFactor > 0) {
		return fieldErr("YawMixFactor", "yaw mix factor must be > 0")
	}
	return nil
}

// RateDivider is the DMP FIFO rate divider: the DMP runs at 200 Hz and
// emits one packet every RateDivider()+1 cycles.
func (c Config) RateDivider() int {
	if c.SampleRateHz <= 0 {
		return 0
	}
	return dmpSampleRate/c.SampleRateHz - 1
}

// accelScale converts raw accel counts to m/s^2.
func (c Config) accelScale() float64 { return c.AccelFSR.G() * gravity / 32768.0 }

// gyroScale converts raw gyro counts to deg/s.
func (c Config) gyroScale() float64 { return c.GyroFSR.DPS() / 32768.0 }

func (c Config) packetLen() int {
	if c.EnableMagnetometer {
		return packetLenMag
	}
	return packetLenNoMag
}
