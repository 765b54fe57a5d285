package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dmpimu/internal/calib"
	"dmpimu/internal/sensors/mpu9250"
)

type Config struct {
	IMU         IMUConfig         `yaml:"imu"`
	Calibration CalibrationConfig `yaml:"calibration"`
	Stream      StreamConfig      `yaml:"stream"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type IMUConfig struct {
	I2CBus     int             `yaml:"i2c_bus"`
	Address    uint16          `yaml:"address"`
	MagAddress uint16          `yaml:"mag_address"`
	Interrupt  InterruptConfig `yaml:"interrupt"`

	AccelFSR           string  `yaml:"accel_fsr"`
	GyroFSR            string  `yaml:"gyro_fsr"`
	AccelDLPF          string  `yaml:"accel_dlpf"`
	GyroDLPF           string  `yaml:"gyro_dlpf"`
	EnableMagnetometer bool    `yaml:"enable_magnetometer"`
	SampleRateHz       int     `yaml:"sample_rate_hz"`
	Orientation        string  `yaml:"orientation"`
	InterruptPriority  int     `yaml:"interrupt_priority"`
	ShowWarnings       bool    `yaml:"show_warnings"`
	YawMixFactor       float64 `yaml:"yaw_mix_factor"`

	FirmwarePath string `yaml:"firmware_path"`
}

type InterruptConfig struct {
	// Chip is a gpiochip path. Empty looks the line up by its GPIO<line> name.
	Chip string `yaml:"chip"`
	Line int    `yaml:"line"`
}

type CalibrationConfig struct {
	Dir string `yaml:"dir"`
}

type StreamConfig struct {
	Enable   bool          `yaml:"enable"`
	Dest     string        `yaml:"dest"`
	Interval time.Duration `yaml:"interval"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

const (
	DefaultFirmwarePath = "/etc/dmpimu/dmp_firmware.bin"
	DefaultInterruptPin = 17
)

// Default returns the configuration used when no file is present.
func Default() Config {
	d := mpu9250.DefaultConfig()
	return Config{
		IMU: IMUConfig{
			I2CBus:       1,
			Address:      mpu9250.DefaultAddress(),
			Interrupt:    InterruptConfig{Line: DefaultInterruptPin},
			AccelFSR:     d.AccelFSR.String(),
			GyroFSR:      d.GyroFSR.String(),
			AccelDLPF:    d.AccelDLPF.String(),
			GyroDLPF:     d.GyroDLPF.String(),
			SampleRateHz: d.SampleRateHz,
			Orientation:  d.Orientation.String(),
			YawMixFactor: d.YawMixFactor,
			FirmwarePath: DefaultFirmwarePath,
		},
		Calibration: CalibrationConfig{Dir: calib.DefaultDir},
		Stream:      StreamConfig{Interval: 100 * time.Millisecond},
		Log:         LogConfig{Level: "info"},
	}
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML over Default and validates. Keys absent from the
// document keep their defaults, so explicit zeros such as i2c_bus: 0 stick.
func Parse(b []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	imu := cfg.IMU
	if imu.I2CBus < 0 {
		return fmt.Errorf("imu.i2c_bus must be >= 0")
	}
	if imu.Address == 0 || imu.Address > 0x7F || imu.MagAddress > 0x7F {
		return fmt.Errorf("imu.address and imu.mag_address must be 7-bit i2c addresses")
	}
	if imu.Interrupt.Line < 0 {
		return fmt.Errorf("imu.interrupt.line must be >= 0")
	}
	if imu.FirmwarePath == "" {
		return fmt.Errorf("imu.firmware_path is required")
	}
	if _, err := imu.DeviceConfig(); err != nil {
		return err
	}
	if cfg.Calibration.Dir == "" {
		return fmt.Errorf("calibration.dir is required")
	}
	if cfg.Stream.Interval <= 0 {
		return fmt.Errorf("stream.interval must be > 0")
	}
	if cfg.Stream.Enable && cfg.Stream.Dest == "" {
		return fmt.Errorf("stream.dest is required when stream.enable is true")
	}
	return nil
}

// deviceKeys maps mpu9250.Config fields to their YAML keys.
var deviceKeys = map[string]string{
	"AccelFSR":          "imu.accel_fsr",
	"GyroFSR":           "imu.gyro_fsr",
	"AccelDLPF":         "imu.accel_dlpf",
	"GyroDLPF":          "imu.gyro_dlpf",
	"SampleRateHz":      "imu.sample_rate_hz",
	"Orientation":       "imu.orientation",
	"InterruptPriority": "imu.interrupt_priority",
	"YawMixFactor":      "imu.yaw_mix_factor",
}

// DeviceConfig converts the YAML fields into a validated mpu9250.Config.
// Errors name the offending key.
func (c IMUConfig) DeviceConfig() (mpu9250.Config, error) {
	var (
		out mpu9250.Config
		err error
	)
	if out.AccelFSR, err = mpu9250.ParseAccelFSR(c.AccelFSR); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.accel_fsr: %w", err)
	}
	if out.GyroFSR, err = mpu9250.ParseGyroFSR(c.GyroFSR); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.gyro_fsr: %w", err)
	}
	if out.AccelDLPF, err = mpu9250.ParseDLPF(c.AccelDLPF); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.accel_dlpf: %w", err)
	}
	if out.GyroDLPF, err = mpu9250.ParseDLPF(c.GyroDLPF); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.gyro_dlpf: %w", err)
	}
	if out.Orientation, err = mpu9250.ParseOrientation(c.Orientation); err != nil {
		return mpu9250.Config{}, fmt.Errorf("imu.orientation: %w", err)
	}
	out.EnableMagnetometer = c.EnableMagnetometer
	out.SampleRateHz = c.SampleRateHz
	out.InterruptPriority = c.InterruptPriority
	out.ShowWarnings = c.ShowWarnings
	out.YawMixFactor = c.YawMixFactor

	if err := out.Validate(); err != nil {
		var fe *mpu9250.FieldError
		if errors.As(err, &fe) && deviceKeys[fe.Field] != "" {
			return mpu9250.Config{}, fmt.Errorf("%s: %w", deviceKeys[fe.Field], err)
		}
		return mpu9250.Config{}, fmt.Errorf("imu: %w", err)
	}
	return out, nil
}
