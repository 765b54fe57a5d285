package mpu9250

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"dmpimu/internal/calib"
	"dmpimu/internal/i2c"
)

const (
	gyroCalWindow = 400 * time.Millisecond
	magCalSamples = 200
	magCalRateHz  = 20
)

// CalibrationOptions addresses the chip for a calibration run.
type CalibrationOptions struct {
	Address    uint16
	MagAddress uint16

	// Progress is called once a second of magnetometer collection with the
	// number of samples gathered so far.
	Progress func(collected, total int)
}

func (o CalibrationOptions) withDefaults() CalibrationOptions {
	if o.Address == 0 {
		o.Address = addrDefault
	}
	if o.MagAddress == 0 {
		o.MagAddress = magAddrDefault
	}
	return o
}

// CalibrateGyro measures the at-rest gyro offset, loads it into the bias
// registers and persists it. The device must be still. It must not run
// while a sampling Device is open on the same bus.
func CalibrateGyro(ctx context.Context, bus *i2c.Bus, store *calib.Store, opts CalibrationOptions) (calib.GyroBias, error) {
	if bus == nil {
		return calib.GyroBias{}, fmt.Errorf("mpu9250: bus is nil")
	}
	opts = opts.withDefaults()
	c := &chip{dev: bus.Dev(opts.Address), mag: bus.Dev(opts.MagAddress)}
	return calibrateGyro(ctx, c, bus, store)
}

func calibrateGyro(ctx context.Context, c *chip, lock busLock, store *calib.Store) (calib.GyroBias, error) {
	if store == nil {
		return calib.GyroBias{}, fmt.Errorf("mpu9250: calibration store is nil")
	}
	if lock.InUse() {
		return calib.GyroBias{}, ErrBusBusy
	}
	lock.Claim()
	defer lock.Release()

	if err := c.reset(); err != nil {
		return calib.GyroBias{}, err
	}
	if err := c.checkIdentity(); err != nil {
		return calib.GyroBias{}, err
	}
	if err := c.writeSeq(
		[2]byte{regPwrMgmt1, 0x01},
		[2]byte{regPwrMgmt2, 0x00},
	); err != nil {
		return calib.GyroBias{}, err
	}
	sleep(200 * time.Millisecond)

	// Raw capture: DMP and I2C master off, FIFO reset.
	if err := c.writeSeq(
		[2]byte{regIntEnable, 0x00},
		[2]byte{regFIFOEn, 0x00},
		[2]byte{regPwrMgmt1, 0x00},
		[2]byte{regI2CMstCtrl, 0x00},
		[2]byte{regUserCtrl, 0x00},
		[2]byte{regUserCtrl, bitFIFORst | bitDMPRst},
	); err != nil {
		return calib.GyroBias{}, err
	}
	sleep(15 * time.Millisecond)

	// 184 Hz DLPF, 200 Hz sampling, 250 dps, gyro only into the FIFO.
	if err := c.writeSeq(
		[2]byte{regConfig, 0x01},
		[2]byte{regSmplrtDiv, 0x04},
		[2]byte{regGyroConfig, 0x00},
		[2]byte{regAccelConfig, 0x00},
		[2]byte{regUserCtrl, bitFIFOEn},
		[2]byte{regFIFOEn, fifoGyroXEn | fifoGyroYEn | fifoGyroZEn},
	); err != nil {
		return calib.GyroBias{}, err
	}
	sleep(gyroCalWindow)
	if err := c.write(regFIFOEn, 0x00); err != nil {
		return calib.GyroBias{}, err
	}
	if err := ctx.Err(); err != nil {
		return calib.GyroBias{}, err
	}

	count, err := c.fifoCount()
	if err != nil {
		return calib.GyroBias{}, err
	}
	samples := count / 6
	if samples == 0 {
		return calib.GyroBias{}, fmt.Errorf("%w: fifo empty after %v", ErrInsufficientSamples, gyroCalWindow)
	}

	var sum [3]int64
	var b [6]byte
	for i := 0; i < samples; i++ {
		if err := c.read(regFIFORW, b[:]); err != nil {
			return calib.GyroBias{}, err
		}
		v, _ := be16x3(b[:], 0)
		for k := range sum {
			sum[k] += int64(v[k])
		}
	}

	var bias calib.GyroBias
	for k := range bias {
		bias[k] = int16(sum[k] / int64(samples))
	}
	log.Infof("mpu9250 gyro calibration samples=%d offsets=%d,%d,%d", samples, bias[0], bias[1], bias[2])

	if err := c.writeGyroBias(bias); err != nil {
		return calib.GyroBias{}, err
	}
	if err := store.SaveGyro(bias); err != nil {
		return calib.GyroBias{}, fmt.Errorf("mpu9250: save gyro calibration: %w", err)
	}
	return bias, nil
}

// CalibrateMagnetometer collects magnetometer samples while the operator
// rotates the device through all orientations, fits an ellipsoid and
// persists the hard and soft iron correction. The IMU is powered off
// afterwards.
func CalibrateMagnetometer(ctx context.Context, bus *i2c.Bus, store *calib.Store, opts CalibrationOptions) (calib.MagCalibration, error) {
	if bus == nil {
		return calib.MagCalibration{}, fmt.Errorf("mpu9250: bus is nil")
	}
	opts = opts.withDefaults()
	c := &chip{dev: bus.Dev(opts.Address), mag: bus.Dev(opts.MagAddress)}
	return calibrateMagnetometer(ctx, c, bus, store, opts.Progress)
}

func calibrateMagnetometer(ctx context.Context, c *chip, lock busLock, store *calib.Store, progress func(int, int)) (calib.MagCalibration, error) {
	if store == nil {
		return calib.MagCalibration{}, fmt.Errorf("mpu9250: calibration store is nil")
	}
	if lock.InUse() {
		return calib.MagCalibration{}, ErrBusBusy
	}
	lock.Claim()

	points, err := collectMag(ctx, c, progress)

	if perr := c.powerOff(); perr != nil {
		log.Warnf("mpu9250 power off after magnetometer calibration failed: %v", perr)
	}
	lock.Release()

	if err != nil {
		return calib.MagCalibration{}, err
	}

	e, err := calib.FitEllipsoid(points)
	if err != nil {
		return calib.MagCalibration{}, err
	}
	log.Infof("mpu9250 magnetometer fit center=%.2f,%.2f,%.2f lengths=%.2f,%.2f,%.2f",
		e.Center[0], e.Center[1], e.Center[2], e.Radii[0], e.Radii[1], e.Radii[2])

	m, err := calib.Calibration(e)
	if err != nil {
		return calib.MagCalibration{}, err
	}
	if err := store.SaveMag(m); err != nil {
		return calib.MagCalibration{}, fmt.Errorf("mpu9250: save magnetometer calibration: %w", err)
	}
	return m, nil
}

func collectMag(ctx context.Context, c *chip, progress func(int, int)) ([][3]float64, error) {
	if err := c.reset(); err != nil {
		return nil, err
	}
	if err := c.checkIdentity(); err != nil {
		return nil, err
	}
	if err := c.initMagnetometer(); err != nil {
		return nil, fmt.Errorf("mpu9250: init magnetometer: %w", err)
	}

	points := make([][3]float64, 0, magCalSamples)
	for len(points) < magCalSamples {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: stopped after %d of %d: %w", ErrInsufficientSamples, len(points), magCalSamples, err)
		}
		v, err := c.readMagDirect()
		if err != nil {
			return nil, fmt.Errorf("%w: read failed after %d of %d: %w", ErrInsufficientSamples, len(points), magCalSamples, err)
		}
		if v == [3]float64{} {
			return nil, fmt.Errorf("%w: magnetometer returned all zeros", ErrInsufficientSamples)
		}
		points = append(points, v)

		if len(points)%magCalRateHz == 0 {
			log.Infof("mpu9250 magnetometer calibration: keep spinning (%d/%d)", len(points), magCalSamples)
			if progress != nil {
				progress(len(points), magCalSamples)
			}
		}
		sleep(time.Second / magCalRateHz)
	}
	return points, nil
}
