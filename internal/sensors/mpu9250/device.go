// Package mpu9250 drives an MPU-9250 through its Digital Motion Processor:
// firmware upload, DMP bring-up, interrupt-driven FIFO sampling with
// magnetometer yaw fusion, and the gyro/magnetometer calibration routines.
package mpu9250

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"dmpimu/internal/attitude"
	"dmpimu/internal/calib"
	"dmpimu/internal/i2c"
)

var now = time.Now

const (
	defaultPollTimeout = 300 * time.Millisecond
)

// closeJoinTimeout bounds how long Close waits for the sampler.
var closeJoinTimeout = time.Second

// Interrupt is the IMU INT line, armed for falling edges.
type Interrupt interface {
	Wait(timeout time.Duration) (bool, error)
}

// Handler observes every sample after the first interrupt. It runs on the
// sampler goroutine and delays the next read until it returns.
type Handler func(Sample)

// Sample is the latest validated reading. It only changes on a fully
// decoded packet.
type Sample struct {
	Time time.Time

	Accel [3]float64 // m/s^2
	Gyro  [3]float64 // deg/s
	Mag   [3]float64 // uT, calibrated
	Temp  float64    // degC, last ReadTemperature result at commit time

	RawAccel [3]int16
	RawGyro  [3]int16
	RawMag   [3]int16

	AccelScale float64 // m/s^2 per LSB
	GyroScale  float64 // deg/s per LSB

	DMPQuat  attitude.Quaternion
	DMPEuler attitude.Euler

	// Fused values are only updated on packets carrying new magnetometer
	// data. FusedValid is set once the first such update succeeded.
	FusedValid     bool
	FusedQuat      attitude.Quaternion
	FusedEuler     attitude.Euler
	CompassHeading float64
}

type State int

const (
	StateUnconfigured State = iota
	StateIdentityVerified
	StateCalibrationLoaded
	StateConfigured
	StateMagnetometerReady
	StateFirmwareLoaded
	StateFeaturesEnabled
	StateSamplingEnabled
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateIdentityVerified:
		return "identity-verified"
	case StateCalibrationLoaded:
		return "calibration-loaded"
	case StateConfigured:
		return "configured"
	case StateMagnetometerReady:
		return "magnetometer-ready"
	case StateFirmwareLoaded:
		return "firmware-loaded"
	case StateFeaturesEnabled:
		return "features-enabled"
	case StateSamplingEnabled:
		return "sampling"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

type Options struct {
	Address    uint16
	MagAddress uint16

	// Firmware is the DMP image, see LoadFirmwareFile.
	Firmware []byte

	// Store supplies persisted calibration. Nil skips loading it.
	Store *calib.Store

	// Registerer receives the driver metrics. Nil keeps them private.
	Registerer prometheus.Registerer

	Handler     Handler
	PollTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Address == 0 {
		o.Address = addrDefault
	}
	if o.MagAddress == 0 {
		o.MagAddress = magAddrDefault
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = defaultPollTimeout
	}
	return o
}

func DefaultAddress() uint16 { return addrDefault }

// Device is one DMP sampling session.
type Device struct {
	c    *chip
	cfg  Config
	lock busLock
	irq  Interrupt

	store   *calib.Store
	magCal  calib.MagCalibration
	yaw     *attitude.YawFilter
	metrics *metrics

	countRetry  RetryPolicy
	readRetry   RetryPolicy
	pollTimeout time.Duration

	// Sampler-only state.
	buf       []byte
	firstRead bool

	mu      sync.RWMutex
	sample  Sample
	state   State
	lastIRQ time.Time
	handler Handler

	lastOK atomic.Bool
	// temp holds the float64 bits of the last ReadTemperature result. The
	// sampler copies it into the sample on commit.
	temp atomic.Uint64

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// Open validates cfg, brings the device up and starts the sampler. The
// sampler stops on Close or when ctx is done.
func Open(ctx context.Context, bus *i2c.Bus, irq Interrupt, cfg Config, opts Options) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if bus == nil {
		return nil, fmt.Errorf("mpu9250: bus is nil")
	}
	opts = opts.withDefaults()
	return open(ctx, bus.Dev(opts.Address), bus.Dev(opts.MagAddress), bus, irq, cfg, opts)
}

func open(ctx context.Context, dev, mag regIO, lock busLock, irq Interrupt, cfg Config, opts Options) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(opts.Firmware) == 0 {
		return nil, fmt.Errorf("%w: no dmp firmware image", ErrConfig)
	}
	if irq == nil {
		return nil, fmt.Errorf("%w: no interrupt line", ErrConfig)
	}
	d := newDevice(dev, mag, lock, irq, cfg, opts.withDefaults())
	if err := d.bringUp(opts.Firmware); err != nil {
		d.setState(StateUnconfigured)
		return nil, err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	go d.run(ctx)
	return d, nil
}

func newDevice(dev, mag regIO, lock busLock, irq Interrupt, cfg Config, opts Options) *Device {
	d := &Device{
		c:           &chip{dev: dev, mag: mag, magAddr: opts.MagAddress, cfg: cfg},
		cfg:         cfg,
		lock:        lock,
		irq:         irq,
		store:       opts.Store,
		magCal:      calib.IdentityMag(),
		yaw:         attitude.NewYawFilter(cfg.YawMixFactor, float64(cfg.SampleRateHz)),
		metrics:     newMetrics(opts.Registerer),
		countRetry:  defaultCountRetry,
		readRetry:   defaultReadRetry,
		pollTimeout: opts.PollTimeout,
		buf:         make([]byte, maxFIFOPacket),
		firstRead:   true,
		handler:     opts.Handler,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
	d.sample = Sample{
		AccelScale: cfg.accelScale(),
		GyroScale:  cfg.gyroScale(),
		DMPQuat:    attitude.Identity,
		FusedQuat:  attitude.Identity,
	}
	return d
}

// bringUp walks the state machine up to SamplingEnabled. The bus is claimed
// for the duration and released on every exit path.
func (d *Device) bringUp(firmware []byte) error {
	if d.lock.Claim() {
		log.Warnf("mpu9250 i2c bus claimed by another user, continuing bring-up anyway")
	}
	defer d.lock.Release()

	c := d.c
	c.dmpEnabled = true

	if err := c.reset(); err != nil {
		return fmt.Errorf("mpu9250: reset: %w", err)
	}
	if err := c.checkIdentity(); err != nil {
		return err
	}
	d.setState(StateIdentityVerified)

	if err := d.loadCalibration(); err != nil {
		return err
	}
	d.setState(StateCalibrationLoaded)

	if err := c.configureSensors(); err != nil {
		return fmt.Errorf("mpu9250: configure sensors: %w", err)
	}
	if err := c.setSampleRate(); err != nil {
		return fmt.Errorf("mpu9250: set sample rate: %w", err)
	}
	d.setState(StateConfigured)

	if d.cfg.EnableMagnetometer {
		if err := c.initMagnetometer(); err != nil {
			return fmt.Errorf("mpu9250: init magnetometer: %w", err)
		}
		d.setState(StateMagnetometerReady)
	} else if err := c.powerDownMagnetometer(); err != nil {
		log.Warnf("mpu9250 magnetometer power down failed: %v", err)
	}

	if err := c.uploadFirmware(firmware); err != nil {
		return fmt.Errorf("mpu9250: load firmware: %w", err)
	}
	d.setState(StateFirmwareLoaded)

	if err := c.setOrientation(d.cfg.Orientation); err != nil {
		return err
	}
	if err := c.enableFeatures(); err != nil {
		return err
	}
	if err := c.setFIFORate(); err != nil {
		return err
	}
	if err := c.setContinuousInterrupt(); err != nil {
		return err
	}
	d.setState(StateFeaturesEnabled)

	if err := c.enableDMP(); err != nil {
		return fmt.Errorf("mpu9250: enable dmp: %w", err)
	}
	if d.cfg.EnableMagnetometer {
		if err := c.enableMagSlave(); err != nil {
			return fmt.Errorf("mpu9250: enable magnetometer slave: %w", err)
		}
	}
	d.setState(StateSamplingEnabled)
	log.Debugf("mpu9250 sampling rate=%dHz packet=%d mag=%v orientation=%v", d.cfg.SampleRateHz, c.packetLen, d.cfg.EnableMagnetometer, d.cfg.Orientation)
	return nil
}

// loadCalibration applies stored gyro bias and reads the magnetometer
// calibration. Missing files only warn.
func (d *Device) loadCalibration() error {
	if d.store == nil {
		return nil
	}
	bias, err := d.store.LoadGyro()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warnf("mpu9250 no gyro calibration at %s, run 'calibrate gyro'", d.store.GyroPath())
	case err != nil:
		log.Warnf("mpu9250 ignoring gyro calibration: %v", err)
	default:
		if err := d.c.writeGyroBias(bias); err != nil {
			return err
		}
		log.Debugf("mpu9250 gyro bias loaded x=%d y=%d z=%d", bias[0], bias[1], bias[2])
	}

	if !d.cfg.EnableMagnetometer {
		return nil
	}
	m, err := d.store.LoadMag()
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Warnf("mpu9250 no magnetometer calibration at %s, run 'calibrate mag'", d.store.MagPath())
	case err != nil:
		log.Warnf("mpu9250 ignoring magnetometer calibration: %v", err)
	default:
		d.magCal = m
	}
	return nil
}

func (d *Device) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *Device) State() State {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Device) Config() Config { return d.cfg }

// Sample returns a copy of the latest validated sample.
func (d *Device) Sample() Sample {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sample
}

// SetHandler replaces the per-sample callback. Nil stops callbacks while
// sampling continues.
func (d *Device) SetHandler(h Handler) {
	d.mu.Lock()
	d.handler = h
	d.mu.Unlock()
}

func (d *Device) currentHandler() Handler {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.handler
}

// LastReadSuccessful reports whether the most recent FIFO read produced a sample.
func (d *Device) LastReadSuccessful() bool { return d.lastOK.Load() }

// MicrosSinceLastInterrupt is the age of the last interrupt, or -1 before the first.
func (d *Device) MicrosSinceLastInterrupt() int64 {
	d.mu.RLock()
	last := d.lastIRQ
	d.mu.RUnlock()
	if last.IsZero() {
		return -1
	}
	return now().Sub(last).Microseconds()
}

// ReadTemperature reads the die temperature. The next committed sample
// carries it.
func (d *Device) ReadTemperature() (float64, error) {
	if d.State() != StateSamplingEnabled {
		return 0, ErrNotConfigured
	}
	if d.lock.Claim() {
		d.warnf("mpu9250 i2c bus in use, reading temperature anyway")
	}
	t, err := d.c.readTemperature()
	d.lock.Release()
	if err != nil {
		return 0, err
	}
	d.temp.Store(math.Float64bits(t))
	return t, nil
}

// Close stops the sampler and powers the chip down. If the sampler is still
// inside a handler or bus transfer after closeJoinTimeout the chip is left
// powered rather than reset under it.
func (d *Device) Close() error {
	if d == nil {
		return nil
	}
	var err error
	d.stopOnce.Do(func() {
		close(d.stopCh)
		select {
		case <-d.done:
		case <-time.After(closeJoinTimeout):
			err = ErrSamplerBusy
			log.Warnf("mpu9250 sampler did not exit within %v, leaving chip powered", closeJoinTimeout)
			d.setState(StateClosed)
			return
		}
		d.lock.Claim()
		err = d.c.powerOff()
		d.lock.Release()
		d.setState(StateClosed)
	})
	return err
}

func (d *Device) warnf(format string, args ...any) {
	if d.cfg.ShowWarnings {
		log.Warnf(format, args...)
		return
	}
	log.Debugf(format, args...)
}
