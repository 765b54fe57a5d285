package ahrs

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"dmpimu/internal/calib"
	"dmpimu/internal/gpio"
	"dmpimu/internal/i2c"
	"dmpimu/internal/sensors/mpu9250"
)

type Config struct {
	Enable     bool
	I2CBus     int
	IMUAddr    uint16
	MagAddr    uint16
	IRQChip    string
	IRQLine    int
	Firmware   string
	CalibDir   string
	Device     mpu9250.Config
	Registerer prometheus.Registerer
}

type Snapshot struct {
	Valid           bool
	IMUDetected     bool
	MagEnabled      bool
	IMULastUpdateAt time.Time

	RollDeg    float64
	PitchDeg   float64
	HeadingDeg float64 // [0, 360), magnetometer corrected when enabled
	CompassDeg float64 // raw tilt-compensated compass, magnetometer only

	GyroDegPerSec [3]float64
	AccelG        [3]float64
	MagMicroTesla [3]float64
	TempC         float64
	TempValid     bool

	LastError string
	UpdatedAt time.Time
}

// device is the part of *mpu9250.Device the service uses.
type device interface {
	SetHandler(mpu9250.Handler)
	ReadTemperature() (float64, error)
	MicrosSinceLastInterrupt() int64
	Close() error
}

// openDevice brings up the IMU and returns the session plus a release func
// for the bus and interrupt line.
var openDevice = func(ctx context.Context, cfg Config) (device, func(), error) {
	bus, err := i2c.OpenNumber(cfg.I2CBus)
	if err != nil {
		return nil, nil, fmt.Errorf("open i2c-%d: %w", cfg.I2CBus, err)
	}
	irq, err := gpio.OpenInterrupt(cfg.IRQChip, cfg.IRQLine)
	if err != nil {
		_ = bus.Close()
		return nil, nil, err
	}
	release := func() {
		if n := irq.Dropped(); n > 0 {
			log.Infof("ahrs irq dropped_edges=%d", n)
		}
		_ = irq.Close()
		_ = bus.Close()
	}
	fw, err := mpu9250.LoadFirmwareFile(cfg.Firmware)
	if err != nil {
		release()
		return nil, nil, err
	}
	dev, err := mpu9250.Open(ctx, bus, irq, cfg.Device, mpu9250.Options{
		Address:    cfg.IMUAddr,
		MagAddress: cfg.MagAddr,
		Firmware:   fw,
		Store:      calib.NewStore(cfg.CalibDir),
		Registerer: cfg.Registerer,
	})
	if err != nil {
		release()
		return nil, nil, err
	}
	return dev, release, nil
}

const (
	// staleAfter marks the snapshot invalid when interrupts stop arriving.
	staleAfter = time.Second
	tempPeriod = 2 * time.Second
)

type Service struct {
	cfg Config

	rollOffsetDeg  float64
	pitchOffsetDeg float64

	mu   sync.RWMutex
	snap Snapshot
	subs map[chan Snapshot]struct{}

	dev     device
	release func()

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func New(cfg Config) *Service {
	if cfg.IMUAddr == 0 {
		cfg.IMUAddr = mpu9250.DefaultAddress()
	}
	return &Service{
		cfg:    cfg,
		subs:   make(map[chan Snapshot]struct{}),
		stopCh: make(chan struct{}),
	}
}

func (s *Service) Close() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
		if s.dev != nil {
			if err := s.dev.Close(); err != nil {
				log.Warnf("ahrs imu close: %v", err)
			}
			s.dev = nil
		}
		if s.release != nil {
			s.release()
			s.release = nil
		}
		s.mu.Lock()
		for ch := range s.subs {
			close(ch)
		}
		s.subs = nil
		s.mu.Unlock()
	})
}

func (s *Service) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	if !s.cfg.Enable {
		return nil
	}

	dev, release, err := openDevice(ctx, s.cfg)
	if err != nil {
		s.setIMUErr(fmt.Sprintf("imu init: %v", err))
		return err
	}
	s.dev = dev
	s.release = release

	s.mu.Lock()
	s.snap.IMUDetected = true
	s.snap.MagEnabled = s.cfg.Device.EnableMagnetometer
	s.mu.Unlock()

	dev.SetHandler(s.onSample)

	s.wg.Add(1)
	go s.run(ctx)
	log.Infof("ahrs started i2c-%d addr=0x%02X rate=%dHz mag=%v", s.cfg.I2CBus, s.cfg.IMUAddr, s.cfg.Device.SampleRateHz, s.cfg.Device.EnableMagnetometer)
	return nil
}

// Subscribe returns a channel receiving every new snapshot. Slow readers miss
// snapshots rather than stall the sampler. The cancel func unsubscribes.
func (s *Service) Subscribe(buf int) (<-chan Snapshot, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Snapshot, buf)
	s.mu.Lock()
	if s.subs == nil {
		close(ch)
		s.mu.Unlock()
		return ch, func() {}
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.mu.Unlock()
		})
	}
}

// SetLevel re-zeros roll/pitch so the current attitude becomes (0,0).
// The offset is not persisted; it lives for the process lifetime.
func (s *Service) SetLevel() error {
	if s == nil {
		return fmt.Errorf("ahrs: service is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.snap.Valid {
		return fmt.Errorf("ahrs: not valid (%s)", s.snap.LastError)
	}
	s.rollOffsetDeg -= s.snap.RollDeg
	s.pitchOffsetDeg -= s.snap.PitchDeg
	s.snap.RollDeg = 0
	s.snap.PitchDeg = 0
	return nil
}

// onSample runs on the sampler goroutine for every packet.
func (s *Service) onSample(smp mpu9250.Sample) {
	e := smp.DMPEuler
	if smp.FusedValid {
		e = smp.FusedEuler
	}

	s.mu.Lock()
	snap := s.snap
	snap.Valid = true
	snap.LastError = ""
	snap.IMULastUpdateAt = smp.Time
	snap.UpdatedAt = time.Now().UTC()
	snap.RollDeg = rad2deg(e.Roll) + s.rollOffsetDeg
	snap.PitchDeg = rad2deg(e.Pitch) + s.pitchOffsetDeg
	snap.HeadingDeg = wrap360(rad2deg(e.Yaw))
	if s.cfg.Device.EnableMagnetometer {
		snap.CompassDeg = wrap360(rad2deg(smp.CompassHeading))
		snap.MagMicroTesla = smp.Mag
	}
	snap.GyroDegPerSec = smp.Gyro
	for i, a := range smp.Accel {
		snap.AccelG[i] = a / 9.80665
	}
	s.snap = snap
	s.publishLocked()
	s.mu.Unlock()
}

// publishLocked hands the current snapshot to every subscriber without blocking.
func (s *Service) publishLocked() {
	for ch := range s.subs {
		select {
		case ch <- s.snap:
		default:
		}
	}
}

// run watches for a stalled interrupt line and refreshes the temperature.
func (s *Service) run(ctx context.Context) {
	defer s.wg.Done()
	staleTick := time.NewTicker(staleAfter / 2)
	tempTick := time.NewTicker(tempPeriod)
	defer staleTick.Stop()
	defer tempTick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-staleTick.C:
			us := s.dev.MicrosSinceLastInterrupt()
			if us < 0 || time.Duration(us)*time.Microsecond > staleAfter {
				s.setIMUErr("no imu interrupts")
			}
		case <-tempTick.C:
			t, err := s.dev.ReadTemperature()
			if err != nil {
				log.Debugf("ahrs temperature read: %v", err)
				continue
			}
			s.mu.Lock()
			s.snap.TempC = t
			s.snap.TempValid = true
			s.mu.Unlock()
		}
	}
}

func (s *Service) setIMUErr(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.LastError != msg {
		log.Warnf("ahrs %s", msg)
	}
	s.snap.Valid = false
	s.snap.LastError = msg
	s.snap.UpdatedAt = time.Now().UTC()
	s.publishLocked()
}

func rad2deg(r float64) float64 { return r * 180 / math.Pi }

func wrap360(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
