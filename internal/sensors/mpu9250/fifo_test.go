package mpu9250

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

var (
	identityQuat = [4]int32{q30, 0, 0, 0}
	// q30 component of a 90 degree rotation.
	q30Half = int32(math.Round(q30 * math.Sqrt2 / 2))
)

func TestDecodePacket_NoMag(t *testing.T) {
	b := buildPacket(nil, identityQuat, [3]int16{1, -2, 8192}, [3]int16{-3, 4, 33})
	if len(b) != packetLenNoMag {
		t.Fatalf("packet len=%d", len(b))
	}
	p, err := decodePacket(b, false)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if p.quat != identityQuat {
		t.Fatalf("quat=%v", p.quat)
	}
	if p.accel != [3]int16{1, -2, 8192} || p.gyro != [3]int16{-3, 4, 33} {
		t.Fatalf("accel=%v gyro=%v", p.accel, p.gyro)
	}
	if p.magNew || p.magSaturated {
		t.Fatalf("mag flags set on 28-byte packet")
	}
}

func TestDecodePacket_Mag(t *testing.T) {
	b := buildPacket(magBlock(100, -200, 300, 0x10), identityQuat, [3]int16{}, [3]int16{})
	p, err := decodePacket(b, true)
	if err != nil {
		t.Fatalf("decodePacket: %v", err)
	}
	if !p.magNew || p.magADC != [3]int16{100, -200, 300} {
		t.Fatalf("mag=%v new=%v", p.magADC, p.magNew)
	}

	zero := buildPacket(magBlock(0, 0, 0, 0), identityQuat, [3]int16{}, [3]int16{})
	if p, err := decodePacket(zero, true); err != nil || p.magNew {
		t.Fatalf("all-zero mag new=%v err=%v", p.magNew, err)
	}

	sat := buildPacket(magBlock(100, 100, 100, akST2Overflow), identityQuat, [3]int16{}, [3]int16{})
	if p, err := decodePacket(sat, true); err != nil || !p.magSaturated || p.magNew {
		t.Fatalf("saturated=%v new=%v err=%v", p.magSaturated, p.magNew, err)
	}
}

func TestDecodePacket_Rejects(t *testing.T) {
	good := buildPacket(nil, identityQuat, [3]int16{}, [3]int16{})
	if _, err := decodePacket(good[:27], false); !errors.Is(err, ErrFIFOMisaligned) {
		t.Fatalf("short err=%v want ErrFIFOMisaligned", err)
	}
	if _, err := decodePacket(good, true); !errors.Is(err, ErrFIFOMisaligned) {
		t.Fatalf("wrong layout err=%v want ErrFIFOMisaligned", err)
	}

	half := buildPacket(nil, [4]int32{q30 / 2, 0, 0, 0}, [3]int16{}, [3]int16{})
	if _, err := decodePacket(half, false); !errors.Is(err, ErrQuaternion) {
		t.Fatalf("half-length quat err=%v want ErrQuaternion", err)
	}
}

func TestQuatMagnitudeOK(t *testing.T) {
	tests := []struct {
		q    [4]int32
		want bool
	}{
		{identityQuat, true},
		{[4]int32{-q30, 0, 0, 0}, true},
		{[4]int32{q30Half, 0, 0, q30Half}, true},
		{[4]int32{0, 0, 0, 0}, false},
		{[4]int32{q30, q30 / 2, 0, 0}, false},
		// Band edges of 1<<28 +/- 1<<24 on the top 16 bits.
		{[4]int32{15864 << 16, 0, 0, 0}, true},
		{[4]int32{15863 << 16, 0, 0, 0}, false},
		{[4]int32{16888 << 16, 0, 0, 0}, true},
		{[4]int32{16889 << 16, 0, 0, 0}, false},
		{[4]int32{0, -16888 << 16, 0, 0}, true},
		{[4]int32{0, 0, -16889 << 16, 0}, false},
		// Low 16 bits are ignored.
		{[4]int32{15863<<16 | 0xFFFF, 0, 0, 0}, false},
	}
	for _, tt := range tests {
		if got := quatMagnitudeOK(tt.q); got != tt.want {
			t.Fatalf("quatMagnitudeOK(%v)=%v want %v", tt.q, got, tt.want)
		}
	}
}

func TestReadFIFO_IdentityPacketEndToEnd(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	f.pushFIFO(buildPacket(nil, [4]int32{1 << 30, 0, 0, 0}, [3]int16{100, -100, 200}, [3]int16{10, -10, 5}))

	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	got := d.Sample()
	if got.DMPQuat.W != 1 || got.DMPQuat.X != 0 || got.DMPQuat.Y != 0 || got.DMPQuat.Z != 0 {
		t.Fatalf("quat=%+v want (1,0,0,0)", got.DMPQuat)
	}
	if got.DMPEuler.Roll != 0 || got.DMPEuler.Pitch != 0 || got.DMPEuler.Yaw != 0 {
		t.Fatalf("euler=%+v want all 0", got.DMPEuler)
	}
	if got.RawAccel != [3]int16{100, -100, 200} || got.RawGyro != [3]int16{10, -10, 5} {
		t.Fatalf("raw accel=%v gyro=%v", got.RawAccel, got.RawGyro)
	}
	for i, raw := range []float64{100, -100, 200} {
		if !almost(got.Accel[i], raw*got.AccelScale, 1e-12) {
			t.Fatalf("accel[%d]=%v want %v", i, got.Accel[i], raw*got.AccelScale)
		}
	}
	for i, raw := range []float64{10, -10, 5} {
		if !almost(got.Gyro[i], raw*got.GyroScale, 1e-12) {
			t.Fatalf("gyro[%d]=%v want %v", i, got.Gyro[i], raw*got.GyroScale)
		}
	}
}

func TestReadFIFO_QuaternionBandKeepsSample(t *testing.T) {
	noSleep(t)
	tests := []struct {
		name string
		w    int32
		ok   bool
	}{
		{"low edge", 15864 << 16, true},
		{"below band", 15863 << 16, false},
		{"high edge", 16888 << 16, true},
		{"above band", 16889 << 16, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, f, _ := newTestDevice(t, DefaultConfig())
			f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{1, 2, 3}, [3]int16{}))
			if err := d.readFIFO(); err != nil {
				t.Fatalf("seed readFIFO: %v", err)
			}
			before := d.Sample()

			f.pushFIFO(buildPacket(nil, [4]int32{tt.w, 0, 0, 0}, [3]int16{7, 8, 9}, [3]int16{}))
			err := d.readFIFO()
			if tt.ok {
				if err != nil || d.Sample().RawAccel != [3]int16{7, 8, 9} {
					t.Fatalf("err=%v accel=%v want accepted", err, d.Sample().RawAccel)
				}
				return
			}
			if !errors.Is(err, ErrQuaternion) {
				t.Fatalf("err=%v want ErrQuaternion", err)
			}
			if d.Sample() != before {
				t.Fatalf("sample changed on rejected packet")
			}
		})
	}
}

func TestReadFIFO_SinglePacket(t *testing.T) {
	noSleep(t)
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now
	now = func() time.Time { return ts }
	t.Cleanup(func() { now = old })

	d, f, _ := newTestDevice(t, DefaultConfig())
	f.pushFIFO(buildPacket(nil, [4]int32{q30Half, 0, 0, q30Half}, [3]int16{0, 0, 8192}, [3]int16{0, 0, 328}))

	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	got := d.Sample()
	if !got.Time.Equal(ts) {
		t.Fatalf("time=%v want %v", got.Time, ts)
	}
	if !almost(got.Accel[2], gravity, 1e-9) {
		t.Fatalf("accel z=%v want %v", got.Accel[2], gravity)
	}
	if !almost(got.Gyro[2], 328*1000.0/32768, 1e-9) {
		t.Fatalf("gyro z=%v", got.Gyro[2])
	}
	if got.RawAccel != [3]int16{0, 0, 8192} || got.RawGyro != [3]int16{0, 0, 328} {
		t.Fatalf("raw accel=%v gyro=%v", got.RawAccel, got.RawGyro)
	}
	if !almost(got.DMPQuat.Norm(), 1, 1e-9) {
		t.Fatalf("quat norm=%v", got.DMPQuat.Norm())
	}
	if !almost(got.DMPEuler.Yaw, math.Pi/2, 1e-6) || !almost(got.DMPEuler.Roll, 0, 1e-9) {
		t.Fatalf("euler=%+v want yaw pi/2", got.DMPEuler)
	}
	if f.resetCount() != 0 {
		t.Fatalf("resets=%d want 0", f.resetCount())
	}
}

func TestReadFIFO_TwoPacketsKeepsNewest(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{1, 1, 1}, [3]int16{}))
	f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{2, 2, 2}, [3]int16{}))

	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	if got := d.Sample().RawAccel; got != [3]int16{2, 2, 2} {
		t.Fatalf("accel=%v want newest packet", got)
	}
	if f.resetCount() != 0 {
		t.Fatalf("resets=%d want 0", f.resetCount())
	}
}

func TestReadFIFO_OverflowResets(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{}, [3]int16{}))
	}

	err := d.readFIFO()
	if !errors.Is(err, ErrFIFOOverflow) {
		t.Fatalf("err=%v want ErrFIFOOverflow", err)
	}
	if f.resetCount() != 1 {
		t.Fatalf("resets=%d want 1", f.resetCount())
	}
	if got := testutil.ToFloat64(d.metrics.fifoResets); got != 1 {
		t.Fatalf("fifo resets metric=%v want 1", got)
	}
	if !d.Sample().Time.IsZero() {
		t.Fatalf("sample updated on overflow")
	}
}

func TestReadFIFO_PartialCountRetried(t *testing.T) {
	slept := noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	d.firstRead = false
	f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{5, 5, 5}, [3]int16{}))
	f.counts = []int{10, packetLenNoMag}

	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	if got := d.Sample().RawAccel; got != [3]int16{5, 5, 5} {
		t.Fatalf("accel=%v", got)
	}
	if len(*slept) != 1 || (*slept)[0] != defaultCountRetry.Backoff {
		t.Fatalf("slept=%v want one %v grace period", *slept, defaultCountRetry.Backoff)
	}
	if f.resetCount() != 0 {
		t.Fatalf("resets=%d want 0", f.resetCount())
	}
}

func TestReadFIFO_PersistentMisalignment(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	d.firstRead = false
	f.counts = []int{10, 12}

	if err := d.readFIFO(); !errors.Is(err, ErrFIFOMisaligned) {
		t.Fatalf("err=%v want ErrFIFOMisaligned", err)
	}
	if f.resetCount() != 1 {
		t.Fatalf("resets=%d want 1", f.resetCount())
	}
}

func TestReadFIFO_FirstReadSuppressesReset(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	f.counts = []int{10, 10, 10, 10}

	if err := d.readFIFO(); !errors.Is(err, ErrFIFOMisaligned) {
		t.Fatalf("first err=%v want ErrFIFOMisaligned", err)
	}
	if f.resetCount() != 0 {
		t.Fatalf("first read resets=%d want 0", f.resetCount())
	}

	if err := d.readFIFO(); !errors.Is(err, ErrFIFOMisaligned) {
		t.Fatalf("second err=%v want ErrFIFOMisaligned", err)
	}
	if f.resetCount() != 1 {
		t.Fatalf("second read resets=%d want 1", f.resetCount())
	}
}

func TestReadFIFO_BadQuaternionKeepsSample(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{7, 7, 7}, [3]int16{}))
	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	before := d.Sample()

	f.pushFIFO(buildPacket(nil, [4]int32{}, [3]int16{9, 9, 9}, [3]int16{}))
	if err := d.readFIFO(); !errors.Is(err, ErrQuaternion) {
		t.Fatalf("err=%v want ErrQuaternion", err)
	}
	if got := d.Sample(); got != before {
		t.Fatalf("sample changed on rejected packet: %+v", got)
	}
}

func TestReadFIFO_TransportRetriedOnce(t *testing.T) {
	noSleep(t)
	d, f, _ := newTestDevice(t, DefaultConfig())
	f.pushFIFO(buildPacket(nil, identityQuat, [3]int16{}, [3]int16{}))
	f.readErrFor = map[byte]error{regFIFORW: errors.New("nack")}

	err := d.readFIFO()
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("err=%v want ErrTransport", err)
	}
	if got := readResult(err); got != "transport" {
		t.Fatalf("result=%q", got)
	}
}

func TestReadFIFO_MagFusion(t *testing.T) {
	noSleep(t)
	cfg := DefaultConfig()
	cfg.EnableMagnetometer = true
	d, f, _ := newTestDevice(t, cfg)

	// Body-frame field along -y: the AK8963 reports it on its x axis.
	f.pushFIFO(buildPacket(magBlock(-1000, 0, 500, 0x10), identityQuat, [3]int16{0, 0, 8192}, [3]int16{}))
	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	s := d.Sample()
	if s.RawMag != [3]int16{-1000, 0, 500} {
		t.Fatalf("raw mag=%v", s.RawMag)
	}
	if want := -1000 * magRawToMicroTesla; !almost(s.Mag[1], want, 1e-9) || !almost(s.Mag[2], -500*magRawToMicroTesla, 1e-9) {
		t.Fatalf("mag=%v", s.Mag)
	}
	if !almost(s.CompassHeading, math.Pi/2, 1e-9) {
		t.Fatalf("compass=%v want pi/2", s.CompassHeading)
	}
	// The first fused update seeds from the compass.
	if !s.FusedValid || !almost(s.FusedEuler.Yaw, math.Pi/2, 1e-9) {
		t.Fatalf("fused yaw=%v want pi/2", s.FusedEuler.Yaw)
	}
	if !almost(s.DMPEuler.Yaw, 0, 1e-9) {
		t.Fatalf("dmp yaw=%v want 0", s.DMPEuler.Yaw)
	}
}

func TestReadFIFO_MagSaturated(t *testing.T) {
	noSleep(t)
	cfg := DefaultConfig()
	cfg.EnableMagnetometer = true
	d, f, _ := newTestDevice(t, cfg)

	f.pushFIFO(buildPacket(magBlock(32000, 32000, 32000, akST2Overflow), identityQuat, [3]int16{1, 2, 3}, [3]int16{}))
	if err := d.readFIFO(); err != nil {
		t.Fatalf("readFIFO: %v", err)
	}
	s := d.Sample()
	if s.RawMag != [3]int16{} {
		t.Fatalf("saturated reading used: raw=%v", s.RawMag)
	}
	if s.RawAccel != [3]int16{1, 2, 3} {
		t.Fatalf("accel=%v, packet should still be accepted", s.RawAccel)
	}
	if got := testutil.ToFloat64(d.metrics.magSaturated); got != 1 {
		t.Fatalf("saturated metric=%v want 1", got)
	}
	if d.yaw.Seeded() {
		t.Fatalf("yaw filter seeded from saturated reading")
	}
}
