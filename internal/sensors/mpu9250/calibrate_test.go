package mpu9250

import (
	"context"
	"encoding/binary"
	"errors"
	"io/fs"
	"math"
	"testing"

	"dmpimu/internal/calib"
)

func gyroFIFO(samples ...[3]int16) []byte {
	var b []byte
	for _, s := range samples {
		for _, v := range s {
			b = binary.BigEndian.AppendUint16(b, uint16(v))
		}
	}
	return b
}

func TestCalibrateGyro(t *testing.T) {
	slept := noSleep(t)
	f := newFakeMPU()
	f.refill = gyroFIFO([3]int16{38, -82, 10}, [3]int16{42, -78, 14}, [3]int16{40, -80, 12})
	lock := &fakeLock{}
	store := calib.NewStore(t.TempDir())

	bias, err := calibrateGyro(context.Background(), &chip{dev: f}, lock, store)
	if err != nil {
		t.Fatalf("calibrateGyro: %v", err)
	}
	if want := (calib.GyroBias{40, -80, 12}); bias != want {
		t.Fatalf("bias=%v want %v", bias, want)
	}
	if !f.wrote(regXGOffsetH, 0xFF, 0xF6, 0x00, 0x14, 0xFF, 0xFD) {
		t.Fatalf("bias registers not written as -bias/4")
	}
	if !f.wrote(regFIFOEn, fifoGyroXEn|fifoGyroYEn|fifoGyroZEn) {
		t.Fatalf("gyro not routed to fifo")
	}
	if got, err := store.LoadGyro(); err != nil || got != bias {
		t.Fatalf("stored=%v,%v want %v", got, err, bias)
	}
	if lock.InUse() {
		t.Fatalf("bus left claimed")
	}

	var sawWindow bool
	for _, d := range *slept {
		if d == gyroCalWindow {
			sawWindow = true
		}
	}
	if !sawWindow {
		t.Fatalf("no %v collection window in %v", gyroCalWindow, *slept)
	}
}

func TestCalibrateGyro_BusBusy(t *testing.T) {
	noSleep(t)
	f := newFakeMPU()
	lock := &fakeLock{inUse: true}

	_, err := calibrateGyro(context.Background(), &chip{dev: f}, lock, calib.NewStore(t.TempDir()))
	if !errors.Is(err, ErrBusBusy) {
		t.Fatalf("err=%v want ErrBusBusy", err)
	}
	if n := len(f.writeLog()); n != 0 {
		t.Fatalf("writes=%d want none", n)
	}
}

func TestCalibrateGyro_EmptyFIFO(t *testing.T) {
	noSleep(t)
	store := calib.NewStore(t.TempDir())
	_, err := calibrateGyro(context.Background(), &chip{dev: newFakeMPU()}, &fakeLock{}, store)
	if !errors.Is(err, ErrInsufficientSamples) {
		t.Fatalf("err=%v want ErrInsufficientSamples", err)
	}
	if _, err := store.LoadGyro(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("gyro file written on failure: %v", err)
	}
}

func TestCalibrateGyro_WrongChip(t *testing.T) {
	noSleep(t)
	f := newFakeMPU()
	f.regs[regWhoAmI] = 0x68
	if _, err := calibrateGyro(context.Background(), &chip{dev: f}, &fakeLock{}, calib.NewStore(t.TempDir())); !errors.Is(err, ErrIdentity) {
		t.Fatalf("err=%v want ErrIdentity", err)
	}
}

// ellipsoidBlocks returns n AK8963 data blocks whose calibrated readings lie
// on an axis-aligned ellipsoid.
func ellipsoidBlocks(n int, center, radii [3]float64) [][]byte {
	blocks := make([][]byte, 0, n)
	golden := math.Pi * (3 - math.Sqrt(5))
	for i := 0; i < n; i++ {
		z := 1 - 2*(float64(i)+0.5)/float64(n)
		r := math.Sqrt(1 - z*z)
		phi := float64(i) * golden
		u := [3]float64{r * math.Cos(phi), r * math.Sin(phi), z}

		var p [3]float64
		for k := range p {
			p[k] = center[k] + radii[k]*u[k]
		}
		// Undo the AK8963 axis swap: x and y exchanged, z inverted.
		adc := func(v float64) int16 { return int16(math.Round(v / magRawToMicroTesla)) }
		blocks = append(blocks, magBlock(adc(p[1]), adc(p[0]), adc(-p[2]), 0x10))
	}
	return blocks
}

func TestCalibrateMagnetometer(t *testing.T) {
	noSleep(t)
	f := newFakeMPU()
	center := [3]float64{10, -20, 5}
	radii := [3]float64{40, 50, 45}
	mag := &fakeAK8963{asa: [3]byte{128, 128, 128}, blocks: ellipsoidBlocks(magCalSamples, center, radii)}
	lock := &fakeLock{}
	store := calib.NewStore(t.TempDir())

	var progress []int
	m, err := calibrateMagnetometer(context.Background(), &chip{dev: f, mag: mag}, lock, store, func(n, total int) {
		if total != magCalSamples {
			t.Errorf("total=%d", total)
		}
		progress = append(progress, n)
	})
	if err != nil {
		t.Fatalf("calibrateMagnetometer: %v", err)
	}

	for k := 0; k < 3; k++ {
		if !almost(m.Offsets[k], center[k], 0.5) {
			t.Fatalf("offsets=%v want %v", m.Offsets, center)
		}
		if want := calib.ReferenceRadius / radii[k]; !almost(m.Scales[k], want, 0.02) {
			t.Fatalf("scales=%v want %v on axis %d", m.Scales, want, k)
		}
	}
	if len(progress) != magCalSamples/magCalRateHz || progress[len(progress)-1] != magCalSamples {
		t.Fatalf("progress=%v", progress)
	}
	stored, err := store.LoadMag()
	if err != nil {
		t.Fatalf("LoadMag: %v", err)
	}
	for k := 0; k < 3; k++ {
		if !almost(stored.Offsets[k], m.Offsets[k], 1e-9) || !almost(stored.Scales[k], m.Scales[k], 1e-9) {
			t.Fatalf("stored=%+v want %+v", stored, m)
		}
	}
	if !f.wrote(regPwrMgmt1, bitSleep) || lock.InUse() {
		t.Fatalf("imu not powered off or bus left claimed")
	}
}

func TestCalibrateMagnetometer_Cancelled(t *testing.T) {
	noSleep(t)
	f := newFakeMPU()
	mag := &fakeAK8963{asa: [3]byte{128, 128, 128}}
	store := calib.NewStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := calibrateMagnetometer(ctx, &chip{dev: f, mag: mag}, &fakeLock{}, store, nil)
	if !errors.Is(err, ErrInsufficientSamples) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v want ErrInsufficientSamples and context.Canceled", err)
	}
	if !f.wrote(regPwrMgmt1, bitSleep) {
		t.Fatalf("imu not powered off after cancel")
	}
	if _, err := store.LoadMag(); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("mag file written on failure: %v", err)
	}
}

func TestCalibrateMagnetometer_ReadFailure(t *testing.T) {
	noSleep(t)
	mag := &fakeAK8963{asa: [3]byte{128, 128, 128}, blocks: ellipsoidBlocks(50, [3]float64{}, [3]float64{40, 40, 40})}

	_, err := calibrateMagnetometer(context.Background(), &chip{dev: newFakeMPU(), mag: mag}, &fakeLock{}, calib.NewStore(t.TempDir()), nil)
	if !errors.Is(err, ErrInsufficientSamples) || !errors.Is(err, ErrTransport) {
		t.Fatalf("err=%v want ErrInsufficientSamples wrapping ErrTransport", err)
	}
}

func TestCalibrateMagnetometer_BusBusy(t *testing.T) {
	f := newFakeMPU()
	_, err := calibrateMagnetometer(context.Background(), &chip{dev: f, mag: &fakeAK8963{}}, &fakeLock{inUse: true}, calib.NewStore(t.TempDir()), nil)
	if !errors.Is(err, ErrBusBusy) {
		t.Fatalf("err=%v want ErrBusBusy", err)
	}
	if n := len(f.writeLog()); n != 0 {
		t.Fatalf("writes=%d want none", n)
	}
}
