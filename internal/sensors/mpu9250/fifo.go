package mpu9250

import (
	"errors"
	"fmt"
	"math"

	"dmpimu/internal/attitude"
)

// packet is one decoded DMP FIFO packet:
// [mag block (7)] quaternion (16) accel (6) gyro (6).
type packet struct {
	quat  [4]int32
	accel [3]int16
	gyro  [3]int16

	magADC       [3]int16
	magNew       bool
	magSaturated bool
}

// quatMagnitudeOK checks the DMP's q30 quaternion for unit length, using
// the top 16 bits of each component to stay within 64-bit arithmetic.
func quatMagnitudeOK(q [4]int32) bool {
	var sum int64
	for _, v := range q {
		h := int64(v >> 16)
		sum += h * h
	}
	return sum >= quatMagSqUnity-quatErrThresh && sum <= quatMagSqUnity+quatErrThresh
}

// decodePacket parses exactly one packet. It does not touch device state.
func decodePacket(b []byte, withMag bool) (packet, error) {
	want := packetLenNoMag
	if withMag {
		want = packetLenMag
	}
	if len(b) != want {
		return packet{}, fmt.Errorf("%w: packet is %d bytes want %d", ErrFIFOMisaligned, len(b), want)
	}

	var p packet
	i := 0
	if withMag {
		adc, ok, err := parseMagBlock(b[:magBlockLen])
		if err != nil {
			return packet{}, err
		}
		switch {
		case !ok:
			p.magSaturated = true
		case adc != [3]int16{}:
			p.magADC = adc
			p.magNew = true
		}
		i += magBlockLen
	}

	for k := range p.quat {
		v, err := be32(b, i+4*k)
		if err != nil {
			return packet{}, err
		}
		p.quat[k] = v
	}
	if !quatMagnitudeOK(p.quat) {
		return packet{}, fmt.Errorf("%w: q=%v", ErrQuaternion, p.quat)
	}
	i += 16

	var err error
	if p.accel, err = be16x3(b, i); err != nil {
		return packet{}, err
	}
	if p.gyro, err = be16x3(b, i+6); err != nil {
		return packet{}, err
	}
	return p, nil
}

// forceReset recovers a desynchronized FIFO.
func (d *Device) forceReset() {
	d.metrics.fifoResets.Inc()
	if err := d.c.resetFIFO(); err != nil {
		d.warnf("mpu9250 fifo reset failed: %v", err)
	}
}

// readFIFO reads and decodes the newest packet. On any failure the current
// sample is left untouched.
func (d *Device) readFIFO() error {
	first := d.firstRead
	d.firstRead = false

	plen := d.c.packetLen
	if plen != packetLenNoMag && plen != packetLenMag {
		return ErrNotConfigured
	}

	var count int
	err := d.countRetry.Do(func(attempt int) error {
		n, err := d.c.fifoCount()
		if err != nil {
			return err
		}
		count = n
		switch {
		case n == plen || n == 2*plen:
			return nil
		case attempt == 0 && n > 2*plen:
			return fmt.Errorf("%w: %d bytes", ErrFIFOOverflow, n)
		default:
			return retryable(fmt.Errorf("%w: %d bytes", ErrFIFOMisaligned, n))
		}
	})
	switch {
	case errors.Is(err, ErrFIFOOverflow):
		d.warnf("mpu9250 fifo count=%d packet=%d, resetting fifo", count, plen)
		d.forceReset()
		return err
	case errors.Is(err, ErrFIFOMisaligned):
		// Startup residue is expected on the very first read.
		if !first {
			d.warnf("mpu9250 fifo count=%d packet=%d, resetting fifo", count, plen)
			d.forceReset()
		}
		return err
	case err != nil:
		d.warnf("mpu9250 fifo count read failed: %v", err)
		return err
	}

	off := 0
	if count == 2*plen {
		// A packet was missed; keep only the newest.
		d.warnf("mpu9250 fifo holds two packets, dropping the older")
		off = plen
	}

	buf := d.buf[:count]
	err = d.readRetry.Do(func(int) error {
		if err := d.c.dev.ReadReg(regFIFORW, buf); err != nil {
			return retryable(transportErr("read fifo", err))
		}
		return nil
	})
	if err != nil {
		d.warnf("mpu9250 fifo read failed: %v", err)
		return err
	}

	p, err := decodePacket(buf[off:off+plen], d.cfg.EnableMagnetometer)
	if err != nil {
		d.warnf("mpu9250 packet rejected: %v", err)
		return err
	}
	d.commit(p)
	return nil
}

// commit publishes a validated packet as the new sample.
func (d *Device) commit(p packet) {
	s := d.Sample()

	s.RawAccel = p.accel
	s.RawGyro = p.gyro
	for i := 0; i < 3; i++ {
		s.Accel[i] = float64(p.accel[i]) * s.AccelScale
		s.Gyro[i] = float64(p.gyro[i]) * s.GyroScale
	}

	q := attitude.Quaternion{
		W: float64(p.quat[0]),
		X: float64(p.quat[1]),
		Y: float64(p.quat[2]),
		Z: float64(p.quat[3]),
	}.Normalize()
	s.DMPQuat = q
	s.DMPEuler = q.Euler()

	if p.magSaturated {
		d.metrics.magSaturated.Inc()
		d.warnf("mpu9250 magnetometer saturated")
	}
	if p.magNew {
		s.RawMag = p.magADC
		s.Mag = d.magCal.Apply(magMicroTesla(p.magADC, d.c.magAdjust))
		fused, err := d.yaw.Update(s.DMPEuler, d.cfg.Orientation.Remap(attitude.Vec3(s.Mag)))
		if err != nil {
			d.warnf("mpu9250 yaw fusion skipped: %v", err)
		} else {
			s.FusedValid = true
			s.FusedEuler = fused.Euler
			s.FusedQuat = fused.Quat
			s.CompassHeading = fused.CompassHeading
		}
	}
	s.Time = now()

	s.Temp = math.Float64frombits(d.temp.Load())

	d.mu.Lock()
	d.sample = s
	d.mu.Unlock()
}
