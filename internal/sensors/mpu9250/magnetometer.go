package mpu9250

import (
	"errors"
	"fmt"
	"time"
)

var errMagOverflow = errors.New("mpu9250: magnetometer overflow")

// initMagnetometer reads the AK8963 fuse ROM sensitivity adjustment and
// starts 16-bit continuous sampling at 100 Hz. Bypass is left on.
func (c *chip) initMagnetometer() error {
	if err := c.setBypass(true); err != nil {
		return fmt.Errorf("mpu9250: enable bypass: %w", err)
	}
	if err := c.writeMag(akCntl, akPowerDown); err != nil {
		return err
	}
	sleep(time.Millisecond)
	if err := c.writeMag(akCntl, akFuseROM); err != nil {
		return err
	}
	sleep(time.Millisecond)

	var asa [3]byte
	if err := c.mag.ReadReg(akASAX, asa[:]); err != nil {
		_ = c.setBypass(false)
		return transportErr("read ak8963 sensitivity", err)
	}
	for i, v := range asa {
		c.magAdjust[i] = (float64(v)-128)/256 + 1
	}

	if err := c.writeMag(akCntl, akPowerDown); err != nil {
		return err
	}
	sleep(100 * time.Microsecond)
	if err := c.writeMag(akCntl, akMode16Bit|akContMode2); err != nil {
		return err
	}
	sleep(100 * time.Microsecond)
	return nil
}

func (c *chip) powerDownMagnetometer() error {
	if err := c.setBypass(true); err != nil {
		return err
	}
	if err := c.writeMag(akCntl, akPowerDown); err != nil {
		return err
	}
	return c.setBypass(false)
}

// enableMagSlave has the MPU's I2C master copy the AK8963 data block into
// every FIFO packet.
func (c *chip) enableMagSlave() error {
	addr := c.magAddr
	if addr == 0 {
		addr = magAddrDefault
	}
	if err := c.writeSeq(
		[2]byte{regFIFOEn, fifoSlv0En},
		[2]byte{regI2CMstCtrl, slv0MstCtrl},
		[2]byte{regI2CSlv0Addr, slv0Read | byte(addr&0x7F)},
		[2]byte{regI2CSlv0Reg, akXOutL},
		[2]byte{regI2CSlv0Ctrl, slv0Ctrl},
	); err != nil {
		return err
	}
	c.packetLen = packetLenMag
	return nil
}

// magMicroTesla applies the factory adjustment and converts to uT in the
// accel/gyro frame: the AK8963 has x and y swapped and z inverted.
func magMicroTesla(adc [3]int16, adj [3]float64) [3]float64 {
	return [3]float64{
		float64(adc[1]) * adj[1] * magRawToMicroTesla,
		float64(adc[0]) * adj[0] * magRawToMicroTesla,
		-float64(adc[2]) * adj[2] * magRawToMicroTesla,
	}
}

// parseMagBlock decodes HXL..ST2. ok is false when the reading overflowed.
func parseMagBlock(b []byte) (adc [3]int16, ok bool, err error) {
	if err := checkLen(b, 0, magBlockLen); err != nil {
		return adc, false, err
	}
	if b[6]&akST2Overflow != 0 {
		return adc, false, nil
	}
	for i := range adc {
		adc[i], _ = le16(b, 2*i)
	}
	return adc, true, nil
}

// readMagDirect reads one sample over bypass, adjusted and in uT.
func (c *chip) readMagDirect() ([3]float64, error) {
	var b [magBlockLen]byte
	if err := c.mag.ReadReg(akXOutL, b[:]); err != nil {
		return [3]float64{}, transportErr("read ak8963 data", err)
	}
	adc, ok, err := parseMagBlock(b[:])
	if err != nil {
		return [3]float64{}, err
	}
	if !ok {
		return [3]float64{}, errMagOverflow
	}
	return magMicroTesla(adc, c.magAdjust), nil
}
