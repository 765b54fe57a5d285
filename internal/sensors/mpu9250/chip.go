package mpu9250

import (
	"fmt"
	"time"
)

var sleep = time.Sleep

type regIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadRegU16(reg byte) (uint16, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
	WriteRegs(reg byte, data []byte) error
}

// busLock is the advisory in-use flag of the shared I2C bus.
type busLock interface {
	Claim() (wasInUse bool)
	Release()
	InUse() bool
}

// chip is the register-level view of one MPU-9250 plus its AK8963.
// It carries the mode flags that change how shared registers are written.
type chip struct {
	dev     regIO
	mag     regIO
	magAddr uint16 // 7-bit AK8963 address, for the I2C master slave setup

	cfg        Config
	dmpEnabled bool
	packetLen  int
	magAdjust  [3]float64
}

func (c *chip) write(reg, v byte) error {
	if err := c.dev.WriteReg(reg, v); err != nil {
		return transportErr(fmt.Sprintf("write reg 0x%02X", reg), err)
	}
	return nil
}

func (c *chip) writeMag(reg, v byte) error {
	if err := c.mag.WriteReg(reg, v); err != nil {
		return transportErr(fmt.Sprintf("write ak8963 reg 0x%02X", reg), err)
	}
	return nil
}

// fifoCount reads FIFO_COUNTH/L as one big-endian word.
func (c *chip) fifoCount() (int, error) {
	n, err := c.dev.ReadRegU16(regFIFOCountH)
	if err != nil {
		return 0, transportErr("read fifo count", err)
	}
	return int(n), nil
}

func (c *chip) read(reg byte, dst []byte) error {
	if err := c.dev.ReadReg(reg, dst); err != nil {
		return transportErr(fmt.Sprintf("read reg 0x%02X", reg), err)
	}
	return nil
}

// writeSeq writes register/value pairs in order and stops at the first failure.
func (c *chip) writeSeq(pairs ...[2]byte) error {
	for _, p := range pairs {
		if err := c.write(p[0], p[1]); err != nil {
			return err
		}
	}
	return nil
}

// reset restores power-on register defaults and wakes the chip on the PLL clock.
func (c *chip) reset() error {
	if err := c.write(regPwrMgmt1, bitHReset); err != nil {
		return err
	}
	sleep(100 * time.Millisecond)
	if err := c.write(regPwrMgmt1, 0x01); err != nil {
		return err
	}
	sleep(10 * time.Millisecond)
	return nil
}

func (c *chip) checkIdentity() error {
	who, err := c.dev.ReadRegU8(regWhoAmI)
	if err != nil {
		return transportErr("read WHO_AM_I", err)
	}
	if who != whoAmIVal {
		return fmt.Errorf("%w: got 0x%02X want 0x%02X", ErrIdentity, who, whoAmIVal)
	}
	return nil
}

// powerOff puts the chip to sleep after a reset.
func (c *chip) powerOff() error {
	return c.writeSeq(
		[2]byte{regPwrMgmt1, bitHReset},
		[2]byte{regPwrMgmt1, bitSleep},
	)
}

// writeGyroBias loads averaged at-rest readings into the hardware bias
// registers. The register subtracts its value and counts 4x coarser than the
// 250 dps raw reading, hence -x/4.
func (c *chip) writeGyroBias(b [3]int16) error {
	buf := make([]byte, 0, 6)
	for _, v := range b {
		buf = putBE16(buf, uint16(int16(-int32(v)/4)))
	}
	if err := c.dev.WriteRegs(regXGOffsetH, buf); err != nil {
		return transportErr("write gyro bias", err)
	}
	return nil
}

func (c *chip) configureSensors() error {
	return c.writeSeq(
		[2]byte{regGyroConfig, byte(c.cfg.GyroFSR) << 3},
		[2]byte{regAccelConfig, byte(c.cfg.AccelFSR) << 3},
		[2]byte{regConfig, c.cfg.GyroDLPF.gyroReg()},
		[2]byte{regAccelConf2, c.cfg.AccelDLPF.accelReg()},
	)
}

// setSampleRate keeps the sensors at the DMP's native 200 Hz; the FIFO rate
// is divided down inside the DMP.
func (c *chip) setSampleRate() error {
	return c.write(regSmplrtDiv, byte(1000/dmpSampleRate-1))
}

func (c *chip) readTemperature() (float64, error) {
	var b [2]byte
	if err := c.read(regTempOutH, b[:]); err != nil {
		return 0, err
	}
	raw, _ := be16(b[:], 0)
	return float64(raw)/tempSensitivity + tempOffset, nil
}
