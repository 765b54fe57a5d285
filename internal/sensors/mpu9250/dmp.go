package mpu9250

import (
	"fmt"
	"time"
)

// setBypass switches the AK8963 between direct host access (bypass on) and
// the MPU's own I2C master (bypass off).
func (c *chip) setBypass(on bool) error {
	var user byte
	if c.dmpEnabled {
		user |= bitFIFOEn
	}
	if !on {
		user |= bitI2CMstEn
	}
	if err := c.write(regUserCtrl, user); err != nil {
		return err
	}
	sleep(3 * time.Millisecond)

	pin := byte(bitLatchInt | bitAnyRdClear | bitActiveLow)
	if on {
		pin |= bitBypassEn
	}
	return c.write(regIntPinCfg, pin)
}

// resetFIFO clears the FIFO and restarts the DMP.
func (c *chip) resetFIFO() error {
	if err := c.writeSeq(
		[2]byte{regIntEnable, 0},
		[2]byte{regFIFOEn, 0},
		[2]byte{regUserCtrl, bitFIFORst | bitDMPRst},
	); err != nil {
		return err
	}
	sleep(2500 * time.Microsecond)

	user := byte(bitDMPEn | bitFIFOEn)
	if c.cfg.EnableMagnetometer {
		user |= bitI2CMstEn
	}
	if err := c.write(regUserCtrl, user); err != nil {
		return err
	}
	if c.dmpEnabled {
		if err := c.write(regIntEnable, bitDMPIntEn); err != nil {
			return err
		}
	}
	var fifo byte
	if c.cfg.EnableMagnetometer {
		fifo = fifoSlv0En
	}
	return c.write(regFIFOEn, fifo)
}

// setOrientation programs the DMP chip-to-body axis and sign selectors.
func (c *chip) setOrientation(o Orientation) error {
	gyroAxes, accelAxes, gyroSign, accelSign := o.dmpRegisters()
	for _, w := range []struct {
		addr uint16
		data []byte
	}{
		{memFCfg1, gyroAxes[:]},
		{memFCfg2, accelAxes[:]},
		{memFCfg3, gyroSign[:]},
		{memFCfg7, accelSign[:]},
	} {
		if err := c.writeMem(w.addr, w.data); err != nil {
			return fmt.Errorf("mpu9250: set orientation %v: %w", o, err)
		}
	}
	return nil
}

// enableFeatures turns on 6-axis low-power quaternions plus raw accel and
// gyro in the FIFO. Gesture, tap, orientation and DMP gyro calibration are
// all switched off.
func (c *chip) enableFeatures() error {
	sf32 := uint32(gyroSF)
	sf := []byte{byte(sf32 >> 24), byte(sf32 >> 16), byte(sf32 >> 8), byte(sf32)}
	writes := []struct {
		name string
		addr uint16
		data []byte
	}{
		{"gyro scale factor", memGyroSF, sf},
		{"fifo channels", memCfg15, cfgSendRaw},
		{"gesture fifo", memCfg27, []byte{dinaGestureOff}},
		{"gyro cal", memCfgMotionBias, cfgMotionBiasOff},
		{"raw gyro", memCfgGyroRawData, cfgGyroRawData},
		{"tap", memCfg20, []byte{dinaGestureOff}},
		{"android orient", memCfgAndroidOrnt, []byte{dinaGestureOff}},
		{"lp quat", memCfgLPQuat, []byte{dinaLPQuatOff, dinaLPQuatOff, dinaLPQuatOff, dinaLPQuatOff}},
		{"6x lp quat", memCfg8, cfg6xLPQuatOn},
	}
	for _, w := range writes {
		if err := c.writeMem(w.addr, w.data); err != nil {
			return fmt.Errorf("mpu9250: enable %s: %w", w.name, err)
		}
	}
	if err := c.resetFIFO(); err != nil {
		return err
	}
	c.packetLen = packetLenNoMag
	return nil
}

// setFIFORate programs the DMP output divider.
func (c *chip) setFIFORate() error {
	div := uint16(c.cfg.RateDivider())
	if err := c.writeMem(memCfgFIFORate, putBE16(nil, div)); err != nil {
		return fmt.Errorf("mpu9250: set fifo rate: %w", err)
	}
	if err := c.writeMem(memCfg6, cfgFIFORateEnd); err != nil {
		return fmt.Errorf("mpu9250: set fifo rate: %w", err)
	}
	return nil
}

// setContinuousInterrupt makes the DMP raise INT for every FIFO packet.
func (c *chip) setContinuousInterrupt() error {
	if err := c.writeMem(memCfgFIFOOnEvent, cfgFIFOContinuous); err != nil {
		return fmt.Errorf("mpu9250: set interrupt mode: %w", err)
	}
	return nil
}

// enableDMP hands the FIFO and interrupt over to the DMP.
func (c *chip) enableDMP() error {
	c.dmpEnabled = true
	if err := c.writeSeq(
		[2]byte{regIntEnable, 0},
		[2]byte{regFIFOEn, 0},
	); err != nil {
		return err
	}
	if err := c.setBypass(false); err != nil {
		return err
	}
	if err := c.setSampleRate(); err != nil {
		return err
	}
	if err := c.writeSeq(
		[2]byte{regFIFOEn, 0},
		[2]byte{regIntEnable, bitDMPIntEn},
		[2]byte{regFIFOEn, 0},
	); err != nil {
		return err
	}
	return c.resetFIFO()
}
