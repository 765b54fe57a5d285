package mpu9250

import (
	"bytes"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
)

// FirmwareSize is the length of the InvenSense motion driver 6.12 DMP image.
const FirmwareSize = 3062

// LoadFirmwareFile reads a DMP image from disk.
func LoadFirmwareFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mpu9250: read firmware: %w", err)
	}
	if len(b) != FirmwareSize {
		return nil, fmt.Errorf("%w: firmware %s is %d bytes, want %d", ErrConfig, path, len(b), FirmwareSize)
	}
	return b, nil
}

func checkBank(addr uint16, n int) error {
	if int(addr&0xFF)+n > bankSize {
		return fmt.Errorf("%w: addr 0x%04X len %d", ErrBankRange, addr, n)
	}
	return nil
}

// writeMem writes DMP memory at addr (bank<<8 | offset). It never crosses a bank.
func (c *chip) writeMem(addr uint16, data []byte) error {
	if err := checkBank(addr, len(data)); err != nil {
		return err
	}
	if err := c.dev.WriteRegs(regBankSel, []byte{byte(addr >> 8), byte(addr)}); err != nil {
		return transportErr(fmt.Sprintf("select dmp bank 0x%04X", addr), err)
	}
	if err := c.dev.WriteRegs(regMemRW, data); err != nil {
		return transportErr(fmt.Sprintf("write dmp mem 0x%04X", addr), err)
	}
	return nil
}

func (c *chip) readMem(addr uint16, dst []byte) error {
	if err := checkBank(addr, len(dst)); err != nil {
		return err
	}
	if err := c.dev.WriteRegs(regBankSel, []byte{byte(addr >> 8), byte(addr)}); err != nil {
		return transportErr(fmt.Sprintf("select dmp bank 0x%04X", addr), err)
	}
	if err := c.dev.ReadReg(regMemRW, dst); err != nil {
		return transportErr(fmt.Sprintf("read dmp mem 0x%04X", addr), err)
	}
	return nil
}

// uploadFirmware writes image in loadChunk pieces, verifying each by readback,
// then sets the program start address. Any failure aborts the whole load.
func (c *chip) uploadFirmware(image []byte) error {
	if len(image) == 0 {
		return fmt.Errorf("%w: empty firmware image", ErrConfig)
	}
	if len(image) > 0x10000 {
		return fmt.Errorf("%w: firmware image is %d bytes", ErrConfig, len(image))
	}

	cur := make([]byte, loadChunk)
	for off := 0; off < len(image); off += loadChunk {
		n := loadChunk
		if len(image)-off < n {
			n = len(image) - off
		}
		addr := uint16(off)
		if err := c.writeMem(addr, image[off:off+n]); err != nil {
			return err
		}
		if err := c.readMem(addr, cur[:n]); err != nil {
			return err
		}
		if !bytes.Equal(cur[:n], image[off:off+n]) {
			return fmt.Errorf("%w: at 0x%04X", ErrFirmwareCorrupt, addr)
		}
	}

	if err := c.dev.WriteRegs(regPrgmStartH, putBE16(nil, programStart)); err != nil {
		return transportErr("write program start", err)
	}
	log.Debugf("mpu9250 firmware loaded bytes=%d", len(image))
	return nil
}
