package mpu9250

import "fmt"

// Bounds-checked decoders for FIFO and register payloads.

func checkLen(b []byte, off, n int) error {
	if off < 0 || off+n > len(b) {
		return fmt.Errorf("mpu9250: read %d bytes at offset %d of %d-byte buffer", n, off, len(b))
	}
	return nil
}

// be16 decodes a big-endian signed 16-bit value at off.
func be16(b []byte, off int) (int16, error) {
	if err := checkLen(b, off, 2); err != nil {
		return 0, err
	}
	return int16(uint16(b[off])<<8 | uint16(b[off+1])), nil
}

// le16 decodes a little-endian signed 16-bit value at off.
func le16(b []byte, off int) (int16, error) {
	if err := checkLen(b, off, 2); err != nil {
		return 0, err
	}
	return int16(uint16(b[off+1])<<8 | uint16(b[off])), nil
}

// be32 decodes a big-endian signed 32-bit value at off.
func be32(b []byte, off int) (int32, error) {
	if err := checkLen(b, off, 4); err != nil {
		return 0, err
	}
	return int32(uint32(b[off])<<24 | uint32(b[off+1])<<16 | uint32(b[off+2])<<8 | uint32(b[off+3])), nil
}

// be16x3 decodes three consecutive big-endian int16 values.
func be16x3(b []byte, off int) ([3]int16, error) {
	var out [3]int16
	for i := range out {
		v, err := be16(b, off+2*i)
		if err != nil {
			return [3]int16{}, err
		}
		out[i] = v
	}
	return out, nil
}

// putBE16 appends v as big-endian.
func putBE16(dst []byte, v uint16) []byte {
	return append(dst, byte(v>>8), byte(v))
}
