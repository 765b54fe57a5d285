package mpu9250

import (
	"errors"
	"fmt"
)

// Configuration errors are reported before any bus access.
var ErrConfig = errors.New("mpu9250: invalid config")

// FieldError is a configuration error on one Config field. It matches ErrConfig.
type FieldError struct {
	Field string
	Msg   string
}

func (e *FieldError) Error() string { return fmt.Sprintf("%v: %s", ErrConfig, e.Msg) }

func (e *FieldError) Is(target error) bool { return target == ErrConfig }

func fieldErr(field, format string, args ...any) error {
	return &FieldError{Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Protocol errors.
var (
	ErrIdentity        = errors.New("mpu9250: unexpected WHO_AM_I")
	ErrFirmwareCorrupt = errors.New("mpu9250: dmp firmware readback mismatch")
	ErrBankRange       = errors.New("mpu9250: dmp memory access crosses bank boundary")
	ErrFIFOOverflow    = errors.New("mpu9250: fifo count beyond two packets")
	ErrFIFOMisaligned  = errors.New("mpu9250: fifo count not packet aligned")
	ErrQuaternion      = errors.New("mpu9250: quaternion magnitude out of range")
	ErrNotConfigured   = errors.New("mpu9250: device not configured")
	ErrSamplerBusy     = errors.New("mpu9250: sampler did not stop")
)

// Calibration errors.
var (
	ErrBusBusy             = errors.New("mpu9250: i2c bus claimed by another user")
	ErrInsufficientSamples = errors.New("mpu9250: not enough calibration samples")
)

// ErrTransport matches any TransportError via errors.Is.
var ErrTransport = errors.New("mpu9250: i2c transport error")

// TransportError wraps a bus failure with the operation that hit it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mpu9250: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) Is(target error) bool { return target == ErrTransport }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Err: err}
}
