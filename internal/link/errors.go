package link

import "codeberg.org/mutker/yombcpu/internal/errors"

const (
	ErrOpenFailed          = errors.ErrorCode("link_open_failed")
	ErrClosedUnexpectedly  = errors.ErrorCode("link_closed_unexpectedly")
	ErrDrainFailed         = errors.ErrorCode("link_drain_failed")
	ErrCloseFailed         = errors.ErrorCode("link_close_failed")
	ErrWriteFailed         = errors.ErrorCode("link_write_failed")
	ErrReconnectsExhausted = errors.ErrorCode("link_reconnects_exhausted")
)

func init() {
	errors.Register(ErrOpenFailed, "Failed to open serial port")
	errors.Register(ErrClosedUnexpectedly, "Serial port closed unexpectedly")
	errors.Register(ErrDrainFailed, "Failed to drain serial port")
	errors.Register(ErrCloseFailed, "Failed to close serial port")
	errors.Register(ErrWriteFailed, "Failed to write frame")
	errors.Register(ErrReconnectsExhausted, "Gave up reconnecting to serial port")
}
