package link

import (
	"io"

	"codeberg.org/mutker/yombcpu/internal/errors"
	"go.bug.st/serial"
)

// Port is the part of a serial port the manager uses.
type Port interface {
	io.ReadWriteCloser
	// Drain blocks until all written data has been transmitted.
	Drain() error
}

// Opener opens the device at path with the given baud rate.
type Opener func(path string, baud int) (Port, error)

// inputResetter is implemented by ports that can discard pending input.
type inputResetter interface {
	ResetInputBuffer() error
}

// OpenSerial opens a real serial device in 8N1 mode.
func OpenSerial(path string, baud int) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, classify(err)
	}

	return port, nil
}

// classify maps serial driver failures onto the shared resource codes.
func classify(err error) error {
	errFactory := errors.New()

	var portErr *serial.PortError
	if !errors.As(err, &portErr) {
		return err
	}

	switch portErr.Code() {
	case serial.PortBusy:
		return errFactory.Wrap(errors.ErrResourceBusy, err)
	case serial.PortNotFound:
		return errFactory.Wrap(errors.ErrResourceNotFound, err)
	case serial.PermissionDenied:
		return errFactory.Wrap(errors.ErrPermissionDenied, err)
	case serial.InvalidSpeed:
		return errFactory.Wrap(errors.ErrInvalidArgument, err)
	default:
		return err
	}
}
