// Package link owns the serial connection to the display and runs one
// request/response cycle for every status byte the device sends.
package link

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/yombcpu/internal/errors"
	"codeberg.org/mutker/yombcpu/internal/logger"
)

const maxReconnectDelay = 30 * time.Second

// Handler turns one inbound status byte into the frame to send back.
type Handler interface {
	HandleStatus(status byte) ([]byte, error)
}

type Options struct {
	Path string
	Baud int
	// ReconnectAttempts is the number of consecutive reopen attempts after
	// the link fails. Zero terminates on the first failure.
	ReconnectAttempts int
	// ReconnectDelay is doubled after every failed attempt.
	ReconnectDelay time.Duration
}

// Manager drives the serial link lifecycle. Terminate may be called from any
// goroutine; everything else runs on the goroutine calling Run.
type Manager struct {
	opts    Options
	open    Opener
	handler Handler
	logger  logger.Logger

	state  atomic.Int32
	ending atomic.Bool
	stop   chan struct{}
	once   sync.Once

	// mu serializes frame writes against drain and close
	mu       sync.Mutex
	port     Port
	received uint64
	written  uint64
}

func New(opts Options, open Opener, handler Handler, log logger.Logger) *Manager {
	return &Manager{
		opts:    opts,
		open:    open,
		handler: handler,
		logger:  log,
		stop:    make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ending reports whether termination has started.
func (m *Manager) Ending() bool {
	return m.ending.Load()
}

// Stats returns the number of status bytes received and frames written.
func (m *Manager) Stats() (received, written uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.received, m.written
}

func (m *Manager) setState(s State) {
	prev := State(m.state.Swap(int32(s)))
	if prev != s {
		m.logger.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("Link state changed")
	}
}

// Terminate marks the link as ending and asks Run to drain and close it.
// Status bytes arriving after this call are ignored.
func (m *Manager) Terminate() {
	m.ending.Store(true)
	m.once.Do(func() {
		m.setState(Terminating)
		close(m.stop)
	})
}

// Run opens the link and serves it until Terminate is called or ctx is done,
// in which case it returns nil once the port is drained and closed. An open
// failure or an unexpected close returns an error after the configured
// reconnect attempts are used up.
func (m *Manager) Run(ctx context.Context) error {
	errFactory := errors.New()
	failures := 0

	for {
		opened, err := m.session(ctx)
		if err == nil {
			return nil
		}
		if opened {
			failures = 0
		}

		if m.Ending() {
			m.logger.Warn().Err(err).Msg("Serial port did not close cleanly")
			return nil
		}

		if failures >= m.opts.ReconnectAttempts {
			m.ending.Store(true)
			m.setState(Terminating)
			if m.opts.ReconnectAttempts > 0 {
				return errFactory.Wrap(ErrReconnectsExhausted, err).WithData(m.opts.ReconnectAttempts)
			}
			return err
		}

		delay := m.opts.ReconnectDelay
		for i := 0; i < failures && delay < maxReconnectDelay; i++ {
			delay *= 2
		}
		delay = min(delay, maxReconnectDelay)
		failures++
		m.setState(Disconnected)
		m.logger.Warn().Err(err).
			Int("attempt", failures).
			Int("max_attempts", m.opts.ReconnectAttempts).
			Dur("delay", delay).
			Msg("Reconnecting to serial port")

		select {
		case <-ctx.Done():
			m.Terminate()
			return nil
		case <-m.stop:
			return nil
		case <-time.After(delay):
		}
	}
}

// session connects once and serves the port until it ends. opened reports
// whether the port was opened at all.
func (m *Manager) session(ctx context.Context) (opened bool, err error) {
	errFactory := errors.New()

	m.setState(Connecting)
	port, err := m.open(m.opts.Path, m.opts.Baud)
	if err != nil {
		m.logger.Error().Err(err).
			Str("port", m.opts.Path).
			Msg("Failed to open serial port")
		return false, errFactory.Wrap(ErrOpenFailed, err).WithData(m.opts.Path)
	}

	if r, ok := port.(inputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			m.logger.Debug().Err(err).Msg("Failed to discard pending input")
		}
	}

	m.mu.Lock()
	m.port = port
	m.mu.Unlock()

	if m.Ending() {
		return true, m.Disconnect()
	}

	m.setState(Open)
	m.logger.Info().Str("port", m.opts.Path).Int("baud", m.opts.Baud).Msg("Serial port opened")

	done := make(chan struct{})
	defer close(done)
	inbound, readErr := readBytes(port, done)

	for {
		select {
		case <-ctx.Done():
			m.Terminate()
			return true, m.Disconnect()
		case <-m.stop:
			return true, m.Disconnect()
		case status := <-inbound:
			m.cycle(status)
		case err := <-readErr:
			if m.Ending() {
				// Closing the port from Terminate unblocks the reader
				return true, m.Disconnect()
			}
			m.logger.Error().Err(err).Str("port", m.opts.Path).Msg("Serial port abnormally closed")
			m.abandon()
			return true, errFactory.Wrap(ErrClosedUnexpectedly, err).WithData(m.opts.Path)
		}
	}
}

// readBytes delivers the port input one byte at a time until a read fails.
func readBytes(port Port, done <-chan struct{}) (<-chan byte, <-chan error) {
	inbound := make(chan byte)
	readErr := make(chan error, 1)

	go func() {
		buf := make([]byte, 1)
		for {
			n, err := port.Read(buf)
			if err == nil && n == 0 {
				// No read timeout is set, so an empty read is end of stream
				err = io.EOF
			}
			if err != nil {
				readErr <- err
				return
			}

			select {
			case inbound <- buf[0]:
			case <-done:
				return
			}
		}
	}()

	return inbound, readErr
}

// cycle answers one status byte with exactly one frame.
func (m *Manager) cycle(status byte) {
	if m.Ending() {
		return
	}

	out, err := m.handler.HandleStatus(status)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.received++
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to build frame")
		return
	}
	if m.Ending() || m.port == nil {
		return
	}

	if _, err := m.port.Write(out); err != nil {
		m.logger.Error().Err(errors.New().Wrap(ErrWriteFailed, err)).Msg("Failed to write frame")
		return
	}
	m.written++
}

// Disconnect drains pending output and closes the port. It returns only
// after both have finished. Calling it without an open port is a no-op.
func (m *Manager) Disconnect() error {
	errFactory := errors.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return nil
	}

	m.setState(Draining)
	drainErr := m.port.Drain()
	closeErr := m.port.Close()
	m.port = nil
	m.setState(Closed)

	m.logger.Info().
		Str("port", m.opts.Path).
		Uint64("received", m.received).
		Uint64("written", m.written).
		Msg("Serial port closed")

	if drainErr != nil {
		return errFactory.Wrap(ErrDrainFailed, drainErr)
	}
	if closeErr != nil {
		return errFactory.Wrap(ErrCloseFailed, closeErr)
	}

	return nil
}

// abandon releases a port that failed underneath us without draining it.
func (m *Manager) abandon() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.port == nil {
		return
	}
	if err := m.port.Close(); err != nil {
		m.logger.Debug().Err(err).Msg("Failed to close broken port")
	}
	m.port = nil
	m.setState(Closed)
}
