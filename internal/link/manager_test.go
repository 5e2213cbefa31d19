package link_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "codeberg.org/mutker/yombcpu/internal/errors"
	"codeberg.org/mutker/yombcpu/internal/link"
	"codeberg.org/mutker/yombcpu/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errPortClosed = errors.New("port closed")

// fakePort is an in-memory serial port. Bytes sent on in are read one at a
// time; a value sent on fail makes the pending Read return that error.
type fakePort struct {
	in   chan byte
	fail chan error

	closedCh  chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	writes [][]byte
	events []string
}

func newFakePort() *fakePort {
	return &fakePort{
		in:       make(chan byte),
		fail:     make(chan error, 1),
		closedCh: make(chan struct{}),
	}
}

func (p *fakePort) Read(b []byte) (int, error) {
	select {
	case v := <-p.in:
		b[0] = v
		return 1, nil
	case err := <-p.fail:
		return 0, err
	case <-p.closedCh:
		return 0, errPortClosed
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writes = append(p.writes, bytes.Clone(b))
	p.events = append(p.events, "write")
	return len(b), nil
}

func (p *fakePort) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, "drain")
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	p.events = append(p.events, "close")
	p.mu.Unlock()
	p.closeOnce.Do(func() { close(p.closedCh) })
	return nil
}

func (p *fakePort) Writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.writes...)
}

func (p *fakePort) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

// echoHandler answers every status with {0x81, status}.
type echoHandler struct {
	mu       sync.Mutex
	statuses []byte
	hook     func()
}

func (h *echoHandler) HandleStatus(status byte) ([]byte, error) {
	h.mu.Lock()
	h.statuses = append(h.statuses, status)
	hook := h.hook
	h.mu.Unlock()
	if hook != nil {
		hook()
	}
	return []byte{0x81, status}, nil
}

func (h *echoHandler) Statuses() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.statuses...)
}

func openerFor(ports ...*fakePort) (link.Opener, *int) {
	calls := 0
	return func(path string, baud int) (link.Port, error) {
		i := calls
		calls++
		if i >= len(ports) || ports[i] == nil {
			return nil, apperrors.New().WithMessage(apperrors.ErrResourceNotFound, "no such device "+path)
		}
		return ports[i], nil
	}, &calls
}

type runResult struct {
	err error
}

func start(t *testing.T, m *link.Manager, ctx context.Context) <-chan runResult {
	t.Helper()
	done := make(chan runResult, 1)
	go func() { done <- runResult{err: m.Run(ctx)} }()
	return done
}

func wait(t *testing.T, done <-chan runResult) error {
	t.Helper()
	select {
	case r := <-done:
		return r.err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func waitState(t *testing.T, m *link.Manager, s link.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == s }, time.Second, time.Millisecond)
}

func TestOpenFailureTerminates(t *testing.T) {
	open, calls := openerFor()
	m := link.New(link.Options{Path: "/dev/missing", Baud: 115200}, open, &echoHandler{}, logger.Nop())

	err := m.Run(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, link.ErrOpenFailed))
	assert.True(t, apperrors.HasCode(err, apperrors.ErrResourceNotFound))
	assert.Equal(t, 1, *calls, "no reconnect by default")
	assert.Equal(t, link.Terminating, m.State())
	assert.True(t, m.Ending())
	assert.NoError(t, m.Disconnect(), "nothing to drain on a port that never opened")
}

func TestOneFramePerStatusByte(t *testing.T) {
	port := newFakePort()
	open, _ := openerFor(port)
	h := &echoHandler{}
	m := link.New(link.Options{Path: "/dev/fake", Baud: 115200}, open, h, logger.Nop())

	done := start(t, m, context.Background())
	waitState(t, m, link.Open)

	for _, b := range []byte{0x00, 0x01, 0x00} {
		port.in <- b
	}
	require.Eventually(t, func() bool { return len(port.Writes()) == 3 }, time.Second, time.Millisecond)

	assert.Equal(t, [][]byte{{0x81, 0x00}, {0x81, 0x01}, {0x81, 0x00}}, port.Writes())
	assert.Equal(t, []byte{0x00, 0x01, 0x00}, h.Statuses())

	m.Terminate()
	require.NoError(t, wait(t, done))

	received, written := m.Stats()
	assert.Equal(t, uint64(3), received)
	assert.Equal(t, uint64(3), written)
}

func TestTerminateDrainsThenCloses(t *testing.T) {
	port := newFakePort()
	open, _ := openerFor(port)
	m := link.New(link.Options{Path: "/dev/fake", Baud: 115200}, open, &echoHandler{}, logger.Nop())

	done := start(t, m, context.Background())
	waitState(t, m, link.Open)
	port.in <- 0x00
	require.Eventually(t, func() bool { return len(port.Writes()) == 1 }, time.Second, time.Millisecond)

	m.Terminate()
	m.Terminate()
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{"write", "drain", "close"}, port.Events())
	assert.Equal(t, link.Closed, m.State())
}

func TestNoWriteAfterEnding(t *testing.T) {
	port := newFakePort()
	open, _ := openerFor(port)
	h := &echoHandler{}
	m := link.New(link.Options{Path: "/dev/fake", Baud: 115200}, open, h, logger.Nop())
	// Termination arrives while the cycle is building its frame
	h.hook = m.Terminate

	done := start(t, m, context.Background())
	waitState(t, m, link.Open)
	port.in <- 0x01

	require.NoError(t, wait(t, done))
	assert.Empty(t, port.Writes())
	assert.Equal(t, []string{"drain", "close"}, port.Events())
}

func TestContextCancelIsGraceful(t *testing.T) {
	port := newFakePort()
	open, _ := openerFor(port)
	m := link.New(link.Options{Path: "/dev/fake", Baud: 115200}, open, &echoHandler{}, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := start(t, m, ctx)
	waitState(t, m, link.Open)
	cancel()

	require.NoError(t, wait(t, done))
	assert.True(t, m.Ending())
	assert.Equal(t, []string{"drain", "close"}, port.Events())
}

func TestAbnormalCloseTerminates(t *testing.T) {
	port := newFakePort()
	open, calls := openerFor(port)
	m := link.New(link.Options{Path: "/dev/fake", Baud: 115200}, open, &echoHandler{}, logger.Nop())

	done := start(t, m, context.Background())
	waitState(t, m, link.Open)
	port.fail <- errors.New("device disconnected")

	err := wait(t, done)
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, link.ErrClosedUnexpectedly))
	assert.Equal(t, []string{"close"}, port.Events(), "a broken port is not drained")
	assert.Equal(t, link.Terminating, m.State())
	assert.Equal(t, 1, *calls)
}

func TestReconnectAfterOpenFailures(t *testing.T) {
	port := newFakePort()
	open, calls := openerFor(nil, nil, port)
	opts := link.Options{Path: "/dev/fake", Baud: 115200, ReconnectAttempts: 2, ReconnectDelay: time.Millisecond}
	m := link.New(opts, open, &echoHandler{}, logger.Nop())

	done := start(t, m, context.Background())
	waitState(t, m, link.Open)
	assert.Equal(t, 3, *calls)

	port.in <- 0x00
	require.Eventually(t, func() bool { return len(port.Writes()) == 1 }, time.Second, time.Millisecond)

	m.Terminate()
	require.NoError(t, wait(t, done))
}

func TestReconnectAfterAbnormalClose(t *testing.T) {
	first, second := newFakePort(), newFakePort()
	open, _ := openerFor(first, second)
	opts := link.Options{Path: "/dev/fake", Baud: 115200, ReconnectAttempts: 1, ReconnectDelay: time.Millisecond}
	m := link.New(opts, open, &echoHandler{}, logger.Nop())

	done := start(t, m, context.Background())
	waitState(t, m, link.Open)
	first.fail <- errors.New("unplugged")

	// The second port is served after the reconnect
	second.in <- 0x01
	require.Eventually(t, func() bool { return len(second.Writes()) == 1 }, time.Second, time.Millisecond)

	m.Terminate()
	require.NoError(t, wait(t, done))
	assert.Equal(t, []string{"close"}, first.Events())
	assert.Equal(t, []string{"write", "drain", "close"}, second.Events())
}

func TestReconnectsExhausted(t *testing.T) {
	open, calls := openerFor()
	opts := link.Options{Path: "/dev/fake", Baud: 115200, ReconnectAttempts: 2, ReconnectDelay: time.Millisecond}
	m := link.New(opts, open, &echoHandler{}, logger.Nop())

	err := m.Run(context.Background())

	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, link.ErrReconnectsExhausted))
	assert.True(t, apperrors.HasCode(err, link.ErrOpenFailed))
	assert.Equal(t, 3, *calls)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", link.Open.String())
	assert.Equal(t, "terminating", link.Terminating.String())
	assert.Equal(t, "unknown", link.State(42).String())
}
