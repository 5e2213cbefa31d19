// Package pid guards against two daemons fighting over the same serial port.
package pid

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"codeberg.org/mutker/yombcpu/internal/errors"
)

const pidFile = "yombcpu.pid"

// File is a pid file in a directory.
type File struct {
	path string
}

// New returns the pid file handle for dir.
func New(dir string) *File {
	return &File{path: filepath.Join(dir, pidFile)}
}

// Path returns the file location.
func (f *File) Path() string {
	return f.path
}

// Write writes the current process ID, refusing if a live process already
// owns the file. Stale files are overwritten.
func (f *File) Write() error {
	errFactory := errors.New()

	if bytes, err := os.ReadFile(f.path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(bytes))); err == nil && alive(pid) {
			return errFactory.WithData(errors.ErrAlreadyRunning, pid)
		}
	} else if !os.IsNotExist(err) {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	if err := os.WriteFile(f.path, []byte(strconv.Itoa(os.Getpid())), 0o600); err != nil {
		return errFactory.Wrap(errors.ErrInternal, err)
	}

	return nil
}

// Remove removes the PID file.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return errors.New().Wrap(errors.ErrInternal, err)
	}

	return nil
}

func alive(pid int) bool {
	if pid <= 0 || pid == os.Getpid() {
		return false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// EPERM means the process exists but belongs to another user
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
