package cpu

import "codeberg.org/mutker/yombcpu/internal/errors"

const (
	ErrReadTimes  = errors.ErrorCode("cpu_read_times_failed")
	ErrReadMemory = errors.ErrorCode("cpu_read_memory_failed")
)

var errFactory = errors.New()

func init() {
	errors.Register(ErrReadTimes, "Failed to read CPU times")
	errors.Register(ErrReadMemory, "Failed to read memory statistics")
}
