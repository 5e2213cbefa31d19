package cpu

// MemorySource supplies system-wide total and free memory in bytes.
type MemorySource interface {
	Memory() (total, free uint64, err error)
}

// MemoryFraction returns the used fraction of system memory, 1 - free/total.
// A source reporting no memory yields 0.
func MemoryFraction(source MemorySource) (float64, error) {
	total, free, err := source.Memory()
	if err != nil {
		return 0, errFactory.Wrap(ErrReadMemory, err)
	}
	if total == 0 {
		return 0, nil
	}
	if free > total {
		free = total
	}

	return 1 - float64(free)/float64(total), nil
}
