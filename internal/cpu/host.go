package cpu

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host reads counters from the running operating system.
type Host struct{}

func (Host) CoreTimes() ([]CoreTimes, error) {
	stats, err := cpu.Times(true)
	if err != nil {
		return nil, err
	}

	times := make([]CoreTimes, len(stats))
	for i, st := range stats {
		times[i] = CoreTimes{Idle: st.Idle, Total: st.Total()}
	}

	return times, nil
}

func (Host) Memory() (total, free uint64, err error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, err
	}

	return vm.Total, vm.Free, nil
}
