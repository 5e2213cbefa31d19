// Package bridge runs one request/response cycle: it samples the host, encodes
// the outbound frame and folds the inbound status byte into the monitor state.
package bridge

import (
	"context"
	"time"

	"codeberg.org/mutker/yombcpu/internal/cpu"
	"codeberg.org/mutker/yombcpu/internal/frame"
	"codeberg.org/mutker/yombcpu/internal/logger"
	"codeberg.org/mutker/yombcpu/internal/metrics"
	"codeberg.org/mutker/yombcpu/internal/monitor"
)

// Cycle implements link.Handler. It is called from the link goroutine only.
type Cycle struct {
	sampler   *cpu.Sampler
	memory    cpu.MemorySource
	monitor   *monitor.Monitor
	collector metrics.Collector
	logger    logger.Logger
	encoder   frame.Encoder
	now       func() time.Time
}

func New(sampler *cpu.Sampler, memory cpu.MemorySource, mon *monitor.Monitor, collector metrics.Collector, log logger.Logger) *Cycle {
	return &Cycle{
		sampler:   sampler,
		memory:    memory,
		monitor:   mon,
		collector: collector,
		logger:    log,
		now:       time.Now,
	}
}

// HandleStatus returns the frame answering one status byte. Sampling failures
// produce a frame of zero bars so the device keeps its cadence.
func (c *Cycle) HandleStatus(status byte) ([]byte, error) {
	utils, err := c.sampler.Sample()
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to sample CPU utilization")
		utils = make([]cpu.Utilization, c.sampler.Cores())
	}

	memory, err := cpu.MemoryFraction(c.memory)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read memory usage")
		memory = 0
	}

	out := c.encoder.Encode(utils, memory)
	on := c.monitor.ProcessButtons(status)

	snapshot := summarize(utils, memory)
	snapshot.Timestamp = c.now()
	snapshot.Link = metrics.LinkMetrics{
		Status:    status,
		MonitorOn: on,
		FrameSize: len(out),
	}
	if err := c.collector.Record(context.Background(), snapshot); err != nil {
		c.logger.Error().Err(err).Msg("Failed to record cycle metrics")
	}

	c.logger.Debug().
		Uint8("status", status).
		Int("cores", len(utils)).
		Int("valid_cores", snapshot.CPU.ValidCores).
		Float64("cpu_average", snapshot.CPU.Average).
		Float64("memory", memory).
		Bool("monitor_on", on).
		Hex("frame", out).
		Msg("Cycle complete")

	return out, nil
}

func summarize(utils []cpu.Utilization, memory float64) *metrics.Snapshot {
	s := &metrics.Snapshot{Memory: clamp(memory)}
	s.CPU.Cores = len(utils)

	var sum float64
	for _, u := range utils {
		if !u.Valid {
			continue
		}
		v := clamp(u.Value)
		s.CPU.ValidCores++
		sum += v
		s.CPU.Max = max(s.CPU.Max, v)
	}
	if s.CPU.ValidCores > 0 {
		s.CPU.Average = sum / float64(s.CPU.ValidCores)
	}

	return s
}

func clamp(v float64) float64 {
	if !(v > 0) {
		return 0
	}
	return min(v, 1)
}
