package monitor

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/yombcpu/internal/logger"
)

const DefaultInterval = 500 * time.Millisecond

type Options struct {
	Interval time.Duration
	// TransitionOnly keeps the one-shot flags across ticks so a command is
	// issued once per state change instead of on every tick.
	TransitionOnly bool
}

// Monitor holds the display state driven by the button and applies it on a
// timer. ProcessButtons and Tick run on different goroutines.
type Monitor struct {
	mu          sync.Mutex
	on          bool
	prevButtons byte
	forcedOn    bool
	forcedOff   bool

	power  PowerController
	opts   Options
	logger logger.Logger
}

// New returns a Monitor with the display assumed on.
func New(power PowerController, opts Options, log logger.Logger) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	return &Monitor{
		on:     true,
		power:  power,
		opts:   opts,
		logger: log,
	}
}

// ProcessButtons folds one status report into the state and returns whether
// the monitor should be on.
func (m *Monitor) ProcessButtons(buttons byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	was := m.on
	m.on, m.prevButtons = Apply(buttons, m.prevButtons, m.on)
	if m.on != was {
		m.logger.Debug().Bool("monitor_on", m.on).Msg("Monitor state changed by button")
	}

	return m.on
}

// IsOn reports the desired display state.
func (m *Monitor) IsOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.on
}

// Buttons returns the last status report.
func (m *Monitor) Buttons() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prevButtons
}

// Tick issues at most one power command for the current state.
func (m *Monitor) Tick(ctx context.Context) {
	issue, on := m.decide()
	if !issue {
		return
	}

	if err := m.power.Force(ctx, on); err != nil {
		m.logger.Debug().Err(err).Bool("on", on).Msg("Display power command failed")
	}
}

func (m *Monitor) decide() (issue, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case !m.on && !m.forcedOff:
		m.forcedOff = true
		m.forcedOn = false
		issue, on = true, false
	case m.on && !m.forcedOn:
		m.forcedOn = true
		m.forcedOff = false
		issue, on = true, true
	}

	if !m.opts.TransitionOnly {
		m.forcedOn = false
		m.forcedOff = false
	}

	return issue, on
}

// Run ticks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.logger.Debug().Dur("interval", m.opts.Interval).Bool("transition_only", m.opts.TransitionOnly).
		Msg("Display power control started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}
