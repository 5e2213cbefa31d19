// Package cpu derives per-core utilization from cumulative time counters and
// reads system memory pressure.
package cpu

// CoreTimes holds the cumulative counters of one core. Total is the sum of
// every category, Idle the idle category alone.
type CoreTimes struct {
	Idle  float64
	Total float64
}

// TimesSource supplies the current cumulative counters of every core.
type TimesSource interface {
	CoreTimes() ([]CoreTimes, error)
}

// Utilization is the busy fraction of one core over the last interval.
// Value is meaningful only when Valid is set.
type Utilization struct {
	Valid bool
	Value float64
}

type CoreState uint8

const (
	Uninitialized CoreState = iota
	WarmedUp
)

func (s CoreState) String() string {
	if s == WarmedUp {
		return "warmed_up"
	}
	return "uninitialized"
}

// CoreSample is the sampler state kept for one core between calls.
type CoreSample struct {
	State     CoreState
	Valid     bool
	Value     float64
	PrevIdle  float64
	PrevTotal float64
}

// Advance folds the counters in now into the per-core state prev and returns
// the new state. When the number of cores differs from prev the whole set is
// rebuilt and every core reports invalid for this call.
func Advance(prev []CoreSample, now []CoreTimes) []CoreSample {
	if len(prev) != len(now) {
		prev = make([]CoreSample, len(now))
	}

	for i, t := range now {
		c := &prev[i]
		dIdle := t.Idle - c.PrevIdle
		dTotal := t.Total - c.PrevTotal
		c.PrevIdle = t.Idle
		c.PrevTotal = t.Total

		if c.State == Uninitialized {
			c.State = WarmedUp
			c.Valid = false
			c.Value = 0
			continue
		}

		if dTotal <= 0 {
			c.Valid = false
			c.Value = 0
			continue
		}

		c.Value = 1 - dIdle/dTotal
		c.Valid = true
	}

	return prev
}

// Sampler owns the per-core state between successive readings of a source.
type Sampler struct {
	source TimesSource
	cores  []CoreSample
}

func NewSampler(source TimesSource) *Sampler {
	return &Sampler{source: source}
}

// Sample reads the source once and returns the utilization of every core.
// On a source error the previous state is kept untouched.
func (s *Sampler) Sample() ([]Utilization, error) {
	times, err := s.source.CoreTimes()
	if err != nil {
		return nil, errFactory.Wrap(ErrReadTimes, err)
	}

	s.cores = Advance(s.cores, times)

	utils := make([]Utilization, len(s.cores))
	for i, c := range s.cores {
		utils[i] = Utilization{Valid: c.Valid, Value: c.Value}
	}

	return utils, nil
}

// Cores returns the number of cores seen by the last successful Sample.
func (s *Sampler) Cores() int {
	return len(s.cores)
}

// State returns a copy of the per-core state.
func (s *Sampler) State() []CoreSample {
	out := make([]CoreSample, len(s.cores))
	copy(out, s.cores)

	return out
}
