// Package frame encodes utilization snapshots into the display wire format.
//
// A frame is a header byte followed by one bar per core and a trailing
// memory bar:
//
//	0x80 | (cores+1), core[0] .. core[cores-1], memory
//
// Bars are 0..127 so only the header carries the top bit. There is no
// checksum or escaping; the device resynchronizes on the header bit.
package frame

import (
	"math"

	"codeberg.org/mutker/yombcpu/internal/cpu"
)

const (
	// MaxCores is the largest number of core bars a single frame can carry.
	MaxCores = 31
	// MaxBar is the full-scale bar value.
	MaxBar = 127

	startFlag  = 0x80
	lengthMask = 0x7f
)

// Size returns the encoded frame length for the given number of cores.
func Size(cores int) int {
	return 1 + min(MaxCores, cores) + 1
}

// Encoder reuses its output buffer between frames of the same length.
type Encoder struct {
	buf []byte
}

// Encode builds a frame. The returned slice is owned by the Encoder and is
// only valid until the next call.
func (e *Encoder) Encode(utils []cpu.Utilization, memory float64) []byte {
	n := min(MaxCores, len(utils))
	if size := Size(n); len(e.buf) != size {
		e.buf = make([]byte, size)
	}

	e.buf[0] = byte(startFlag + n + 1)
	for i := 0; i < n; i++ {
		u := utils[i]
		if u.Valid {
			e.buf[i+1] = bar(u.Value)
		} else {
			e.buf[i+1] = 0
		}
	}
	e.buf[n+1] = bar(memory)

	return e.buf
}

// Encode builds a frame in a freshly allocated buffer.
func Encode(utils []cpu.Utilization, memory float64) []byte {
	var e Encoder
	return e.Encode(utils, memory)
}

func bar(fraction float64) byte {
	if math.IsNaN(fraction) || fraction <= 0 {
		return 0
	}
	if fraction >= 1 {
		return MaxBar
	}

	return byte(math.Floor(fraction * MaxBar))
}
