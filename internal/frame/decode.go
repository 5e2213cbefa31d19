package frame

import "codeberg.org/mutker/yombcpu/internal/errors"

const (
	ErrShortFrame  = errors.ErrorCode("frame_short")
	ErrNoHeader    = errors.ErrorCode("frame_no_header")
	ErrBadBarValue = errors.ErrorCode("frame_bad_bar_value")
)

func init() {
	errors.Register(ErrShortFrame, "Frame shorter than its header declares")
	errors.Register(ErrNoHeader, "Frame does not start with a header byte")
	errors.Register(ErrBadBarValue, "Frame bar has the start-of-frame bit set")
}

// Decoded is a parsed frame.
type Decoded struct {
	Cores  []byte
	Memory byte
}

// Decode parses b the way the display firmware does: the first byte must
// carry the start flag, its low bits give the number of bars that follow
// including the memory bar, and no bar may carry the start flag.
func Decode(b []byte) (Decoded, error) {
	errFactory := errors.New()

	if len(b) == 0 || b[0]&startFlag == 0 {
		return Decoded{}, errFactory.New(ErrNoHeader)
	}

	count := int(b[0] & lengthMask)
	if count == 0 || len(b) < 1+count {
		return Decoded{}, errFactory.WithData(ErrShortFrame, len(b))
	}

	bars := b[1 : 1+count]
	for i, v := range bars {
		if v&startFlag != 0 {
			return Decoded{}, errFactory.WithData(ErrBadBarValue, i)
		}
	}

	return Decoded{
		Cores:  append([]byte(nil), bars[:count-1]...),
		Memory: bars[count-1],
	}, nil
}
