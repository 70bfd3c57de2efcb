package scancode

import "github.com/kbdconv/rp2040-keyboard-converter/internal/coreerr"

type set2State int

const (
	set2Normal set2State = iota
	set2ExpectE0
	set2ExpectF0
	set2ExpectE0F0
	set2PauseGroup
)

// pauseGroupLen is the number of bytes following the opening E1 in the
// AT/PS2 8-byte Pause sequence (E1 14 77 E1 F0 14 F0 77).
const pauseGroupLen = 7

// Set2Decoder decodes AT/PS2 scancode Set 2: F0 means the next byte is
// a release, E0 means the next byte is extended, E0 F0 xx is an
// extended release, and E1 opens the long Pause sequence which this
// firmware absorbs whole and reports as a single synthetic Make+Break
// pair, since the real keyboard never sends a release frame for Pause.
type Set2Decoder struct {
	state       set2State
	pauseRemain int
}

// NewSet2Decoder returns a fresh Set 2 decoder.
func NewSet2Decoder() *Set2Decoder {
	return &Set2Decoder{}
}

// Feed implements Decoder.
func (d *Set2Decoder) Feed(b byte) ([]Event, error) {
	switch d.state {
	case set2Normal:
		switch b {
		case 0xE0:
			d.state = set2ExpectE0
			return nil, nil
		case 0xF0:
			d.state = set2ExpectF0
			return nil, nil
		case 0xE1:
			d.state = set2PauseGroup
			d.pauseRemain = pauseGroupLen
			return nil, nil
		default:
			return []Event{{Code: b, Action: Make}}, nil
		}

	case set2ExpectF0:
		d.state = set2Normal
		return []Event{{Code: b, Action: Break}}, nil

	case set2ExpectE0:
		if b == 0xF0 {
			d.state = set2ExpectE0F0
			return nil, nil
		}
		d.state = set2Normal
		return []Event{{Code: b | 0x80, Action: Make}}, nil

	case set2ExpectE0F0:
		d.state = set2Normal
		return []Event{{Code: b | 0x80, Action: Break}}, nil

	case set2PauseGroup:
		d.pauseRemain--
		if d.pauseRemain > 0 {
			return nil, nil
		}
		d.state = set2Normal
		// The real keyboard never sends a release frame for Pause, so
		// both halves are synthesized together once the sequence
		// completes.
		return []Event{{Code: Pause, Action: Make}, {Code: Pause, Action: Break}}, nil
	}

	d.state = set2Normal
	return nil, coreerr.DecoderDesync("set2: unreachable state")
}
