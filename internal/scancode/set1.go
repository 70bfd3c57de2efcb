package scancode

const (
	set1ExtendedBit = 0x80
	leftShiftBreak  = 0xAA // break code for Left Shift in set 1; also the BAT-pass byte.
)

type set1State int

const (
	set1Normal set1State = iota
	set1ExpectE0
	set1PauseGroup
)

// Set1Decoder decodes IBM XT / PC scancode Set 1. Bit 7 of a plain byte
// is the break flag; E0-prefixed bytes select the extended-key table;
// a bare E1-prefixed triplet is this firmware's XT Pause handling
// (spec.md 4.D, 9's open question: "bare" Pause lacking an E1 prefix is
// deliberately left ambiguous with Ctrl+NumLock and never disambiguated
// here).
type Set1Decoder struct {
	state        set1State
	pauseRemain  int
	pauseToggle  Action
	everSeenByte bool
}

// NewSet1Decoder returns a fresh Set 1 decoder.
func NewSet1Decoder() *Set1Decoder {
	return &Set1Decoder{pauseToggle: Make}
}

// Feed implements Decoder.
func (d *Set1Decoder) Feed(b byte) ([]Event, error) {
	first := !d.everSeenByte
	d.everSeenByte = true

	switch d.state {
	case set1Normal:
		switch {
		case b == 0xE0:
			d.state = set1ExpectE0
			return nil, nil
		case b == 0xE1:
			d.state = set1PauseGroup
			d.pauseRemain = 2
			return nil, nil
		case b == leftShiftBreak && first:
			// spec.md 9: defensive filter of the BAT-pass byte leaking
			// through as the very first byte this decoder ever sees.
			// Once any byte has been processed this filter never
			// applies again, so a genuine Left Shift break is never
			// swallowed.
			return nil, nil
		default:
			code := b &^ set1ExtendedBit
			action := Make
			if b&set1ExtendedBit != 0 {
				action = Break
			}
			return []Event{{Code: code, Action: action}}, nil
		}

	case set1ExpectE0:
		d.state = set1Normal
		code := (b &^ set1ExtendedBit) | 0x80
		action := Make
		if b&set1ExtendedBit != 0 {
			action = Break
		}
		return []Event{{Code: code, Action: action}}, nil

	case set1PauseGroup:
		d.pauseRemain--
		if d.pauseRemain > 0 {
			return nil, nil
		}
		d.state = set1Normal
		ev := Event{Code: Pause, Action: d.pauseToggle}
		if d.pauseToggle == Make {
			d.pauseToggle = Break
		} else {
			d.pauseToggle = Make
		}
		return []Event{ev}, nil
	}
	return nil, nil
}
