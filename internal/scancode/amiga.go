package scancode

// amigaSpecialBandStart is the lowest value of the Amiga special-byte
// band (reset warning, lost sync, buffer overflow, self-test failed,
// power-up stream markers). The Amiga protocol receiver (not this
// decoder) consumes every byte in this band inline, together with the
// caps-lock LED report bytes 0x62/0xE2 that lie below it, per spec.md
// 4.C.3 and 4.D; AmigaDecoder.Feed should never be
// called with one, but defensively ignores it rather than emitting a
// bogus key event.
const amigaSpecialBandStart = 0x78

// AmigaDecoder decodes already de-rotated Amiga keyboard bytes: bit 7
// is the release flag (0=press, 1=release, per spec.md 4.D - the same
// convention as set 1), bits 6..0 are the key id.
type AmigaDecoder struct{}

// NewAmigaDecoder returns an Amiga decoder. It is stateless.
func NewAmigaDecoder() *AmigaDecoder {
	return &AmigaDecoder{}
}

// Feed implements Decoder.
func (d *AmigaDecoder) Feed(b byte) ([]Event, error) {
	code := b & 0x7F
	if code >= amigaSpecialBandStart {
		return nil, nil
	}
	action := Make
	if b&0x80 != 0 {
		action = Break
	}
	return []Event{{Code: code, Action: action}}, nil
}

// Derotate reverses the Amiga wire bit order (6-5-4-3-2-1-0-7) back
// into a normal byte, per spec.md 4.C.3: original = ((rot&0x01)<<7) |
// ((rot&0xFE)>>1). It is the Amiga receiver's job, not the decoder's,
// but lives here so both the receiver and its tests share one
// definition of the round-trip law in spec.md 8
// (derotate(rotate(b))==b).
func Derotate(rot byte) byte {
	return ((rot & 0x01) << 7) | ((rot & 0xFE) >> 1)
}

// Rotate is the wire-side inverse of Derotate, used only by tests and
// the bench harness to synthesize Amiga wire bytes from a plain
// scancode.
func Rotate(b byte) byte {
	return ((b & 0x80) >> 7) | ((b & 0x7F) << 1)
}
