package scancode

// m0110Null is the "no key" poll response (spec.md 4.C.4); the receiver
// never forwards it into the ring buffer, but Feed ignores it
// defensively rather than emitting a bogus key event if it ever does.
const m0110Null = 0x7B

// M0110Decoder decodes Apple M0110/M0110A/M0120 bytes: bit 7 is the
// release flag, bits 6..0 are the key id. Stateless - the protocol has
// no multi-byte sequences.
type M0110Decoder struct{}

// NewM0110Decoder returns an M0110 decoder.
func NewM0110Decoder() *M0110Decoder {
	return &M0110Decoder{}
}

// Feed implements Decoder.
func (d *M0110Decoder) Feed(b byte) ([]Event, error) {
	if b == m0110Null {
		return nil, nil
	}
	code := b & 0x7F
	action := Make
	if b&0x80 != 0 {
		action = Break
	}
	return []Event{{Code: code, Action: action}}, nil
}
