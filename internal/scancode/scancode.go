// Package scancode implements the scancode decoders of spec.md 4.D: one
// small state machine per scancode set (1, 2, 3, Amiga, M0110) that
// turns a byte stream from internal/ring into physical-key make/break
// events. Each decoder is stateless across protocols - a build selects
// exactly one, per the compile-time board identity in
// internal/boardconfig.
package scancode

// Action distinguishes a key press from a key release.
type Action int

const (
	Make Action = iota
	Break
)

func (a Action) String() string {
	if a == Make {
		return "make"
	}
	return "break"
}

// Event is a physical-key transition: Code is a flat, set-specific
// physical key code in 0..0xFF (spec.md 3's KeyEvent, minus the
// (row,col) translation internal/keylayout performs afterward).
type Event struct {
	Code   uint8
	Action Action
}

// Pause is the synthetic physical key code this package emits for the
// multi-byte Pause/Break sequence on sets that encode it as a long
// prefix run rather than a single byte, since no real scancode exists
// for it in the base 0x00-0x7F band of any set. It is placed in the
// E0-prefixed extended band shared by sets 1 and 2.
const Pause = 0xE1

// Decoder turns a byte stream into events. Most bytes complete zero or
// one event; the AT/PS2 Pause sequence is the sole case that completes
// two at once (a synthetic Make immediately followed by a synthetic
// Break, since the real keyboard never sends a release frame for it),
// which is why Feed returns a slice rather than a single optional
// event.
type Decoder interface {
	// Feed consumes one byte, returning any events it completed, and an
	// error (always a coreerr.DecoderDesync) if the byte was unexpected
	// mid-sequence; the decoder always resets itself to Normal before
	// returning a desync error.
	Feed(b byte) (events []Event, err error)
}
