// Package atps2 implements the AT/PS2 bidirectional receiver of
// spec.md 4.C.1: frame validation (start/parity, Z-150 stop-bit
// polarity tolerance, the empirical connect-artifact heuristic),
// self-test/ID handshake, scancode-set auto-detection, and the
// lock-LED command sequence internal/ledsync drives through Commander.
package atps2

import (
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/clock"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/coreerr"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/kbdconv/rp2040-keyboard-converter/pio"
)

// state is the AT/PS2 handshake state machine of spec.md 4.C.1.
type state int

const (
	stateUninit state = iota
	stateAwaitAck
	stateAwaitSelfTest
	stateReadID1
	stateReadID2
	stateSetup
	stateSetLockLEDs
	stateInitialised
)

// Codeset is the scancode set a keyboard identifies as.
type Codeset int

const (
	Codeset1 Codeset = 1
	Codeset2 Codeset = 2
	Codeset3 Codeset = 3
)

const (
	cmdReset        = 0xFF
	cmdResend       = 0xFE
	cmdReadID       = 0xF2
	cmdSetAllTypem  = 0xF8
	cmdSetLockLEDs  = 0xED
	byteBATPass     = 0xAA
	byteAck         = 0xFA
	connectArtifact = 0x54
)

// stallLimitIDSetup and stallLimitUninit are the >2 / >5 stall-count
// thresholds of spec.md 4.C.1's timeout supervision.
const (
	stallLimitIDSetup = 2
	stallLimitUninit  = 5
	stallIntervalMS   = 200
)

// Receiver drives one AT/PS2 state machine.
type Receiver struct {
	ring     *ring.Buffer
	clk      clock.Source
	counters *diag.Counters
	log      *slog.Logger

	engine pio.Engine

	st                state
	defaultCodeset    Codeset
	codeset           Codeset
	idHigh, idLow     byte
	idKnown           bool
	stopPolarityKnown bool
	stopPolarity      bool

	stallCount    uint32
	lastStallScan uint32

	lockPending  bool
	lockBits     byte
	onLockAck    func(bits byte)
}

// New builds a Receiver. defaultCodeset is used when the keyboard never
// returns an ID (spec.md 4.C.1: "default to the compiled-in set").
func New(buf *ring.Buffer, clk clock.Source, counters *diag.Counters, defaultCodeset Codeset, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{ring: buf, clk: clk, counters: counters, defaultCodeset: defaultCodeset, codeset: defaultCodeset, log: log}
}

// SetLockAckCallback registers the callback invoked once the two-ACK
// 0xED+bitmap handshake completes, for internal/ledsync.AckLockCommand.
func (r *Receiver) SetLockAckCallback(f func(bits byte)) { r.onLockAck = f }

// Setup claims a PIO engine for this receiver and registers it with the
// IRQ dispatcher.
func (r *Receiver) Setup(claimer pio.Claimer, dispatcher *piodispatch.Dispatcher) error {
	eng, err := claimer.Claim(pio.ProgramATPS2)
	if err != nil {
		return coreerr.FatalInit("at-ps2: " + err.Error())
	}
	eng.ConfigureClockDivider(16) // ~16us sampling period for the ~60us bit cell
	r.engine = eng
	if err := dispatcher.RegisterEngine(eng, r.OnIRQ); err != nil {
		eng.Release()
		return coreerr.ResourceExhaustion("at-ps2: " + err.Error())
	}
	return nil
}

// decodeFrame unpacks the 11-bit ISR-visible frame: bit0=start,
// bits1-8=data LSB-first, bit9=parity, bit10=stop.
func decodeFrame(word uint32) (start, parity, stop bool, data byte) {
	start = word&0x1 != 0
	data = byte((word >> 1) & 0xFF)
	parity = (word>>9)&0x1 != 0
	stop = (word>>10)&0x1 != 0
	return
}

// oddParity reports whether b holds an odd number of 1 bits.
func oddParity(b byte) bool {
	p := false
	for b != 0 {
		p = !p
		b &= b - 1
	}
	return p
}

// Engine returns the claimed PIO engine, for tests and the bench
// harness driving PushRX directly.
func (r *Receiver) Engine() pio.Engine { return r.engine }

// OnIRQ is the ISR-context callback: short, non-blocking, at most one
// ring push per FIFO entry, per spec.md 5.
func (r *Receiver) OnIRQ() {
	for {
		word, ok := r.engine.PopRX()
		if !ok {
			return
		}
		r.handleFrame(word)
	}
}

func (r *Receiver) handleFrame(word uint32) {
	start, parity, stop, data := decodeFrame(word)

	if start {
		// Validation rule 1: start bit must be 0.
		if r.counters != nil {
			r.counters.FrameErrors.Add(1)
		}
		r.log.Warn("at-ps2: bad start bit, resetting", "err", coreerr.Frame("bad start bit"))
		r.resetToUninit()
		return
	}

	if !r.stopPolarityKnown {
		r.stopPolarity = stop
		r.stopPolarityKnown = true
	}
	// Validation rule 2 tolerates either stop polarity once recorded;
	// no further action needed here since we never reject on it.

	// Odd parity: data plus parity bit must hold an odd number of 1 bits.
	if oddParity(data) == parity {
		if data == connectArtifact && parity {
			r.log.Debug("at-ps2: keyboard connect artifact detected")
			r.resetToUninit()
			return
		}
		if r.counters != nil {
			r.counters.FrameErrors.Add(1)
		}
		r.engine.PushTX(cmdResend)
		return
	}

	r.dispatchByte(data)
}

func (r *Receiver) resetToUninit() {
	r.st = stateUninit
	r.idKnown = false
	r.engine.Restart()
}

func (r *Receiver) dispatchByte(b byte) {
	switch r.st {
	case stateUninit:
		if b == byteBATPass {
			r.st = stateReadID1
			r.engine.PushTX(cmdReadID)
		} else {
			r.st = stateAwaitAck
			r.engine.PushTX(cmdReset)
		}

	case stateAwaitAck:
		if b == byteAck {
			r.st = stateAwaitSelfTest
		} else {
			r.engine.PushTX(cmdReset)
		}

	case stateAwaitSelfTest:
		if b == byteBATPass {
			r.st = stateReadID1
			r.engine.PushTX(cmdReadID)
		} else {
			r.st = stateAwaitAck
			r.engine.PushTX(cmdReset)
		}

	case stateReadID1:
		if b == byteAck {
			return // absorbed
		}
		r.idHigh = b
		r.st = stateReadID2

	case stateReadID2:
		r.idLow = b
		r.idKnown = true
		r.codeset = codesetFromID(r.idHigh, r.idLow, r.defaultCodeset)
		if r.codeset == Codeset3 {
			r.st = stateSetup
			r.engine.PushTX(cmdSetAllTypem)
		} else {
			r.st = stateInitialised
		}

	case stateSetup:
		if b == byteAck {
			r.st = stateInitialised
		} else {
			r.idKnown = false
			r.st = stateInitialised
		}

	case stateSetLockLEDs:
		if b != byteAck {
			return
		}
		if !r.lockPending {
			// second ACK: bitmap accepted
			r.st = stateInitialised
			if r.onLockAck != nil {
				r.onLockAck(r.lockBits)
			}
			return
		}
		// first ACK: send the bitmap
		r.lockPending = false
		r.engine.PushTX(r.lockBits)

	case stateInitialised:
		if !r.ring.Put(b) {
			if r.counters != nil {
				r.counters.RingDropped.Add(1)
			}
		}
	}
}

// codesetFromID maps the two keyboard-ID bytes to a scancode set, per
// spec.md 4.C.1's "ID byte deterministically picks set 1, set 2, or
// set 3". 0xAB83/0xABC1 family identify as Set 2 (the overwhelming
// majority of AT/PS2 keyboards); 0xBFxx identifies as the IBM terminal
// (Set 3) family.
func codesetFromID(high, low byte, fallback Codeset) Codeset {
	switch high {
	case 0xAB:
		return Codeset2
	case 0xBF:
		return Codeset3
	default:
		return fallback
	}
}

// Codeset returns the detected (or default) scancode set, for wiring
// the correct internal/scancode.Decoder.
func (r *Receiver) Codeset() Codeset { return r.codeset }

// SendLockCommand implements internal/ledsync.Commander.
func (r *Receiver) SendLockCommand(bits byte) {
	r.lockBits = bits
	r.lockPending = true
	r.st = stateSetLockLEDs
	r.engine.PushTX(cmdSetLockLEDs)
}

// Task runs the 200ms timeout-supervision sweep from the main loop,
// per spec.md 4.C.1 and 5 ("never a blocking sleep").
func (r *Receiver) Task(now uint32) {
	if clock.Elapsed(now, r.lastStallScan) < stallIntervalMS {
		return
	}
	r.lastStallScan = now

	if r.st == stateInitialised {
		r.stallCount = 0
		return
	}

	r.stallCount++
	switch {
	case r.st == stateUninit && r.stallCount > stallLimitUninit:
		r.log.Warn("at-ps2: stalled in Uninit, reissuing Reset", "err", coreerr.ProtocolStall("uninit"))
		if r.counters != nil {
			r.counters.ProtocolStalls.Add(1)
		}
		r.engine.PushTX(cmdReset)
		r.stallCount = 0
	case r.st != stateUninit && r.stallCount > stallLimitIDSetup:
		r.log.Warn("at-ps2: stalled in ID/Setup, accepting unknown ID", "err", coreerr.ProtocolStall("id-setup"))
		if r.counters != nil {
			r.counters.ProtocolStalls.Add(1)
		}
		r.idKnown = false
		r.st = stateInitialised
		r.stallCount = 0
	}
}
