// Package amiga implements the bidirectional Commodore Amiga receiver
// of spec.md 4.C.3: bit de-rotation, the special-byte control band
// (reset warning/abort, lost sync, overflow, self-test failure,
// power-up key-stream markers), and the caps-lock LED quirk routed to
// internal/ledsync. The 143ms host-side handshake deadline is enforced
// by the PIO program in hardware and is not modelled here.
package amiga

import (
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/clock"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/coreerr"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/kbdconv/rp2040-keyboard-converter/pio"
)

const (
	codeResetWarning  = 0x78
	codeResetAborted  = 0xF8
	codeLostSync      = 0xF9
	codeOverflow      = 0xFA
	codeSelfTestFail  = 0xFC
	codePowerupOpen   = 0xFD
	codePowerupClose  = 0xFE
	codeCapsLockOn    = 0x62
	codeCapsLockOff   = 0xE2
	specialBandMaskLo = 0x78 // low-7-bit threshold for the control band
)

const (
	resetWarningWindowMS = 250
	resetGraceMS         = 10000
)

// LEDObserver is the subset of internal/ledsync.Synchroniser the
// caps-lock quirk byte feeds.
type LEDObserver interface {
	AmigaLEDEvent(capsOn bool)
}

// Receiver drives the Amiga state machine.
type Receiver struct {
	ring     *ring.Buffer
	clk      clock.Source
	counters *diag.Counters
	log      *slog.Logger
	leds     LEDObserver

	engine pio.Engine

	inPowerupStream bool

	resetWarnArmed  bool
	lastResetWarnMS uint32
	graceArmed      bool
	graceDeadlineMS uint32
}

// New builds a Receiver. leds may be nil if LED synchronisation is
// wired later via SetLEDObserver.
func New(buf *ring.Buffer, clk clock.Source, counters *diag.Counters, leds LEDObserver, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{ring: buf, clk: clk, counters: counters, leds: leds, log: log}
}

// SetLEDObserver wires the caps-lock quirk's destination.
func (r *Receiver) SetLEDObserver(leds LEDObserver) { r.leds = leds }

// Setup claims a PIO engine and registers it with the IRQ dispatcher.
func (r *Receiver) Setup(claimer pio.Claimer, dispatcher *piodispatch.Dispatcher) error {
	eng, err := claimer.Claim(pio.ProgramAmiga)
	if err != nil {
		return coreerr.FatalInit("amiga: " + err.Error())
	}
	eng.ConfigureClockDivider(15) // ~60us bit cell sampled at roughly 4x
	r.engine = eng
	if err := dispatcher.RegisterEngine(eng, r.OnIRQ); err != nil {
		eng.Release()
		return coreerr.ResourceExhaustion("amiga: " + err.Error())
	}
	return nil
}

// Engine returns the claimed PIO engine, for tests and the bench
// harness driving PushRX directly.
func (r *Receiver) Engine() pio.Engine { return r.engine }

// OnIRQ is the ISR-context callback. The wire-rotated byte occupies the
// low 8 bits of each popped word; the ack handshake pulse is produced
// entirely by the PIO program.
func (r *Receiver) OnIRQ() {
	for {
		word, ok := r.engine.PopRX()
		if !ok {
			return
		}
		r.handleByte(byte(word))
	}
}

func (r *Receiver) handleByte(rotated byte) {
	b := scancode.Derotate(rotated)

	switch b {
	case codeResetWarning:
		r.handleResetWarning()
		return
	case codeResetAborted:
		r.log.Debug("amiga: reset aborted by user")
		r.resetWarnArmed = false
		r.graceArmed = false
		return
	case codeLostSync:
		r.log.Warn("amiga: lost sync, discarding pending state", "err", coreerr.DecoderDesync("lost sync"))
		if r.counters != nil {
			r.counters.DecoderDesyncs.Add(1)
		}
		return
	case codeOverflow:
		r.log.Warn("amiga: keyboard-side buffer overflow")
		if r.counters != nil {
			r.counters.AmigaOverflows.Add(1)
		}
		return
	case codeSelfTestFail:
		r.log.Error("amiga: keyboard self-test failed")
		return
	case codePowerupOpen:
		r.inPowerupStream = true
		return
	case codePowerupClose:
		r.inPowerupStream = false
		return
	case codeCapsLockOn, codeCapsLockOff:
		if r.leds != nil {
			r.leds.AmigaLEDEvent(b == codeCapsLockOn)
		}
		return
	}

	if b&0x7F >= specialBandMaskLo {
		// Reserved region of the control band with no assigned meaning;
		// ignored defensively rather than forwarded as a bogus key.
		return
	}

	if r.inPowerupStream {
		// Power-up stream bytes name keys already held at boot; always
		// emit as Make regardless of the wire's break bit.
		b &^= 0x80
	}

	if !r.ring.Put(b) {
		if r.counters != nil {
			r.counters.RingDropped.Add(1)
		}
	}
}

func (r *Receiver) handleResetWarning() {
	now := uint32(0)
	if r.clk != nil {
		now = r.clk.NowMS()
	}
	if r.resetWarnArmed && clock.Elapsed(now, r.lastResetWarnMS) <= resetWarningWindowMS {
		r.log.Warn("amiga: reset confirmed, entering grace period")
		r.graceArmed = true
		r.graceDeadlineMS = now + resetGraceMS
	}
	r.resetWarnArmed = true
	r.lastResetWarnMS = now
}

// Task runs the foreground housekeeping sweep: expiring an unconfirmed
// reset-warning window and an unconfirmed grace period.
func (r *Receiver) Task(now uint32) {
	if r.resetWarnArmed && clock.Elapsed(now, r.lastResetWarnMS) > resetWarningWindowMS {
		r.resetWarnArmed = false
	}
	if r.graceArmed && clock.Elapsed(now, r.graceDeadlineMS) < 1<<31 {
		r.graceArmed = false
	}
}
