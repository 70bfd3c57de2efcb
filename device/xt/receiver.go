// Package xt implements the unidirectional IBM XT receiver of spec.md
// 4.C.2: single start bit validation, the power-on BAT-pass byte
// swallowed once, and genuine-vs-clone auto-detection surfaced as a
// diagnostic rather than a behavioural difference.
package xt

import (
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/clock"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/coreerr"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/kbdconv/rp2040-keyboard-converter/pio"
)

type state int

const (
	stateUninit state = iota
	stateInitialised
)

const byteBATPass = 0xAA

// Variant is the auto-detected keyboard family, distinguished only by
// start-bit count per spec.md 4.C.2; it never changes decode behaviour.
type Variant int

const (
	VariantUnknown Variant = iota
	VariantClone            // single start bit
	VariantGenuine          // two-start-bit RTS/CTS pair
)

func (v Variant) String() string {
	switch v {
	case VariantClone:
		return "clone"
	case VariantGenuine:
		return "genuine"
	default:
		return "unknown"
	}
}

// Receiver drives the XT state machine. Unlike AT/PS2 it never
// transmits; it only validates and forwards.
type Receiver struct {
	ring     *ring.Buffer
	clk      clock.Source
	counters *diag.Counters
	log      *slog.Logger

	engine pio.Engine

	st          state
	batConsumed bool
	variant     Variant
}

// New builds a Receiver.
func New(buf *ring.Buffer, clk clock.Source, counters *diag.Counters, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{ring: buf, clk: clk, counters: counters, log: log}
}

// Setup claims a PIO engine and registers it with the IRQ dispatcher.
func (r *Receiver) Setup(claimer pio.Claimer, dispatcher *piodispatch.Dispatcher) error {
	eng, err := claimer.Claim(pio.ProgramXT)
	if err != nil {
		return coreerr.FatalInit("xt: " + err.Error())
	}
	eng.ConfigureClockDivider(10) // 10us sample period, 4 samples per start-bit window
	r.engine = eng
	if err := dispatcher.RegisterEngine(eng, r.OnIRQ); err != nil {
		eng.Release()
		return coreerr.ResourceExhaustion("xt: " + err.Error())
	}
	return nil
}

// Engine returns the claimed PIO engine, for tests and the bench
// harness driving PushRX directly.
func (r *Receiver) Engine() pio.Engine { return r.engine }

// Variant reports the auto-detected keyboard family.
func (r *Receiver) Variant() Variant { return r.variant }

// decodeFrame unpacks the 10-bit ISR-visible word: bit0=start,
// bits1-8=data LSB-first, bit9=genuine (two-start-bit RTS/CTS pair
// observed in hardware by the PIO program).
func decodeFrame(word uint32) (start bool, data byte, genuine bool) {
	start = word&0x1 != 0
	data = byte((word >> 1) & 0xFF)
	genuine = (word>>9)&0x1 != 0
	return
}

// OnIRQ is the ISR-context callback.
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
	start, data, genuine := decodeFrame(word)

	if !start {
		if r.counters != nil {
			r.counters.FrameErrors.Add(1)
		}
		r.log.Warn("xt: bad start bit, soft-resetting", "err", coreerr.Frame("bad start bit"))
		r.resetToUninit()
		return
	}

	if r.variant == VariantUnknown {
		if genuine {
			r.variant = VariantGenuine
		} else {
			r.variant = VariantClone
		}
		r.log.Debug("xt: keyboard variant detected", "variant", r.variant.String())
	}

	if r.st == stateUninit {
		r.st = stateInitialised
		if data == byteBATPass && !r.batConsumed {
			r.batConsumed = true
			return
		}
	}

	if !r.ring.Put(data) {
		if r.counters != nil {
			r.counters.RingDropped.Add(1)
		}
	}
}

// resetToUninit performs the "Type 2" soft-reset: the PIO program pulls
// CLK low for >=20ms and waits for DATA high before releasing, entirely
// in hardware; Restart() is software's trigger for that sequence.
func (r *Receiver) resetToUninit() {
	r.st = stateUninit
	r.batConsumed = false
	r.engine.Restart()
}
