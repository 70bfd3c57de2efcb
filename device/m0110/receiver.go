// Package m0110 implements the poll-based Apple M0110 receiver of
// spec.md 4.C.4: a 1000ms startup delay anchored to setup-time, Model
// request/retry, and a sustained Inquiry poll once initialised.
package m0110

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
	stateModelRequest
	stateInitialised
)

const (
	cmdModel   = 0x16
	cmdInquiry = 0x10
	byteNull   = 0x7B
)

const (
	startupDelayMS     = 1000
	modelRetryMS       = 500
	modelRetryLimit    = 5
	responseTimeoutMS  = 500
)

// Model is the keyboard family reported in response to a Model command.
type Model int

const (
	ModelUnknown Model = iota
	ModelM0110
	ModelM0110A
	ModelM0120Keypad
	ModelM0110WithM0120
	ModelM0110AWithM0120
)

func modelFromByte(b byte) Model {
	switch b {
	case 0x01:
		return ModelM0110
	case 0x03:
		return ModelM0110WithM0120
	case 0x05:
		return ModelM0110A
	case 0x0D:
		return ModelM0110AWithM0120
	case 0x0B:
		return ModelM0120Keypad
	default:
		return ModelUnknown
	}
}

func (m Model) String() string {
	switch m {
	case ModelM0110:
		return "m0110"
	case ModelM0110A:
		return "m0110a"
	case ModelM0120Keypad:
		return "m0120-keypad"
	case ModelM0110WithM0120:
		return "m0110+m0120"
	case ModelM0110AWithM0120:
		return "m0110a+m0120"
	default:
		return "unknown"
	}
}

// Receiver drives the M0110 poll state machine.
type Receiver struct {
	ring     *ring.Buffer
	clk      clock.Source
	counters *diag.Counters
	log      *slog.Logger

	engine pio.Engine

	st         state
	setupAtMS  uint32
	model      Model
	retries    int
	lastSentMS uint32
	lastRecvMS uint32
}

// New builds a Receiver.
func New(buf *ring.Buffer, clk clock.Source, counters *diag.Counters, log *slog.Logger) *Receiver {
	if log == nil {
		log = slog.Default()
	}
	return &Receiver{ring: buf, clk: clk, counters: counters, log: log}
}

// Setup claims a PIO engine, registers it with the IRQ dispatcher, and
// anchors the 1000ms startup delay to this call rather than to boot.
func (r *Receiver) Setup(claimer pio.Claimer, dispatcher *piodispatch.Dispatcher) error {
	eng, err := claimer.Claim(pio.ProgramM0110)
	if err != nil {
		return coreerr.FatalInit("m0110: " + err.Error())
	}
	eng.ConfigureClockDivider(400) // ~2.5kHz host-command clock
	r.engine = eng
	if r.clk != nil {
		r.setupAtMS = r.clk.NowMS()
	}
	if err := dispatcher.RegisterEngine(eng, r.OnIRQ); err != nil {
		eng.Release()
		return coreerr.ResourceExhaustion("m0110: " + err.Error())
	}
	return nil
}

// Engine returns the claimed PIO engine, for tests and the bench
// harness driving PushRX directly.
func (r *Receiver) Engine() pio.Engine { return r.engine }

// pushTX sends a command word, counting a full TX FIFO as a dropped
// command per spec.md 4.C.4 ("logged, not retried automatically").
func (r *Receiver) pushTX(word uint32) {
	if r.engine.PushTX(word) {
		return
	}
	r.log.Warn("m0110: TX FIFO full, command dropped", "word", word)
	if r.counters != nil {
		r.counters.DroppedCommands.Add(1)
	}
}

// Model reports the auto-detected keyboard family.
func (r *Receiver) Model() Model { return r.model }

// OnIRQ is the ISR-context callback.
func (r *Receiver) OnIRQ() {
	for {
		word, ok := r.engine.PopRX()
		if !ok {
			return
		}
		r.handleByte(byte(word))
	}
}

func (r *Receiver) handleByte(b byte) {
	if r.clk != nil {
		r.lastRecvMS = r.clk.NowMS()
	}

	switch r.st {
	case stateModelRequest:
		r.model = modelFromByte(b)
		r.log.Info("m0110: keyboard model detected", "model", r.model.String())
		r.st = stateInitialised
		r.retries = 0
		r.pushTX(cmdInquiry)

	case stateInitialised:
		if b == byteNull {
			r.pushTX(cmdInquiry)
			return
		}
		if !r.ring.Put(b) {
			if r.counters != nil {
				r.counters.RingDropped.Add(1)
			}
		}
		r.pushTX(cmdInquiry)
	}
}

// Task runs the foreground housekeeping sweep: the startup delay, the
// Model retry cadence, and the 500ms Initialised response-timeout
// supervision.
func (r *Receiver) Task(now uint32) {
	switch r.st {
	case stateUninit:
		if clock.Elapsed(now, r.setupAtMS) < startupDelayMS {
			return
		}
		r.st = stateModelRequest
		r.retries = 0
		r.lastSentMS = now
		r.pushTX(cmdModel)

	case stateModelRequest:
		if clock.Elapsed(now, r.lastSentMS) < modelRetryMS {
			return
		}
		r.retries++
		if r.retries >= modelRetryLimit {
			r.log.Warn("m0110: model detection exhausted retries, restarting", "err", coreerr.ProtocolStall("model-request"))
			if r.counters != nil {
				r.counters.ProtocolStalls.Add(1)
			}
			r.st = stateUninit
			r.setupAtMS = now
			return
		}
		r.lastSentMS = now
		r.pushTX(cmdModel)

	case stateInitialised:
		if clock.Elapsed(now, r.lastRecvMS) < responseTimeoutMS {
			return
		}
		r.log.Warn("m0110: response timeout, restarting", "err", coreerr.ProtocolStall("response-timeout"))
		if r.counters != nil {
			r.counters.ProtocolStalls.Add(1)
		}
		r.ring.Reset()
		r.st = stateUninit
		r.setupAtMS = now
	}
}
