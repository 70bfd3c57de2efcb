// Package pio models the external PIO (programmable I/O) coprocessor
// contract described in spec.md 6: a circular program memory, one or
// more state machines with independent RX/TX FIFOs, and an IRQ line
// fired when any configured FIFO is non-empty. The physical PIO
// assembly programs that bit-bang each wire protocol are out of scope
// (spec.md 1) - this package only exposes the digital surface the core
// protocol receivers are specified against, grounded in the
// Claim/SetConfig/ClkDivRestart shape used by tinygo.org/x/pio's
// state-machine API.
package pio

import "errors"

// ErrNoEngineAvailable is returned by Claim when neither PIO instance
// has a free state machine, per spec.md 6's "claim_engine ... returning
// an opaque handle or error when neither engine has space."
var ErrNoEngineAvailable = errors.New("pio: no state machine available")

// Program identifies which bit-banged wire protocol a claimed engine
// will run. The concrete bit patterns are a hardware concern out of
// scope for this package; the value only distinguishes claims for
// logging and for the dispatcher registry in internal/piodispatch.
type Program string

const (
	ProgramATPS2 Program = "at-ps2"
	ProgramXT    Program = "xt"
	ProgramAmiga Program = "amiga"
	ProgramM0110 Program = "m0110"
	ProgramMouse Program = "mouse-at-ps2"
)

// Engine is one claimed {PIO instance, state machine, program offset}
// bundle, exclusively owned by one protocol receiver for its lifetime
// after Setup, per spec.md 3's PioEngine lifecycle.
type Engine interface {
	// ConfigureClockDivider sets the sampling period so the state
	// machine's bit timing matches the protocol's minimum pulse width.
	ConfigureClockDivider(targetMicros float64)

	// PushTX enqueues one word for host-to-device transmission. It
	// returns false if the TX FIFO is full (spec.md 4.C.4's "TX FIFO
	// full ... dropped-command condition").
	PushTX(word uint32) bool

	// PopRX dequeues one received word, if the RX FIFO is non-empty.
	PopRX() (word uint32, ok bool)

	// SMIndex identifies the state machine within its PIO instance, the
	// registry key internal/piodispatch multiplexes IRQ fires by.
	SMIndex() uint8

	// Restart reinitializes the state machine from its start address,
	// used on unrecoverable frame loss (spec.md 3).
	Restart()

	// Release gives the engine back to the claim pool. Called on
	// protocol restart or on shutdown of a disabled subsystem.
	Release()
}

// Claimer claims PIO engines on behalf of a protocol receiver's Setup.
// Production firmware backs this with the two physical PIO blocks;
// tests and the bench harness back it with internal/harness's in-memory
// fake.
type Claimer interface {
	// Claim reserves one free state machine across both PIO instances
	// to run program, or returns ErrNoEngineAvailable if none remain.
	Claim(program Program) (Engine, error)
}
