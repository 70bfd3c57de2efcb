// Package piodispatch implements the PIO IRQ dispatcher (spec.md 4.B):
// a single hardware IRQ line shared by up to four PIO state machines
// (keyboard, optional mouse) is fanned out to each state machine's own
// callback, which is responsible for checking whether its own RX FIFO
// is non-empty before reading.
package piodispatch

import (
	"fmt"

	"github.com/kbdconv/rp2040-keyboard-converter/pio"
)

// MaxCallbacks bounds the registry, per spec.md 4.B's "small registry
// (<=4)".
const MaxCallbacks = 4

// Callback is invoked on every IRQ fire for a registered state machine.
// It must check its own FIFO before reading from it; callbacks across
// different state machines are serialized by the shared IRQ and must
// not block.
type Callback func()

type entry struct {
	sm uint8
	cb Callback
}

// Dispatcher multiplexes one PIO IRQ line across registered
// (callback, state-machine) pairs.
type Dispatcher struct {
	entries []entry
}

// New returns an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{entries: make([]entry, 0, MaxCallbacks)}
}

// Register adds cb to be invoked on every IRQ fire, associated with the
// state machine index sm for bookkeeping. Registration failure
// (registry full) is fatal for the caller's Setup per spec.md 4.B: the
// caller must release any resources it already claimed and return the
// error from its own setup.
func (d *Dispatcher) Register(sm uint8, cb Callback) error {
	if len(d.entries) >= MaxCallbacks {
		return fmt.Errorf("piodispatch: registry full (max %d callbacks)", MaxCallbacks)
	}
	d.entries = append(d.entries, entry{sm: sm, cb: cb})
	return nil
}

// RegisterEngine is a convenience wrapper that registers cb keyed by
// eng's state machine index.
func (d *Dispatcher) RegisterEngine(eng pio.Engine, cb Callback) error {
	return d.Register(eng.SMIndex(), cb)
}

// Unregister removes every callback previously registered for sm, used
// when a protocol receiver releases its engine on unrecoverable error.
func (d *Dispatcher) Unregister(sm uint8) {
	kept := d.entries[:0]
	for _, e := range d.entries {
		if e.sm != sm {
			kept = append(kept, e)
		}
	}
	d.entries = kept
}

// Dispatch is the IRQ handler: it invokes every registered callback in
// registration order. Fires from state machines with no registered
// callback are silently absorbed, per spec.md 4.B's failure mode for
// unknown SM fires.
func (d *Dispatcher) Dispatch() {
	for _, e := range d.entries {
		e.cb()
	}
}

// Len reports how many callbacks are currently registered, exercised by
// tests asserting the registry bound.
func (d *Dispatcher) Len() int {
	return len(d.entries)
}
