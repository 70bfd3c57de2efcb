package harness

import (
	"sync"

	"github.com/kbdconv/rp2040-keyboard-converter/pio"
)

// FakeClaimer is an in-memory pio.Claimer backed by a fixed pool of
// fake state machines, standing in for the two physical PIO blocks.
type FakeClaimer struct {
	mu      sync.Mutex
	next    uint8
	maxSM   uint8
	claimed map[uint8]*FakeEngine
}

// NewFakeClaimer returns a claimer with maxSM state machines available,
// matching the RP2040's 4 state machines per PIO block times 2 blocks
// when maxSM=8, or a smaller pool to exercise pio.ErrNoEngineAvailable.
func NewFakeClaimer(maxSM uint8) *FakeClaimer {
	return &FakeClaimer{maxSM: maxSM, claimed: make(map[uint8]*FakeEngine)}
}

// Claim implements pio.Claimer.
func (c *FakeClaimer) Claim(program pio.Program) (pio.Engine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= c.maxSM {
		return nil, pio.ErrNoEngineAvailable
	}
	eng := &FakeEngine{sm: c.next, program: program, owner: c}
	c.claimed[c.next] = eng
	c.next++
	return eng, nil
}

func (c *FakeClaimer) release(sm uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claimed, sm)
}

// FakeEngine is an in-memory pio.Engine. Test code drives it by calling
// PushRX to simulate a byte arriving on the wire, and the receiver under
// test calls PopRX/PushTX/Restart exactly as it would against real
// hardware.
type FakeEngine struct {
	mu       sync.Mutex
	sm       uint8
	program  pio.Program
	owner    *FakeClaimer
	rx       []uint32
	tx       []uint32
	clockDiv float64
	restarts int
}

// PushRX simulates the PIO program depositing one received word into
// the RX FIFO, to be picked up by the receiver's IRQ-driven PopRX call.
func (e *FakeEngine) PushRX(word uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rx = append(e.rx, word)
}

// PopRX implements pio.Engine.
func (e *FakeEngine) PopRX() (uint32, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.rx) == 0 {
		return 0, false
	}
	v := e.rx[0]
	e.rx = e.rx[1:]
	return v, true
}

// PushTX implements pio.Engine. The fake TX FIFO never fills, except
// when TXFIFOCapacity is set and reached, to exercise spec.md 4.C.4's
// dropped-command condition.
const txFIFOCapacityUnbounded = -1

// TXFIFOCapacity, when non-negative, bounds the fake TX FIFO so tests
// can provoke a full-FIFO drop.
var TXFIFOCapacity = txFIFOCapacityUnbounded

func (e *FakeEngine) PushTX(word uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if TXFIFOCapacity >= 0 && len(e.tx) >= TXFIFOCapacity {
		return false
	}
	e.tx = append(e.tx, word)
	return true
}

// SentTX returns every word pushed to the TX FIFO so far, in order.
func (e *FakeEngine) SentTX() []uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]uint32, len(e.tx))
	copy(out, e.tx)
	return out
}

// ConfigureClockDivider implements pio.Engine.
func (e *FakeEngine) ConfigureClockDivider(targetMicros float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clockDiv = targetMicros
}

// SMIndex implements pio.Engine.
func (e *FakeEngine) SMIndex() uint8 { return e.sm }

// Restarts reports how many times Restart has been called, so tests can
// assert a receiver restarted the PIO on an invalid-start-bit frame.
func (e *FakeEngine) Restarts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.restarts
}

// Restart implements pio.Engine.
func (e *FakeEngine) Restart() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.restarts++
	e.rx = nil
}

// Release implements pio.Engine.
func (e *FakeEngine) Release() {
	e.owner.release(e.sm)
}
