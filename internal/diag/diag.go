// Package diag holds the process-lifetime diagnostic counters
// referenced throughout spec.md 4 and 7 ("surfaced via diagnostics",
// "surface as a diagnostic"): ring-buffer drops, per-protocol frame
// errors, decoder desyncs, and protocol stall retries. Production
// firmware has no command-mode menu to display these (out of scope per
// spec.md 1); here they back the bench harness's summary printout and
// are asserted on directly by tests.
package diag

import "sync/atomic"

// Counters is a flat set of monotonically increasing counters. The zero
// value is ready to use.
type Counters struct {
	RingDropped     atomic.Uint32
	FrameErrors     atomic.Uint32
	ProtocolStalls  atomic.Uint32
	DecoderDesyncs  atomic.Uint32
	AmigaOverflows  atomic.Uint32
	DroppedCommands atomic.Uint32
	KeyArrayDropped atomic.Uint32
}

// Snapshot is a point-in-time copy of Counters suitable for printing or
// comparing in tests.
type Snapshot struct {
	RingDropped     uint32
	FrameErrors     uint32
	ProtocolStalls  uint32
	DecoderDesyncs  uint32
	AmigaOverflows  uint32
	DroppedCommands uint32
	KeyArrayDropped uint32
}

// Snapshot reads every counter without resetting them.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		RingDropped:     c.RingDropped.Load(),
		FrameErrors:     c.FrameErrors.Load(),
		ProtocolStalls:  c.ProtocolStalls.Load(),
		DecoderDesyncs:  c.DecoderDesyncs.Load(),
		AmigaOverflows:  c.AmigaOverflows.Load(),
		DroppedCommands: c.DroppedCommands.Load(),
		KeyArrayDropped: c.KeyArrayDropped.Load(),
	}
}
