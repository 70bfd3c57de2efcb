// Package clock models the external monotonic time source of spec.md 6:
// a free-running millisecond counter that can wrap, against which every
// protocol timeout in this firmware is a deadline comparison rather than
// a blocking sleep (spec.md 5).
package clock

import "time"

// Source provides the current value of a free-running millisecond
// counter. Implementations may wrap at uint32 overflow; callers must
// compare deadlines with Elapsed, never with direct subtraction-and-sign
// checks, so wraparound is handled uniformly.
type Source interface {
	NowMS() uint32
}

// Elapsed returns how many milliseconds have passed from 'then' to
// 'now', correctly handling one wrap of the uint32 counter, per spec.md
// 6: "all deadline computations use (now - then) < (UINT32_MAX/2) to
// tolerate wrap."
func Elapsed(now, then uint32) uint32 {
	return now - then
}

// Before reports whether the duration from then to now has not yet
// reached d, tolerating a single wrap of the millisecond counter.
func Before(now, then uint32, d time.Duration) bool {
	return Elapsed(now, then) < uint32(d.Milliseconds())
}

// Since is the real-time implementation of Source used by production
// firmware and by the bench harness's non-replay modes: a monotonic
// counter anchored to process start, matching the MCU's free-running
// timer semantics closely enough for host-side testing.
type Since struct {
	start time.Time
}

// NewSince returns a Source anchored to the current instant.
func NewSince() *Since {
	return &Since{start: time.Now()}
}

// NowMS implements Source.
func (s *Since) NowMS() uint32 {
	return uint32(time.Since(s.start).Milliseconds())
}
