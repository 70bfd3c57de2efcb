// Package coreerr defines the error taxonomy of spec.md 7: FrameError,
// ProtocolStall, ResourceExhaustion, ConfigMismatch, DecoderDesync and
// FatalInit. Each category wraps a sentinel so callers can classify an
// error with errors.Is while still carrying a human-readable detail,
// mirroring the teacher's apierror constructor-per-category shape.
package coreerr

import (
	"errors"
	"fmt"
)

// Sentinels identifying each category from spec.md 7. Wrap these with
// fmt.Errorf("...: %w", ErrX) or use the constructors below.
var (
	ErrFrame              = errors.New("frame error")
	ErrProtocolStall      = errors.New("protocol stall")
	ErrResourceExhaustion = errors.New("resource exhaustion")
	ErrConfigMismatch     = errors.New("config mismatch")
	ErrDecoderDesync      = errors.New("decoder desync")
	ErrFatalInit          = errors.New("fatal init")
)

// Frame reports a start/stop/parity validation failure, recovered
// locally by the receiver (Resend, PIO restart, or timeout per
// protocol).
func Frame(detail string) error {
	return fmt.Errorf("%w: %s", ErrFrame, detail)
}

// ProtocolStall reports a timeout during init or command/response
// exchange, recovered by bounded retry before returning to Uninit.
func ProtocolStall(detail string) error {
	return fmt.Errorf("%w: %s", ErrProtocolStall, detail)
}

// ResourceExhaustion reports no PIO engine, no state machine, failed
// IRQ registration, or (for the ring buffer) a producer-side overflow.
func ResourceExhaustion(detail string) error {
	return fmt.Errorf("%w: %s", ErrResourceExhaustion, detail)
}

// ConfigMismatch reports a persisted layer-state hash check failure;
// the caller factory-resets only the affected portion of config.
func ConfigMismatch(detail string) error {
	return fmt.Errorf("%w: %s", ErrConfigMismatch, detail)
}

// DecoderDesync reports an unexpected byte mid multi-byte sequence; the
// caller resets decoder state and discards the partial sequence.
func DecoderDesync(detail string) error {
	return fmt.Errorf("%w: %s", ErrDecoderDesync, detail)
}

// FatalInit reports that a subsystem could not claim the resources it
// needs at setup; the system continues without that subsystem.
func FatalInit(detail string) error {
	return fmt.Errorf("%w: %s", ErrFatalInit, detail)
}
