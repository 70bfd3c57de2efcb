// Package hidreport implements the HID report aggregator of spec.md
// 4.F: it assembles the 8-byte boot-protocol keyboard report (modifier
// byte + 6-key array), enforces at-most-one-report-in-flight against
// the host's poll interval, and decomposes the reverse SET_REPORT lock
// LED channel for internal/ledsync.
//
// Grounded on the teacher's device/keyboard.InputState/BuildReport and
// LEDState.UnmarshalBinary: this package keeps that shape (a plain
// struct plus a BuildReport method satisfying device.ReportBuilder) but
// replaces its 256-bit NKRO bitmap with the spec's 6-key boot array,
// since NKRO is an explicit Non-goal here.
package hidreport

import (
	"sync"

	"github.com/kbdconv/rp2040-keyboard-converter/device"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
)

const maxKeys = 6

// Report is the 8-byte boot-protocol keyboard report: modifier byte,
// one reserved byte, and up to 6 concurrently pressed non-modifier
// usages.
type Report struct {
	Modifiers uint8
	Keys      [maxKeys]uint8
}

// BuildReport implements device.ReportBuilder.
func (r Report) BuildReport() []byte {
	b := make([]byte, 8)
	b[0] = r.Modifiers
	copy(b[2:8], r.Keys[:])
	return b
}

var _ device.ReportBuilder = Report{}

// LockState is the decomposed lock-LED bitmap delivered by the host's
// SET_REPORT, per spec.md 6: bit0=Num, bit1=Caps, bit2=Scroll.
type LockState struct {
	NumLock    bool
	CapsLock   bool
	ScrollLock bool
}

// UnmarshalBitmap decodes a raw lock bitmap byte into ls.
func (ls *LockState) UnmarshalBitmap(b byte) {
	ls.NumLock = b&usbhid.LEDNumLock != 0
	ls.CapsLock = b&usbhid.LEDCapsLock != 0
	ls.ScrollLock = b&usbhid.LEDScrollLock != 0
}

// Aggregator implements keymap.HIDSink and keymap.ConsumerSink over a
// usbhid.Transport, per spec.md 4.F.
type Aggregator struct {
	mu        sync.Mutex
	transport usbhid.Transport
	diag      *diag.Counters

	modifiers uint8 // physical modifier state, set by Press/Release of modifier usages
	suppress  uint8 // bits forced off the emitted report by an active shift-override
	keys      [maxKeys]uint8

	lastSent     [8]byte
	everSent     bool
	consumer     uint16
	lastConsumer uint16
	lastConsSet  bool

	onLock func(LockState)
}

// New builds an Aggregator over transport, wiring the reverse
// SET_REPORT channel immediately. counters may be nil.
func New(transport usbhid.Transport, counters *diag.Counters) *Aggregator {
	a := &Aggregator{transport: transport, diag: counters}
	if transport != nil {
		transport.SetReportCallback(a.handleSetReport)
	}
	return a
}

// SetLockCallback registers the sink notified whenever the host changes
// lock LEDs, per spec.md 4.F's "hands them to G" - G is
// internal/ledsync.Synchroniser.
func (a *Aggregator) SetLockCallback(f func(LockState)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onLock = f
}

func (a *Aggregator) handleSetReport(lockBits byte) {
	var ls LockState
	ls.UnmarshalBitmap(lockBits)
	a.mu.Lock()
	cb := a.onLock
	a.mu.Unlock()
	if cb != nil {
		cb(ls)
	}
}

// Press implements keymap.HIDSink.
func (a *Aggregator) Press(usage uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if usbhid.IsModifierUsage(usage) {
		a.modifiers |= usbhid.ModifierBit(usage)
		return
	}
	for _, k := range a.keys {
		if k == usage {
			return
		}
	}
	for i, k := range a.keys {
		if k == 0 {
			a.keys[i] = usage
			return
		}
	}
	// Array full: drop newest-first per spec.md 4.F and count it.
	if a.diag != nil {
		a.diag.KeyArrayDropped.Add(1)
	}
}

// Release implements keymap.HIDSink.
func (a *Aggregator) Release(usage uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if usbhid.IsModifierUsage(usage) {
		a.modifiers &^= usbhid.ModifierBit(usage)
		return
	}
	for i, k := range a.keys {
		if k == usage {
			a.keys[i] = 0
			// No compaction: HID boot reports tolerate sparse slots.
			return
		}
	}
}

// ModifierMask implements keymap.HIDSink, returning the physical
// modifier state (before any shift-override suppression).
func (a *Aggregator) ModifierMask() uint8 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.modifiers
}

// SuppressModifier implements keymap.HIDSink: it forces bits out of the
// emitted report's modifier byte without altering the physical state
// tracked by ModifierMask, so the physical shift key's own Release is
// unaffected.
func (a *Aggregator) SuppressModifier(mask uint8, suppress bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if suppress {
		a.suppress |= mask
	} else {
		a.suppress &^= mask
	}
}

// PressConsumer implements keymap.ConsumerSink.
func (a *Aggregator) PressConsumer(code uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consumer = code
}

// ReleaseConsumer implements keymap.ConsumerSink.
func (a *Aggregator) ReleaseConsumer(code uint16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.consumer == code {
		a.consumer = 0
	}
}

// Snapshot returns the report that would be built right now.
func (a *Aggregator) Snapshot() Report {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Report{Modifiers: a.modifiers &^ a.suppress, Keys: a.keys}
}

// Flush sends the current report iff it differs from the last one sent
// and the transport is ready, per spec.md 4.F. It also flushes the
// consumer-control report on the same cadence.
func (a *Aggregator) Flush() error {
	if a.transport == nil || !a.transport.Ready() {
		return nil
	}

	a.mu.Lock()
	report := Report{Modifiers: a.modifiers &^ a.suppress, Keys: a.keys}
	consumer := a.consumer
	a.mu.Unlock()

	bytes := report.BuildReport()
	var out [8]byte
	copy(out[:], bytes)

	a.mu.Lock()
	changed := !a.everSent || out != a.lastSent
	a.mu.Unlock()

	if changed {
		if err := a.transport.Send(usbhid.ReportIDKeyboard, bytes); err != nil {
			return err
		}
		a.mu.Lock()
		a.lastSent = out
		a.everSent = true
		a.mu.Unlock()
	}

	return a.flushConsumer(consumer)
}

func (a *Aggregator) flushConsumer(code uint16) error {
	a.mu.Lock()
	needSend := !a.lastConsSet || a.lastConsumer != code
	a.mu.Unlock()
	if !needSend {
		return nil
	}
	b := []byte{byte(code), byte(code >> 8)}
	if err := a.transport.Send(usbhid.ReportIDConsumer, b); err != nil {
		return err
	}
	a.mu.Lock()
	a.lastConsumer = code
	a.lastConsSet = true
	a.mu.Unlock()
	return nil
}
