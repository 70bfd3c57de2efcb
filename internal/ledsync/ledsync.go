// Package ledsync implements the protocol LED synchroniser of
// spec.md 4.G: it maintains device_led_state == host_lock_state across
// four very different wire-side LED models (AT/PS2 command+ack, XT and
// M0110 no-op, Amiga's unilateral hardware-reported caps state), using
// only non-blocking, polled timers.
package ledsync

import (
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/clock"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/hidreport"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
)

// Protocol selects which wire-side LED behaviour a Synchroniser drives.
type Protocol int

const (
	ProtocolATPS2 Protocol = iota
	ProtocolXT
	ProtocolAmiga
	ProtocolM0110
)

// amigaCapsPulseMS is the synthetic key-press duration for the Amiga
// caps-lock quirk, per spec.md 4.C.3: "125 ms chosen for macOS
// compatibility".
const amigaCapsPulseMS = 125

// Commander is the AT/PS2 receiver's lock-LED command channel: issuing
// the 0xED-then-bitmap sequence is the receiver's job (it owns the wire
// timing), but the synchroniser decides when a command is needed and is
// told when it completes via AckLockCommand.
type Commander interface {
	SendLockCommand(bits byte)
}

// KeyPulser is the subset of keymap.HIDSink the Amiga caps-lock quirk
// needs to synthesise a press+125ms+release HID event.
type KeyPulser interface {
	Press(usage uint8)
	Release(usage uint8)
}

// Synchroniser maintains device_led_state == host_lock_state for one
// protocol instance.
type Synchroniser struct {
	protocol  Protocol
	commander Commander
	pulser    KeyPulser
	clock     clock.Source
	log       *slog.Logger

	host   hidreport.LockState
	device hidreport.LockState

	pulseArmed    bool
	pulseDeadline uint32
}

// New builds a Synchroniser. commander and pulser may be nil for
// protocols that do not need them (XT, M0110 need neither; Amiga needs
// only pulser; AT/PS2 needs only commander).
func New(protocol Protocol, commander Commander, pulser KeyPulser, clk clock.Source, log *slog.Logger) *Synchroniser {
	if log == nil {
		log = slog.Default()
	}
	return &Synchroniser{protocol: protocol, commander: commander, pulser: pulser, clock: clk, log: log}
}

func bitmap(ls hidreport.LockState) byte {
	var b byte
	if ls.NumLock {
		b |= usbhid.LEDNumLock
	}
	if ls.CapsLock {
		b |= usbhid.LEDCapsLock
	}
	if ls.ScrollLock {
		b |= usbhid.LEDScrollLock
	}
	return b
}

// atps2Bitmap builds the AT/PS2 0xED command's argument byte, per
// spec.md line 111: bit0=Scroll, bit1=Num, bit2=Caps - a different
// layout from the host SET_REPORT bitmap bitmap() builds, so it must
// never be substituted for bitmap() when talking to an AT/PS2 keyboard.
func atps2Bitmap(ls hidreport.LockState) byte {
	var b byte
	if ls.ScrollLock {
		b |= 1 << 0
	}
	if ls.NumLock {
		b |= 1 << 1
	}
	if ls.CapsLock {
		b |= 1 << 2
	}
	return b
}

func diff(a, b hidreport.LockState) bool {
	return a != b
}

// OnHostLockChange is wired as the HID aggregator's lock callback; it
// fires whenever the host updates keyboard LEDs via SET_REPORT.
func (s *Synchroniser) OnHostLockChange(ls hidreport.LockState) {
	s.host = ls
	s.reconcile()
}

// AckLockCommand is called by the AT/PS2 receiver once its 0xED+bitmap
// handshake completes, updating device_shadow per spec.md 4.G: "update
// device_shadow on the second ACK." bits echoes back whatever byte
// SendLockCommand sent, so it must be decoded with the same
// scroll/num/caps wire layout atps2Bitmap used to build it, not the
// host SET_REPORT layout bitmap()/LockState.UnmarshalBitmap expect.
func (s *Synchroniser) AckLockCommand(bits byte) {
	s.device = hidreport.LockState{
		ScrollLock: bits&(1<<0) != 0,
		NumLock:    bits&(1<<1) != 0,
		CapsLock:   bits&(1<<2) != 0,
	}
}

// AmigaLEDEvent is called by the Amiga receiver when the keyboard's
// 0x62 (LED on) or 0xE2 (LED off) byte arrives, per spec.md 4.C.3.
func (s *Synchroniser) AmigaLEDEvent(capsOn bool) {
	s.device.CapsLock = capsOn
	if s.host.CapsLock == s.device.CapsLock {
		// Scenario S3: reboot desync where both sides already agree -
		// one byte consumed, zero HID reports.
		return
	}
	if s.pulser == nil || s.clock == nil {
		return
	}
	s.pulser.Press(usbhid.KeyCapsLock)
	s.pulseArmed = true
	s.pulseDeadline = s.clock.NowMS() + amigaCapsPulseMS
}

// Poll is called from the foreground LED-sync task every iteration to
// service the non-blocking Amiga pulse timer; it never sleeps.
func (s *Synchroniser) Poll(now uint32) {
	if !s.pulseArmed {
		return
	}
	if clock.Elapsed(now, s.pulseDeadline) >= 1<<31 {
		// deadline not yet reached (wrap-tolerant comparison)
		return
	}
	s.pulser.Release(usbhid.KeyCapsLock)
	s.pulseArmed = false
	s.device.CapsLock = s.host.CapsLock
}

func (s *Synchroniser) reconcile() {
	switch s.protocol {
	case ProtocolATPS2:
		if diff(s.host, s.device) && s.commander != nil {
			s.commander.SendLockCommand(atps2Bitmap(s.host))
		}
	case ProtocolXT, ProtocolM0110:
		// No wire-side LED control; device_shadow tracks host so a
		// later protocol switch (if ever) starts from an honest state.
		s.device = s.host
	case ProtocolAmiga:
		// Amiga LED state is driven the other way, by AmigaLEDEvent;
		// a host-initiated change has nothing to transmit to the
		// keyboard (it has no LED input), so only the shadow is noted.
	}
}
