package usbhid

// Transport is the external USB HID device stack this firmware assumes
// but does not implement, per spec.md 6: "USB HID device (external
// stack)". internal/harness.FakeHID satisfies it for tests and for the
// cmd/converter bench harness; a real board would back it with the
// vendor USB stack's boot-keyboard endpoint.
type Transport interface {
	// Ready reports whether the USB stack can accept a new interrupt-IN
	// transfer on this interface right now.
	Ready() bool
	// Send transmits one report on the given report ID.
	Send(reportID uint8, b []byte) error
	// SetReportCallback registers the callback invoked whenever the host
	// updates the keyboard's lock LEDs via SET_REPORT. The callback
	// receives the raw lock bitmap: bit0=Num, bit1=Caps, bit2=Scroll.
	SetReportCallback(f func(lockBits byte))
}

// ReportID values for the fixed descriptor set of spec.md 6: a
// boot-protocol keyboard interface plus a consumer-control interface.
const (
	ReportIDKeyboard = 1
	ReportIDConsumer = 2
)
