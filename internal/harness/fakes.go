// Package harness provides in-memory fakes for the external interfaces
// of spec.md 6 (PIO engine, USB HID device, persistent KV store,
// monotonic clock), grounded on the teacher's _testing/internal/testing
// mock helpers. Every core-component test in this repo, and the
// cmd/converter bench harness's replay mode, is built on these fakes so
// the protocol state machines and HID pipeline can be exercised without
// real hardware.
package harness

import "sync"

// MemStore is an in-memory kvstore.Store, safe for concurrent use.
type MemStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

// Read implements kvstore.Store.
func (m *MemStore) Read(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

// Write implements kvstore.Store.
func (m *MemStore) Write(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

// Erase implements kvstore.Store.
func (m *MemStore) Erase(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// FakeClock is a clock.Source with a directly settable value, used to
// deterministically exercise the timeout-supervision logic in each
// protocol receiver's Task method.
type FakeClock struct {
	ms uint32
}

// NowMS implements clock.Source.
func (c *FakeClock) NowMS() uint32 { return c.ms }

// Advance moves the fake clock forward by deltaMS milliseconds.
func (c *FakeClock) Advance(deltaMS uint32) { c.ms += deltaMS }

// Set pins the fake clock to an absolute value, useful for exercising
// wraparound near the uint32 boundary.
func (c *FakeClock) Set(ms uint32) { c.ms = ms }

// FakeHID is a USB HID sink that records every sent report instead of
// transmitting it, standing in for spec.md 6's hid_ready()/hid_send()
// hooks.
type FakeHID struct {
	mu      sync.Mutex
	ready   bool
	reports [][]byte
	byID    map[uint8][][]byte
	onSet   func(lockBits byte)
}

// NewFakeHID returns a FakeHID that reports ready until SetReady(false)
// is called.
func NewFakeHID() *FakeHID {
	return &FakeHID{ready: true, byID: make(map[uint8][][]byte)}
}

// Ready implements the hid_ready() hook.
func (h *FakeHID) Ready() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready
}

// SetReady controls what Ready() returns, used to test the aggregator's
// "at most one report in flight" behaviour against a stalled host.
func (h *FakeHID) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// Send implements the hid_send() hook by recording the report.
func (h *FakeHID) Send(reportID uint8, b []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	cp := make([]byte, len(b))
	copy(cp, b)
	h.reports = append(h.reports, cp)
	h.byID[reportID] = append(h.byID[reportID], cp)
	return nil
}

// Reports returns every report recorded so far, across all report IDs,
// in send order.
func (h *FakeHID) Reports() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.reports))
	copy(out, h.reports)
	return out
}

// ReportsFor returns every report recorded so far for a single report
// ID, in send order.
func (h *FakeHID) ReportsFor(reportID uint8) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.byID[reportID]))
	copy(out, h.byID[reportID])
	return out
}

// SetReportCallback registers the on_set_report hook invoked when the
// simulated host changes lock LEDs.
func (h *FakeHID) SetReportCallback(f func(lockBits byte)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onSet = f
}

// DeliverSetReport simulates the host sending a SET_REPORT with the
// given lock bitmap (bit0=Num, bit1=Caps, bit2=Scroll).
func (h *FakeHID) DeliverSetReport(lockBits byte) {
	h.mu.Lock()
	cb := h.onSet
	h.mu.Unlock()
	if cb != nil {
		cb(lockBits)
	}
}
