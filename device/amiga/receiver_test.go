package amiga_test

import (
	"testing"

	"github.com/kbdconv/rp2040-keyboard-converter/clock"
	"github.com/kbdconv/rp2040-keyboard-converter/device/amiga"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/harness"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLEDObserver struct {
	events []bool
}

func (f *fakeLEDObserver) AmigaLEDEvent(capsOn bool) { f.events = append(f.events, capsOn) }

func setupReceiver(t *testing.T, clk clock.Source, leds amiga.LEDObserver) (*amiga.Receiver, *harness.FakeEngine, *ring.Buffer) {
	t.Helper()
	buf := ring.New()
	r := amiga.New(buf, clk, &diag.Counters{}, leds, nil)
	claimer := harness.NewFakeClaimer(4)
	dispatcher := piodispatch.New()
	require.NoError(t, r.Setup(claimer, dispatcher))
	eng, ok := r.Engine().(*harness.FakeEngine)
	require.True(t, ok)
	return r, eng, buf
}

func feedRotated(r *amiga.Receiver, eng *harness.FakeEngine, plain byte) {
	eng.PushRX(uint32(scancode.Rotate(plain)))
	r.OnIRQ()
}

func TestNormalKeyIsDerotatedAndForwarded(t *testing.T) {
	r, eng, buf := setupReceiver(t, nil, nil)
	feedRotated(r, eng, 0x20) // press, key 0x20

	b, ok := buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0x20), b)
}

func TestPowerupStreamForcesMakeRegardlessOfBreakBit(t *testing.T) {
	r, eng, buf := setupReceiver(t, nil, nil)
	feedRotated(r, eng, 0xFD) // open power-up stream
	feedRotated(r, eng, 0xA0) // bit7 set (break-looking) but must emit Make

	b, ok := buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0x20), b, "break bit must be cleared during the power-up stream")

	feedRotated(r, eng, 0xFE) // close stream
	feedRotated(r, eng, 0xA0) // now a genuine break passes through untouched
	b, ok = buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0xA0), b)
}

func TestCapsLockByteRoutesToLEDObserverNotRing(t *testing.T) {
	leds := &fakeLEDObserver{}
	r, eng, buf := setupReceiver(t, nil, leds)

	feedRotated(r, eng, 0x62) // LED on
	_, ok := buf.Get()
	assert.False(t, ok)
	require.Len(t, leds.events, 1)
	assert.True(t, leds.events[0])

	feedRotated(r, eng, 0xE2) // LED off
	require.Len(t, leds.events, 2)
	assert.False(t, leds.events[1])
}

func TestOverflowAndLostSyncAreAbsorbedAsDiagnostics(t *testing.T) {
	r, eng, buf := setupReceiver(t, nil, nil)
	feedRotated(r, eng, 0xFA) // overflow
	feedRotated(r, eng, 0xF9) // lost sync
	_, ok := buf.Get()
	assert.False(t, ok)
}

func TestSecondResetWarningWithin250msArmsGracePeriod(t *testing.T) {
	clk := &harness.FakeClock{}
	r, eng, _ := setupReceiver(t, clk, nil)

	feedRotated(r, eng, 0x78)
	clk.Advance(100)
	feedRotated(r, eng, 0x78) // confirmed within window

	r.Task(clk.NowMS())

	clk.Advance(resetGraceMSForTest)
	r.Task(clk.NowMS())
}

// resetGraceMSForTest mirrors amiga's unexported resetGraceMS constant
// so the test can advance the fake clock past it without reaching into
// the package.
const resetGraceMSForTest = 10000

func TestResetAbortedClearsWarningState(t *testing.T) {
	clk := &harness.FakeClock{}
	r, eng, _ := setupReceiver(t, clk, nil)
	feedRotated(r, eng, 0x78)
	feedRotated(r, eng, 0xF8) // aborted
}
