package m0110_test

import (
	"testing"

	"github.com/kbdconv/rp2040-keyboard-converter/device/m0110"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/harness"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReceiver(t *testing.T) (*m0110.Receiver, *harness.FakeEngine, *ring.Buffer, *harness.FakeClock) {
	t.Helper()
	buf := ring.New()
	clk := &harness.FakeClock{}
	r := m0110.New(buf, clk, &diag.Counters{}, nil)
	claimer := harness.NewFakeClaimer(4)
	dispatcher := piodispatch.New()
	require.NoError(t, r.Setup(claimer, dispatcher))
	eng, ok := r.Engine().(*harness.FakeEngine)
	require.True(t, ok)
	return r, eng, buf, clk
}

// TestStartupDelaySendsModelOnlyAfter1000ms is scenario S4's opening:
// no Model byte goes out before the startup delay elapses.
func TestStartupDelaySendsModelOnlyAfter1000ms(t *testing.T) {
	r, eng, _, clk := setupReceiver(t)

	clk.Advance(999)
	r.Task(clk.NowMS())
	assert.Empty(t, eng.SentTX())

	clk.Advance(1)
	r.Task(clk.NowMS())
	sent := eng.SentTX()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x16), sent[0])
}

// TestModelResponseTransitionsToInitialisedAndIssuesInquiry is scenario
// S4's model-detect step.
func TestModelResponseTransitionsToInitialisedAndIssuesInquiry(t *testing.T) {
	r, eng, _, clk := setupReceiver(t)
	clk.Advance(1000)
	r.Task(clk.NowMS())
	eng.SentTX()

	eng.PushRX(0x05) // M0110A
	r.OnIRQ()

	assert.Equal(t, m0110.ModelM0110A, r.Model())
	sent := eng.SentTX()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x10), sent[0])
}

func TestNullByteReissuesInquiryWithoutTouchingRing(t *testing.T) {
	r, eng, buf, clk := setupReceiver(t)
	clk.Advance(1000)
	r.Task(clk.NowMS())
	eng.PushRX(0x05)
	r.OnIRQ()
	eng.SentTX()

	eng.PushRX(0x7B) // NULL, no key
	r.OnIRQ()

	_, ok := buf.Get()
	assert.False(t, ok)
	sent := eng.SentTX()
	require.Len(t, sent, 1)
	assert.Equal(t, uint32(0x10), sent[0])
}

func TestKeyByteForwardsToRingAndReissuesInquiry(t *testing.T) {
	r, eng, buf, clk := setupReceiver(t)
	clk.Advance(1000)
	r.Task(clk.NowMS())
	eng.PushRX(0x05)
	r.OnIRQ()

	eng.PushRX(0x2A)
	r.OnIRQ()

	b, ok := buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0x2A), b)
}

func TestModelRetriesFiveTimesThenRestartsDetection(t *testing.T) {
	r, eng, _, clk := setupReceiver(t)
	clk.Advance(1000)
	r.Task(clk.NowMS()) // sends Model #1

	for i := 0; i < 4; i++ {
		clk.Advance(500)
		r.Task(clk.NowMS()) // Model #2..#5
	}
	sent := eng.SentTX()
	assert.Len(t, sent, 5)

	clk.Advance(500) // 5th retry now exhausted, restarts detection sequence
	r.Task(clk.NowMS())
	clk.Advance(1000)
	r.Task(clk.NowMS())
	sent = eng.SentTX()
	assert.Equal(t, uint32(0x16), sent[len(sent)-1])
}

func TestResponseTimeoutWhileInitialisedResetsRingAndRestarts(t *testing.T) {
	r, eng, buf, clk := setupReceiver(t)
	clk.Advance(1000)
	r.Task(clk.NowMS())
	eng.PushRX(0x05)
	r.OnIRQ()
	buf.Put(0xAA) // simulate a stray queued byte to verify Reset clears it

	clk.Advance(500)
	r.Task(clk.NowMS())

	_, ok := buf.Get()
	assert.False(t, ok, "ring must be reset on response timeout")

	clk.Advance(1000)
	r.Task(clk.NowMS())
	sent := eng.SentTX()
	assert.Equal(t, uint32(0x16), sent[len(sent)-1])
}
