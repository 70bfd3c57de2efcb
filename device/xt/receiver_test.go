package xt_test

import (
	"testing"

	"github.com/kbdconv/rp2040-keyboard-converter/device/xt"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/harness"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cloneFrame(data byte) uint32 {
	return 0x1 | uint32(data)<<1
}

func genuineFrame(data byte) uint32 {
	return cloneFrame(data) | (1 << 9)
}

func badStartFrame(data byte) uint32 {
	return uint32(data) << 1 // start bit left 0
}

func setupReceiver(t *testing.T) (*xt.Receiver, *harness.FakeEngine, *ring.Buffer) {
	t.Helper()
	buf := ring.New()
	r := xt.New(buf, nil, &diag.Counters{}, nil)
	claimer := harness.NewFakeClaimer(4)
	dispatcher := piodispatch.New()
	require.NoError(t, r.Setup(claimer, dispatcher))
	eng, ok := r.Engine().(*harness.FakeEngine)
	require.True(t, ok)
	return r, eng, buf
}

func feedFrame(r *xt.Receiver, eng *harness.FakeEngine, word uint32) {
	eng.PushRX(word)
	r.OnIRQ()
}

func TestFirstBATPassByteIsConsumedNotForwarded(t *testing.T) {
	r, eng, buf := setupReceiver(t)
	feedFrame(r, eng, cloneFrame(0xAA))

	_, ok := buf.Get()
	assert.False(t, ok, "BAT-pass byte must not reach the ring")

	feedFrame(r, eng, cloneFrame(0x1E))
	b, ok := buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0x1E), b)
}

func TestGenuineStartBitPairSetsVariantWithoutChangingDecode(t *testing.T) {
	r, eng, buf := setupReceiver(t)
	feedFrame(r, eng, genuineFrame(0xAA)) // consumed as BAT pass regardless of variant
	assert.Equal(t, xt.VariantGenuine, r.Variant())

	feedFrame(r, eng, genuineFrame(0x9C))
	b, ok := buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0x9C), b)
}

func TestCloneSingleStartBitDetectedAsClone(t *testing.T) {
	r, eng, _ := setupReceiver(t)
	feedFrame(r, eng, cloneFrame(0xAA))
	assert.Equal(t, xt.VariantClone, r.Variant())
}

func TestBadStartBitSoftResets(t *testing.T) {
	r, eng, _ := setupReceiver(t)
	feedFrame(r, eng, badStartFrame(0x1E))
	assert.Equal(t, 1, eng.Restarts())
}

// TestBATPassConsumedOnlyOnce covers the Uninit->Initialised transition:
// a second 0xAA later in the stream (e.g. Left Shift release in Set 1)
// must pass through untouched.
func TestBATPassConsumedOnlyOnce(t *testing.T) {
	r, eng, buf := setupReceiver(t)
	feedFrame(r, eng, cloneFrame(0xAA))
	_, ok := buf.Get()
	require.False(t, ok)

	feedFrame(r, eng, cloneFrame(0xAA)) // now Initialised, forwarded
	b, ok := buf.Get()
	require.True(t, ok)
	assert.Equal(t, byte(0xAA), b)
}
