package keymap_test

import (
	"testing"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/keylayout"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keymap"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type hidCall struct {
	press bool
	usage uint8
}

type fakeHID struct {
	calls    []hidCall
	modMask  uint8
	suppress []struct {
		mask     uint8
		suppress bool
	}
}

func (f *fakeHID) Press(usage uint8)   { f.calls = append(f.calls, hidCall{true, usage}) }
func (f *fakeHID) Release(usage uint8) { f.calls = append(f.calls, hidCall{false, usage}) }
func (f *fakeHID) ModifierMask() uint8 { return f.modMask }
func (f *fakeHID) SuppressModifier(mask uint8, suppress bool) {
	f.suppress = append(f.suppress, struct {
		mask     uint8
		suppress bool
	}{mask, suppress})
	if suppress {
		f.modMask &^= mask
	} else {
		f.modMask |= mask
	}
}

type fakeConsumer struct {
	calls []hidCall
}

func (f *fakeConsumer) PressConsumer(code uint16)   { f.calls = append(f.calls, hidCall{true, uint8(code)}) }
func (f *fakeConsumer) ReleaseConsumer(code uint16) { f.calls = append(f.calls, hidCall{false, uint8(code)}) }

type fakePersist struct {
	base  uint8
	mask  uint32
	calls int
}

func (f *fakePersist) PersistLayerState(base uint8, toggleMask uint32) {
	f.base = base
	f.mask = toggleMask
	f.calls++
}

const (
	keyB = 0x05 // arbitrary HID usage standing in for KEY_B
	keyX = 0x1B // arbitrary HID usage standing in for KEY_X
)

// buildS5Keymap builds the three-layer keymap from spec.md 8's scenario
// S5: base layer (2,3)=KEY_B; layer 1 is transparent at (2,3) and holds
// Momentary(2) at (4,5); layer 2 overrides (2,3) with KEY_X.
func buildS5Keymap() *keymap.Keymap {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 3)}
	km.Layers[0][2][3] = keymap.Usage(keyB)
	km.Layers[1][4][5] = keymap.Momentary(2)
	km.Layers[2][2][3] = keymap.Usage(keyX)
	return km
}

// TestMomentaryLayerWithTransparency is scenario S5 from spec.md 8.
func TestMomentaryLayerWithTransparency(t *testing.T) {
	km := buildS5Keymap()
	hid := &fakeHID{}
	persist := &fakePersist{}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 1}, hid, nil, persist, nil)

	momentaryPos := keylayout.Position{Row: 4, Col: 5}
	targetPos := keylayout.Position{Row: 2, Col: 3}

	e.HandleKeyEvent(momentaryPos, scancode.Make)
	e.HandleKeyEvent(targetPos, scancode.Make)
	e.HandleKeyEvent(targetPos, scancode.Break)
	e.HandleKeyEvent(momentaryPos, scancode.Break)
	e.HandleKeyEvent(targetPos, scancode.Make)

	require.Len(t, hid.calls, 3)
	assert.Equal(t, hidCall{true, keyX}, hid.calls[0])
	assert.Equal(t, hidCall{false, keyX}, hid.calls[1])
	assert.Equal(t, hidCall{true, keyB}, hid.calls[2])

	// Momentary layer actions never notify persistence.
	assert.Zero(t, persist.calls)
}

// TestOverlappingMomentaryLayersReleasedOutOfOrder covers a base
// Momentary(1) and a layer-1 Momentary(2) released out of press order:
// releasing the outer momentary key first must not change what the
// inner momentary key's own release undoes, even though by then the
// layer stack no longer resolves that position the same way.
func TestOverlappingMomentaryLayersReleasedOutOfOrder(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 3)}
	km.Layers[0][0][0] = keymap.Momentary(1)
	km.Layers[1][1][1] = keymap.Momentary(2)
	km.Layers[2][1][1] = keymap.Usage(keyX)

	hid := &fakeHID{}
	e := keymap.NewEngine(km, keymap.LayerStack{}, hid, nil, nil, nil)

	posA := keylayout.Position{Row: 0, Col: 0}
	posB := keylayout.Position{Row: 1, Col: 1}

	e.HandleKeyEvent(posA, scancode.Make)  // momentaryMask |= bit1
	e.HandleKeyEvent(posB, scancode.Make)  // resolves via layer1 -> Momentary(2), momentaryMask |= bit2
	e.HandleKeyEvent(posA, scancode.Break) // clears bit1; layer1 no longer active
	e.HandleKeyEvent(posB, scancode.Break) // must still clear bit2, not resolve layer2's Usage(X)

	// Layer 2 must now be inactive: a fresh tap of posB must not resolve
	// via layer2's Usage(X); the base layer has nothing at posB, so no
	// press should fire at all.
	e.HandleKeyEvent(posB, scancode.Make)
	assert.Len(t, hid.calls, 0, "layer 2 must be inactive once its momentary key is released")
}

func TestToggleFlipsMaskAndPersists(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 2)}
	km.Layers[0][0][0] = keymap.Toggle(1)
	km.Layers[1][1][1] = keymap.Usage(keyX)

	hid := &fakeHID{}
	persist := &fakePersist{}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 0}, hid, nil, persist, nil)

	togglePos := keylayout.Position{Row: 0, Col: 0}
	e.HandleKeyEvent(togglePos, scancode.Make)
	e.HandleKeyEvent(togglePos, scancode.Break)

	assert.Equal(t, uint32(1<<1), e.Stack().ToggleMask)
	assert.Equal(t, 1, persist.calls)
	assert.Equal(t, uint32(1<<1), persist.mask)

	// Toggle survives the key's own release: layer 1 stays active.
	e.HandleKeyEvent(keylayout.Position{Row: 1, Col: 1}, scancode.Make)
	require.Len(t, hid.calls, 1)
	assert.Equal(t, hidCall{true, keyX}, hid.calls[0])
}

func TestSwitchToReplacesBaseAndClearsMasks(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 3)}
	km.Layers[0][0][0] = keymap.SwitchTo(2)
	km.Layers[2][1][1] = keymap.Usage(keyX)

	hid := &fakeHID{}
	persist := &fakePersist{}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 0, MomentaryMask: 1 << 1}, hid, nil, persist, nil)

	e.HandleKeyEvent(keylayout.Position{Row: 0, Col: 0}, scancode.Make)

	assert.Equal(t, uint8(2), e.Stack().Base)
	assert.Zero(t, e.Stack().MomentaryMask)
	assert.Equal(t, 1, persist.calls)
}

func TestOneShotAppliesToNextKeyThenClears(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 2)}
	km.Layers[0][0][0] = keymap.OneShot(1)
	km.Layers[0][1][1] = keymap.Usage(keyB)
	km.Layers[1][1][1] = keymap.Usage(keyX)

	hid := &fakeHID{}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 0}, hid, nil, nil, nil)

	oneShotPos := keylayout.Position{Row: 0, Col: 0}
	targetPos := keylayout.Position{Row: 1, Col: 1}

	e.HandleKeyEvent(oneShotPos, scancode.Make)
	e.HandleKeyEvent(oneShotPos, scancode.Break)
	e.HandleKeyEvent(targetPos, scancode.Make)
	e.HandleKeyEvent(targetPos, scancode.Break)
	e.HandleKeyEvent(targetPos, scancode.Make)

	require.Len(t, hid.calls, 3)
	assert.Equal(t, hidCall{true, keyX}, hid.calls[0], "one-shot layer applies to the next key")
	assert.Equal(t, hidCall{false, keyX}, hid.calls[1])
	assert.Equal(t, hidCall{true, keyB}, hid.calls[2], "one-shot consumed, falls back to base")
}

func TestShiftOverrideRemapsAndSuppressesShift(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 1)}
	km.Layers[0][0][0] = keymap.Usage(usbhid.Key1)
	overrides := &[256]uint8{}
	overrides[usbhid.Key1] = keyX | keymap.ShiftOverrideSuppressShift
	km.ShiftOverrides = []*[256]uint8{overrides}

	hid := &fakeHID{modMask: usbhid.ModLeftShift}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 0}, hid, nil, nil, nil)

	pos := keylayout.Position{Row: 0, Col: 0}
	e.HandleKeyEvent(pos, scancode.Make)
	e.HandleKeyEvent(pos, scancode.Break)

	require.Len(t, hid.calls, 2)
	assert.Equal(t, hidCall{true, keyX}, hid.calls[0])
	assert.Equal(t, hidCall{false, keyX}, hid.calls[1])
	require.Len(t, hid.suppress, 2)
	assert.True(t, hid.suppress[0].suppress)
	assert.False(t, hid.suppress[1].suppress)
}

func TestStrayBreakWithoutTrackedPressIsIgnored(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 1)}
	hid := &fakeHID{}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 0}, hid, nil, nil, nil)

	assert.NotPanics(t, func() {
		e.HandleKeyEvent(keylayout.Position{Row: 5, Col: 5}, scancode.Break)
	})
	assert.Empty(t, hid.calls)
}

func TestConsumerKeyRoutesToConsumerSink(t *testing.T) {
	km := &keymap.Keymap{Layers: make([]keymap.Layer, 1)}
	km.Layers[0][0][0] = keymap.Consumer(usbhid.ConsumerVolumeUp)

	hid := &fakeHID{}
	consumer := &fakeConsumer{}
	e := keymap.NewEngine(km, keymap.LayerStack{Base: 0}, hid, consumer, nil, nil)

	pos := keylayout.Position{Row: 0, Col: 0}
	e.HandleKeyEvent(pos, scancode.Make)
	e.HandleKeyEvent(pos, scancode.Break)

	require.Len(t, consumer.calls, 2)
	assert.True(t, consumer.calls[0].press)
	assert.False(t, consumer.calls[1].press)
	assert.Empty(t, hid.calls)
}
