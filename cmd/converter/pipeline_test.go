package main

import (
	"testing"

	"github.com/kbdconv/rp2040-keyboard-converter/device/atps2"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/harness"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/hidreport"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keylayout"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keymap"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestATPS2FullPipelinePressAndReleaseProducesHIDReports exercises
// scenario S1 end to end: AT/PS2 handshake, scancode Set 2 decode, a
// one-layer keymap resolving 'A', and the HID aggregator's report
// diffing, entirely through the converter's own wiring helpers.
func TestATPS2FullPipelinePressAndReleaseProducesHIDReports(t *testing.T) {
	buf := ring.New()
	counters := &diag.Counters{}
	r := atps2.New(buf, nil, counters, atps2.Codeset2, nil)
	claimer := harness.NewFakeClaimer(4)
	dispatcher := piodispatch.New()
	require.NoError(t, r.Setup(claimer, dispatcher))
	eng, ok := r.Engine().(*harness.FakeEngine)
	require.True(t, ok)

	send := func(b byte) {
		eng.PushRX(encodeFrame("at-ps2", b))
		r.OnIRQ()
	}

	send(0xAA)       // BAT pass
	send(0xAB)       // ID high
	send(0x83)       // ID low -> Codeset2
	assert.Equal(t, atps2.Codeset2, r.Codeset())

	decoder := scancode.NewSet2Decoder()
	layout := genericLayoutTable()
	pos := layout.Lookup(0x1C) // scan set 2 code for 'A'

	var km keymap.Keymap
	km.Layers = []keymap.Layer{{}}
	km.Layers[0][pos.Row][pos.Col] = keymap.Usage(usbhid.KeyA)

	hid := harness.NewFakeHID()
	agg := hidreport.New(hid, counters)
	engine := keymap.NewEngine(&km, keymap.LayerStack{}, agg, agg, nil, nil)

	drain := func() {
		for {
			b, ok := buf.Get()
			if !ok {
				return
			}
			events, err := decoder.Feed(b)
			require.NoError(t, err)
			for _, ev := range events {
				engine.HandleKeyEvent(layout.Lookup(ev.Code), ev.Action)
			}
		}
	}

	send(0x1C) // make 'A'
	drain()
	require.NoError(t, agg.Flush())

	send(0xF0) // break prefix
	send(0x1C)
	drain()
	require.NoError(t, agg.Flush())

	reports := hid.ReportsFor(usbhid.ReportIDKeyboard)
	require.Len(t, reports, 2)
	assert.Equal(t, byte(usbhid.KeyA), reports[0][2])
	for _, b := range reports[1][2:8] {
		assert.Zero(t, b)
	}
}

func TestGenericLayoutTableIsCollisionFreeAndInBounds(t *testing.T) {
	tbl := genericLayoutTable()
	seen := make(map[keylayout.Position]uint8)
	for code := 0; code < 256; code++ {
		pos := tbl.Lookup(uint8(code))
		assert.Less(t, int(pos.Row), keylayout.MaxRows)
		assert.Less(t, int(pos.Col), keylayout.MaxCols)
		if other, dup := seen[pos]; dup {
			t.Fatalf("code 0x%02x collides with 0x%02x at %+v", code, other, pos)
		}
		seen[pos] = uint8(code)
	}
}
