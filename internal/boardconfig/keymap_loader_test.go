package boardconfig_test

import (
	"testing"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/boardconfig"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keymap"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActionGrammar(t *testing.T) {
	cases := []struct {
		in   string
		want keymap.Entry
	}{
		{"", keymap.Transparent},
		{"TRNS", keymap.Transparent},
		{"FN", keymap.Fn},
		{"KEY_A", keymap.Usage(usbhid.KeyA)},
		{"CONSUMER_VOLUME_UP", keymap.Consumer(usbhid.ConsumerVolumeUp)},
		{"MO(2)", keymap.Momentary(2)},
		{"TG(3)", keymap.Toggle(3)},
		{"TO(1)", keymap.SwitchTo(1)},
		{"OSL(4)", keymap.OneShot(4)},
	}
	for _, c := range cases {
		entry, err := boardconfig.ParseAction(c.in)
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, entry, c.in)
	}
}

func TestParseActionRejectsUnknown(t *testing.T) {
	_, err := boardconfig.ParseAction("KEY_NOT_A_KEY")
	assert.Error(t, err)
}

func TestCompileBuildsLayersAndOverlay(t *testing.T) {
	doc := &boardconfig.KeymapDoc{
		Layers: []map[string]string{
			{"2,3": "KEY_B"},
			{"4,5": "MO(2)", "2,3": "TRNS"},
			{"2,3": "KEY_X"},
		},
		ActionLayer: map[string]string{"0,0": "FN"},
		ShiftOverrides: map[int]map[string]string{
			0: {"1": "KEY_X|SUPPRESS"},
		},
	}

	km, err := doc.Compile()
	require.NoError(t, err)
	require.Equal(t, 3, km.LayerCount())

	assert.Equal(t, keymap.Usage(usbhid.KeyB), km.Layers[0][2][3])
	assert.Equal(t, keymap.Momentary(2), km.Layers[1][4][5])
	assert.Equal(t, keymap.Usage(usbhid.KeyX), km.Layers[2][2][3])

	require.NotNil(t, km.ActionLayer)
	assert.Equal(t, keymap.Fn, km.ActionLayer[0][0])

	require.Len(t, km.ShiftOverrides, 3)
	require.NotNil(t, km.ShiftOverrides[0])
	assert.Equal(t, uint8(usbhid.KeyX)|keymap.ShiftOverrideSuppressShift, km.ShiftOverrides[0][usbhid.Key1])
}

func TestCompileRejectsOutOfBoundsPosition(t *testing.T) {
	doc := &boardconfig.KeymapDoc{
		Layers: []map[string]string{{"99,0": "KEY_A"}},
	}
	_, err := doc.Compile()
	assert.Error(t, err)
}
