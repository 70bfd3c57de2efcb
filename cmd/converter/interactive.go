package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/boardconfig"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keylayout"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keymap"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/obslog"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
)

// InteractiveCmd drives the keymap engine straight from terminal
// keystrokes, bypassing the wire-level receiver and decoder stages
// entirely. A raw terminal only ever delivers a key-down byte, with no
// matching key-up signal, so there is no honest way to synthesize the
// Make/Break pairs those stages expect; instead every keystroke is
// resolved as an instantaneous tap (Make immediately followed by
// Break) against the compiled keymap's base layer.
type InteractiveCmd struct {
	Protocol string `enum:"at-ps2,xt,amiga,m0110" default:"at-ps2" help:"Wire protocol identity to report (affects only the bench Identity, not key handling)."`
	Keymap   string `help:"Path to a keymap YAML/TOML document; falls back to a minimal pass-through keymap if omitted or not found."`
}

// Run is called by Kong when the interactive command is executed.
func (c *InteractiveCmd) Run(logger *slog.Logger, rawLogger obslog.RawLogger) error {
	p, err := BuildPipeline(boardconfig.Protocol(c.Protocol), c.Keymap, logger)
	if err != nil {
		return err
	}
	reverse := buildReverseIndex(p.Keymap)

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return fmt.Errorf("converter: interactive mode requires a terminal on stdin")
	}
	state, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("converter: enter raw mode: %w", err)
	}
	defer term.Restore(fd, state)

	fmt.Fprint(os.Stderr, "\r\nconverter: interactive mode, press keys (Ctrl+C to exit)\r\n")

	in := bufio.NewReader(os.Stdin)
	reportsBefore := 0
	for {
		b, err := in.ReadByte()
		if err != nil {
			return nil
		}
		if b == 0x03 { // Ctrl+C
			return nil
		}

		usage, ok := asciiToUsage(b)
		if !ok {
			continue
		}
		pos, ok := reverse[usage]
		if !ok {
			fmt.Fprintf(os.Stderr, "\r\nconverter: no keymap position maps usage 0x%02x, skipping\r\n", usage)
			continue
		}

		p.KeymapEng.HandleKeyEvent(pos, scancode.Make)
		p.KeymapEng.HandleKeyEvent(pos, scancode.Break)
		p.Tick(10)

		if err := p.Flush(); err != nil {
			return fmt.Errorf("converter: flush report: %w", err)
		}
		reports := p.HID.Reports()
		for _, r := range reports[reportsBefore:] {
			fmt.Fprintf(os.Stderr, "\r\nreport: % x\r\n", r)
		}
		reportsBefore = len(reports)
	}
}

// buildReverseIndex scans a compiled keymap's base layer for every
// KindUsage entry, so interactive taps can find the physical position
// that resolves to a requested HID usage. Ties (two positions mapping
// the same usage) keep the first one found; that is a keymap-authoring
// choice, not something this bench tool needs to arbitrate.
func buildReverseIndex(km *keymap.Keymap) map[uint8]keylayout.Position {
	idx := make(map[uint8]keylayout.Position)
	if km == nil || km.LayerCount() == 0 {
		return idx
	}
	layer := km.Layers[0]
	for row := 0; row < keylayout.MaxRows; row++ {
		for col := 0; col < keylayout.MaxCols; col++ {
			entry := layer[row][col]
			if entry.Kind != keymap.KindUsage {
				continue
			}
			usage := uint8(entry.Arg)
			if _, exists := idx[usage]; !exists {
				idx[usage] = keylayout.Position{Row: uint8(row), Col: uint8(col)}
			}
		}
	}
	return idx
}

// asciiToUsage maps a subset of printable ASCII and common control
// characters to their HID usage codes. It does not attempt to
// synthesize the Shift modifier for uppercase letters or shifted
// punctuation: typed case is ignored and folded to the base usage,
// since a terminal byte stream gives no reliable signal about which
// physical shift key (if any) produced it.
func asciiToUsage(b byte) (uint8, bool) {
	switch {
	case b >= 'a' && b <= 'z':
		return usbhid.KeyA + (b - 'a'), true
	case b >= 'A' && b <= 'Z':
		return usbhid.KeyA + (b - 'A'), true
	case b == '1':
		return usbhid.Key1, true
	case b >= '2' && b <= '9':
		return usbhid.Key1 + (b - '1'), true
	case b == '0':
		return usbhid.Key0, true
	case b == ' ':
		return usbhid.KeySpace, true
	case b == '\r' || b == '\n':
		return usbhid.KeyEnter, true
	case b == 0x7F || b == 0x08:
		return usbhid.KeyBackspace, true
	case b == '\t':
		return usbhid.KeyTab, true
	case b == 0x1B:
		return usbhid.KeyEscape, true
	default:
		return 0, false
	}
}
