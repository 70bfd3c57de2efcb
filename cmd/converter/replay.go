package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/boardconfig"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/obslog"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
)

// ReplayCmd replays a captured wire trace through one protocol's full
// receiver + decoder + keymap + HID pipeline, printing every resolved
// HID report and a final diagnostics summary.
type ReplayCmd struct {
	Protocol string `enum:"at-ps2,xt,amiga,m0110" default:"at-ps2" help:"Wire protocol to emulate."`
	Keymap   string `help:"Path to a keymap YAML/TOML document; falls back to a minimal pass-through keymap if omitted or not found."`
	Trace    string `arg:"" optional:"" help:"Path to a captured wire-trace file, one hex byte per line ('#' starts a comment); reads stdin if omitted."`
	TickMS   uint32 `default:"10" help:"Milliseconds the simulated clock advances between trace bytes, driving each receiver's Task housekeeping."`
}

// Run is called by Kong when the replay command is executed.
func (c *ReplayCmd) Run(logger *slog.Logger, rawLogger obslog.RawLogger) error {
	protocol := boardconfig.Protocol(c.Protocol)

	p, err := BuildPipeline(protocol, c.Keymap, logger)
	if err != nil {
		return err
	}

	var src io.Reader = os.Stdin
	if c.Trace != "" {
		f, err := os.Open(c.Trace)
		if err != nil {
			return fmt.Errorf("converter: open trace: %w", err)
		}
		defer f.Close()
		src = f
	}

	trace, err := parseTrace(src)
	if err != nil {
		return fmt.Errorf("converter: parse trace: %w", err)
	}

	logger.Info("converter: replaying trace", "protocol", c.Protocol, "bytes", len(trace))

	reportsBefore := 0
	for _, b := range trace {
		rawLogger.Log(true, c.Protocol, b)
		p.PumpRXWord(encodeFrame(protocol, b))
		p.Tick(c.TickMS)

		events := p.DrainRing()
		for _, ev := range events {
			fmt.Printf("event: %-5s code=0x%02x\n", ev.Action, ev.Code)
		}

		if err := p.Flush(); err != nil {
			return fmt.Errorf("converter: flush report: %w", err)
		}
		for _, tx := range p.pendingTX() {
			rawLogger.Log(false, c.Protocol, tx)
		}

		reports := p.HID.Reports()
		for _, r := range reports[reportsBefore:] {
			fmt.Printf("report: % x\n", r)
		}
		reportsBefore = len(reports)
	}

	snap := p.Counters.Snapshot()
	fmt.Printf("\nvariant: %s\n", p.Variant())
	fmt.Printf("diagnostics: %+v\n", snap)
	return nil
}

// parseTrace reads one hex byte per non-blank, non-comment line.
// Accepts "0xAA", "AA", or "aa" forms, optionally with a trailing
// "# note" comment.
func parseTrace(r io.Reader) ([]byte, error) {
	var out []byte
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}
		line = strings.TrimPrefix(strings.TrimPrefix(line, "0x"), "0X")
		v, err := strconv.ParseUint(line, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid trace byte %q: %w", line, err)
		}
		out = append(out, byte(v))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// encodeFrame builds the raw ISR-visible word each protocol's
// receiver expects, from the logical byte a real keyboard would have
// sent on the wire.
func encodeFrame(protocol boardconfig.Protocol, b byte) uint32 {
	switch protocol {
	case boardconfig.ProtocolATPS2:
		parity := uint32(0)
		if !oddParity(b) {
			parity = 1
		}
		return uint32(b)<<1 | parity<<9 | 1<<10 // start=0, stop=1
	case boardconfig.ProtocolXT:
		return 1 | uint32(b)<<1 // single start bit (clone-style), no genuine flag
	case boardconfig.ProtocolAmiga:
		return uint32(scancode.Rotate(b))
	case boardconfig.ProtocolM0110:
		return uint32(b)
	default:
		return uint32(b)
	}
}

func oddParity(b byte) bool {
	p := false
	for b != 0 {
		p = !p
		b &= b - 1
	}
	return p
}
