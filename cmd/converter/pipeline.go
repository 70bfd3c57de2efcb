// Package main implements cmd/converter, the bench/trace harness of
// SPEC_FULL.md 2.2: it drives the core receiver + decoder + keymap +
// HID aggregator pipeline for any one of the four wire protocols from
// a captured byte trace or an interactive session, entirely on the
// host, using internal/harness's in-memory fakes in place of real PIO
// hardware and a real USB stack.
package main

import (
	"fmt"
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/device/amiga"
	"github.com/kbdconv/rp2040-keyboard-converter/device/atps2"
	"github.com/kbdconv/rp2040-keyboard-converter/device/m0110"
	"github.com/kbdconv/rp2040-keyboard-converter/device/xt"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/boardconfig"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/diag"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/harness"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/hidreport"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keylayout"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/keymap"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ledsync"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/persist"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/piodispatch"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/ring"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/kbdconv/rp2040-keyboard-converter/pio"
)

// wireReceiver is the common surface of the four protocol receivers
// this harness needs for trace replay: feeding raw ISR words in and
// draining them through OnIRQ exactly as the real dispatcher would.
type wireReceiver interface {
	Engine() pio.Engine
	OnIRQ()
}

// Pipeline wires one protocol's receiver, decoder, keymap engine, HID
// aggregator and LED synchroniser together over the in-memory harness
// fakes, standing in for the firmware's compiled-in board identity.
type Pipeline struct {
	Identity boardconfig.Identity
	Log      *slog.Logger
	Counters *diag.Counters
	Clock    *harness.FakeClock

	Ring      *ring.Buffer
	Receiver  wireReceiver
	decodeFn  func() scancode.Decoder
	decoder   scancode.Decoder
	variantFn func() string
	taskFns   []func(now uint32)
	layout    *keylayout.Table

	amigaReceiver *amiga.Receiver
	txSeen        int

	HID        *harness.FakeHID
	Aggregator *hidreport.Aggregator
	Keymap     *keymap.Keymap
	KeymapEng  *keymap.Engine
	LED        *ledsync.Synchroniser
	Persist    *persist.Facade
	Config     persist.Config
}

// BuildPipeline assembles a full bench pipeline for one protocol.
func BuildPipeline(protocol boardconfig.Protocol, keymapPath string, log *slog.Logger) (*Pipeline, error) {
	identity := boardconfig.ForProtocol(protocol)
	if identity.Protocol == "" {
		return nil, fmt.Errorf("converter: unknown protocol %q", protocol)
	}

	p := &Pipeline{
		Identity: identity,
		Log:      log,
		Counters: &diag.Counters{},
		Clock:    &harness.FakeClock{},
		Ring:     ring.New(),
		layout:   genericLayoutTable(),
	}

	claimer := harness.NewFakeClaimer(4)
	dispatcher := piodispatch.New()

	if err := p.setupReceiver(protocol, claimer, dispatcher); err != nil {
		return nil, err
	}

	p.HID = harness.NewFakeHID()
	p.Aggregator = hidreport.New(p.HID, p.Counters)

	store := harness.NewMemStore()
	keyboardIDHash := persist.HashBytes(identity.IdentityBytes())

	km, err := loadOrFallbackKeymap(keymapPath, identity.Model, log)
	if err != nil {
		return nil, err
	}
	layersHash := persist.HashBytes([]byte(fmt.Sprintf("%s:%d", keymapPath, km.LayerCount())))
	p.Keymap = km

	p.Persist = persist.New(store, keyboardIDHash, layersHash, log)
	p.Config = p.Persist.Load()

	initialStack := keymap.LayerStack{Base: p.Config.Layers.Base, ToggleMask: p.Config.Layers.ToggleMask}
	p.KeymapEng = keymap.NewEngine(km, initialStack, p.Aggregator, p.Aggregator, p.Persist, log)

	p.setupLEDSync(protocol)
	p.Aggregator.SetLockCallback(p.LED.OnHostLockChange)

	return p, nil
}

// loadOrFallbackKeymap loads a keymap document for boardID, falling
// back to a minimal single-layer keymap (every position transparent)
// when none is found on disk, so the harness still exercises the
// receiver/decoder stages without requiring a keymap file.
func loadOrFallbackKeymap(keymapPath, boardID string, log *slog.Logger) (*keymap.Keymap, error) {
	doc, err := boardconfig.LoadKeymapDoc(keymapPath, boardID)
	if err != nil {
		log.Warn("converter: no keymap document found, using a minimal pass-through keymap", "err", err)
		return &keymap.Keymap{Layers: []keymap.Layer{{}}}, nil
	}
	km, err := doc.Compile()
	if err != nil {
		return nil, fmt.Errorf("converter: compile keymap: %w", err)
	}
	return km, nil
}

// genericLayoutTable maps every flat physical-key code to a matrix
// position by splitting the byte into high/low nibbles. Real boards
// compile in a layout-specific table (internal/keylayout.NewTable)
// wired by hand to their actual switch matrix; the bench harness has
// no physical matrix to describe, so this stable, collision-free
// placeholder is enough to drive the keymap engine from a trace.
func genericLayoutTable() *keylayout.Table {
	entries := make(map[uint8]keylayout.Position, 256)
	for code := 0; code < 256; code++ {
		entries[uint8(code)] = keylayout.Position{Row: uint8(code >> 4), Col: uint8(code & 0xF)}
	}
	return keylayout.NewTable(entries)
}

func (p *Pipeline) setupReceiver(protocol boardconfig.Protocol, claimer pio.Claimer, dispatcher *piodispatch.Dispatcher) error {
	switch protocol {
	case boardconfig.ProtocolATPS2:
		r := atps2.New(p.Ring, p.Clock, p.Counters, atps2.Codeset2, p.Log)
		if err := r.Setup(claimer, dispatcher); err != nil {
			return err
		}
		p.Receiver = r
		p.decodeFn = func() scancode.Decoder { return decoderForCodeset(r.Codeset()) }
		p.variantFn = func() string { return fmt.Sprintf("codeset=%d", r.Codeset()) }
		p.taskFns = append(p.taskFns, r.Task)

	case boardconfig.ProtocolXT:
		r := xt.New(p.Ring, p.Clock, p.Counters, p.Log)
		if err := r.Setup(claimer, dispatcher); err != nil {
			return err
		}
		p.Receiver = r
		p.decodeFn = func() scancode.Decoder { return scancode.NewSet1Decoder() }
		p.variantFn = func() string { return r.Variant().String() }

	case boardconfig.ProtocolAmiga:
		r := amiga.New(p.Ring, p.Clock, p.Counters, nil, p.Log)
		if err := r.Setup(claimer, dispatcher); err != nil {
			return err
		}
		p.Receiver = r
		p.amigaReceiver = r
		p.decodeFn = func() scancode.Decoder { return scancode.NewAmigaDecoder() }
		p.taskFns = append(p.taskFns, r.Task)

	case boardconfig.ProtocolM0110:
		r := m0110.New(p.Ring, p.Clock, p.Counters, p.Log)
		if err := r.Setup(claimer, dispatcher); err != nil {
			return err
		}
		p.Receiver = r
		p.decodeFn = func() scancode.Decoder { return scancode.NewM0110Decoder() }
		p.variantFn = func() string { return r.Model().String() }
		p.taskFns = append(p.taskFns, r.Task)

	default:
		return fmt.Errorf("converter: unsupported protocol %q", protocol)
	}
	return nil
}

func (p *Pipeline) setupLEDSync(protocol boardconfig.Protocol) {
	var lp ledsync.Protocol
	var commander ledsync.Commander
	var pulser ledsync.KeyPulser

	switch protocol {
	case boardconfig.ProtocolATPS2:
		lp = ledsync.ProtocolATPS2
		commander = p.Receiver.(*atps2.Receiver)
	case boardconfig.ProtocolXT:
		lp = ledsync.ProtocolXT
	case boardconfig.ProtocolAmiga:
		lp = ledsync.ProtocolAmiga
		pulser = p.Aggregator
	case boardconfig.ProtocolM0110:
		lp = ledsync.ProtocolM0110
	}

	p.LED = ledsync.New(lp, commander, pulser, p.Clock, p.Log)

	if protocol == boardconfig.ProtocolATPS2 {
		p.Receiver.(*atps2.Receiver).SetLockAckCallback(p.LED.AckLockCommand)
	}
	if p.amigaReceiver != nil {
		p.amigaReceiver.SetLEDObserver(p.LED)
	}
}

func decoderForCodeset(cs atps2.Codeset) scancode.Decoder {
	switch cs {
	case atps2.Codeset1:
		return scancode.NewSet1Decoder()
	case atps2.Codeset3:
		return scancode.NewSet3Decoder()
	default:
		return scancode.NewSet2Decoder()
	}
}

// PumpRXWord injects one raw ISR word into the receiver's claimed
// engine and drains it, exactly as the IRQ dispatcher would.
func (p *Pipeline) PumpRXWord(word uint32) {
	eng, ok := p.Receiver.Engine().(*harness.FakeEngine)
	if !ok {
		return
	}
	eng.PushRX(word)
	p.Receiver.OnIRQ()
}

// DrainRing pulls every byte currently queued in the ring buffer through
// the protocol decoder and the keymap engine, returning the decoded
// scancode events for logging.
func (p *Pipeline) DrainRing() []scancode.Event {
	var out []scancode.Event
	for {
		b, ok := p.Ring.Get()
		if !ok {
			return out
		}
		if p.decoder == nil {
			p.decoder = p.decodeFn()
		}
		events, err := p.decoder.Feed(b)
		if err != nil {
			p.Log.Warn("converter: decoder desync", "err", err)
			continue
		}
		for _, ev := range events {
			pos := p.layout.Lookup(ev.Code)
			p.KeymapEng.HandleKeyEvent(pos, ev.Action)
		}
		out = append(out, events...)
	}
}

// pendingTX returns every word pushed to the receiver's TX FIFO since
// the last call, for raw wire-trace logging of host-to-device bytes.
func (p *Pipeline) pendingTX() []byte {
	eng, ok := p.Receiver.Engine().(*harness.FakeEngine)
	if !ok {
		return nil
	}
	all := eng.SentTX()
	if p.txSeen >= len(all) {
		return nil
	}
	fresh := all[p.txSeen:]
	p.txSeen = len(all)
	out := make([]byte, len(fresh))
	for i, w := range fresh {
		out[i] = byte(w)
	}
	return out
}

// Tick advances the fake clock and runs every registered receiver Task
// and the LED synchroniser's pulse poll.
func (p *Pipeline) Tick(deltaMS uint32) {
	p.Clock.Advance(deltaMS)
	now := p.Clock.NowMS()
	for _, fn := range p.taskFns {
		fn(now)
	}
	p.LED.Poll(now)
}

// Variant reports the auto-detected protocol variant, if this
// protocol's receiver surfaces one (spec.md's genuine-vs-clone XT,
// M0110 model family, AT/PS2 scancode set).
func (p *Pipeline) Variant() string {
	if p.variantFn == nil {
		return "n/a"
	}
	return p.variantFn()
}

// Flush sends the current HID report and consumer report if either
// changed since the last Flush.
func (p *Pipeline) Flush() error {
	return p.Aggregator.Flush()
}
