// Package keymap implements the keymap and layer engine of spec.md 4.E:
// layered keymaps with transparency fall-through, momentary/toggle/
// one-shot/switch-to layer actions, a transient Fn action-layer
// overlay, and per-layer shift-override remapping.
package keymap

import (
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/keylayout"
	"github.com/kbdconv/rp2040-keyboard-converter/internal/scancode"
	"github.com/kbdconv/rp2040-keyboard-converter/usbhid"
)

// Kind tags what a keymap entry does when resolved.
type Kind int

const (
	KindTransparent Kind = iota
	KindUsage
	KindConsumer
	KindMomentary
	KindToggle
	KindSwitchTo
	KindOneShot
	KindFn
)

// Entry is one (layer, row, col) cell. Arg is the HID usage/consumer
// code for KindUsage/KindConsumer, or the target layer index n for
// KindMomentary/KindToggle/KindSwitchTo/KindOneShot.
type Entry struct {
	Kind Kind
	Arg  uint16
}

// Transparent is the fall-through sentinel entry.
var Transparent = Entry{Kind: KindTransparent}

// Usage builds a plain HID usage/modifier entry.
func Usage(code uint8) Entry { return Entry{Kind: KindUsage, Arg: uint16(code)} }

// Consumer builds a consumer-page entry.
func Consumer(code uint16) Entry { return Entry{Kind: KindConsumer, Arg: code} }

// Momentary builds a Momentary(n) entry.
func Momentary(n uint8) Entry { return Entry{Kind: KindMomentary, Arg: uint16(n)} }

// Toggle builds a Toggle(n) entry.
func Toggle(n uint8) Entry { return Entry{Kind: KindToggle, Arg: uint16(n)} }

// SwitchTo builds a SwitchTo(n) entry.
func SwitchTo(n uint8) Entry { return Entry{Kind: KindSwitchTo, Arg: uint16(n)} }

// OneShot builds a OneShot(n) entry.
func OneShot(n uint8) Entry { return Entry{Kind: KindOneShot, Arg: uint16(n)} }

// Fn is the transient action-layer selector entry.
var Fn = Entry{Kind: KindFn}

// ShiftOverrideSuppressShift is the flag bit of a shift_override table
// entry that suppresses the Shift modifier for the remapped emission,
// per spec.md 3.
const ShiftOverrideSuppressShift = 0x80

// Layer is one [row][col] grid of entries.
type Layer [keylayout.MaxRows][keylayout.MaxCols]Entry

// Keymap is the compiled, immutable keymap for one keyboard: L layers,
// each R x C, plus an optional per-layer shift-override table and a
// single action-layer overlay consulted while Fn is held.
type Keymap struct {
	Layers         []Layer
	ShiftOverrides []*[256]uint8 // index by layer; nil entry means no overrides for that layer
	ActionLayer    *Layer        // keymap_actions[0], consulted first while Fn is held
}

// LayerCount returns L, the clamp bound for every layer index.
func (k *Keymap) LayerCount() int { return len(k.Layers) }

func (k *Keymap) entryAt(layer int, pos keylayout.Position) Entry {
	if layer < 0 || layer >= len(k.Layers) {
		return Transparent
	}
	return k.Layers[layer][pos.Row][pos.Col]
}

func (k *Keymap) shiftOverride(layer int, usage uint8) (uint8, bool) {
	if layer < 0 || layer >= len(k.ShiftOverrides) {
		return 0, false
	}
	tbl := k.ShiftOverrides[layer]
	if tbl == nil {
		return 0, false
	}
	v := tbl[usage]
	if v == 0 {
		return 0, false
	}
	return v, true
}

// LayerStack is the live layer-selection state, persisted portions per
// spec.md 3 and 4.E.
type LayerStack struct {
	Base          uint8
	MomentaryMask uint32
	ToggleMask    uint32
	OneShot       *uint8
}

// activeLayersHighFirst returns every layer index currently in
// {Base} u mask-bits u OneShot, sorted from highest to lowest, per
// spec.md 3's "effective layer ... is the highest-indexed layer in
// {base} u mask bits u oneshot whose entry ... is non-transparent."
func (s *LayerStack) activeLayersHighFirst(layerCount int) []int {
	// Layer 0 is always an implicit member of the active set: it is the
	// resolution's fallback of last resort, per spec.md 4.E's "If the
	// base layer also holds transparent, the event is discarded" -
	// that check only makes sense if layer 0 is always consulted,
	// independent of which layer s.Base currently points at.
	set := map[int]bool{0: true, int(s.Base): true}
	for n := 0; n < 32; n++ {
		if s.MomentaryMask&(1<<uint(n)) != 0 {
			set[n] = true
		}
		if s.ToggleMask&(1<<uint(n)) != 0 {
			set[n] = true
		}
	}
	if s.OneShot != nil {
		set[int(*s.OneShot)] = true
	}
	out := make([]int, 0, len(set))
	for n := range set {
		if n >= 0 && n < layerCount {
			out = append(out, n)
		}
	}
	// simple descending insertion sort; layer counts are tiny (<=32)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] > out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// HIDSink is the one-directional destination for resolved key
// emissions, satisfied by internal/hidreport.Aggregator. Matches
// spec.md 9's "cyclic references avoided" note: the keymap engine only
// ever calls outward into the aggregator, never the reverse.
type HIDSink interface {
	Press(usage uint8)
	Release(usage uint8)
	ModifierMask() uint8
	SuppressModifier(mask uint8, suppress bool)
}

// ConsumerSink receives consumer-page control emissions.
type ConsumerSink interface {
	PressConsumer(code uint16)
	ReleaseConsumer(code uint16)
}

// PersistSink is notified whenever Base or ToggleMask changes, per
// spec.md 4.E's persistence contract.
type PersistSink interface {
	PersistLayerState(base uint8, toggleMask uint32)
}

// Engine drives an immutable Keymap against a live LayerStack, emitting
// resolved key actions to a HIDSink/ConsumerSink and persisting
// base/toggle changes via a PersistSink.
type Engine struct {
	km       *Keymap
	stack    LayerStack
	hid      HIDSink
	consumer ConsumerSink
	persist  PersistSink
	log      *slog.Logger

	fnHeld bool
	// pressedLayer remembers which layer each currently-held physical
	// position resolved through, so its Release uses the same usage
	// and shift-suppress state as its Make even if the layer stack
	// changes in between (e.g. a Momentary layer released first).
	pressedLayer map[keylayout.Position]pressRecord
}

type pressRecord struct {
	usage         uint8
	isConsumer    bool
	consumerUsage uint16
	suppressed    bool
	isLayerAction bool
	layerKind     Kind
	layerArg      uint16
}

// NewEngine builds an engine over km, starting from initial layer
// state, emitting to the given sinks. log may be nil.
func NewEngine(km *Keymap, initial LayerStack, hid HIDSink, consumer ConsumerSink, persist PersistSink, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		km:           km,
		stack:        initial,
		hid:          hid,
		consumer:     consumer,
		persist:      persist,
		log:          log,
		pressedLayer: make(map[keylayout.Position]pressRecord),
	}
}

// Stack returns a copy of the live layer stack, for persistence or
// diagnostics.
func (e *Engine) Stack() LayerStack { return e.stack }

func (e *Engine) clampLayer(n uint8) (uint8, bool) {
	if int(n) >= e.km.LayerCount() {
		e.log.Warn("keymap: layer index out of bounds, ignoring", "layer", n, "count", e.km.LayerCount())
		return 0, false
	}
	return n, true
}

// resolve finds the winning entry and the layer index it came from, for
// a given physical position, honoring the Fn overlay.
func (e *Engine) resolve(pos keylayout.Position) (Entry, int) {
	if e.fnHeld && e.km.ActionLayer != nil {
		entry := e.km.ActionLayer[pos.Row][pos.Col]
		if entry.Kind != KindTransparent {
			return entry, -1 // -1: the action overlay has no shift-override table of its own
		}
	}
	for _, layer := range e.stack.activeLayersHighFirst(e.km.LayerCount()) {
		entry := e.km.entryAt(layer, pos)
		if entry.Kind != KindTransparent {
			return entry, layer
		}
	}
	e.log.Error("keymap: base layer resolved transparent, misbuilt keymap", "row", pos.Row, "col", pos.Col)
	return Transparent, -1
}

// HandleKeyEvent processes one physical-key transition, per spec.md
// 4.E's action table.
func (e *Engine) HandleKeyEvent(pos keylayout.Position, action scancode.Action) {
	if action == scancode.Make {
		e.handleMake(pos)
	} else {
		e.handleBreak(pos)
	}
}

func (e *Engine) handleMake(pos keylayout.Position) {
	entry, layer := e.resolve(pos)

	switch entry.Kind {
	case KindTransparent:
		return

	case KindFn:
		e.fnHeld = true
		e.pressedLayer[pos] = pressRecord{isLayerAction: true, layerKind: KindFn}

	case KindMomentary:
		if n, ok := e.clampLayer(uint8(entry.Arg)); ok {
			e.stack.MomentaryMask |= 1 << n
		}
		e.pressedLayer[pos] = pressRecord{isLayerAction: true, layerKind: KindMomentary, layerArg: entry.Arg}

	case KindToggle:
		if n, ok := e.clampLayer(uint8(entry.Arg)); ok {
			e.stack.ToggleMask ^= 1 << n
			e.notifyPersist()
		}
		e.pressedLayer[pos] = pressRecord{isLayerAction: true}

	case KindSwitchTo:
		if n, ok := e.clampLayer(uint8(entry.Arg)); ok {
			e.stack.Base = n
			e.stack.MomentaryMask = 0
			e.stack.ToggleMask = 0
			e.notifyPersist()
		}
		e.pressedLayer[pos] = pressRecord{isLayerAction: true}

	case KindOneShot:
		if n, ok := e.clampLayer(uint8(entry.Arg)); ok {
			v := n
			e.stack.OneShot = &v
		}
		e.pressedLayer[pos] = pressRecord{isLayerAction: true}

	case KindConsumer:
		code := entry.Arg
		if e.consumer != nil {
			e.consumer.PressConsumer(code)
		}
		e.pressedLayer[pos] = pressRecord{isConsumer: true, consumerUsage: code}
		e.consumeOneShot()

	case KindUsage:
		usage := uint8(entry.Arg)
		suppressed := false
		// A shift-override remap applies only while a Shift modifier is held.
		if target, ok := e.km.shiftOverride(layer, usage); ok && e.hid.ModifierMask()&usbhid.AnyShift != 0 {
			suppress := target&ShiftOverrideSuppressShift != 0
			usage = target &^ ShiftOverrideSuppressShift
			if suppress && e.hid.ModifierMask()&usbhid.AnyShift != 0 {
				e.hid.SuppressModifier(usbhid.AnyShift, true)
				suppressed = true
			}
		}
		e.hid.Press(usage)
		e.pressedLayer[pos] = pressRecord{usage: usage, suppressed: suppressed}
		e.consumeOneShot()
	}
}

func (e *Engine) handleBreak(pos keylayout.Position) {
	rec, ok := e.pressedLayer[pos]
	if !ok {
		// Released without a matching tracked press (e.g. boot-time
		// stray break); nothing to undo.
		return
	}
	delete(e.pressedLayer, pos)

	switch {
	case rec.isLayerAction:
		e.releaseLayerAction(rec)
	case rec.isConsumer:
		if e.consumer != nil {
			e.consumer.ReleaseConsumer(rec.consumerUsage)
		}
	default:
		e.hid.Release(rec.usage)
		if rec.suppressed {
			e.hid.SuppressModifier(usbhid.AnyShift, false)
		}
	}
}

// releaseLayerAction undoes whichever layer-action entry produced this
// press, using the Kind/Arg captured in pressedLayer at press time
// rather than re-resolving the position now: the layer stack may have
// changed since the press (e.g. an overlapping Momentary layer
// released out of order), and re-resolving would undo whatever entry
// the position means *now*, not what it meant when pressed.
func (e *Engine) releaseLayerAction(rec pressRecord) {
	switch rec.layerKind {
	case KindFn:
		e.fnHeld = false
	case KindMomentary:
		if n, ok := e.clampLayer(uint8(rec.layerArg)); ok {
			e.stack.MomentaryMask &^= 1 << n
		}
	}
	// Toggle/SwitchTo/OneShot ignore release per spec.md 4.E.
}

// consumeOneShot clears an active one-shot layer after the next
// non-layer-action key event, per spec.md 4.E: "consumed by the next
// non-layer-action key event."
func (e *Engine) consumeOneShot() {
	e.stack.OneShot = nil
}

func (e *Engine) notifyPersist() {
	if e.persist != nil {
		e.persist.PersistLayerState(e.stack.Base, e.stack.ToggleMask)
	}
}
