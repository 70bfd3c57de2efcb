// Package persist implements the Persistent Config Facade of spec.md
// 4.H: a thin, single-writer wrapper over an external kvstore.Store,
// validating the persisted layer state on load against a dual hash
// over keyboard identity and layer definitions (spec.md 6's "Persisted
// state layout").
package persist

import (
	"encoding/binary"
	"log/slog"

	"github.com/kbdconv/rp2040-keyboard-converter/internal/coreerr"
	"github.com/kbdconv/rp2040-keyboard-converter/kvstore"
	"golang.org/x/crypto/blake2b"
)

// schemaVersion is the only version this Facade accepts on load, per
// spec.md 6: "Version 3. Any other version -> factory defaults."
const schemaVersion = 3

const (
	keyLayerState = "layer_state"
	keySettings   = "settings"
)

const layerStateRecordLen = 1 + 4 + 8 + 8 + 1 // base, toggle_mask, kid_hash, lmap_hash, version
const settingsRecordLen = 1 + 1               // log_level, led_brightness

// LayerState is the persisted portion of internal/keymap.LayerStack:
// only Base and ToggleMask, since Momentary and OneShot are transient
// and never persisted (spec.md 4.E).
type LayerState struct {
	Base       uint8
	ToggleMask uint32
}

// Settings is the persisted device-wide configuration unrelated to
// layers.
type Settings struct {
	LogLevel      uint8
	LEDBrightness uint8 // 0..10
}

// Config is the full persisted configuration handled by one Load/Store
// round trip.
type Config struct {
	Layers   LayerState
	Settings Settings
}

// DefaultConfig is returned whenever validation fails, per spec.md 7's
// ConfigMismatch handling: "factory-reset that portion; keep other
// settings." Layers and Settings are validated and reset independently.
var DefaultConfig = Config{
	Layers:   LayerState{Base: 0, ToggleMask: 0},
	Settings: Settings{LogLevel: 1, LEDBrightness: 5},
}

// HashBytes computes the dual-hash digest used for keyboard_id_hash and
// layers_hash: a blake2b-256 digest truncated to its first 8 bytes.
// Grounded on the teacher's preference for golang.org/x/crypto hashing
// over ad hoc stdlib checksums elsewhere in its config-validation code.
func HashBytes(b []byte) uint64 {
	sum := blake2b.Sum256(b)
	return binary.BigEndian.Uint64(sum[:8])
}

// Facade is the single-writer (main task only) wrapper over an external
// KV store.
type Facade struct {
	store          kvstore.Store
	keyboardIDHash uint64
	layersHash     uint64
	log            *slog.Logger
}

// New builds a Facade. keyboardIDHash and layersHash are computed once
// at startup from the compiled-in board identity and keymap (see
// internal/boardconfig) and used to validate persisted layer state.
func New(store kvstore.Store, keyboardIDHash, layersHash uint64, log *slog.Logger) *Facade {
	if log == nil {
		log = slog.Default()
	}
	return &Facade{store: store, keyboardIDHash: keyboardIDHash, layersHash: layersHash, log: log}
}

// Load reads and validates persisted configuration. Any read error,
// length mismatch, version mismatch, or hash mismatch in the layer
// state portion factory-resets only that portion; the settings portion
// is validated and reset independently, per spec.md 7.
func (f *Facade) Load() Config {
	cfg := DefaultConfig

	if raw, ok, err := f.store.Read(keyLayerState); err == nil && ok {
		if ls, valid := f.decodeLayerState(raw); valid {
			cfg.Layers = ls
		} else {
			f.log.Warn("persist: layer state failed validation, using factory defaults",
				"err", coreerr.ConfigMismatch(keyLayerState))
		}
	}

	if raw, ok, err := f.store.Read(keySettings); err == nil && ok {
		if s, valid := decodeSettings(raw); valid {
			cfg.Settings = s
		}
	}

	return cfg
}

func (f *Facade) decodeLayerState(raw []byte) (LayerState, bool) {
	if len(raw) != layerStateRecordLen {
		return LayerState{}, false
	}
	base := raw[0]
	toggleMask := binary.BigEndian.Uint32(raw[1:5])
	kidHash := binary.BigEndian.Uint64(raw[5:13])
	lmapHash := binary.BigEndian.Uint64(raw[13:21])
	version := raw[21]

	if version != schemaVersion {
		return LayerState{}, false
	}
	if kidHash != f.keyboardIDHash || lmapHash != f.layersHash {
		return LayerState{}, false
	}
	return LayerState{Base: base, ToggleMask: toggleMask}, true
}

func decodeSettings(raw []byte) (Settings, bool) {
	if len(raw) != settingsRecordLen {
		return Settings{}, false
	}
	return Settings{LogLevel: raw[0], LEDBrightness: raw[1]}, true
}

func (f *Facade) encodeLayerState(ls LayerState) []byte {
	raw := make([]byte, layerStateRecordLen)
	raw[0] = ls.Base
	binary.BigEndian.PutUint32(raw[1:5], ls.ToggleMask)
	binary.BigEndian.PutUint64(raw[5:13], f.keyboardIDHash)
	binary.BigEndian.PutUint64(raw[13:21], f.layersHash)
	raw[21] = schemaVersion
	return raw
}

func encodeSettings(s Settings) []byte {
	return []byte{s.LogLevel, s.LEDBrightness}
}

// Store writes the full config, tagging the layer-state record with the
// current keyboard/layers hashes and schema version.
func (f *Facade) Store(cfg Config) error {
	if err := f.store.Write(keyLayerState, f.encodeLayerState(cfg.Layers)); err != nil {
		return err
	}
	return f.store.Write(keySettings, encodeSettings(cfg.Settings))
}

// PersistLayerState implements keymap.PersistSink: it is called on
// every change to base or toggle_mask, writing only the layer-state
// record (spec.md 4.E's persistence contract) and leaving settings
// untouched.
func (f *Facade) PersistLayerState(base uint8, toggleMask uint32) {
	ls := LayerState{Base: base, ToggleMask: toggleMask}
	if err := f.store.Write(keyLayerState, f.encodeLayerState(ls)); err != nil {
		f.log.Error("persist: failed to write layer state", "err", err)
	}
}

// SetLogLevel and SetLEDBrightness implement the set(field, value) half
// of spec.md 4.H for the settings record; there are no per-field
// getters, settings are read from the Config that Load returns. Layer
// state has no such setter since it is only ever mutated through
// PersistLayerState.

func (f *Facade) SetLogLevel(cfg *Config, level uint8) error {
	cfg.Settings.LogLevel = level
	return f.store.Write(keySettings, encodeSettings(cfg.Settings))
}

func (f *Facade) SetLEDBrightness(cfg *Config, brightness uint8) error {
	if brightness > 10 {
		brightness = 10
	}
	cfg.Settings.LEDBrightness = brightness
	return f.store.Write(keySettings, encodeSettings(cfg.Settings))
}
