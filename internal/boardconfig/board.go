// Package boardconfig holds the compile-time keyboard identity of
// spec.md 6: "A single keyboard identity (make/model/protocol/codeset/
// layout) ... selects which receivers to compile in. No runtime
// selection." Each board_*.go file under this package is gated by a Go
// build tag and supplies the one Identity value linked into that
// firmware image; cmd/converter's bench harness, which must be able to
// replay traces for any protocol from one binary, is the sole
// exception and selects an Identity at runtime instead of via build
// tags (see boardconfig.ForProtocol).
package boardconfig

import "github.com/kbdconv/rp2040-keyboard-converter/pio"

// Protocol names the wire protocol family a board speaks.
type Protocol string

const (
	ProtocolATPS2 Protocol = "at-ps2"
	ProtocolXT    Protocol = "xt"
	ProtocolAmiga Protocol = "amiga"
	ProtocolM0110 Protocol = "m0110"
)

// Identity is a keyboard's compile-time identity: make/model/protocol/
// codeset/layout, plus an optional mouse protocol (always "at-ps2" per
// spec.md 6 when present).
type Identity struct {
	Make          string
	Model         string
	Protocol      Protocol
	Codeset       string // scancode set for at-ps2/xt boards; empty for amiga/m0110
	Layout        string
	MouseProtocol Protocol // empty if no mouse is wired
}

// PIOProgram returns the pio.Program this identity's receiver claims.
func (id Identity) PIOProgram() pio.Program {
	switch id.Protocol {
	case ProtocolATPS2:
		return pio.ProgramATPS2
	case ProtocolXT:
		return pio.ProgramXT
	case ProtocolAmiga:
		return pio.ProgramAmiga
	case ProtocolM0110:
		return pio.ProgramM0110
	default:
		return ""
	}
}

// IdentityBytes serializes the fields that participate in the
// keyboard_id_hash, per spec.md 6's persisted state layout. The layout
// is deliberately excluded: remapping a physical layout does not
// invalidate saved layer/toggle state the way changing protocol or
// codeset does.
func (id Identity) IdentityBytes() []byte {
	s := string(id.Make) + "\x00" + id.Model + "\x00" + string(id.Protocol) + "\x00" + id.Codeset
	return []byte(s)
}

// Current is set by exactly one board_*.go build-tag file, selected at
// compile time by the build's board_* tag.
var Current Identity

// ForProtocol returns a synthetic Identity for the bench harness's
// runtime protocol selection (cmd/converter --protocol flag), since the
// harness is the one binary allowed to pick a protocol outside of a
// build tag.
func ForProtocol(p Protocol) Identity {
	switch p {
	case ProtocolATPS2:
		return Identity{Make: "generic", Model: "at-ps2-bench", Protocol: ProtocolATPS2, Codeset: "set2", Layout: "ansi104"}
	case ProtocolXT:
		return Identity{Make: "generic", Model: "xt-bench", Protocol: ProtocolXT, Codeset: "set1", Layout: "ansi83"}
	case ProtocolAmiga:
		return Identity{Make: "commodore", Model: "amiga-bench", Protocol: ProtocolAmiga, Layout: "ansi94"}
	case ProtocolM0110:
		return Identity{Make: "apple", Model: "m0110-bench", Protocol: ProtocolM0110, Layout: "ansi81"}
	default:
		return Identity{}
	}
}
