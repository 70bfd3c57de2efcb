//go:build board_amiga

package boardconfig

func init() {
	Current = Identity{
		Make:     "commodore",
		Model:    "a500-internal",
		Protocol: ProtocolAmiga,
		Layout:   "ansi94",
	}
}
