//go:build board_m0110

package boardconfig

func init() {
	Current = Identity{
		Make:     "apple",
		Model:    "m0110a",
		Protocol: ProtocolM0110,
		Layout:   "ansi81",
	}
}
